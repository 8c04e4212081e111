// Package digest provides the canonical content digest type used throughout
// the build core, with string form "<algorithm>:<lowercase-hex>". Rather
// than hand-rolling this encoding, it wraps
// github.com/opencontainers/go-digest, whose wire format already matches and
// whose validation/parsing machinery is battle-tested.
package digest

import (
	"crypto/sha256"
	"hash"
	"io"

	godigest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// Algorithm identifies a digest algorithm. Only sha256 is supported, but the
// type is kept distinct from a bare string for clarity at call sites.
type Algorithm string

// SHA256 is the only supported algorithm.
const SHA256 Algorithm = Algorithm(godigest.SHA256)

// Digest is a content digest with canonical string form
// "<algorithm>:<lowercase-hex>".
type Digest struct {
	inner godigest.Digest
}

// Zero is the 32-zero-byte sha256 digest used as the parent digest when
// preparing a snapshot in a context with no prior head snapshot.
var Zero = FromBytes(SHA256, make([]byte, 32))

// FromBytes constructs a Digest from raw hash output bytes.
func FromBytes(algorithm Algorithm, raw []byte) Digest {
	return Digest{inner: godigest.NewDigestFromEncoded(godigest.Algorithm(algorithm), encodeHex(raw))}
}

// FromContent computes the sha256 digest of the provided content.
func FromContent(content []byte) Digest {
	return Digest{inner: godigest.FromBytes(content)}
}

// NewHasher returns a streaming hash.Hash for the given algorithm.
func NewHasher(algorithm Algorithm) (hash.Hash, error) {
	if algorithm != SHA256 {
		return nil, errors.Errorf("unsupported digest algorithm: %s", algorithm)
	}
	return sha256.New(), nil
}

// FromReader streams r through a sha256 hasher and returns the resulting
// digest along with the number of bytes read.
func FromReader(r io.Reader) (Digest, int64, error) {
	hasher := sha256.New()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return Digest{}, 0, errors.Wrap(err, "unable to stream content for hashing")
	}
	return FromBytes(SHA256, hasher.Sum(nil)), n, nil
}

// Parse parses a canonical digest string. Only "sha256:" followed by exactly
// 64 lowercase hex characters is accepted.
func Parse(s string) (Digest, error) {
	d, err := godigest.Parse(s)
	if err != nil {
		return Digest{}, errors.Wrap(err, "invalid digest format")
	}
	if d.Algorithm() != godigest.SHA256 {
		return Digest{}, errors.Errorf("unsupported digest algorithm: %s", d.Algorithm())
	}
	if len(d.Encoded()) != 64 || !isLowerHex(d.Encoded()) {
		return Digest{}, errors.New("invalid digest format: expected 64 lowercase hex characters")
	}
	return Digest{inner: d}, nil
}

// String returns the canonical "<algorithm>:<lowercase-hex>" form.
func (d Digest) String() string {
	return d.inner.String()
}

// Algorithm returns the digest's algorithm.
func (d Digest) Algorithm() Algorithm {
	return Algorithm(d.inner.Algorithm())
}

// Bytes returns the raw digest bytes.
func (d Digest) Bytes() []byte {
	raw, err := decodeHex(d.inner.Encoded())
	if err != nil {
		// The digest was constructed through this package, so its encoded
		// portion is always valid hex.
		panic(err)
	}
	return raw
}

// IsZero reports whether d is the zero-value Digest (no digest set).
func (d Digest) IsZero() bool {
	return d.inner == ""
}

// Equal reports whether two digests are identical.
func (d Digest) Equal(other Digest) bool {
	return d.inner == other.inner
}

// MarshalText implements encoding.TextMarshaler, encoding Digest as its
// canonical string form so it can be used directly as a JSON string.
func (d Digest) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Digest{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func encodeHex(raw []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(raw)*2)
	for i, b := range raw {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errors.New("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	default:
		return 0, errors.Errorf("invalid hex character: %q", c)
	}
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
