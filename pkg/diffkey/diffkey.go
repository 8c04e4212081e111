// Package diffkey computes diff keys: canonical Merkle digests over sets of
// Diff records. The encoding is deliberately low-level byte manipulation
// rather than a general-purpose codec, since the wire form must be
// reproducible byte-for-byte across producers. Anything that carries
// map-ordering or struct-tag ambiguity would break that.
package diffkey

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/container-build/buildcore/pkg/digest"
	"github.com/container-build/buildcore/pkg/diffmodel"
)

// Prefix bytes used to domain-separate leaf, inner, and empty-tree hashes,
// so that a leaf hash can never collide with an inner node hash or the
// empty-tree sentinel.
const (
	tagLeaf  byte = 0x4C
	tagInner byte = 0x49
	tagEmpty byte = 0x45
)

// Per-record version and variant tag bytes.
const (
	recordVersion byte = 0x01

	tagAdded    byte = 0x41
	tagModified byte = 0x4D
	tagDeleted  byte = 0x44
)

// missing is the ASCII marker for an absent scalar field.
const missing = "-"

// writeField appends a length-prefixed field: a 4-byte big-endian length
// followed by the raw bytes, with no separator or escaping.
func writeField(buf *bytes.Buffer, data []byte) {
	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(data)))
	buf.Write(lengthPrefix[:])
	buf.Write(data)
}

func writeFieldString(buf *bytes.Buffer, s string) {
	writeField(buf, []byte(s))
}

func decimalOrDash(v *uint32) string {
	if v == nil {
		return missing
	}
	return strconv.FormatUint(uint64(*v), 10)
}

func pathOrDash(p []byte, present bool) []byte {
	if !present {
		return []byte(missing)
	}
	return p
}

// XattrsHash computes the canonical hash of an xattr map: xattr keys
// are sorted by unsigned-byte lexicographic order, and for each sorted key
// the concatenation len32_be(key) || key || len32_be(value) || value is fed
// into a single SHA-256 hash, rendered as lowercase hex. Absent or empty
// xattrs hash to SHA-256("").
func XattrsHash(xattrs map[string][]byte) string {
	keys := make([]string, 0, len(xattrs))
	for k := range xattrs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare([]byte(keys[i]), []byte(keys[j])) < 0
	})

	var buf bytes.Buffer
	for _, k := range keys {
		writeFieldString(&buf, k)
		writeField(&buf, xattrs[k])
	}

	sum := sha256.Sum256(buf.Bytes())
	return hex(sum[:])
}

func contentHashField(contentHash []byte) string {
	if len(contentHash) == 0 {
		return "ch:" + missing
	}
	return "ch:" + hex(contentHash)
}

func xattrsField(xattrs map[string][]byte) string {
	return "xh:" + XattrsHash(xattrs)
}

// EncodeRecord produces the canonical per-record byte sequence for d.
// Callers are expected to have already resolved d.ContentHash before calling
// this function.
func EncodeRecord(d *diffmodel.Diff) ([]byte, error) {
	if err := d.EnsureValid(); err != nil {
		return nil, errors.Wrap(err, "invalid diff record")
	}

	var buf bytes.Buffer
	buf.WriteByte(recordVersion)

	switch d.Variant {
	case diffmodel.VariantAdded:
		buf.WriteByte(tagAdded)
		writeField(&buf, d.Path.Bytes())
		writeFieldString(&buf, d.Node.String())
		writeFieldString(&buf, decimalOrDash(d.Permissions))
		writeFieldString(&buf, decimalOrDash(d.UID))
		writeFieldString(&buf, decimalOrDash(d.GID))
		writeField(&buf, pathOrDash(d.LinkTarget.Bytes(), d.HasLinkTarget))
		writeFieldString(&buf, xattrsField(d.Xattrs))
		writeFieldString(&buf, contentHashField(d.ContentHash))
	case diffmodel.VariantModified:
		buf.WriteByte(tagModified)
		writeField(&buf, d.Path.Bytes())
		writeFieldString(&buf, d.Kind.String())
		writeFieldString(&buf, decimalOrDash(d.Permissions))
		writeFieldString(&buf, decimalOrDash(d.UID))
		writeFieldString(&buf, decimalOrDash(d.GID))
		writeField(&buf, pathOrDash(d.LinkTarget.Bytes(), d.HasLinkTarget))
		writeFieldString(&buf, xattrsField(d.Xattrs))
		writeFieldString(&buf, contentHashField(d.ContentHash))
	case diffmodel.VariantDeleted:
		buf.WriteByte(tagDeleted)
		writeField(&buf, d.Path.Bytes())
		if d.BaseNodeKnown {
			writeFieldString(&buf, d.BaseNodeType.String())
		} else {
			writeFieldString(&buf, missing)
		}
		if d.BaseDirectoryWasNonEmpty {
			writeFieldString(&buf, "opq:1")
		} else {
			writeFieldString(&buf, "opq:0")
		}
	default:
		return nil, errors.New("unknown diff variant")
	}

	return buf.Bytes(), nil
}

// leafHash computes SHA-256(0x4C || record).
func leafHash(record []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{tagLeaf})
	h.Write(record)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// innerHash computes SHA-256(0x49 || left || right).
func innerHash(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{tagInner})
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// emptyRoot computes SHA-256(0x45 || "empty"), the root of a zero-record
// tree.
func emptyRoot() [32]byte {
	h := sha256.New()
	h.Write([]byte{tagEmpty})
	h.Write([]byte("empty"))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// MerkleRoot folds a set of already-encoded per-record byte sequences into a
// single Merkle root: records are sorted by unsigned-byte
// lexicographic order, hashed into leaves, and folded pairwise (duplicating
// a dangling last node at odd levels) until one node remains.
func MerkleRoot(records [][]byte) [32]byte {
	if len(records) == 0 {
		return emptyRoot()
	}

	sorted := make([][]byte, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})

	level := make([][32]byte, len(sorted))
	for i, record := range sorted {
		level[i] = leafHash(record)
	}

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, innerHash(level[i], level[i+1]))
			} else {
				next = append(next, innerHash(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}

// Compute derives the final diff key from a set of Diff records, excluding
// socket/device entries, folding the remainder into a Merkle root, and
// domain-separating the result against coupleToBase and the base snapshot's
// digest.
//
// baseDigest/baseDigestPresent describe the base snapshot referenced by the
// build step that produced diffs; they are only consulted when coupleToBase
// is true.
func Compute(diffs []*diffmodel.Diff, coupleToBase bool, baseDigest digest.Digest, baseDigestPresent bool) (digest.Digest, error) {
	records := make([][]byte, 0, len(diffs))
	for _, d := range diffs {
		if d.IsExcluded() {
			continue
		}
		record, err := EncodeRecord(d)
		if err != nil {
			return digest.Digest{}, err
		}
		records = append(records, record)
	}

	root := MerkleRoot(records)

	var baseTag string
	switch {
	case !coupleToBase:
		baseTag = "anybase"
	case baseDigestPresent:
		baseTag = baseDigest.String()
	default:
		baseTag = "scratch"
	}

	prefix := "diffkey:v1|" + baseTag + "|"

	h := sha256.New()
	h.Write([]byte(prefix))
	h.Write(root[:])

	return digest.FromBytes(digest.SHA256, h.Sum(nil)), nil
}

// Parse validates and parses a diff key string, accepting only "sha256:"
// followed by exactly 64 lowercase hex characters.
func Parse(s string) (digest.Digest, error) {
	return digest.Parse(s)
}

func hex(raw []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(raw)*2)
	for i, b := range raw {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
