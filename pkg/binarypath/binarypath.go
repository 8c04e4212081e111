// Package binarypath provides BinaryPath, a byte-preserving filesystem path
// type. Raw bytes are always preserved verbatim (non-UTF-8 is permitted),
// since paths returned by the kernel need not be valid UTF-8 and any lossy
// conversion would change the identity of the files a diff describes.
package binarypath

import (
	"bytes"
	"net/url"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Separator is the path component separator.
const Separator = '/'

// BinaryPath is an ordered sequence of bytes representing a filesystem path.
// It is a value type: all operations return new values rather than mutating
// the receiver.
type BinaryPath struct {
	raw []byte
}

// Empty is the zero-value BinaryPath (an empty path).
var Empty = BinaryPath{}

// FromString constructs a BinaryPath from a UTF-8 string.
func FromString(s string) BinaryPath {
	return BinaryPath{raw: []byte(s)}
}

// FromBytes constructs a BinaryPath from raw bytes, which need not be valid
// UTF-8.
func FromBytes(raw []byte) BinaryPath {
	clone := make([]byte, len(raw))
	copy(clone, raw)
	return BinaryPath{raw: clone}
}

// FromCString constructs a BinaryPath from a null-terminated byte sequence,
// truncating at (and excluding) the first NUL byte.
func FromCString(raw []byte) BinaryPath {
	if idx := bytes.IndexByte(raw, 0); idx != -1 {
		raw = raw[:idx]
	}
	return FromBytes(raw)
}

// FromURL constructs a BinaryPath from a host URL's decoded path component.
func FromURL(u *url.URL) BinaryPath {
	return FromString(u.Path)
}

// Bytes returns the raw bytes of the path. The caller must not mutate the
// returned slice.
func (p BinaryPath) Bytes() []byte {
	return p.raw
}

// IsValidUTF8 reports whether the path's raw bytes are valid UTF-8.
func (p BinaryPath) IsValidUTF8() bool {
	return utf8.Valid(p.raw)
}

// String returns the path as a string. If the raw bytes aren't valid UTF-8,
// the result is a lossy, best-effort conversion; callers that need an
// encoding-safe representation should use the MarshalJSON/UnmarshalJSON pair
// instead, which switch to a binary blob encoding for non-UTF-8 paths.
func (p BinaryPath) String() string {
	return string(p.raw)
}

// IsEmpty reports whether the path has zero length.
func (p BinaryPath) IsEmpty() bool {
	return len(p.raw) == 0
}

// Append inserts a '/' separator (if the receiver is non-empty and doesn't
// already end in one) and appends component, stripping one leading '/' from
// component first.
func (p BinaryPath) Append(component BinaryPath) BinaryPath {
	comp := component.raw
	if len(comp) > 0 && comp[0] == Separator {
		comp = comp[1:]
	}

	if len(p.raw) == 0 {
		return FromBytes(comp)
	}

	result := make([]byte, 0, len(p.raw)+1+len(comp))
	result = append(result, p.raw...)
	if result[len(result)-1] != Separator {
		result = append(result, Separator)
	}
	result = append(result, comp...)
	return BinaryPath{raw: result}
}

// DeletingLastPathComponent returns the path with its last path component
// removed. It returns "/" if the last separator is at byte index 0, and an
// empty path if there is no separator at all.
func (p BinaryPath) DeletingLastPathComponent() BinaryPath {
	idx := bytes.LastIndexByte(p.raw, Separator)
	if idx == -1 {
		return Empty
	}
	if idx == 0 {
		return FromBytes([]byte{Separator})
	}
	return FromBytes(p.raw[:idx])
}

// LastPathComponent returns the final path component.
func (p BinaryPath) LastPathComponent() BinaryPath {
	idx := bytes.LastIndexByte(p.raw, Separator)
	if idx == -1 {
		return p
	}
	return FromBytes(p.raw[idx+1:])
}

// Components splits the path on '/' and discards empty segments.
func (p BinaryPath) Components() []BinaryPath {
	parts := bytes.Split(p.raw, []byte{Separator})
	result := make([]BinaryPath, 0, len(parts))
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		result = append(result, FromBytes(part))
	}
	return result
}

// HasPrefix reports whether the path's raw bytes start with prefix's raw
// bytes.
func (p BinaryPath) HasPrefix(prefix BinaryPath) bool {
	return bytes.HasPrefix(p.raw, prefix.raw)
}

// HasSuffix reports whether the path's raw bytes end with suffix's raw
// bytes.
func (p BinaryPath) HasSuffix(suffix BinaryPath) bool {
	return bytes.HasSuffix(p.raw, suffix.raw)
}

// RelativePath returns the bytes of p after a "base + '/'" prefix. It returns
// an empty (non-nil-distinguishable via the bool) path if p equals base, and
// ok=false if p is not rooted at base at all.
func (p BinaryPath) RelativePath(base BinaryPath) (BinaryPath, bool) {
	if bytes.Equal(p.raw, base.raw) {
		return Empty, true
	}
	withSeparator := base.raw
	if len(withSeparator) == 0 || withSeparator[len(withSeparator)-1] != Separator {
		withSeparator = append(append([]byte{}, base.raw...), Separator)
	}
	if !bytes.HasPrefix(p.raw, withSeparator) {
		return BinaryPath{}, false
	}
	return FromBytes(p.raw[len(withSeparator):]), true
}

// Compare performs unsigned-byte lexicographic comparison, returning a value
// <0, 0, or >0 the way bytes.Compare does.
func (p BinaryPath) Compare(other BinaryPath) int {
	return bytes.Compare(p.raw, other.raw)
}

// Equal reports whether two paths have identical raw bytes.
func (p BinaryPath) Equal(other BinaryPath) bool {
	return bytes.Equal(p.raw, other.raw)
}

// WithCString invokes body with a null-terminated view of the path's bytes.
func (p BinaryPath) WithCString(body func([]byte) error) error {
	if bytes.IndexByte(p.raw, 0) != -1 {
		return errors.New("path contains embedded NUL byte")
	}
	view := make([]byte, len(p.raw)+1)
	copy(view, p.raw)
	return body(view)
}

// jsonBinaryBlob is the wire shape used when raw bytes aren't valid UTF-8.
type jsonBinaryBlob struct {
	Binary []byte `json:"binary"`
}

// MarshalText implements encoding.TextMarshaler. It is only safe to use when
// IsValidUTF8 is true; MarshalJSON handles the general case and should be
// preferred by callers that can't guarantee UTF-8 validity.
func (p BinaryPath) MarshalText() ([]byte, error) {
	if !p.IsValidUTF8() {
		return nil, errors.New("path is not valid UTF-8; use MarshalJSON instead")
	}
	return p.raw, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *BinaryPath) UnmarshalText(text []byte) error {
	*p = FromBytes(text)
	return nil
}
