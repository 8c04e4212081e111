// Package platform wraps the OCI image-spec Platform type and provides the
// canonical JSON encoding cache digest derivation requires. Rather than
// modeling Platform as a bespoke struct, this package reuses
// github.com/opencontainers/image-spec's specs-go/v1.Platform directly, so a
// cache key's platform field is wire-compatible with real image manifests
// rather than an invented shape.
package platform

import (
	"bytes"
	"encoding/json"
	"sort"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// Platform identifies the OS/architecture pair (and optional variant/OS
// version/features) a build operation executes against.
type Platform = v1.Platform

// New constructs a Platform for the given OS and architecture, leaving the
// optional fields unset.
func New(os, architecture string) Platform {
	return Platform{OS: os, Architecture: architecture}
}

// EncodeCanonical renders p as canonical JSON (RFC 8785): object keys
// sorted, no insignificant whitespace, and optional fields absent entirely
// rather than encoded as null (v1.Platform tags them omitempty). The
// ordinary encoding/json marshal establishes field presence and escaping;
// jsoncanonicalizer.Transform then normalizes key ordering and number
// formatting so that two processes observing the same logical platform
// always derive the same cache digest input.
func EncodeCanonical(p Platform) ([]byte, error) {
	// Canonicalization sorts object member names but never reorders array
	// elements, so osFeatures must be sorted here for two platforms that
	// differ only in feature order to encode identically. Sort a copy: p is
	// a value, but its slice still aliases the caller's backing array.
	if len(p.OSFeatures) > 0 {
		features := make([]string, len(p.OSFeatures))
		copy(features, p.OSFeatures)
		sort.Strings(features)
		p.OSFeatures = features
	}

	naive, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal platform")
	}

	canonical, err := jsoncanonicalizer.Transform(naive)
	if err != nil {
		return nil, errors.Wrap(err, "unable to canonicalize platform JSON")
	}

	return canonical, nil
}

// Equal reports whether two platforms are identical once canonicalized,
// which sidesteps field-ordering/zero-value ambiguity in direct struct
// comparison.
func Equal(a, b Platform) (bool, error) {
	ca, err := EncodeCanonical(a)
	if err != nil {
		return false, err
	}
	cb, err := EncodeCanonical(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}

// String returns a human-readable "os/arch" (or "os/arch/variant") form for
// logging, matching the convention used throughout the OCI ecosystem.
func String(p Platform) string {
	if p.Variant != "" {
		return p.OS + "/" + p.Architecture + "/" + p.Variant
	}
	return p.OS + "/" + p.Architecture
}
