package platform

import (
	"testing"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

func TestEncodeCanonicalOmitsAbsentOptionalFields(t *testing.T) {
	p := New("linux", "amd64")
	encoded, err := EncodeCanonical(p)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	s := string(encoded)
	if contains := containsAny(s, "os.version", "variant", "null"); contains {
		t.Errorf("expected absent optional fields to be omitted, got %s", s)
	}
}

func TestEncodeCanonicalIsKeySorted(t *testing.T) {
	p := v1.Platform{OS: "linux", Architecture: "arm64", Variant: "v8"}
	encoded, err := EncodeCanonical(p)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	// "architecture" sorts before "os" sorts before "variant".
	archIdx := indexOf(string(encoded), "architecture")
	osIdx := indexOf(string(encoded), `"os"`)
	variantIdx := indexOf(string(encoded), "variant")
	if !(archIdx < osIdx && osIdx < variantIdx) {
		t.Errorf("expected sorted key order, got %s", encoded)
	}
}

func TestEncodeCanonicalSortsOSFeatures(t *testing.T) {
	a := v1.Platform{OS: "windows", Architecture: "amd64", OSFeatures: []string{"win32k", "hyperv", "abi.v2"}}
	b := v1.Platform{OS: "windows", Architecture: "amd64", OSFeatures: []string{"hyperv", "abi.v2", "win32k"}}

	ea, err := EncodeCanonical(a)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	eb, err := EncodeCanonical(b)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if string(ea) != string(eb) {
		t.Errorf("expected permuted osFeatures to encode identically:\n%s\n%s", ea, eb)
	}

	// The caller's slice must not be reordered in place.
	if a.OSFeatures[0] != "win32k" {
		t.Error("expected the caller's osFeatures slice to be left untouched")
	}

	// Feature-order-insensitive equality must follow.
	eq, err := Equal(a, b)
	if err != nil {
		t.Fatalf("equal failed: %v", err)
	}
	if !eq {
		t.Error("expected platforms differing only in feature order to be equal")
	}
}

func TestEqual(t *testing.T) {
	a := New("linux", "amd64")
	b := New("linux", "amd64")
	eq, err := Equal(a, b)
	if err != nil {
		t.Fatalf("equal failed: %v", err)
	}
	if !eq {
		t.Error("expected identical platforms to be equal")
	}

	c := New("linux", "arm64")
	eq, err = Equal(a, c)
	if err != nil {
		t.Fatalf("equal failed: %v", err)
	}
	if eq {
		t.Error("expected differing platforms to not be equal")
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
