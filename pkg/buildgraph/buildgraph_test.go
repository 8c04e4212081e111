package buildgraph

import (
	"testing"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/container-build/buildcore/pkg/digest"
)

func platform() v1.Platform {
	return v1.Platform{OS: "linux", Architecture: "amd64"}
}

func opDigest(s string) digest.Digest {
	return digest.FromContent([]byte(s))
}

func TestNewOrdersDependenciesBeforeDependents(t *testing.T) {
	ops := []*Operation{
		{ID: "exec", Kind: KindExec, Inputs: []OperationID{"copy"}, OperationDigest: opDigest("exec")},
		{ID: "base", Kind: KindImageLoad, OperationDigest: opDigest("base")},
		{ID: "copy", Kind: KindFilesystem, Inputs: []OperationID{"base"}, OperationDigest: opDigest("copy")},
	}

	g, err := New(platform(), ops)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	order := g.Order()
	index := make(map[OperationID]int, len(order))
	for i, id := range order {
		index[id] = i
	}

	if index["base"] > index["copy"] {
		t.Error("expected base to be ordered before copy")
	}
	if index["copy"] > index["exec"] {
		t.Error("expected copy to be ordered before exec")
	}
}

func TestNewRejectsUnknownInput(t *testing.T) {
	ops := []*Operation{
		{ID: "exec", Kind: KindExec, Inputs: []OperationID{"missing"}, OperationDigest: opDigest("exec")},
	}
	if _, err := New(platform(), ops); err == nil {
		t.Fatal("expected an error for an operation referencing an unknown input")
	}
}

func TestNewRejectsCycle(t *testing.T) {
	ops := []*Operation{
		{ID: "a", Kind: KindExec, Inputs: []OperationID{"b"}, OperationDigest: opDigest("a")},
		{ID: "b", Kind: KindExec, Inputs: []OperationID{"a"}, OperationDigest: opDigest("b")},
	}
	if _, err := New(platform(), ops); err == nil {
		t.Fatal("expected an error for a cyclic graph")
	}
}

func TestNewRejectsDuplicateID(t *testing.T) {
	ops := []*Operation{
		{ID: "a", Kind: KindExec, OperationDigest: opDigest("a")},
		{ID: "a", Kind: KindExec, OperationDigest: opDigest("a2")},
	}
	if _, err := New(platform(), ops); err == nil {
		t.Fatal("expected an error for duplicate operation ids")
	}
}

func TestNewRejectsInvalidOperation(t *testing.T) {
	ops := []*Operation{
		{ID: "a", Kind: KindExec},
	}
	if _, err := New(platform(), ops); err == nil {
		t.Fatal("expected an error for an operation missing its digest")
	}
}

func TestOrderIsDeterministic(t *testing.T) {
	ops := []*Operation{
		{ID: "c", Kind: KindImageLoad, OperationDigest: opDigest("c")},
		{ID: "a", Kind: KindImageLoad, OperationDigest: opDigest("a")},
		{ID: "b", Kind: KindImageLoad, OperationDigest: opDigest("b")},
	}

	g1, err := New(platform(), ops)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	g2, err := New(platform(), ops)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	o1, o2 := g1.Order(), g2.Order()
	if len(o1) != len(o2) {
		t.Fatalf("order length mismatch: %d vs %d", len(o1), len(o2))
	}
	for i := range o1 {
		if o1[i] != o2[i] {
			t.Errorf("expected deterministic order, differed at index %d: %s vs %s", i, o1[i], o2[i])
		}
	}
}

func TestOperationLookup(t *testing.T) {
	ops := []*Operation{
		{ID: "a", Kind: KindImageLoad, OperationDigest: opDigest("a")},
	}
	g, err := New(platform(), ops)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	op, ok := g.Operation("a")
	if !ok || op.ID != "a" {
		t.Fatal("expected to find operation a")
	}

	if _, ok := g.Operation("missing"); ok {
		t.Error("expected lookup of a missing operation to report false")
	}
}
