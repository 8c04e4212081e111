package diffmodel

import "testing"

func TestNodeStrings(t *testing.T) {
	testCases := map[Node]string{
		NodeRegular:   "reg",
		NodeDirectory: "dir",
		NodeSymlink:   "sym",
		NodeDevice:    "dev",
		NodeFIFO:      "fifo",
		NodeSocket:    "sock",
	}
	for node, expected := range testCases {
		if node.String() != expected {
			t.Errorf("Node(%d).String() = %q, expected %q", node, node.String(), expected)
		}
	}
}

func TestKindStrings(t *testing.T) {
	testCases := map[ModifiedKind]string{
		KindMetadataOnly:        "meta",
		KindContentChanged:      "content",
		KindTypeChanged:         "type",
		KindSymlinkTargetChanged: "symlink",
	}
	for kind, expected := range testCases {
		if kind.String() != expected {
			t.Errorf("ModifiedKind(%d).String() = %q, expected %q", kind, kind.String(), expected)
		}
	}
}

func TestIsExcludedFromDiffKey(t *testing.T) {
	if !NodeSocket.IsExcludedFromDiffKey() {
		t.Error("expected socket to be excluded")
	}
	if !NodeDevice.IsExcludedFromDiffKey() {
		t.Error("expected device to be excluded")
	}
	if NodeRegular.IsExcludedFromDiffKey() {
		t.Error("expected regular to not be excluded")
	}
}

func TestNeedsContentHash(t *testing.T) {
	added := &Diff{Variant: VariantAdded, Node: NodeRegular}
	if !added.NeedsContentHash() {
		t.Error("expected added regular file to need content hash")
	}

	modifiedMeta := &Diff{Variant: VariantModified, Node: NodeRegular, Kind: KindMetadataOnly}
	if modifiedMeta.NeedsContentHash() {
		t.Error("expected metadata-only modification to not need content hash")
	}

	modifiedContent := &Diff{Variant: VariantModified, Node: NodeRegular, Kind: KindContentChanged}
	if !modifiedContent.NeedsContentHash() {
		t.Error("expected content-changed modification to need content hash")
	}

	deleted := &Diff{Variant: VariantDeleted}
	if deleted.NeedsContentHash() {
		t.Error("expected deleted entries to never need content hash")
	}
}

func TestEnsureValid(t *testing.T) {
	valid := &Diff{Variant: VariantAdded, Node: NodeRegular}
	if err := valid.EnsureValid(); err != nil {
		t.Errorf("expected valid diff, got error: %v", err)
	}

	var nilDiff *Diff
	if err := nilDiff.EnsureValid(); err == nil {
		t.Error("expected nil diff to be invalid")
	}

	invalid := &Diff{Variant: Variant(99)}
	if err := invalid.EnsureValid(); err == nil {
		t.Error("expected unknown variant to be invalid")
	}
}
