package cacheindex

import (
	"path/filepath"
	"testing"
	"time"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/container-build/buildcore/pkg/logging"
)

func TestPutGetAndPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.msgpack")

	idx, err := Open(path, logging.RootLogger.Sublogger("test"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	descriptor := v1.Descriptor{MediaType: "application/vnd.container-build.cache.manifest.v5+json", Size: 128}
	metadata := Metadata{CreatedAt: time.Now(), AccessedAt: time.Now(), OperationHash: "op1"}

	if err := idx.Put("sha256:abc", descriptor, metadata); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	reopened, err := Open(path, logging.RootLogger.Sublogger("test"))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	entry, ok := reopened.Get("sha256:abc")
	if !ok {
		t.Fatal("expected entry to survive reopen")
	}
	if entry.Descriptor.Size != 128 {
		t.Errorf("unexpected descriptor size: %d", entry.Descriptor.Size)
	}
}

func TestRemoveDeletesEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.msgpack")
	idx, _ := Open(path, logging.RootLogger.Sublogger("test"))

	idx.Put("k1", v1.Descriptor{}, Metadata{})
	if err := idx.Remove("k1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, ok := idx.Get("k1"); ok {
		t.Error("expected entry to be removed")
	}
}

func TestStatistics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.msgpack")
	idx, _ := Open(path, logging.RootLogger.Sublogger("test"))

	idx.Put("k1", v1.Descriptor{Size: 10}, Metadata{})
	idx.Put("k2", v1.Descriptor{Size: 20}, Metadata{})

	stats := idx.Statistics()
	if stats.EntryCount != 2 {
		t.Errorf("expected 2 entries, got %d", stats.EntryCount)
	}
	if stats.TotalBytes != 30 {
		t.Errorf("expected 30 total bytes, got %d", stats.TotalBytes)
	}
}
