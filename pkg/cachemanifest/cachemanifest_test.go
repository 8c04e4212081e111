package cachemanifest

import (
	"testing"
	"time"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/container-build/buildcore/pkg/digest"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	m := New(Config{
		CacheKey:      "sha256:" + sixtyFourZeros(),
		OperationType: "exec",
		Platform:      v1.Platform{OS: "linux", Architecture: "amd64"},
		BuildVersion:  "0.1.0",
		CreatedAt:     time.Now().UTC(),
	})
	m.Snapshot = &SnapshotReference{Digest: digest.FromContent([]byte("snap"))}

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.SchemaVersion != SchemaVersion {
		t.Errorf("unexpected schema version: %d", decoded.SchemaVersion)
	}
	if decoded.MediaType != MediaType {
		t.Errorf("unexpected media type: %s", decoded.MediaType)
	}
}

func TestValidateRejectsMissingSnapshot(t *testing.T) {
	m := New(Config{})
	if err := m.Validate(); err == nil {
		t.Error("expected validation to fail without an embedded snapshot")
	}
}

func TestUnmarshalRejectsWrongSchemaVersion(t *testing.T) {
	data := []byte(`{"schemaVersion":1,"mediaType":"` + MediaType + `","config":{},"snapshot":{"digest":""}}`)
	if _, err := Unmarshal(data); err == nil {
		t.Error("expected unmarshal to reject an unsupported schema version")
	}
}

func sixtyFourZeros() string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = '0'
	}
	return string(b)
}
