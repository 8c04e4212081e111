// Package cachemanifest defines the cache manifest: the sole JSON blob
// stored per cache entry, embedding the snapshot reference directly rather
// than pointing at separate layer blobs. The wire schema is fixed
// (schemaVersion 5, a specific mediaType string, ISO-8601 createdAt), so
// this package is a thin struct-tag-driven encoding/json model.
package cachemanifest

import (
	"encoding/json"
	"time"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"

	"github.com/container-build/buildcore/pkg/digest"
)

// SchemaVersion is the current cache manifest schema version.
const SchemaVersion = 5

// MediaType identifies the manifest blob's content type.
const MediaType = "application/vnd.container-build.cache.manifest.v5+json"

// Config carries the cache key and operation metadata the manifest was
// produced for.
type Config struct {
	CacheKey      string      `json:"cacheKey"`
	OperationType string      `json:"operationType"`
	Platform      v1.Platform `json:"platform"`
	BuildVersion  string      `json:"buildVersion"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// SnapshotReference embeds the committed snapshot state a cache hit should
// restore.
type SnapshotReference struct {
	Digest         digest.Digest `json:"digest"`
	Size           uint64        `json:"size"`
	LayerDigest    digest.Digest `json:"layerDigest,omitempty"`
	LayerSize      uint64        `json:"layerSize,omitempty"`
	LayerMediaType string        `json:"layerMediaType,omitempty"`
	DiffKey        string        `json:"diffKey,omitempty"`
}

// Manifest is the on-blob cache manifest format.
type Manifest struct {
	SchemaVersion int                `json:"schemaVersion"`
	MediaType     string             `json:"mediaType"`
	Config        Config             `json:"config"`
	Annotations   map[string]string  `json:"annotations,omitempty"`
	Subject       *v1.Descriptor     `json:"subject,omitempty"`
	Snapshot      *SnapshotReference `json:"snapshot,omitempty"`

	EnvironmentChanges map[string]string `json:"environmentChanges,omitempty"`
	MetadataChanges    map[string]string `json:"metadataChanges,omitempty"`
}

// New constructs a Manifest with the fixed schema fields pre-populated.
func New(config Config) *Manifest {
	return &Manifest{
		SchemaVersion: SchemaVersion,
		MediaType:     MediaType,
		Config:        config,
	}
}

// Validate checks the manifest's required invariants: correct schema
// version/mediaType and a present snapshot reference. A manifest without an
// embedded snapshot is malformed and its index entry is treated as orphaned.
func (m *Manifest) Validate() error {
	if m == nil {
		return errors.New("nil manifest")
	}
	if m.SchemaVersion != SchemaVersion {
		return errors.Errorf("unsupported schema version: %d", m.SchemaVersion)
	}
	if m.MediaType != MediaType {
		return errors.Errorf("unexpected media type: %s", m.MediaType)
	}
	if m.Snapshot == nil {
		return errors.New("manifest missing embedded snapshot")
	}
	return nil
}

// Marshal encodes m as UTF-8 JSON.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal cache manifest")
	}
	return data, nil
}

// Unmarshal decodes data into a Manifest and validates it.
func Unmarshal(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "unable to unmarshal cache manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
