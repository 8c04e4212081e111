// Package cacheindex implements the cache's durable index: a small map from
// cache digest string to {descriptor, metadata}, backed by a single
// MessagePack-encoded file at the configured index path. Writes replace the
// file atomically (temp file in the same directory, then rename over the
// target), so a crash mid-write can never leave a half-written index.
package cacheindex

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/container-build/buildcore/pkg/logging"
)

// Metadata is the per-entry metadata the index stores alongside a
// descriptor.
type Metadata struct {
	CreatedAt     time.Time
	AccessedAt    time.Time
	OperationHash string
	Platform      v1.Platform
	TTL           *time.Duration
	Tags          map[string]string
}

// Entry is a single CacheIndex row, keyed externally by cache digest string.
type Entry struct {
	Descriptor v1.Descriptor
	Metadata   Metadata
}

// Statistics summarizes the index's current contents.
type Statistics struct {
	EntryCount int
	TotalBytes int64
}

// Index is a durable, in-memory-cached map of cache digest string to Entry.
type Index struct {
	path   string
	logger *logging.Logger

	mu      sync.Mutex
	entries map[string]Entry
}

// Open loads the index from path, treating a missing file as an empty index
// (the first Put or Remove call will create it).
func Open(path string, logger *logging.Logger) (*Index, error) {
	idx := &Index{path: path, logger: logger, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, errors.Wrap(err, "unable to read cache index file")
	}

	if len(data) == 0 {
		return idx, nil
	}

	if err := msgpack.Unmarshal(data, &idx.entries); err != nil {
		return nil, errors.Wrap(err, "unable to decode cache index file")
	}

	return idx, nil
}

// Get returns the entry for key, if any.
func (i *Index) Get(key string) (Entry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	entry, ok := i.entries[key]
	return entry, ok
}

// Put inserts or replaces the entry for key and persists the index.
func (i *Index) Put(key string, descriptor v1.Descriptor, metadata Metadata) error {
	i.mu.Lock()
	i.entries[key] = Entry{Descriptor: descriptor, Metadata: metadata}
	i.mu.Unlock()
	return i.save()
}

// Remove deletes the given keys and persists the index. Removing a key that
// doesn't exist is not an error.
func (i *Index) Remove(keys ...string) error {
	i.mu.Lock()
	for _, key := range keys {
		delete(i.entries, key)
	}
	i.mu.Unlock()
	return i.save()
}

// AllEntries returns a snapshot copy of every entry, keyed by cache digest
// string.
func (i *Index) AllEntries() map[string]Entry {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make(map[string]Entry, len(i.entries))
	for k, v := range i.entries {
		out[k] = v
	}
	return out
}

// Statistics reports aggregate counts over the index.
func (i *Index) Statistics() Statistics {
	i.mu.Lock()
	defer i.mu.Unlock()

	stats := Statistics{EntryCount: len(i.entries)}
	for _, entry := range i.entries {
		stats.TotalBytes += entry.Descriptor.Size
	}
	return stats
}

// save serializes the current entry map and replaces the index file
// atomically: write to a temp file in the same directory, then rename over
// the target so a crash mid-write can never leave a half-written index.
func (i *Index) save() error {
	i.mu.Lock()
	data, err := msgpack.Marshal(i.entries)
	i.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "unable to encode cache index")
	}

	dir := filepath.Dir(i.path)
	temp, err := os.CreateTemp(dir, "cache-index-*.tmp")
	if err != nil {
		return errors.Wrap(err, "unable to create temporary index file")
	}
	tempName := temp.Name()

	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempName)
		return errors.Wrap(err, "unable to write temporary index file")
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return errors.Wrap(err, "unable to close temporary index file")
	}

	if err := os.Rename(tempName, i.path); err != nil {
		os.Remove(tempName)
		return errors.Wrap(err, "unable to rename temporary index file into place")
	}

	return nil
}
