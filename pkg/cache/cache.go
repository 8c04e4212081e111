// Package cache implements the content-addressable build cache: get/put/
// has/evict/statistics over a cacheindex.Index and a content.Store, with a
// post-put size check and a periodic TTL sweep. The background loop runs an
// initial pass on startup, then a ticker-driven loop that exits on context
// cancellation.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	godigest "github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/container-build/buildcore/pkg/buildcoreerrors"
	"github.com/container-build/buildcore/pkg/cacheindex"
	"github.com/container-build/buildcore/pkg/cachemanifest"
	"github.com/container-build/buildcore/pkg/content"
	"github.com/container-build/buildcore/pkg/digest"
	"github.com/container-build/buildcore/pkg/logging"
	"github.com/container-build/buildcore/pkg/must"
	"github.com/container-build/buildcore/pkg/platform"
)

// Key identifies a cacheable operation: its digest, the digests of its
// inputs (order-independent), and the platform it ran on.
type Key struct {
	OperationDigest digest.Digest
	InputDigests    []digest.Digest
	Platform        v1.Platform
}

// Result is the logical payload a cache entry stores and restores: a
// snapshot reference plus environment/metadata deltas.
type Result struct {
	Snapshot           cachemanifest.SnapshotReference
	EnvironmentChanges map[string]string
	MetadataChanges    map[string]string
}

// Configuration enumerates the cache's tunables.
type Configuration struct {
	MaxSize         int64
	MaxAge          time.Duration
	IndexPath       string
	EvictionPolicy  string // "lru" is the only supported policy
	Concurrency     int
	VerifyIntegrity bool
	GCInterval      time.Duration
	CacheKeyVersion string
	DefaultTTL      time.Duration
}

// EnsureValid ensures that the configuration is valid.
func (c *Configuration) EnsureValid() error {
	if c == nil {
		return buildcoreerrors.New(buildcoreerrors.KindInvalidState, "nil cache configuration")
	}
	if c.IndexPath == "" {
		return buildcoreerrors.New(buildcoreerrors.KindInvalidState, "cache configuration missing indexPath")
	}
	if c.EvictionPolicy != "" && c.EvictionPolicy != "lru" {
		return buildcoreerrors.New(buildcoreerrors.KindInvalidState, "unsupported eviction policy")
	}
	if c.GCInterval <= 0 {
		return buildcoreerrors.New(buildcoreerrors.KindInvalidState, "cache configuration requires a positive gcInterval")
	}
	if c.CacheKeyVersion == "" {
		return buildcoreerrors.New(buildcoreerrors.KindInvalidState, "cache configuration missing cacheKeyVersion")
	}
	return nil
}

// Statistics reports the aggregate state of the cache.
type Statistics struct {
	EntryCount    int
	TotalBytes    int64
	HitCount      uint64
	MissCount     uint64
	EvictionCount uint64
	// OldestEntryAge and NewestEntryAge bound the ages of the current
	// entries; both are zero when the cache is empty.
	OldestEntryAge time.Duration
	NewestEntryAge time.Duration
	// AverageEntrySize is TotalBytes over EntryCount, or zero when empty.
	AverageEntrySize int64
	PolicyName       string
}

// HitRate returns the fraction of lookups that were hits, or 0 if there have
// been no lookups yet.
func (s Statistics) HitRate() float64 {
	total := s.HitCount + s.MissCount
	if total == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(total)
}

// String renders the statistics for logging with human-friendly byte
// counts.
func (s Statistics) String() string {
	return fmt.Sprintf("%d entries, %s, %d hits, %d misses, %d evictions (%.1f%% hit rate)",
		s.EntryCount, humanize.Bytes(uint64(s.TotalBytes)), s.HitCount, s.MissCount, s.EvictionCount, s.HitRate()*100)
}

// Cache is the ContentAddressableCache implementation.
type Cache struct {
	config Configuration
	index  *cacheindex.Index
	store  content.Store
	logger *logging.Logger

	mu            sync.Mutex
	hitCount      uint64
	missCount     uint64
	evictionCount uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Cache from a pre-opened index and content store.
func New(config Configuration, index *cacheindex.Index, store content.Store, logger *logging.Logger) (*Cache, error) {
	if err := config.EnsureValid(); err != nil {
		return nil, err
	}
	return &Cache{config: config, index: index, store: store, logger: logger}, nil
}

// Digest derives the cache digest for key: SHA-256 over the configured
// cacheKeyVersion, the operation digest's raw bytes, the sorted input
// digests' raw bytes, and the canonical-JSON-encoded platform. Sorting the
// input digests guarantees order-independence.
func Digest(cacheKeyVersion string, key Key) (digest.Digest, error) {
	sorted := make([]digest.Digest, len(key.InputDigests))
	copy(sorted, key.InputDigests)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})

	platformBytes, err := platform.EncodeCanonical(key.Platform)
	if err != nil {
		return digest.Digest{}, err
	}

	h, err := digest.NewHasher(digest.SHA256)
	if err != nil {
		return digest.Digest{}, err
	}
	h.Write([]byte(cacheKeyVersion))
	h.Write(key.OperationDigest.Bytes())
	for _, d := range sorted {
		h.Write(d.Bytes())
	}
	h.Write(platformBytes)

	return digest.FromBytes(digest.SHA256, h.Sum(nil)), nil
}

// Has reports whether an entry exists for key, consulting only the index.
func (c *Cache) Has(key Key) (bool, error) {
	d, err := Digest(c.config.CacheKeyVersion, key)
	if err != nil {
		return false, err
	}
	_, ok := c.index.Get(d.String())
	return ok, nil
}

// Get derives the cache digest for key, looks up the index entry, and
// fetches the manifest blob. A missing or malformed manifest self-heals: the
// orphaned index entry is removed and a miss is reported rather than
// surfacing a storage failure to the caller.
func (c *Cache) Get(key Key) (*Result, bool, error) {
	d, err := Digest(c.config.CacheKeyVersion, key)
	if err != nil {
		return nil, false, err
	}

	entry, ok := c.index.Get(d.String())
	if !ok {
		c.recordMiss()
		return nil, false, nil
	}

	manifestDigest, err := digest.Parse(entry.Descriptor.Digest.String())
	if err != nil {
		c.orphan(d.String(), "index entry has unparseable manifest digest")
		c.recordMiss()
		return nil, false, nil
	}

	var manifest cachemanifest.Manifest
	if err := c.store.Get(manifestDigest, &manifest); err != nil {
		c.orphan(d.String(), "manifest blob missing from content store")
		c.recordMiss()
		return nil, false, nil
	}
	if err := manifest.Validate(); err != nil {
		c.orphan(d.String(), "manifest blob failed validation: "+err.Error())
		c.recordMiss()
		return nil, false, nil
	}

	entry.Metadata.AccessedAt = time.Now()
	if err := c.index.Put(d.String(), entry.Descriptor, entry.Metadata); err != nil {
		c.logger.Warnf("unable to persist updated access time: %v", err)
	}

	c.recordHit()

	return &Result{
		Snapshot:           *manifest.Snapshot,
		EnvironmentChanges: manifest.EnvironmentChanges,
		MetadataChanges:    manifest.MetadataChanges,
	}, true, nil
}

// Put stores result under key's cache digest, idempotently: an existing
// entry causes Put to return silently. Put failures never propagate to the
// caller; they are logged and swallowed, since caching must never break a
// build.
func (c *Cache) Put(result *Result, key Key, operationType string, buildVersion string, tags map[string]string) {
	must.Succeed(c.put(result, key, operationType, buildVersion, tags), "cache put", c.logger)
}

func (c *Cache) put(result *Result, key Key, operationType string, buildVersion string, tags map[string]string) error {
	d, err := Digest(c.config.CacheKeyVersion, key)
	if err != nil {
		return err
	}

	if _, ok := c.index.Get(d.String()); ok {
		return nil
	}

	manifest := cachemanifest.New(cachemanifest.Config{
		CacheKey:      d.String(),
		OperationType: operationType,
		Platform:      key.Platform,
		BuildVersion:  buildVersion,
		CreatedAt:     time.Now().UTC(),
	})
	manifest.Snapshot = &result.Snapshot
	manifest.EnvironmentChanges = result.EnvironmentChanges
	manifest.MetadataChanges = result.MetadataChanges

	payload, err := manifest.Marshal()
	if err != nil {
		return err
	}

	session, writer, err := c.store.NewIngestSession()
	if err != nil {
		return err
	}
	if _, err := writer.Write(payload); err != nil {
		c.store.CancelIngestSession(session)
		return err
	}
	if err := writer.Close(); err != nil {
		c.store.CancelIngestSession(session)
		return err
	}
	if err := c.store.CompleteIngestSession(session); err != nil {
		c.store.CancelIngestSession(session)
		return err
	}

	descriptor := v1.Descriptor{
		MediaType: cachemanifest.MediaType,
		Digest:    godigest.Digest(writer.Digest().String()),
		Size:      writer.Size(),
	}

	now := time.Now()
	var ttl *time.Duration
	if c.config.DefaultTTL > 0 {
		t := c.config.DefaultTTL
		ttl = &t
	}

	metadata := cacheindex.Metadata{
		CreatedAt:     now,
		AccessedAt:    now,
		OperationHash: key.OperationDigest.String(),
		Platform:      key.Platform,
		TTL:           ttl,
		Tags:          tags,
	}

	if err := c.index.Put(d.String(), descriptor, metadata); err != nil {
		return err
	}

	go c.enforceSizeLimit()

	return nil
}

// Evict removes the entries identified by the given cache digest strings,
// deleting both the manifest blob and the index row. A get racing with
// eviction observes either the pre- or post-eviction state cleanly, never a
// partially-deleted entry, because the index row (the only thing Get
// consults to decide hit/miss) is only removed after the blob delete is
// issued.
func (c *Cache) Evict(keys []string) {
	for _, key := range keys {
		entry, ok := c.index.Get(key)
		if !ok {
			continue
		}
		if d, err := digest.Parse(entry.Descriptor.Digest.String()); err == nil {
			must.Succeed(c.store.Delete(d), "evicted manifest blob deletion", c.logger)
		}
		if err := c.index.Remove(key); err != nil {
			c.logger.Warnf("unable to remove evicted index entry: %v", err)
			continue
		}
		c.mu.Lock()
		c.evictionCount++
		c.mu.Unlock()
	}
}

// Statistics reports the cache's current aggregate state.
func (c *Cache) Statistics() Statistics {
	indexStats := c.index.Statistics()

	now := time.Now()
	var oldest, newest time.Duration
	for _, entry := range c.index.AllEntries() {
		age := now.Sub(entry.Metadata.CreatedAt)
		if oldest == 0 || age > oldest {
			oldest = age
		}
		if newest == 0 || age < newest {
			newest = age
		}
	}

	var averageSize int64
	if indexStats.EntryCount > 0 {
		averageSize = indexStats.TotalBytes / int64(indexStats.EntryCount)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Statistics{
		EntryCount:       indexStats.EntryCount,
		TotalBytes:       indexStats.TotalBytes,
		HitCount:         c.hitCount,
		MissCount:        c.missCount,
		EvictionCount:    c.evictionCount,
		OldestEntryAge:   oldest,
		NewestEntryAge:   newest,
		AverageEntrySize: averageSize,
		PolicyName:       "lru",
	}
}

// ReverseLookup returns the cache key string for every index entry whose
// stored manifest digest equals target. It answers "which cache keys
// currently reference this blob," which is useful for diagnosing orphaned or
// duplicated manifests.
func (c *Cache) ReverseLookup(target digest.Digest) []string {
	var keys []string
	for key, entry := range c.index.AllEntries() {
		if d, err := digest.Parse(entry.Descriptor.Digest.String()); err == nil && d.Equal(target) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Start launches the cache's background GC loop: an initial sweep, then a
// ticker-driven loop at config.GCInterval. It terminates when Stop is
// called.
func (c *Cache) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)

		c.sweep()

		ticker := time.NewTicker(c.config.GCInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// Stop cancels the background GC loop and waits for it to exit.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
}

// sweep evicts any entry whose TTL has elapsed since creation, then enforces
// the size limit.
func (c *Cache) sweep() {
	now := time.Now()
	var expired []string
	for key, entry := range c.index.AllEntries() {
		if entry.Metadata.TTL != nil && now.Sub(entry.Metadata.CreatedAt) >= *entry.Metadata.TTL {
			expired = append(expired, key)
		}
	}
	if len(expired) > 0 {
		c.Evict(expired)
	}
	c.enforceSizeLimit()
}

// enforceSizeLimit evicts least-recently-accessed entries whenever total
// size exceeds MaxSize, until total size is at or below 0.8 * MaxSize.
func (c *Cache) enforceSizeLimit() {
	if c.config.MaxSize <= 0 {
		return
	}

	stats := c.index.Statistics()
	if stats.TotalBytes <= c.config.MaxSize {
		return
	}

	target := int64(float64(c.config.MaxSize) * 0.8)

	type row struct {
		key        string
		accessedAt time.Time
		size       int64
	}
	entries := c.index.AllEntries()
	rows := make([]row, 0, len(entries))
	for key, entry := range entries {
		rows = append(rows, row{key: key, accessedAt: entry.Metadata.AccessedAt, size: entry.Descriptor.Size})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].accessedAt.Before(rows[j].accessedAt)
	})

	total := stats.TotalBytes
	var toEvict []string
	for _, r := range rows {
		if total <= target {
			break
		}
		toEvict = append(toEvict, r.key)
		total -= r.size
	}

	if len(toEvict) > 0 {
		c.Evict(toEvict)
	}
}

func (c *Cache) orphan(key, reason string) {
	c.logger.Warnf("removing orphaned cache index entry %s: %s", key, reason)
	if err := c.index.Remove(key); err != nil {
		c.logger.Warnf("unable to remove orphaned index entry: %v", err)
	}
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.hitCount++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.missCount++
	c.mu.Unlock()
}
