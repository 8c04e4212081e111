// Package buildcontext implements the per-stage execution context: a
// thread-safe holder that tracks environment/working-directory/user state
// alongside the stage's snapshot lineage, serialized by a 1-token filesystem
// permit. Mutable state is guarded by a state.TrackingLock, which pairs an
// ordinary mutex with a Tracker so that state changes can be observed
// without polling the lock itself.
package buildcontext

import (
	"context"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/container-build/buildcore/pkg/digest"
	"github.com/container-build/buildcore/pkg/random"
	"github.com/container-build/buildcore/pkg/snapshot"
	"github.com/container-build/buildcore/pkg/state"
)

// newSnapshotID generates a fresh, process-unique snapshot identifier.
func newSnapshotID() string {
	return uuid.NewString()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// OperationID identifies a single build graph operation within a stage.
type OperationID string

// ImageConfig carries the subset of OCI image configuration the context
// exposes to operations (entrypoint/cmd/env are folded into Environment;
// this only holds the pieces not already modeled elsewhere).
type ImageConfig struct {
	Labels map[string]string
}

// Context is a thread-safe holder for one build stage's environment/working
// directory/user/image config plus its snapshot lineage (platform and
// snapshotter live alongside it but are treated as immutable inputs set at
// construction).
type Context struct {
	Platform    v1.Platform
	Snapshotter snapshot.Snapshotter

	lock    *state.TrackingLock
	tracker *state.Tracker

	environment      map[string]string
	metadata         map[string]string
	workingDirectory string
	user             string
	imageConfig      ImageConfig

	snapshots       map[OperationID]*snapshot.Snapshot
	activeSnapshots map[OperationID]*snapshot.Snapshot
	headSnapshot    *snapshot.Snapshot

	fsPermit *semaphore.Weighted

	mountpointSeq  int
	mountpointBase string
}

// New constructs a fresh Context with no head snapshot.
func New(platform v1.Platform, snapshotter snapshot.Snapshotter, mountpointBase string) *Context {
	tracker := state.NewTracker()
	return &Context{
		Platform:        platform,
		Snapshotter:     snapshotter,
		lock:            state.NewTrackingLock(tracker),
		tracker:         tracker,
		environment:     make(map[string]string),
		metadata:        make(map[string]string),
		snapshots:       make(map[OperationID]*snapshot.Snapshot),
		activeSnapshots: make(map[OperationID]*snapshot.Snapshot),
		fsPermit:        semaphore.NewWeighted(1),
		mountpointBase:  mountpointBase,
	}
}

// Environment returns a copy of the current environment map.
func (c *Context) Environment() map[string]string {
	c.lock.Lock()
	defer c.lock.UnlockWithoutNotify()
	out := make(map[string]string, len(c.environment))
	for k, v := range c.environment {
		out[k] = v
	}
	return out
}

// SetEnvironment replaces the environment map and notifies trackers.
func (c *Context) SetEnvironment(env map[string]string) {
	c.lock.Lock()
	c.environment = env
	c.lock.Unlock()
}

// MergeEnvironment applies changes on top of the current environment.
func (c *Context) MergeEnvironment(changes map[string]string) {
	c.lock.Lock()
	for k, v := range changes {
		c.environment[k] = v
	}
	c.lock.Unlock()
}

// Metadata returns a copy of the current build metadata map (labels,
// provenance annotations, and similar key/value facts attached by completed
// operations — distinct from the OCI image config's own Labels).
func (c *Context) Metadata() map[string]string {
	c.lock.Lock()
	defer c.lock.UnlockWithoutNotify()
	out := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// MergeMetadata applies changes on top of the current metadata map.
func (c *Context) MergeMetadata(changes map[string]string) {
	c.lock.Lock()
	for k, v := range changes {
		c.metadata[k] = v
	}
	c.lock.Unlock()
}

// WorkingDirectory returns the current working directory.
func (c *Context) WorkingDirectory() string {
	c.lock.Lock()
	defer c.lock.UnlockWithoutNotify()
	return c.workingDirectory
}

// SetWorkingDirectory updates the working directory.
func (c *Context) SetWorkingDirectory(dir string) {
	c.lock.Lock()
	c.workingDirectory = dir
	c.lock.Unlock()
}

// User returns the current effective user.
func (c *Context) User() string {
	c.lock.Lock()
	defer c.lock.UnlockWithoutNotify()
	return c.user
}

// SetUser updates the effective user.
func (c *Context) SetUser(user string) {
	c.lock.Lock()
	c.user = user
	c.lock.Unlock()
}

// ImageConfig returns a copy of the current image configuration.
func (c *Context) ImageConfig() ImageConfig {
	c.lock.Lock()
	defer c.lock.UnlockWithoutNotify()
	return c.imageConfig
}

// SetImageConfig updates the image configuration.
func (c *Context) SetImageConfig(config ImageConfig) {
	c.lock.Lock()
	c.imageConfig = config
	c.lock.Unlock()
}

// HeadSnapshot returns the most recently committed snapshot for this stage,
// or nil if none has been committed yet.
func (c *Context) HeadSnapshot() *snapshot.Snapshot {
	c.lock.Lock()
	defer c.lock.UnlockWithoutNotify()
	return c.headSnapshot
}

// nextMountpoint derives a fresh per-operation mountpoint under the
// context's base directory: a monotonic sequence number plus a random suffix
// so that mountpoints never collide across contexts sharing a base
// directory.
func (c *Context) nextMountpoint() string {
	c.mountpointSeq++
	suffix := itoa(c.mountpointSeq)
	if entropy, err := random.New(8); err == nil {
		suffix += "-" + hex.EncodeToString(entropy)
	}
	return c.mountpointBase + "/snapshot-" + suffix
}

// prepareSnapshot builds a new child snapshot whose parent is the current
// headSnapshot (or a 32-zero-byte digest if none). It must be called with
// the FS permit already held.
func (c *Context) prepareSnapshot(ctx context.Context, opID OperationID, base *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	var parentID snapshot.ID
	hasParent := false
	parentDigest := digest.Zero

	c.lock.Lock()
	if base != nil {
		parentID = base.ID
		hasParent = true
		parentDigest = base.Digest
	} else if c.headSnapshot != nil {
		parentID = c.headSnapshot.ID
		hasParent = true
		parentDigest = c.headSnapshot.Digest
	}
	c.lock.UnlockWithoutNotify()

	fresh := &snapshot.Snapshot{
		ID:           snapshot.ID(newSnapshotID()),
		Parent:       parentID,
		HasParent:    hasParent,
		ParentDigest: parentDigest,
		CreatedAt:    time.Now(),
		State:        snapshot.StatePrepared,
		Mountpoint:   c.nextMountpoint(),
	}

	prepared, err := c.Snapshotter.Prepare(ctx, fresh)
	if err != nil {
		return nil, errors.Wrap(err, "unable to prepare snapshot")
	}

	c.lock.Lock()
	c.activeSnapshots[opID] = prepared
	c.lock.Unlock()

	return prepared, nil
}

// commitSnapshot calls snapshotter.commit, moves the snapshot from
// activeSnapshots to snapshots[opID], and updates headSnapshot.
func (c *Context) commitSnapshot(ctx context.Context, s *snapshot.Snapshot, opID OperationID) (*snapshot.Snapshot, error) {
	committed, err := c.Snapshotter.Commit(ctx, s)
	if err != nil {
		return nil, errors.Wrap(err, "unable to commit snapshot")
	}

	c.lock.Lock()
	delete(c.activeSnapshots, opID)
	c.snapshots[opID] = committed
	c.headSnapshot = committed
	c.lock.Unlock()

	return committed, nil
}

// cleanupSnapshot removes the active snapshot for opID and releases its
// resources. Errors are reported to the caller but treated as non-fatal.
func (c *Context) cleanupSnapshot(ctx context.Context, opID OperationID) error {
	c.lock.Lock()
	active, ok := c.activeSnapshots[opID]
	if ok {
		delete(c.activeSnapshots, opID)
	}
	c.lock.Unlock()

	if !ok {
		return nil
	}
	return c.Snapshotter.Remove(ctx, active)
}

// WithSnapshot acquires the context's FS permit, prepares a snapshot (from
// base if provided, otherwise from the current head), runs body, commits on
// success, and cleans up on failure. It returns body's result and the
// resulting committed snapshot on success.
//
// The FS permit guarantees that within one context, two concurrent
// WithSnapshot calls never observe overlapping prepared-to-committed
// windows: the semaphore has exactly one token, so a second caller blocks in
// Acquire until the first has either committed or cleaned up and released.
func (c *Context) WithSnapshot(ctx context.Context, opID OperationID, base *snapshot.Snapshot, body func(s *snapshot.Snapshot) (interface{}, error)) (interface{}, *snapshot.Snapshot, error) {
	if err := c.fsPermit.Acquire(ctx, 1); err != nil {
		return nil, nil, errors.Wrap(err, "unable to acquire filesystem permit")
	}
	defer c.fsPermit.Release(1)

	prepared, err := c.prepareSnapshot(ctx, opID, base)
	if err != nil {
		return nil, nil, err
	}

	result, bodyErr := body(prepared)
	if bodyErr != nil {
		if cleanupErr := c.cleanupSnapshot(ctx, opID); cleanupErr != nil {
			// This package has no logger and its callers do not log the
			// cleanup error; it is folded into the returned error's context
			// instead of being swallowed silently.
			bodyErr = errors.Wrap(bodyErr, "operation failed; cleanup also failed: "+cleanupErr.Error())
		}
		return nil, nil, bodyErr
	}

	committed, err := c.commitSnapshot(ctx, prepared, opID)
	if err != nil {
		return nil, nil, err
	}

	return result, committed, nil
}

// PrepareAndCommit is a convenience for operations that do not modify state
// (e.g., base-image load): it prepares from base, immediately commits, and
// skips the inProgress lock.
func (c *Context) PrepareAndCommit(ctx context.Context, opID OperationID, base *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	if err := c.fsPermit.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "unable to acquire filesystem permit")
	}
	defer c.fsPermit.Release(1)

	prepared, err := c.prepareSnapshot(ctx, opID, base)
	if err != nil {
		return nil, err
	}
	return c.commitSnapshot(ctx, prepared, opID)
}

// PromoteSnapshot installs s as the new head snapshot directly, without
// calling the Snapshotter — used by the scheduler on a cache hit, where a
// previously-committed snapshot is restored as the result of an operation
// rather than freshly prepared and committed.
func (c *Context) PromoteSnapshot(opID OperationID, s *snapshot.Snapshot) {
	c.lock.Lock()
	c.snapshots[opID] = s
	c.headSnapshot = s
	c.lock.Unlock()
}

// Tracker exposes the context's underlying state.Tracker so callers can poll
// for head-snapshot changes without holding the lock.
func (c *Context) Tracker() *state.Tracker {
	return c.tracker
}
