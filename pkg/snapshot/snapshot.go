// Package snapshot implements Snapshot, the filesystem checkpoint type at
// the heart of the build graph, and the Snapshotter interface that drives it
// through its prepared/inProgress/committed lifecycle.
package snapshot

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/container-build/buildcore/pkg/digest"
)

// State identifies where in its lifecycle a Snapshot currently sits.
type State uint8

const (
	// StatePrepared is the initial, mutable state: a working mountpoint
	// exists on the host but nothing has been committed.
	StatePrepared State = iota
	// StateInProgress is an optional intermediate state indicating the
	// snapshot is locked by an in-flight operation.
	StateInProgress
	// StateCommitted is the terminal, immutable state.
	StateCommitted
	// StateRemoved indicates the snapshot's mountpoint and resources have
	// been released; this is a terminal failure-path state, distinct from
	// StateCommitted.
	StateRemoved
)

// String renders the state for logging.
func (s State) String() string {
	switch s {
	case StatePrepared:
		return "prepared"
	case StateInProgress:
		return "inProgress"
	case StateCommitted:
		return "committed"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ID uniquely identifies a Snapshot within a process.
type ID string

// Snapshot is a filesystem checkpoint, carrying the prepared/inProgress/
// committed fields needed to track it through its lifecycle.
type Snapshot struct {
	ID        ID
	Parent    ID
	HasParent bool
	// ParentDigest is the parent's committed digest, or digest.Zero if the
	// snapshot has no parent. It is the base lineage tag diffkey.Compute
	// couples a diff key to.
	ParentDigest digest.Digest
	CreatedAt    time.Time
	State        State

	// Mountpoint is set once State >= StatePrepared.
	Mountpoint string

	// OperationID is set only in StateInProgress.
	OperationID string

	// Digest/Size/LayerDigest/LayerSize/LayerMediaType/DiffKey are set only
	// once State == StateCommitted.
	Digest         digest.Digest
	Size           uint64
	LayerDigest    digest.Digest
	HasLayerDigest bool
	LayerSize      uint64
	LayerMediaType string
	DiffKey        string
}

// EnsureValid ensures that the snapshot is valid.
func (s *Snapshot) EnsureValid() error {
	if s == nil {
		return errors.New("nil snapshot")
	}
	if s.ID == "" {
		return errors.New("snapshot missing id")
	}
	switch s.State {
	case StatePrepared, StateInProgress, StateCommitted, StateRemoved:
	default:
		return errors.New("snapshot has unknown state")
	}
	if s.State == StatePrepared || s.State == StateInProgress {
		if s.Mountpoint == "" {
			return errors.New("prepared/inProgress snapshot missing mountpoint")
		}
	}
	return nil
}

// CanTransitionTo reports whether moving from s's current state to target is
// a legal transition: prepared to inProgress to committed, prepared straight
// to committed (skipping the lock), or prepared/inProgress to removed. No
// transition is legal out of committed.
func (s *Snapshot) CanTransitionTo(target State) bool {
	switch s.State {
	case StatePrepared:
		return target == StateInProgress || target == StateCommitted || target == StateRemoved
	case StateInProgress:
		return target == StateCommitted || target == StateRemoved
	default:
		return false
	}
}

// Snapshotter drives a Snapshot through prepare/commit/remove. Real
// filesystem interaction is outside this package's scope; callers supply an
// implementation backed by whatever storage driver they use.
type Snapshotter interface {
	// Prepare ensures the working mountpoint for s exists, materializing its
	// parent first if the parent is not yet available. It is idempotent when
	// s is already in StatePrepared.
	Prepare(ctx context.Context, s *Snapshot) (*Snapshot, error)

	// Commit produces an immutable snapshot carrying a final digest and,
	// optionally, layer metadata and a diff key. The returned snapshot keeps
	// s's ID.
	Commit(ctx context.Context, s *Snapshot) (*Snapshot, error)

	// Remove releases the mountpoint and any in-progress state associated
	// with s. It must be safe to call on either a prepared or a committed
	// snapshot. On the cleanup path of buildcontext.Context.WithSnapshot, a
	// Remove error is attached to the operation's returned error; it is not
	// logged.
	Remove(ctx context.Context, s *Snapshot) error
}
