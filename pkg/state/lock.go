// Package state provides the change-observation primitives the build core
// uses around its execution contexts: a generation Tracker, a TrackingLock
// that advances the tracker on unlock, and an atomic Marker for one-way
// condition flags.
package state

import (
	"sync"
)

// TrackingLock pairs a mutex with a Tracker so that every mutation of the
// guarded state (an execution context's environment, working directory, or
// head snapshot) automatically advances the tracker's generation on unlock,
// making the change observable through Tracker.WaitForChange.
type TrackingLock struct {
	// lock is the underlying mutex.
	lock sync.Mutex
	// tracker is the tracker advanced on each notifying unlock.
	tracker *Tracker
}

// NewTrackingLock creates a new tracking lock bound to the specified
// tracker.
func NewTrackingLock(tracker *Tracker) *TrackingLock {
	return &TrackingLock{
		tracker: tracker,
	}
}

// Lock locks the tracking lock.
func (l *TrackingLock) Lock() {
	l.lock.Lock()
}

// Unlock unlocks the tracking lock and advances the tracker's generation,
// releasing any waiters observing the guarded state.
func (l *TrackingLock) Unlock() {
	l.lock.Unlock()
	l.tracker.NotifyOfChange()
}

// UnlockWithoutNotify unlocks the tracking lock without advancing the
// tracker. It is used on read-only critical sections, where waking waiters
// would report a change that never happened.
func (l *TrackingLock) UnlockWithoutNotify() {
	l.lock.Unlock()
}
