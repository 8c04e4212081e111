package state

import (
	"context"
	"errors"
	"sync"
)

// ErrTrackingTerminated indicates that tracking was terminated before a
// waiting operation saw any changes, e.g. because the execution context that
// owned the tracker was torn down at the end of a build.
var ErrTrackingTerminated = errors.New("tracking terminated")

// observation is delivered to a waiter when its wait completes.
type observation struct {
	// generation is the tracker generation at the time of the observation.
	generation uint64
	// terminated indicates whether tracking had been terminated at the time
	// of the observation.
	terminated bool
}

// waiter is a single registered WaitForChange call.
type waiter struct {
	// seenGeneration is the last generation the caller observed; the wait
	// completes once the tracker's generation differs from it.
	seenGeneration uint64
	// observations delivers the completing observation. It must be buffered
	// so the notify loop never blocks on a slow waiter.
	observations chan<- observation
}

// Tracker records a monotonically increasing generation for some piece of
// guarded state — in the build core, an execution context's mutable fields
// and head snapshot — and lets callers block until the generation moves past
// the one they last saw. It exists so that code watching a context (e.g. a
// caller polling for head-snapshot advancement) never has to contend for the
// context's own lock or spin.
type Tracker struct {
	// change signals generation advances, termination, and new waiter
	// registrations to the notify loop. Its lock guards every field below.
	change *sync.Cond
	// generation is the current state generation. It starts at 1 so that 0
	// can serve as the "read the current generation immediately" sentinel in
	// WaitForChange. Overflow is not a practical concern: even one update
	// per nanosecond takes centuries to wrap, and the only consequence of a
	// wrap is that a waiter which slept through the entire wrap period might
	// need one extra change before waking.
	generation uint64
	// terminated indicates whether tracking has been terminated.
	terminated bool
	// waiters is the set of currently blocked WaitForChange calls.
	waiters map[*waiter]bool
	// notifyDone is closed once the notify loop has exited.
	notifyDone chan struct{}
}

// NewTracker creates a new tracker with a state generation of 1 and starts
// its notify loop.
func NewTracker() *Tracker {
	tracker := &Tracker{
		change:     sync.NewCond(&sync.Mutex{}),
		generation: 1,
		waiters:    make(map[*waiter]bool),
		notifyDone: make(chan struct{}),
	}

	go tracker.notify()

	return tracker
}

// notify is the notify loop: it bridges the condition variable guarding the
// tracker's fields to the channels its waiters block on.
func (t *Tracker) notify() {
	defer close(t.notifyDone)

	t.change.L.Lock()
	defer t.change.L.Unlock()

	for {
		// On termination, release every remaining waiter with a terminal
		// observation and exit.
		if t.terminated {
			final := observation{t.generation, true}
			for w := range t.waiters {
				w.observations <- final
				delete(t.waiters, w)
			}
			return
		}

		// Release any waiter whose last-seen generation is now stale. The
		// generation only ever advances, so inequality is sufficient.
		for w := range t.waiters {
			if w.seenGeneration != t.generation {
				w.observations <- observation{t.generation, false}
				delete(t.waiters, w)
			}
		}

		// Wait for the next generation advance, registration, or
		// termination.
		t.change.Wait()
	}
}

// Terminate terminates tracking, releasing all current and future waiters
// with ErrTrackingTerminated. It blocks until the notify loop has exited.
func (t *Tracker) Terminate() {
	t.change.L.Lock()
	t.terminated = true
	t.change.Signal()
	t.change.L.Unlock()

	<-t.notifyDone
}

// NotifyOfChange advances the state generation and releases any waiters that
// have not yet seen the new generation. It is invoked by TrackingLock.Unlock
// whenever guarded state may have changed.
func (t *Tracker) NotifyOfChange() {
	t.change.L.Lock()
	defer t.change.L.Unlock()

	// Advance the generation, skipping 0 on wrap so it keeps its meaning as
	// the immediate-read sentinel.
	t.generation++
	if t.generation == 0 {
		t.generation = 1
	}

	t.change.Signal()
}

// WaitForChange blocks until the state generation differs from
// previousGeneration and returns the generation at which the change was
// observed. If tracking is terminated first, the current generation is
// returned along with ErrTrackingTerminated. If ctx is cancelled first, the
// current generation is returned along with context.Canceled. A
// previousGeneration of 0 requests an immediate read of the current
// generation (which is always greater than 0).
func (t *Tracker) WaitForChange(ctx context.Context, previousGeneration uint64) (uint64, error) {
	// Handle immediate reads without registering a waiter.
	if previousGeneration == 0 {
		t.change.L.Lock()
		defer t.change.L.Unlock()
		if t.terminated {
			return t.generation, ErrTrackingTerminated
		}
		return t.generation, nil
	}

	t.change.L.Lock()

	// If tracking has already been terminated, then waiting can never
	// complete.
	if t.terminated {
		defer t.change.L.Unlock()
		return t.generation, ErrTrackingTerminated
	}

	// Register a waiter and wake the notify loop so it can check whether the
	// wait is already satisfiable.
	observations := make(chan observation, 1)
	w := &waiter{previousGeneration, observations}
	t.waiters[w] = true
	t.change.Signal()
	t.change.L.Unlock()

	// Block until the wait completes or the caller gives up. On
	// cancellation, the waiter is deregistered here; on completion, the
	// notify loop has already deregistered it.
	select {
	case <-ctx.Done():
		t.change.L.Lock()
		delete(t.waiters, w)
		defer t.change.L.Unlock()
		return t.generation, context.Canceled
	case o := <-observations:
		if o.terminated {
			return o.generation, ErrTrackingTerminated
		}
		return o.generation, nil
	}
}
