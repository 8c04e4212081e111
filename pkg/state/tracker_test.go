package state

import (
	"context"
	"testing"
	"time"
)

// trackerTestTimeout is the maximum amount of time that a tracker test will
// wait for a state change notification before failing.
const trackerTestTimeout = 5 * time.Second

func TestTrackerImmediateReadWithZeroIndex(t *testing.T) {
	tracker := NewTracker()
	defer tracker.Terminate()

	index, err := tracker.WaitForChange(context.Background(), 0)
	if err != nil {
		t.Fatal("unexpected error on immediate read:", err)
	}
	if index == 0 {
		t.Error("expected a non-zero state index")
	}
}

func TestTrackerNotifyOfChange(t *testing.T) {
	tracker := NewTracker()
	defer tracker.Terminate()

	results := make(chan error, 1)
	go func() {
		index, err := tracker.WaitForChange(context.Background(), 1)
		if err == nil && index != 2 {
			err = context.DeadlineExceeded
		}
		results <- err
	}()

	tracker.NotifyOfChange()

	select {
	case err := <-results:
		if err != nil {
			t.Fatal("unexpected waiter result:", err)
		}
	case <-time.After(trackerTestTimeout):
		t.Fatal("timeout waiting for change notification")
	}
}

func TestTrackerCancellation(t *testing.T) {
	tracker := NewTracker()
	defer tracker.Terminate()

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan error, 1)
	go func() {
		_, err := tracker.WaitForChange(ctx, 1)
		results <- err
	}()

	cancel()

	select {
	case err := <-results:
		if err != context.Canceled {
			t.Fatal("expected context.Canceled, got:", err)
		}
	case <-time.After(trackerTestTimeout):
		t.Fatal("timeout waiting for cancellation")
	}
}

func TestMarker(t *testing.T) {
	var marker Marker
	if marker.Marked() {
		t.Error("zero-value marker should be unmarked")
	}
	marker.Mark()
	if !marker.Marked() {
		t.Error("marker should be marked after Mark")
	}
	marker.Mark()
	if !marker.Marked() {
		t.Error("marking should be idempotent")
	}
}
