package buildcontext

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/container-build/buildcore/pkg/digest"
	"github.com/container-build/buildcore/pkg/snapshot"
)

// fakeSnapshotter simulates prepare/commit/remove with artificial delay so
// tests can observe overlap (or its absence) between concurrent operations.
type fakeSnapshotter struct {
	mu        sync.Mutex
	active    int
	maxActive int32
	delay     time.Duration
}

func (f *fakeSnapshotter) Prepare(ctx context.Context, s *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	f.mu.Lock()
	f.active++
	if int32(f.active) > atomic.LoadInt32(&f.maxActive) {
		atomic.StoreInt32(&f.maxActive, int32(f.active))
	}
	f.mu.Unlock()

	time.Sleep(f.delay)

	return s, nil
}

func (f *fakeSnapshotter) Commit(ctx context.Context, s *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	time.Sleep(f.delay)

	committed := *s
	committed.State = snapshot.StateCommitted
	committed.Digest = digest.FromContent([]byte(string(s.ID)))

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	return &committed, nil
}

func (f *fakeSnapshotter) Remove(ctx context.Context, s *snapshot.Snapshot) error {
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return nil
}

func TestWithSnapshotCommitsAndUpdatesHead(t *testing.T) {
	fs := &fakeSnapshotter{}
	c := New(v1.Platform{OS: "linux", Architecture: "amd64"}, fs, "/tmp/ctx")

	result, committed, err := c.WithSnapshot(context.Background(), "op1", nil, func(s *snapshot.Snapshot) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("withSnapshot failed: %v", err)
	}
	if result != "ok" {
		t.Errorf("unexpected result: %v", result)
	}
	if committed.State != snapshot.StateCommitted {
		t.Errorf("expected committed snapshot, got state %s", committed.State)
	}

	// The head must now be the just-committed snapshot.
	head := c.HeadSnapshot()
	if head == nil || head.ID != committed.ID {
		t.Error("expected head snapshot to be updated to the committed snapshot")
	}
}

func TestWithSnapshotCleansUpOnFailure(t *testing.T) {
	fs := &fakeSnapshotter{}
	c := New(v1.Platform{OS: "linux", Architecture: "amd64"}, fs, "/tmp/ctx")

	_, _, err := c.WithSnapshot(context.Background(), "op1", nil, func(s *snapshot.Snapshot) (interface{}, error) {
		return nil, errBody
	})
	if err == nil {
		t.Fatal("expected error to propagate from a failing body")
	}

	if c.HeadSnapshot() != nil {
		t.Error("expected head snapshot to remain unset after a failed operation")
	}
}

// Two concurrent WithSnapshot calls in the same context must never observe
// overlapping prepared windows.
func TestFSPermitMutualExclusion(t *testing.T) {
	fs := &fakeSnapshotter{delay: 20 * time.Millisecond}
	c := New(v1.Platform{OS: "linux", Architecture: "amd64"}, fs, "/tmp/ctx")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.WithSnapshot(context.Background(), OperationID(itoa(n)), nil, func(s *snapshot.Snapshot) (interface{}, error) {
				return nil, nil
			})
		}(i)
	}
	wg.Wait()

	if atomic.LoadInt32(&fs.maxActive) > 1 {
		t.Errorf("expected at most 1 concurrently active snapshot, observed %d", fs.maxActive)
	}
}

var errBody = &bodyError{"body failed"}

type bodyError struct{ message string }

func (e *bodyError) Error() string { return e.message }
