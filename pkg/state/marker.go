package state

import (
	"sync/atomic"
)

// Marker is a one-way condition flag, used where the build core only needs
// to know whether something has ever happened — e.g. whether an executor's
// output drain was abandoned on timeout. It is safe for concurrent use and
// cheap enough for hot paths. The zero value of Marker is unmarked.
type Marker struct {
	// marked is the underlying flag storage.
	marked atomic.Bool
}

// Mark idempotently marks the marker.
func (m *Marker) Mark() {
	m.marked.Store(true)
}

// Marked returns whether or not the marker is marked.
func (m *Marker) Marked() bool {
	return m.marked.Load()
}
