// Package content defines the content store interface the cache layer
// consumes: an ingest-session-based write path (open a
// session, write into it, then finalize or discard) and a typed get/delete
// read path, plus an in-memory implementation used in tests and as a
// reference. The real on-disk content-addressable store lives behind this
// contract.
package content

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/container-build/buildcore/pkg/buildcoreerrors"
	"github.com/container-build/buildcore/pkg/digest"
)

// SessionID identifies an in-flight ingest session.
type SessionID string

// Writer writes a single value into an ingest session and reports the size
// and canonical digest of what was written once closed.
type Writer interface {
	io.WriteCloser
	// Digest returns the digest of everything written so far. It is only
	// meaningful after Close.
	Digest() digest.Digest
	// Size returns the number of bytes written so far. It is only
	// meaningful after Close.
	Size() int64
}

// Store is the content store contract consumed by the cache layer.
type Store interface {
	// NewIngestSession opens a new ingest session and returns its id along
	// with a writer that serializes bytes into the session.
	NewIngestSession() (SessionID, Writer, error)
	// CompleteIngestSession finalizes session, making its written content
	// durably retrievable under the digest reported by its Writer.
	CompleteIngestSession(session SessionID) error
	// CancelIngestSession discards session and any bytes written to it.
	CancelIngestSession(session SessionID) error
	// Get fetches the blob at d and unmarshals it into v (JSON). It returns
	// a buildcoreerrors-tagged KindNotFound error if no blob exists at d.
	Get(d digest.Digest, v interface{}) error
	// Delete removes the blobs at the given digests. Deleting a digest that
	// does not exist is not an error.
	Delete(digests ...digest.Digest) error
}

// InMemoryStore is a Store backed by an in-process map, suitable for tests
// and for embedding applications that don't need real persistence.
type InMemoryStore struct {
	mu       sync.Mutex
	blobs    map[digest.Digest][]byte
	sessions map[SessionID]*bytes.Buffer
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		blobs:    make(map[digest.Digest][]byte),
		sessions: make(map[SessionID]*bytes.Buffer),
	}
}

type memoryWriter struct {
	store   *InMemoryStore
	session SessionID
	buffer  *bytes.Buffer
	digest  digest.Digest
	size    int64
	closed  bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write to closed content writer")
	}
	return w.buffer.Write(p)
}

func (w *memoryWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.digest = digest.FromContent(w.buffer.Bytes())
	w.size = int64(w.buffer.Len())
	return nil
}

func (w *memoryWriter) Digest() digest.Digest { return w.digest }
func (w *memoryWriter) Size() int64           { return w.size }

// NewIngestSession implements Store.
func (s *InMemoryStore) NewIngestSession() (SessionID, Writer, error) {
	id := SessionID(uuid.NewString())

	s.mu.Lock()
	buffer := &bytes.Buffer{}
	s.sessions[id] = buffer
	s.mu.Unlock()

	return id, &memoryWriter{store: s, session: id, buffer: buffer}, nil
}

// CompleteIngestSession implements Store.
func (s *InMemoryStore) CompleteIngestSession(session SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buffer, ok := s.sessions[session]
	if !ok {
		return buildcoreerrors.New(buildcoreerrors.KindNotFound, "unknown ingest session")
	}
	delete(s.sessions, session)

	d := digest.FromContent(buffer.Bytes())
	stored := make([]byte, buffer.Len())
	copy(stored, buffer.Bytes())
	s.blobs[d] = stored

	return nil
}

// CancelIngestSession implements Store.
func (s *InMemoryStore) CancelIngestSession(session SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session)
	return nil
}

// Get implements Store.
func (s *InMemoryStore) Get(d digest.Digest, v interface{}) error {
	s.mu.Lock()
	blob, ok := s.blobs[d]
	s.mu.Unlock()

	if !ok {
		return buildcoreerrors.New(buildcoreerrors.KindNotFound, "no blob at digest "+d.String())
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return buildcoreerrors.WithKind(buildcoreerrors.KindInvalidFormat, err, "unable to decode blob")
	}
	return nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(digests ...digest.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range digests {
		delete(s.blobs, d)
	}
	return nil
}
