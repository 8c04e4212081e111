package content

import (
	"testing"

	"github.com/container-build/buildcore/pkg/buildcoreerrors"
)

type payload struct {
	Value string `json:"value"`
}

func TestIngestSessionRoundTrip(t *testing.T) {
	store := NewInMemoryStore()

	session, writer, err := store.NewIngestSession()
	if err != nil {
		t.Fatalf("new session failed: %v", err)
	}

	if _, err := writer.Write([]byte(`{"value":"hello"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	d := writer.Digest()

	if err := store.CompleteIngestSession(session); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	var decoded payload
	if err := store.Get(d, &decoded); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if decoded.Value != "hello" {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}

func TestCancelledSessionLeavesNoBlob(t *testing.T) {
	store := NewInMemoryStore()

	session, writer, err := store.NewIngestSession()
	if err != nil {
		t.Fatalf("new session failed: %v", err)
	}
	writer.Write([]byte(`{"value":"discarded"}`))
	writer.Close()
	d := writer.Digest()

	if err := store.CancelIngestSession(session); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	var decoded payload
	err = store.Get(d, &decoded)
	if err == nil {
		t.Fatal("expected get to fail for a cancelled session's digest")
	}
	if buildcoreerrors.KindOf(err) != buildcoreerrors.KindNotFound {
		t.Errorf("expected KindNotFound, got %s", buildcoreerrors.KindOf(err))
	}
}

func TestDeleteRemovesBlob(t *testing.T) {
	store := NewInMemoryStore()

	session, writer, _ := store.NewIngestSession()
	writer.Write([]byte(`{"value":"x"}`))
	writer.Close()
	d := writer.Digest()
	store.CompleteIngestSession(session)

	if err := store.Delete(d); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	var decoded payload
	if err := store.Get(d, &decoded); err == nil {
		t.Error("expected get to fail after delete")
	}
}
