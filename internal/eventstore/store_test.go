package eventstore

import (
	"bytes"
	"testing"
	"time"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
)

const testRunID = "3f1f2c1e-8d0a-4c55-9a4e-0a4d8c1f2b77"

func newMemoryStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEventStoreAppendAndRetrieve(t *testing.T) {
	store := newMemoryStore(t)
	ctx := t.Context()
	at := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)

	e := &BaseEvent{
		EventRunID:     testRunID,
		EventType:      "TestEvent",
		EventTimestamp: at,
		EventPayload:   []byte(`{"test": "data"}`),
		EventMetadata:  map[string]string{"key": "value"},
	}
	if err := store.Append(ctx, e); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}

	events, err := store.GetByRunID(ctx, testRunID)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.ID() == 0 {
		t.Errorf("expected an assigned id")
	}
	if got.RunID() != testRunID || got.Type() != "TestEvent" {
		t.Errorf("unexpected event %s/%s", got.RunID(), got.Type())
	}
	if !got.Timestamp().Equal(at) {
		t.Errorf("expected timestamp %v, got %v", at, got.Timestamp())
	}
	if !bytes.Equal(got.Payload(), e.EventPayload) {
		t.Errorf("expected payload %s, got %s", e.EventPayload, got.Payload())
	}
	if got.Metadata()["key"] != "value" {
		t.Errorf("expected metadata key=value, got %v", got.Metadata())
	}
}

func TestEventStoreGetRange(t *testing.T) {
	store := newMemoryStore(t)
	ctx := t.Context()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, typ := range []string{"A", "B", "C"} {
		e := &BaseEvent{EventRunID: "run", EventType: typ, EventTimestamp: base.Add(time.Duration(i) * time.Hour)}
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}

	events, err := store.GetRange(ctx, base.Add(30*time.Minute), base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(events) != 2 || events[0].Type() != "B" || events[1].Type() != "C" {
		t.Fatalf("expected B and C, got %d events", len(events))
	}
}

func TestEventStoreClosedDatabase(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	_ = store.Close()

	_, err = store.GetByRunID(t.Context(), testRunID)
	if !errors.HasCategory(err, errors.CategoryEventStore) {
		t.Fatalf("expected eventstore error, got %v", err)
	}
}
