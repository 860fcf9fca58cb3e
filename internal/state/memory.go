package state

import (
	"context"
	"sync"
	"time"

	"git.home.luguber.info/inful/ghbackup/internal/foundation"
)

// MemoryStore is an in-process Store used by tests and dry runs.
type MemoryStore struct {
	mu            sync.Mutex
	rows          []Entity // index is ID-1
	live          map[Key]int64
	events        []RetentionEvent
	preservations []Preservation
	lead          WarnLead
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{live: make(map[Key]int64)}
}

// SetWarnLead makes RecordRetention refuse deletions inside the warning period.
func (m *MemoryStore) SetWarnLead(lead WarnLead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lead = lead
}

func (m *MemoryStore) Load(ctx context.Context) (*Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entities := make([]Entity, 0, len(m.live))
	warned := make(map[Key]time.Time)
	for k, id := range m.live {
		entities = append(entities, m.rows[id-1])
		if t, ok := m.lastWarnedLocked(id).Get(); ok {
			warned[k] = t
		}
	}
	return NewLedger(entities, warned), nil
}

func (m *MemoryStore) lastWarnedLocked(id int64) foundation.Option[time.Time] {
	out := foundation.None[time.Time]()
	for _, ev := range m.events {
		if ev.EntityID != id || ev.Event != EventWarned {
			continue
		}
		if cur, ok := out.Get(); !ok || ev.At.After(cur) {
			out = foundation.Some(ev.At)
		}
	}
	return out
}

func (m *MemoryStore) ApplyObservations(ctx context.Context, entities []Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate everything first so a rejected batch leaves no partial writes.
	seen := make(map[Key]bool, len(entities))
	for _, e := range entities {
		if seen[e.Key] {
			return duplicate(e.Key)
		}
		seen[e.Key] = true
		var current *Entity
		if id, ok := m.live[e.Key]; ok {
			current = &m.rows[id-1]
		}
		if err := checkObservation(current, e); err != nil {
			return err
		}
	}
	for _, e := range entities {
		m.upsertLocked(e)
	}
	return nil
}

func (m *MemoryStore) upsertLocked(e Entity) {
	if id, ok := m.live[e.Key]; ok {
		e.ID = id
		m.rows[id-1] = e.Clone()
		if !e.Live() {
			delete(m.live, e.Key)
		}
		return
	}
	e.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, e.Clone())
	m.live[e.Key] = e.ID
}

func (m *MemoryStore) RecordPreservation(ctx context.Context, p Preservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	srcID, ok := m.live[p.Source]
	if !ok {
		return notFound(p.Source)
	}
	pinned := abandonedEntity(p)
	if _, exists := m.live[pinned.Key]; exists {
		return duplicate(pinned.Key)
	}
	src := m.rows[srcID-1].Clone()
	src.HeadCommit = p.NewHead
	src.LastSeen = p.CreatedAt

	m.upsertLocked(pinned)
	m.upsertLocked(src)
	p.ID = int64(len(m.preservations) + 1)
	m.preservations = append(m.preservations, p)
	return nil
}

func (m *MemoryStore) RecordRetention(ctx context.Context, key Key, event EventKind, at time.Time, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.live[key]
	if !ok {
		return notFound(key)
	}
	current := m.rows[id-1].Clone()
	next, err := retentionStatus(current, event, m.lastWarnedLocked(id), at, m.lead)
	if err != nil {
		return err
	}
	m.events = append(m.events, RetentionEvent{
		ID:       int64(len(m.events) + 1),
		EntityID: id,
		Key:      key,
		Event:    event,
		At:       at,
		RunID:    runID,
	})
	current.Status = next
	m.upsertLocked(current)
	return nil
}

func (m *MemoryStore) Events(ctx context.Context, key Key) ([]RetentionEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RetentionEvent
	for _, ev := range m.events {
		if ev.Key == key {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *MemoryStore) Preservations(ctx context.Context, repo Key) ([]Preservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Preservation
	for _, p := range m.preservations {
		if p.Source.Repo() == repo.Repo() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) Summary(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Summary
	for _, e := range m.rows {
		s.add(e.Kind(), e.Status, 1)
	}
	for _, ev := range m.events {
		switch ev.Event {
		case EventWarned:
			s.Warnings++
		case EventDeleted:
			s.Deletions++
		}
	}
	s.Preservations = len(m.preservations)
	return s, nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
