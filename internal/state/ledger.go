package state

import (
	"sort"
	"time"

	"git.home.luguber.info/inful/ghbackup/internal/foundation"
)

// Ledger is an in-memory view of the tracked entities and the latest WARNED
// timestamp of each. It is loaded once per run and never shared across goroutines.
type Ledger struct {
	entities   map[Key]Entity
	lastWarned map[Key]time.Time
}

// NewLedger builds a ledger from live entities and their latest warnings.
func NewLedger(entities []Entity, lastWarned map[Key]time.Time) *Ledger {
	l := &Ledger{
		entities:   make(map[Key]Entity, len(entities)),
		lastWarned: make(map[Key]time.Time, len(lastWarned)),
	}
	for _, e := range entities {
		l.entities[e.Key] = e.Clone()
	}
	for k, t := range lastWarned {
		l.lastWarned[k] = t
	}
	return l
}

// Get returns the entity stored under k, including DELETED ones recorded in this view.
func (l *Ledger) Get(k Key) (Entity, bool) {
	e, ok := l.entities[k]
	if !ok {
		return Entity{}, false
	}
	return e.Clone(), true
}

// GetLive returns the entity under k unless it is absent or DELETED.
func (l *Ledger) GetLive(k Key) (Entity, bool) {
	e, ok := l.Get(k)
	if !ok || !e.Live() {
		return Entity{}, false
	}
	return e, true
}

// Put stores e, replacing any entity with the same key. Replacing a DELETED
// entity drops its warning history since the new entity starts a new timeline.
func (l *Ledger) Put(e Entity) {
	if prev, ok := l.entities[e.Key]; ok && !prev.Live() && e.Live() {
		delete(l.lastWarned, e.Key)
	}
	l.entities[e.Key] = e.Clone()
}

// MarkWarned records a warning at t for the entity under k.
func (l *Ledger) MarkWarned(k Key, t time.Time) {
	l.lastWarned[k] = t
}

// LastWarned returns the most recent warning of the entity under k.
func (l *Ledger) LastWarned(k Key) foundation.Option[time.Time] {
	if t, ok := l.lastWarned[k]; ok {
		return foundation.Some(t)
	}
	return foundation.None[time.Time]()
}

// Entities returns every entity sorted parent-first by key.
func (l *Ledger) Entities() []Entity {
	out := make([]Entity, 0, len(l.entities))
	for _, e := range l.entities {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// Children returns the direct children of k sorted by key.
func (l *Ledger) Children(k Key) []Entity {
	var out []Entity
	for key, e := range l.entities {
		if p, ok := key.Parent(); ok && p == k {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// Len returns the number of entities in the view.
func (l *Ledger) Len() int { return len(l.entities) }

// Clone returns an independent copy.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		entities:   make(map[Key]Entity, len(l.entities)),
		lastWarned: make(map[Key]time.Time, len(l.lastWarned)),
	}
	for k, e := range l.entities {
		c.entities[k] = e.Clone()
	}
	for k, t := range l.lastWarned {
		c.lastWarned[k] = t
	}
	return c
}
