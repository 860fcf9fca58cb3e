package state

import (
	"context"
	"time"

	"git.home.luguber.info/inful/ghbackup/internal/foundation"
	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
)

// Store is the durable record of everything ever observed. Every mutating call
// is one transaction and locates the live entity by key.
type Store interface {
	// Load returns a consistent view of every non-DELETED entity.
	Load(ctx context.Context) (*Ledger, error)
	// ApplyObservations inserts new entities and updates existing ones.
	ApplyObservations(ctx context.Context, entities []Entity) error
	// RecordPreservation stores p, creates its ABANDONED branch and moves the
	// live branch head to p.NewHead.
	RecordPreservation(ctx context.Context, p Preservation) error
	// RecordRetention appends a retention event and advances the entity status:
	// WARNED moves it to PENDING_DELETION, DELETED to DELETED.
	RecordRetention(ctx context.Context, key Key, event EventKind, at time.Time, runID string) error
	// Events returns the retention history of every timeline of key.
	Events(ctx context.Context, key Key) ([]RetentionEvent, error)
	// Preservations returns the preservation records of a repository.
	Preservations(ctx context.Context, repo Key) ([]Preservation, error)
	Summary(ctx context.Context) (Summary, error)
	Close() error
}

// Summary aggregates the store for status reporting.
type Summary struct {
	Counts        map[Kind]map[Status]int
	Preservations int
	Warnings      int
	Deletions     int
}

func (s *Summary) add(kind Kind, status Status, n int) {
	if s.Counts == nil {
		s.Counts = make(map[Kind]map[Status]int)
	}
	if s.Counts[kind] == nil {
		s.Counts[kind] = make(map[Status]int)
	}
	s.Counts[kind][status] += n
}

var (
	// ErrEntityNotFound indicates no live entity exists for a key.
	ErrEntityNotFound = errors.StoreError("no live entity for key").Build()
	// ErrDuplicateEntity indicates a live entity already exists for a key.
	ErrDuplicateEntity = errors.StoreError("live entity already exists for key").Build()
	// ErrInvalidTransition indicates a status change outside the lifecycle.
	ErrInvalidTransition = errors.StoreError("invalid status transition").Build()
	// ErrMissingWarning indicates a DELETED event without a prior WARNED event.
	ErrMissingWarning = errors.StoreError("deletion requires a prior WARNED event").Build()
	// ErrWarningTooRecent indicates a DELETED event inside the warning period.
	ErrWarningTooRecent = errors.StoreError("deletion before the warning period elapsed").Build()
)

// WarnLead is the minimum time between an entity's WARNED and DELETED events.
type WarnLead func(Entity) time.Duration

func notFound(k Key) error {
	return errors.StoreError(ErrEntityNotFound.Message()).WithContext("key", k.String()).Build()
}

func duplicate(k Key) error {
	return errors.StoreError(ErrDuplicateEntity.Message()).WithContext("key", k.String()).Build()
}

func invalidTransition(k Key, from, to Status) error {
	return errors.StoreError(ErrInvalidTransition.Message()).
		WithContext("key", k.String()).
		WithContext("from", string(from)).
		WithContext("to", string(to)).
		Build()
}

// checkObservation validates writing next over current (nil when the key is new).
func checkObservation(current *Entity, next Entity) error {
	if next.Status == StatusDeleted {
		// Only RecordRetention deletes.
		return invalidTransition(next.Key, "", next.Status)
	}
	if current == nil {
		if !InitialStatus(next.Kind(), next.Preserved, next.Status) {
			return invalidTransition(next.Key, "", next.Status)
		}
		return nil
	}
	if current.Preserved != next.Preserved {
		return invalidTransition(next.Key, current.Status, next.Status)
	}
	if !ValidTransition(next.Kind(), next.Preserved, current.Status, next.Status) {
		return invalidTransition(next.Key, current.Status, next.Status)
	}
	return nil
}

// retentionStatus validates a retention event against the entity and returns
// the status it moves to.
func retentionStatus(current Entity, event EventKind, lastWarned foundation.Option[time.Time], at time.Time, lead WarnLead) (Status, error) {
	var next Status
	switch event {
	case EventWarned:
		next = StatusPendingDeletion
	case EventDeleted:
		warned, ok := lastWarned.Get()
		if !ok || warned.After(at) {
			return "", errors.StoreError(ErrMissingWarning.Message()).WithContext("key", current.Key.String()).Build()
		}
		if lead != nil {
			if due := warned.Add(lead(current)); at.Before(due) {
				return "", errors.StoreError(ErrWarningTooRecent.Message()).
					WithContext("key", current.Key.String()).
					WithContext("due", due).
					Build()
			}
		}
		next = StatusDeleted
	default:
		return "", errors.StoreError("unknown retention event").WithContext("event", string(event)).Build()
	}
	if !ValidTransition(current.Kind(), current.Preserved, current.Status, next) {
		return "", invalidTransition(current.Key, current.Status, next)
	}
	return next, nil
}

// abandonedEntity is the branch row pinning a preserved commit.
func abandonedEntity(p Preservation) Entity {
	at := p.CreatedAt
	return Entity{
		Key:          p.BranchKey(),
		Status:       StatusAbandoned,
		HeadCommit:   p.Commit,
		Preserved:    true,
		FirstSeen:    at,
		LastSeen:     at,
		MissingSince: &at,
	}
}
