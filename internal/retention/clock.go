// Package retention decides when a missing entity is warned about and deleted.
package retention

import (
	"time"

	"git.home.luguber.info/inful/ghbackup/internal/config"
	"git.home.luguber.info/inful/ghbackup/internal/foundation"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

// Decision is the outcome of evaluating one entity.
type Decision string

const (
	None   Decision = "NONE"
	Warn   Decision = "WARN"
	Delete Decision = "DELETE"
)

// Policy is a grace period and the warning lead time before it expires.
type Policy struct {
	Grace time.Duration
	Warn  time.Duration
}

// Config holds one Policy per retention class.
type Config struct {
	AbandonedBranches     Policy
	RemovedBranches       Policy
	RemovedRepositories   Policy
	OrphanedOrganizations Policy
	// RetainRepositories exempts removed repositories from deletion, which
	// also keeps their organizations.
	RetainRepositories bool
}

// FromTracker builds the retention config from validated tracker settings.
func FromTracker(t config.TrackerConfig) Config {
	return Config{
		AbandonedBranches: Policy{
			Grace: t.DeleteAbandonedBranchesAfter.Std(),
			Warn:  t.WarnBeforeAbandonedBranchDeletion.Std(),
		},
		RemovedBranches: Policy{
			Grace: t.DeleteRemovedBranchesAfter.Std(),
			Warn:  t.WarnBeforeBranchDeletion.Std(),
		},
		RemovedRepositories: Policy{
			Grace: t.DeleteRemovedRepositoriesAfter.Std(),
			Warn:  t.WarnBeforeRepositoryDeletion.Std(),
		},
		OrphanedOrganizations: Policy{
			Grace: t.DeleteOrphanedOrganizationsAfter.Std(),
			Warn:  t.WarnBeforeOrphanedOrganizationDeletion.Std(),
		},
		RetainRepositories: t.RetainsRepositories(),
	}
}

// PolicyFor selects the policy governing e.
func (c Config) PolicyFor(e state.Entity) Policy {
	switch e.Kind() {
	case state.KindOrganization:
		return c.OrphanedOrganizations
	case state.KindRepository:
		return c.RemovedRepositories
	default:
		if e.Preserved {
			return c.AbandonedBranches
		}
		return c.RemovedBranches
	}
}

// Aging reports whether e is in a status the clock runs for.
func Aging(e state.Entity) bool {
	switch e.Status {
	case state.StatusRemoved, state.StatusOrphaned, state.StatusAbandoned, state.StatusPendingDeletion:
		return true
	default:
		return false
	}
}

// Start is the instant the clock started for e.
func Start(e state.Entity) time.Time {
	if e.MissingSince != nil {
		return *e.MissingSince
	}
	return e.FirstSeen
}

// DeleteAfter is the earliest instant e may be deleted, ignoring the warning.
func DeleteAfter(e state.Entity, c Config) time.Time {
	return Start(e).Add(c.PolicyFor(e).Grace)
}

// WarnAfter is the earliest instant e may be warned about.
func WarnAfter(e state.Entity, c Config) time.Time {
	p := c.PolicyFor(e)
	return Start(e).Add(p.Grace - p.Warn)
}

// Evaluate decides what to do with e at now. lastWarned is the latest warning
// of e's current timeline; warnings from before the clock start are ignored.
func Evaluate(e state.Entity, lastWarned foundation.Option[time.Time], now time.Time, c Config) Decision {
	if !Aging(e) || (c.RetainRepositories && e.Kind() == state.KindRepository) {
		return None
	}
	start := Start(e)
	p := c.PolicyFor(e)
	warned := lastWarned.Filter(func(t time.Time) bool { return !t.Before(start) })

	if w, ok := warned.Get(); ok {
		if !now.Before(start.Add(p.Grace)) && !now.Before(w.Add(p.Warn)) {
			return Delete
		}
		return None
	}
	if !now.Before(start.Add(p.Grace - p.Warn)) {
		return Warn
	}
	return None
}
