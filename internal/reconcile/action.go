// Package reconcile diffs a snapshot against the ledger and plans the side
// effects that bring the backup in line with it. It performs no I/O of its own
// apart from ancestry queries.
package reconcile

import (
	"time"

	"git.home.luguber.info/inful/ghbackup/internal/state"
)

// ActionKind names what an Action does.
type ActionKind string

const (
	ActionFetch    ActionKind = "FETCH"
	ActionPreserve ActionKind = "PRESERVE_BRANCH"
	ActionWarn     ActionKind = "WARN"
	ActionDelete   ActionKind = "DELETE"
)

// Action is one planned side effect.
type Action struct {
	Kind ActionKind
	Key  state.Key

	// CloneURL is set for FETCH.
	CloneURL string
	// Preservation is set for PRESERVE_BRANCH.
	Preservation state.Preservation
	// Entity is the tracked entity a WARN or DELETE applies to.
	Entity state.Entity
	// Deadline is when a warned entity becomes eligible for deletion.
	Deadline time.Time
	// At is the reconciliation instant a WARN or DELETE is recorded at.
	At time.Time
	// DependsOn lists the IDs of actions that must succeed first.
	DependsOn []string
}

// ID identifies the action within one plan.
func (a Action) ID() string { return string(a.Kind) + " " + a.Key.String() }

// kindRank orders DELETE actions bottom-up.
func kindRank(k state.Kind) int {
	switch k {
	case state.KindBranch:
		return 0
	case state.KindRepository:
		return 1
	default:
		return 2
	}
}

func actionRank(a Action) int {
	switch a.Kind {
	case ActionFetch:
		return 0
	case ActionPreserve:
		return 1
	case ActionWarn:
		return 2
	default:
		return 3 + kindRank(a.Key.Kind())
	}
}

// less is the deterministic plan order.
func less(a, b Action) bool {
	if ra, rb := actionRank(a), actionRank(b); ra != rb {
		return ra < rb
	}
	return a.Key.Less(b.Key)
}
