package state

import (
	"fmt"
	"time"
)

// Kind distinguishes the three tracked entity levels.
type Kind string

const (
	KindOrganization Kind = "organization"
	KindRepository   Kind = "repository"
	KindBranch       Kind = "branch"
)

// Status is the lifecycle state of a tracked entity.
type Status string

const (
	StatusActive          Status = "ACTIVE"
	StatusOrphaned        Status = "ORPHANED"
	StatusRemoved         Status = "REMOVED"
	StatusAbandoned       Status = "ABANDONED"
	StatusPendingDeletion Status = "PENDING_DELETION"
	StatusDeleted         Status = "DELETED"
)

// Key identifies an entity. Organizations set only Organization, repositories add
// Repository, branches add Branch.
type Key struct {
	Organization string
	Repository   string
	Branch       string
}

func OrgKey(org string) Key                  { return Key{Organization: org} }
func RepoKey(org, repo string) Key           { return Key{Organization: org, Repository: repo} }
func BranchKey(org, repo, branch string) Key { return Key{Organization: org, Repository: repo, Branch: branch} }

// Kind derives the entity kind from which key parts are set.
func (k Key) Kind() Kind {
	switch {
	case k.Branch != "":
		return KindBranch
	case k.Repository != "":
		return KindRepository
	default:
		return KindOrganization
	}
}

// Parent returns the owning entity key; organizations have none.
func (k Key) Parent() (Key, bool) {
	switch k.Kind() {
	case KindBranch:
		return RepoKey(k.Organization, k.Repository), true
	case KindRepository:
		return OrgKey(k.Organization), true
	default:
		return Key{}, false
	}
}

// Repo returns the repository key of a repository or branch key.
func (k Key) Repo() Key { return RepoKey(k.Organization, k.Repository) }

func (k Key) String() string {
	switch k.Kind() {
	case KindBranch:
		return fmt.Sprintf("%s/%s@%s", k.Organization, k.Repository, k.Branch)
	case KindRepository:
		return k.Organization + "/" + k.Repository
	default:
		return k.Organization
	}
}

// Less orders keys parent-first, lexicographically within a level.
func (k Key) Less(o Key) bool {
	if k.Organization != o.Organization {
		return k.Organization < o.Organization
	}
	if k.Repository != o.Repository {
		return k.Repository < o.Repository
	}
	return k.Branch < o.Branch
}

// Entity is one timeline of a tracked organization, repository or branch.
// A DELETED entity is never revived; reappearance creates a new Entity.
type Entity struct {
	ID            int64
	Key           Key
	Status        Status
	DefaultBranch string // repositories
	HeadCommit    string // branches
	Preserved     bool   // branch created to pin a force-pushed-away head
	FirstSeen     time.Time
	LastSeen      time.Time
	MissingSince  *time.Time
}

func (e Entity) Kind() Kind { return e.Key.Kind() }

// Live reports whether the entity has not been deleted.
func (e Entity) Live() bool { return e.Status != StatusDeleted }

// Clone returns a deep copy.
func (e Entity) Clone() Entity {
	if e.MissingSince != nil {
		t := *e.MissingSince
		e.MissingSince = &t
	}
	return e
}

// EventKind is the type of a RetentionEvent.
type EventKind string

const (
	EventWarned  EventKind = "WARNED"
	EventDeleted EventKind = "DELETED"
)

// RetentionEvent is one append-only audit record.
type RetentionEvent struct {
	ID       int64
	EntityID int64
	Key      Key
	Event    EventKind
	At       time.Time
	RunID    string
}

// Preservation records that Source's head moved non-ancestrally from Commit to
// NewHead and that Commit was pinned under the branch Name.
type Preservation struct {
	ID        int64
	Source    Key
	Name      string
	Commit    string
	NewHead   string
	CreatedAt time.Time
	RunID     string
}

// BranchKey is the key of the pinned preservation branch.
func (p Preservation) BranchKey() Key {
	return BranchKey(p.Source.Organization, p.Source.Repository, p.Name)
}

// transitions lists the allowed status changes per kind. Staying in the same
// status is always allowed.
var transitions = map[Kind]map[Status][]Status{
	KindOrganization: {
		StatusActive:          {StatusOrphaned},
		StatusOrphaned:        {StatusActive, StatusPendingDeletion},
		StatusPendingDeletion: {StatusActive, StatusDeleted},
	},
	KindRepository: {
		StatusActive:          {StatusRemoved},
		StatusRemoved:         {StatusActive, StatusPendingDeletion},
		StatusPendingDeletion: {StatusActive, StatusDeleted},
	},
	KindBranch: {
		StatusActive:          {StatusRemoved},
		StatusRemoved:         {StatusActive, StatusPendingDeletion},
		StatusAbandoned:       {StatusPendingDeletion},
		StatusPendingDeletion: {StatusActive, StatusDeleted},
	},
}

// ValidTransition reports whether an entity may move from one status to another.
// Preserved branches never return to ACTIVE.
func ValidTransition(kind Kind, preserved bool, from, to Status) bool {
	if from == to {
		return from != StatusDeleted
	}
	if preserved && to == StatusActive {
		return false
	}
	for _, s := range transitions[kind][from] {
		if s == to {
			return true
		}
	}
	return false
}

// InitialStatus reports whether a new entity may be created in status s.
func InitialStatus(kind Kind, preserved bool, s Status) bool {
	if preserved {
		return kind == KindBranch && s == StatusAbandoned
	}
	return s == StatusActive
}
