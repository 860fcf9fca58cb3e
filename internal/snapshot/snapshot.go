// Package snapshot describes what the forge exposed during one run.
package snapshot

import (
	"sort"
	"time"
)

// Snapshot is the observed organization, repository and branch tree.
type Snapshot struct {
	TakenAt       time.Time
	Organizations []Organization
}

// Organization is one accessible organization. Disabled organizations are
// listed but never polled, so their Repositories are empty.
type Organization struct {
	Name         string
	Enabled      bool
	Complete     bool // repository listing succeeded
	Repositories []Repository
}

// Repository is one repository of an organization.
type Repository struct {
	Name          string
	DefaultBranch string
	CloneURL      string
	Complete      bool // branch listing succeeded
	Branches      []Branch
}

// Branch is one branch head.
type Branch struct {
	Name       string
	HeadCommit string
}

// Empty reports whether the repository has no branches to fetch.
func (r Repository) Empty() bool { return len(r.Branches) == 0 }

// Organization returns the named organization.
func (s *Snapshot) Organization(name string) (Organization, bool) {
	for _, o := range s.Organizations {
		if o.Name == name {
			return o, true
		}
	}
	return Organization{}, false
}

// Repository returns the named repository.
func (o Organization) Repository(name string) (Repository, bool) {
	for _, r := range o.Repositories {
		if r.Name == name {
			return r, true
		}
	}
	return Repository{}, false
}

// Branch returns the named branch.
func (r Repository) Branch(name string) (Branch, bool) {
	for _, b := range r.Branches {
		if b.Name == name {
			return b, true
		}
	}
	return Branch{}, false
}

// Sort orders every level by name so consumers iterate deterministically.
func (s *Snapshot) Sort() {
	sort.Slice(s.Organizations, func(i, j int) bool { return s.Organizations[i].Name < s.Organizations[j].Name })
	for i := range s.Organizations {
		repos := s.Organizations[i].Repositories
		sort.Slice(repos, func(a, b int) bool { return repos[a].Name < repos[b].Name })
		for k := range repos {
			br := repos[k].Branches
			sort.Slice(br, func(a, b int) bool { return br[a].Name < br[b].Name })
		}
	}
}

// Counts returns the number of organizations, repositories and branches.
func (s *Snapshot) Counts() (orgs, repos, branches int) {
	for _, o := range s.Organizations {
		orgs++
		for _, r := range o.Repositories {
			repos++
			branches += len(r.Branches)
		}
	}
	return orgs, repos, branches
}
