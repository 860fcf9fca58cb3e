// Package source builds a snapshot of everything the configured credentials can see.
package source

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/logfields"
	"git.home.luguber.info/inful/ghbackup/internal/snapshot"
)

// Lister enumerates the forge. Absence from a listing is the only signal that
// something was removed.
type Lister interface {
	ListOrganizations(ctx context.Context) ([]string, error)
	ListRepositories(ctx context.Context, org string) ([]snapshot.Repository, error)
	ListBranches(ctx context.Context, org, repo string) ([]snapshot.Branch, error)
}

// Collect walks the lister and returns the snapshot taken at now. selection maps
// configured organizations to their enabled flag; accessible organizations
// missing from it are reported and treated as disabled. Only a failure to list
// organizations is returned as an error. Lower-level failures mark the level
// incomplete.
func Collect(ctx context.Context, lister Lister, selection map[string]bool, now time.Time) (*snapshot.Snapshot, error) {
	names, err := lister.ListOrganizations(ctx)
	if err != nil {
		if errors.IsClassified(err) {
			return nil, err
		}
		return nil, errors.WrapError(err, errors.CategoryForge, "list organizations").Fatal().Build()
	}

	snap := &snapshot.Snapshot{TakenAt: now}
	for _, name := range names {
		enabled, configured := selection[name]
		if !configured {
			slog.Warn("Organization is accessible but not selected for backup", logfields.Organization(name))
		}
		org := snapshot.Organization{Name: name, Enabled: enabled}
		if enabled {
			collectOrganization(ctx, lister, &org)
		}
		snap.Organizations = append(snap.Organizations, org)
	}
	snap.Sort()
	return snap, nil
}

func collectOrganization(ctx context.Context, lister Lister, org *snapshot.Organization) {
	repos, err := lister.ListRepositories(ctx, org.Name)
	if err != nil {
		slog.Error("Failed to list repositories", logfields.Organization(org.Name), logfields.Error(err))
		return
	}
	org.Complete = true
	for _, repo := range repos {
		branches, err := lister.ListBranches(ctx, org.Name, repo.Name)
		if err != nil {
			slog.Error("Failed to list branches",
				logfields.Organization(org.Name),
				logfields.Repository(repo.Name),
				logfields.Error(err))
			repo.Complete = false
			repo.Branches = nil
		} else {
			repo.Complete = true
			repo.Branches = branches
		}
		org.Repositories = append(org.Repositories, repo)
	}
}
