package git

import (
	"context"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

// IsAncestor reports whether oldCommit is reachable from newCommit in the
// mirror of repo. Unknown commits are errors rather than a negative answer; an
// oldCommit absent from the mirror is a CategoryNotFound error.
func (c *Client) IsAncestor(ctx context.Context, repo state.Key, oldCommit, newCommit string) (bool, error) {
	r, err := c.open(repo)
	if err != nil {
		return false, errors.WrapError(err, errors.CategoryGit, "cannot open mirror for ancestry walk").
			WithContext("repository", repo.String()).
			Build()
	}
	old := plumbing.NewHash(oldCommit)
	if _, err := r.CommitObject(old); err != nil {
		return false, errors.WrapError(err, errors.CategoryNotFound, "commit missing from mirror").
			WithContext("repository", repo.String()).
			WithContext("commit", oldCommit).
			Build()
	}
	ok, err := isAncestor(ctx, r, old, plumbing.NewHash(newCommit))
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, errors.WrapError(err, errors.CategoryGit, "ancestry walk failed").
			WithContext("repository", repo.String()).
			WithContext("old", oldCommit).
			WithContext("new", newCommit).
			Build()
	}
	return ok, nil
}

// isAncestor walks parents breadth-first from b looking for a.
func isAncestor(ctx context.Context, repo *git.Repository, a, b plumbing.Hash) (bool, error) {
	if _, err := repo.CommitObject(a); err != nil {
		return false, err
	}
	if a == b {
		return true, nil
	}
	seen := map[plumbing.Hash]struct{}{}
	queue := []plumbing.Hash{b}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		h := queue[0]
		queue = queue[1:]
		if h == a {
			return true, nil
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		commit, err := repo.CommitObject(h)
		if err != nil {
			return false, err
		}
		queue = append(queue, commit.ParentHashes...)
	}
	return false, nil
}
