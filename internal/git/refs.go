package git

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/logfields"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

// ErrRefConflict is returned when a ref already points somewhere else.
var ErrRefConflict = errors.NewError(errors.CategoryGit, "branch already exists at another commit").Build()

// CreateRef points branch name of repo's mirror at commit. Creating a ref that
// already has that target is a no-op; an existing ref is never moved.
func (c *Client) CreateRef(_ context.Context, repo state.Key, name, commit string) error {
	r, err := c.open(repo)
	if err != nil {
		return err
	}
	refName := plumbing.NewBranchReferenceName(name)
	hash := plumbing.NewHash(commit)

	existing, err := r.Reference(refName, false)
	switch {
	case err == nil:
		if existing.Hash() == hash {
			return nil
		}
		return ErrRefConflict.
			WithContext("repository", repo.String()).
			WithContext("ref", refName.String()).
			WithContext("current", existing.Hash().String())
	case !stderrors.Is(err, plumbing.ErrReferenceNotFound):
		return errors.WrapError(err, errors.CategoryGit, "failed to read ref").
			WithContext("ref", refName.String()).
			Build()
	}

	if _, err := r.CommitObject(hash); err != nil {
		return errors.WrapError(err, errors.CategoryGit, "commit missing from mirror").
			WithContext("repository", repo.String()).
			WithContext("commit", commit).
			Build()
	}
	if err := r.Storer.SetReference(plumbing.NewHashReference(refName, hash)); err != nil {
		return errors.WrapError(err, errors.CategoryGit, "failed to create ref").
			WithContext("ref", refName.String()).
			Build()
	}
	slog.Info("Pinned abandoned head",
		logfields.Organization(repo.Organization),
		logfields.Repository(repo.Repository),
		logfields.Branch(name),
		logfields.Commit(commit))
	return nil
}

// RemoveRef deletes branch name from repo's mirror. Missing refs and missing
// mirrors are not errors.
func (c *Client) RemoveRef(ctx context.Context, repo state.Key, name string) error {
	r, err := c.open(repo)
	if err != nil {
		if errors.HasCategory(err, errors.CategoryNotFound) {
			return nil
		}
		return err
	}
	refName := plumbing.NewBranchReferenceName(name)
	if _, err := r.Reference(refName, false); stderrors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil
	}
	err = c.retry.Do(ctx, func(context.Context) error {
		return r.Storer.RemoveReference(refName)
	})
	if err != nil {
		return errors.WrapError(err, errors.CategoryTransientIO, "failed to remove ref").
			WithContext("repository", repo.String()).
			WithContext("ref", refName.String()).
			Retryable().
			Build()
	}
	slog.Info("Removed branch ref",
		logfields.Organization(repo.Organization),
		logfields.Repository(repo.Repository),
		logfields.Branch(name))
	return nil
}

// Heads lists the branch refs of repo's mirror.
func (c *Client) Heads(repo state.Key) (map[string]string, error) {
	r, err := c.open(repo)
	if err != nil {
		return nil, err
	}
	iter, err := r.Branches()
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryGit, "failed to list branches").Build()
	}
	heads := map[string]string{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		heads[ref.Name().Short()] = ref.Hash().String()
		return nil
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryGit, "failed to list branches").Build()
	}
	return heads, nil
}
