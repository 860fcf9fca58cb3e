package git

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/logfields"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

const remoteName = "origin"

// headsRefSpec mirrors every branch under its own name and force-updates
// rewritten ones. Refs of branches deleted upstream are kept.
var headsRefSpec = ggitcfg.RefSpec("+refs/heads/*:refs/heads/*")

// Fetch brings the mirror of repo up to date with cloneURL, creating it on
// first use. An up-to-date or empty remote is a success. A failure that
// survives the retry policy is returned as a transient I/O error.
func (c *Client) Fetch(ctx context.Context, repo state.Key, cloneURL string) error {
	start := time.Now()
	path := c.RepoPath(repo)
	if !c.within(path) {
		return errors.ValidationError("mirror path escapes the backup root").
			WithContext("path", path).
			Build()
	}

	err := c.retry.Do(ctx, func(ctx context.Context) error {
		return c.fetchOnce(ctx, path, cloneURL)
	})
	if err != nil {
		b := errors.TransientIOError("fetch failed").
			WithCause(err).
			WithContext("repository", repo.String()).
			WithContext("url", cloneURL)
		if isAuthFailure(err) {
			b = b.WithCategory(errors.CategoryAuth).UserAction()
		}
		return b.Build()
	}
	slog.Debug("Fetched repository",
		logfields.Organization(repo.Organization),
		logfields.Repository(repo.Repository),
		logfields.Duration(time.Since(start)))
	return nil
}

func (c *Client) fetchOnce(ctx context.Context, path, cloneURL string) error {
	r, err := mirror(path, cloneURL)
	if err != nil {
		return err
	}
	err = r.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []ggitcfg.RefSpec{headsRefSpec},
		Tags:       git.AllTags,
		Force:      true,
		Prune:      false,
		Auth:       c.auth,
	})
	switch {
	case err == nil,
		stderrors.Is(err, git.NoErrAlreadyUpToDate),
		stderrors.Is(err, transport.ErrEmptyRemoteRepository):
		return nil
	default:
		return err
	}
}

// mirror opens or initialises the bare repository at path and points its
// origin remote at cloneURL.
func mirror(path, cloneURL string) (*git.Repository, error) {
	r, err := git.PlainOpen(path)
	if stderrors.Is(err, git.ErrRepositoryNotExists) {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o750); mkErr != nil {
			return nil, mkErr
		}
		r, err = git.PlainInit(path, true)
	}
	if err != nil {
		return nil, err
	}

	remote, err := r.Remote(remoteName)
	switch {
	case stderrors.Is(err, git.ErrRemoteNotFound):
	case err != nil:
		return nil, err
	default:
		urls := remote.Config().URLs
		if len(urls) == 1 && urls[0] == cloneURL {
			return r, nil
		}
		if delErr := r.DeleteRemote(remoteName); delErr != nil {
			return nil, delErr
		}
	}
	_, err = r.CreateRemote(&ggitcfg.RemoteConfig{
		Name:  remoteName,
		URLs:  []string{cloneURL},
		Fetch: []ggitcfg.RefSpec{headsRefSpec},
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
