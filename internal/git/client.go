package git

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/logfields"
	"git.home.luguber.info/inful/ghbackup/internal/retry"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

// Options configures a Client.
type Options struct {
	BackupPath string
	Auth       transport.AuthMethod // nil for anonymous access
	Retry      *retry.Runner        // nil uses retry.DefaultPolicy
}

// Client handles the mirrors below one backup root.
type Client struct {
	root  string
	auth  transport.AuthMethod
	retry *retry.Runner
}

// NewClient creates a Client rooted at opts.BackupPath.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BackupPath) == "" {
		return nil, errors.ConfigurationError("backup path is required").Build()
	}
	root, err := filepath.Abs(opts.BackupPath)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "invalid backup path").
			WithContext("path", opts.BackupPath).
			Build()
	}

	r := retry.NewRunner(retry.DefaultPolicy())
	if opts.Retry != nil {
		cp := *opts.Retry
		r = &cp
	}
	r.Permanent = isPermanentGitError
	if r.OnRetry == nil {
		r.OnRetry = func(a retry.Attempt) {
			slog.Warn("Git operation failed; retrying",
				logfields.Attempt(a.Number),
				logfields.Duration(a.Delay),
				logfields.Error(a.Err))
		}
	}
	return &Client{root: root, auth: opts.Auth, retry: r}, nil
}

// Root returns the absolute backup root.
func (c *Client) Root() string { return c.root }

// RepoPath returns the mirror directory of a repository key.
func (c *Client) RepoPath(repo state.Key) string {
	return filepath.Join(c.root, repo.Organization, repo.Repository+".git")
}

// open opens an existing mirror.
func (c *Client) open(repo state.Key) (*git.Repository, error) {
	path := c.RepoPath(repo)
	r, err := git.PlainOpen(path)
	if err != nil {
		if stderrors.Is(err, git.ErrRepositoryNotExists) {
			return nil, errors.NewError(errors.CategoryNotFound, "mirror does not exist").
				WithCause(err).
				WithContext("path", path).
				Build()
		}
		return nil, errors.WrapError(err, errors.CategoryGit, "failed to open mirror").
			WithContext("path", path).
			Build()
	}
	return r, nil
}

// within reports whether path lies strictly below the backup root.
func (c *Client) within(path string) bool {
	rel, err := filepath.Rel(c.root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// RemovePath deletes the mirror of repo. A missing mirror is not an error.
func (c *Client) RemovePath(ctx context.Context, repo state.Key) error {
	if repo.Kind() != state.KindRepository {
		return errors.ValidationError("only repository mirrors can be removed").
			WithContext("key", repo.String()).
			Build()
	}
	path := c.RepoPath(repo)
	if !c.within(path) {
		return errors.ValidationError("refusing to remove path outside the backup root").
			WithContext("path", path).
			Build()
	}
	err := c.retry.Do(ctx, func(context.Context) error {
		return os.RemoveAll(path)
	})
	if err != nil {
		return errors.WrapError(err, errors.CategoryTransientIO, "failed to remove mirror").
			WithContext("path", path).
			Retryable().
			Build()
	}
	slog.Info("Removed mirror", logfields.Organization(repo.Organization), logfields.Repository(repo.Repository), logfields.Path(path))

	// Drop the organization directory once its last mirror is gone.
	orgDir := filepath.Dir(path)
	if entries, readErr := os.ReadDir(orgDir); readErr == nil && len(entries) == 0 {
		_ = os.Remove(orgDir)
	}
	return nil
}
