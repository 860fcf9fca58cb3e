package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/ghbackup/internal/retry"
)

// source is a working repository standing in for the forge side.
type source struct {
	t    *testing.T
	path string
	repo *git.Repository
}

func newSource(t *testing.T) *source {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source")
	repo, err := git.PlainInit(path, false)
	require.NoError(t, err)
	return &source{t: t, path: path, repo: repo}
}

// commit writes filename and commits it on the checked out branch.
func (s *source) commit(filename, content string) plumbing.Hash {
	s.t.Helper()
	wt, err := s.repo.Worktree()
	require.NoError(s.t, err)
	require.NoError(s.t, os.WriteFile(filepath.Join(s.path, filename), []byte(content), 0o600))
	_, err = wt.Add(filename)
	require.NoError(s.t, err)
	hash, err := wt.Commit(filename, &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "t@example.com", When: time.Now()},
	})
	require.NoError(s.t, err)
	return hash
}

func (s *source) setBranch(name string, hash plumbing.Hash) {
	s.t.Helper()
	require.NoError(s.t, s.repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)))
}

func (s *source) deleteBranch(name string) {
	s.t.Helper()
	require.NoError(s.t, s.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(name)))
}

// resetTo moves the checked out branch to hash, discarding later commits.
func (s *source) resetTo(hash plumbing.Hash) {
	s.t.Helper()
	wt, err := s.repo.Worktree()
	require.NoError(s.t, err)
	require.NoError(s.t, wt.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}))
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	r := retry.NewRunner(retry.Policy{Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 0})
	c, err := NewClient(Options{BackupPath: filepath.Join(t.TempDir(), "backup"), Retry: r})
	require.NoError(t, err)
	return c
}
