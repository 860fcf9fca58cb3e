package git

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/ghbackup/internal/config"
	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

func TestCreateRef(t *testing.T) {
	src := newSource(t)
	a := src.commit("a.txt", "A")
	b := src.commit("b.txt", "B")

	c := newTestClient(t)
	key := state.RepoKey("acme", "api")
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx, key, src.path))

	name := "master_abandoned_" + a.String()
	require.NoError(t, c.CreateRef(ctx, key, name, a.String()))
	require.NoError(t, c.CreateRef(ctx, key, name, a.String()), "same target is idempotent")

	err := c.CreateRef(ctx, key, name, b.String())
	require.ErrorIs(t, err, ErrRefConflict)

	heads, err := c.Heads(key)
	require.NoError(t, err)
	assert.Equal(t, a.String(), heads[name], "existing ref is never moved")

	err = c.CreateRef(ctx, key, "ghost", strings.Repeat("3", 40))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryGit))
}

func TestRemoveRef(t *testing.T) {
	src := newSource(t)
	a := src.commit("a.txt", "A")
	src.setBranch("dev", a)

	c := newTestClient(t)
	key := state.RepoKey("acme", "api")
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx, key, src.path))

	require.NoError(t, c.RemoveRef(ctx, key, "dev"))
	heads, err := c.Heads(key)
	require.NoError(t, err)
	assert.NotContains(t, heads, "dev")
	assert.Contains(t, heads, "master")

	require.NoError(t, c.RemoveRef(ctx, key, "dev"), "already removed")
	require.NoError(t, c.RemoveRef(ctx, state.RepoKey("acme", "none"), "dev"), "missing mirror")
}

func TestRemovePath(t *testing.T) {
	src := newSource(t)
	src.commit("a.txt", "A")

	c := newTestClient(t)
	ctx := context.Background()
	api := state.RepoKey("acme", "api")
	web := state.RepoKey("acme", "web")
	require.NoError(t, c.Fetch(ctx, api, src.path))
	require.NoError(t, c.Fetch(ctx, web, src.path))

	require.NoError(t, c.RemovePath(ctx, api))
	assert.NoDirExists(t, c.RepoPath(api))
	assert.DirExists(t, filepath.Join(c.Root(), "acme"))

	require.NoError(t, c.RemovePath(ctx, web))
	assert.NoDirExists(t, filepath.Join(c.Root(), "acme"), "empty organization directory is dropped")

	require.NoError(t, c.RemovePath(ctx, api), "missing mirror")

	err := c.RemovePath(ctx, state.OrgKey("acme"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))

	err = c.RemovePath(ctx, state.RepoKey("..", "escape"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
}

func TestAuthFromConfig(t *testing.T) {
	auth, err := AuthFromConfig(config.DefaultConfig{Token: "secret"})
	require.NoError(t, err)
	basic, ok := auth.(*http.BasicAuth)
	require.True(t, ok)
	assert.Equal(t, "x-access-token", basic.Username)
	assert.Equal(t, "secret", basic.Password)

	auth, err = AuthFromConfig(config.DefaultConfig{})
	require.NoError(t, err)
	assert.Nil(t, auth)

	_, err = AuthFromConfig(config.DefaultConfig{CloneViaSSH: true, SSHKey: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryAuth))
}

func TestIsPermanentGitError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{transport.ErrAuthenticationRequired, true},
		{transport.ErrRepositoryNotFound, true},
		{context.Canceled, true},
		{stderrors.New("permission denied (publickey)"), true},
		{stderrors.New("unsupported protocol scheme"), true},
		{stderrors.New("connection reset by peer"), false},
		{stderrors.New("unexpected EOF"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isPermanentGitError(tc.err), "%v", tc.err)
	}
}
