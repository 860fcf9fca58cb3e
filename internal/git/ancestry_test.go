package git

import (
	"context"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

func TestIsAncestorEdgeCases(t *testing.T) {
	src := newSource(t)
	a := src.commit("a.txt", "A")
	b := src.commit("b.txt", "B")
	c := src.commit("c.txt", "C")
	ctx := context.Background()

	same, err := isAncestor(ctx, src.repo, b, b)
	require.NoError(t, err)
	assert.True(t, same)

	res, err := isAncestor(ctx, src.repo, a, c)
	require.NoError(t, err)
	assert.True(t, res)

	res, err = isAncestor(ctx, src.repo, c, a)
	require.NoError(t, err)
	assert.False(t, res)

	_, err = isAncestor(ctx, src.repo, plumbing.NewHash(strings.Repeat("1", 40)), c)
	require.Error(t, err, "unknown old commit")

	_, err = isAncestor(ctx, src.repo, a, plumbing.NewHash(strings.Repeat("2", 40)))
	require.Error(t, err, "unknown new commit")
}

func TestIsAncestor_Cancelled(t *testing.T) {
	src := newSource(t)
	a := src.commit("a.txt", "A")
	c := src.commit("c.txt", "C")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := isAncestor(ctx, src.repo, a, c)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClientIsAncestor(t *testing.T) {
	src := newSource(t)
	a := src.commit("a.txt", "A")
	b := src.commit("b.txt", "B")

	c := newTestClient(t)
	key := state.RepoKey("acme", "api")
	ctx := context.Background()

	_, err := c.IsAncestor(ctx, key, a.String(), b.String())
	require.Error(t, err, "no mirror yet")
	assert.True(t, errors.HasCategory(err, errors.CategoryGit), "a missing mirror is not a missing commit")

	require.NoError(t, c.Fetch(ctx, key, src.path))
	ok, err := c.IsAncestor(ctx, key, a.String(), b.String())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IsAncestor(ctx, key, b.String(), a.String())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.IsAncestor(ctx, key, strings.Repeat("1", 40), b.String())
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))

	_, err = c.IsAncestor(ctx, key, a.String(), strings.Repeat("2", 40))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryGit))
}
