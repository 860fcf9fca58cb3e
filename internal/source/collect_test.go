package source

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/ghbackup/internal/snapshot"
)

type fakeLister struct {
	orgs       []string
	orgErr     error
	repos      map[string][]snapshot.Repository
	repoErr    map[string]error
	branches   map[string][]snapshot.Branch
	branchErr  map[string]error
	repoListed []string
}

func (f *fakeLister) ListOrganizations(context.Context) ([]string, error) {
	return f.orgs, f.orgErr
}

func (f *fakeLister) ListRepositories(_ context.Context, org string) ([]snapshot.Repository, error) {
	f.repoListed = append(f.repoListed, org)
	return f.repos[org], f.repoErr[org]
}

func (f *fakeLister) ListBranches(_ context.Context, org, repo string) ([]snapshot.Branch, error) {
	key := org + "/" + repo
	return f.branches[key], f.branchErr[key]
}

func TestCollect(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{
		orgs: []string{"zeta", "acme", "paused", "stranger"},
		repos: map[string][]snapshot.Repository{
			"acme": {
				{Name: "web", DefaultBranch: "main", CloneURL: "u/web"},
				{Name: "api", DefaultBranch: "main", CloneURL: "u/api"},
				{Name: "flaky", DefaultBranch: "main", CloneURL: "u/flaky"},
			},
		},
		repoErr: map[string]error{"zeta": stderrors.New("boom")},
		branches: map[string][]snapshot.Branch{
			"acme/api": {{Name: "main", HeadCommit: "a1"}, {Name: "dev", HeadCommit: "d1"}},
		},
		branchErr: map[string]error{"acme/flaky": stderrors.New("timeout")},
	}
	selection := map[string]bool{"acme": true, "zeta": true, "paused": false}

	snap, err := Collect(context.Background(), lister, selection, now)
	require.NoError(t, err)
	require.Equal(t, now, snap.TakenAt)

	var names []string
	for _, o := range snap.Organizations {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{"acme", "paused", "stranger", "zeta"}, names)
	assert.ElementsMatch(t, []string{"acme", "zeta"}, lister.repoListed, "disabled and unconfigured orgs are not polled")

	acme, _ := snap.Organization("acme")
	assert.True(t, acme.Enabled)
	assert.True(t, acme.Complete)
	require.Len(t, acme.Repositories, 3)

	api, _ := acme.Repository("api")
	assert.True(t, api.Complete)
	assert.Equal(t, []snapshot.Branch{{Name: "dev", HeadCommit: "d1"}, {Name: "main", HeadCommit: "a1"}}, api.Branches)

	web, _ := acme.Repository("web")
	assert.True(t, web.Complete)
	assert.True(t, web.Empty())

	flaky, _ := acme.Repository("flaky")
	assert.False(t, flaky.Complete)

	paused, _ := snap.Organization("paused")
	assert.False(t, paused.Enabled)
	stranger, _ := snap.Organization("stranger")
	assert.False(t, stranger.Enabled)

	zeta, _ := snap.Organization("zeta")
	assert.True(t, zeta.Enabled)
	assert.False(t, zeta.Complete)
}

func TestCollect_OrganizationListingFailureIsFatal(t *testing.T) {
	_, err := Collect(context.Background(), &fakeLister{orgErr: stderrors.New("network down")}, nil, time.Now())
	require.Error(t, err)
}
