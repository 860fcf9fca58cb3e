package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortCountsAndLookup(t *testing.T) {
	s := &Snapshot{Organizations: []Organization{
		{Name: "zeta", Repositories: []Repository{{Name: "empty"}}},
		{Name: "acme", Repositories: []Repository{
			{Name: "web", Branches: []Branch{{Name: "main", HeadCommit: "w1"}}},
			{Name: "api", Branches: []Branch{{Name: "main", HeadCommit: "m1"}, {Name: "dev", HeadCommit: "d1"}}},
		}},
	}}
	s.Sort()

	assert.Equal(t, "acme", s.Organizations[0].Name)
	assert.Equal(t, "api", s.Organizations[0].Repositories[0].Name)
	assert.Equal(t, "dev", s.Organizations[0].Repositories[0].Branches[0].Name)

	orgs, repos, branches := s.Counts()
	assert.Equal(t, [3]int{2, 3, 3}, [3]int{orgs, repos, branches})

	acme, ok := s.Organization("acme")
	require.True(t, ok)
	api, ok := acme.Repository("api")
	require.True(t, ok)
	b, ok := api.Branch("main")
	require.True(t, ok)
	assert.Equal(t, "m1", b.HeadCommit)

	zeta, _ := s.Organization("zeta")
	empty, _ := zeta.Repository("empty")
	assert.True(t, empty.Empty())

	_, ok = s.Organization("nope")
	assert.False(t, ok)
}
