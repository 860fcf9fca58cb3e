package reconcile

import (
	"sort"

	"git.home.luguber.info/inful/ghbackup/internal/snapshot"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

// FetchPlan returns one FETCH per non-empty repository of every enabled,
// completely listed organization.
func FetchPlan(snap *snapshot.Snapshot) []Action {
	var plan []Action
	for _, org := range snap.Organizations {
		if !org.Enabled || !org.Complete {
			continue
		}
		for _, repo := range org.Repositories {
			if !repo.Complete || repo.Empty() {
				continue
			}
			plan = append(plan, Action{
				Kind:     ActionFetch,
				Key:      state.RepoKey(org.Name, repo.Name),
				CloneURL: repo.CloneURL,
			})
		}
	}
	sort.Slice(plan, func(i, j int) bool { return less(plan[i], plan[j]) })
	return plan
}
