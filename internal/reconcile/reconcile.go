package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/logfields"
	"git.home.luguber.info/inful/ghbackup/internal/retention"
	"git.home.luguber.info/inful/ghbackup/internal/snapshot"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

// Ancestry answers whether oldCommit is reachable from newCommit in the mirror
// of repo.
type Ancestry interface {
	IsAncestor(ctx context.Context, repo state.Key, oldCommit, newCommit string) (bool, error)
}

// Input is everything one reconciliation needs.
type Input struct {
	Ledger    *state.Ledger
	Snapshot  *snapshot.Snapshot
	Now       time.Time
	RunID     string
	Retention retention.Config
	Ancestry  Ancestry
	// FetchFailed holds repository keys whose fetch failed this run; their
	// branches are left untouched.
	FetchFailed map[state.Key]bool
	// SkipPreservation advances moved heads without checking ancestry, so
	// rewritten history is never pinned.
	SkipPreservation bool
}

// LostHead is a previous branch head that could not be pinned because the
// mirror no longer holds its commit.
type LostHead struct {
	Branch state.Key
	Commit string
}

// Result is the outcome of a reconciliation.
type Result struct {
	// Ledger is the next view assuming every planned action succeeds.
	Ledger *state.Ledger
	// Observations are entity changes that need no side effect.
	Observations []state.Entity
	// Plan holds PRESERVE_BRANCH, WARN and DELETE actions in execution order.
	Plan []Action
	// AncestryFailures counts ancestry checks treated as rewrites because they errored.
	AncestryFailures int
	// LostHeads lists heads advanced past without a preservation because the
	// old commit is absent from the mirror.
	LostHeads []LostHead
}

type reconciler struct {
	in       Input
	next     *state.Ledger
	changed  map[state.Key]bool
	reserved map[state.Key]bool
	preserve []Action
	result   Result
}

// Reconcile diffs in.Snapshot against in.Ledger. It never mutates in.Ledger.
func Reconcile(ctx context.Context, in Input) (Result, error) {
	if in.Ledger == nil {
		in.Ledger = state.NewLedger(nil, nil)
	}
	r := &reconciler{
		in:       in,
		next:     in.Ledger.Clone(),
		changed:  make(map[state.Key]bool),
		reserved: make(map[state.Key]bool),
	}
	if err := r.presence(ctx); err != nil {
		return Result{}, err
	}
	r.orphans()

	for _, e := range r.next.Entities() {
		if r.changed[e.Key] {
			r.result.Observations = append(r.result.Observations, e)
		}
	}

	plan := append([]Action(nil), r.preserve...)
	plan = append(plan, r.retention()...)
	sort.SliceStable(plan, func(i, j int) bool { return less(plan[i], plan[j]) })
	r.result.Plan = plan

	r.applyPlan()
	r.result.Ledger = r.next
	return r.result, nil
}

func (r *reconciler) observe(e state.Entity) {
	if cur, ok := r.next.Get(e.Key); ok && sameEntity(cur, e) {
		return
	}
	r.next.Put(e)
	r.changed[e.Key] = true
}

func (r *reconciler) presence(ctx context.Context) error {
	now := r.in.Now
	present := make(map[string]bool, len(r.in.Snapshot.Organizations))

	for _, org := range r.in.Snapshot.Organizations {
		present[org.Name] = true
		key := state.OrgKey(org.Name)
		cur, tracked := r.next.GetLive(key)
		switch {
		case tracked:
			e := cur
			e.LastSeen = now
			r.observe(e)
		case org.Enabled:
			r.observe(newEntity(key, now))
		}
		if !org.Enabled || !org.Complete {
			continue
		}
		if err := r.repositories(ctx, org); err != nil {
			return err
		}
	}

	// Organizations the credentials no longer see: everything under them is gone.
	for _, e := range r.next.Entities() {
		if e.Kind() != state.KindOrganization || !e.Live() || present[e.Key.Organization] {
			continue
		}
		for _, repo := range r.next.Children(e.Key) {
			if repo.Live() {
				r.repositoryMissing(repo)
			}
		}
	}
	return nil
}

func (r *reconciler) repositories(ctx context.Context, org snapshot.Organization) error {
	now := r.in.Now
	orgKey := state.OrgKey(org.Name)
	seen := make(map[state.Key]bool, len(org.Repositories))

	for _, repo := range org.Repositories {
		key := state.RepoKey(org.Name, repo.Name)
		seen[key] = true
		if cur, ok := r.next.GetLive(key); ok {
			e := cur
			e.Status = state.StatusActive
			e.LastSeen = now
			e.MissingSince = nil
			e.DefaultBranch = repo.DefaultBranch
			r.observe(e)
		} else {
			e := newEntity(key, now)
			e.DefaultBranch = repo.DefaultBranch
			r.observe(e)
		}

		if !repo.Complete || r.in.FetchFailed[key] {
			continue
		}
		if err := r.branches(ctx, key, repo); err != nil {
			return err
		}
	}

	for _, repo := range r.next.Children(orgKey) {
		if repo.Live() && !seen[repo.Key] {
			r.repositoryMissing(repo)
		}
	}
	return nil
}

// repositoryMissing marks a repository absent along with its live branches.
func (r *reconciler) repositoryMissing(repo state.Entity) {
	if repo.Status == state.StatusActive {
		r.observe(markMissing(repo, state.StatusRemoved, r.in.Now))
	}
	for _, b := range r.next.Children(repo.Key) {
		if b.Status == state.StatusActive && !b.Preserved {
			r.observe(markMissing(b, state.StatusRemoved, r.in.Now))
		}
	}
}

func (r *reconciler) branches(ctx context.Context, repoKey state.Key, repo snapshot.Repository) error {
	now := r.in.Now
	seen := make(map[state.Key]bool, len(repo.Branches))

	for _, b := range repo.Branches {
		key := state.BranchKey(repoKey.Organization, repoKey.Repository, b.Name)
		seen[key] = true
		cur, ok := r.next.GetLive(key)
		if !ok {
			e := newEntity(key, now)
			e.HeadCommit = b.HeadCommit
			r.observe(e)
			continue
		}
		if cur.Preserved {
			slog.Warn("Forge branch shadows a preserved branch; ignoring it",
				logfields.Organization(key.Organization),
				logfields.Repository(key.Repository),
				logfields.Branch(key.Branch))
			continue
		}

		e := cur
		e.Status = state.StatusActive
		e.LastSeen = now
		e.MissingSince = nil
		if cur.HeadCommit != "" && cur.HeadCommit != b.HeadCommit && !r.in.SkipPreservation {
			advance, err := r.fastForward(ctx, key, cur.HeadCommit, b.HeadCommit)
			if err != nil {
				return err
			}
			if advance {
				e.HeadCommit = b.HeadCommit
			} else {
				r.planPreserve(key, cur.HeadCommit, b.HeadCommit)
			}
		} else {
			e.HeadCommit = b.HeadCommit
		}
		r.observe(e)
	}

	for _, b := range r.next.Children(repoKey) {
		if seen[b.Key] || b.Preserved || b.Status != state.StatusActive {
			continue
		}
		r.observe(markMissing(b, state.StatusRemoved, now))
	}
	return nil
}

// fastForward reports whether branch can move from oldCommit to newCommit
// without pinning oldCommit. A failed check counts as a rewrite, except when
// oldCommit is gone from the mirror: nothing is left to pin, so the head
// advances and the loss is recorded. Only cancellation aborts the run.
func (r *reconciler) fastForward(ctx context.Context, branch state.Key, oldCommit, newCommit string) (bool, error) {
	repo := state.RepoKey(branch.Organization, branch.Repository)
	ok, err := r.in.Ancestry.IsAncestor(ctx, repo, oldCommit, newCommit)
	if err == nil {
		return ok, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if errors.HasCategory(err, errors.CategoryNotFound) {
		r.result.LostHeads = append(r.result.LostHeads, LostHead{Branch: branch, Commit: oldCommit})
		slog.Warn("Previous head is missing from the mirror; advancing without preserving it",
			logfields.Organization(branch.Organization),
			logfields.Repository(branch.Repository),
			logfields.Branch(branch.Branch),
			logfields.Commit(oldCommit),
			logfields.Error(err))
		return true, nil
	}
	r.result.AncestryFailures++
	ae := errors.AncestryCheckError("cannot decide whether head moved forward").
		WithCause(err).
		WithContext("repository", repo.String()).
		Build()
	slog.Warn("Ancestry check failed; preserving old head",
		logfields.Organization(repo.Organization),
		logfields.Repository(repo.Repository),
		logfields.Commit(oldCommit),
		logfields.Error(ae))
	return false, nil
}

func (r *reconciler) planPreserve(source state.Key, oldCommit, newCommit string) {
	name := r.preservationName(source, oldCommit)
	p := state.Preservation{
		Source:    source,
		Name:      name,
		Commit:    oldCommit,
		NewHead:   newCommit,
		CreatedAt: r.in.Now,
		RunID:     r.in.RunID,
	}
	r.reserved[p.BranchKey()] = true
	r.preserve = append(r.preserve, Action{
		Kind:         ActionPreserve,
		Key:          source,
		Preservation: p,
	})
}

// PreservationName is the deterministic name pinning commit of branch.
func PreservationName(branch, commit string) string {
	return branch + "_abandoned_" + commit
}

func (r *reconciler) preservationName(source state.Key, commit string) string {
	base := PreservationName(source.Branch, commit)
	name := base
	for n := 2; ; n++ {
		key := state.BranchKey(source.Organization, source.Repository, name)
		if _, taken := r.next.GetLive(key); !taken && !r.reserved[key] {
			return name
		}
		name = base + "_" + strconv.Itoa(n)
	}
}

// orphans moves organizations between ACTIVE and ORPHANED by their repositories.
func (r *reconciler) orphans() {
	present := make(map[string]bool, len(r.in.Snapshot.Organizations))
	for _, o := range r.in.Snapshot.Organizations {
		present[o.Name] = true
	}
	for _, org := range r.next.Entities() {
		if org.Kind() != state.KindOrganization || !org.Live() {
			continue
		}
		activeRepos, trackedRepos := 0, 0
		for _, repo := range r.next.Children(org.Key) {
			if !repo.Live() {
				continue
			}
			trackedRepos++
			if repo.Status == state.StatusActive {
				activeRepos++
			}
		}
		switch org.Status {
		case state.StatusActive:
			if activeRepos == 0 && (!present[org.Key.Organization] || trackedRepos > 0) {
				r.observe(markMissing(org, state.StatusOrphaned, r.in.Now))
			}
		case state.StatusOrphaned, state.StatusPendingDeletion:
			if activeRepos > 0 {
				e := org
				e.Status = state.StatusActive
				e.MissingSince = nil
				r.observe(e)
			}
		}
	}
}

// retention evaluates every aging entity and returns WARN and DELETE actions,
// emitting a parent DELETE only when all of its children go first.
func (r *reconciler) retention() []Action {
	now := r.in.Now
	cfg := r.in.Retention

	var warns []Action
	deletes := make(map[state.Key]Action)
	for _, e := range r.next.Entities() {
		if !e.Live() {
			continue
		}
		switch retention.Evaluate(e, r.next.LastWarned(e.Key), now, cfg) {
		case retention.Warn:
			warns = append(warns, Action{
				Kind:     ActionWarn,
				Key:      e.Key,
				Entity:   e,
				Deadline: deadline(e, now, cfg),
				At:       now,
			})
		case retention.Delete:
			deletes[e.Key] = Action{Kind: ActionDelete, Key: e.Key, Entity: e, At: now}
		}
	}

	var out []Action
	out = append(out, warns...)
	for _, kind := range []state.Kind{state.KindBranch, state.KindRepository, state.KindOrganization} {
		for _, e := range r.next.Entities() {
			a, due := deletes[e.Key]
			if !due || e.Kind() != kind {
				continue
			}
			if kind != state.KindBranch {
				deps, ready := r.childDeletes(e.Key, deletes)
				if !ready {
					delete(deletes, e.Key)
					slog.Info("Deletion deferred until children are deleted",
						logfields.Kind(string(kind)),
						slog.String("entity", e.Key.String()))
					continue
				}
				a.DependsOn = deps
				deletes[e.Key] = a
			}
			out = append(out, a)
		}
	}
	return out
}

// childDeletes returns the DELETE IDs of every live child, or false when one
// of them is not being deleted.
func (r *reconciler) childDeletes(parent state.Key, deletes map[state.Key]Action) ([]string, bool) {
	var deps []string
	for _, c := range r.next.Children(parent) {
		if !c.Live() {
			continue
		}
		a, ok := deletes[c.Key]
		if !ok {
			return nil, false
		}
		deps = append(deps, a.ID())
	}
	return deps, true
}

// applyPlan advances the next ledger as if every action succeeded.
func (r *reconciler) applyPlan() {
	for _, a := range r.result.Plan {
		switch a.Kind {
		case ActionPreserve:
			p := a.Preservation
			at := p.CreatedAt
			r.next.Put(state.Entity{
				Key:          p.BranchKey(),
				Status:       state.StatusAbandoned,
				HeadCommit:   p.Commit,
				Preserved:    true,
				FirstSeen:    at,
				LastSeen:     at,
				MissingSince: &at,
			})
			if src, ok := r.next.GetLive(p.Source); ok {
				src.HeadCommit = p.NewHead
				r.next.Put(src)
			}
		case ActionWarn:
			if e, ok := r.next.GetLive(a.Key); ok {
				e.Status = state.StatusPendingDeletion
				r.next.Put(e)
				r.next.MarkWarned(a.Key, r.in.Now)
			}
		case ActionDelete:
			if e, ok := r.next.GetLive(a.Key); ok {
				e.Status = state.StatusDeleted
				r.next.Put(e)
			}
		}
	}
}

// deadline is the earliest deletion for an entity warned at now.
func deadline(e state.Entity, now time.Time, cfg retention.Config) time.Time {
	d := retention.DeleteAfter(e, cfg)
	if earliest := now.Add(cfg.PolicyFor(e).Warn); earliest.After(d) {
		return earliest
	}
	return d
}

func newEntity(key state.Key, now time.Time) state.Entity {
	return state.Entity{Key: key, Status: state.StatusActive, FirstSeen: now, LastSeen: now}
}

func markMissing(e state.Entity, status state.Status, now time.Time) state.Entity {
	e.Status = status
	if e.MissingSince == nil {
		at := now
		e.MissingSince = &at
	}
	return e
}

func sameEntity(a, b state.Entity) bool {
	if a.Key != b.Key || a.Status != b.Status || a.DefaultBranch != b.DefaultBranch ||
		a.HeadCommit != b.HeadCommit || a.Preserved != b.Preserved ||
		!a.FirstSeen.Equal(b.FirstSeen) || !a.LastSeen.Equal(b.LastSeen) {
		return false
	}
	if (a.MissingSince == nil) != (b.MissingSince == nil) {
		return false
	}
	return a.MissingSince == nil || a.MissingSince.Equal(*b.MissingSince)
}
