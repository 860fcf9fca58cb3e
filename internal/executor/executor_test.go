package executor

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/ghbackup/internal/notify"
	"git.home.luguber.info/inful/ghbackup/internal/reconcile"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return t0.Add(time.Duration(n) * 24 * time.Hour) }

type call struct {
	op   string
	key  state.Key
	name string
}

type fakeMirror struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error // op+" "+key
}

func (f *fakeMirror) record(op string, key state.Key, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: op, key: key, name: name})
	return f.fail[op+" "+key.String()]
}

func (f *fakeMirror) Fetch(_ context.Context, repo state.Key, _ string) error {
	return f.record("fetch", repo, "")
}

func (f *fakeMirror) CreateRef(_ context.Context, repo state.Key, name, _ string) error {
	return f.record("create", repo, name)
}

func (f *fakeMirror) RemoveRef(_ context.Context, repo state.Key, name string) error {
	return f.record("remove-ref", repo, name)
}

func (f *fakeMirror) RemovePath(_ context.Context, repo state.Key) error {
	return f.record("remove-path", repo, "")
}

func (f *fakeMirror) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.op+" "+c.key.String())
	}
	return out
}

type recordingNotifier struct {
	got []notify.Notice
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notice) error {
	r.got = append(r.got, n)
	return r.err
}

type fixture struct {
	t        *testing.T
	store    *state.MemoryStore
	mirror   *fakeMirror
	notifier *recordingNotifier
	clock    *testclock.Clock
}

// newFixture tracks acme/api with an ACTIVE main branch and a dev branch
// removed upstream on day 0.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := state.NewMemoryStore()
	act := func(k state.Key) state.Entity {
		return state.Entity{Key: k, Status: state.StatusActive, FirstSeen: day(-10), LastSeen: day(-10)}
	}
	dev := act(state.BranchKey("acme", "api", "dev"))
	dev.HeadCommit = "d1"
	main := act(state.BranchKey("acme", "api", "main"))
	main.HeadCommit = "m1"
	require.NoError(t, s.ApplyObservations(ctx, []state.Entity{
		act(state.OrgKey("acme")), act(state.RepoKey("acme", "api")), main, dev,
	}))
	missing := day(0)
	dev.Status = state.StatusRemoved
	dev.MissingSince = &missing
	require.NoError(t, s.ApplyObservations(ctx, []state.Entity{dev}))

	return &fixture{
		t:        t,
		store:    s,
		mirror:   &fakeMirror{fail: map[string]error{}},
		notifier: &recordingNotifier{},
		clock:    testclock.NewClock(day(80)),
	}
}

func (f *fixture) executor() *Executor {
	return New(Options{
		Store:       f.store,
		Mirror:      f.mirror,
		Notifier:    f.notifier,
		Clock:       f.clock,
		Concurrency: 2,
		RunID:       "run-1",
	})
}

func (f *fixture) live(k state.Key) (state.Entity, bool) {
	f.t.Helper()
	l, err := f.store.Load(context.Background())
	require.NoError(f.t, err)
	return l.GetLive(k)
}

func (f *fixture) action(kind reconcile.ActionKind, k state.Key, deps ...string) reconcile.Action {
	f.t.Helper()
	e, ok := f.live(k)
	require.True(f.t, ok, k.String())
	return reconcile.Action{Kind: kind, Key: k, Entity: e, Deadline: day(90), DependsOn: deps}
}

var devKey = state.BranchKey("acme", "api", "dev")

func TestExecute_WarnSetsPendingDeletionAndNotifies(t *testing.T) {
	f := newFixture(t)
	report, err := f.executor().Execute(context.Background(), []reconcile.Action{f.action(reconcile.ActionWarn, devKey)})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(reconcile.ActionWarn, OutcomeSucceeded))

	dev, ok := f.live(devKey)
	require.True(t, ok)
	assert.Equal(t, state.StatusPendingDeletion, dev.Status)

	events, err := f.store.Events(context.Background(), devKey)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, state.EventWarned, events[0].Event)
	assert.Equal(t, day(80), events[0].At)
	assert.Equal(t, "run-1", events[0].RunID)

	require.Len(t, f.notifier.got, 1)
	n := f.notifier.got[0]
	assert.Equal(t, notify.EventWarn, n.Event)
	assert.Equal(t, devKey, n.Key())
	assert.Equal(t, day(0), n.MissingSince)
	assert.Equal(t, day(90), n.Deadline)
	assert.Empty(t, f.mirror.ops(), "a warning has no disk effect")
}

func TestExecute_NotifierFailureDoesNotFailWarn(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = stderrors.New("sink down")
	report, err := f.executor().Execute(context.Background(), []reconcile.Action{f.action(reconcile.ActionWarn, devKey)})
	require.NoError(t, err)
	assert.Empty(t, report.Failed())
	dev, _ := f.live(devKey)
	assert.Equal(t, state.StatusPendingDeletion, dev.Status)
}

func TestExecute_DeleteBranchAfterWarning(t *testing.T) {
	f := newFixture(t)
	ex := f.executor()
	ctx := context.Background()
	_, err := ex.Execute(ctx, []reconcile.Action{f.action(reconcile.ActionWarn, devKey)})
	require.NoError(t, err)

	f.clock.Advance(14 * 24 * time.Hour)
	report, err := ex.Execute(ctx, []reconcile.Action{f.action(reconcile.ActionDelete, devKey)})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(reconcile.ActionDelete, OutcomeSucceeded))
	assert.Equal(t, []string{"remove-ref acme/api"}, f.mirror.ops())
	assert.Equal(t, "dev", f.mirror.calls[0].name)

	_, ok := f.live(devKey)
	assert.False(t, ok, "deleted entities leave the live ledger")
	events, err := f.store.Events(ctx, devKey)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, state.EventDeleted, events[1].Event)
	assert.Equal(t, notify.EventDelete, f.notifier.got[1].Event)
}

func TestExecute_DeleteWithoutWarningIsRefused(t *testing.T) {
	f := newFixture(t)
	report, err := f.executor().Execute(context.Background(), []reconcile.Action{f.action(reconcile.ActionDelete, devKey)})
	require.NoError(t, err)
	require.Len(t, report.Failed(), 1)
	assert.ErrorIs(t, report.Failed()[0].Err, state.ErrMissingWarning)
	_, ok := f.live(devKey)
	assert.True(t, ok)
}

func TestExecute_DiskFailureLeavesStateAndSkipsDependents(t *testing.T) {
	f := newFixture(t)
	ex := f.executor()
	ctx := context.Background()
	_, err := ex.Execute(ctx, []reconcile.Action{f.action(reconcile.ActionWarn, devKey)})
	require.NoError(t, err)

	repoKey := state.RepoKey("acme", "api")
	branchDelete := f.action(reconcile.ActionDelete, devKey)
	repoDelete := f.action(reconcile.ActionDelete, repoKey, branchDelete.ID())
	f.mirror.fail["remove-ref acme/api"] = stderrors.New("read-only file system")

	report, err := ex.Execute(ctx, []reconcile.Action{branchDelete, repoDelete})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, OutcomeFailed, report.Results[0].Outcome)
	assert.Equal(t, OutcomeSkipped, report.Results[1].Outcome)
	assert.NotContains(t, f.mirror.ops(), "remove-path acme/api")
	assert.Equal(t, map[string]int{"DELETE failed": 1, "DELETE skipped": 1}, report.Counts())

	dev, ok := f.live(devKey)
	require.True(t, ok)
	assert.Equal(t, state.StatusPendingDeletion, dev.Status, "failed disk removal keeps the record")
}

func TestExecute_Preserve(t *testing.T) {
	f := newFixture(t)
	mainKey := state.BranchKey("acme", "api", "main")
	p := state.Preservation{
		Source:    mainKey,
		Name:      reconcile.PreservationName("main", "m1"),
		Commit:    "m1",
		NewHead:   "m2",
		CreatedAt: day(80),
	}
	a := reconcile.Action{Kind: reconcile.ActionPreserve, Key: mainKey, Preservation: p}

	report, err := f.executor().Execute(context.Background(), []reconcile.Action{a})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(reconcile.ActionPreserve, OutcomeSucceeded))
	require.Len(t, f.mirror.calls, 1)
	assert.Equal(t, call{op: "create", key: state.RepoKey("acme", "api"), name: "main_abandoned_m1"}, f.mirror.calls[0])

	pinned, ok := f.live(p.BranchKey())
	require.True(t, ok)
	assert.True(t, pinned.Preserved)
	assert.Equal(t, state.StatusAbandoned, pinned.Status)
	assert.Equal(t, "m1", pinned.HeadCommit)

	main, _ := f.live(mainKey)
	assert.Equal(t, "m2", main.HeadCommit)

	ps, err := f.store.Preservations(context.Background(), state.RepoKey("acme", "api"))
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "run-1", ps[0].RunID)
}

func TestExecute_PreserveFailureKeepsOldHead(t *testing.T) {
	f := newFixture(t)
	mainKey := state.BranchKey("acme", "api", "main")
	f.mirror.fail["create acme/api"] = stderrors.New("object missing")
	a := reconcile.Action{Kind: reconcile.ActionPreserve, Key: mainKey, Preservation: state.Preservation{
		Source: mainKey, Name: "main_abandoned_m1", Commit: "m1", NewHead: "m2", CreatedAt: day(80),
	}}
	report, err := f.executor().Execute(context.Background(), []reconcile.Action{a})
	require.NoError(t, err)
	require.Len(t, report.Failed(), 1)

	main, _ := f.live(mainKey)
	assert.Equal(t, "m1", main.HeadCommit, "the next run sees the rewrite again")
}

func TestExecute_StopsOnCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.executor().Execute(ctx, []reconcile.Action{f.action(reconcile.ActionWarn, devKey)})
	require.ErrorIs(t, err, context.Canceled)
	dev, _ := f.live(devKey)
	assert.Equal(t, state.StatusRemoved, dev.Status)
}

func TestExecute_RecordsAtReconciliationInstant(t *testing.T) {
	f := newFixture(t)
	a := f.action(reconcile.ActionWarn, devKey)
	a.At = day(76)
	_, err := f.executor().Execute(context.Background(), []reconcile.Action{a})
	require.NoError(t, err)

	events, err := f.store.Events(context.Background(), devKey)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, day(76), events[0].At, "a slow fetch must not push the warning past the clock")
	assert.Equal(t, day(76), f.notifier.got[0].At)
}
