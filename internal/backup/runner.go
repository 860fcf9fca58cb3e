// Package backup wires one complete backup and retention pass.
package backup

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"git.home.luguber.info/inful/ghbackup/internal/config"
	"git.home.luguber.info/inful/ghbackup/internal/eventstore"
	"git.home.luguber.info/inful/ghbackup/internal/executor"
	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/git"
	"git.home.luguber.info/inful/ghbackup/internal/logfields"
	"git.home.luguber.info/inful/ghbackup/internal/metrics"
	"git.home.luguber.info/inful/ghbackup/internal/notify"
	"git.home.luguber.info/inful/ghbackup/internal/reconcile"
	"git.home.luguber.info/inful/ghbackup/internal/retention"
	"git.home.luguber.info/inful/ghbackup/internal/retry"
	"git.home.luguber.info/inful/ghbackup/internal/snapshot"
	"git.home.luguber.info/inful/ghbackup/internal/source"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

const defaultLockTimeout = 2 * time.Second

// Mirror is everything the run needs from the git layer.
type Mirror interface {
	executor.Mirror
	reconcile.Ancestry
	// Heads lists the branch heads a fetched mirror holds.
	Heads(repo state.Key) (map[string]string, error)
}

// warnLeadSetter is implemented by stores that enforce the warning period.
type warnLeadSetter interface {
	SetWarnLead(lead state.WarnLead)
}

// textfileWriter is implemented by recorders that can persist themselves.
type textfileWriter interface {
	WriteTextfile(path string) error
}

// Runner performs backup runs for one configuration.
type Runner struct {
	cfg         *config.Config
	clock       clock.Clock
	lister      source.Lister
	mirror      Mirror
	store       state.Store
	journal     eventstore.Store
	notifier    notify.Notifier
	recorder    metrics.Recorder
	lockTimeout time.Duration
	version     string
}

// Option customizes a Runner.
type Option func(*Runner)

func WithClock(c clock.Clock) Option         { return func(r *Runner) { r.clock = c } }
func WithLister(l source.Lister) Option      { return func(r *Runner) { r.lister = l } }
func WithMirror(m Mirror) Option             { return func(r *Runner) { r.mirror = m } }
func WithStore(s state.Store) Option         { return func(r *Runner) { r.store = s } }
func WithJournal(s eventstore.Store) Option  { return func(r *Runner) { r.journal = s } }
func WithNotifier(n notify.Notifier) Option  { return func(r *Runner) { r.notifier = n } }
func WithRecorder(m metrics.Recorder) Option { return func(r *Runner) { r.recorder = m } }
func WithLockTimeout(d time.Duration) Option { return func(r *Runner) { r.lockTimeout = d } }
func WithVersion(v string) Option            { return func(r *Runner) { r.version = v } }

// NewRunner creates a Runner. Collaborators not supplied as options are built
// from cfg when Run starts.
func NewRunner(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, lockTimeout: defaultLockTimeout}
	for _, o := range opts {
		o(r)
	}
	if r.clock == nil {
		r.clock = clock.WallClock
	}
	return r
}

// Result summarizes a finished run.
type Result struct {
	RunID            string
	Outcome          metrics.OutcomeLabel
	Organizations    int
	Repositories     int
	Branches         int
	Fetch            executor.FetchReport
	Observations     int
	Actions          executor.Report
	AncestryFailures int
	LostHeads        []reconcile.LostHead
	Duration         time.Duration
}

// Run performs one backup and retention pass. Only fatal conditions are
// returned as errors: a held lock, an unreadable store, a failed organization
// listing or a failed observation write. Per-entity failures end up in Result.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	start := r.clock.Now()
	var res Result
	if r.cfg.Tracker.TrackDB == "" {
		return res, ErrNoTrackDB
	}

	lock, err := state.AcquireRunLock(ctx, r.cfg.Tracker.TrackDB, r.lockTimeout, r.clock)
	if err != nil {
		return res, err
	}
	defer lock.Release()

	rec := r.recorder
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	defer r.finish(rec, &res, start)

	cleanup, err := r.open(ctx)
	defer cleanup()
	if err != nil {
		res.Outcome = metrics.OutcomeFailed
		return res, err
	}

	var journal *eventstore.Journal
	if r.journal != nil {
		journal = eventstore.NewJournal(r.journal, r.clock)
		res.RunID = journal.RunID()
	} else {
		res.RunID = uuid.NewString()
	}
	log := slog.With(logfields.RunID(res.RunID))
	jr := journalRecorder{journal: journal, log: log}
	fail := func(stage string, err error) (Result, error) {
		res.Outcome = metrics.OutcomeFailed
		if ctx.Err() != nil {
			res.Outcome = metrics.OutcomeCanceled
		}
		jr.record(func(ctx context.Context, j *eventstore.Journal) error {
			return j.Failed(ctx, eventstore.RunFailedMeta{Stage: stage, Error: err.Error()})
		})
		log.Error("Run failed", slog.String("stage", stage), logfields.Error(err))
		return res, err
	}

	jr.record(func(ctx context.Context, j *eventstore.Journal) error {
		return j.Started(ctx, eventstore.RunStartedMeta{
			Organizations: enabledOrganizations(r.cfg),
			Concurrency:   r.cfg.Default.Concurrency,
			Version:       r.version,
		})
	})
	log.Info("Backup run started", slog.String("backup_path", r.cfg.Default.BackupPath))

	retCfg := retention.FromTracker(r.cfg.Tracker)
	if s, ok := r.store.(warnLeadSetter); ok {
		s.SetWarnLead(func(e state.Entity) time.Duration { return retCfg.PolicyFor(e).Warn })
	}
	ledger, err := r.store.Load(ctx)
	if err != nil {
		return fail("load", err)
	}

	now := r.clock.Now()
	snap, err := source.Collect(ctx, r.lister, r.cfg.Selection(), now)
	if err != nil {
		return fail("snapshot", err)
	}
	res.Organizations, res.Repositories, res.Branches = snap.Counts()

	ex := executor.New(executor.Options{
		Store:       r.store,
		Mirror:      r.mirror,
		Notifier:    r.notifier,
		Recorder:    rec,
		Clock:       r.clock,
		Concurrency: r.cfg.Default.Concurrency,
		RunID:       res.RunID,
	})

	res.Fetch, err = ex.Fetch(ctx, reconcile.FetchPlan(snap))
	if err != nil {
		return fail("fetch", err)
	}
	for _, f := range res.Fetch.Failed {
		jr.record(func(ctx context.Context, j *eventstore.Journal) error {
			return j.FetchFailed(ctx, eventstore.FetchFailedMeta{Repository: f.Key.String(), URL: f.CloneURL, Error: f.Err.Error()})
		})
	}
	r.mirrorHeads(log, snap, res.Fetch.Fetched)

	plan, err := reconcile.Reconcile(ctx, reconcile.Input{
		Ledger:      ledger,
		Snapshot:    snap,
		Now:         now,
		RunID:       res.RunID,
		Retention:   retCfg,
		Ancestry:    r.mirror,
		FetchFailed: res.Fetch.FailedKeys(),

		SkipPreservation: !r.cfg.Tracker.PreservesAbandonedBranches(),
	})
	if err != nil {
		return fail("reconcile", err)
	}
	res.AncestryFailures = plan.AncestryFailures
	res.LostHeads = plan.LostHeads
	rec.IncAncestryFailures(plan.AncestryFailures)

	if err := r.store.ApplyObservations(ctx, plan.Observations); err != nil {
		return fail("observations", err)
	}
	res.Observations = len(plan.Observations)

	res.Actions, err = ex.Execute(ctx, plan.Plan)
	if err != nil {
		return fail("execute", err)
	}

	res.Outcome = outcome(snap, res)
	res.Duration = r.clock.Now().Sub(start)
	reportFailures(log, res)
	jr.record(func(ctx context.Context, j *eventstore.Journal) error {
		return j.Completed(ctx, eventstore.RunReport{
			Outcome:          string(res.Outcome),
			Fetched:          len(res.Fetch.Fetched),
			FetchFailures:    len(res.Fetch.Failed),
			Observations:     res.Observations,
			Actions:          res.Actions.Counts(),
			AncestryFailures: res.AncestryFailures,
			LostHeads:        lostHeads(res.LostHeads),
			DurationMS:       res.Duration.Milliseconds(),
		})
	})
	r.recordEntities(ctx, rec, log)
	log.Info("Backup run finished",
		slog.String("outcome", string(res.Outcome)),
		slog.Int("fetched", len(res.Fetch.Fetched)),
		slog.Int("fetch_failures", len(res.Fetch.Failed)),
		slog.Int("observations", res.Observations),
		slog.Int("actions", len(res.Actions.Results)),
		logfields.Duration(res.Duration))
	return res, nil
}

// open builds the collaborators not injected through options.
func (r *Runner) open(ctx context.Context) (func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if r.store == nil {
		s, err := state.NewSQLiteStore(r.cfg.Tracker.TrackDB)
		if err != nil {
			return cleanup, err
		}
		r.store = s
		closers = append(closers, func() { _ = s.Close(); r.store = nil })
	}

	if r.journal == nil && r.cfg.Tracker.JournalDB != "" {
		j, err := eventstore.NewSQLiteStore(r.cfg.Tracker.JournalDB)
		if err != nil {
			slog.Warn("Run journal unavailable; continuing without it", logfields.Path(r.cfg.Tracker.JournalDB), logfields.Error(err))
		} else {
			r.journal = j
			closers = append(closers, func() { _ = j.Close(); r.journal = nil })
		}
	}

	policy := retry.FromConfig(r.cfg.Retry)
	if r.lister == nil {
		gh, err := source.NewGitHub(source.GitHubOptions{
			APIURL:      r.cfg.GitHub.APIURL,
			Token:       r.cfg.Default.Token,
			CloneViaSSH: r.cfg.Default.CloneViaSSH,
			Retry:       retry.NewRunner(policy),
		})
		if err != nil {
			return cleanup, err
		}
		r.lister = gh
		closers = append(closers, func() { r.lister = nil })
	}

	if r.mirror == nil {
		auth, err := git.AuthFromConfig(r.cfg.Default)
		if err != nil {
			return cleanup, err
		}
		client, err := git.NewClient(git.Options{BackupPath: r.cfg.Default.BackupPath, Auth: auth, Retry: retry.NewRunner(policy)})
		if err != nil {
			return cleanup, err
		}
		r.mirror = client
		closers = append(closers, func() { r.mirror = nil })
	}

	if r.notifier == nil {
		notifiers := notify.Multi{notify.LogNotifier{}}
		if nc := r.cfg.Notify.NATS; nc != nil {
			n, err := notify.NewNATSNotifier(ctx, *nc)
			if err != nil {
				slog.Warn("NATS notifier unavailable; notices go to the log only", logfields.Error(err))
			} else {
				notifiers = append(notifiers, n)
				closers = append(closers, func() { _ = n.Close() })
			}
		}
		r.notifier = notifiers
		closers = append(closers, func() { r.notifier = nil })
	}
	return cleanup, nil
}

// finish records run-level metrics and writes the textfile.
func (r *Runner) finish(rec metrics.Recorder, res *Result, start time.Time) {
	if res.Outcome == "" {
		res.Outcome = metrics.OutcomeFailed
	}
	if res.Duration == 0 {
		res.Duration = r.clock.Now().Sub(start)
	}
	rec.ObserveRunDuration(res.Duration)
	rec.IncRunOutcome(res.Outcome)
	rec.SetLastRun(r.clock.Now())
	if w, ok := rec.(textfileWriter); ok {
		if err := w.WriteTextfile(r.cfg.Metrics.Textfile); err != nil {
			slog.Warn("Failed to write metrics", logfields.Error(err))
		}
	}
}

func (r *Runner) recordEntities(ctx context.Context, rec metrics.Recorder, log *slog.Logger) {
	sum, err := r.store.Summary(ctx)
	if err != nil {
		log.Warn("Failed to summarize tracked state", logfields.Error(err))
		return
	}
	for kind, byStatus := range sum.Counts {
		for status, n := range byStatus {
			rec.SetEntities(string(kind), string(status), n)
		}
	}
}

func outcome(snap *snapshot.Snapshot, res Result) metrics.OutcomeLabel {
	if len(res.Fetch.Failed) > 0 || len(res.Actions.Failed()) > 0 {
		return metrics.OutcomePartial
	}
	for _, o := range snap.Organizations {
		if !o.Enabled {
			continue
		}
		if !o.Complete {
			return metrics.OutcomePartial
		}
		for _, repo := range o.Repositories {
			if !repo.Complete {
				return metrics.OutcomePartial
			}
		}
	}
	return metrics.OutcomeSuccess
}

// reportFailures logs every repository left unfetched and every failed action.
func reportFailures(log *slog.Logger, res Result) {
	for _, f := range res.Fetch.Failed {
		log.Warn("Repository not backed up this run",
			logfields.Organization(f.Key.Organization),
			logfields.Repository(f.Key.Repository),
			logfields.Error(f.Err))
	}
	for _, a := range res.Actions.Failed() {
		log.Warn("Action failed this run", logfields.Action(a.Action.ID()), logfields.Error(a.Err))
	}
	for _, l := range res.LostHeads {
		log.Warn("Previous head could not be preserved",
			logfields.Organization(l.Branch.Organization),
			logfields.Repository(l.Branch.Repository),
			logfields.Branch(l.Branch.Branch),
			logfields.Commit(l.Commit))
	}
}

func lostHeads(in []reconcile.LostHead) []string {
	out := make([]string, 0, len(in))
	for _, l := range in {
		out = append(out, l.Branch.String()+" "+l.Commit)
	}
	return out
}

// mirrorHeads replaces listed heads of fetched repositories with what the
// mirror actually holds, so a push landing between listing and fetch is
// tracked at the commit that was backed up. On error the listed heads stay.
func (r *Runner) mirrorHeads(log *slog.Logger, snap *snapshot.Snapshot, fetched []state.Key) {
	done := make(map[state.Key]bool, len(fetched))
	for _, k := range fetched {
		done[k] = true
	}
	for oi := range snap.Organizations {
		org := &snap.Organizations[oi]
		for ri := range org.Repositories {
			repo := &org.Repositories[ri]
			key := state.RepoKey(org.Name, repo.Name)
			if !done[key] {
				continue
			}
			heads, err := r.mirror.Heads(key)
			if err != nil {
				log.Warn("Failed to read mirror heads; using listed heads",
					logfields.Organization(key.Organization),
					logfields.Repository(key.Repository),
					logfields.Error(err))
				continue
			}
			for bi := range repo.Branches {
				b := &repo.Branches[bi]
				if h, ok := heads[b.Name]; ok && h != b.HeadCommit {
					log.Debug("Branch moved during fetch",
						logfields.Organization(key.Organization),
						logfields.Repository(key.Repository),
						logfields.Branch(b.Name),
						logfields.Commit(h))
					b.HeadCommit = h
				}
			}
		}
	}
}

func enabledOrganizations(cfg *config.Config) []string {
	var out []string
	for name, enabled := range cfg.Selection() {
		if enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// journalRecorder appends to the journal when one is open. Journal failures
// are logged; they never fail the run.
type journalRecorder struct {
	journal *eventstore.Journal
	log     *slog.Logger
}

func (j journalRecorder) record(fn func(ctx context.Context, j *eventstore.Journal) error) {
	if j.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx, j.journal); err != nil {
		j.log.Warn("Failed to journal run event", logfields.Error(err))
	}
}

// ErrNoTrackDB is returned when the configuration names no tracking database.
var ErrNoTrackDB = errors.ConfigurationError("tracker.trackDB is required").Build()
