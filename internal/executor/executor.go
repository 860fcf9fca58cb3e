// Package executor carries out reconciliation plans against the mirrors and the
// state store.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/logfields"
	"git.home.luguber.info/inful/ghbackup/internal/metrics"
	"git.home.luguber.info/inful/ghbackup/internal/notify"
	"git.home.luguber.info/inful/ghbackup/internal/reconcile"
	"git.home.luguber.info/inful/ghbackup/internal/retention"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

// Mirror is the git side of the executor.
type Mirror interface {
	Fetch(ctx context.Context, repo state.Key, cloneURL string) error
	CreateRef(ctx context.Context, repo state.Key, name, commit string) error
	RemoveRef(ctx context.Context, repo state.Key, name string) error
	RemovePath(ctx context.Context, repo state.Key) error
}

// Options configures an Executor.
type Options struct {
	Store       state.Store
	Mirror      Mirror
	Notifier    notify.Notifier  // defaults to notify.LogNotifier
	Recorder    metrics.Recorder // defaults to metrics.NoopRecorder
	Clock       clock.Clock      // defaults to clock.WallClock
	Concurrency int              // parallel fetches, at least 1
	RunID       string
}

// Executor runs FETCH actions in parallel and the rest of a plan in order.
type Executor struct {
	store       state.Store
	mirror      Mirror
	notifier    notify.Notifier
	recorder    metrics.Recorder
	clock       clock.Clock
	concurrency int
	runID       string
}

// New returns an Executor with defaults filled in.
func New(opts Options) *Executor {
	e := &Executor{
		store:       opts.Store,
		mirror:      opts.Mirror,
		notifier:    opts.Notifier,
		recorder:    opts.Recorder,
		clock:       opts.Clock,
		concurrency: opts.Concurrency,
		runID:       opts.RunID,
	}
	if e.notifier == nil {
		e.notifier = notify.LogNotifier{}
	}
	if e.recorder == nil {
		e.recorder = metrics.NoopRecorder{}
	}
	if e.clock == nil {
		e.clock = clock.WallClock
	}
	if e.concurrency < 1 {
		e.concurrency = 1
	}
	return e
}

// Outcome is the result of one action.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Result records what happened to one action.
type Result struct {
	Action  reconcile.Action
	Outcome Outcome
	Err     error
}

// Report collects the results of Execute in plan order.
type Report struct {
	Results []Result
}

// Count returns how many actions of kind ended with outcome.
func (r Report) Count(kind reconcile.ActionKind, outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Action.Kind == kind && res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failed returns the failed results.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			out = append(out, res)
		}
	}
	return out
}

// Counts maps "<KIND> <outcome>" to its number of actions.
func (r Report) Counts() map[string]int {
	out := map[string]int{}
	for _, res := range r.Results {
		out[string(res.Action.Kind)+" "+string(res.Outcome)]++
	}
	return out
}

// Execute runs plan in order. Each action's store write happens after its side
// effect, in its own transaction. An action whose dependency did not succeed is
// skipped. Only cancellation stops the loop; per-action failures are reported.
func (e *Executor) Execute(ctx context.Context, plan []reconcile.Action) (Report, error) {
	var report Report
	succeeded := make(map[string]bool, len(plan))

	for _, a := range plan {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if missing, ok := unmet(a, succeeded); !ok {
			slog.Info("Skipping action; dependency did not complete",
				logfields.Action(a.ID()),
				slog.String("dependency", missing),
				logfields.RunID(e.runID))
			report.Results = append(report.Results, Result{Action: a, Outcome: OutcomeSkipped})
			e.recorder.IncAction(string(a.Kind), metrics.ResultSkipped)
			continue
		}

		err := e.run(ctx, a)
		res := Result{Action: a, Outcome: OutcomeSucceeded, Err: err}
		if err != nil {
			res.Outcome = OutcomeFailed
			slog.Error("Action failed", logfields.Action(a.ID()), logfields.RunID(e.runID), logfields.Error(err))
			e.recorder.IncAction(string(a.Kind), metrics.ResultFailed)
		} else {
			succeeded[a.ID()] = true
			e.recorder.IncAction(string(a.Kind), metrics.ResultSuccess)
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func unmet(a reconcile.Action, succeeded map[string]bool) (string, bool) {
	for _, dep := range a.DependsOn {
		if !succeeded[dep] {
			return dep, false
		}
	}
	return "", true
}

func (e *Executor) run(ctx context.Context, a reconcile.Action) error {
	switch a.Kind {
	case reconcile.ActionPreserve:
		return e.preserve(ctx, a)
	case reconcile.ActionWarn:
		return e.warn(ctx, a)
	case reconcile.ActionDelete:
		return e.delete(ctx, a)
	default:
		return errors.InternalError("unexpected action in plan").
			WithContext("action", a.ID()).
			Build()
	}
}

func (e *Executor) preserve(ctx context.Context, a reconcile.Action) error {
	p := a.Preservation
	if err := e.mirror.CreateRef(ctx, p.Source.Repo(), p.Name, p.Commit); err != nil {
		return err
	}
	if p.RunID == "" {
		p.RunID = e.runID
	}
	return e.store.RecordPreservation(ctx, p)
}

// stamp is the time a retention event is recorded at: the reconciliation
// instant when the plan carries one.
func (e *Executor) stamp(a reconcile.Action) time.Time {
	if !a.At.IsZero() {
		return a.At
	}
	return e.clock.Now()
}

func (e *Executor) warn(ctx context.Context, a reconcile.Action) error {
	now := e.stamp(a)
	if err := e.store.RecordRetention(ctx, a.Key, state.EventWarned, now, e.runID); err != nil {
		return err
	}
	e.notify(ctx, notify.NewNotice(notify.EventWarn, a.Entity, retention.Start(a.Entity), a.Deadline, now, e.runID))
	return nil
}

func (e *Executor) delete(ctx context.Context, a reconcile.Action) error {
	var err error
	switch a.Key.Kind() {
	case state.KindBranch:
		err = e.mirror.RemoveRef(ctx, a.Key.Repo(), a.Key.Branch)
	case state.KindRepository:
		err = e.mirror.RemovePath(ctx, a.Key)
	}
	if err != nil {
		return err
	}
	now := e.stamp(a)
	if err := e.store.RecordRetention(ctx, a.Key, state.EventDeleted, now, e.runID); err != nil {
		return err
	}
	e.notify(ctx, notify.NewNotice(notify.EventDelete, a.Entity, retention.Start(a.Entity), time.Time{}, now, e.runID))
	return nil
}

// notify delivers n; a failed delivery is logged and never fails the action.
func (e *Executor) notify(ctx context.Context, n notify.Notice) {
	if err := e.notifier.Notify(ctx, n); err != nil {
		slog.Warn("Notification failed",
			logfields.Action(string(n.Event)),
			slog.String("key", n.Key().String()),
			logfields.Error(err))
	}
}
