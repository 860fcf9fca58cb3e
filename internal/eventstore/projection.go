// Package eventstore journals backup runs as append-only events and projects
// them into a run history.
package eventstore

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"
)

// Run statuses of the projection. Completed runs take their outcome instead.
const (
	RunStatusRunning = "running"
	RunStatusFailed  = "failed"
)

// RunSummary is a read model of one run.
type RunSummary struct {
	RunID         string         `json:"run_id"`
	Status        string         `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Duration      time.Duration  `json:"duration,omitempty"`
	Organizations []string       `json:"organizations,omitempty"`
	FailedFetches []string       `json:"failed_fetches,omitempty"`
	Actions       map[string]int `json:"actions,omitempty"`
	LostHeads     []string       `json:"lost_heads,omitempty"`
	ErrorStage    string         `json:"error_stage,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
}

// RunHistoryProjection keeps the most recent runs, rebuilt from the journal.
type RunHistoryProjection struct {
	mu      sync.RWMutex
	store   Store
	runs    map[string]*RunSummary
	maxSize int
}

// NewRunHistoryProjection creates a projection keeping at most maxHistorySize runs.
func NewRunHistoryProjection(store Store, maxHistorySize int) *RunHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 50
	}
	return &RunHistoryProjection{store: store, runs: map[string]*RunSummary{}, maxSize: maxHistorySize}
}

// Rebuild replays every event in the store.
func (p *RunHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Unix(0, 0), time.Unix(0, math.MaxInt64))
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = map[string]*RunSummary{}
	for _, e := range events {
		p.applyLocked(e)
	}
	p.pruneLocked()
	return nil
}

// Apply folds a single event into the projection.
func (p *RunHistoryProjection) Apply(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyLocked(e)
	p.pruneLocked()
}

func (p *RunHistoryProjection) applyLocked(e Event) {
	id := e.RunID()
	if id == "" {
		return
	}
	s, ok := p.runs[id]
	if !ok {
		s = &RunSummary{RunID: id, Status: RunStatusRunning, StartedAt: e.Timestamp()}
		p.runs[id] = s
	}

	switch e.Type() {
	case TypeRunStarted:
		s.StartedAt = e.Timestamp()
		var meta RunStartedMeta
		if err := json.Unmarshal(e.Payload(), &meta); err == nil {
			s.Organizations = meta.Organizations
		}
	case TypeFetchFailed:
		var meta FetchFailedMeta
		if err := json.Unmarshal(e.Payload(), &meta); err == nil {
			s.FailedFetches = append(s.FailedFetches, meta.Repository)
		}
	case TypeRunCompleted:
		p.finish(s, e.Timestamp())
		var report RunReport
		if err := json.Unmarshal(e.Payload(), &report); err == nil {
			if report.Outcome != "" {
				s.Status = report.Outcome
			}
			s.Actions = report.Actions
			s.LostHeads = report.LostHeads
		}
	case TypeRunFailed:
		p.finish(s, e.Timestamp())
		s.Status = RunStatusFailed
		var meta RunFailedMeta
		if err := json.Unmarshal(e.Payload(), &meta); err == nil {
			s.ErrorStage = meta.Stage
			s.ErrorMessage = meta.Error
		}
	}
}

func (p *RunHistoryProjection) finish(s *RunSummary, at time.Time) {
	s.CompletedAt = &at
	s.Duration = at.Sub(s.StartedAt)
	if s.Status == RunStatusRunning {
		s.Status = "completed"
	}
}

// pruneLocked drops the oldest runs beyond maxSize.
func (p *RunHistoryProjection) pruneLocked() {
	if len(p.runs) <= p.maxSize {
		return
	}
	for _, s := range p.sortedLocked()[p.maxSize:] {
		delete(p.runs, s.RunID)
	}
}

// sortedLocked returns the runs newest first.
func (p *RunHistoryProjection) sortedLocked() []*RunSummary {
	out := make([]*RunSummary, 0, len(p.runs))
	for _, s := range p.runs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID > out[j].RunID
	})
	return out
}

// History returns copies of the kept runs, newest first.
func (p *RunHistoryProjection) History() []RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sorted := p.sortedLocked()
	out := make([]RunSummary, len(sorted))
	for i, s := range sorted {
		out[i] = *s
	}
	return out
}

// Latest returns the most recently started run.
func (p *RunHistoryProjection) Latest() (RunSummary, bool) {
	h := p.History()
	if len(h) == 0 {
		return RunSummary{}, false
	}
	return h[0], true
}

// Run returns the summary of one run.
func (p *RunHistoryProjection) Run(runID string) (RunSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.runs[runID]
	if !ok {
		return RunSummary{}, false
	}
	return *s, true
}
