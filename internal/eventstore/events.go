package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
)

// Event type names.
const (
	TypeRunStarted   = "RunStarted"
	TypeFetchFailed  = "FetchFailed"
	TypeRunCompleted = "RunCompleted"
	TypeRunFailed    = "RunFailed"
)

// RunStartedMeta describes the configuration a run started with.
type RunStartedMeta struct {
	Organizations []string `json:"organizations"`
	Concurrency   int      `json:"concurrency"`
	Version       string   `json:"version,omitempty"`
}

// RunStarted is emitted once the run lock is held.
type RunStarted struct {
	BaseEvent
	Meta RunStartedMeta
}

// NewRunStarted creates a RunStarted event.
func NewRunStarted(runID string, at time.Time, meta RunStartedMeta) (*RunStarted, error) {
	payload, err := marshal(runID, TypeRunStarted, meta)
	if err != nil {
		return nil, err
	}
	return &RunStarted{BaseEvent: base(runID, TypeRunStarted, at, payload), Meta: meta}, nil
}

// FetchFailedMeta names a repository whose fetch failed after retries.
type FetchFailedMeta struct {
	Repository string `json:"repository"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error"`
}

// FetchFailed is emitted for every repository left unfetched.
type FetchFailed struct {
	BaseEvent
	Meta FetchFailedMeta
}

// NewFetchFailed creates a FetchFailed event.
func NewFetchFailed(runID string, at time.Time, meta FetchFailedMeta) (*FetchFailed, error) {
	payload, err := marshal(runID, TypeFetchFailed, meta)
	if err != nil {
		return nil, err
	}
	return &FetchFailed{BaseEvent: base(runID, TypeFetchFailed, at, payload), Meta: meta}, nil
}

// RunReport summarizes a finished run.
type RunReport struct {
	Outcome          string         `json:"outcome"`
	Fetched          int            `json:"fetched"`
	FetchFailures    int            `json:"fetch_failures"`
	Observations     int            `json:"observations"`
	Actions          map[string]int `json:"actions,omitempty"` // "<KIND> <result>" -> count
	AncestryFailures int            `json:"ancestry_failures,omitempty"`
	LostHeads        []string       `json:"lost_heads,omitempty"` // "<branch key> <commit>"
	DurationMS       int64          `json:"duration_ms"`
}

// RunCompleted is emitted when a run reaches its end, possibly with per-entity failures.
type RunCompleted struct {
	BaseEvent
	Report RunReport
}

// NewRunCompleted creates a RunCompleted event.
func NewRunCompleted(runID string, at time.Time, report RunReport) (*RunCompleted, error) {
	payload, err := marshal(runID, TypeRunCompleted, report)
	if err != nil {
		return nil, err
	}
	return &RunCompleted{BaseEvent: base(runID, TypeRunCompleted, at, payload), Report: report}, nil
}

// RunFailedMeta records a fatal error.
type RunFailedMeta struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// RunFailed is emitted when a fatal error aborts a run.
type RunFailed struct {
	BaseEvent
	Meta RunFailedMeta
}

// NewRunFailed creates a RunFailed event.
func NewRunFailed(runID string, at time.Time, meta RunFailedMeta) (*RunFailed, error) {
	payload, err := marshal(runID, TypeRunFailed, meta)
	if err != nil {
		return nil, err
	}
	return &RunFailed{BaseEvent: base(runID, TypeRunFailed, at, payload), Meta: meta}, nil
}

func base(runID, typ string, at time.Time, payload []byte) BaseEvent {
	return BaseEvent{EventRunID: runID, EventType: typ, EventTimestamp: at, EventPayload: payload}
}

func marshal(runID, typ string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryEventStore, ErrMarshalPayloadFailed.Message()).
			WithContext("run_id", runID).
			WithContext("type", typ).
			Build()
	}
	return payload, nil
}
