// Package notify delivers retention notices to operators.
package notify

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/ghbackup/internal/logfields"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

// Event names what a notice announces.
type Event string

const (
	EventWarn   Event = "WARN"
	EventDelete Event = "DELETE"
)

// Notice announces a scheduled or completed deletion.
type Notice struct {
	Event        Event      `json:"event"`
	Kind         state.Kind `json:"kind"`
	Organization string     `json:"organization"`
	Repository   string     `json:"repository,omitempty"`
	Branch       string     `json:"branch,omitempty"`
	Status       string     `json:"status"`
	Preserved    bool       `json:"preserved,omitempty"`
	MissingSince time.Time  `json:"missing_since"`
	Deadline     time.Time  `json:"deadline,omitempty"`
	RunID        string     `json:"run_id"`
	At           time.Time  `json:"at"`
}

// NewNotice builds a notice for entity e.
func NewNotice(ev Event, e state.Entity, missingSince, deadline, at time.Time, runID string) Notice {
	return Notice{
		Event:        ev,
		Kind:         e.Kind(),
		Organization: e.Key.Organization,
		Repository:   e.Key.Repository,
		Branch:       e.Key.Branch,
		Status:       string(e.Status),
		Preserved:    e.Preserved,
		MissingSince: missingSince,
		Deadline:     deadline,
		RunID:        runID,
		At:           at,
	}
}

// Key returns the entity key the notice is about.
func (n Notice) Key() state.Key {
	return state.Key{Organization: n.Organization, Repository: n.Repository, Branch: n.Branch}
}

// Message renders the notice for humans, relative to n.At.
func (n Notice) Message() string {
	since := fmt.Sprintf("%s (%s)", n.MissingSince.Format(time.DateOnly), humanize.RelTime(n.MissingSince, n.At, "ago", "from now"))
	switch n.Event {
	case EventWarn:
		return fmt.Sprintf("%s %s is %s since %s and will be deleted %s (%s)",
			n.Kind, n.Key(), n.describeStatus(), since,
			humanize.RelTime(n.Deadline, n.At, "ago", "from now"), n.Deadline.Format(time.DateOnly))
	default:
		return fmt.Sprintf("%s %s was deleted after being %s since %s", n.Kind, n.Key(), n.describeStatus(), since)
	}
}

func (n Notice) describeStatus() string {
	switch {
	case n.Kind == state.KindOrganization:
		return "orphaned"
	case n.Preserved:
		return "abandoned"
	default:
		return "missing upstream"
	}
}

// Notifier delivers notices.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// LogNotifier writes notices to the default logger.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, n Notice) error {
	slog.Warn(n.Message(),
		logfields.Action(string(n.Event)),
		logfields.Kind(string(n.Kind)),
		logfields.Organization(n.Organization),
		logfields.Repository(n.Repository),
		logfields.Branch(n.Branch),
		logfields.RunID(n.RunID))
	return nil
}

// Multi fans a notice out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
