package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/ghbackup/internal/config"
	"git.home.luguber.info/inful/ghbackup/internal/eventstore"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	JSON bool `help:"Print the status as JSON"`
}

// statusReport is what status prints.
type statusReport struct {
	Entities      map[state.Kind]map[state.Status]int `json:"entities"`
	Preservations int                                 `json:"preservations"`
	Warnings      int                                 `json:"warnings"`
	Deletions     int                                 `json:"deletions"`
	LatestRun     *eventstore.RunSummary              `json:"latest_run,omitempty"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.load(g)
	if err != nil {
		return err
	}
	report, err := collectStatus(context.Background(), cfg.Tracker)
	if err != nil {
		return err
	}
	if s.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	writeStatus(os.Stdout, report, time.Now())
	return nil
}

func collectStatus(ctx context.Context, tc config.TrackerConfig) (statusReport, error) {
	var report statusReport
	if _, err := os.Stat(tc.TrackDB); err != nil {
		return report, nil
	}
	store, err := state.NewSQLiteStore(tc.TrackDB)
	if err != nil {
		return report, err
	}
	defer func() { _ = store.Close() }()

	sum, err := store.Summary(ctx)
	if err != nil {
		return report, err
	}
	report.Entities = sum.Counts
	report.Preservations = sum.Preservations
	report.Warnings = sum.Warnings
	report.Deletions = sum.Deletions

	if tc.JournalDB == "" {
		return report, nil
	}
	if _, err := os.Stat(tc.JournalDB); err != nil {
		return report, nil
	}
	journal, err := eventstore.NewSQLiteStore(tc.JournalDB)
	if err != nil {
		return report, err
	}
	defer func() { _ = journal.Close() }()
	history := eventstore.NewRunHistoryProjection(journal, 1)
	if err := history.Rebuild(ctx); err != nil {
		return report, err
	}
	if latest, ok := history.Latest(); ok {
		report.LatestRun = &latest
	}
	return report, nil
}

var kindOrder = []state.Kind{state.KindOrganization, state.KindRepository, state.KindBranch}

func writeStatus(w io.Writer, r statusReport, now time.Time) {
	if len(r.Entities) == 0 {
		_, _ = fmt.Fprintln(w, "Nothing tracked yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KIND\tSTATUS\tCOUNT")
	for _, kind := range kindOrder {
		byStatus := r.Entities[kind]
		statuses := make([]string, 0, len(byStatus))
		for st := range byStatus {
			statuses = append(statuses, string(st))
		}
		sort.Strings(statuses)
		for _, st := range statuses {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", kind, st, humanize.Comma(int64(byStatus[state.Status(st)])))
		}
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "\n%d preservation branches, %d warnings sent, %d deletions\n", r.Preservations, r.Warnings, r.Deletions)

	run := r.LatestRun
	if run == nil {
		return
	}
	_, _ = fmt.Fprintf(w, "\nLatest run %s: %s, started %s\n", run.RunID, run.Status, humanize.RelTime(run.StartedAt, now, "ago", "from now"))
	for _, repo := range run.FailedFetches {
		_, _ = fmt.Fprintf(w, "  not fetched: %s\n", repo)
	}
	if run.ErrorMessage != "" {
		_, _ = fmt.Fprintf(w, "  failed during %s: %s\n", run.ErrorStage, run.ErrorMessage)
	}
}
