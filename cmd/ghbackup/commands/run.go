package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/ghbackup/internal/backup"
	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/metrics"
	"git.home.luguber.info/inful/ghbackup/internal/version"
)

// ErrPartialRun is returned by --fail-on-partial when a run left work undone.
var ErrPartialRun = errors.NewError(errors.CategoryRuntime, "run completed with failures").Build()

// RunCmd implements the 'run' command.
type RunCmd struct {
	FailOnPartial bool `name:"fail-on-partial" help:"Exit non-zero when a fetch, listing or retention action failed"`
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.load(g)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	opts := []backup.Option{backup.WithVersion(version.Version)}
	if cfg.Metrics.Textfile != "" {
		opts = append(opts, backup.WithRecorder(metrics.NewPrometheusRecorder(nil)))
	}
	res, err := backup.NewRunner(cfg, opts...).Run(ctx)
	if err != nil {
		return err
	}
	writeRunSummary(os.Stdout, res)
	if r.FailOnPartial && res.Outcome != metrics.OutcomeSuccess {
		return ErrPartialRun
	}
	return nil
}

func writeRunSummary(w io.Writer, res backup.Result) {
	_, _ = fmt.Fprintf(w, "Run %s %s in %s\n", res.RunID, res.Outcome, res.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  %s organizations, %s repositories, %s branches\n",
		humanize.Comma(int64(res.Organizations)),
		humanize.Comma(int64(res.Repositories)),
		humanize.Comma(int64(res.Branches)))
	_, _ = fmt.Fprintf(w, "  fetched %d, failed %d\n", len(res.Fetch.Fetched), len(res.Fetch.Failed))
	for _, f := range res.Fetch.Failed {
		_, _ = fmt.Fprintf(w, "    %s: %v\n", f.Key, f.Err)
	}
	if res.AncestryFailures > 0 {
		_, _ = fmt.Fprintf(w, "  ancestry checks failed: %d\n", res.AncestryFailures)
	}
	counts := res.Actions.Counts()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "  %s: %d\n", k, counts[k])
	}
}
