package commands

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/ghbackup/internal/backup"
	"git.home.luguber.info/inful/ghbackup/internal/config"
	"git.home.luguber.info/inful/ghbackup/internal/eventstore"
	"git.home.luguber.info/inful/ghbackup/internal/executor"
	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/metrics"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

func parse(t *testing.T, args ...string) (*kong.Context, *CLI) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("ghbackup"), kong.Vars{"version": "test"}, kong.Bind(&Global{}))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return ctx, &cli
}

func TestInitThenValidate(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_example")
	path := filepath.Join(t.TempDir(), "conf", "ghbackup.yaml")

	ctx, _ := parse(t, "-c", path, "init")
	require.NoError(t, ctx.Run())

	ctx, _ = parse(t, "-c", path, "init")
	err := ctx.Run()
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfig))

	ctx, _ = parse(t, "-c", path, "init", "--force")
	require.NoError(t, ctx.Run())

	ctx, _ = parse(t, "-c", path, "validate")
	require.NoError(t, ctx.Run())
}

func TestValidate_MissingFile(t *testing.T) {
	ctx, _ := parse(t, "-c", filepath.Join(t.TempDir(), "absent.yaml"), "validate")
	err := ctx.Run()
	require.Error(t, err)
	assert.Equal(t, 7, errors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))
}

func TestWriteValidation(t *testing.T) {
	off := false
	cfg := &config.Config{
		Default:       config.DefaultConfig{BackupPath: "/srv/github", Concurrency: 4},
		Organizations: map[string]*config.OrganizationConfig{"acme": {}, "legacy": {Enabled: &off}},
		Tracker:       config.TrackerConfig{TrackDB: "/srv/github/tracker.db"},
		Notify:        config.NotifyConfig{NATS: &config.NATSConfig{URL: "nats://localhost:4222", Subject: "ghbackup.retention"}},
	}
	var buf bytes.Buffer
	writeValidation(&buf, "ghbackup.yaml", cfg)
	out := buf.String()
	assert.Contains(t, out, "ghbackup.yaml is valid")
	assert.Contains(t, out, "2 configured, 1 enabled")
	assert.Contains(t, out, "/srv/github (concurrency 4)")
	assert.Contains(t, out, "NATS nats://localhost:4222 on ghbackup.retention")
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logLevel(config.LogLevelError, true))
	assert.Equal(t, slog.LevelWarn, logLevel(config.LogLevelWarn, false))
	assert.Equal(t, slog.LevelInfo, logLevel("", false))

	t.Setenv(logLevelEnv, "debug")
	assert.Equal(t, slog.LevelDebug, logLevel(config.LogLevelError, false))
}

func TestWriteRunSummary(t *testing.T) {
	res := backup.Result{
		RunID:         "run-1",
		Outcome:       metrics.OutcomePartial,
		Organizations: 2,
		Repositories:  1200,
		Branches:      5,
		Duration:      1500 * time.Millisecond,
		Fetch: executor.FetchReport{
			Fetched: []state.Key{state.RepoKey("acme", "api")},
			Failed:  []executor.FetchFailure{{Key: state.RepoKey("acme", "web"), Err: stderrors.New("timeout")}},
		},
	}
	var buf bytes.Buffer
	writeRunSummary(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "Run run-1 partial in 1.5s")
	assert.Contains(t, out, "1,200 repositories")
	assert.Contains(t, out, "fetched 1, failed 1")
	assert.Contains(t, out, "acme/web: timeout")
}

func TestCollectStatus(t *testing.T) {
	dir := t.TempDir()
	tc := config.TrackerConfig{TrackDB: filepath.Join(dir, "tracker.db"), JournalDB: filepath.Join(dir, "journal.db")}

	report, err := collectStatus(context.Background(), tc)
	require.NoError(t, err)
	assert.Empty(t, report.Entities)

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store, err := state.NewSQLiteStore(tc.TrackDB)
	require.NoError(t, err)
	require.NoError(t, store.ApplyObservations(context.Background(), []state.Entity{
		{Key: state.OrgKey("acme"), Status: state.StatusActive, FirstSeen: now, LastSeen: now},
	}))
	require.NoError(t, store.Close())

	journal, err := eventstore.NewSQLiteStore(tc.JournalDB)
	require.NoError(t, err)
	started, err := eventstore.NewRunStarted("run-9", now.Add(-2*time.Hour), eventstore.RunStartedMeta{Organizations: []string{"acme"}})
	require.NoError(t, err)
	require.NoError(t, journal.Append(context.Background(), started))
	require.NoError(t, journal.Close())

	report, err = collectStatus(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Entities[state.KindOrganization][state.StatusActive])
	require.NotNil(t, report.LatestRun)
	assert.Equal(t, "run-9", report.LatestRun.RunID)

	var buf bytes.Buffer
	writeStatus(&buf, report, now)
	out := buf.String()
	assert.Contains(t, out, "organization")
	assert.Contains(t, out, "ACTIVE")
	assert.Contains(t, out, "Latest run run-9: running, started 2 hours ago")
}

func TestWriteStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	writeStatus(&buf, statusReport{}, time.Now())
	assert.Equal(t, "Nothing tracked yet\n", buf.String())
}
