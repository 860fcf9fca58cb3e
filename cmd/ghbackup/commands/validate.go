package commands

import (
	"fmt"
	"io"
	"os"

	"git.home.luguber.info/inful/ghbackup/internal/config"
)

// ValidateCmd implements the 'validate' command.
type ValidateCmd struct{}

func (v *ValidateCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.load(g)
	if err != nil {
		return err
	}
	writeValidation(os.Stdout, root.Config, cfg)
	return nil
}

func writeValidation(w io.Writer, path string, cfg *config.Config) {
	enabled := 0
	for _, on := range cfg.Selection() {
		if on {
			enabled++
		}
	}
	_, _ = fmt.Fprintf(w, "%s is valid\n", path)
	_, _ = fmt.Fprintf(w, "  organizations: %d configured, %d enabled\n", len(cfg.Organizations), enabled)
	_, _ = fmt.Fprintf(w, "  backups: %s (concurrency %d)\n", cfg.Default.BackupPath, cfg.Default.Concurrency)
	_, _ = fmt.Fprintf(w, "  tracking: %s\n", cfg.Tracker.TrackDB)
	if cfg.Notify.NATS != nil {
		_, _ = fmt.Fprintf(w, "  notices: NATS %s on %s\n", cfg.Notify.NATS.URL, cfg.Notify.NATS.Subject)
	}
}
