package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const exampleConfig = `# ghbackup configuration
default:
  backupPath: /var/backups/github
  cloneViaSSH: false
  token: ${GITHUB_TOKEN}
  # ssh-key: ~/.ssh/id_ed25519
  concurrency: 4

organizations:
  your-org:
    enabled: true

tracker:
  trackDB: /var/backups/github/tracker.db
  # Set to false to keep removed repositories forever.
  trackRepositories: true
  # Set to false to stop pinning heads lost to force-pushes.
  trackAbandonedBranches: true
  # Durations: <number>[d|w|m|y]; m is 30 days, y is 365 days, no suffix means days.
  deleteAbandonedBranchesAfter: 1y
  warnBeforeAbandonedBranchDeletion: 30d
  deleteRemovedBranchesAfter: 90d
  warnBeforeBranchDeletion: 15d
  deleteRemovedRepositoriesAfter: 6m
  warnBeforeRepositoryDeletion: 30d
  deleteOrphanedOrganizationsAfter: 1y
  warnBeforeOrphanedOrganizationDeletion: 30d

retry:
  backoff: linear
  initialDelay: 1s
  maxDelay: 30s
  maxRetries: 2

# notify:
#   nats:
#     url: nats://127.0.0.1:4222
#     subject: ghbackup.retention

# metrics:
#   textfile: /var/lib/node_exporter/textfile_collector/ghbackup.prom

logging:
  level: info
  format: text
`

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}
	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o600); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}
	return nil
}
