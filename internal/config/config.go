package config

import "time"

// Config is the complete ghbackup configuration file.
type Config struct {
	Default       DefaultConfig                  `yaml:"default"`
	GitHub        GitHubConfig                   `yaml:"github,omitempty"`
	Organizations map[string]*OrganizationConfig `yaml:"organizations"`
	Tracker       TrackerConfig                  `yaml:"tracker"`
	Retry         RetryConfig                    `yaml:"retry,omitempty"`
	Notify        NotifyConfig                   `yaml:"notify,omitempty"`
	Metrics       MetricsConfig                  `yaml:"metrics,omitempty"`
	Logging       LoggingConfig                  `yaml:"logging,omitempty"`
}

// DefaultConfig holds the settings shared by every organization.
type DefaultConfig struct {
	BackupPath  string `yaml:"backupPath"`
	CloneViaSSH bool   `yaml:"cloneViaSSH"`
	Token       string `yaml:"token"`
	SSHKey      string `yaml:"ssh-key"`
	Concurrency int    `yaml:"concurrency"` // parallel repository fetches
}

// GitHubConfig selects the API endpoint; empty means github.com.
type GitHubConfig struct {
	APIURL string `yaml:"apiURL"`
}

// OrganizationConfig is one entry of the organizations map. Enabled defaults to true.
type OrganizationConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether the organization is selected for backup.
func (o *OrganizationConfig) IsEnabled() bool {
	return o != nil && (o.Enabled == nil || *o.Enabled)
}

// TrackerConfig configures the state database and the retention durations.
type TrackerConfig struct {
	TrackDB   string `yaml:"trackDB"`
	JournalDB string `yaml:"journalDB"`

	// TrackRepositories=false keeps removed repositories forever.
	TrackRepositories *bool `yaml:"trackRepositories"`
	// TrackAbandonedBranches=false stops pinning force-pushed heads.
	TrackAbandonedBranches *bool `yaml:"trackAbandonedBranches"`

	DeleteAbandonedBranchesAfter      Duration `yaml:"deleteAbandonedBranchesAfter"`
	WarnBeforeAbandonedBranchDeletion Duration `yaml:"warnBeforeAbandonedBranchDeletion"`

	DeleteRemovedBranchesAfter Duration `yaml:"deleteRemovedBranchesAfter"`
	WarnBeforeBranchDeletion   Duration `yaml:"warnBeforeBranchDeletion"`

	DeleteRemovedRepositoriesAfter Duration `yaml:"deleteRemovedRepositoriesAfter"`
	WarnBeforeRepositoryDeletion   Duration `yaml:"warnBeforeRepositoryDeletion"`

	DeleteOrphanedOrganizationsAfter       Duration `yaml:"deleteOrphanedOrganizationsAfter"`
	WarnBeforeOrphanedOrganizationDeletion Duration `yaml:"warnBeforeOrphanedOrganizationDeletion"`
}

// RetainsRepositories reports whether removed repositories are exempt from
// deletion. Both tracking switches default to on.
func (t TrackerConfig) RetainsRepositories() bool {
	return t.TrackRepositories != nil && !*t.TrackRepositories
}

// PreservesAbandonedBranches reports whether rewritten heads get pinned.
func (t TrackerConfig) PreservesAbandonedBranches() bool {
	return t.TrackAbandonedBranches == nil || *t.TrackAbandonedBranches
}

// RetryConfig configures retries of transient fetch and delete failures.
type RetryConfig struct {
	Backoff      RetryBackoffMode `yaml:"backoff"`
	InitialDelay string           `yaml:"initialDelay"`
	MaxDelay     string           `yaml:"maxDelay"`
	MaxRetries   *int             `yaml:"maxRetries"`
}

// InitialDelayDuration parses InitialDelay; invalid values were rejected during validation.
func (r RetryConfig) InitialDelayDuration() time.Duration {
	d, _ := time.ParseDuration(r.InitialDelay)
	return d
}

// MaxDelayDuration parses MaxDelay.
func (r RetryConfig) MaxDelayDuration() time.Duration {
	d, _ := time.ParseDuration(r.MaxDelay)
	return d
}

// Retries returns the configured retry count.
func (r RetryConfig) Retries() int {
	if r.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *r.MaxRetries
}

// NotifyConfig configures where retention notices are delivered besides the log.
type NotifyConfig struct {
	NATS *NATSConfig `yaml:"nats,omitempty"`
}

// NATSConfig publishes notices to a JetStream subject.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Stream  string `yaml:"stream"`
}

// WithDefaults returns n with an empty Subject or Stream filled in.
func (n NATSConfig) WithDefaults() NATSConfig {
	if n.Subject == "" {
		n.Subject = defaultNATSSubject
	}
	if n.Stream == "" {
		n.Stream = defaultNATSStream
	}
	return n
}

// MetricsConfig configures the Prometheus textfile written at the end of a run.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// LoggingConfig configures the default slog handler.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// Selection maps every configured organization to its enabled flag.
func (c *Config) Selection() map[string]bool {
	sel := make(map[string]bool, len(c.Organizations))
	for name, org := range c.Organizations {
		sel[name] = org.IsEnabled()
	}
	return sel
}
