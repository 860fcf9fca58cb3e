package config

import (
	stderrors "errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// retentionPair names one grace/warn duration pair for validation messages.
type retentionPair struct {
	graceKey, warnKey string
	grace, warn       Duration
}

func (t TrackerConfig) pairs() []retentionPair {
	return []retentionPair{
		{"deleteAbandonedBranchesAfter", "warnBeforeAbandonedBranchDeletion", t.DeleteAbandonedBranchesAfter, t.WarnBeforeAbandonedBranchDeletion},
		{"deleteRemovedBranchesAfter", "warnBeforeBranchDeletion", t.DeleteRemovedBranchesAfter, t.WarnBeforeBranchDeletion},
		{"deleteRemovedRepositoriesAfter", "warnBeforeRepositoryDeletion", t.DeleteRemovedRepositoriesAfter, t.WarnBeforeRepositoryDeletion},
		{"deleteOrphanedOrganizationsAfter", "warnBeforeOrphanedOrganizationDeletion", t.DeleteOrphanedOrganizationsAfter, t.WarnBeforeOrphanedOrganizationDeletion},
	}
}

// validate reports every problem at once so a single edit can fix the file.
func validate(cfg *Config) error {
	var errs []error
	errs = append(errs, validateDefault(&cfg.Default)...)
	errs = append(errs, validateOrganizations(cfg.Organizations)...)
	errs = append(errs, validateTracker(&cfg.Tracker)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)

	if cfg.GitHub.APIURL != "" {
		if u, err := url.Parse(cfg.GitHub.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("github.apiURL: %q is not an absolute URL", cfg.GitHub.APIURL))
		}
	}
	if n := cfg.Notify.NATS; n != nil && strings.TrimSpace(n.URL) == "" {
		errs = append(errs, fmt.Errorf("notify.nats.url is required when notify.nats is set"))
	}
	return stderrors.Join(errs...)
}

func validateDefault(d *DefaultConfig) []error {
	var errs []error
	if d.BackupPath == "" {
		errs = append(errs, fmt.Errorf("default.backupPath is required"))
	}
	if d.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("default.concurrency must be at least 1, got %d", d.Concurrency))
	}
	if d.CloneViaSSH && d.SSHKey == "" {
		errs = append(errs, fmt.Errorf("default.ssh-key is required when default.cloneViaSSH is true"))
	}
	if d.Token == "" {
		errs = append(errs, fmt.Errorf("default.token is required"))
	}
	return errs
}

func validateOrganizations(orgs map[string]*OrganizationConfig) []error {
	if len(orgs) == 0 {
		return []error{fmt.Errorf("organizations: at least one organization must be configured")}
	}
	names := make([]string, 0, len(orgs))
	for name := range orgs {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("organizations: empty organization name"))
			continue
		}
		if orgs[name] == nil {
			errs = append(errs, fmt.Errorf("organizations.%s: entry must be a mapping (e.g. enabled: true)", name))
		}
	}
	return errs
}

func validateTracker(t *TrackerConfig) []error {
	var errs []error
	if t.TrackDB == "" {
		errs = append(errs, fmt.Errorf("tracker.trackDB is required"))
	}
	for _, p := range t.pairs() {
		if p.grace <= 0 {
			errs = append(errs, fmt.Errorf("tracker.%s is required and must be positive", p.graceKey))
		}
		if p.warn <= 0 {
			errs = append(errs, fmt.Errorf("tracker.%s is required and must be positive", p.warnKey))
		}
		if p.grace > 0 && p.warn > p.grace {
			errs = append(errs, fmt.Errorf("tracker.%s (%s) must not exceed tracker.%s (%s)", p.warnKey, p.warn, p.graceKey, p.grace))
		}
	}
	return errs
}

func validateRetry(r *RetryConfig) []error {
	var errs []error
	initial, err := time.ParseDuration(r.InitialDelay)
	if err != nil || initial <= 0 {
		errs = append(errs, fmt.Errorf("retry.initialDelay: invalid duration %q", r.InitialDelay))
	}
	maxDelay, err := time.ParseDuration(r.MaxDelay)
	if err != nil || maxDelay <= 0 {
		errs = append(errs, fmt.Errorf("retry.maxDelay: invalid duration %q", r.MaxDelay))
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.maxRetries must not be negative"))
	}
	return errs
}
