package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
)

const (
	defaultConcurrency  = 4
	defaultMaxRetries   = 2
	defaultInitialDelay = "1s"
	defaultMaxDelay     = "30s"
	defaultNATSSubject  = "ghbackup.retention"
	defaultNATSStream   = "GHBACKUP"
	defaultJournalName  = "journal.db"
)

// envFiles are loaded in order; values already present in the environment win.
var envFiles = []string{".env", ".env.local"}

// Load reads, normalizes, defaults and validates a configuration file. Every
// failure is returned as a fatal configuration error.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigurationError("configuration file not found").
				WithContext("path", configPath).Build()
		}
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read configuration file").
			Fatal().WithContext("path", configPath).Build()
	}
	return Parse(data)
}

// Parse builds a validated Config from raw YAML. Environment references such as
// ${GITHUB_TOKEN} are expanded before decoding.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, errors.ConfigurationError("configuration file is empty").Build()
		}
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to parse configuration").Fatal().Build()
	}

	if err := normalize(&cfg); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "invalid configuration").Fatal().Build()
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "configuration validation failed").Fatal().Build()
	}
	return &cfg, nil
}

func loadEnvFiles() {
	for _, name := range envFiles {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			slog.Warn("Failed to load environment file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		slog.Debug("Loaded environment variables", slog.String("file", name))
	}
}

// normalize trims values, expands home-relative paths and canonicalizes enums.
func normalize(cfg *Config) error {
	var errs []error

	cfg.Default.BackupPath = expandHome(cfg.Default.BackupPath)
	cfg.Default.SSHKey = expandHome(cfg.Default.SSHKey)
	cfg.Default.Token = strings.TrimSpace(cfg.Default.Token)
	cfg.GitHub.APIURL = strings.TrimSpace(cfg.GitHub.APIURL)
	cfg.Tracker.TrackDB = expandHome(cfg.Tracker.TrackDB)
	cfg.Tracker.JournalDB = expandHome(cfg.Tracker.JournalDB)
	cfg.Metrics.Textfile = expandHome(cfg.Metrics.Textfile)

	if mode, err := retryBackoffNormalizer.Normalize(string(cfg.Retry.Backoff)); err != nil {
		errs = append(errs, fmt.Errorf("retry.backoff: %w", err))
	} else {
		cfg.Retry.Backoff = mode
	}
	if level, err := NormalizeLogLevel(string(cfg.Logging.Level)); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	} else {
		cfg.Logging.Level = level
	}
	if format, err := logFormatNormalizer.Normalize(string(cfg.Logging.Format)); err != nil {
		errs = append(errs, fmt.Errorf("logging.format: %w", err))
	} else {
		cfg.Logging.Format = format
	}
	return stderrors.Join(errs...)
}

func applyDefaults(cfg *Config) {
	if cfg.Default.Concurrency == 0 {
		cfg.Default.Concurrency = defaultConcurrency
	}
	if cfg.Tracker.JournalDB == "" && cfg.Tracker.TrackDB != "" {
		cfg.Tracker.JournalDB = filepath.Join(filepath.Dir(cfg.Tracker.TrackDB), defaultJournalName)
	}
	if cfg.Retry.InitialDelay == "" {
		cfg.Retry.InitialDelay = defaultInitialDelay
	}
	if cfg.Retry.MaxDelay == "" {
		cfg.Retry.MaxDelay = defaultMaxDelay
	}
	if n := cfg.Notify.NATS; n != nil {
		*n = n.WithDefaults()
	}
}

func expandHome(p string) string {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
