// Package config handles YAML configuration for Lassie.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Log sources.
const (
	SourceS3     = "s3"
	SourceLookup = "lookup"
)

// Config is the root configuration structure.
type Config struct {
	Log      LogConfig  `yaml:"log"`
	OTEL     OTELConfig `yaml:"otel"`
	Run      RunConfig  `yaml:"run"`
	Accounts []Account  `yaml:"accounts"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Insecure    bool          `yaml:"insecure"`
	ServiceName string        `yaml:"service_name"`
	Traces      TracesConfig  `yaml:"traces"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RunConfig holds settings shared by every account in a run.
type RunConfig struct {
	ScratchDir  string          `yaml:"scratch_dir"`
	Parallelism int             `yaml:"parallelism"`
	MaxDays     int             `yaml:"max_days"`
	Retry       RetryConfig     `yaml:"retry"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RetryConfig bounds retries of transient provider errors.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// RateLimitConfig is the per-account API call budget.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Account is one cloud account to reconcile.
type Account struct {
	Name      string `yaml:"name"`
	AccountID string `yaml:"account_id"`

	// Credentials: a shared-config profile, static keys, or neither (default
	// chain). RoleARN is assumed on top of whichever is used.
	Profile         string `yaml:"profile"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	RoleARN         string `yaml:"role_arn"`
	ExternalID      string `yaml:"external_id"`

	HomeRegion string      `yaml:"home_region"`
	Trail      TrailConfig `yaml:"trail"`
	Regions    []string    `yaml:"regions"`
	Kinds      []string    `yaml:"kinds"`
	OwnerTag   string      `yaml:"owner_tag"`
	DryRun     bool        `yaml:"dry_run"`
}

// TrailConfig locates the account's CloudTrail logs.
type TrailConfig struct {
	Source         string `yaml:"source"`
	Bucket         string `yaml:"bucket"`
	Prefix         string `yaml:"prefix"`
	OrganizationID string `yaml:"organization_id"`
}

// Label identifies the account in logs and reports.
func (a Account) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.AccountID
}

// Load reads and parses a YAML config file. ${VAR} references are expanded
// from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "lassie"
	}
	if cfg.Run.ScratchDir == "" {
		cfg.Run.ScratchDir = filepath.Join(os.TempDir(), "lassie")
	}
	if cfg.Run.Parallelism == 0 {
		cfg.Run.Parallelism = 1
	}
	if cfg.Run.MaxDays == 0 {
		cfg.Run.MaxDays = 31
	}
	if cfg.Run.Retry.MaxAttempts == 0 {
		cfg.Run.Retry.MaxAttempts = 3
	}
	if cfg.Run.Retry.BaseDelay == 0 {
		cfg.Run.Retry.BaseDelay = 5 * time.Second
	}
	if cfg.Run.Retry.MaxDelay == 0 {
		cfg.Run.Retry.MaxDelay = 2 * time.Minute
	}
	if cfg.Run.RateLimit.RequestsPerSecond == 0 {
		cfg.Run.RateLimit.RequestsPerSecond = 10
	}
	if cfg.Run.RateLimit.Burst == 0 {
		cfg.Run.RateLimit.Burst = 10
	}

	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		if a.OwnerTag == "" {
			a.OwnerTag = "Owner"
		}
		if a.HomeRegion == "" && len(a.Regions) > 0 {
			a.HomeRegion = a.Regions[0]
		}
		if a.Trail.Source == "" {
			a.Trail.Source = SourceS3
		}
	}
}

var accountIDPattern = regexp.MustCompile(`^[0-9]{12}$`)

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log: format must be console or json (got %q)", c.Log.Format)
	}
	if c.Run.Parallelism < 1 {
		return fmt.Errorf("run: parallelism must be at least 1 (got %d)", c.Run.Parallelism)
	}
	if c.Run.MaxDays < 1 {
		return fmt.Errorf("run: max_days must be at least 1 (got %d)", c.Run.MaxDays)
	}
	if c.Run.Retry.MaxAttempts < 1 {
		return fmt.Errorf("run: retry.max_attempts must be at least 1 (got %d)", c.Run.Retry.MaxAttempts)
	}
	if c.Run.Retry.BaseDelay < 0 || c.Run.Retry.MaxDelay < c.Run.Retry.BaseDelay {
		return errors.New("run: retry delays must satisfy 0 <= base_delay <= max_delay")
	}
	if c.Run.RateLimit.RequestsPerSecond < 0 || c.Run.RateLimit.Burst < 1 {
		return errors.New("run: rate_limit needs a non-negative rate and a burst of at least 1")
	}

	if len(c.Accounts) == 0 {
		return errors.New("accounts: at least one account required")
	}
	seen := make(map[string]bool)
	for i, a := range c.Accounts {
		if err := a.validate(); err != nil {
			return fmt.Errorf("accounts[%d] (%s): %w", i, a.Label(), err)
		}
		if seen[a.Label()] {
			return fmt.Errorf("accounts[%d]: duplicate account %q", i, a.Label())
		}
		seen[a.Label()] = true
	}
	return nil
}

func (a Account) validate() error {
	if a.Name == "" && a.AccountID == "" {
		return errors.New("name or account_id required")
	}
	if a.AccountID != "" && !accountIDPattern.MatchString(a.AccountID) {
		return fmt.Errorf("account_id must be 12 digits (got %q)", a.AccountID)
	}
	if (a.AccessKeyID == "") != (a.SecretAccessKey == "") {
		return errors.New("access_key_id and secret_access_key must be set together")
	}
	if a.AccessKeyID != "" && a.Profile != "" {
		return errors.New("profile and static keys are mutually exclusive")
	}
	if len(a.Regions) == 0 {
		return errors.New("at least one region required")
	}
	if len(a.Kinds) == 0 {
		return errors.New("at least one kind required")
	}
	if a.OwnerTag == "" {
		return errors.New("owner_tag must not be empty")
	}
	switch a.Trail.Source {
	case SourceS3:
		if a.Trail.Bucket == "" {
			return errors.New("trail.bucket required for the s3 log source")
		}
	case SourceLookup:
	default:
		return fmt.Errorf("trail.source must be %s or %s (got %q)", SourceS3, SourceLookup, a.Trail.Source)
	}
	return nil
}
