// Package config loads the daemon configuration from a YAML file with
// CASHBOT_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/auth"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/tier"
)

// Config holds all daemon configuration.
type Config struct {
	// Timezone is the reference zone of the daily window.
	Timezone string `yaml:"timezone"`
	LogLevel string `yaml:"log_level"`
	// User is bound at startup when set.
	User string `yaml:"user"`

	Mirror struct {
		Path      string `yaml:"path"`
		Encrypted bool   `yaml:"encrypted"`
	} `yaml:"mirror"`

	Remote struct {
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"remote"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Sync struct {
		MinInterval  time.Duration   `yaml:"min_interval"`
		PollInterval time.Duration   `yaml:"poll_interval"`
		Timeout      time.Duration   `yaml:"timeout"`
		Backoff      []time.Duration `yaml:"backoff"`
	} `yaml:"sync"`

	Session struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
		Jitter   time.Duration `yaml:"jitter"`
		MinGain  string        `yaml:"min_gain"`
		MaxGain  string        `yaml:"max_gain"`
	} `yaml:"session"`

	// Tiers overrides daily caps, e.g. {gold: "3"}.
	Tiers map[string]string `yaml:"tiers"`

	Ledger struct {
		DedupCapacity int `yaml:"dedup_capacity"`
	} `yaml:"ledger"`

	Journal struct {
		Enabled      bool          `yaml:"enabled"`
		BatchSize    int           `yaml:"batch_size"`
		BufferSize   int           `yaml:"buffer_size"`
		FlushTimeout time.Duration `yaml:"flush_timeout"`
	} `yaml:"journal"`

	Schedule struct {
		RolloverCron   string        `yaml:"rollover_cron"`
		PruneCron      string        `yaml:"prune_cron"`
		PruneRetention time.Duration `yaml:"prune_retention"`
	} `yaml:"schedule"`

	Server struct {
		HTTPAddr   string `yaml:"http_addr"`
		GRPCAddr   string `yaml:"grpc_addr"`
		AdminToken string `yaml:"admin_token"`
	} `yaml:"server"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"CASHBOT_TIMEZONE":    &c.Timezone,
		"CASHBOT_LOG_LEVEL":   &c.LogLevel,
		"CASHBOT_USER":        &c.User,
		"CASHBOT_MIRROR_PATH": &c.Mirror.Path,
		"CASHBOT_NATS_URL":    &c.NATS.URL,
		"CASHBOT_HTTP_ADDR":   &c.Server.HTTPAddr,
		"CASHBOT_GRPC_ADDR":   &c.Server.GRPCAddr,
		"CASHBOT_ADMIN_TOKEN": &c.Server.AdminToken,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"CASHBOT_SYNC_MIN_INTERVAL":  &c.Sync.MinInterval,
		"CASHBOT_SYNC_POLL_INTERVAL": &c.Sync.PollInterval,
		"CASHBOT_SYNC_TIMEOUT":       &c.Sync.Timeout,
		"CASHBOT_SESSION_INTERVAL":   &c.Session.Interval,
	}
	for key, dst := range durations {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	bools := map[string]*bool{
		"CASHBOT_SESSION_ENABLED":  &c.Session.Enabled,
		"CASHBOT_JOURNAL_ENABLED":  &c.Journal.Enabled,
		"CASHBOT_MIRROR_ENCRYPTED": &c.Mirror.Encrypted,
	}
	for key, dst := range bools {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = "Europe/Paris"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Mirror.Path == "" {
		c.Mirror.Path = "data/mirror.db"
	}
	if c.Sync.MinInterval == 0 {
		c.Sync.MinInterval = 5 * time.Second
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 30 * time.Second
	}
	if c.Sync.Timeout == 0 {
		c.Sync.Timeout = 5 * time.Second
	}
	if len(c.Sync.Backoff) == 0 {
		c.Sync.Backoff = []time.Duration{2 * time.Second, 5 * time.Second, 15 * time.Second, time.Minute}
	}
	if c.Session.Interval == 0 {
		c.Session.Interval = time.Minute
	}
	if c.Session.MinGain == "" {
		c.Session.MinGain = "0.01"
	}
	if c.Session.MaxGain == "" {
		c.Session.MaxGain = "0.1"
	}
	if c.Ledger.DedupCapacity == 0 {
		c.Ledger.DedupCapacity = 4096
	}
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = 100
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = 1024
	}
	if c.Journal.FlushTimeout == 0 {
		c.Journal.FlushTimeout = time.Second
	}
	if c.Schedule.PruneRetention == 0 {
		c.Schedule.PruneRetention = 90 * 24 * time.Hour
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":9090"
	}
}

// Validate checks the invariants the daemon relies on.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Sync.MinInterval <= 0 || c.Sync.PollInterval <= 0 || c.Sync.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("sync intervals and timeout must be positive"))
	}
	if len(c.Sync.Backoff) == 0 {
		errs = append(errs, fmt.Errorf("sync.backoff must not be empty"))
	}
	for i, b := range c.Sync.Backoff {
		if b <= 0 {
			errs = append(errs, fmt.Errorf("sync.backoff[%d] must be positive", i))
		}
	}
	if c.Session.Interval <= 0 {
		errs = append(errs, fmt.Errorf("session.interval must be positive"))
	}
	if lo, hi, err := c.GainRange(); err != nil {
		errs = append(errs, err)
	} else if lo.Sign() <= 0 || hi.LessThan(lo) {
		errs = append(errs, fmt.Errorf("session gains must satisfy 0 < min_gain <= max_gain"))
	}
	if _, err := c.TierCaps(); err != nil {
		errs = append(errs, err)
	}
	if c.Journal.BatchSize <= 0 || c.Journal.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("journal batch and buffer sizes must be positive"))
	}
	return errors.Join(errs...)
}

// Location resolves the reference timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// GainRange parses the simulated session gain bounds.
func (c *Config) GainRange() (lo, hi decimal.Decimal, err error) {
	lo, err = decimal.NewFromString(c.Session.MinGain)
	if err != nil {
		return lo, hi, fmt.Errorf("session.min_gain: %w", err)
	}
	hi, err = decimal.NewFromString(c.Session.MaxGain)
	if err != nil {
		return lo, hi, fmt.Errorf("session.max_gain: %w", err)
	}
	return lo, hi, nil
}

// TierCaps parses the daily cap overrides.
func (c *Config) TierCaps() (map[tier.Tier]decimal.Decimal, error) {
	out := make(map[tier.Tier]decimal.Decimal, len(c.Tiers))
	for name, raw := range c.Tiers {
		t, ok := tier.Parse(name)
		if !ok {
			return nil, fmt.Errorf("tiers: unknown tier %q", name)
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("tiers.%s: %w", name, err)
		}
		out[t] = v
	}
	if _, err := tier.NewTable(out); err != nil {
		return nil, fmt.Errorf("tiers: %w", err)
	}
	return out, nil
}

// PostgresDSN resolves the remote store DSN: CASHBOT_POSTGRES_DSN, then the
// OS keyring, then the config file. Empty means no remote store.
func (c *Config) PostgresDSN() (string, error) {
	dsn, err := auth.LoadSecret(auth.SecretPostgresDSN)
	if err == nil {
		return dsn, nil
	}
	if errors.Is(err, auth.ErrNoSecret) {
		return c.Remote.PostgresDSN, nil
	}
	if c.Remote.PostgresDSN != "" {
		// keyring unavailable (headless host); the file value still works
		return c.Remote.PostgresDSN, nil
	}
	return "", err
}
