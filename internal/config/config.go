// Package config loads dirq settings from the environment.
//
// Every setting is read from a DIRQ_ prefixed variable. A .env file in the
// working directory is loaded first when present; variables already set in
// the environment win over it.
//
//	DIRQ_ROOT=/var/spool/ingest
//	DIRQ_NEXT=/var/spool/store
//	DIRQ_SYNC=true
//	DIRQ_LOG_LEVEL=debug
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/vnykmshr/dirq/internal/logging"
	"github.com/vnykmshr/dirq/internal/queue"
)

// Prefix is prepended to every variable name.
const Prefix = "DIRQ_"

// ErrParsingConfig is returned when the environment cannot be parsed.
var ErrParsingConfig = errors.New("failed to parse config")

var dotenvLoaded sync.Once

// Config holds every dirq setting.
type Config struct {
	// Root is the queue root directory.
	Root string `env:"ROOT"`

	// Next is the root of the queue that commits hand items to.
	Next string `env:"NEXT"`

	Suffix           string `env:"SUFFIX" envDefault:"msg"`
	Sync             bool   `env:"SYNC" envDefault:"false"`
	MinFreeDiskSpace int64  `env:"MIN_FREE_DISK_SPACE" envDefault:"0"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Consumer settings
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	Workers      int           `env:"WORKERS" envDefault:"1"`

	// MetricsAddr is the listen address of the /metrics endpoint.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9477"`

	// SweepTmpAge is the tmp/ file age removed by sweeps.
	SweepTmpAge time.Duration `env:"SWEEP_TMP_AGE" envDefault:"1h"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	dotenvLoaded.Do(func() {
		// The .env file is optional
		_ = godotenv.Load()
	})

	return parse(nil)
}

// parse reads the configuration, using environment instead of the process
// environment when it is non-nil.
func parse(environment map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{Prefix: Prefix}
	if environment != nil {
		opts.Environment = environment
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the environment parser cannot.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch logging.Format(c.LogFormat) {
	case logging.FormatJSON, logging.FormatText:
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.SweepTmpAge < 0 {
		return fmt.Errorf("sweep tmp age cannot be negative")
	}
	return nil
}

// Logger builds the logger described by the configuration.
func (c *Config) Logger() *logging.SlogLogger {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.New(
		logging.WithLevel(level),
		logging.WithFormat(logging.Format(c.LogFormat)),
		logging.WithOutput(os.Stderr),
	)
}

// QueueOptions converts the configuration to queue options. next is the
// already opened next queue, or nil.
func (c *Config) QueueOptions(next *queue.Queue, logger logging.Logger, collector queue.MetricsCollector) *queue.Options {
	opts := queue.DefaultOptions()
	opts.Next = next
	opts.Suffix = c.Suffix
	opts.Sync = c.Sync
	opts.MinFreeDiskSpace = c.MinFreeDiskSpace
	if logger != nil {
		opts.Logger = logger
	}
	if collector != nil {
		opts.MetricsCollector = collector
	}
	return opts
}
