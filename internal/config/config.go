package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joss/turnpool/internal/concurrency"
	"github.com/joss/turnpool/internal/persistence"
	"github.com/joss/turnpool/internal/recovery"
)

// Config is the YAML configuration file.
type Config struct {
	Pool        PoolConfig        `yaml:"pool"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Perf        PerfConfig        `yaml:"perf"`
	Recovery    RecoveryConfig    `yaml:"recovery"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// PoolConfig sizes and supervises the worker pool.
type PoolConfig struct {
	// Workers is the pool size; 0 sizes from CPU topology
	Workers int `yaml:"workers"`
	// MaxConsecutiveFailures before a worker is stopped (default 4)
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
	// PollInterval for snapshots and health checks
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ConcurrencyConfig bounds the adaptive turn limit.
type ConcurrencyConfig struct {
	MinimumLimit     int `yaml:"minimum_limit"`
	HardMaximumLimit int `yaml:"hard_maximum_limit"`
	// BasePerWorker; 0 uses the topology recommendation
	BasePerWorker   int           `yaml:"base_per_worker"`
	TTFTBudget      time.Duration `yaml:"ttft_budget"`
	RefreshDebounce time.Duration `yaml:"refresh_debounce"`
}

// PersistenceConfig tunes the checkpoint pipeline.
type PersistenceConfig struct {
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	MaxPendingJobs    int           `yaml:"max_pending_jobs"`
	FlushThreshold    int           `yaml:"flush_threshold"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// PerfConfig sizes the TTFT window.
type PerfConfig struct {
	MaxSampleCount int `yaml:"max_sample_count"`
}

// RecoveryConfig holds app-level auto-recovery delays.
type RecoveryConfig struct {
	// AutoRecoveryBackoffSeconds, overridden by the environment
	AutoRecoveryBackoffSeconds []uint64 `yaml:"auto_recovery_backoff_seconds"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is host:port; empty disables the server
	Addr string `yaml:"addr"`
}

// LogConfig sets the minimum log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	batch := persistence.DefaultConfiguration()
	ctrl := concurrency.DefaultControllerConfig()
	return &Config{
		Pool: PoolConfig{
			MaxConsecutiveFailures: recovery.DefaultMaxConsecutiveWorkerFailures,
			PollInterval:           time.Second,
		},
		Concurrency: ConcurrencyConfig{
			MinimumLimit:     ctrl.MinimumLimit,
			HardMaximumLimit: ctrl.HardMaximumLimit,
			TTFTBudget:       2500 * time.Millisecond,
			RefreshDebounce:  concurrency.DefaultRefreshDebounce,
		},
		Persistence: PersistenceConfig{
			MaxConcurrentJobs: 2,
			MaxPendingJobs:    batch.MaxPendingJobs,
			FlushThreshold:    batch.FlushThreshold,
			FlushInterval:     batch.FlushInterval,
			WriteTimeout:      5 * time.Second,
		},
		Perf: PerfConfig{
			MaxSampleCount: 180,
		},
		Recovery: RecoveryConfig{
			AutoRecoveryBackoffSeconds: append([]uint64(nil), recovery.DefaultAppAutoRecoveryBackoffSeconds...),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Pool.Workers < 0 {
		return fmt.Errorf("pool.workers must be >= 0")
	}
	if c.Pool.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("pool.max_consecutive_failures must be >= 1")
	}
	if c.Pool.PollInterval <= 0 {
		return fmt.Errorf("pool.poll_interval must be positive")
	}
	if c.Concurrency.MinimumLimit < 1 {
		return fmt.Errorf("concurrency.minimum_limit must be >= 1")
	}
	if c.Concurrency.HardMaximumLimit < c.Concurrency.MinimumLimit {
		return fmt.Errorf("concurrency.hard_maximum_limit must be >= minimum_limit")
	}
	if c.Persistence.MaxConcurrentJobs < 1 {
		return fmt.Errorf("persistence.max_concurrent_jobs must be >= 1")
	}
	if c.Persistence.FlushThreshold < 1 || c.Persistence.MaxPendingJobs < c.Persistence.FlushThreshold {
		return fmt.Errorf("persistence.flush_threshold must be in [1, max_pending_jobs]")
	}
	if c.Persistence.FlushInterval <= 0 {
		return fmt.Errorf("persistence.flush_interval must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// WriteYAML encodes the configuration to w.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// ApplyEnv lets environment variables override file values. An unparseable
// backoff override keeps the file value.
func (c *Config) ApplyEnv(e *TurnpoolEnv) {
	if e.Workers > 0 {
		c.Pool.Workers = e.Workers
	}
	if e.MetricsAddr != "" {
		c.Metrics.Addr = e.MetricsAddr
	}
	if e.LogLevel != "" {
		c.Log.Level = e.LogLevel
	}
	c.Recovery.AutoRecoveryBackoffSeconds = recovery.AppAutoRecoveryBackoffSeconds(
		e.AutoRecoveryBackoff,
		c.Recovery.AutoRecoveryBackoffSeconds,
		recovery.MaxAppAutoRecoveryAttempts,
	)
}

// BatcherConfiguration converts to the batcher's settings.
func (c *Config) BatcherConfiguration() persistence.Configuration {
	return persistence.Configuration{
		MaxPendingJobs: c.Persistence.MaxPendingJobs,
		FlushThreshold: c.Persistence.FlushThreshold,
		FlushInterval:  c.Persistence.FlushInterval,
	}
}

// ControllerConfig converts to the controller's settings. basePerWorker fills
// in when the file leaves it at 0.
func (c *Config) ControllerConfig(basePerWorker int) concurrency.ControllerConfig {
	base := c.Concurrency.BasePerWorker
	if base == 0 {
		base = basePerWorker
	}
	return concurrency.ControllerConfig{
		MinimumLimit:     c.Concurrency.MinimumLimit,
		HardMaximumLimit: c.Concurrency.HardMaximumLimit,
		BasePerWorker:    base,
		TTFTBudgetMS:     float64(c.Concurrency.TTFTBudget) / float64(time.Millisecond),
	}
}
