// Package config provides centralized configuration: TURNPOOL_* environment
// variables plus an optional YAML file.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/joss/turnpool/internal/recovery"
)

// TurnpoolEnv holds all turnpool environment variables.
type TurnpoolEnv struct {
	// Home is the state directory (TURNPOOL_HOME, default ~/.turnpool)
	Home string

	// ConfigFile overrides the YAML config path (TURNPOOL_CONFIG)
	ConfigFile string

	// WorkerID tags log lines from a worker process (TURNPOOL_WORKER_ID)
	WorkerID string

	// LogLevel is debug, info, warn or error (TURNPOOL_LOG_LEVEL)
	LogLevel string

	// MetricsAddr enables the Prometheus endpoint when set (TURNPOOL_METRICS_ADDR)
	MetricsAddr string

	// Workers pins the pool size; 0 sizes from CPU topology (TURNPOOL_WORKERS)
	Workers int

	// AutoRecoveryBackoff is the raw comma-separated override
	// (TURNPOOL_AUTO_RECOVERY_BACKOFF_SECONDS)
	AutoRecoveryBackoff string
}

var (
	env     *TurnpoolEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// Thread-safe, loads once on first call.
func Env() *TurnpoolEnv {
	envOnce.Do(func() {
		env = &TurnpoolEnv{
			Home:                getEnvDefault("TURNPOOL_HOME", defaultHome()),
			ConfigFile:          os.Getenv("TURNPOOL_CONFIG"),
			WorkerID:            os.Getenv("TURNPOOL_WORKER_ID"),
			LogLevel:            getEnvDefault("TURNPOOL_LOG_LEVEL", "info"),
			MetricsAddr:         os.Getenv("TURNPOOL_METRICS_ADDR"),
			Workers:             getEnvInt("TURNPOOL_WORKERS", 0),
			AutoRecoveryBackoff: os.Getenv(recovery.DefaultBackoffEnv),
		}
	})
	return env
}

// ResetEnv resets the cached environment and paths (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
	pathsOnce = sync.Once{}
	paths = nil
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".turnpool")
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// Paths holds standard turnpool directory paths.
type Paths struct {
	// Home is the state root
	Home string

	// Data holds the checkpoint database
	Data string

	// Alerts holds alert JSON files and the summary
	Alerts string

	// ConfigFile is the YAML config path
	ConfigFile string
}

var (
	paths     *Paths
	pathsOnce sync.Once
)

// GetPaths returns the singleton paths configuration.
func GetPaths() *Paths {
	pathsOnce.Do(func() {
		e := Env()
		cfgFile := e.ConfigFile
		if cfgFile == "" {
			cfgFile = filepath.Join(e.Home, "config.yaml")
		}
		paths = &Paths{
			Home:       e.Home,
			Data:       filepath.Join(e.Home, "data"),
			Alerts:     filepath.Join(e.Home, "alerts"),
			ConfigFile: cfgFile,
		}
	})
	return paths
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
