// Package config loads daemon configuration from an optional YAML file
// with environment variable overrides, grounded on
// internal/daemon/project.go's loadProject/loadInRepoConfig YAML-overlay
// pattern from the teacher.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ianremillard/tterm/internal/daemon"
)

// Config holds the daemon's tunable policy and runtime paths.
type Config struct {
	SocketPath    string        `yaml:"socket_path"`
	OrphanTimeout time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`
	DefaultShell  string        `yaml:"default_shell"`
	LogLevel      string        `yaml:"log_level"`

	// OrphanTimeoutSeconds/SweepIntervalSeconds are the YAML-facing forms;
	// Go's yaml.v3 has no native time.Duration unmarshaler, so these are
	// read from file and converted into the Duration fields above by Load.
	OrphanTimeoutSeconds int `yaml:"orphan_timeout_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// Default returns the specification's documented defaults: 300s orphan
// timeout, 60s sweep interval, the Unix socket path, /bin/bash, and "info"
// logging.
func Default() Config {
	return Config{
		SocketPath:    daemon.DefaultSocketPath(),
		OrphanTimeout: daemon.DefaultOrphanTimeout,
		SweepInterval: daemon.DefaultSweepInterval,
		DefaultShell:  "/bin/bash",
		LogLevel:      "info",
	}
}

// Load builds a Config starting from Default(), overlaying an optional
// YAML file at path (skipped entirely if path is "" or the file does not
// exist), then applying environment variable overrides. This mirrors the
// teacher's config-dirs overlay order: defaults, then file, then
// environment, each layer only touching fields it actually sets.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			var fromFile Config
			if err := yaml.Unmarshal(data, &fromFile); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
			cfg.applyFile(fromFile)
		case os.IsNotExist(err):
			// No config file is a normal, supported configuration.
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyFile(f Config) {
	if f.SocketPath != "" {
		c.SocketPath = f.SocketPath
	}
	if f.DefaultShell != "" {
		c.DefaultShell = f.DefaultShell
	}
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
	if f.OrphanTimeoutSeconds > 0 {
		c.OrphanTimeout = time.Duration(f.OrphanTimeoutSeconds) * time.Second
	}
	if f.SweepIntervalSeconds > 0 {
		c.SweepInterval = time.Duration(f.SweepIntervalSeconds) * time.Second
	}
}

// Environment variables overriding each field, matching
// cmd/catherdd/main.go's CATHERDD_ROOT-style naming, renamed to the
// ttermd namespace.
const (
	EnvSocketPath    = "TTERMD_SOCKET"
	EnvOrphanTimeout = "TTERMD_ORPHAN_TIMEOUT"
	EnvSweepInterval = "TTERMD_SWEEP_INTERVAL"
	EnvLogLevel      = "TTERM_LOG"
)

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvSocketPath); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv(EnvOrphanTimeout); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.OrphanTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv(EnvSweepInterval); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.SweepInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}
