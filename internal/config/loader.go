// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration with precedence ENV > file > defaults.
type Loader struct {
	path    string
	version string
}

// NewLoader creates a loader for the optional YAML config file at path.
// An empty path skips the file layer.
func NewLoader(path, version string) *Loader {
	return &Loader{path: path, version: version}
}

// Load resolves the effective configuration and validates it.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()
	cfg.Version = l.version

	if l.path != "" {
		buf, err := os.ReadFile(l.path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config file %s: %w", l.path, err)
			}
		} else if len(bytes.TrimSpace(buf)) > 0 {
			dec := yaml.NewDecoder(bytes.NewReader(buf))
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", l.path, err)
			}
		}
	}

	l.applyEnv(&cfg)

	if cfg.JobStateDir == "" {
		cfg.JobStateDir = filepath.Join(cfg.DataDir, "jobstate")
	}
	if cfg.Store.Backend == "sqlite" && cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = filepath.Join(cfg.DataDir, "sessions.db")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables on top of file values.
func (l *Loader) applyEnv(cfg *Config) {
	cfg.LogLevel = ParseString("TASKSTREAM_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = ParseString("TASKSTREAM_LOG_SERVICE", cfg.LogService)
	cfg.DataDir = ParseString("TASKSTREAM_DATA", cfg.DataDir)
	cfg.WeightsPath = ParseString("TASKSTREAM_WEIGHTS", cfg.WeightsPath)
	cfg.JobStateDir = ParseString("TASKSTREAM_JOBSTATE_DIR", cfg.JobStateDir)

	cfg.Buffer.MaxSize = ParseInt("TASKSTREAM_BUFFER_MAX_SIZE", cfg.Buffer.MaxSize)
	cfg.Buffer.DefaultEventCount = ParseInt("TASKSTREAM_BUFFER_DEFAULT_COUNT", cfg.Buffer.DefaultEventCount)
	cfg.Buffer.MaxEventsPerRequest = ParseInt("TASKSTREAM_BUFFER_MAX_PER_REQUEST", cfg.Buffer.MaxEventsPerRequest)
	cfg.Buffer.EventMaxAge = ParseDuration("TASKSTREAM_BUFFER_EVENT_MAX_AGE", cfg.Buffer.EventMaxAge)
	cfg.Buffer.ClientIdleTimeout = ParseDuration("TASKSTREAM_BUFFER_CLIENT_IDLE_TIMEOUT", cfg.Buffer.ClientIdleTimeout)
	cfg.Buffer.CleanupInterval = ParseDuration("TASKSTREAM_BUFFER_CLEANUP_INTERVAL", cfg.Buffer.CleanupInterval)

	cfg.Server.ListenAddr = ParseString("TASKSTREAM_LISTEN", cfg.Server.ListenAddr)
	cfg.Server.ShutdownTimeout = ParseDuration("TASKSTREAM_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.RateLimit = ParseInt("TASKSTREAM_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.RateLimitWindow = ParseDuration("TASKSTREAM_RATE_LIMIT_WINDOW", cfg.Server.RateLimitWindow)

	cfg.Store.Backend = ParseString("TASKSTREAM_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.SQLitePath = ParseString("TASKSTREAM_STORE_SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.RedisAddr = ParseString("TASKSTREAM_STORE_REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisPassword = ParseString("TASKSTREAM_STORE_REDIS_PASSWORD", cfg.Store.RedisPassword)
	cfg.Store.RedisDB = ParseInt("TASKSTREAM_STORE_REDIS_DB", cfg.Store.RedisDB)
}
