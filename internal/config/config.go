// SPDX-License-Identifier: MIT

// Package config loads runtime configuration with precedence ENV > file > defaults.
package config

import (
	"errors"
	"fmt"
	"time"
)

// BufferConfig bounds the in-memory event buffer and its maintenance sweep.
type BufferConfig struct {
	MaxSize             int           `yaml:"maxSize"`
	DefaultEventCount   int           `yaml:"defaultEventCount"`
	MaxEventsPerRequest int           `yaml:"maxEventsPerRequest"`
	EventMaxAge         time.Duration `yaml:"eventMaxAge"`
	ClientIdleTimeout   time.Duration `yaml:"clientIdleTimeout"`
	CleanupInterval     time.Duration `yaml:"cleanupInterval"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr        string        `yaml:"listenAddr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
	RateLimit         int           `yaml:"rateLimit"`       // requests per window per IP
	RateLimitWindow   time.Duration `yaml:"rateLimitWindow"` // sliding window size
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend       string `yaml:"backend"` // "memory", "sqlite" or "redis"
	SQLitePath    string `yaml:"sqlitePath"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
}

// Config is the root daemon configuration.
type Config struct {
	LogLevel    string       `yaml:"logLevel"`
	LogService  string       `yaml:"logService"`
	DataDir     string       `yaml:"dataDir"`
	WeightsPath string       `yaml:"weightsPath"` // optional stage-weight override file
	JobStateDir string       `yaml:"jobStateDir"` // badger database for job records
	Buffer      BufferConfig `yaml:"buffer"`
	Server      ServerConfig `yaml:"server"`
	Store       StoreConfig  `yaml:"store"`

	Version string `yaml:"-"`
}

// Defaults mirrors the historical buffer tuning: 1000 events, 60 minute
// event age, 30 minute client idle timeout, 5 minute sweep.
func Defaults() Config {
	return Config{
		LogLevel:   "info",
		LogService: "taskstream",
		DataDir:    "/var/lib/taskstream",
		Buffer: BufferConfig{
			MaxSize:             1000,
			DefaultEventCount:   10,
			MaxEventsPerRequest: 100,
			EventMaxAge:         60 * time.Minute,
			ClientIdleTimeout:   30 * time.Minute,
			CleanupInterval:     5 * time.Minute,
		},
		Server: ServerConfig{
			ListenAddr:        ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			RateLimit:         60,
			RateLimitWindow:   time.Minute,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
	}
}

var errInvalidConfig = errors.New("invalid configuration")

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Buffer.MaxSize <= 0 {
		return fmt.Errorf("%w: buffer.maxSize must be positive, got %d", errInvalidConfig, c.Buffer.MaxSize)
	}
	if c.Buffer.MaxEventsPerRequest <= 0 {
		return fmt.Errorf("%w: buffer.maxEventsPerRequest must be positive, got %d", errInvalidConfig, c.Buffer.MaxEventsPerRequest)
	}
	if c.Buffer.DefaultEventCount <= 0 || c.Buffer.DefaultEventCount > c.Buffer.MaxEventsPerRequest {
		return fmt.Errorf("%w: buffer.defaultEventCount must be in (0, maxEventsPerRequest], got %d", errInvalidConfig, c.Buffer.DefaultEventCount)
	}
	if c.Buffer.EventMaxAge <= 0 || c.Buffer.ClientIdleTimeout <= 0 || c.Buffer.CleanupInterval <= 0 {
		return fmt.Errorf("%w: buffer sweep intervals must be positive", errInvalidConfig)
	}
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("%w: store.sqlitePath required for sqlite backend", errInvalidConfig)
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("%w: store.redisAddr required for redis backend", errInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", errInvalidConfig, c.Store.Backend)
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("%w: server.listenAddr must not be empty", errInvalidConfig)
	}
	return nil
}
