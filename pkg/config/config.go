// Package config handles interpreting the querylink.json config file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	defaultStateDatabase  = "querylink.db"
	defaultConnectTimeout = 5 * time.Second
	defaultWorkers        = 8
)

// Config holds the querylink configuration. The zero value is usable and
// yields the defaults.
type Config struct {
	// StateDatabase is the SQLite file holding saved servers. Relative paths
	// are resolved against the config file's directory.
	// Default: "querylink.db"
	StateDatabase string `json:"state_database,omitempty"`

	// ConnectTimeout bounds each connection handshake.
	// Default: 5s
	ConnectTimeout Duration `json:"connect_timeout,omitempty"`

	// Workers is how many connects and queries may block at once.
	// Default: 8
	Workers int `json:"workers,omitempty"`

	// DiscardOnTransportError drops a connection from the cache when a query
	// fails because the connection broke, instead of caching it again.
	// Default: true
	DiscardOnTransportError *bool `json:"discard_on_transport_error,omitempty"`

	// Prometheus enables the metrics endpoint when present.
	Prometheus *PrometheusConfig `json:"prometheus,omitempty"`

	filePath string
}

// ParseConfig parses a JSON configuration string and returns a Config.
func ParseConfig(jsonStr string) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ReadConfigFile reads and parses a configuration file from the given path.
func ReadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg.filePath = abs
	return cfg, nil
}

// FilePath returns the absolute path the config was read from, or "".
func (c *Config) FilePath() string {
	return c.filePath
}

// Dir returns the directory containing the config file, or "." when the
// config did not come from a file.
func (c *Config) Dir() string {
	if c.filePath == "" {
		return "."
	}
	return filepath.Dir(c.filePath)
}

// GetStateDatabase returns the resolved path of the saved-server database.
func (c *Config) GetStateDatabase() string {
	path := c.StateDatabase
	if path == "" {
		path = defaultStateDatabase
	}
	if filepath.IsAbs(path) || path == ":memory:" {
		return path
	}
	return filepath.Join(c.Dir(), path)
}

// GetConnectTimeout returns the connect timeout, defaulting to 5s.
func (c *Config) GetConnectTimeout() time.Duration {
	return c.ConnectTimeout.Or(defaultConnectTimeout)
}

// GetWorkers returns the worker pool size, defaulting to 8.
func (c *Config) GetWorkers() int {
	if c.Workers <= 0 {
		return defaultWorkers
	}
	return c.Workers
}

// GetDiscardOnTransportError returns whether broken connections are dropped,
// defaulting to true.
func (c *Config) GetDiscardOnTransportError() bool {
	if c.DiscardOnTransportError == nil {
		return true
	}
	return *c.DiscardOnTransportError
}

// Validate verifies the configuration is valid. It does not stop at the
// first error; all errors are accumulated and returned together.
func (c *Config) Validate() error {
	var errs []error

	if c.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("connect_timeout must not be negative, got %s", c.ConnectTimeout))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.Prometheus != nil {
		if err := c.Prometheus.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("prometheus: %w", err))
		}
	}

	return errors.Join(errs...)
}
