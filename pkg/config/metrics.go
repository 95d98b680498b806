package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// PrometheusConfig enables the /metrics endpoint. Its presence in the config
// file turns metrics on.
type PrometheusConfig struct {
	// Listen is the metrics HTTP address, "host:port" or ":port".
	// Default: ":9090"
	Listen string `json:"listen,omitempty"`

	// Path is the HTTP path metrics are served on.
	// Default: "/metrics"
	Path string `json:"path,omitempty"`

	// Namespace prefixes every metric name.
	// Default: "querylink"
	Namespace string `json:"namespace,omitempty"`
}

var metricNamespaceRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (c *PrometheusConfig) GetListen() string {
	if c.Listen == "" {
		return ":9090"
	}
	return c.Listen
}

func (c *PrometheusConfig) GetPath() string {
	if c.Path == "" {
		return "/metrics"
	}
	return c.Path
}

func (c *PrometheusConfig) GetNamespace() string {
	if c.Namespace == "" {
		return "querylink"
	}
	return c.Namespace
}

// Validate checks the listen address, path, and namespace.
func (c *PrometheusConfig) Validate() error {
	var errs []error
	if listen := c.GetListen(); !strings.Contains(listen, ":") {
		errs = append(errs, fmt.Errorf("listen address %q must contain a port (e.g., ':9090')", listen))
	}
	if path := c.GetPath(); !strings.HasPrefix(path, "/") {
		errs = append(errs, fmt.Errorf("path %q must start with '/'", path))
	}
	if ns := c.GetNamespace(); !metricNamespaceRegex.MatchString(ns) {
		errs = append(errs, fmt.Errorf("namespace %q is not a valid metric name prefix", ns))
	}
	return errors.Join(errs...)
}

// ParsePrometheusListen turns a "-metrics" flag value such as ":9090" or
// "127.0.0.1:9090/metrics" into a PrometheusConfig. Empty means disabled.
func ParsePrometheusListen(listen string) *PrometheusConfig {
	if listen == "" {
		return nil
	}
	addr, path, found := strings.Cut(listen, "/")
	cfg := &PrometheusConfig{Listen: addr}
	if found {
		cfg.Path = "/" + path
	}
	return cfg
}
