package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *ConsoleConfig) Validate() error {
	if c.Service.BaseURL == "" {
		return errors.New("service.base_url is required")
	}
	u, err := url.Parse(c.Service.BaseURL)
	if err != nil {
		return fmt.Errorf("service.base_url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("service.base_url scheme must be http, https, ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("service.base_url must include a host")
	}
	if c.Service.Timeout < 0 {
		return errors.New("service.timeout must be >= 0")
	}
	if c.Service.MaxRetries < 0 {
		return errors.New("service.max_retries must be >= 0")
	}

	if c.Session.CheckInterval < 0 {
		return errors.New("session.check_interval must be >= 0")
	}

	if c.Connection.ReconnectDelay <= 0 {
		return errors.New("connection.reconnect_delay must be > 0")
	}
	if c.Connection.HeartbeatInterval <= 0 {
		return errors.New("connection.heartbeat_interval must be > 0")
	}
	if c.Connection.SendBuffer < 1 {
		return errors.New("connection.send_buffer must be >= 1")
	}
	if c.Connection.ReadLimit < 0 {
		return errors.New("connection.read_limit must be >= 0")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
		}
	}

	return nil
}
