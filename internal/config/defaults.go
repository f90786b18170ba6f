package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL           = "http://127.0.0.1:8101"
	DefaultServiceRoot       = "api"
	DefaultLoginPath         = "/api/user/get/login"
	DefaultServiceTimeout    = 10 * time.Second
	DefaultMaxRetries        = 3
	DefaultReconnectDelay    = 3 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultSendBuffer        = 256
	DefaultReadLimit         = 1 << 20
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
)

func (c *ConsoleConfig) applyDefaults() {
	// Service defaults
	if c.Service.BaseURL == "" {
		c.Service.BaseURL = DefaultBaseURL
	}
	if c.Service.ServiceRoot == "" {
		c.Service.ServiceRoot = DefaultServiceRoot
	}
	if c.Service.LoginPath == "" {
		c.Service.LoginPath = DefaultLoginPath
	}
	if c.Service.Timeout == 0 {
		c.Service.Timeout = DefaultServiceTimeout
	}
	if c.Service.MaxRetries == 0 {
		c.Service.MaxRetries = DefaultMaxRetries
	}

	// Connection defaults
	if c.Connection.ReconnectDelay == 0 {
		c.Connection.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Connection.HeartbeatInterval == 0 {
		c.Connection.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.SendBuffer == 0 {
		c.Connection.SendBuffer = DefaultSendBuffer
	}
	if c.Connection.ReadLimit == 0 {
		c.Connection.ReadLimit = DefaultReadLimit
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
