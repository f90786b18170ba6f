package config

import "time"

// ConsoleConfig is the root configuration for a console push client.
type ConsoleConfig struct {
	Service    ServiceConfig    `yaml:"service"`
	Session    SessionConfig    `yaml:"session"`
	Connection ConnectionConfig `yaml:"connection"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServiceConfig holds the console backend settings.
type ServiceConfig struct {
	BaseURL     string        `yaml:"base_url"`     // e.g. http://127.0.0.1:8101
	ServiceRoot string        `yaml:"service_root"` // Path prefix shared by REST and push endpoints
	LoginPath   string        `yaml:"login_path"`   // Login-user lookup, relative to base_url
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// SessionConfig identifies the logged-in user. Identity may be left empty,
// in which case it is resolved through the login-user endpoint.
type SessionConfig struct {
	Identity string `yaml:"identity"`
	Cookie   string `yaml:"cookie"` // Raw Cookie header value
	Token    string `yaml:"token"`  // Bearer token

	// How often tail re-checks the login; 0 disables the check.
	CheckInterval time.Duration `yaml:"check_interval"`
}

// ConnectionConfig holds push connection settings.
type ConnectionConfig struct {
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	SendBuffer        int           `yaml:"send_buffer"`
	ReadLimit         int64         `yaml:"read_limit"`
	SingleSession     bool          `yaml:"single_session"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}
