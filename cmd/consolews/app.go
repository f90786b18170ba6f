package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rickgao/consolews/internal/api"
	"github.com/rickgao/consolews/internal/auth"
	"github.com/rickgao/consolews/internal/config"
	"github.com/rickgao/consolews/internal/connection"
	"github.com/rickgao/consolews/internal/metrics"
)

// app is the composition root shared by the subcommands.
type app struct {
	cfg      *config.ConsoleConfig
	logger   *slog.Logger
	creds    auth.Credentials
	api      *api.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	dialer   *connection.WebSocketDialer
	dir      *connection.Directory
}

func newApp(opts *rootOptions, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Logging, opts.verbose, logOut)
	creds := auth.NewCredentials(cfg.Session.Cookie, cfg.Session.Token)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	dialer := connection.NewWebSocketDialer(connection.WebSocketConfig{
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		WriteTimeout:     cfg.Connection.WriteTimeout,
		SendBuffer:       cfg.Connection.SendBuffer,
		ReadLimit:        cfg.Connection.ReadLimit,
		Header:           creds.Header,
	}, logger)

	dirOpts := []connection.Option{
		connection.WithLogger(logger),
		connection.WithMetrics(m),
	}
	if cfg.Connection.SingleSession {
		dirOpts = append(dirOpts, connection.WithSingleSession())
	}

	client := api.NewClient(cfg.Service.BaseURL, creds,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Service.Timeout),
		api.WithRetries(cfg.Service.MaxRetries, time.Second),
		api.WithLoginPath(cfg.Service.LoginPath),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		creds:    creds,
		api:      client,
		registry: reg,
		metrics:  m,
		dialer:   dialer,
		dir:      connection.NewDirectory(connectionConfig(cfg), dialer, dirOpts...),
	}, nil
}

func loadConfig(path string) (*config.ConsoleConfig, error) {
	if path != "" {
		return config.LoadAndValidate(path)
	}
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func connectionConfig(cfg *config.ConsoleConfig) connection.Config {
	return connection.Config{
		BaseURL:           cfg.Service.BaseURL,
		ServiceRoot:       cfg.Service.ServiceRoot,
		ReconnectDelay:    cfg.Connection.ReconnectDelay,
		HeartbeatInterval: cfg.Connection.HeartbeatInterval,
	}
}

// newLogger picks tint for terminals and JSON for everything else.
func newLogger(cfg config.LoggingConfig, verbose bool, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveIdentity returns the identity to connect as. An empty result with a
// nil error means nobody is logged in.
func (a *app) resolveIdentity(ctx context.Context, flagIdentity string) (string, error) {
	if flagIdentity != "" {
		return flagIdentity, nil
	}
	if a.cfg.Session.Identity != "" {
		return a.cfg.Session.Identity, nil
	}
	if a.creds.Empty() {
		a.logger.Warn("no identity configured and no session to look it up with")
		return "", nil
	}

	user, err := a.api.GetLoginUser(ctx)
	if errors.Is(err, api.ErrNotLoggedIn) {
		a.logger.Warn("session is not logged in")
		return "", nil
	}
	if err != nil {
		return "", err
	}

	a.logger.Info("resolved identity from session",
		"identity", user.Identity(),
		"user_name", user.UserName,
	)
	return user.Identity(), nil
}

// shutdown closes every connection and waits for sockets to flush.
func (a *app) shutdown(timeout time.Duration) {
	_ = a.dir.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.dialer.Wait(ctx); err != nil {
		a.logger.Warn("sockets did not close in time", "error", err)
	}
}
