package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rickgao/consolews/internal/auth"
)

// DefaultLoginPath is the login-user lookup endpoint.
const DefaultLoginPath = "/api/user/get/login"

// Client provides access to the console REST API.
type Client struct {
	baseURL    string
	creds      auth.Credentials
	loginPath  string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, creds auth.Credentials, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		creds:     creds,
		loginPath: DefaultLoginPath,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLoginPath overrides the login-user endpoint path.
func WithLoginPath(path string) ClientOption {
	return func(c *Client) {
		if path != "" {
			c.loginPath = "/" + strings.TrimLeft(path, "/")
		}
	}
}
