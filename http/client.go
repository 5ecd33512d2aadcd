// Package http is the payment transport: it issues resource requests with or
// without an X-PAYMENT header and classifies the responses into outcomes.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/x402-agentpay/retry"
)

// DefaultTimeout bounds each transport attempt.
const DefaultTimeout = 10 * time.Second

// maxBodySize caps how much of a response body is read.
const maxBodySize = 1 << 20

// Client issues x402 resource requests. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	retry      retry.Config
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a transport client. By default each attempt is bounded to
// DefaultTimeout and transport failures are retried at most twice.
func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{
		httpClient: &http.Client{},
		retry:      retry.DefaultConfig,
		logger:     slog.Default(),
	}
	client.retry.AttemptTimeout = DefaultTimeout

	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}

	return client, nil
}

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		if httpClient != nil {
			c.httpClient = httpClient
		}
		return nil
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		c.retry.AttemptTimeout = timeout
		return nil
	}
}

// WithMaxRetries sets how many times a transport failure is retried. Zero makes
// every request single-attempt.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) error {
		if n < 0 {
			n = 0
		}
		c.retry.MaxAttempts = n + 1
		return nil
	}
}

// WithRetryConfig replaces the retry policy. The per-attempt timeout already
// configured is kept when cfg does not set one.
func WithRetryConfig(cfg retry.Config) ClientOption {
	return func(c *Client) error {
		if cfg.AttemptTimeout == 0 {
			cfg.AttemptTimeout = c.retry.AttemptTimeout
		}
		c.retry = cfg
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}
