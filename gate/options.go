package gate

import (
	"log/slog"
	"time"

	"github.com/mark3labs/x402-agentpay"
	"github.com/mark3labs/x402-agentpay/metrics"
	"github.com/mark3labs/x402-agentpay/transcript"
)

// Option configures a Gate.
type Option func(*Gate) error

// WithClassifier replaces the keyword classifier.
func WithClassifier(c Classifier) Option {
	return func(g *Gate) error {
		if c == nil {
			return x402.NewPaymentError(x402.ErrCodeConfig, "classifier cannot be nil", x402.ErrMissingConfig)
		}
		g.classifier = c
		return nil
	}
}

// WithStore sets the transcript store used for auditing and as the fallback
// approval context.
func WithStore(store transcript.Store) Option {
	return func(g *Gate) error {
		g.store = store
		return nil
	}
}

// WithLookback sets how many recent messages the fallback scan inspects.
func WithLookback(n int) Option {
	return func(g *Gate) error {
		if n <= 0 {
			return x402.NewPaymentError(x402.ErrCodeConfig, "lookback must be positive", x402.ErrMissingConfig).
				WithDetails("lookback", n)
		}
		g.lookback = n
		return nil
	}
}

// WithPromptTTL makes prompts older than ttl unapprovable. Zero disables it.
func WithPromptTTL(ttl time.Duration) Option {
	return func(g *Gate) error {
		g.promptTTL = ttl
		return nil
	}
}

// WithTraceKeywords sets the words that identify a payment prompt in the
// transcript when it carries no action label.
func WithTraceKeywords(keywords ...string) Option {
	return func(g *Gate) error {
		g.traceKeywords = keywords
		return nil
	}
}

// WithPromptFormatter replaces FormatPrompt.
func WithPromptFormatter(format func(x402.Terms) string) Option {
	return func(g *Gate) error {
		if format != nil {
			g.format = format
		}
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) error {
		if logger != nil {
			g.logger = logger
		}
		return nil
	}
}

// WithMetrics records prompts, payments, rejections and denials.
func WithMetrics(m *metrics.Collectors) Option {
	return func(g *Gate) error {
		g.metrics = m
		return nil
	}
}

// WithClock overrides the clock used for prompt expiry.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) error {
		if now != nil {
			g.now = now
		}
		return nil
	}
}
