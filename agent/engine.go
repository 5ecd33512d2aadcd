// Package agent wires the payment pipeline behind the approval gate: terms are
// quoted, a fresh authorization is signed and verified, encoded into the
// X-PAYMENT header and sent to the paid endpoint.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/mark3labs/x402-agentpay"
	"github.com/mark3labs/x402-agentpay/encoding"
	"github.com/mark3labs/x402-agentpay/gate"
	x402http "github.com/mark3labs/x402-agentpay/http"
	"github.com/mark3labs/x402-agentpay/metrics"
)

// Transport sends resource requests with or without a payment header.
// *http.Client satisfies it.
type Transport interface {
	RequestWithPayment(ctx context.Context, endpoint, header string) (*x402.Outcome, error)
	RequestWithoutPayment(ctx context.Context, endpoint string) (*x402.Outcome, error)
}

// TermsProvider supplies the terms a payment prompt quotes.
type TermsProvider interface {
	Terms(ctx context.Context) (x402.Terms, error)
}

// Engine implements gate.Pipeline for a single paid endpoint.
type Engine struct {
	signer    x402.Signer
	transport Transport
	endpoint  string
	terms     TermsProvider
	logger    *slog.Logger
	metrics   *metrics.Collectors
}

var _ gate.Pipeline = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine) error

// New creates an Engine. A signer and an endpoint are required. Without
// WithTransport an http.Client with default timeout and retries is used; without
// WithTerms the terms are read from the endpoint's 402 challenge.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if e.signer == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeConfig, "engine requires a signer", x402.ErrMissingConfig)
	}
	if e.endpoint == "" {
		return nil, x402.NewPaymentError(x402.ErrCodeConfig, "engine requires an endpoint", x402.ErrMissingConfig)
	}

	if e.transport == nil {
		client, err := x402http.NewClient(x402http.WithLogger(e.logger))
		if err != nil {
			return nil, err
		}
		e.transport = client
	}

	if e.terms == nil {
		challenger, ok := e.transport.(Challenger)
		if !ok {
			return nil, x402.NewPaymentError(x402.ErrCodeConfig, "engine requires terms or a transport that can fetch them", x402.ErrMissingConfig)
		}
		e.terms = NewChallengeTerms(challenger, e.endpoint, e.signer)
	}

	return e, nil
}

// WithSigner sets the signer used for every payment.
func WithSigner(signer x402.Signer) Option {
	return func(e *Engine) error {
		if signer == nil {
			return x402.NewPaymentError(x402.ErrCodeConfig, "signer cannot be nil", x402.ErrMissingConfig)
		}
		e.signer = signer
		return nil
	}
}

// WithTransport replaces the default HTTP transport.
func WithTransport(t Transport) Option {
	return func(e *Engine) error {
		e.transport = t
		return nil
	}
}

// WithEndpoint sets the paid resource URL.
func WithEndpoint(endpoint string) Option {
	return func(e *Engine) error {
		e.endpoint = endpoint
		return nil
	}
}

// WithTerms sets how payment terms are quoted.
func WithTerms(p TermsProvider) Option {
	return func(e *Engine) error {
		e.terms = p
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger != nil {
			e.logger = logger
		}
		return nil
	}
}

// WithMetrics records transport latency on m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// Quote implements gate.Pipeline.
func (e *Engine) Quote(ctx context.Context) (x402.Terms, error) {
	return e.terms.Terms(ctx)
}

// Pay implements gate.Pipeline. The payload is signed and verified in full
// before the request is issued, and nothing is sent once the gate's checkpoint
// reports the prompt as superseded.
func (e *Engine) Pay(ctx context.Context, terms x402.Terms) (*x402.Outcome, error) {
	if err := gate.Checkpoint(ctx); err != nil {
		return nil, err
	}

	payload, err := e.signer.Sign(ctx, terms)
	if err != nil {
		e.logger.Error("failed to sign payment", "network", terms.Network, "error", err)
		return nil, err
	}

	header, err := encoding.EncodePayment(*payload)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to encode payment", err)
	}

	if err := gate.Checkpoint(ctx); err != nil {
		return nil, err
	}

	e.logger.Info("sending payment",
		"endpoint", e.endpoint,
		"payer", payload.Payload.Authorization.From,
		"value", payload.Payload.Authorization.Value,
		"network", payload.Network)

	start := time.Now()
	outcome, err := e.transport.RequestWithPayment(ctx, e.endpoint, header)
	e.metrics.ObserveTransport(true, time.Since(start))
	return outcome, err
}

// Skip implements gate.Pipeline.
func (e *Engine) Skip(ctx context.Context) (*x402.Outcome, error) {
	start := time.Now()
	outcome, err := e.transport.RequestWithoutPayment(ctx, e.endpoint)
	e.metrics.ObserveTransport(false, time.Since(start))
	return outcome, err
}
