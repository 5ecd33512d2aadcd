package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/x402-agentpay"
	"github.com/mark3labs/x402-agentpay/encoding"
	"github.com/mark3labs/x402-agentpay/retry"
)

// ErrNoPaymentRequired is returned by FetchRequirements when the resource
// answered without a 402 challenge.
var ErrNoPaymentRequired = errors.New("x402: resource did not request payment")

type response struct {
	status     int
	body       []byte
	settlement string
}

// RequestWithPayment requests endpoint carrying header as X-PAYMENT. A 200
// response is a successful outcome. Any other status returns the outcome
// together with a protocol_error carrying the body's error and invalidReason
// verbatim; it is never retried because the authorization is spent. A body
// that cannot be read after the status arrived is a terminal protocol_error
// for the same reason.
func (c *Client) RequestWithPayment(ctx context.Context, endpoint, header string) (*x402.Outcome, error) {
	if header == "" {
		return nil, x402.NewPaymentError(x402.ErrCodeConfig, "payment header is empty", x402.ErrMissingConfig)
	}
	return c.request(ctx, endpoint, header)
}

// RequestWithoutPayment requests endpoint with no payment header. Responses are
// classified the same way as RequestWithPayment.
func (c *Client) RequestWithoutPayment(ctx context.Context, endpoint string) (*x402.Outcome, error) {
	return c.request(ctx, endpoint, "")
}

// FetchRequirements requests endpoint without payment and parses its 402 challenge.
func (c *Client) FetchRequirements(ctx context.Context, endpoint string) (*x402.PaymentRequirementsResponse, error) {
	resp, err := c.do(ctx, endpoint, "")
	if err != nil {
		return nil, err
	}

	if resp.status != http.StatusPaymentRequired {
		if resp.status == http.StatusOK {
			return nil, ErrNoPaymentRequired
		}
		return nil, x402.NewPaymentError(x402.ErrCodeProtocol, "unexpected status while fetching requirements", x402.ErrInvalidRequirements).
			WithDetails("status", resp.status)
	}

	var challenge x402.PaymentRequirementsResponse
	if err := json.Unmarshal(resp.body, &challenge); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "failed to parse payment requirements", err)
	}
	if challenge.X402Version != x402.ProtocolVersion {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "unsupported challenge version", x402.ErrUnsupportedVersion).
			WithDetails("x402Version", challenge.X402Version)
	}
	if len(challenge.Accepts) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "no payment requirements in response", x402.ErrInvalidRequirements)
	}

	return &challenge, nil
}

func (c *Client) request(ctx context.Context, endpoint, header string) (*x402.Outcome, error) {
	resp, err := c.do(ctx, endpoint, header)
	if err != nil {
		return nil, err
	}
	return c.classify(resp, header != "")
}

// do performs the GET under the retry policy. Only transport failures are
// retried; any HTTP response, whatever its status, ends the loop.
func (c *Client) do(ctx context.Context, endpoint, header string) (*response, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, x402.NewPaymentError(x402.ErrCodeConfig, "endpoint is empty", x402.ErrMissingConfig)
	}

	paid := header != ""
	return retry.WithRetry(ctx, c.retry, x402.IsRetryable,
		func(ctx context.Context, attempt int) (*response, error) {
			start := time.Now()
			resp, err := c.attempt(ctx, endpoint, header)
			if err != nil {
				return nil, err
			}
			c.logger.Debug("resource request completed",
				"endpoint", endpoint,
				"paid", paid,
				"attempt", attempt,
				"status", resp.status,
				"duration", time.Since(start))
			return resp, nil
		},
		func(attempt int, err error, delay time.Duration) {
			c.logger.Warn("resource request failed, retrying",
				"endpoint", endpoint,
				"paid", paid,
				"attempt", attempt,
				"delay", delay,
				"error", err)
		},
	)
}

func (c *Client) attempt(ctx context.Context, endpoint, header string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeConfig, "invalid endpoint", err).
			WithDetails("endpoint", endpoint)
	}
	req.Header.Set("Accept", "application/json")
	if header != "" {
		req.Header.Set(x402.PaymentHeader, header)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if header != "" {
			return nil, x402.NewPaymentError(x402.ErrCodeProtocol, "failed to read paid response body", err).
				WithDetails("status", resp.StatusCode)
		}
		return nil, transportError("failed to read response body", err)
	}

	return &response{
		status:     resp.StatusCode,
		body:       body,
		settlement: resp.Header.Get(x402.PaymentResponseHeader),
	}, nil
}

func transportError(message string, err error) *x402.PaymentError {
	return x402.NewPaymentError(x402.ErrCodeTransport, message, fmt.Errorf("%w: %w", x402.ErrNetworkError, err))
}

func (c *Client) classify(resp *response, paid bool) (*x402.Outcome, error) {
	outcome := &x402.Outcome{
		Paid:   paid,
		Status: resp.status,
	}

	if resp.settlement != "" {
		settlement, err := encoding.DecodeSettlement(resp.settlement)
		if err != nil {
			c.logger.Warn("ignoring malformed settlement header", "error", err)
		} else {
			outcome.Settlement = &settlement
		}
	}

	if resp.status == http.StatusOK {
		outcome.Success = true
		outcome.Data = rawJSON(resp.body)
		return outcome, nil
	}

	var rejection struct {
		Error         string `json:"error"`
		InvalidReason string `json:"invalidReason"`
	}
	if err := json.Unmarshal(resp.body, &rejection); err == nil {
		outcome.Error = rejection.Error
		outcome.InvalidReason = rejection.InvalidReason
	} else {
		outcome.Error = strings.TrimSpace(string(resp.body))
	}
	if outcome.Error == "" && outcome.InvalidReason == "" {
		outcome.Error = http.StatusText(resp.status)
	}

	return outcome, x402.NewPaymentError(x402.ErrCodeProtocol, "resource request rejected", x402.ErrPaymentRejected).
		WithDetails("status", outcome.Status).
		WithDetails("error", outcome.Error).
		WithDetails("invalidReason", outcome.InvalidReason)
}

// rawJSON returns body unchanged when it is JSON and as a JSON string otherwise.
func rawJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
