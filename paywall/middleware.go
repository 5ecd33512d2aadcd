package paywall

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/mark3labs/x402-agentpay"
	"github.com/mark3labs/x402-agentpay/encoding"
)

// Settler finalizes an accepted payment once the handler has succeeded.
type Settler interface {
	Settle(ctx context.Context, payment x402.PaymentPayload, result *VerifyResult) (*x402.SettlementResponse, error)
}

// SettlerFunc adapts a function to Settler.
type SettlerFunc func(ctx context.Context, payment x402.PaymentPayload, result *VerifyResult) (*x402.SettlementResponse, error)

func (f SettlerFunc) Settle(ctx context.Context, payment x402.PaymentPayload, result *VerifyResult) (*x402.SettlementResponse, error) {
	return f(ctx, payment, result)
}

// Acknowledge is the default Settler. It reports the verified payer without
// submitting the authorization on-chain.
var Acknowledge = SettlerFunc(func(ctx context.Context, payment x402.PaymentPayload, result *VerifyResult) (*x402.SettlementResponse, error) {
	return &x402.SettlementResponse{
		Success: true,
		Network: payment.Network,
		Payer:   result.Payer.Hex(),
	}, nil
})

// Config configures Middleware.
type Config struct {
	// Requirements lists the accepted payment options. Resource and Description
	// are filled in per request when empty.
	Requirements []x402.PaymentRequirement

	Verifier *Verifier
	Settler  Settler
	Logger   *slog.Logger
}

type contextKey string

const paymentContextKey = contextKey("x402_payment")

// FromContext returns the verified payment of a request that passed Middleware.
func FromContext(ctx context.Context) (*VerifyResult, bool) {
	result, ok := ctx.Value(paymentContextKey).(*VerifyResult)
	return result, ok
}

// Middleware gates next behind payment. Requests without a valid X-PAYMENT
// header receive 402 with the accepted requirements; the body's error and
// invalidReason fields describe why.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = NewVerifier()
	}
	settler := cfg.Settler
	if settler == nil {
		settler = Acknowledge
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			requirements := withResource(cfg.Requirements, r)

			header := r.Header.Get(x402.PaymentHeader)
			if header == "" {
				logger.Info("no payment header provided", "path", r.URL.Path)
				sendPaymentRequired(w, requirements, "X-PAYMENT header is required", "")
				return
			}

			payment, err := encoding.DecodePayment(header)
			if err != nil {
				logger.Warn("invalid payment header", "error", err)
				sendPaymentRequired(w, requirements, "Invalid payment header", ReasonInvalidPayload)
				return
			}

			requirement, err := FindMatchingRequirement(payment, requirements)
			if err != nil {
				logger.Warn("no matching requirement", "scheme", payment.Scheme, "network", payment.Network)
				sendPaymentRequired(w, requirements, "No matching payment requirement", ReasonInvalidNetwork)
				return
			}

			result, err := verifier.Verify(r.Context(), payment, requirement)
			if err != nil {
				var ie *InvalidPaymentError
				if errors.As(err, &ie) {
					logger.Warn("payment verification failed", "reason", ie.Reason, "error", err)
					sendPaymentRequired(w, requirements, "Payment verification failed", ie.Reason)
					return
				}
				logger.Error("payment verification error", "error", err)
				sendErrorResponse(w, http.StatusServiceUnavailable, "Payment verification failed")
				return
			}

			r = r.WithContext(context.WithValue(r.Context(), paymentContextKey, result))

			interceptor := &settlementInterceptor{
				w: w,
				settleFunc: func() bool {
					settlement, err := settler.Settle(r.Context(), payment, result)
					if err != nil {
						logger.Error("settlement failed", "error", err)
						sendErrorResponse(w, http.StatusServiceUnavailable, "Payment settlement failed")
						return false
					}
					if !settlement.Success {
						logger.Warn("settlement unsuccessful", "reason", settlement.ErrorReason)
						sendPaymentRequired(w, requirements, "Payment settlement failed", settlement.ErrorReason)
						return false
					}
					if err := addPaymentResponseHeader(w, settlement); err != nil {
						logger.Warn("failed to add payment response header", "error", err)
					}
					logger.Info("payment settled", "payer", settlement.Payer, "transaction", settlement.Transaction)
					return true
				},
				onFailure: func(statusCode int) {
					logger.Warn("handler returned non-success, skipping payment settlement", "status", statusCode)
				},
			}
			next.ServeHTTP(interceptor, r)
		})
	}
}

func withResource(requirements []x402.PaymentRequirement, r *http.Request) []x402.PaymentRequirement {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	resourceURL := scheme + "://" + r.Host + r.RequestURI

	out := make([]x402.PaymentRequirement, len(requirements))
	for i, req := range requirements {
		out[i] = req
		if out[i].Resource == "" {
			out[i].Resource = resourceURL
		}
		if out[i].Description == "" {
			out[i].Description = "Payment required for " + r.URL.Path
		}
	}
	return out
}

func sendPaymentRequired(w http.ResponseWriter, requirements []x402.PaymentRequirement, message, reason string) {
	response := x402.PaymentRequirementsResponse{
		X402Version:   x402.ProtocolVersion,
		Error:         message,
		InvalidReason: reason,
		Accepts:       requirements,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	// Headers are already sent; an encoding error cannot be reported.
	_ = json.NewEncoder(w).Encode(response)
}

func sendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"x402Version": x402.ProtocolVersion,
		"error":       message,
	})
}

func addPaymentResponseHeader(w http.ResponseWriter, settlement *x402.SettlementResponse) error {
	encoded, err := encoding.EncodeSettlement(*settlement)
	if err != nil {
		return err
	}
	w.Header().Set(x402.PaymentResponseHeader, encoded)
	return nil
}

// settlementInterceptor settles when the handler commits a successful status.
// Error statuses pass through unsettled.
type settlementInterceptor struct {
	w          http.ResponseWriter
	settleFunc func() bool
	onFailure  func(statusCode int)
	committed  bool
	hijacked   bool
}

func (i *settlementInterceptor) Header() http.Header {
	return i.w.Header()
}

func (i *settlementInterceptor) Write(b []byte) (int, error) {
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}
	// Settlement failed and already wrote its own response.
	if i.hijacked {
		return len(b), nil
	}
	return i.w.Write(b)
}

func (i *settlementInterceptor) WriteHeader(statusCode int) {
	if i.committed {
		return
	}
	i.committed = true

	if statusCode >= 400 {
		if i.onFailure != nil {
			i.onFailure(statusCode)
		}
		i.w.WriteHeader(statusCode)
		return
	}

	if !i.settleFunc() {
		i.hijacked = true
		return
	}
	i.w.WriteHeader(statusCode)
}

// Flush implements http.Flusher.
func (i *settlementInterceptor) Flush() {
	if flusher, ok := i.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker.
func (i *settlementInterceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := i.w.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}
