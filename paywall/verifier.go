// Package paywall verifies x402 exact-scheme EVM payments locally and gates
// HTTP handlers behind them. It rebuilds the EIP-712 digest the payer signed,
// recovers the signer and checks the authorization against the requirement.
package paywall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/x402-agentpay"
	"github.com/mark3labs/x402-agentpay/evm"
	"github.com/mark3labs/x402-agentpay/metrics"
)

// Invalid reasons reported in 402 bodies.
const (
	ReasonInvalidScheme      = "invalid_scheme"
	ReasonInvalidNetwork     = "invalid_network"
	ReasonInvalidPayload     = "invalid_payload"
	ReasonInvalidSignature   = "invalid_exact_evm_payload_signature"
	ReasonRecipientMismatch  = "invalid_exact_evm_payload_recipient_mismatch"
	ReasonInsufficientValue  = "invalid_exact_evm_payload_authorization_value"
	ReasonNotYetValid        = "invalid_exact_evm_payload_authorization_valid_after"
	ReasonExpired            = "invalid_exact_evm_payload_authorization_valid_before"
	ReasonNonceReused        = "invalid_exact_evm_payload_authorization_nonce"
	ReasonInsufficientFunds  = "insufficient_funds"
	ReasonUnexpectedVerifier = "unexpected_verify_error"
)

// InvalidPaymentError is a payment the verifier rejected.
type InvalidPaymentError struct {
	Reason string
	Err    error
}

func (e *InvalidPaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid payment: %s: %v", e.Reason, e.Err)
	}
	return "invalid payment: " + e.Reason
}

func (e *InvalidPaymentError) Unwrap() error { return e.Err }

func invalid(reason string, err error) *InvalidPaymentError {
	return &InvalidPaymentError{Reason: reason, Err: err}
}

// FundsFunc reports whether payer can cover value of asset. Returning an
// InvalidPaymentError rejects the payment with its reason.
type FundsFunc func(ctx context.Context, payer common.Address, asset string, value *big.Int) error

// VerifyResult describes an accepted payment.
type VerifyResult struct {
	Payer         common.Address
	Requirement   x402.PaymentRequirement
	Authorization *evm.Authorization
}

// Verifier checks payment payloads against requirements.
type Verifier struct {
	nonces  NonceStore
	funds   FundsFunc
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Collectors
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithNonceStore sets where accepted nonces are recorded.
func WithNonceStore(store NonceStore) Option {
	return func(v *Verifier) {
		if store != nil {
			v.nonces = store
		}
	}
}

// WithFundsCheck adds a balance check run after the signature is verified.
func WithFundsCheck(fn FundsFunc) Option {
	return func(v *Verifier) { v.funds = fn }
}

// WithClock overrides the clock used for validity windows.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithMetrics records verification results.
func WithMetrics(m *metrics.Collectors) Option {
	return func(v *Verifier) { v.metrics = m }
}

// NewVerifier creates a verifier with an in-memory nonce store by default.
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{
		nonces: NewMemoryNonceStore(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks payment against req. Failures are *InvalidPaymentError; any
// other error means verification itself could not complete.
func (v *Verifier) Verify(ctx context.Context, payment x402.PaymentPayload, req x402.PaymentRequirement) (*VerifyResult, error) {
	result, err := v.verify(ctx, payment, req)
	if err != nil {
		reason := ReasonUnexpectedVerifier
		var ie *InvalidPaymentError
		if errors.As(err, &ie) {
			reason = ie.Reason
		}
		v.metrics.ObserveVerification(reason)
		return nil, err
	}
	v.metrics.ObserveVerification("valid")
	return result, nil
}

func (v *Verifier) verify(ctx context.Context, payment x402.PaymentPayload, req x402.PaymentRequirement) (*VerifyResult, error) {
	if payment.Scheme != req.Scheme {
		return nil, invalid(ReasonInvalidScheme, nil)
	}
	if payment.Network != req.Network {
		return nil, invalid(ReasonInvalidNetwork, nil)
	}

	terms, err := x402.TermsFromRequirement(req)
	if err != nil {
		return nil, fmt.Errorf("requirement cannot be verified against: %w", err)
	}

	auth, err := evm.AuthorizationFromWire(payment.Payload.Authorization)
	if err != nil {
		return nil, invalid(ReasonInvalidPayload, err)
	}
	signature, err := evm.DecodeSignature(payment.Payload.Signature)
	if err != nil {
		return nil, invalid(ReasonInvalidPayload, err)
	}

	signer, err := evm.RecoverAuthorizer(terms.Domain, auth, signature)
	if err != nil {
		return nil, invalid(ReasonInvalidSignature, err)
	}
	if signer != auth.From {
		return nil, invalid(ReasonInvalidSignature, fmt.Errorf("recovered %s, authorization from %s", signer.Hex(), auth.From.Hex()))
	}

	if !strings.EqualFold(auth.To.Hex(), req.PayTo) {
		return nil, invalid(ReasonRecipientMismatch, nil)
	}
	if auth.Value.Cmp(terms.Amount) < 0 {
		return nil, invalid(ReasonInsufficientValue, fmt.Errorf("value %s below required %s", auth.Value, terms.Amount))
	}

	now := v.now()
	unix := big.NewInt(now.Unix())
	if auth.ValidAfter.Cmp(unix) >= 0 {
		return nil, invalid(ReasonNotYetValid, nil)
	}
	if unix.Cmp(auth.ValidBefore) > 0 {
		return nil, invalid(ReasonExpired, nil)
	}

	if v.funds != nil {
		if err := v.funds(ctx, auth.From, req.Asset, auth.Value); err != nil {
			var ie *InvalidPaymentError
			if errors.As(err, &ie) {
				return nil, err
			}
			return nil, fmt.Errorf("funds check failed: %w", err)
		}
	}

	ttl := nonceTTL(auth.ValidBefore, now)
	key := strings.ToLower(req.Asset) + ":" + strings.ToLower(auth.From.Hex()) + ":" + auth.Nonce.Hex()
	fresh, err := v.nonces.Reserve(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("nonce store unavailable: %w", err)
	}
	if !fresh {
		return nil, invalid(ReasonNonceReused, nil)
	}

	v.logger.Info("payment verified",
		"payer", auth.From.Hex(),
		"value", auth.Value.String(),
		"network", req.Network)

	return &VerifyResult{Payer: auth.From, Requirement: req, Authorization: auth}, nil
}

// maxNonceTTL caps how long a nonce is remembered.
const maxNonceTTL = 100 * 365 * 24 * time.Hour

// nonceTTL is how long a nonce must stay reserved: while the authorization can
// still be redeemed plus a minute of slack. validBefore is a uint256 and is
// compared as such; anything beyond maxNonceTTL is clamped to it.
func nonceTTL(validBefore *big.Int, now time.Time) time.Duration {
	remaining := new(big.Int).Sub(validBefore, big.NewInt(now.Unix()))
	if remaining.Sign() < 0 {
		return time.Minute
	}
	if remaining.Cmp(big.NewInt(int64((maxNonceTTL-time.Minute)/time.Second))) >= 0 {
		return maxNonceTTL
	}
	return time.Duration(remaining.Int64())*time.Second + time.Minute
}

// FindMatchingRequirement returns the requirement with the payment's scheme and network.
func FindMatchingRequirement(payment x402.PaymentPayload, requirements []x402.PaymentRequirement) (x402.PaymentRequirement, error) {
	for _, req := range requirements {
		if req.Scheme == payment.Scheme && req.Network == payment.Network {
			return req, nil
		}
	}
	return x402.PaymentRequirement{}, x402.ErrUnsupportedScheme
}
