package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/x402-agentpay"
)

// Signer implements x402.Signer for one EVM network.
type Signer struct {
	keys      KeySigner
	network   string
	tokens    []string
	priority  int
	maxAmount *big.Int
	nonces    NonceSource
	now       func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner creates a new EVM signer. A key source and a network are required;
// when no token is configured the network's USDC contract is used.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	s := &Signer{
		nonces: RandomNonces,
		now:    time.Now,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.keys == nil {
		return nil, x402.ErrInvalidKey
	}
	chain, err := x402.ChainByNetwork(s.network)
	if err != nil {
		return nil, err
	}
	if len(s.tokens) == 0 {
		s.tokens = []string{chain.USDCAddress}
	}

	return s, nil
}

// WithAccount signs with an in-process account.
func WithAccount(account *Account) SignerOption {
	return WithKeySigner(account)
}

// WithKeySigner signs with any KeySigner.
func WithKeySigner(keys KeySigner) SignerOption {
	return func(s *Signer) error {
		if keys == nil {
			return x402.ErrInvalidKey
		}
		s.keys = keys
		return nil
	}
}

// WithNetwork sets the blockchain network.
func WithNetwork(network string) SignerOption {
	return func(s *Signer) error {
		s.network = network
		return nil
	}
}

// WithToken adds a token contract the signer is willing to pay with.
func WithToken(address string) SignerOption {
	return func(s *Signer) error {
		if !x402.IsEVMAddress(address) {
			return fmt.Errorf("%w: %s", x402.ErrInvalidRequirements, address)
		}
		s.tokens = append(s.tokens, address)
		return nil
	}
}

// WithPriority sets the signer priority.
func WithPriority(priority int) SignerOption {
	return func(s *Signer) error {
		s.priority = priority
		return nil
	}
}

// WithMaxAmountPerCall sets the maximum amount per payment call in atomic units.
func WithMaxAmountPerCall(amount string) SignerOption {
	return func(s *Signer) error {
		maxAmount, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return x402.ErrInvalidAmount
		}
		s.maxAmount = maxAmount
		return nil
	}
}

// WithNonceSource overrides the nonce source.
func WithNonceSource(nonces NonceSource) SignerOption {
	return func(s *Signer) error {
		s.nonces = nonces
		return nil
	}
}

// WithClock overrides the clock used for validity windows.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) error {
		s.now = now
		return nil
	}
}

// Network implements x402.Signer.
func (s *Signer) Network() string {
	return s.network
}

// Scheme implements x402.Signer.
func (s *Signer) Scheme() string {
	return x402.SchemeExact
}

// Address implements x402.Signer.
func (s *Signer) Address() string {
	return s.keys.Address().Hex()
}

// CanSign implements x402.Signer.
func (s *Signer) CanSign(requirements *x402.PaymentRequirement) bool {
	if requirements.Network != s.network || requirements.Scheme != x402.SchemeExact {
		return false
	}
	return s.hasToken(requirements.Asset)
}

// GetPriority implements x402.Signer.
func (s *Signer) GetPriority() int {
	return s.priority
}

// GetMaxAmount implements x402.Signer.
func (s *Signer) GetMaxAmount() *big.Int {
	return s.maxAmount
}

func (s *Signer) hasToken(asset string) bool {
	for _, token := range s.tokens {
		if strings.EqualFold(token, asset) {
			return true
		}
	}
	return false
}

// Sign implements x402.Signer. It builds a fresh authorization, signs it and
// verifies the signature against the account before returning the payload.
func (s *Signer) Sign(ctx context.Context, terms x402.Terms) (*x402.PaymentPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if terms.Network != s.network || (terms.Scheme != "" && terms.Scheme != x402.SchemeExact) {
		return nil, x402.NewPaymentError(x402.ErrCodeNoValidSigner, "signer cannot pay on this network", x402.ErrNoValidSigner).
			WithDetails("network", terms.Network)
	}
	if !s.hasToken(terms.Asset) {
		return nil, x402.NewPaymentError(x402.ErrCodeNoValidSigner, "signer does not hold this token", x402.ErrNoValidSigner).
			WithDetails("asset", terms.Asset)
	}
	if terms.Domain.IsZero() || !strings.EqualFold(terms.Domain.VerifyingContract(), terms.Asset) {
		return nil, x402.NewPaymentError(x402.ErrCodeConfig, "signing domain does not match the token contract", x402.ErrInvalidDomain)
	}
	if !x402.IsEVMAddress(terms.PayTo) {
		return nil, x402.NewPaymentError(x402.ErrCodeConfig, "invalid payee address", x402.ErrMissingConfig).
			WithDetails("payTo", terms.PayTo)
	}
	if s.maxAmount != nil && terms.Amount != nil && terms.Amount.Cmp(s.maxAmount) > 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidAmount, "amount exceeds per-call limit", x402.ErrAmountExceeded).
			WithDetails("amount", terms.Amount.String()).
			WithDetails("limit", s.maxAmount.String())
	}

	auth, err := BuildAuthorization(s.keys.Address(), common.HexToAddress(terms.PayTo), terms.Amount, s.now(), s.nonces)
	if err != nil {
		return nil, err
	}

	signed, err := SignAuthorization(s.keys, terms.Domain, auth)
	if err != nil {
		return nil, err
	}

	return &x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Scheme:      x402.SchemeExact,
		Network:     s.network,
		Payload: x402.EVMPayload{
			Signature:     signed.SignatureHex(),
			Authorization: auth.Wire(),
		},
	}, nil
}
