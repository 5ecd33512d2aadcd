package evm

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mark3labs/x402-agentpay"
)

const (
	// ValidAfterSkew backdates validAfter to tolerate verifier clocks running behind ours.
	ValidAfterSkew = 600 * time.Second

	// ValidityPeriod is how long after construction an authorization may be redeemed.
	ValidityPeriod = 3600 * time.Second
)

// NonceSource produces unique 32-byte authorization nonces.
type NonceSource interface {
	Nonce() (common.Hash, error)
}

// NonceFunc adapts a function to NonceSource.
type NonceFunc func() (common.Hash, error)

func (f NonceFunc) Nonce() (common.Hash, error) { return f() }

// RandomNonces draws nonces from crypto/rand.
var RandomNonces NonceSource = NonceFunc(randomNonce)

func randomNonce() (common.Hash, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(nonce[:]), nil
}

// Authorization is the EIP-3009 TransferWithAuthorization message.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       common.Hash
}

// BuildAuthorization assembles a fresh authorization valid from now-ValidAfterSkew
// until now+ValidityPeriod with a nonce from nonces (RandomNonces when nil).
func BuildAuthorization(from, to common.Address, value *big.Int, now time.Time, nonces NonceSource) (*Authorization, error) {
	if value == nil || value.Sign() <= 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidAmount, "amount must be positive", x402.ErrInvalidAmount)
	}
	if nonces == nil {
		nonces = RandomNonces
	}

	nonce, err := nonces.Nonce()
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to generate nonce", err)
	}

	unix := now.Unix()
	return &Authorization{
		From:        from,
		To:          to,
		Value:       new(big.Int).Set(value),
		ValidAfter:  big.NewInt(unix - int64(ValidAfterSkew/time.Second)),
		ValidBefore: big.NewInt(unix + int64(ValidityPeriod/time.Second)),
		Nonce:       nonce,
	}, nil
}

// ValidAt reports whether validAfter < t <= validBefore.
func (a *Authorization) ValidAt(t time.Time) bool {
	unix := big.NewInt(t.Unix())
	return a.ValidAfter.Cmp(unix) < 0 && unix.Cmp(a.ValidBefore) <= 0
}

// Wire renders the authorization in its JSON wire form.
func (a *Authorization) Wire() x402.EVMAuthorization {
	return x402.EVMAuthorization{
		From:        a.From.Hex(),
		To:          a.To.Hex(),
		Value:       a.Value.String(),
		ValidAfter:  a.ValidAfter.String(),
		ValidBefore: a.ValidBefore.String(),
		Nonce:       a.Nonce.Hex(),
	}
}

// AuthorizationFromWire parses the JSON wire form.
func AuthorizationFromWire(w x402.EVMAuthorization) (*Authorization, error) {
	if !common.IsHexAddress(w.From) || !common.IsHexAddress(w.To) {
		return nil, fmt.Errorf("%w: invalid from/to address", x402.ErrMalformedHeader)
	}

	auth := &Authorization{
		From: common.HexToAddress(w.From),
		To:   common.HexToAddress(w.To),
	}

	for _, field := range []struct {
		name string
		src  string
		dst  **big.Int
	}{
		{"value", w.Value, &auth.Value},
		{"validAfter", w.ValidAfter, &auth.ValidAfter},
		{"validBefore", w.ValidBefore, &auth.ValidBefore},
	} {
		n, ok := new(big.Int).SetString(field.src, 10)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("%w: invalid %s %q", x402.ErrMalformedHeader, field.name, field.src)
		}
		*field.dst = n
	}

	nonce, err := hexutil.Decode(w.Nonce)
	if err != nil || len(nonce) != common.HashLength {
		return nil, fmt.Errorf("%w: nonce must be 32 bytes", x402.ErrMalformedHeader)
	}
	auth.Nonce = common.BytesToHash(nonce)

	return auth, nil
}
