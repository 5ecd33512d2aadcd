// Package evm builds, signs and verifies EIP-3009 transferWithAuthorization
// payments under an EIP-712 domain.
package evm

import (
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mark3labs/x402-agentpay"
)

// KeySigner signs 32-byte digests on behalf of a single address. Account is the
// in-process implementation; remote signers can satisfy it too.
type KeySigner interface {
	Address() common.Address
	SignDigest(digest []byte) ([]byte, error)
}

// Account holds a secp256k1 private key. The key never leaves the account: it is
// only used inside SignDigest and is never logged or serialized.
type Account struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// AccountOption configures an Account.
type AccountOption func(*Account) error

// NewAccount creates an account from exactly one key source option.
func NewAccount(opts ...AccountOption) (*Account, error) {
	a := &Account{}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}

	if a.privateKey == nil {
		return nil, x402.ErrInvalidKey
	}
	a.address = crypto.PubkeyToAddress(a.privateKey.PublicKey)
	return a, nil
}

// WithPrivateKey sets the private key from a hex string.
func WithPrivateKey(hexKey string) AccountOption {
	return func(a *Account) error {
		hexKey = strings.TrimPrefix(hexKey, "0x")

		privateKey, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return x402.ErrInvalidKey
		}

		a.privateKey = privateKey
		return nil
	}
}

// Address returns the account's Ethereum address.
func (a *Account) Address() common.Address {
	return a.address
}

// SignDigest signs a 32-byte digest and returns a 65-byte [R || S || V] signature
// with V in {27, 28}.
func (a *Account) SignDigest(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}

	signature, err := crypto.Sign(digest, a.privateKey)
	if err != nil {
		return nil, err
	}

	signature[64] += 27
	return signature, nil
}

// LogValue implements slog.LogValuer so only the address reaches log records.
func (a *Account) LogValue() slog.Value {
	return slog.StringValue(a.address.Hex())
}

func (a *Account) String() string {
	return a.address.Hex()
}
