package x402

import (
	"context"
	"math/big"
)

// Signer produces signed payment payloads for a specific network.
type Signer interface {
	// Network returns the blockchain network identifier (e.g., "base-sepolia").
	Network() string

	// Scheme returns the payment scheme identifier (currently "exact").
	Scheme() string

	// Address returns the payer address.
	Address() string

	// CanSign checks if this signer can satisfy the given payment requirements.
	CanSign(requirements *PaymentRequirement) bool

	// Sign builds a fresh authorization for the terms, signs it and verifies the
	// signature locally before returning. A payload is never reused.
	Sign(ctx context.Context, terms Terms) (*PaymentPayload, error)

	// GetPriority returns the signer's priority level.
	// Lower numbers indicate higher priority (1 > 2 > 3).
	GetPriority() int

	// GetMaxAmount returns the per-call spending limit, or nil if no limit is set.
	GetMaxAmount() *big.Int
}
