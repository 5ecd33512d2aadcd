package x402

import (
	"math/big"
	"sort"
)

// RequirementSelector picks the requirement and signer to pay a 402 challenge with.
type RequirementSelector interface {
	Select(requirements []PaymentRequirement, signers []Signer) (*PaymentRequirement, Signer, error)
}

// DefaultRequirementSelector selects by:
// 1. Ability to satisfy the requirement (network, scheme and token match)
// 2. The signer's per-call limit
// 3. Signer priority (lower number = higher priority)
// 4. Requirement order, then configuration order (for ties)
type DefaultRequirementSelector struct{}

// NewDefaultRequirementSelector creates a new DefaultRequirementSelector.
func NewDefaultRequirementSelector() *DefaultRequirementSelector {
	return &DefaultRequirementSelector{}
}

type candidate struct {
	requirement *PaymentRequirement
	signer      Signer
	priority    int
	index       int
}

// Select implements RequirementSelector.
func (s *DefaultRequirementSelector) Select(requirements []PaymentRequirement, signers []Signer) (*PaymentRequirement, Signer, error) {
	if len(signers) == 0 {
		return nil, nil, NewPaymentError(ErrCodeNoValidSigner, "no signers configured", ErrNoValidSigner)
	}
	if len(requirements) == 0 {
		return nil, nil, NewPaymentError(ErrCodeInvalidRequirements, "no payment requirements", ErrInvalidRequirements)
	}

	var candidates []candidate
	for i := range requirements {
		req := &requirements[i]

		amount, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
		if !ok {
			continue
		}

		for _, signer := range signers {
			if !signer.CanSign(req) {
				continue
			}
			if limit := signer.GetMaxAmount(); limit != nil && amount.Cmp(limit) > 0 {
				continue
			}
			candidates = append(candidates, candidate{
				requirement: req,
				signer:      signer,
				priority:    signer.GetPriority(),
				index:       len(candidates),
			})
		}
	}

	if len(candidates) == 0 {
		first := requirements[0]
		return nil, nil, NewPaymentError(ErrCodeNoValidSigner, "no signer can satisfy requirements", ErrNoValidSigner).
			WithDetails("network", first.Network).
			WithDetails("asset", first.Asset).
			WithDetails("amount", first.MaxAmountRequired)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].index < candidates[j].index
	})

	return candidates[0].requirement, candidates[0].signer, nil
}
