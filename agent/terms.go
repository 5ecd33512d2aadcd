package agent

import (
	"context"
	"math/big"

	"github.com/mark3labs/x402-agentpay"
)

// DemoAmount is the fixed demo price: 1000 atomic units, 0.001 USDC.
const DemoAmount = 1000

// StaticTerms quotes the same terms on every call.
type StaticTerms struct {
	terms x402.Terms
}

// NewStaticTerms builds terms for paying amount of the network's USDC to payTo.
func NewStaticTerms(network, payTo string, amount *big.Int) (*StaticTerms, error) {
	chain, err := x402.ChainByNetwork(network)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeConfig, "unsupported network", err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidAmount, "amount must be positive", x402.ErrInvalidAmount)
	}
	if !x402.IsEVMAddress(payTo) {
		return nil, x402.NewPaymentError(x402.ErrCodeConfig, "invalid payee address", x402.ErrMissingConfig).
			WithDetails("payTo", payTo)
	}
	domain, err := chain.USDCDomain()
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeConfig, "invalid signing domain", err)
	}

	return &StaticTerms{terms: x402.Terms{
		Network:  network,
		Scheme:   x402.SchemeExact,
		Asset:    chain.USDCAddress,
		Symbol:   "USDC",
		Decimals: int(chain.Decimals),
		Amount:   new(big.Int).Set(amount),
		PayTo:    payTo,
		Domain:   domain,
	}}, nil
}

// Terms implements TermsProvider. The returned amount is a copy.
func (s *StaticTerms) Terms(ctx context.Context) (x402.Terms, error) {
	t := s.terms
	t.Amount = new(big.Int).Set(s.terms.Amount)
	return t, nil
}

// Challenger fetches the payment requirements an endpoint advertises.
// *http.Client satisfies it.
type Challenger interface {
	FetchRequirements(ctx context.Context, endpoint string) (*x402.PaymentRequirementsResponse, error)
}

// ChallengeTerms quotes whatever the endpoint asks for in its 402 response,
// picking the first requirement one of the signers can pay.
type ChallengeTerms struct {
	client   Challenger
	endpoint string
	signers  []x402.Signer
	selector x402.RequirementSelector
}

// NewChallengeTerms creates a provider probing endpoint.
func NewChallengeTerms(client Challenger, endpoint string, signers ...x402.Signer) *ChallengeTerms {
	return &ChallengeTerms{
		client:   client,
		endpoint: endpoint,
		signers:  signers,
		selector: x402.NewDefaultRequirementSelector(),
	}
}

// Terms implements TermsProvider.
func (c *ChallengeTerms) Terms(ctx context.Context) (x402.Terms, error) {
	challenge, err := c.client.FetchRequirements(ctx, c.endpoint)
	if err != nil {
		return x402.Terms{}, err
	}

	requirement, _, err := c.selector.Select(challenge.Accepts, c.signers)
	if err != nil {
		return x402.Terms{}, err
	}
	return x402.TermsFromRequirement(*requirement)
}
