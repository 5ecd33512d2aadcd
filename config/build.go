package config

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/mark3labs/x402-agentpay"
	"github.com/mark3labs/x402-agentpay/agent"
	"github.com/mark3labs/x402-agentpay/evm"
	"github.com/mark3labs/x402-agentpay/gate"
	x402http "github.com/mark3labs/x402-agentpay/http"
	"github.com/mark3labs/x402-agentpay/metrics"
	"github.com/mark3labs/x402-agentpay/transcript"
)

// Account loads the configured key source.
func (c *Config) Account() (*evm.Account, error) {
	var opt evm.AccountOption
	switch {
	case c.PrivateKey != "":
		opt = evm.WithPrivateKey(c.PrivateKey)
	case c.Keystore != "":
		opt = evm.WithKeystore(c.Keystore, c.KeystorePassword)
	case c.Mnemonic != "":
		opt = evm.WithMnemonic(c.Mnemonic, c.AccountIndex)
	default:
		return nil, configError("no key source configured", nil)
	}

	account, err := evm.NewAccount(opt)
	if err != nil {
		return nil, configError("failed to load account", err)
	}
	return account, nil
}

// Signer builds the payment signer for the configured network.
func (c *Config) Signer() (*evm.Signer, error) {
	account, err := c.Account()
	if err != nil {
		return nil, err
	}

	opts := []evm.SignerOption{evm.WithAccount(account), evm.WithNetwork(c.Network)}
	if c.MaxAmountPerCall != "" {
		opts = append(opts, evm.WithMaxAmountPerCall(c.MaxAmountPerCall))
	}
	signer, err := evm.NewSigner(opts...)
	if err != nil {
		return nil, configError("failed to create signer", err)
	}
	return signer, nil
}

// Transport builds the HTTP transport.
func (c *Config) Transport(logger *slog.Logger) (*x402http.Client, error) {
	return x402http.NewClient(
		x402http.WithTimeout(c.Timeout),
		x402http.WithMaxRetries(c.MaxRetries),
		x402http.WithLogger(logger),
	)
}

// Terms builds the terms provider: the endpoint's own challenge when
// UseChallenge is set, fixed USDC terms otherwise.
func (c *Config) Terms(client agent.Challenger, signer x402.Signer) (agent.TermsProvider, error) {
	if c.UseChallenge {
		return agent.NewChallengeTerms(client, c.Endpoint, signer), nil
	}
	amount, ok := new(big.Int).SetString(c.Amount, 10)
	if !ok {
		return nil, configError("invalid amount", x402.ErrInvalidAmount).WithDetails("amount", c.Amount)
	}
	return agent.NewStaticTerms(c.Network, c.Payee, amount)
}

// Store returns a Redis transcript store when redis_addr is set and reachable,
// and an in-memory store otherwise.
func (c *Config) Store(ctx context.Context) (transcript.Store, error) {
	if c.RedisAddr == "" {
		return transcript.NewMemoryStore(transcript.DefaultRetention), nil
	}
	store := transcript.NewRedisStoreFromAddr(c.RedisAddr, c.RedisPassword, c.RedisDB)
	if err := store.Ping(ctx); err != nil {
		return nil, configError("redis unavailable", err).WithDetails("addr", c.RedisAddr)
	}
	return store, nil
}

// Engine builds the payment pipeline.
func (c *Config) Engine(logger *slog.Logger, m *metrics.Collectors) (*agent.Engine, error) {
	signer, err := c.Signer()
	if err != nil {
		return nil, err
	}
	client, err := c.Transport(logger)
	if err != nil {
		return nil, err
	}
	terms, err := c.Terms(client, signer)
	if err != nil {
		return nil, err
	}

	return agent.New(
		agent.WithSigner(signer),
		agent.WithTransport(client),
		agent.WithEndpoint(c.Endpoint),
		agent.WithTerms(terms),
		agent.WithLogger(logger),
		agent.WithMetrics(m),
	)
}

// Gate builds the approval gate over pipeline.
func (c *Config) Gate(pipeline gate.Pipeline, store transcript.Store, logger *slog.Logger, m *metrics.Collectors) (*gate.Gate, error) {
	var keywords []string
	if len(c.Keywords) > 0 {
		keywords = c.Keywords
	}
	return gate.New(pipeline,
		gate.WithClassifier(gate.NewKeywordClassifier(keywords)),
		gate.WithStore(store),
		gate.WithLookback(c.Lookback),
		gate.WithPromptTTL(c.PromptTTL),
		gate.WithLogger(logger),
		gate.WithMetrics(m),
	)
}

// Requirement is the payment requirement the demo paywall advertises. The
// resource is filled in per request.
func (c *Config) Requirement() (x402.PaymentRequirement, error) {
	chain, err := x402.ChainByNetwork(c.Network)
	if err != nil {
		return x402.PaymentRequirement{}, configError("unsupported network", err)
	}

	req := x402.PaymentRequirement{
		Scheme:            x402.SchemeExact,
		Network:           chain.NetworkID,
		MaxAmountRequired: c.Amount,
		Asset:             chain.USDCAddress,
		PayTo:             c.Payee,
		Description:       "Weather forecast",
		MimeType:          "application/json",
		MaxTimeoutSeconds: 60,
		Extra: map[string]interface{}{
			"name":    chain.EIP3009Name,
			"version": chain.EIP3009Version,
		},
	}
	if err := ValidatePaymentRequirement(req); err != nil {
		return x402.PaymentRequirement{}, configError("invalid payment requirement", err)
	}
	return req, nil
}
