package config

import (
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/mark3labs/x402-agentpay"
)

// Validate checks the configuration. Every failure is a config_error.
func (c *Config) Validate() error {
	if _, err := x402.ChainByNetwork(c.Network); err != nil {
		return configError("unsupported network", err).WithDetails("network", c.Network)
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return configError("endpoint must be an absolute http(s) URL", err).WithDetails("endpoint", c.Endpoint)
	}

	sources := 0
	for _, s := range []string{c.PrivateKey, c.Keystore, c.Mnemonic} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		return configError("exactly one of private_key, keystore or mnemonic is required", nil).
			WithDetails("sources", sources)
	}

	if !c.UseChallenge {
		if err := ValidateAddress(c.Payee); err != nil {
			return configError("invalid payee", err)
		}
		if err := ValidateAmount(c.Amount); err != nil {
			return configError("invalid amount", err)
		}
	}
	if c.Asset != "" && !strings.EqualFold(c.Asset, "USDC") {
		return configError("only USDC is supported", nil).WithDetails("asset", c.Asset)
	}
	if c.MaxAmountPerCall != "" {
		if err := ValidateAmount(c.MaxAmountPerCall); err != nil {
			return configError("invalid max_amount_per_call", err)
		}
	}

	switch {
	case c.Lookback <= 0:
		return configError("lookback must be positive", nil).WithDetails("lookback", c.Lookback)
	case c.Timeout <= 0:
		return configError("timeout must be positive", nil).WithDetails("timeout", c.Timeout.String())
	case c.MaxRetries < 0:
		return configError("max_retries cannot be negative", nil).WithDetails("max_retries", c.MaxRetries)
	case c.PromptTTL < 0:
		return configError("prompt_ttl cannot be negative", nil).WithDetails("prompt_ttl", c.PromptTTL.String())
	}

	return nil
}

// ValidateAmount checks that amount is a positive integer in atomic units.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount format: %s", amount)
	}
	if amt.Sign() <= 0 {
		return fmt.Errorf("amount must be greater than 0, got: %s", amount)
	}
	return nil
}

// ValidateAddress checks for a 0x-prefixed 20-byte hex address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !x402.IsEVMAddress(address) {
		return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
	}
	return nil
}

// ValidatePaymentRequirement checks a requirement a paywall will advertise.
func ValidatePaymentRequirement(req x402.PaymentRequirement) error {
	if err := ValidateAmount(req.MaxAmountRequired); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}
	if _, err := x402.ChainByNetwork(req.Network); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}
	if err := ValidateAddress(req.PayTo); err != nil {
		return fmt.Errorf("invalid requirement: payTo %w", err)
	}
	if err := ValidateAddress(req.Asset); err != nil {
		return fmt.Errorf("invalid requirement: asset %w", err)
	}
	if req.Scheme != x402.SchemeExact {
		return fmt.Errorf("invalid requirement: unsupported scheme %q", req.Scheme)
	}
	if req.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("invalid requirement: timeout cannot be negative: %d", req.MaxTimeoutSeconds)
	}

	if req.Extra != nil {
		if name, ok := req.Extra["name"].(string); ok && name == "" {
			return fmt.Errorf("invalid requirement: EIP-3009 name cannot be empty")
		}
		if version, ok := req.Extra["version"].(string); ok && version == "" {
			return fmt.Errorf("invalid requirement: EIP-3009 version cannot be empty")
		}
	}
	return nil
}
