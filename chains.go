// Package x402 holds the shared data model for agent-side x402 payments: payment
// requirements and payloads, the EIP-712 signing domain, supported chains and the
// error taxonomy used by the signing, transport and approval packages.
package x402

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

var evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ChainConfig contains chain-specific configuration for USDC and its EIP-712 domain.
type ChainConfig struct {
	// NetworkID is the x402 protocol network identifier (e.g., "base").
	NetworkID string

	// ChainID is the EIP-155 chain id.
	ChainID int64

	// USDCAddress is the official Circle USDC contract address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals uint8

	// EIP3009Name and EIP3009Version are the token's declared EIP-712 domain name and version.
	EIP3009Name    string
	EIP3009Version string
}

// Mainnet chain configurations
var (
	BaseMainnet = ChainConfig{
		NetworkID:      "base",
		ChainID:        8453,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	PolygonMainnet = ChainConfig{
		NetworkID:      "polygon",
		ChainID:        137,
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	AvalancheMainnet = ChainConfig{
		NetworkID:      "avalanche",
		ChainID:        43114,
		USDCAddress:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

// Testnet chain configurations
var (
	// BaseSepolia USDC declares "USDC" rather than "USD Coin" as its domain name.
	BaseSepolia = ChainConfig{
		NetworkID:      "base-sepolia",
		ChainID:        84532,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	PolygonAmoy = ChainConfig{
		NetworkID:      "polygon-amoy",
		ChainID:        80002,
		USDCAddress:    "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	AvalancheFuji = ChainConfig{
		NetworkID:      "avalanche-fuji",
		ChainID:        43113,
		USDCAddress:    "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

var chains = map[string]ChainConfig{
	BaseMainnet.NetworkID:      BaseMainnet,
	PolygonMainnet.NetworkID:   PolygonMainnet,
	AvalancheMainnet.NetworkID: AvalancheMainnet,
	BaseSepolia.NetworkID:      BaseSepolia,
	PolygonAmoy.NetworkID:      PolygonAmoy,
	AvalancheFuji.NetworkID:    AvalancheFuji,
}

// ChainByNetwork returns the chain configuration for a network identifier.
func ChainByNetwork(networkID string) (ChainConfig, error) {
	if networkID == "" {
		return ChainConfig{}, fmt.Errorf("%w: network cannot be empty", ErrInvalidNetwork)
	}
	chain, ok := chains[networkID]
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w: %s", ErrInvalidNetwork, networkID)
	}
	return chain, nil
}

// USDCDomain returns the EIP-712 domain of the chain's USDC contract.
func (c ChainConfig) USDCDomain() (Domain, error) {
	return NewDomain(c.EIP3009Name, c.EIP3009Version, big.NewInt(c.ChainID), c.USDCAddress)
}

// IsEVMAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsEVMAddress(s string) bool {
	return evmAddressRegex.MatchString(s)
}

// Domain is the EIP-712 domain separator input {name, version, chainId, verifyingContract}.
// Its fields are only set together by NewDomain, so a Domain can never be partially overridden.
type Domain struct {
	name              string
	version           string
	chainID           *big.Int
	verifyingContract string
}

// NewDomain validates and builds a Domain.
func NewDomain(name, version string, chainID *big.Int, verifyingContract string) (Domain, error) {
	switch {
	case name == "":
		return Domain{}, fmt.Errorf("%w: name cannot be empty", ErrInvalidDomain)
	case version == "":
		return Domain{}, fmt.Errorf("%w: version cannot be empty", ErrInvalidDomain)
	case chainID == nil || chainID.Sign() <= 0:
		return Domain{}, fmt.Errorf("%w: chain id must be positive", ErrInvalidDomain)
	case !IsEVMAddress(verifyingContract):
		return Domain{}, fmt.Errorf("%w: verifying contract %q is not an address", ErrInvalidDomain, verifyingContract)
	}
	return Domain{
		name:              name,
		version:           version,
		chainID:           new(big.Int).Set(chainID),
		verifyingContract: verifyingContract,
	}, nil
}

func (d Domain) Name() string    { return d.name }
func (d Domain) Version() string { return d.version }

// ChainID returns a copy of the domain's chain id.
func (d Domain) ChainID() *big.Int {
	if d.chainID == nil {
		return nil
	}
	return new(big.Int).Set(d.chainID)
}

func (d Domain) VerifyingContract() string { return d.verifyingContract }

// IsZero reports whether d was not built by NewDomain.
func (d Domain) IsZero() bool {
	return d.chainID == nil
}

// Equal compares all four domain fields; contract addresses compare case-insensitively.
func (d Domain) Equal(o Domain) bool {
	if d.IsZero() || o.IsZero() {
		return d.IsZero() == o.IsZero()
	}
	return d.name == o.name &&
		d.version == o.version &&
		d.chainID.Cmp(o.chainID) == 0 &&
		strings.EqualFold(d.verifyingContract, o.verifyingContract)
}

// TermsFromRequirement converts a server-issued requirement into payment terms.
// The domain name and version come from the requirement's extra field when the
// server supplies both; otherwise the chain's USDC domain values are used. The
// verifying contract is always the requirement's asset.
func TermsFromRequirement(req PaymentRequirement) (Terms, error) {
	chain, err := ChainByNetwork(req.Network)
	if err != nil {
		return Terms{}, NewPaymentError(ErrCodeInvalidRequirements, "unsupported network in requirements", err)
	}

	amount, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok || amount.Sign() <= 0 {
		return Terms{}, NewPaymentError(ErrCodeInvalidAmount, "invalid amount in requirements", ErrInvalidAmount).
			WithDetails("amount", req.MaxAmountRequired)
	}
	if !IsEVMAddress(req.PayTo) {
		return Terms{}, NewPaymentError(ErrCodeInvalidRequirements, "invalid payTo in requirements", ErrInvalidRequirements).
			WithDetails("payTo", req.PayTo)
	}

	name, version := chain.EIP3009Name, chain.EIP3009Version
	if req.Extra != nil {
		extraName, _ := req.Extra["name"].(string)
		extraVersion, _ := req.Extra["version"].(string)
		if extraName != "" && extraVersion != "" {
			name, version = extraName, extraVersion
		}
	}

	domain, err := NewDomain(name, version, big.NewInt(chain.ChainID), req.Asset)
	if err != nil {
		return Terms{}, NewPaymentError(ErrCodeInvalidRequirements, "invalid signing domain in requirements", err)
	}

	symbol, decimals := "USDC", int(chain.Decimals)
	if !strings.EqualFold(req.Asset, chain.USDCAddress) {
		symbol = "tokens"
		if s, ok := req.Extra["symbol"].(string); ok && s != "" {
			symbol = s
		}
		if d, ok := req.Extra["decimals"].(float64); ok {
			decimals = int(d)
		}
	}

	scheme := req.Scheme
	if scheme == "" {
		scheme = SchemeExact
	}

	return Terms{
		Network:  req.Network,
		Scheme:   scheme,
		Asset:    req.Asset,
		Symbol:   symbol,
		Decimals: decimals,
		Amount:   amount,
		PayTo:    req.PayTo,
		Resource: req.Resource,
		Domain:   domain,
	}, nil
}
