// Package config loads the agent and demo server configuration from YAML and
// X402_* environment variables and builds the components it describes.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mark3labs/x402-agentpay"
	"github.com/mark3labs/x402-agentpay/agent"
	x402http "github.com/mark3labs/x402-agentpay/http"
	"github.com/mark3labs/x402-agentpay/transcript"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "X402_"

// Config is the complete runtime configuration.
type Config struct {
	Network  string `yaml:"network"`
	Endpoint string `yaml:"endpoint"`
	Payee    string `yaml:"payee"`

	// Amount is the demo price in atomic units.
	Amount string `yaml:"amount"`

	// Asset is the token symbol; only USDC is supported.
	Asset string `yaml:"asset"`

	// Exactly one key source must be set.
	PrivateKey       string `yaml:"private_key"`
	Keystore         string `yaml:"keystore"`
	KeystorePassword string `yaml:"keystore_password"`
	Mnemonic         string `yaml:"mnemonic"`
	AccountIndex     uint32 `yaml:"account_index"`

	// MaxAmountPerCall caps a single payment in atomic units.
	MaxAmountPerCall string `yaml:"max_amount_per_call"`

	Keywords   []string      `yaml:"keywords"`
	Lookback   int           `yaml:"lookback"`
	PromptTTL  time.Duration `yaml:"prompt_ttl"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// UseChallenge quotes terms from the endpoint's 402 response instead of
	// Payee and Amount.
	UseChallenge bool `yaml:"use_challenge"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the demo configuration: 0.001 USDC on base-sepolia.
func Default() *Config {
	return &Config{
		Network:    x402.BaseSepolia.NetworkID,
		Endpoint:   "http://localhost:8080/weather",
		Amount:     strconv.Itoa(agent.DemoAmount),
		Asset:      "USDC",
		Lookback:   transcript.DefaultLookback,
		Timeout:    x402http.DefaultTimeout,
		MaxRetries: 2,
	}
}

// Load reads the configuration with Read and validates it for the agent.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read reads path, when non-empty, over the defaults and applies environment
// overrides without validating.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, configError("failed to read config file", err).WithDetails("path", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, configError("failed to parse config file", err).WithDetails("path", path)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from X402_<FIELD> variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("NETWORK", &c.Network)
	str("ENDPOINT", &c.Endpoint)
	str("PAYEE", &c.Payee)
	str("AMOUNT", &c.Amount)
	str("ASSET", &c.Asset)
	str("PRIVATE_KEY", &c.PrivateKey)
	str("KEYSTORE", &c.Keystore)
	str("KEYSTORE_PASSWORD", &c.KeystorePassword)
	str("MNEMONIC", &c.Mnemonic)
	str("MAX_AMOUNT_PER_CALL", &c.MaxAmountPerCall)
	str("REDIS_ADDR", &c.RedisAddr)
	str("REDIS_PASSWORD", &c.RedisPassword)
	str("METRICS_ADDR", &c.MetricsAddr)
	integer("LOOKBACK", &c.Lookback)
	integer("MAX_RETRIES", &c.MaxRetries)
	integer("REDIS_DB", &c.RedisDB)
	duration("PROMPT_TTL", &c.PromptTTL)
	duration("TIMEOUT", &c.Timeout)

	if v, ok := lookup(EnvPrefix + "ACCOUNT_INDEX"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sACCOUNT_INDEX: %w", EnvPrefix, err))
		} else {
			c.AccountIndex = uint32(n)
		}
	}
	if v, ok := lookup(EnvPrefix + "USE_CHALLENGE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sUSE_CHALLENGE: %w", EnvPrefix, err))
		} else {
			c.UseChallenge = b
		}
	}
	if v, ok := lookup(EnvPrefix + "KEYWORDS"); ok {
		c.Keywords = nil
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				c.Keywords = append(c.Keywords, k)
			}
		}
	}

	if len(errs) > 0 {
		return configError("invalid environment override", errors.Join(errs...))
	}
	return nil
}

// String omits key material.
func (c *Config) String() string {
	return fmt.Sprintf("network=%s endpoint=%s payee=%s amount=%s challenge=%t redis=%t",
		c.Network, c.Endpoint, c.Payee, c.Amount, c.UseChallenge, c.RedisAddr != "")
}

func configError(message string, err error) *x402.PaymentError {
	if err == nil {
		err = x402.ErrMissingConfig
	}
	return x402.NewPaymentError(x402.ErrCodeConfig, message, err)
}
