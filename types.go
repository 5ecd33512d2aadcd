package x402

import (
	"encoding/json"
	"math/big"

	"github.com/shopspring/decimal"
)

// ProtocolVersion is the x402 protocol version carried in every payload.
const ProtocolVersion = 1

// SchemeExact is the only payment scheme this module signs for.
const SchemeExact = "exact"

// PaymentHeader is the request header carrying the encoded payment payload.
const PaymentHeader = "X-PAYMENT"

// PaymentResponseHeader is the response header carrying the encoded settlement.
const PaymentResponseHeader = "X-PAYMENT-RESPONSE"

// PaymentRequirement represents a single payment option from a 402 response.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier (e.g., "base-sepolia").
	Network string `json:"network"`

	// MaxAmountRequired is the payment amount in atomic units.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the token contract address.
	Asset string `json:"asset"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// Resource is the URL of the protected resource.
	Resource string `json:"resource"`

	// Description is an optional human-readable payment description.
	Description string `json:"description"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType"`

	// MaxTimeoutSeconds is the validity period the server accepts for an authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Extra contains scheme-specific additional data such as the EIP-712 domain name and version.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequirementsResponse represents the complete 402 response body.
type PaymentRequirementsResponse struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Error is a human-readable error message.
	Error string `json:"error"`

	// InvalidReason is a machine-readable rejection reason for a payment that was presented.
	InvalidReason string `json:"invalidReason,omitempty"`

	// Accepts is an array of payment options the server will accept.
	Accepts []PaymentRequirement `json:"accepts"`
}

// PaymentPayload represents a signed payment that will be sent to the server.
type PaymentPayload struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier.
	Network string `json:"network"`

	// Payload contains the signature and the transfer authorization it covers.
	Payload EVMPayload `json:"payload"`
}

// EVMPayload represents an EVM payment with EIP-3009 authorization.
type EVMPayload struct {
	// Signature is the hex-encoded recoverable ECDSA signature.
	Signature string `json:"signature"`

	// Authorization contains the EIP-3009 transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization represents EIP-3009 transferWithAuthorization parameters.
// Numeric fields are decimal strings so no precision is lost on the wire.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte hex string to prevent replay attacks.
	Nonce string `json:"nonce"`
}

// SettlementResponse represents the server's response after payment settlement.
type SettlementResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
}

// Outcome is the terminal result of one transport attempt.
type Outcome struct {
	// Success is true only for an HTTP 200 response.
	Success bool `json:"success"`

	// Paid reports whether the request carried a payment header.
	Paid bool `json:"paid"`

	// Status is the HTTP status code, zero when no response was received.
	Status int `json:"status,omitempty"`

	// Data is the response body of a successful request.
	Data json.RawMessage `json:"data,omitempty"`

	// Error and InvalidReason are copied verbatim from a non-200 body.
	Error         string `json:"error,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`

	// Settlement is decoded from the X-PAYMENT-RESPONSE header when present.
	Settlement *SettlementResponse `json:"settlement,omitempty"`
}

// Terms are the payment terms shown to the user and used to build an authorization.
type Terms struct {
	Network string
	Scheme  string

	// Asset is the token contract address; Symbol and Decimals describe it for display.
	Asset    string
	Symbol   string
	Decimals int

	// Amount is in the token's smallest unit.
	Amount *big.Int

	PayTo    string
	Resource string

	// Domain is the EIP-712 domain of the token contract.
	Domain Domain
}

// DisplayAmount renders Amount in whole-token units, e.g. 1000 with 6 decimals is "0.001".
func (t Terms) DisplayAmount() string {
	return BigIntToAmount(t.Amount, t.Decimals)
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic units.
// For example, "1.5" with 6 decimals becomes 1500000.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, ErrInvalidAmount
	}

	shifted := value.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, ErrInvalidAmount
	}
	return shifted.BigInt(), nil
}

// BigIntToAmount converts a *big.Int in atomic units to a decimal string with
// trailing zeros removed. For example, 1500000 with 6 decimals becomes "1.5".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}
