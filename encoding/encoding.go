// Package encoding converts x402 payment payloads and settlement responses to and
// from their header form: standard base64 over compact UTF-8 JSON.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/x402-agentpay"
)

// EncodePayment converts a PaymentPayload to the X-PAYMENT header value.
// Numeric authorization fields are already decimal strings in the payload type,
// so the encoding is lossless.
func EncodePayment(payment x402.PaymentPayload) (string, error) {
	if payment.X402Version != x402.ProtocolVersion {
		return "", fmt.Errorf("%w: %d", x402.ErrUnsupportedVersion, payment.X402Version)
	}

	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(paymentJSON), nil
}

// DecodePayment parses an X-PAYMENT header value. It is the exact inverse of
// EncodePayment.
func DecodePayment(encoded string) (x402.PaymentPayload, error) {
	var payment x402.PaymentPayload

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return payment, fmt.Errorf("%w: invalid base64: %v", x402.ErrMalformedHeader, err)
	}

	if err := json.Unmarshal(decoded, &payment); err != nil {
		return payment, fmt.Errorf("%w: invalid JSON: %v", x402.ErrMalformedHeader, err)
	}

	if payment.X402Version != x402.ProtocolVersion {
		return payment, fmt.Errorf("%w: %d", x402.ErrUnsupportedVersion, payment.X402Version)
	}
	if payment.Scheme != x402.SchemeExact {
		return payment, fmt.Errorf("%w: %q", x402.ErrUnsupportedScheme, payment.Scheme)
	}

	return payment, nil
}

// EncodeSettlement converts a SettlementResponse to the X-PAYMENT-RESPONSE header value.
func EncodeSettlement(settlement x402.SettlementResponse) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// DecodeSettlement parses an X-PAYMENT-RESPONSE header value.
func DecodeSettlement(encoded string) (x402.SettlementResponse, error) {
	var settlement x402.SettlementResponse

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return settlement, fmt.Errorf("%w: invalid base64: %v", x402.ErrMalformedHeader, err)
	}

	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, fmt.Errorf("%w: invalid JSON: %v", x402.ErrMalformedHeader, err)
	}

	return settlement, nil
}
