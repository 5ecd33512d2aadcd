package x402

import (
	"errors"
	"fmt"
)

var (
	// ErrNoValidSigner indicates no configured signer can satisfy the payment requirements.
	ErrNoValidSigner = errors.New("x402: no signer can satisfy payment requirements")

	// ErrAmountExceeded indicates the payment amount exceeds the per-call limit.
	ErrAmountExceeded = errors.New("x402: payment amount exceeds per-call limit")

	// ErrInvalidRequirements indicates the server's payment requirements are invalid.
	ErrInvalidRequirements = errors.New("x402: invalid payment requirements")

	// ErrSigningFailed indicates the signature could not be produced.
	ErrSigningFailed = errors.New("x402: payment signing failed")

	// ErrSignatureMismatch indicates the recovered signer differs from the account address.
	ErrSignatureMismatch = errors.New("x402: recovered signer does not match account")

	// ErrNetworkError indicates a transport-level failure.
	ErrNetworkError = errors.New("x402: network error during payment")

	// ErrPaymentRejected indicates the resource server answered with a non-200 status.
	ErrPaymentRejected = errors.New("x402: payment rejected by server")

	// ErrInvalidAmount indicates a zero, negative or malformed amount.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidKey indicates the private key could not be parsed.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrInvalidNetwork indicates an unknown or unsupported network.
	ErrInvalidNetwork = errors.New("x402: invalid or unsupported network")

	// ErrInvalidDomain indicates an incomplete EIP-712 domain.
	ErrInvalidDomain = errors.New("x402: invalid signing domain")

	// ErrInvalidKeystore indicates the keystore file could not be read or decrypted.
	ErrInvalidKeystore = errors.New("x402: invalid keystore file")

	// ErrInvalidMnemonic indicates an invalid BIP-39 phrase.
	ErrInvalidMnemonic = errors.New("x402: invalid mnemonic phrase")

	// ErrMissingConfig indicates a required configuration value is absent.
	ErrMissingConfig = errors.New("x402: missing configuration")

	// ErrMalformedHeader indicates that the X-PAYMENT header is malformed.
	ErrMalformedHeader = errors.New("x402: malformed payment header")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("x402: unsupported protocol version")

	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("x402: unsupported payment scheme")

	// ErrNoApprovalContext indicates an approval arrived without a pending payment prompt.
	ErrNoApprovalContext = errors.New("x402: no pending payment prompt")

	// ErrPipelineBusy indicates a payment for the session is still in flight.
	ErrPipelineBusy = errors.New("x402: payment already in progress")

	// ErrPromptSuperseded indicates the prompt being approved was replaced by a newer one.
	ErrPromptSuperseded = errors.New("x402: payment prompt superseded")
)

// ErrorCode classifies a PaymentError.
type ErrorCode string

const (
	ErrCodeConfig              ErrorCode = "config_error"
	ErrCodeInvalidAmount       ErrorCode = "invalid_amount"
	ErrCodeSignature           ErrorCode = "signature_error"
	ErrCodeTransport           ErrorCode = "transport_error"
	ErrCodeProtocol            ErrorCode = "protocol_error"
	ErrCodeState               ErrorCode = "state_error"
	ErrCodeNoValidSigner       ErrorCode = "no_valid_signer"
	ErrCodeInvalidRequirements ErrorCode = "invalid_requirements"
	ErrCodeSigningFailed       ErrorCode = "signing_failed"
)

// PaymentError carries a code, a human-readable message and optional details.
type PaymentError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]interface{}
}

// NewPaymentError creates a PaymentError with an initialized Details map.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// WithDetails sets a detail value and returns the same error for chaining.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the first PaymentError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsRetryable reports whether err is a transport failure. Protocol rejections are
// terminal for the authorization that produced them.
func IsRetryable(err error) bool {
	return CodeOf(err) == ErrCodeTransport
}
