package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/mark3labs/x402-agentpay"
)

// primaryType is the EIP-3009 struct name; its field list below is part of the
// verifier's hash contract and must not be reordered.
const primaryType = "TransferWithAuthorization"

var authorizationTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	primaryType: []apitypes.Type{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// SignedAuthorization is an authorization plus its 65-byte recoverable signature.
type SignedAuthorization struct {
	Authorization *Authorization
	Signature     []byte
}

// SignatureHex returns the 0x-prefixed signature.
func (s *SignedAuthorization) SignatureHex() string {
	return hexutil.Encode(s.Signature)
}

// TypedData returns the EIP-712 typed data for auth under domain.
func TypedData(domain x402.Domain, auth *Authorization) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       authorizationTypes,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name(),
			Version:           domain.Version(),
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID()),
			VerifyingContract: common.HexToAddress(domain.VerifyingContract()).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.Value),
			"validAfter":  (*math.HexOrDecimal256)(auth.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.ValidBefore),
			"nonce":       auth.Nonce.Hex(),
		},
	}
}

// HashAuthorization computes keccak256("\x19\x01" || domainSeparator || hashStruct(auth)).
func HashAuthorization(domain x402.Domain, auth *Authorization) ([]byte, error) {
	if domain.IsZero() {
		return nil, x402.ErrInvalidDomain
	}
	if auth == nil || auth.Value == nil || auth.ValidAfter == nil || auth.ValidBefore == nil {
		return nil, fmt.Errorf("%w: incomplete authorization", x402.ErrMalformedHeader)
	}

	digest, _, err := apitypes.TypedDataAndHash(TypedData(domain, auth))
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return digest, nil
}

// SignAuthorization signs auth with keys and, before returning, recovers the
// signer from the signature and compares it with both keys.Address() and
// auth.From. Any mismatch is a signature_error and no signature is returned.
func SignAuthorization(keys KeySigner, domain x402.Domain, auth *Authorization) (*SignedAuthorization, error) {
	digest, err := HashAuthorization(domain, auth)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to hash authorization", err)
	}

	signature, err := keys.SignDigest(digest)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to sign authorization", err)
	}

	recovered, err := recoverAddress(digest, signature)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSignature, "signature is not recoverable", err)
	}
	if recovered != keys.Address() || recovered != auth.From {
		return nil, x402.NewPaymentError(x402.ErrCodeSignature, "recovered signer does not match account", x402.ErrSignatureMismatch).
			WithDetails("expected", keys.Address().Hex()).
			WithDetails("recovered", recovered.Hex())
	}

	return &SignedAuthorization{Authorization: auth, Signature: signature}, nil
}

// SignAuthorization signs auth under domain with the account's key.
func (a *Account) SignAuthorization(domain x402.Domain, auth *Authorization) (*SignedAuthorization, error) {
	return SignAuthorization(a, domain, auth)
}

// RecoverAuthorizer returns the address that produced signature over auth under domain.
func RecoverAuthorizer(domain x402.Domain, auth *Authorization, signature []byte) (common.Address, error) {
	digest, err := HashAuthorization(domain, auth)
	if err != nil {
		return common.Address{}, err
	}
	return recoverAddress(digest, signature)
}

// VerifyAuthorization checks that signed was produced by its authorization's From address.
func VerifyAuthorization(domain x402.Domain, signed *SignedAuthorization) error {
	recovered, err := RecoverAuthorizer(domain, signed.Authorization, signed.Signature)
	if err != nil {
		return err
	}
	if recovered != signed.Authorization.From {
		return x402.ErrSignatureMismatch
	}
	return nil
}

// DecodeSignature parses a 0x-prefixed 65-byte signature.
func DecodeSignature(s string) ([]byte, error) {
	signature, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrMalformedHeader, err)
	}
	if len(signature) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: signature must be %d bytes", x402.ErrMalformedHeader, crypto.SignatureLength)
	}
	return signature, nil
}

func recoverAddress(digest, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(signature))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
