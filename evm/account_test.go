package evm

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mark3labs/x402-agentpay"
)

// Well-known development key (DO NOT use in production)
const testPrivateKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func TestNewAccount(t *testing.T) {
	tests := []struct {
		name    string
		opts    []AccountOption
		wantErr error
	}{
		{"hex key", []AccountOption{WithPrivateKey(testPrivateKeyHex)}, nil},
		{"0x prefixed key", []AccountOption{WithPrivateKey("0x" + testPrivateKeyHex)}, nil},
		{"invalid key", []AccountOption{WithPrivateKey("not-a-key")}, x402.ErrInvalidKey},
		{"no key", nil, x402.ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account, err := NewAccount(tt.opts...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if account.Address() != testAddress {
				t.Errorf("address = %s, want %s", account.Address().Hex(), testAddress.Hex())
			}
		})
	}
}

func TestAccount_SignDigest(t *testing.T) {
	account, err := NewAccount(WithPrivateKey(testPrivateKeyHex))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	digest := crypto.Keccak256([]byte("digest"))
	sig, err := account.SignDigest(digest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("v = %d, want 27 or 28", sig[64])
	}

	recovered, err := recoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != testAddress {
		t.Errorf("recovered %s, want %s", recovered.Hex(), testAddress.Hex())
	}

	if _, err := account.SignDigest([]byte("short")); err == nil {
		t.Error("expected error for non-32-byte digest")
	}
}

func TestAccount_LogValueHidesKey(t *testing.T) {
	account, err := NewAccount(WithPrivateKey(testPrivateKeyHex))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("signing", "account", account)

	out := buf.String()
	if strings.Contains(strings.ToLower(out), testPrivateKeyHex) {
		t.Fatal("private key leaked into log output")
	}
	if !strings.Contains(out, testAddress.Hex()) {
		t.Errorf("expected address in log output, got %s", out)
	}
}
