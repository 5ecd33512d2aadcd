package evm

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/x402-agentpay"
)

func TestBuildAuthorization(t *testing.T) {
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	value := big.NewInt(1000)

	for _, unix := range []int64{1690000000, 1, 4102444800} {
		now := time.Unix(unix, 0)
		auth, err := BuildAuthorization(from, to, value, now, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if auth.From != from || auth.To != to {
			t.Errorf("from/to not preserved")
		}
		if auth.Value.Cmp(value) != 0 {
			t.Errorf("value = %s, want %s", auth.Value, value)
		}
		if auth.ValidAfter.Int64() != unix-600 {
			t.Errorf("validAfter = %s, want %d", auth.ValidAfter, unix-600)
		}
		if auth.ValidBefore.Int64() != unix+3600 {
			t.Errorf("validBefore = %s, want %d", auth.ValidBefore, unix+3600)
		}
		if !auth.ValidAt(now) {
			t.Errorf("authorization should be valid at construction time %d", unix)
		}
		if auth.Nonce == (common.Hash{}) {
			t.Error("expected nonce to be non-zero")
		}
	}
}

func TestBuildAuthorization_ValueIsCopied(t *testing.T) {
	value := big.NewInt(1000)
	auth, err := BuildAuthorization(common.Address{}, common.Address{}, value, time.Now(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	value.SetInt64(5)
	if auth.Value.Int64() != 1000 {
		t.Error("authorization must not alias the caller's value")
	}
}

func TestBuildAuthorization_InvalidAmount(t *testing.T) {
	for _, value := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		_, err := BuildAuthorization(common.Address{}, common.Address{}, value, time.Now(), nil)
		if x402.CodeOf(err) != x402.ErrCodeInvalidAmount {
			t.Errorf("value %v: expected invalid_amount, got %v", value, err)
		}
		if !errors.Is(err, x402.ErrInvalidAmount) {
			t.Errorf("value %v: expected ErrInvalidAmount in chain", value)
		}
	}
}

func TestBuildAuthorization_NonceFailure(t *testing.T) {
	failing := NonceFunc(func() (common.Hash, error) { return common.Hash{}, errors.New("entropy exhausted") })
	_, err := BuildAuthorization(common.Address{}, common.Address{}, big.NewInt(1), time.Now(), failing)
	if err == nil {
		t.Fatal("expected nonce failure to propagate")
	}
}

func TestValidAt(t *testing.T) {
	now := time.Unix(1690000000, 0)
	auth, err := BuildAuthorization(common.Address{}, common.Address{}, big.NewInt(1), now, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		at   int64
		want bool
	}{
		{1690000000 - 600, false},
		{1690000000 - 599, true},
		{1690000000 + 3600, true},
		{1690000000 + 3601, false},
	}
	for _, tt := range tests {
		if got := auth.ValidAt(time.Unix(tt.at, 0)); got != tt.want {
			t.Errorf("ValidAt(%d) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestRandomNonces_Entropy(t *testing.T) {
	const n = 10000
	seen := make(map[common.Hash]struct{}, n)
	for i := 0; i < n; i++ {
		nonce, err := RandomNonces.Nonce()
		if err != nil {
			t.Fatalf("failed to generate nonce: %v", err)
		}
		if len(nonce.Bytes()) != 32 {
			t.Fatalf("nonce length = %d, want 32", len(nonce.Bytes()))
		}
		if _, dup := seen[nonce]; dup {
			t.Fatalf("duplicate nonce after %d draws", i)
		}
		seen[nonce] = struct{}{}
	}
}

func TestAuthorizationWireRoundTrip(t *testing.T) {
	auth, err := BuildAuthorization(
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		big.NewInt(123456789),
		time.Unix(1690000000, 0),
		nil,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parsed, err := AuthorizationFromWire(auth.Wire())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.From != auth.From || parsed.To != auth.To || parsed.Nonce != auth.Nonce ||
		parsed.Value.Cmp(auth.Value) != 0 ||
		parsed.ValidAfter.Cmp(auth.ValidAfter) != 0 ||
		parsed.ValidBefore.Cmp(auth.ValidBefore) != 0 {
		t.Errorf("round trip mismatch: %+v vs %+v", parsed, auth)
	}
}

func TestAuthorizationFromWire_Invalid(t *testing.T) {
	valid := x402.EVMAuthorization{
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Value:       "1000",
		ValidAfter:  "1",
		ValidBefore: "2",
		Nonce:       common.Hash{1}.Hex(),
	}

	tests := []struct {
		name   string
		mutate func(*x402.EVMAuthorization)
	}{
		{"bad from", func(a *x402.EVMAuthorization) { a.From = "alice" }},
		{"bad value", func(a *x402.EVMAuthorization) { a.Value = "1e3" }},
		{"negative validAfter", func(a *x402.EVMAuthorization) { a.ValidAfter = "-1" }},
		{"short nonce", func(a *x402.EVMAuthorization) { a.Nonce = "0x01" }},
		{"non-hex nonce", func(a *x402.EVMAuthorization) { a.Nonce = "nonce" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := valid
			tt.mutate(&w)
			if _, err := AuthorizationFromWire(w); !errors.Is(err, x402.ErrMalformedHeader) {
				t.Errorf("expected ErrMalformedHeader, got %v", err)
			}
		})
	}
}
