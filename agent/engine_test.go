package agent

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark3labs/x402-agentpay"
	"github.com/mark3labs/x402-agentpay/evm"
	"github.com/mark3labs/x402-agentpay/gate"
	x402http "github.com/mark3labs/x402-agentpay/http"
	"github.com/mark3labs/x402-agentpay/metrics"
	"github.com/mark3labs/x402-agentpay/paywall"
	"github.com/mark3labs/x402-agentpay/retry"
)

const (
	testKey   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testPayTo = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
)

// corruptingKeys flips a bit of every signature it produces.
type corruptingKeys struct {
	evm.KeySigner
}

func (c corruptingKeys) SignDigest(digest []byte) ([]byte, error) {
	sig, err := c.KeySigner.SignDigest(digest)
	if err != nil {
		return nil, err
	}
	sig[40] ^= 0x01
	return sig, nil
}

func requirement() x402.PaymentRequirement {
	return x402.PaymentRequirement{
		Scheme:            x402.SchemeExact,
		Network:           "base-sepolia",
		MaxAmountRequired: "1000",
		Asset:             x402.BaseSepolia.USDCAddress,
		PayTo:             testPayTo,
		Description:       "Weather forecast",
		MimeType:          "application/json",
		MaxTimeoutSeconds: 60,
		Extra:             map[string]interface{}{"name": "USDC", "version": "2"},
	}
}

type weatherServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newWeatherServer(t *testing.T, opts ...paywall.Option) *weatherServer {
	t.Helper()
	ws := &weatherServer{}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ws.hits.Add(1)
			next.ServeHTTP(w, r)
		})
	})
	r.With(paywall.Middleware(paywall.Config{
		Requirements: []x402.PaymentRequirement{requirement()},
		Verifier:     paywall.NewVerifier(opts...),
	})).Get("/weather", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"city": "Lisbon", "forecast": "sunny", "temperature": 24})
	})

	ws.Server = httptest.NewServer(r)
	t.Cleanup(ws.Close)
	return ws
}

func testTransport(t *testing.T) *x402http.Client {
	t.Helper()
	client, err := x402http.NewClient(x402http.WithRetryConfig(retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}))
	require.NoError(t, err)
	return client
}

func testSigner(t *testing.T, wrap func(evm.KeySigner) evm.KeySigner) *evm.Signer {
	t.Helper()
	account, err := evm.NewAccount(evm.WithPrivateKey(testKey))
	require.NoError(t, err)
	var keys evm.KeySigner = account
	if wrap != nil {
		keys = wrap(account)
	}
	signer, err := evm.NewSigner(evm.WithKeySigner(keys), evm.WithNetwork("base-sepolia"))
	require.NoError(t, err)
	return signer
}

func staticTerms(t *testing.T) *StaticTerms {
	t.Helper()
	terms, err := NewStaticTerms("base-sepolia", testPayTo, big.NewInt(DemoAmount))
	require.NoError(t, err)
	return terms
}

func newEngine(t *testing.T, endpoint string, opts ...Option) *Engine {
	t.Helper()
	engine, err := New(append([]Option{
		WithSigner(testSigner(t, nil)),
		WithTransport(testTransport(t)),
		WithEndpoint(endpoint),
		WithTerms(staticTerms(t)),
	}, opts...)...)
	require.NoError(t, err)
	return engine
}

func TestNew_Validation(t *testing.T) {
	signer := testSigner(t, nil)

	tests := []struct {
		name string
		opts []Option
	}{
		{"missing signer", []Option{WithEndpoint("http://localhost/weather")}},
		{"missing endpoint", []Option{WithSigner(signer)}},
		{"nil signer", []Option{WithSigner(nil)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			require.Error(t, err)
			assert.Equal(t, x402.ErrCodeConfig, x402.CodeOf(err))
		})
	}

	engine, err := New(WithSigner(signer), WithEndpoint("http://localhost/weather"))
	require.NoError(t, err)
	assert.IsType(t, &ChallengeTerms{}, engine.terms)
}

func TestNewStaticTerms(t *testing.T) {
	terms, err := staticTerms(t).Terms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.001", terms.DisplayAmount())
	assert.Equal(t, "USDC", terms.Symbol)
	assert.Equal(t, x402.BaseSepolia.USDCAddress, terms.Domain.VerifyingContract())
	assert.Equal(t, "USDC", terms.Domain.Name())

	_, err = NewStaticTerms("base-sepolia", testPayTo, big.NewInt(0))
	assert.ErrorIs(t, err, x402.ErrInvalidAmount)
	_, err = NewStaticTerms("unknown", testPayTo, big.NewInt(1))
	assert.ErrorIs(t, err, x402.ErrInvalidNetwork)
	_, err = NewStaticTerms("base-sepolia", "not-an-address", big.NewInt(1))
	assert.Equal(t, x402.ErrCodeConfig, x402.CodeOf(err))
}

func TestStaticTerms_ReturnsCopy(t *testing.T) {
	provider := staticTerms(t)
	first, _ := provider.Terms(context.Background())
	first.Amount.SetInt64(1)

	second, _ := provider.Terms(context.Background())
	assert.Equal(t, int64(DemoAmount), second.Amount.Int64())
}

func TestChallengeTerms(t *testing.T) {
	server := newWeatherServer(t)
	provider := NewChallengeTerms(testTransport(t), server.URL+"/weather", testSigner(t, nil))

	terms, err := provider.Terms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000", terms.Amount.String())
	assert.Equal(t, testPayTo, terms.PayTo)
	assert.Equal(t, server.URL+"/weather", terms.Resource)
	assert.Equal(t, "USDC", terms.Domain.Name())
	assert.Equal(t, "2", terms.Domain.Version())
	assert.Equal(t, int64(84532), terms.Domain.ChainID().Int64())
}

func TestChallengeTerms_NoSignerMatches(t *testing.T) {
	server := newWeatherServer(t)
	account, err := evm.NewAccount(evm.WithPrivateKey(testKey))
	require.NoError(t, err)
	mainnet, err := evm.NewSigner(evm.WithAccount(account), evm.WithNetwork("base"))
	require.NoError(t, err)

	_, err = NewChallengeTerms(testTransport(t), server.URL+"/weather", mainnet).Terms(context.Background())
	assert.ErrorIs(t, err, x402.ErrNoValidSigner)
}

// Approving a prompt pays and returns the resource.
func TestEndToEnd_ApprovedPayment(t *testing.T) {
	server := newWeatherServer(t)
	m := metrics.New()
	engine := newEngine(t, server.URL+"/weather", WithMetrics(m))

	g, err := gate.New(engine, gate.WithMetrics(m))
	require.NoError(t, err)
	ctx := context.Background()

	prompt := g.Handle(ctx, "room", "What's the weather in Lisbon?")
	require.Equal(t, gate.KindPrompt, prompt.Kind)
	assert.Contains(t, prompt.Message, "0.001")
	assert.Contains(t, prompt.Message, "USDC")
	assert.EqualValues(t, 0, server.hits.Load())

	result := g.Handle(ctx, "room", "yes, go ahead")
	require.Equal(t, gate.KindPay, result.Kind)
	require.NoError(t, result.Err)
	require.NotNil(t, result.Outcome)
	assert.True(t, result.Outcome.Success)
	assert.Equal(t, http.StatusOK, result.Outcome.Status)
	assert.Contains(t, string(result.Outcome.Data), "sunny")
	require.NotNil(t, result.Outcome.Settlement)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266").Hex(), result.Outcome.Settlement.Payer)

	assert.Equal(t, gate.StateIdle, g.State("room"))
	assert.EqualValues(t, 1, server.hits.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Payments.WithLabelValues("success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TransportDuration))
}

// Rejecting a prompt requests the resource unpaid and reports the server's answer.
func TestEndToEnd_Rejection(t *testing.T) {
	server := newWeatherServer(t)
	engine := newEngine(t, server.URL+"/weather")
	g, err := gate.New(engine)
	require.NoError(t, err)
	ctx := context.Background()

	g.Handle(ctx, "room", "forecast please")
	result := g.Handle(ctx, "room", "no thanks")

	require.Equal(t, gate.KindSkip, result.Kind)
	require.NotNil(t, result.Outcome)
	assert.False(t, result.Outcome.Success)
	assert.False(t, result.Outcome.Paid)
	assert.Equal(t, http.StatusPaymentRequired, result.Outcome.Status)
	assert.Equal(t, "X-PAYMENT header is required", result.Outcome.Error)
	assert.Equal(t, gate.StateIdle, g.State("room"))
	assert.EqualValues(t, 1, server.hits.Load())
}

// A signature that fails local verification never reaches the network.
func TestEndToEnd_CorruptSignatureNotSent(t *testing.T) {
	server := newWeatherServer(t)
	signer := testSigner(t, func(k evm.KeySigner) evm.KeySigner { return corruptingKeys{k} })
	engine := newEngine(t, server.URL+"/weather", WithSigner(signer))

	g, err := gate.New(engine)
	require.NoError(t, err)
	ctx := context.Background()

	g.Handle(ctx, "room", "weather?")
	result := g.Handle(ctx, "room", "approve")

	require.Equal(t, gate.KindPay, result.Kind)
	require.Error(t, result.Err)
	assert.Equal(t, x402.ErrCodeSignature, x402.CodeOf(result.Err))
	assert.Nil(t, result.Outcome)
	assert.EqualValues(t, 0, server.hits.Load())
}

// A 402 with an invalid reason is surfaced verbatim and not retried.
func TestEndToEnd_RejectedPaymentNotRetried(t *testing.T) {
	server := newWeatherServer(t, paywall.WithFundsCheck(
		func(ctx context.Context, payer common.Address, asset string, value *big.Int) error {
			return &paywall.InvalidPaymentError{Reason: paywall.ReasonInsufficientFunds}
		}))
	engine := newEngine(t, server.URL+"/weather")
	g, err := gate.New(engine)
	require.NoError(t, err)
	ctx := context.Background()

	g.Handle(ctx, "room", "temperature in Porto")
	result := g.Handle(ctx, "room", "ok")

	require.Equal(t, gate.KindPay, result.Kind)
	require.Error(t, result.Err)
	assert.Equal(t, x402.ErrCodeProtocol, x402.CodeOf(result.Err))
	require.NotNil(t, result.Outcome)
	assert.Equal(t, http.StatusPaymentRequired, result.Outcome.Status)
	assert.Equal(t, "insufficient_funds", result.Outcome.InvalidReason)
	assert.Contains(t, result.Message, "insufficient_funds")
	assert.EqualValues(t, 1, server.hits.Load())
}

// Approval without a prompt never builds an authorization.
func TestEndToEnd_ApprovalWithoutPromptDenied(t *testing.T) {
	server := newWeatherServer(t)
	engine := newEngine(t, server.URL+"/weather")
	g, err := gate.New(engine)
	require.NoError(t, err)

	result := g.Handle(context.Background(), "room", "yes")
	assert.Equal(t, gate.KindDeny, result.Kind)
	assert.ErrorIs(t, result.Err, x402.ErrNoApprovalContext)
	assert.EqualValues(t, 0, server.hits.Load())
}

// Each payment carries a fresh nonce, so paying twice succeeds twice.
func TestEndToEnd_RepeatPaymentsUseFreshNonces(t *testing.T) {
	server := newWeatherServer(t)
	engine := newEngine(t, server.URL+"/weather")
	g, err := gate.New(engine)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		g.Handle(ctx, "room", "weather?")
		result := g.Handle(ctx, "room", "yes")
		require.NoError(t, result.Err, "payment %d", i)
		assert.True(t, result.Outcome.Success)
	}
	assert.EqualValues(t, 2, server.hits.Load())
}

func TestPay_CheckpointStopsBeforeSending(t *testing.T) {
	server := newWeatherServer(t)
	engine := newEngine(t, server.URL+"/weather")
	terms, err := engine.Quote(context.Background())
	require.NoError(t, err)

	ctx := gate.ContextWithCheckpoint(context.Background(), func() error {
		return x402.NewPaymentError(x402.ErrCodeState, "payment prompt was superseded", x402.ErrPromptSuperseded)
	})
	outcome, err := engine.Pay(ctx, terms)
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, x402.ErrPromptSuperseded)
	assert.EqualValues(t, 0, server.hits.Load())
}

func TestPay_CancelledContext(t *testing.T) {
	server := newWeatherServer(t)
	engine := newEngine(t, server.URL+"/weather")
	terms, err := engine.Quote(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Pay(ctx, terms)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, server.hits.Load())
}

func TestPay_ChallengeTermsEndToEnd(t *testing.T) {
	server := newWeatherServer(t)
	transport := testTransport(t)
	engine, err := New(
		WithSigner(testSigner(t, nil)),
		WithTransport(transport),
		WithEndpoint(server.URL+"/weather"),
	)
	require.NoError(t, err)

	terms, err := engine.Quote(context.Background())
	require.NoError(t, err)
	outcome, err := engine.Pay(context.Background(), terms)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.True(t, outcome.Paid)
	assert.EqualValues(t, 2, server.hits.Load())
}
