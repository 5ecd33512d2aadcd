package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	c := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, c.Register(reg))

	c.IncPrompts()
	c.IncPrompts()
	c.ObservePayment("success")
	c.ObservePayment("protocol_error")
	c.ObservePayment("success")
	c.IncRejections()
	c.IncDenials("no_context")
	c.ObserveTransport(true, 150*time.Millisecond)
	c.ObserveVerification("valid")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Prompts))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Payments.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Payments.WithLabelValues("protocol_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Rejections))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Denials.WithLabelValues("no_context")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Verifications.WithLabelValues("valid")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.TransportDuration, "x402_agent_transport_seconds"))
}

func TestCollectors_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	New().MustRegister(reg)
	assert.Error(t, New().Register(reg))
}

func TestCollectors_NilSafe(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.IncPrompts()
		c.ObservePayment("success")
		c.IncRejections()
		c.IncDenials("busy")
		c.ObserveTransport(false, time.Second)
		c.ObserveVerification("invalid_signature")
	})
}
