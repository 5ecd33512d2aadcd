// Package metrics exposes Prometheus collectors for the payment pipeline and
// the paywall verifier. All methods are safe on a nil *Collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the agent and paywall metrics.
type Collectors struct {
	Prompts           prometheus.Counter
	Payments          *prometheus.CounterVec
	Rejections        prometheus.Counter
	Denials           *prometheus.CounterVec
	TransportDuration *prometheus.HistogramVec
	Verifications     *prometheus.CounterVec
}

// New creates unregistered collectors.
func New() *Collectors {
	return &Collectors{
		Prompts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "x402_agent_prompts_total",
				Help: "Total number of payment prompts issued",
			},
		),
		Payments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_agent_payments_total",
				Help: "Total number of approved payment pipelines by result",
			},
			[]string{"result"},
		),
		Rejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "x402_agent_rejections_total",
				Help: "Total number of rejected payment prompts",
			},
		),
		Denials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_agent_denials_total",
				Help: "Total number of approvals refused by the gate by reason",
			},
			[]string{"reason"},
		),
		TransportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_agent_transport_seconds",
				Help:    "Duration of resource requests including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"paid"},
		),
		Verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_paywall_verifications_total",
				Help: "Total number of payment headers verified by the paywall by result",
			},
			[]string{"result"},
		),
	}
}

// Register registers all collectors with reg.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{
		c.Prompts,
		c.Payments,
		c.Rejections,
		c.Denials,
		c.TransportDuration,
		c.Verifications,
	} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers all collectors and panics on failure.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	if err := c.Register(reg); err != nil {
		panic(err)
	}
}

func (c *Collectors) IncPrompts() {
	if c == nil {
		return
	}
	c.Prompts.Inc()
}

// ObservePayment records the result of an approved pipeline, e.g. "success"
// or an error code.
func (c *Collectors) ObservePayment(result string) {
	if c == nil {
		return
	}
	c.Payments.WithLabelValues(result).Inc()
}

func (c *Collectors) IncRejections() {
	if c == nil {
		return
	}
	c.Rejections.Inc()
}

// IncDenials records an approval the gate refused to act on.
func (c *Collectors) IncDenials(reason string) {
	if c == nil {
		return
	}
	c.Denials.WithLabelValues(reason).Inc()
}

func (c *Collectors) ObserveTransport(paid bool, d time.Duration) {
	if c == nil {
		return
	}
	c.TransportDuration.WithLabelValues(strconv.FormatBool(paid)).Observe(d.Seconds())
}

// ObserveVerification records a paywall verification result, "valid" or an
// invalid reason.
func (c *Collectors) ObserveVerification(result string) {
	if c == nil {
		return
	}
	c.Verifications.WithLabelValues(result).Inc()
}
