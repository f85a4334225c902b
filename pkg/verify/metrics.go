package verify

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for verification calls.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
	verdicts *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "verinews",
				Subsystem: "verify",
				Name:      "requests_total",
				Help:      "Total number of claim verification requests by outcome",
			},
			[]string{"outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "verinews",
				Subsystem: "verify",
				Name:      "latency_seconds",
				Help:      "Claim verification latency in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"outcome"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "verinews",
				Subsystem: "verify",
				Name:      "in_flight",
				Help:      "Number of verification requests currently awaiting a response",
			},
		),
		verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "verinews",
				Subsystem: "verify",
				Name:      "verdicts_total",
				Help:      "Verdicts returned by the verification service",
			},
			[]string{"verdict"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.latency, m.inFlight, m.verdicts)
	}
	return m
}

// InstrumentedVerifier records metrics around a Verifier.
type InstrumentedVerifier struct {
	verifier Verifier
	metrics  *Metrics
}

func NewInstrumentedVerifier(verifier Verifier, metrics *Metrics) *InstrumentedVerifier {
	return &InstrumentedVerifier{verifier: verifier, metrics: metrics}
}

func (v *InstrumentedVerifier) Verify(ctx context.Context, claim string) (*Result, error) {
	v.metrics.inFlight.Inc()
	defer v.metrics.inFlight.Dec()

	start := time.Now()
	result, err := v.verifier.Verify(ctx, claim)
	outcome := Outcome(err)

	v.metrics.requests.WithLabelValues(outcome).Inc()
	v.metrics.latency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err == nil && result != nil {
		verdict := result.Verdict
		if !verdict.Known() {
			verdict = "other"
		}
		v.metrics.verdicts.WithLabelValues(string(verdict)).Inc()
	}

	return result, err
}

var _ Verifier = (*InstrumentedVerifier)(nil)
