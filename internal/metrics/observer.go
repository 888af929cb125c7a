package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Stage outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeFallback = "fallback"
	OutcomeCached   = "cached"
)

// Observer receives workflow stage and provider observations.
type Observer interface {
	ObserveStage(step, outcome string, d time.Duration)
	ObserveProvider(provider, outcome string)
	ObserveRateLimited()
}

// Nop discards all observations.
type Nop struct{}

func (Nop) ObserveStage(string, string, time.Duration) {}
func (Nop) ObserveProvider(string, string)              {}
func (Nop) ObserveRateLimited()                          {}

// Prometheus holds the collectors exposed on /metrics by the web server.
type Prometheus struct {
	registry      *prometheus.Registry
	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	providerCalls *prometheus.CounterVec
	rateLimited   prometheus.Counter
}

// NewPrometheus registers the stage collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()

	p := &Prometheus{
		registry: registry,

		stageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "penguin",
				Name:      "workflow_stage_total",
				Help:      "Workflow stage invocations by step and outcome",
			},
			[]string{"step", "outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "penguin",
				Name:      "workflow_stage_duration_seconds",
				Help:      "Workflow stage latency",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"step"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "penguin",
				Name:      "provider_calls_total",
				Help:      "External provider calls by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "penguin",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),
	}

	registry.MustRegister(p.stageTotal, p.stageDuration, p.providerCalls, p.rateLimited)
	registry.MustRegister(collectors.NewGoCollector())
	return p
}

// Registry returns the registry backing the /metrics endpoint.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) ObserveStage(step, outcome string, d time.Duration) {
	p.stageTotal.WithLabelValues(step, outcome).Inc()
	p.stageDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (p *Prometheus) ObserveProvider(provider, outcome string) {
	p.providerCalls.WithLabelValues(provider, outcome).Inc()
}

func (p *Prometheus) ObserveRateLimited() {
	p.rateLimited.Inc()
}
