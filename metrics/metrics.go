// Package metrics exports engine counters to Prometheus.
//
// Engine packages accept an Observer and never depend on Prometheus
// directly; a nil Observer is replaced by Nop.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Rate limit decision results.
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
	ResultError   = "error"
)

// Observer captures telemetry for the rotation and throttling engine.
type Observer interface {
	RateDecision(limiter, result string)
	RotationDraw(pool string)
	RotationReshuffle(pool string)
	RotationCorruptReset(pool string)
	CorrelationRegistered(table string)
	CorrelationResolved(table string)
	CorrelationExpired(table string)
	UpdateHandled(feature string, duration time.Duration, err error)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) RateDecision(string, string) {}
func (Nop) RotationDraw(string) {}
func (Nop) RotationReshuffle(string) {}
func (Nop) RotationCorruptReset(string) {}
func (Nop) CorrelationRegistered(string) {}
func (Nop) CorrelationResolved(string) {}
func (Nop) CorrelationExpired(string) {}
func (Nop) UpdateHandled(string, time.Duration, error) {}

// OrNop returns o, or Nop when o is nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return Nop{}
	}
	return o
}

// PrometheusObserver exports engine metrics to Prometheus.
type PrometheusObserver struct {
	rateDecisions  *prometheus.CounterVec
	rotationEvents *prometheus.CounterVec
	correlation    *prometheus.CounterVec
	updateDuration *prometheus.HistogramVec
	updateErrors   *prometheus.CounterVec
}

// NewPrometheusObserver registers the engine metrics under namespace.
// Registering twice against the same registry reuses the existing collectors.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "chatkit"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{}
	var err error
	if o.rateDecisions, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_decisions_total",
		Help:      "Windowed rate limit decisions by limiter and result.",
	}, "limiter", "result"); err != nil {
		return nil, err
	}
	if o.rotationEvents, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rotation_events_total",
		Help:      "Rotation queue draws, reshuffles and corrupt state resets by pool.",
	}, "pool", "event"); err != nil {
		return nil, err
	}
	if o.correlation, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "correlation_events_total",
		Help:      "Correlation entries registered, resolved and expired by table.",
	}, "table", "event"); err != nil {
		return nil, err
	}
	if o.updateErrors, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "update_errors_total",
		Help:      "Update handler failures by feature.",
	}, "feature"); err != nil {
		return nil, err
	}

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "update_duration_seconds",
		Help:      "Latency of update handling by feature.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"feature"})
	if err := reg.Register(duration); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register update duration metric: %w", err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, fmt.Errorf("register update duration metric: %w", err)
		}
		duration = existing
	}
	o.updateDuration = duration

	return o, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	vec := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(vec); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register %s metric: %w", opts.Name, err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("register %s metric: %w", opts.Name, err)
		}
		return existing, nil
	}
	return vec, nil
}

// RateDecision counts a limiter decision.
func (o *PrometheusObserver) RateDecision(limiter, result string) {
	if o == nil {
		return
	}
	o.rateDecisions.WithLabelValues(limiter, result).Inc()
}

func (o *PrometheusObserver) RotationDraw(pool string) {
	o.rotation(pool, "draw")
}

func (o *PrometheusObserver) RotationReshuffle(pool string) {
	o.rotation(pool, "reshuffle")
}

func (o *PrometheusObserver) RotationCorruptReset(pool string) {
	o.rotation(pool, "corrupt_reset")
}

func (o *PrometheusObserver) rotation(pool, event string) {
	if o == nil {
		return
	}
	o.rotationEvents.WithLabelValues(pool, event).Inc()
}

func (o *PrometheusObserver) CorrelationRegistered(table string) {
	o.correlationEvent(table, "registered")
}

func (o *PrometheusObserver) CorrelationResolved(table string) {
	o.correlationEvent(table, "resolved")
}

func (o *PrometheusObserver) CorrelationExpired(table string) {
	o.correlationEvent(table, "expired")
}

func (o *PrometheusObserver) correlationEvent(table, event string) {
	if o == nil {
		return
	}
	o.correlation.WithLabelValues(table, event).Inc()
}

// UpdateHandled tracks handler latency and failures.
func (o *PrometheusObserver) UpdateHandled(feature string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.updateDuration.WithLabelValues(feature).Observe(duration.Seconds())
	if err != nil {
		o.updateErrors.WithLabelValues(feature).Inc()
	}
}

var (
	_ Observer = Nop{}
	_ Observer = (*PrometheusObserver)(nil)
)
