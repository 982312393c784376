package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config names the metric namespace and subsystem.
type Config struct {
	// Namespace prefixes every metric. Default: warden.
	Namespace string

	// Subsystem is the optional second prefix segment.
	Subsystem string
}

// DefaultConfig returns the default metric naming.
func DefaultConfig() Config {
	return Config{Namespace: "warden"}
}

// Collector holds every engine metric and records into them.
type Collector struct {
	registry *prometheus.Registry

	decisionsTotal     *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	ruleMatchesTotal   *prometheus.CounterVec
	definitionErrors   prometheus.Counter

	breakerState      *prometheus.GaugeVec
	breakerTripsTotal *prometheus.CounterVec

	tunerPhase            *prometheus.GaugeVec
	tunerThreshold        *prometheus.GaugeVec
	tunerAdjustmentsTotal *prometheus.CounterVec

	gateDenialsTotal *prometheus.CounterVec
	escalationsTotal prometheus.Counter
}

// NewCollector creates and registers every engine metric. A nil registry
// gets a fresh one.
func NewCollector(cfg Config, registry *prometheus.Registry) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = "warden"
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,

		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "decisions_total",
			Help:      "Decisions returned, by outcome.",
		}, []string{"decision"}),

		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "evaluation_duration_seconds",
			Help:      "End-to-end event evaluation duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
		}),

		ruleMatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rule_matches_total",
			Help:      "Rule matches, by category and enforcement level.",
		}, []string{"category", "level"}),

		definitionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rule_definition_errors_total",
			Help:      "Rule definitions rejected at load time.",
		}),

		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "breaker_state",
			Help:      "Circuit state: 0 closed, 1 half-open, 2 open.",
		}, []string{"circuit"}),

		breakerTripsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "breaker_trips_total",
			Help:      "Circuit trips.",
		}, []string{"circuit"}),

		tunerPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tuner_phase",
			Help:      "Enforcement phase: 0 observe, 1 warn, 2 enforce.",
		}, []string{"domain"}),

		tunerThreshold: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tuner_threshold",
			Help:      "Current occurrence threshold per domain.",
		}, []string{"domain"}),

		tunerAdjustmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tuner_adjustments_total",
			Help:      "Auto-tune threshold adjustments, by direction.",
		}, []string{"domain", "direction"}),

		gateDenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "gate_denials_total",
			Help:      "Confidence-gate denials, by check.",
		}, []string{"check"}),

		escalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "escalations_total",
			Help:      "Risk-saturation escalations to arbitration.",
		}),
	}

	registry.MustRegister(
		c.decisionsTotal,
		c.evaluationDuration,
		c.ruleMatchesTotal,
		c.definitionErrors,
		c.breakerState,
		c.breakerTripsTotal,
		c.tunerPhase,
		c.tunerThreshold,
		c.tunerAdjustmentsTotal,
		c.gateDenialsTotal,
		c.escalationsTotal,
	)
	return c
}

// Registry returns the backing registry for exposure by the embedding
// process.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordDecision records one returned decision and its evaluation time.
func (c *Collector) RecordDecision(decision string, duration time.Duration) {
	c.decisionsTotal.WithLabelValues(decision).Inc()
	c.evaluationDuration.Observe(duration.Seconds())
}

// RecordRuleMatch records one surfaced rule match.
func (c *Collector) RecordRuleMatch(category, level string) {
	c.ruleMatchesTotal.WithLabelValues(category, level).Inc()
}

// RecordDefinitionErrors adds to the rejected-definition counter.
func (c *Collector) RecordDefinitionErrors(n int) {
	c.definitionErrors.Add(float64(n))
}

// SetBreakerState publishes a circuit's state as a numeric gauge.
func (c *Collector) SetBreakerState(circuit string, state float64) {
	c.breakerState.WithLabelValues(circuit).Set(state)
}

// RecordBreakerTrip records one circuit trip.
func (c *Collector) RecordBreakerTrip(circuit string) {
	c.breakerTripsTotal.WithLabelValues(circuit).Inc()
}

// SetTunerPhase publishes a domain's enforcement phase.
func (c *Collector) SetTunerPhase(domain string, phase float64) {
	c.tunerPhase.WithLabelValues(domain).Set(phase)
}

// SetTunerThreshold publishes a domain's current threshold.
func (c *Collector) SetTunerThreshold(domain string, threshold float64) {
	c.tunerThreshold.WithLabelValues(domain).Set(threshold)
}

// RecordTunerAdjustment records one auto-tune adjustment.
func (c *Collector) RecordTunerAdjustment(domain, direction string) {
	c.tunerAdjustmentsTotal.WithLabelValues(domain, direction).Inc()
}

// RecordGateDenial records one confidence-gate denial.
func (c *Collector) RecordGateDenial(check string) {
	c.gateDenialsTotal.WithLabelValues(check).Inc()
}

// RecordEscalation records one escalation to arbitration.
func (c *Collector) RecordEscalation() {
	c.escalationsTotal.Inc()
}
