package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecordsDecisions(t *testing.T) {
	c := NewCollector(DefaultConfig(), nil)

	c.RecordDecision("allow", 2*time.Millisecond)
	c.RecordDecision("allow", 1*time.Millisecond)
	c.RecordDecision("deny", 3*time.Millisecond)

	if got := testutil.ToFloat64(c.decisionsTotal.WithLabelValues("allow")); got != 2 {
		t.Errorf("allow decisions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.decisionsTotal.WithLabelValues("deny")); got != 1 {
		t.Errorf("deny decisions = %v, want 1", got)
	}
}

func TestCollectorBreakerAndTuner(t *testing.T) {
	c := NewCollector(DefaultConfig(), nil)

	c.SetBreakerState("bash-failures", 2)
	c.RecordBreakerTrip("bash-failures")
	c.SetTunerPhase("edits", 1)
	c.SetTunerThreshold("edits", 5)
	c.RecordTunerAdjustment("edits", "loosen")

	if got := testutil.ToFloat64(c.breakerState.WithLabelValues("bash-failures")); got != 2 {
		t.Errorf("breaker state = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.breakerTripsTotal.WithLabelValues("bash-failures")); got != 1 {
		t.Errorf("trips = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.tunerThreshold.WithLabelValues("edits")); got != 5 {
		t.Errorf("threshold = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.tunerAdjustmentsTotal.WithLabelValues("edits", "loosen")); got != 1 {
		t.Errorf("adjustments = %v, want 1", got)
	}
}

func TestCollectorUsesProvidedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollector(Config{Namespace: "warden", Subsystem: "core"}, registry)
	if c.Registry() != registry {
		t.Fatal("collector did not keep the provided registry")
	}

	c.RecordGateDenial("read-before-write")
	c.RecordEscalation()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"warden_core_gate_denials_total",
		"warden_core_escalations_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}
