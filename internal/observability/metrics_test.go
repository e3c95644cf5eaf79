package observability

import (
	"testing"
	"time"
)

func TestSafetyLatencyAverages(t *testing.T) {
	m := NewMetrics()
	m.ObserveSafetyEvaluation("adverse_event", 10*time.Microsecond)
	m.ObserveSafetyEvaluation("adverse_event", 30*time.Microsecond)
	m.ObserveSafetyEvaluation("clear", 5*time.Microsecond)

	snap := m.Snapshot()
	if snap.SafetyEvaluations["adverse_event"] != 2 {
		t.Fatalf("expected 2 adverse evaluations, got %d", snap.SafetyEvaluations["adverse_event"])
	}
	if snap.SafetyAvgMicros["adverse_event"] != 20 {
		t.Fatalf("expected 20us average, got %d", snap.SafetyAvgMicros["adverse_event"])
	}
	if snap.SafetyMaxMicros != 30 {
		t.Fatalf("expected 30us max, got %d", snap.SafetyMaxMicros)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", "GET", 200, time.Millisecond)
	m.RecordBroadcastDrop()
	m.RecordSweep("holds", 1)
	m.ObserveSafetyEvaluation("clear", time.Microsecond)
}

func TestSweepIgnoresEmptyRuns(t *testing.T) {
	m := NewMetrics()
	m.RecordSweep("handoffs", 0)
	m.RecordSweep("handoffs", 2)
	if got := m.Snapshot().Sweeps["handoffs"]; got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}
