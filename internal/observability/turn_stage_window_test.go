package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTurnStageWindowSnapshot(t *testing.T) {
	w := newTurnStageWindow(8)
	w.Observe(StageFirstChunk, 500*time.Millisecond)
	w.Observe(StageFirstChunk, 700*time.Millisecond)
	w.Observe(StageFirstChunk, 1900*time.Millisecond)
	w.ObserveIndicator("turn_timeout")
	w.ObserveIndicator("turn_timeout")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageFirstChunk || s.Samples != 3 {
		t.Fatalf("Stages[0] = %+v, want first_chunk with 3 samples", s)
	}
	if s.LastMS != 1900 || s.P50MS != 700 {
		t.Fatalf("LastMS/P50MS = %.2f/%.2f, want 1900/700", s.LastMS, s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 1900 {
		t.Fatalf("P95MS = %.2f, want (700,1900]", s.P95MS)
	}
	if s.TargetP95MS != 1500 || s.OverTarget != 1 {
		t.Fatalf("TargetP95MS/OverTarget = %.2f/%d, want 1500/1", s.TargetP95MS, s.OverTarget)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "turn_timeout" || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0] = %+v, want turn_timeout x2", snap.Indicators[0])
	}
}

func TestTurnStageWindowWrapsAround(t *testing.T) {
	w := newTurnStageWindow(2)
	w.Observe(StageTurnTotal, time.Millisecond)
	w.Observe(StageTurnTotal, 2*time.Millisecond)
	w.Observe(StageTurnTotal, 3*time.Millisecond)

	snap := w.Snapshot()
	if snap.Stages[0].Samples != 2 {
		t.Fatalf("Samples = %d, want 2", snap.Stages[0].Samples)
	}
	if snap.Stages[0].AvgMS != 2.5 {
		t.Fatalf("AvgMS = %.2f, want 2.5", snap.Stages[0].AvgMS)
	}
}

func TestTurnStageWindowUnknownStageHasNoTarget(t *testing.T) {
	w := newTurnStageWindow(4)
	w.Observe("custom", time.Hour)
	w.Observe("", time.Millisecond)
	w.Observe(StageTurnTotal, -time.Millisecond)

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("Stages = %+v, want only custom", snap.Stages)
	}
	if snap.Stages[0].TargetP95MS != 0 || snap.Stages[0].OverTarget != 0 {
		t.Fatalf("Stages[0] = %+v, want no target", snap.Stages[0])
	}
}

func TestMetricsObserveTurn(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	m.ObserveTurn("helper", "execute", OutcomeOK, 20*time.Millisecond)
	m.ObserveTurn("helper", "stream", OutcomeTimeout, time.Second)

	if got := testutil.ToFloat64(m.Turns.WithLabelValues("helper", "execute", OutcomeOK)); got != 1 {
		t.Fatalf("turns ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TurnErrors.WithLabelValues("helper")); got != 1 {
		t.Fatalf("turn errors = %v, want 1", got)
	}
	snap := m.SnapshotTurnStages()
	if len(snap.Stages) != 1 || snap.Stages[0].Samples != 2 {
		t.Fatalf("stages = %+v, want turn_total with 2 samples", snap.Stages)
	}
}

func TestMetricsStreamGauge(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	done := m.StreamStarted()
	if got := testutil.ToFloat64(m.ActiveStream); got != 1 {
		t.Fatalf("active streams = %v, want 1", got)
	}
	done()
	if got := testutil.ToFloat64(m.ActiveStream); got != 0 {
		t.Fatalf("active streams = %v, want 0", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTurn("a", "execute", OutcomeOK, time.Millisecond)
	m.ObserveStoreOp("redis", "get", "ok")
	m.StreamStarted()()
	if snap := m.SnapshotTurnStages(); len(snap.Stages) != 0 {
		t.Fatalf("nil metrics snapshot has stages")
	}
}
