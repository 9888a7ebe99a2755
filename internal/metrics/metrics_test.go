package metrics

import (
	"testing"
	"time"
)

func TestRecordInvocationUpdatesTotalsAndPerFunction(t *testing.T) {
	m := &Metrics{startTime: time.Now()}
	m.MinLatencyMs.Store(int64(^uint64(0) >> 1))

	m.RecordInvocation("fn_a", "fn_a", 10*time.Millisecond, true)
	m.RecordInvocation("fn_a", "fn_a", 20*time.Millisecond, false)

	if got := m.TotalInvocations.Load(); got != 2 {
		t.Fatalf("expected 2 total invocations, got %d", got)
	}
	if got := m.SuccessInvocations.Load(); got != 1 {
		t.Fatalf("expected 1 success, got %d", got)
	}
	if got := m.FailedInvocations.Load(); got != 1 {
		t.Fatalf("expected 1 failure, got %d", got)
	}

	fm := m.GetFunctionMetrics("fn_a")
	if fm == nil {
		t.Fatalf("expected per-function metrics for fn_a")
	}
	if got := fm.Invocations.Load(); got != 2 {
		t.Fatalf("expected 2 invocations recorded for fn_a, got %d", got)
	}
}

func TestGetFunctionMetricsNilForUnknownFunction(t *testing.T) {
	m := &Metrics{startTime: time.Now()}
	if fm := m.GetFunctionMetrics("never-called"); fm != nil {
		t.Fatalf("expected nil metrics for a function never invoked, got %+v", fm)
	}
}

func TestVMLifecycleCounters(t *testing.T) {
	m := &Metrics{startTime: time.Now()}
	m.RecordVMCreated()
	m.RecordVMCreated()
	m.RecordVMStopped()

	if got := m.VMsCreated.Load(); got != 2 {
		t.Fatalf("expected 2 VMs created, got %d", got)
	}
	if got := m.VMsStopped.Load(); got != 1 {
		t.Fatalf("expected 1 VM stopped, got %d", got)
	}
}

func TestSnapshotReportsZeroedLatencyOnFreshStore(t *testing.T) {
	m := &Metrics{startTime: time.Now()}
	m.MinLatencyMs.Store(int64(^uint64(0) >> 1))

	snap := m.Snapshot()
	latency := snap["latency_ms"].(map[string]any)
	if latency["min"] != int64(0) {
		t.Fatalf("expected min latency 0 on a fresh store, got %v", latency["min"])
	}
}
