// Package metrics collects and exposes sandboxjs runtime observability
// data: invocation counts/latency and VM lifecycle counts, scoped to the
// concepts this module actually has (one VM per session key, no warm
// pool, no autoscaler). Counters live in the in-process Metrics struct
// for introspection (e.g. the "sandboxjs metrics" CLI command) and are
// mirrored into Prometheus collectors (prometheus.go) for the hosting
// process to scrape.
//
// RecordInvocation is called from sandboxpool.Pool.execute on every
// sandbox call and must be cheap: all counters are atomics, and the
// per-function map is a sync.Map (read-heavy, write-once-per-new-function).
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects sandboxjs runtime metrics.
type Metrics struct {
	TotalInvocations   atomic.Int64
	SuccessInvocations atomic.Int64
	FailedInvocations  atomic.Int64

	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	VMsCreated atomic.Int64
	VMsStopped atomic.Int64

	funcMetrics sync.Map // funcID -> *FunctionMetrics

	startTime time.Time
}

// FunctionMetrics tracks invocation metrics for a single sandbox function.
type FunctionMetrics struct {
	Invocations atomic.Int64
	Successes   atomic.Int64
	Failures    atomic.Int64
	TotalMs     atomic.Int64
	MinMs       atomic.Int64
	MaxMs       atomic.Int64
}

var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyMs.Store(int64(^uint64(0) >> 1))
}

// Global returns the process-wide metrics instance.
func Global() *Metrics { return global }

// StartTime returns when the metrics system was initialized.
func StartTime() time.Time { return global.startTime }

// RecordInvocation records the result of one sandbox function call
// (spec.md §4.6's execute). funcName labels the Prometheus bridge;
// funcID is the key used for per-function breakdowns.
func (m *Metrics) RecordInvocation(funcID, funcName string, duration time.Duration, success bool) {
	durationMs := duration.Milliseconds()
	m.TotalInvocations.Add(1)
	if success {
		m.SuccessInvocations.Add(1)
	} else {
		m.FailedInvocations.Add(1)
	}
	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	fm := m.getFunctionMetrics(funcID)
	fm.Invocations.Add(1)
	if success {
		fm.Successes.Add(1)
	} else {
		fm.Failures.Add(1)
	}
	fm.TotalMs.Add(durationMs)
	updateMin(&fm.MinMs, durationMs)
	updateMax(&fm.MaxMs, durationMs)

	RecordPrometheusInvocation(funcName, durationMs, success)
}

// RecordVMCreated records a sandbox VM provisioned for a session
// (sandboxpool.Pool.getOrCreateSession / callEphemeral).
func (m *Metrics) RecordVMCreated() {
	m.VMsCreated.Add(1)
	RecordPrometheusVMCreated()
}

// RecordVMStopped records a sandbox VM being stopped
// (sandboxpool.Pool.Stop / StopAll / callEphemeral's cleanup).
func (m *Metrics) RecordVMStopped() {
	m.VMsStopped.Add(1)
	RecordPrometheusVMStopped()
}

func (m *Metrics) getFunctionMetrics(funcID string) *FunctionMetrics {
	if v, ok := m.funcMetrics.Load(funcID); ok {
		return v.(*FunctionMetrics)
	}
	fm := &FunctionMetrics{}
	fm.MinMs.Store(int64(^uint64(0) >> 1))
	actual, _ := m.funcMetrics.LoadOrStore(funcID, fm)
	return actual.(*FunctionMetrics)
}

// GetFunctionMetrics returns the metrics for a specific function, or nil
// if it has never been invoked.
func (m *Metrics) GetFunctionMetrics(funcID string) *FunctionMetrics {
	if v, ok := m.funcMetrics.Load(funcID); ok {
		return v.(*FunctionMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time view of the global counters, used by
// the "sandboxjs metrics" CLI command.
func (m *Metrics) Snapshot() map[string]any {
	total := m.TotalInvocations.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}
	minLatency := m.MinLatencyMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	return map[string]any{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"invocations": map[string]any{
			"total":   total,
			"success": m.SuccessInvocations.Load(),
			"failed":  m.FailedInvocations.Load(),
		},
		"latency_ms": map[string]any{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
		"vms": map[string]any{
			"created": m.VMsCreated.Load(),
			"stopped": m.VMsStopped.Load(),
		},
	}
}

// FunctionStats returns per-function invocation metrics.
func (m *Metrics) FunctionStats() map[string]any {
	result := make(map[string]any)
	m.funcMetrics.Range(func(key, value any) bool {
		funcID := key.(string)
		fm := value.(*FunctionMetrics)

		total := fm.Invocations.Load()
		avgMs := float64(0)
		if total > 0 {
			avgMs = float64(fm.TotalMs.Load()) / float64(total)
		}
		minMs := fm.MinMs.Load()
		if minMs == int64(^uint64(0)>>1) {
			minMs = 0
		}

		result[funcID] = map[string]any{
			"invocations": total,
			"successes":   fm.Successes.Load(),
			"failures":    fm.Failures.Load(),
			"avg_ms":      avgMs,
			"min_ms":      minMs,
			"max_ms":      fm.MaxMs.Load(),
		}
		return true
	})
	return result
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
