package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const maxLatencySamples = 1000

// Metrics is the process-wide, mutex-guarded counter and latency-sample
// store backing the /metrics endpoint. One instance is created per worker
// process and shared across every goroutine handling bus entries.
type Metrics struct {
	mu sync.Mutex

	processed   int64
	succeeded   int64
	failed      int64
	retried     int64
	dlqRouted   int64
	latencies   []float64 // milliseconds, ring-bounded to maxLatencySamples

	processedCounter metric.Int64Counter
	failedCounter    metric.Int64Counter
	dlqCounter       metric.Int64Counter
	latencyHist      metric.Float64Histogram
}

// NewMetrics constructs a Metrics recorder, registering OTel instruments
// against meter. meter may be a no-op meter when no OTLP endpoint is
// configured; instrument creation against a no-op meter never fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.processedCounter, err = meter.Int64Counter("pipeline.messages.processed")
	if err != nil {
		return nil, err
	}
	m.failedCounter, err = meter.Int64Counter("pipeline.messages.failed")
	if err != nil {
		return nil, err
	}
	m.dlqCounter, err = meter.Int64Counter("pipeline.messages.dlq_routed")
	if err != nil {
		return nil, err
	}
	m.latencyHist, err = meter.Float64Histogram("pipeline.handler.latency_ms")
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordSuccess records one successfully processed entry and its handler
// latency.
func (m *Metrics) RecordSuccess(ctx context.Context, latency time.Duration) {
	ms := float64(latency.Microseconds()) / 1000.0
	m.mu.Lock()
	m.processed++
	m.succeeded++
	m.pushLatency(ms)
	m.mu.Unlock()
	m.processedCounter.Add(ctx, 1)
	m.latencyHist.Record(ctx, ms)
}

// RecordFailure records one entry whose processing failed.
func (m *Metrics) RecordFailure(ctx context.Context, latency time.Duration) {
	ms := float64(latency.Microseconds()) / 1000.0
	m.mu.Lock()
	m.processed++
	m.failed++
	m.pushLatency(ms)
	m.mu.Unlock()
	m.processedCounter.Add(ctx, 1)
	m.failedCounter.Add(ctx, 1)
	m.latencyHist.Record(ctx, ms)
}

// RecordRetry records one retry attempt within the backoff envelope.
func (m *Metrics) RecordRetry(ctx context.Context) {
	m.mu.Lock()
	m.retried++
	m.mu.Unlock()
}

// RecordDLQ records one entry routed to the dead-letter queue.
func (m *Metrics) RecordDLQ(ctx context.Context) {
	m.mu.Lock()
	m.dlqRouted++
	m.mu.Unlock()
	m.dlqCounter.Add(ctx, 1)
}

// pushLatency appends ms to the rolling sample window, dropping the oldest
// sample once the window is full. Caller must hold m.mu.
func (m *Metrics) pushLatency(ms float64) {
	if len(m.latencies) >= maxLatencySamples {
		m.latencies = m.latencies[1:]
	}
	m.latencies = append(m.latencies, ms)
}

// Snapshot is a point-in-time, immutable copy of Metrics suitable for JSON
// serialization by the /metrics handler.
type Snapshot struct {
	Processed int64   `json:"processed"`
	Succeeded int64   `json:"succeeded"`
	Failed    int64   `json:"failed"`
	Retried   int64   `json:"retried"`
	DLQRouted int64   `json:"dlqRouted"`
	P50Ms     float64 `json:"p50Ms"`
	P95Ms     float64 `json:"p95Ms"`
	P99Ms     float64 `json:"p99Ms"`
}

// Snapshot computes latency percentiles over the current rolling window and
// returns a copy of the counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Processed: m.processed,
		Succeeded: m.succeeded,
		Failed:    m.failed,
		Retried:   m.retried,
		DLQRouted: m.dlqRouted,
	}
	if len(m.latencies) == 0 {
		return s
	}
	sorted := append([]float64(nil), m.latencies...)
	sort.Float64s(sorted)
	s.P50Ms = percentile(sorted, 0.50)
	s.P95Ms = percentile(sorted, 0.95)
	s.P99Ms = percentile(sorted, 0.99)
	return s
}

// percentile expects sorted ascending. p in [0,1].
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
