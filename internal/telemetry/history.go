package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// HistorySink durably records periodic metrics snapshots for operator
// dashboards beyond the live in-process /metrics view. It is optional: a
// worker with no CLICKHOUSE_DSN configured simply never constructs one.
type HistorySink struct {
	conn    clickhouse.Conn
	table   string
	timeout time.Duration
}

// NewHistorySink opens a ClickHouse connection for dsn and verifies it with
// a bounded ping, following the existing newClickHouseTokenMetrics
// construction sequence (ParseDSN, Open, Ping).
func NewHistorySink(ctx context.Context, dsn string) (*HistorySink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("telemetry: parse clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open clickhouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("telemetry: clickhouse ping: %w", err)
	}

	return &HistorySink{conn: conn, table: "pipeline_metrics_history", timeout: 5 * time.Second}, nil
}

// Record inserts one snapshot row for serviceName at the current time.
// Failures are returned to the caller, who treats them as best-effort
// (the history sink is an operator convenience, not part of the delivery
// guarantee).
func (h *HistorySink) Record(ctx context.Context, serviceName string, snap Snapshot) error {
	if h == nil || h.conn == nil {
		return nil
	}
	execCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	query := fmt.Sprintf(`
INSERT INTO %s (service, ts, processed, succeeded, failed, retried, dlq_routed, p50_ms, p95_ms, p99_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, h.table)

	return h.conn.Exec(execCtx, query,
		serviceName, time.Now(),
		snap.Processed, snap.Succeeded, snap.Failed, snap.Retried, snap.DLQRouted,
		snap.P50Ms, snap.P95Ms, snap.P99Ms,
	)
}

// Close releases the underlying ClickHouse connection.
func (h *HistorySink) Close() error {
	if h == nil || h.conn == nil {
		return nil
	}
	return h.conn.Close()
}
