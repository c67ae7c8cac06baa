package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunHistoryLoop periodically records a metrics snapshot to sink until
// shutdown() reports true or ctx is cancelled. A nil sink makes this a
// no-op, so callers can launch it unconditionally behind a nil check.
func RunHistoryLoop(ctx context.Context, sink *HistorySink, serviceName string, metrics *Metrics, interval time.Duration, shutdown func() bool) {
	if sink == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if shutdown != nil && shutdown() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sink.Record(ctx, serviceName, metrics.Snapshot()); err != nil {
				log.Warn().Err(err).Str("service", serviceName).Msg("history_record_failed")
			}
		}
	}
}
