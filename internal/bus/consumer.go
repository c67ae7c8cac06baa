package bus

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Handler processes one decoded bus entry. A returned error only affects
// logging/metrics at the call site — per SPEC_FULL.md §4.1, the consumer
// loop acks on *any* handler return (success or error); only a handler
// panic (recovered by the caller one layer up) leaves an entry pending for
// later reclaim.
type Handler func(ctx context.Context, entry Entry) error

// Consumer drives the read-claim-dispatch loop for one (stream, group,
// consumer name) tuple.
type Consumer struct {
	bus          *Client
	stream       string
	group        string
	consumerName string

	// PendingCheckInterval controls how often the pending list is scanned
	// for idle entries. Default 60s.
	PendingCheckInterval time.Duration
	// PendingIdleThreshold is how long an entry must sit unacked before
	// it's eligible for reclaim or DLQ. Default 300s.
	PendingIdleThreshold time.Duration
	// MaxClaimFailures is the delivery-count threshold at or beyond which
	// an idle entry is routed to the DLQ sink instead of being reclaimed.
	// Default 3.
	MaxClaimFailures int64
	// DLQSink, if set, receives idle entries whose delivery count has
	// reached MaxClaimFailures, together with that delivery count.
	DLQSink func(ctx context.Context, entry Entry, deliveryCount int64) error

	lastPendingScan time.Time
}

// NewConsumer constructs a Consumer with spec-default tuning. Callers can
// tweak PendingCheckInterval/PendingIdleThreshold/MaxClaimFailures/DLQSink
// before calling Consume.
func (c *Client) NewConsumer(stream, group, consumerName string) *Consumer {
	return &Consumer{
		bus:                  c,
		stream:               stream,
		group:                group,
		consumerName:         consumerName,
		PendingCheckInterval: 60 * time.Second,
		PendingIdleThreshold: 300 * time.Second,
		MaxClaimFailures:     3,
	}
}

// ensureGroup creates the consumer group at position "0" (replay all) if it
// doesn't already exist, and creates the stream itself if absent.
func (cs *Consumer) ensureGroup(ctx context.Context) error {
	err := cs.bus.rdb.XGroupCreateMkStream(ctx, cs.stream, cs.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Consume runs the read-claim-dispatch loop described in SPEC_FULL.md §4.1
// until shutdown() reports true. blockMs bounds each group-read; count
// bounds how many new entries are fetched per iteration.
func (cs *Consumer) Consume(ctx context.Context, handler Handler, blockMs int, count int64, shutdown func() bool) error {
	if err := cs.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		if shutdown != nil && shutdown() {
			return nil
		}

		if time.Since(cs.lastPendingScan) >= cs.PendingCheckInterval {
			cs.reclaimIdle(ctx, handler)
			cs.lastPendingScan = time.Now()
		}

		streams, err := cs.bus.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    cs.group,
			Consumer: cs.consumerName,
			Streams:  []string{cs.stream, ">"},
			Count:    count,
			Block:    time.Duration(blockMs) * time.Millisecond,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if isGroupMissing(err) {
				log.Warn().Str("stream", cs.stream).Str("group", cs.group).Msg("bus_group_missing_recreating")
				if gerr := cs.ensureGroup(ctx); gerr != nil {
					log.Error().Err(gerr).Msg("bus_group_recreate_failed")
				}
				sleep(ctx, 2*time.Second)
				continue
			}
			log.Error().Err(err).Str("stream", cs.stream).Msg("bus_read_error")
			sleep(ctx, 1*time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				cs.dispatch(ctx, handler, toEntry(msg))
			}
		}
	}
}

// dispatch invokes handler, recovering from a panic so a single poison
// handler invocation can never crash the process, and acks per the
// "ack on any handler return" rule; a recovered panic is not acked.
func (cs *Consumer) dispatch(ctx context.Context, handler Handler, entry Entry) {
	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("entry_id", entry.ID).Msg("bus_handler_panic")
				// A panic leaves the entry pending; it becomes eligible for
				// reclaim on the next pending scan rather than being acked.
				panicked = true
			}
		}()
		if err := handler(ctx, entry); err != nil {
			log.Error().Err(err).Str("entry_id", entry.ID).Str("stream", cs.stream).Msg("bus_handler_error")
		}
	}()
	if panicked {
		return
	}
	if err := cs.bus.rdb.XAck(ctx, cs.stream, cs.group, entry.ID).Err(); err != nil {
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("bus_ack_failed")
	}
}

// reclaimIdle scans the group's pending list and, for each entry idle past
// PendingIdleThreshold, either routes it to the DLQ (if its delivery count
// has reached MaxClaimFailures and a sink is configured) or claims it for
// this consumer and re-dispatches it immediately.
func (cs *Consumer) reclaimIdle(ctx context.Context, handler Handler) {
	pending, err := cs.bus.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: cs.stream,
		Group:  cs.group,
		Start:  "-",
		End:    "+",
		Count:  100,
		Idle:   cs.PendingIdleThreshold,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Error().Err(err).Str("stream", cs.stream).Msg("bus_pending_scan_error")
		}
		return
	}

	for _, p := range pending {
		if p.RetryCount >= cs.MaxClaimFailures && cs.DLQSink != nil {
			entry, found, rerr := cs.bus.ReadByID(ctx, cs.stream, p.ID)
			if rerr != nil {
				log.Error().Err(rerr).Str("entry_id", p.ID).Msg("bus_read_for_dlq_failed")
				continue
			}
			if !found {
				// Entry trimmed from the stream already; just ack to drop it.
				_ = cs.bus.rdb.XAck(ctx, cs.stream, cs.group, p.ID).Err()
				continue
			}
			if serr := cs.DLQSink(ctx, entry, p.RetryCount); serr != nil {
				log.Error().Err(serr).Str("entry_id", p.ID).Msg("bus_dlq_sink_failed")
				continue
			}
			if aerr := cs.bus.rdb.XAck(ctx, cs.stream, cs.group, p.ID).Err(); aerr != nil {
				log.Error().Err(aerr).Str("entry_id", p.ID).Msg("bus_dlq_ack_failed")
			}
			continue
		}

		claimed, err := cs.bus.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   cs.stream,
			Group:    cs.group,
			Consumer: cs.consumerName,
			MinIdle:  cs.PendingIdleThreshold,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			log.Error().Err(err).Str("entry_id", p.ID).Msg("bus_claim_failed")
			continue
		}
		for _, msg := range claimed {
			log.Info().Str("entry_id", msg.ID).Str("stream", cs.stream).Int64("retry_count", p.RetryCount).Msg("bus_idle_reclaimed")
			cs.dispatch(ctx, handler, toEntry(msg))
		}
	}
}

func isGroupMissing(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
