// Package bus implements the log-bus abstraction described in
// SPEC_FULL.md §4.1: append-only Redis streams with consumer groups,
// cursor/ack semantics, idle-message reclaim, and bounded retention.
//
// The primitive maps directly onto Redis Streams: XADD for append, XREADGROUP
// for group-cursored reads, XACK for acknowledgment, XPENDING/XCLAIM for
// lease transfer on reclaim, and approximate XTRIM for bounded retention.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultMaxLen is the approximate-trim bound applied to every append when
// the caller doesn't specify one (SPEC_FULL.md invariant 5).
const DefaultMaxLen = 10000

// Entry is one decoded bus entry: an opaque monotonic id plus its flat
// string-valued field map (SPEC_FULL.md §6 wire format).
type Entry struct {
	ID     string
	Fields map[string]string
}

// Bus is the minimal surface workers depend on; it is satisfied by *Client.
type Bus interface {
	Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error)
	AppendBatch(ctx context.Context, stream string, entries []map[string]string, maxLen int64) ([]string, error)
	NewConsumer(stream, group, consumerName string) *Consumer
	ReadByID(ctx context.Context, stream, id string) (Entry, bool, error)
	Close() error
}

// Client is a thin wrapper around redis.UniversalClient implementing Bus.
type Client struct {
	rdb redis.UniversalClient
}

// NewClient builds a bus Client from a Redis connection URL
// (e.g. redis://host:6379/0).
func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("bus: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		return nil, fmt.Errorf("bus: ping redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewClientFromUniversal wraps an already-constructed redis.UniversalClient,
// useful when a process shares one Redis connection across several roles.
func NewClientFromUniversal(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// Append appends a single entry to stream, applying an approximate trim to
// maxLen (or DefaultMaxLen if maxLen <= 0), satisfying invariant 5.
func (c *Client) Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("bus: xadd %s: %w", stream, err)
	}
	return id, nil
}

// AppendBatch is the pipelined variant of Append, returning one id per
// entry in order.
func (c *Client) AppendBatch(ctx context.Context, stream string, entries []map[string]string, maxLen int64) ([]string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if len(entries) == 0 {
		return nil, nil
	}
	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(entries))
	for _, fields := range entries {
		values := make(map[string]any, len(fields))
		for k, v := range fields {
			values[k] = v
		}
		cmds = append(cmds, pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			MaxLen: maxLen,
			Approx: true,
			Values: values,
		}))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("bus: pipelined xadd %s: %w", stream, err)
	}
	ids := make([]string, len(cmds))
	for i, cmd := range cmds {
		ids[i] = cmd.Val()
	}
	return ids, nil
}

// ReadByID reads a single historical entry by its id, used by the consumer
// loop to look up the original payload for an idle entry that's about to
// be DLQ'd.
func (c *Client) ReadByID(ctx context.Context, stream, id string) (Entry, bool, error) {
	res, err := c.rdb.XRange(ctx, stream, id, id).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("bus: xrange %s %s: %w", stream, id, err)
	}
	if len(res) == 0 {
		return Entry{}, false, nil
	}
	return toEntry(res[0]), true, nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func toEntry(m redis.XMessage) Entry {
	fields := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		if s, ok := v.(string); ok {
			fields[k] = s
		} else {
			fields[k] = fmt.Sprintf("%v", v)
		}
	}
	return Entry{ID: m.ID, Fields: fields}
}
