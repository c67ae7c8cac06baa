// Package runtime implements the worker skeleton shared by the five
// analysis workers: config-driven bus consumer, SSRF-checked image fetch,
// a retry envelope around the task-specific provider call, result
// publication, and DLQ emission on retry exhaustion. Modeled on the
// existing top-level recover-and-log handler wrapping (stream_agents.go),
// generalized into a reusable envelope.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mediapipeline/internal/bus"
	"mediapipeline/internal/config"
	"mediapipeline/internal/imagefetch"
	"mediapipeline/internal/model"
	"mediapipeline/internal/ssrf"
	"mediapipeline/internal/telemetry"
)

const (
	streamPostImageProcessing = "post-image-processing"
	streamAIProcessingDLQ     = "ai-processing-dlq"
)

// Analyze is the task-specific step of an analysis worker: given decoded
// image bytes, produce the fields to merge into the output AnalysisResult.
// A returned error is classified by Retryable to decide whether the retry
// envelope should retry or give up immediately.
type Analyze func(ctx context.Context, image []byte) (map[string]any, error)

// Retryable classifies an error from image fetch or provider invocation as
// transient (worth retrying) per spec §7's error taxonomy. Unrecognized
// errors are treated as non-retryable so a single bad payload can't loop
// forever inside one handler invocation.
type Retryable func(err error) bool

// AnalysisWorker runs the per-message flow of spec §4.2/§4.4 for one task.
type AnalysisWorker struct {
	ServiceName  string
	OutputStream string

	Bus       bus.Bus
	Consumer  *bus.Consumer
	Validator *ssrf.Validator
	Fetcher   *imagefetch.Fetcher
	Metrics   *telemetry.Metrics
	Retry     config.RetryConfig
	// Tracer starts one span per entry handled, carrying correlationId so a
	// trace can be followed across the image fetch and provider call the
	// handler makes within it. A noop tracer (otel.Tracer(name) with no
	// exporter configured) is a valid zero value.
	Tracer trace.Tracer

	Analyze   Analyze
	Retryable Retryable

	startedAt time.Time
	started   bool
}

// Ready reports whether Consume has begun, for the /ready handler.
func (w *AnalysisWorker) Ready() bool { return w.started }

// Run drives the consume loop until shutdown reports true.
func (w *AnalysisWorker) Run(ctx context.Context, blockMs int, count int64, shutdown func() bool) error {
	w.started = true
	w.startedAt = time.Now()
	return w.Consumer.Consume(ctx, w.handle, blockMs, count, shutdown)
}

func (w *AnalysisWorker) handle(ctx context.Context, entry bus.Entry) error {
	start := time.Now()

	job, err := decodeJob(entry)
	if err != nil {
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("analysis_decode_error")
		return nil // payload invalid: logged and acked, never DLQ'd
	}

	if w.Tracer != nil {
		var span trace.Span
		ctx, span = w.Tracer.Start(ctx, w.ServiceName+".handle", trace.WithAttributes(
			attribute.String("mediaId", job.MediaID),
			attribute.String("postId", job.PostID),
			attribute.String("correlationId", job.CorrelationID),
		))
		defer span.End()
	}

	if err := w.Validator.Check(job.MediaURL); err != nil {
		log.Error().Err(err).Str("mediaId", job.MediaID).Str("service", w.ServiceName).Msg("analysis_ssrf_reject")
		return nil // SSRF/policy reject: permanent, acked and dropped
	}

	fields, err := w.runWithRetry(ctx, job)
	if err != nil {
		w.Metrics.RecordFailure(ctx, time.Since(start))
		if derr := w.sendToDLQ(ctx, entry, err); derr != nil {
			log.Error().Err(derr).Str("entry_id", entry.ID).Msg("analysis_dlq_emit_failed")
		}
		return nil // always return normally so the bus can ack
	}

	fields["mediaId"] = job.MediaID
	fields["postId"] = job.PostID
	fields["service"] = w.ServiceName
	fields["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	fields["producedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	fields["version"] = model.CurrentVersion
	if job.CorrelationID != "" {
		fields["correlationId"] = job.CorrelationID
	}

	strFields, err := encodeFields(fields)
	if err != nil {
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("analysis_encode_error")
		return nil
	}

	if _, err := w.Bus.Append(ctx, w.OutputStream, strFields, 0); err != nil {
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("analysis_publish_error")
		w.Metrics.RecordFailure(ctx, time.Since(start))
		return nil
	}

	w.Metrics.RecordSuccess(ctx, time.Since(start))
	return nil
}

// runWithRetry executes fetch+analyze, retrying on a retryable error with
// doubling backoff up to MaxRetries, per spec §4.2's retry envelope.
func (w *AnalysisWorker) runWithRetry(ctx context.Context, job jobInput) (map[string]any, error) {
	delay := w.Retry.InitialDelay

	var lastErr error
	for attempt := 0; attempt <= w.Retry.MaxRetries; attempt++ {
		image, err := w.Fetcher.Fetch(ctx, job.MediaURL)
		if err == nil {
			fields, aerr := w.Analyze(ctx, image)
			if aerr == nil {
				return fields, nil
			}
			err = aerr
		}
		lastErr = err

		retryable := w.Retryable != nil && w.Retryable(err)
		if !retryable || attempt == w.Retry.MaxRetries {
			break
		}
		w.Metrics.RecordRetry(ctx)
		log.Warn().Err(err).Int("attempt", attempt+1).Str("mediaId", job.MediaID).Str("service", w.ServiceName).Msg("analysis_retry")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = nextDelay(delay, w.Retry.BackoffMultiplier, w.Retry.MaxDelay)
	}
	return nil, lastErr
}

func (w *AnalysisWorker) sendToDLQ(ctx context.Context, entry bus.Entry, cause error) error {
	original, err := json.Marshal(entry.Fields)
	if err != nil {
		return fmt.Errorf("runtime: marshal original entry: %w", err)
	}
	dlq := model.DLQEntry{
		OriginalMessageID: entry.ID,
		OriginalData:      string(original),
		Service:           w.ServiceName,
		Error:             cause.Error(),
		ErrorType:         "provider_failure",
		RetryCount:        w.Retry.MaxRetries,
		Timestamp:         time.Now().UTC(),
		Version:           model.CurrentVersion,
	}
	fields, err := encodeFields(map[string]any{
		"originalMessageId": dlq.OriginalMessageID,
		"originalData":      dlq.OriginalData,
		"service":           dlq.Service,
		"error":             dlq.Error,
		"errorType":         dlq.ErrorType,
		"retryCount":        dlq.RetryCount,
		"timestamp":         dlq.Timestamp.Format(time.RFC3339Nano),
		"producedAt":        time.Now().UTC().Format(time.RFC3339Nano),
		"version":           dlq.Version,
	})
	if err != nil {
		return err
	}
	_, err = w.Bus.Append(ctx, streamAIProcessingDLQ, fields, 0)
	if err == nil {
		w.Metrics.RecordDLQ(ctx)
	}
	return err
}

type jobInput struct {
	MediaID       string
	PostID        string
	MediaURL      string
	CorrelationID string
}

func decodeJob(entry bus.Entry) (jobInput, error) {
	job := jobInput{
		MediaID:       entry.Fields["mediaId"],
		PostID:        entry.Fields["postId"],
		MediaURL:      entry.Fields["mediaUrl"],
		CorrelationID: entry.Fields["correlationId"],
	}
	if job.MediaID == "" || job.MediaURL == "" {
		return jobInput{}, fmt.Errorf("runtime: mediaId and mediaUrl are required")
	}
	return job, nil
}

func encodeFields(fields map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch t := v.(type) {
		case string:
			out[k] = t
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("runtime: encode field %q: %w", k, err)
			}
			out[k] = string(b)
		}
	}
	return out, nil
}

func nextDelay(cur time.Duration, multiplier float64, max time.Duration) time.Duration {
	next := time.Duration(float64(cur) * multiplier)
	if next > max {
		return max
	}
	return next
}

// DefaultRetryable classifies transport errors, context deadline errors,
// and "upstream status 5xx"-shaped errors as retryable, matching spec §7's
// transient-transport class. 4xx (other than what the fetcher/provider
// already filtered out) are treated as permanent.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sub := range []string{
		"upstream status 5", "connection reset", "timeout", "EOF",
		"breaker:", "no such host", "connection refused",
	} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

// InputStream is the shared source stream for every analysis worker.
const InputStream = streamPostImageProcessing
