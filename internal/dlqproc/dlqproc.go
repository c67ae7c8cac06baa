// Package dlqproc processes dead-lettered envelopes from ai-processing-dlq:
// it logs each envelope in full, optionally archives it to S3, and
// optionally re-appends the original job to post-image-processing for one
// more attempt when DLQ_AUTO_RETRY is enabled, per spec §4.7.
package dlqproc

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"mediapipeline/internal/bus"
	"mediapipeline/internal/config"
	"mediapipeline/internal/dlqarchive"
	"mediapipeline/internal/model"
	"mediapipeline/internal/runtime"
	"mediapipeline/internal/telemetry"
)

const (
	streamAIProcessingDLQ      = "ai-processing-dlq"
	streamPostImageProcessing = "post-image-processing"
	dlqGroup                  = "dlq-workers"
)

// Processor drains ai-processing-dlq, logging and optionally archiving and
// retrying each envelope.
type Processor struct {
	Bus      bus.Bus
	Cfg      config.DLQConfig
	Archiver *dlqarchive.Archiver
	Metrics  *telemetry.Metrics

	consumer *bus.Consumer
	started  bool
}

// New builds a Processor bound to busClient.
func New(busClient bus.Bus, cfg config.DLQConfig, archiver *dlqarchive.Archiver, metrics *telemetry.Metrics) *Processor {
	return &Processor{
		Bus:      busClient,
		Cfg:      cfg,
		Archiver: archiver,
		Metrics:  metrics,
		consumer: busClient.NewConsumer(streamAIProcessingDLQ, dlqGroup, runtime.ConsumerName()),
	}
}

// Ready reports whether Run has begun, for the /ready handler.
func (p *Processor) Ready() bool { return p.started }

// Run drives the consume loop until shutdown() reports true.
func (p *Processor) Run(ctx context.Context, shutdown func() bool) error {
	p.started = true
	return p.consumer.Consume(ctx, p.handle, 5000, 10, shutdown)
}

func (p *Processor) handle(ctx context.Context, entry bus.Entry) error {
	dlq := decodeDLQEntry(entry.Fields)

	log.Error().
		Str("originalMessageId", dlq.OriginalMessageID).
		Str("service", dlq.Service).
		Str("error", dlq.Error).
		Str("errorType", dlq.ErrorType).
		Int("retryCount", dlq.RetryCount).
		Str("originalData", dlq.OriginalData).
		Time("timestamp", dlq.Timestamp).
		Str("version", dlq.Version).
		Msg("dlq_entry_received")

	if p.Archiver != nil {
		if err := p.Archiver.Archive(ctx, dlq); err != nil {
			log.Warn().Err(err).Str("originalMessageId", dlq.OriginalMessageID).Msg("dlq_archive_failed")
		}
	}

	if p.Metrics != nil {
		p.Metrics.RecordDLQ(ctx)
	}

	if !p.Cfg.AutoRetry {
		return nil
	}
	return p.retry(ctx, dlq)
}

// retry decodes the original job fields and re-appends them to
// post-image-processing, marking dlqRetry/dlqOriginalService so downstream
// consumers can detect a retry loop.
func (p *Processor) retry(ctx context.Context, dlq model.DLQEntry) error {
	var original map[string]string
	if err := json.Unmarshal([]byte(dlq.OriginalData), &original); err != nil {
		log.Error().Err(err).Str("originalMessageId", dlq.OriginalMessageID).Msg("dlq_retry_decode_failed")
		return nil
	}

	fields := buildRetryFields(dlq, original)

	_, err := p.Bus.Append(ctx, streamPostImageProcessing, fields, 0)
	if err != nil {
		log.Error().Err(err).Str("originalMessageId", dlq.OriginalMessageID).Msg("dlq_retry_append_failed")
		return err
	}
	log.Info().Str("originalMessageId", dlq.OriginalMessageID).Msg("dlq_retry_requeued")
	return nil
}

// buildRetryFields marks a requeued job with dlqRetry/dlqOriginalService so
// downstream consumers can detect a retry loop.
func buildRetryFields(dlq model.DLQEntry, original map[string]string) map[string]string {
	fields := make(map[string]string, len(original)+2)
	for k, v := range original {
		fields[k] = v
	}
	fields["dlqRetry"] = "true"
	fields["dlqOriginalService"] = dlq.Service
	fields["producedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	return fields
}

func decodeDLQEntry(fields map[string]string) model.DLQEntry {
	retryCount, _ := strconv.Atoi(fields["retryCount"])
	ts, _ := time.Parse(time.RFC3339Nano, fields["timestamp"])
	return model.DLQEntry{
		OriginalMessageID: fields["originalMessageId"],
		OriginalData:      fields["originalData"],
		Service:           fields["service"],
		Error:             fields["error"],
		ErrorType:         fields["errorType"],
		RetryCount:        retryCount,
		Timestamp:         ts,
		Version:           fields["version"],
	}
}
