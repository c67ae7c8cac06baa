package aggregator

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"mediapipeline/internal/bus"
	"mediapipeline/internal/config"
	"mediapipeline/internal/model"
	"mediapipeline/internal/runtime"
	"mediapipeline/internal/telemetry"
)

const (
	streamMLInsightsResults    = "ml-insights-results"
	streamFaceDetectionResults = "face-detection-results"
	streamPostAggregationTrigger = "post-aggregation-trigger"
	streamPostInsightsEnriched = "post-insights-enriched"
	aggregatorGroup            = "aggregator-workers"
)

// Aggregator drains the two insight streams continuously into a shared
// per-post state registry, and processes triggers by polling that registry
// until completeness or a deadline, per spec §4.5.
type Aggregator struct {
	Bus     bus.Bus
	Cfg     config.AggregatorConfig
	Metrics *telemetry.Metrics
	// Tracer starts one span per trigger processed, carrying correlationId,
	// spanning the full fan-in wait so the delay between "trigger received"
	// and "enriched post published" is visible end to end. A noop tracer is
	// a valid zero value.
	Tracer trace.Tracer

	resultsConsumer *bus.Consumer
	faceConsumer    *bus.Consumer
	triggerConsumer *bus.Consumer

	reg *registry

	started bool
}

// New builds an Aggregator bound to busClient, registering its dedicated
// consumer groups on every stream it reads. All three consumers share one
// process-unique consumer name (SPEC_FULL.md §4.1.A) — collision only
// matters across processes of the same worker type, not across the
// different streams one process happens to read.
func New(busClient bus.Bus, cfg config.AggregatorConfig, metrics *telemetry.Metrics) *Aggregator {
	consumerName := runtime.ConsumerName()
	return &Aggregator{
		Bus:             busClient,
		Cfg:             cfg,
		Metrics:         metrics,
		resultsConsumer: busClient.NewConsumer(streamMLInsightsResults, aggregatorGroup, consumerName),
		faceConsumer:    busClient.NewConsumer(streamFaceDetectionResults, aggregatorGroup, consumerName),
		triggerConsumer: busClient.NewConsumer(streamPostAggregationTrigger, aggregatorGroup, consumerName),
		reg:             newRegistry(),
	}
}

// Ready reports whether Run has begun, for the /ready handler.
func (a *Aggregator) Ready() bool { return a.started }

// Run drives three concurrent consume loops — the two insight-stream
// drainers feeding the shared registry, and the trigger loop that reads
// trigger and, for each, blocks polling the registry until completeness or
// its deadline — until shutdown() reports true.
func (a *Aggregator) Run(ctx context.Context, shutdown func() bool) error {
	a.started = true
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.resultsConsumer.Consume(ctx, a.handleInsightResult, 5000, 20, shutdown)
	})
	g.Go(func() error {
		return a.faceConsumer.Consume(ctx, a.handleFaceResult, 5000, 20, shutdown)
	})
	g.Go(func() error {
		return a.triggerConsumer.Consume(ctx, a.handleTrigger, 2000, 1, shutdown)
	})

	return g.Wait()
}

func (a *Aggregator) handleInsightResult(ctx context.Context, entry bus.Entry) error {
	postID := entry.Fields["postId"]
	mediaID := entry.Fields["mediaId"]
	service := entry.Fields["service"]
	if postID == "" || mediaID == "" || service == "" {
		return nil
	}
	a.reg.getOrCreate(postID).recordResult(mediaID, service, entry.Fields)
	return nil
}

func (a *Aggregator) handleFaceResult(ctx context.Context, entry bus.Entry) error {
	postID := entry.Fields["postId"]
	mediaID := entry.Fields["mediaId"]
	if postID == "" || mediaID == "" {
		return nil
	}
	count, _ := strconv.Atoi(entry.Fields["facesDetected"])
	a.reg.getOrCreate(postID).recordFaces(mediaID, count)
	return nil
}

// mediaInsightsEntry is the decoded shape of one element of the trigger's
// optional mediaInsights seed blob: a pre-computed result the caller already
// has, so the aggregator doesn't have to wait for it to arrive on the bus.
type mediaInsightsEntry struct {
	MediaID string            `json:"mediaId"`
	Service string            `json:"service"`
	Fields  map[string]string `json:"fields"`
	Faces   int               `json:"facesDetected"`
}

func (a *Aggregator) handleTrigger(ctx context.Context, entry bus.Entry) error {
	postID := entry.Fields["postId"]
	if postID == "" {
		log.Error().Str("entry_id", entry.ID).Msg("aggregator_trigger_missing_post_id")
		return nil
	}

	if a.Tracer != nil {
		var span trace.Span
		ctx, span = a.Tracer.Start(ctx, "aggregator.handleTrigger", trace.WithAttributes(
			attribute.String("postId", postID),
			attribute.String("correlationId", entry.Fields["correlationId"]),
		))
		defer span.End()
	}

	state := a.reg.getOrCreate(postID)

	if raw := entry.Fields["mediaInsights"]; raw != "" {
		var seeds []mediaInsightsEntry
		if err := json.Unmarshal([]byte(raw), &seeds); err != nil {
			log.Warn().Err(err).Str("postId", postID).Msg("aggregator_seed_decode_failed")
		}
		for _, seed := range seeds {
			if seed.Service == model.ServiceFaceDetect {
				state.recordFaces(seed.MediaID, seed.Faces)
				continue
			}
			state.recordResult(seed.MediaID, seed.Service, seed.Fields)
		}
	}

	expected := decodeExpectedMediaIDs(entry.Fields["allMediaIds"])
	totalMedia, _ := strconv.Atoi(entry.Fields["totalMedia"])

	deadline := time.Now().Add(a.Cfg.MaxWait)
	for {
		snapshot := state.snapshot()
		if isComplete(snapshot, expected, totalMedia) {
			break
		}
		if time.Now().After(deadline) {
			logIncomplete(postID, snapshot, expected)
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.Cfg.PollInterval):
		}
	}

	snapshot := state.snapshot()
	enriched := computeEnrichedPost(postID, entry.Fields["correlationId"], snapshot)
	enriched.Timestamp = time.Now().UTC()

	if err := a.publish(ctx, enriched); err != nil {
		log.Error().Err(err).Str("postId", postID).Msg("aggregator_publish_failed")
		return err
	}

	a.reg.delete(postID)
	return nil
}

func decodeExpectedMediaIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

// isComplete reports whether every expected media id (by allMediaIds when
// given, else by the count of media ids seen so far reaching totalMedia)
// has the required core service set.
func isComplete(media map[string]*imageState, expected []string, totalMedia int) bool {
	if len(expected) > 0 {
		for _, id := range expected {
			s, ok := media[id]
			if !ok || !s.hasCoreServices(model.RequiredCoreServices) {
				return false
			}
		}
		return true
	}
	if totalMedia > 0 {
		complete := 0
		for _, s := range media {
			if s.hasCoreServices(model.RequiredCoreServices) {
				complete++
			}
		}
		return complete >= totalMedia
	}
	// Neither hint present: can't determine completeness, so only the
	// deadline can end the loop (spec §4.5's triggering contract requires
	// at least one hint, but the loop degrades safely if both are absent).
	return false
}

func logIncomplete(postID string, media map[string]*imageState, expected []string) {
	missing := map[string][]string{}
	for _, id := range expected {
		s, ok := media[id]
		if !ok {
			missing[id] = model.RequiredCoreServices
			continue
		}
		for _, svc := range model.RequiredCoreServices {
			if !s.services[svc] {
				missing[id] = append(missing[id], svc)
			}
		}
	}
	log.Warn().Str("postId", postID).Interface("missing", missing).Msg("aggregator_timeout_emitting_partial")
}

func (a *Aggregator) publish(ctx context.Context, p model.EnrichedPost) error {
	tags, err := json.Marshal(p.AllAiTags)
	if err != nil {
		return err
	}
	scenes, err := json.Marshal(p.AllAiScenes)
	if err != nil {
		return err
	}
	aggTags, err := json.Marshal(p.AggregatedTags)
	if err != nil {
		return err
	}
	aggScenes, err := json.Marshal(p.AggregatedScenes)
	if err != nil {
		return err
	}

	fields := map[string]string{
		"postId":               p.PostID,
		"mediaCount":           strconv.Itoa(p.MediaCount),
		"allAiTags":            string(tags),
		"allAiScenes":          string(scenes),
		"aggregatedTags":       string(aggTags),
		"aggregatedScenes":     string(aggScenes),
		"totalFaces":           strconv.Itoa(p.TotalFaces),
		"isSafe":               strconv.FormatBool(p.IsSafe),
		"moderationConfidence": strconv.FormatFloat(p.ModerationConfidence, 'f', -1, 64),
		"inferredEventType":    p.InferredEventType,
		"combinedCaption":      p.CombinedCaption,
		"hasMultipleImages":    strconv.FormatBool(p.HasMultipleImages),
		"timestamp":            p.Timestamp.Format(time.RFC3339Nano),
		"producedAt":           time.Now().UTC().Format(time.RFC3339Nano),
		"version":              p.Version,
	}
	if p.CorrelationID != "" {
		fields["correlationId"] = p.CorrelationID
	}

	if a.Metrics != nil {
		a.Metrics.RecordSuccess(ctx, 0)
	}
	_, err = a.Bus.Append(ctx, streamPostInsightsEnriched, fields, 0)
	return err
}
