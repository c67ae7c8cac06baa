// Command moderation-worker consumes post-image-processing, runs the
// configured vision platform's content-moderation check on each image, and
// publishes an AnalysisResult onto ml-insights-results.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"mediapipeline/internal/config"
	"mediapipeline/internal/imagefetch"
	"mediapipeline/internal/model"
	"mediapipeline/internal/providers"
	"mediapipeline/internal/runtime"
	"mediapipeline/internal/ssrf"
	"mediapipeline/internal/telemetry"

	"mediapipeline/internal/bus"
)

const serviceName = model.ServiceModeration

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}
	telemetry.InitLogger(serviceName, cfg.LogPath, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	meter, otelShutdown, err := telemetry.InitMeterProvider(ctx, serviceName, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without metrics export")
	}
	if otelShutdown != nil {
		defer func() { _ = otelShutdown(context.Background()) }()
	}
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init metrics")
	}

	tracer, traceShutdown, err := telemetry.InitTracerProvider(ctx, serviceName, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		log.Warn().Err(err).Msg("otel tracing init failed, continuing without it")
	}
	if traceShutdown != nil {
		defer func() { _ = traceShutdown(context.Background()) }()
	}

	var historySink *telemetry.HistorySink
	if cfg.ClickHouseDSN != "" {
		historySink, err = telemetry.NewHistorySink(ctx, cfg.ClickHouseDSN)
		if err != nil {
			log.Warn().Err(err).Msg("clickhouse history sink init failed, continuing without it")
		} else {
			defer historySink.Close()
		}
	}

	busClient, err := bus.NewClient(ctx, cfg.Bus.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to bus")
	}
	defer busClient.Close()

	registry := runtime.BuildRegistry(cfg)
	platform := providers.ResolvePlatform(providers.TaskModeration, "")
	bundle, err := registry.Resolve(platform)
	if err != nil {
		log.Fatal().Err(err).Str("platform", platform).Msg("failed to construct provider")
	}
	if bundle.Moderator == nil {
		log.Fatal().Str("platform", platform).Msg("platform does not implement moderation")
	}

	consumer := busClient.NewConsumer(runtime.InputStream, "moderation-workers", runtime.ConsumerName())
	consumer.DLQSink = func(ctx context.Context, entry bus.Entry, deliveryCount int64) error {
		metrics.RecordDLQ(ctx)
		_, err := busClient.Append(ctx, "ai-processing-dlq", map[string]string{
			"originalMessageId": entry.ID,
			"service":           serviceName,
			"error":             "exceeded max claim failures",
			"errorType":         "claim_exhausted",
			"producedAt":        time.Now().UTC().Format(time.RFC3339Nano),
		}, 0)
		return err
	}

	worker := runtime.NewModerationWorker(runtime.AnalysisWorker{
		Bus:       busClient,
		Consumer:  consumer,
		Validator: ssrf.NewValidator(cfg.AllowedImageDomains),
		Fetcher:   imagefetch.New(cfg.ImageFetchTimeout, cfg.Retry),
		Metrics:   metrics,
		Retry:     cfg.Retry,
		Retryable: runtime.DefaultRetryable,
		Tracer:    tracer,
	}, bundle.Moderator)

	shutdown := &runtime.ShutdownFlag{}
	runtime.WatchSignals(shutdown)
	go telemetry.RunHistoryLoop(ctx, historySink, serviceName, metrics, 30*time.Second, shutdown.Requested)

	health := telemetry.NewServer(cfg.Health.Port, metrics, worker.Ready)
	health.Start()
	defer health.Close()

	log.Info().Str("platform", platform).Msg("moderation_worker_starting")
	if err := worker.Run(ctx, 5000, 10, shutdown.Requested); err != nil {
		log.Fatal().Err(err).Msg("worker loop exited with error")
	}
}
