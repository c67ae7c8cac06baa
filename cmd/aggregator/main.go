// Command aggregator fans in per-image analysis results and face-detection
// results, polling each post-aggregation-trigger until completeness or a
// deadline, then publishes one EnrichedPost to post-insights-enriched.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"mediapipeline/internal/aggregator"
	"mediapipeline/internal/bus"
	"mediapipeline/internal/config"
	"mediapipeline/internal/runtime"
	"mediapipeline/internal/telemetry"
)

const serviceName = "post-aggregator"

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

	agg := aggregator.New(busClient, cfg.Aggregator, metrics)
	agg.Tracer = tracer

	shutdown := &runtime.ShutdownFlag{}
	runtime.WatchSignals(shutdown)
	go telemetry.RunHistoryLoop(ctx, historySink, serviceName, metrics, 30*time.Second, shutdown.Requested)

	health := telemetry.NewServer(cfg.Health.Port, metrics, agg.Ready)
	health.Start()
	defer health.Close()

	log.Info().Msg("aggregator_starting")
	if err := agg.Run(ctx, shutdown.Requested); err != nil {
		log.Fatal().Err(err).Msg("aggregator loop exited with error")
	}
}
