// Command indexer materializes search-store documents from the
// system-of-record whenever an es-sync-queue event arrives, batching writes
// by size or timeout.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"mediapipeline/internal/bus"
	"mediapipeline/internal/config"
	"mediapipeline/internal/indexer"
	"mediapipeline/internal/runtime"
	"mediapipeline/internal/searchstore"
	"mediapipeline/internal/sor"
	"mediapipeline/internal/telemetry"
)

const serviceName = "indexer"

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

	store, err := sor.Open(ctx, cfg.Indexer.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open system-of-record store")
	}
	defer store.Close()

	search, err := searchstore.New(cfg.Indexer.ElasticsearchURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build search-store client")
	}

	ix := indexer.New(busClient, cfg.Indexer, store, search, metrics)

	shutdown := &runtime.ShutdownFlag{}
	runtime.WatchSignals(shutdown)
	go telemetry.RunHistoryLoop(ctx, historySink, serviceName, metrics, 30*time.Second, shutdown.Requested)

	health := telemetry.NewServer(cfg.Health.Port, metrics, ix.Ready)
	health.Start()
	defer health.Close()

	log.Info().Msg("indexer_starting")
	if err := ix.Run(ctx, shutdown.Requested); err != nil {
		log.Fatal().Err(err).Msg("indexer loop exited with error")
	}
}
