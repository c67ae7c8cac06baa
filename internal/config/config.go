// Package config loads process configuration from environment variables,
// following the explicit-field style of an internal/config loader: no
// reflection-based env binding, defaults applied after reads.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// BusConfig controls the Redis Streams connection and retention.
type BusConfig struct {
	RedisURL string
	MaxLen   int64
}

// RetryConfig is the shared backoff envelope used by every worker's
// provider-call retry loop.
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// ProviderConfig selects and configures the vision-AI backend for one task.
type ProviderConfig struct {
	Platform          string
	HFEndpointURL     string
	HFAPITokenFile    string
	TimeoutSeconds    int
	SSRFCheckEnabled  bool
}

// HealthConfig controls the per-process health/readiness/metrics server.
type HealthConfig struct {
	Port int
}

// AggregatorConfig tunes the post aggregator's completeness/deadline loop.
type AggregatorConfig struct {
	PollInterval    time.Duration
	MaxWait         time.Duration
	MinImagesForFew int
}

// IndexerConfig tunes the indexing worker's batching and search-store target.
type IndexerConfig struct {
	ElasticsearchURL string
	BatchSize        int
	BatchTimeout     time.Duration
	PostgresDSN      string
}

// DLQConfig controls DLQ processing behavior.
type DLQConfig struct {
	AutoRetry     bool
	ArchiveBucket string
}

// Config aggregates every sub-config a worker binary may need; individual
// cmd/ mains read only the fields relevant to their role.
type Config struct {
	ServiceName string

	Bus        BusConfig
	Retry      RetryConfig
	Provider   ProviderConfig
	Health     HealthConfig
	Aggregator AggregatorConfig
	Indexer    IndexerConfig
	DLQ        DLQConfig

	LogLevel string
	LogPath  string

	PendingCheckIntervalSeconds int
	PendingIdleSeconds          int
	MaxClaimFailures            int64

	AllowedImageDomains []string
	ImageFetchTimeout   time.Duration

	EmbeddingDim int

	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration

	ClickHouseDSN string
}

// Load reads configuration for serviceName from the environment, applying
// godotenv.Overload() first so a local .env deterministically wins in
// development.
func Load(serviceName string) (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{ServiceName: serviceName}

	cfg.Bus.RedisURL = firstNonEmpty(os.Getenv("REDIS_URL"), "redis://localhost:6379/0")
	cfg.Bus.MaxLen = parseInt64Default(os.Getenv("BUS_MAX_LEN"), 10000)

	cfg.Retry.MaxRetries = parseIntDefault(os.Getenv("MAX_RETRIES"), 3)
	cfg.Retry.InitialDelay = parseMillisDefault(os.Getenv("INITIAL_RETRY_DELAY"), 1000*time.Millisecond)
	cfg.Retry.MaxDelay = parseMillisDefault(os.Getenv("MAX_RETRY_DELAY"), 30000*time.Millisecond)
	cfg.Retry.BackoffMultiplier = parseFloatDefault(os.Getenv("BACKOFF_MULTIPLIER"), 2.0)

	platformEnv := strings.ToUpper(serviceTaskEnvPrefix(serviceName)) + "_PLATFORM"
	cfg.Provider.Platform = firstNonEmpty(os.Getenv(platformEnv), os.Getenv("AI_PLATFORM"), "huggingface")
	cfg.Provider.HFEndpointURL = firstNonEmpty(os.Getenv(serviceTaskEnvPrefix(serviceName)+"_HF_API_URL"), os.Getenv("HF_API_URL"))
	cfg.Provider.HFAPITokenFile = firstNonEmpty(os.Getenv("HF_API_TOKEN_FILE"), "/run/secrets/hf_api_token")
	cfg.Provider.TimeoutSeconds = parseIntDefault(os.Getenv("PROVIDER_TIMEOUT_SECONDS"), 30)
	cfg.Provider.SSRFCheckEnabled = parseBoolDefault(os.Getenv("SSRF_CHECK_ENABLED"), true)

	cfg.Health.Port = parseIntDefault(os.Getenv("HEALTH_PORT"), 8080)

	cfg.Aggregator.PollInterval = parseSecondsDefault(os.Getenv("AGGREGATION_POLL_INTERVAL"), 500*time.Millisecond)
	cfg.Aggregator.MaxWait = parseSecondsDefault(os.Getenv("AGGREGATION_WAIT_SECONDS"), 6*time.Second)
	cfg.Aggregator.MinImagesForFew = parseIntDefault(os.Getenv("AGGREGATION_MIN_IMAGES"), 3)

	cfg.Indexer.ElasticsearchURL = firstNonEmpty(os.Getenv("ELASTICSEARCH_URL"), "http://localhost:9200")
	cfg.Indexer.BatchSize = parseIntDefault(os.Getenv("ES_SYNC_BATCH_SIZE"), 50)
	cfg.Indexer.BatchTimeout = parseSecondsDefault(os.Getenv("ES_SYNC_BATCH_TIMEOUT"), 2*time.Second)
	cfg.Indexer.PostgresDSN = os.Getenv("DATABASE_URL")

	cfg.DLQ.AutoRetry = parseBoolDefault(os.Getenv("DLQ_AUTO_RETRY"), false)
	cfg.DLQ.ArchiveBucket = strings.TrimSpace(os.Getenv("DLQ_ARCHIVE_BUCKET"))

	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), "info")
	cfg.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))

	cfg.PendingCheckIntervalSeconds = parseIntDefault(os.Getenv("PENDING_CHECK_INTERVAL"), 60)
	cfg.PendingIdleSeconds = parseIntDefault(os.Getenv("PENDING_IDLE_MS"), 300)
	cfg.MaxClaimFailures = parseInt64Default(os.Getenv("MAX_CLAIM_FAILURES"), 3)

	if v := strings.TrimSpace(os.Getenv("ALLOWED_IMAGE_DOMAINS")); v != "" {
		for _, d := range strings.Split(v, ",") {
			d = strings.TrimSpace(d)
			if d != "" {
				cfg.AllowedImageDomains = append(cfg.AllowedImageDomains, d)
			}
		}
	}
	cfg.ImageFetchTimeout = parseMillisDefault(os.Getenv("IMAGE_FETCH_TIMEOUT_MS"), 30000*time.Millisecond)

	cfg.EmbeddingDim = parseIntDefault(os.Getenv("EMBEDDING_DIM"), 1024)

	cfg.BreakerFailureThreshold = parseIntDefault(os.Getenv("BREAKER_FAILURE_THRESHOLD"), 5)
	cfg.BreakerRecoveryTimeout = parseMillisDefault(os.Getenv("BREAKER_RECOVERY_TIMEOUT_MS"), 60000*time.Millisecond)

	cfg.ClickHouseDSN = strings.TrimSpace(os.Getenv("CLICKHOUSE_DSN"))

	return cfg, nil
}

// serviceTaskEnvPrefix maps a worker's service name to the task-level env
// prefix used for per-task platform overrides, e.g. "content-moderation" ->
// "MODERATION".
func serviceTaskEnvPrefix(serviceName string) string {
	switch serviceName {
	case "content-moderation":
		return "MODERATION"
	case "image-tagging":
		return "TAGGING"
	case "scene_recognition":
		return "SCENE"
	case "image_captioning":
		return "CAPTIONING"
	case "face-detection":
		return "FACE"
	default:
		return strings.ToUpper(serviceName)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseIntDefault(v string, def int) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseInt64Default(v string, def int64) int64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func parseFloatDefault(v string, def float64) float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func parseMillisDefault(v string, def time.Duration) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

// parseSecondsDefault parses v as a (possibly fractional) number of seconds,
// matching the spec's AGGREGATION_POLL_INTERVAL/AGGREGATION_WAIT_SECONDS/
// ES_SYNC_BATCH_TIMEOUT env vars, which are expressed in seconds rather than
// milliseconds.
func parseSecondsDefault(v string, def time.Duration) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return time.Duration(f * float64(time.Second))
}

func parseBoolDefault(v string, def bool) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

// Validate performs the minimal startup-time checks shared by every worker.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("config: service name must not be empty")
	}
	return nil
}
