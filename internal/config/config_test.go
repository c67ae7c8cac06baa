package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"REDIS_URL", "MAX_RETRIES", "INITIAL_RETRY_DELAY", "MAX_RETRY_DELAY",
		"BACKOFF_MULTIPLIER", "AI_PLATFORM", "MODERATION_PLATFORM", "HEALTH_PORT",
		"AGGREGATION_POLL_INTERVAL", "AGGREGATION_WAIT_SECONDS", "EMBEDDING_DIM",
	} {
		_ = os.Unsetenv(k)
	}

	cfg, err := Load("content-moderation")
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.Bus.RedisURL)
	assert.Equal(t, int64(10000), cfg.Bus.MaxLen)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 1000*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, "huggingface", cfg.Provider.Platform)
	assert.Equal(t, 8080, cfg.Health.Port)
	assert.Equal(t, 1024, cfg.EmbeddingDim)
	assert.Equal(t, 500*time.Millisecond, cfg.Aggregator.PollInterval)
	assert.Equal(t, 6*time.Second, cfg.Aggregator.MaxWait)
}

func TestLoad_TaskPlatformOverridesGlobal(t *testing.T) {
	t.Setenv("AI_PLATFORM", "openai")
	t.Setenv("MODERATION_PLATFORM", "anthropic")

	cfg, err := Load("content-moderation")
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider.Platform)
}

func TestLoad_GlobalPlatformFallback(t *testing.T) {
	_ = os.Unsetenv("TAGGING_PLATFORM")
	t.Setenv("AI_PLATFORM", "google")

	cfg, err := Load("image-tagging")
	require.NoError(t, err)

	assert.Equal(t, "google", cfg.Provider.Platform)
}

func TestLoad_AllowedImageDomainsParsed(t *testing.T) {
	t.Setenv("ALLOWED_IMAGE_DOMAINS", " cdn.example.com ,img.example.org ")

	cfg, err := Load("image-tagging")
	require.NoError(t, err)

	assert.Equal(t, []string{"cdn.example.com", "img.example.org"}, cfg.AllowedImageDomains)
}

func TestValidate_RequiresServiceName(t *testing.T) {
	err := Config{}.Validate()
	assert.Error(t, err)
}
