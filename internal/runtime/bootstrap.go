package runtime

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"mediapipeline/internal/config"
	"mediapipeline/internal/providers"
	"mediapipeline/internal/providers/anthropic"
	"mediapipeline/internal/providers/google"
	"mediapipeline/internal/providers/huggingface"
	"mediapipeline/internal/providers/openai"
	"mediapipeline/internal/secrets"
)

// BuildRegistry registers a factory for every vision platform the pack
// supports, following the existing providers.Build factory-switch pattern
// generalized over the (task, platform) registry. Every factory is lazy:
// construction (and any credential loading) only happens the first time a
// worker actually resolves that platform.
func BuildRegistry(cfg config.Config) *providers.Registry {
	reg := providers.NewRegistry()

	reg.Register("huggingface", func() (providers.Bundle, error) {
		token, err := secrets.Load("HF_API_TOKEN", cfg.Provider.HFAPITokenFile)
		if err != nil {
			return providers.Bundle{}, fmt.Errorf("runtime: load hf token: %w", err)
		}
		hcfg := huggingface.Config{
			EndpointURL:  cfg.Provider.HFEndpointURL,
			APIToken:     token,
			Timeout:      time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
			EmbeddingDim: cfg.EmbeddingDim,
		}
		client := huggingface.New(hcfg, cfg.BreakerFailureThreshold, cfg.BreakerRecoveryTimeout)
		return providers.Bundle{
			Moderator:       huggingface.ModerationAdapter{Client: client},
			Tagger:          huggingface.TaggingAdapter{Client: client},
			SceneRecognizer: huggingface.SceneAdapter{Client: client},
			Captioner:       huggingface.CaptioningAdapter{Client: client},
			FaceDetector:    huggingface.FaceAdapter{Client: client},
		}, nil
	})

	reg.Register("anthropic", func() (providers.Bundle, error) {
		key, err := secrets.Load("ANTHROPIC_API_KEY", "/run/secrets/anthropic_api_key")
		if err != nil {
			return providers.Bundle{}, fmt.Errorf("runtime: load anthropic key: %w", err)
		}
		acfg := anthropic.Config{
			APIKey:       key,
			Model:        strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")),
			Timeout:      time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
			EmbeddingDim: cfg.EmbeddingDim,
		}
		client := anthropic.New(acfg, cfg.BreakerFailureThreshold, cfg.BreakerRecoveryTimeout)
		return providers.Bundle{
			Moderator:       client,
			Tagger:          client,
			SceneRecognizer: client,
			Captioner:       client,
			FaceDetector:    client,
		}, nil
	})

	reg.Register("openai", func() (providers.Bundle, error) {
		key, err := secrets.Load("OPENAI_API_KEY", "/run/secrets/openai_api_key")
		if err != nil {
			return providers.Bundle{}, fmt.Errorf("runtime: load openai key: %w", err)
		}
		ocfg := openai.Config{
			APIKey:       key,
			Model:        strings.TrimSpace(os.Getenv("OPENAI_MODEL")),
			BaseURL:      strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
			Timeout:      time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
			EmbeddingDim: cfg.EmbeddingDim,
		}
		client := openai.New(ocfg, cfg.BreakerFailureThreshold, cfg.BreakerRecoveryTimeout)
		return providers.Bundle{
			Moderator:       client,
			Tagger:          client,
			SceneRecognizer: client,
			Captioner:       client,
			FaceDetector:    client,
		}, nil
	})

	reg.Register("google", func() (providers.Bundle, error) {
		key, err := secrets.Load("GOOGLE_API_KEY", "/run/secrets/google_api_key")
		if err != nil {
			return providers.Bundle{}, fmt.Errorf("runtime: load google key: %w", err)
		}
		gcfg := google.Config{
			APIKey:       key,
			Model:        strings.TrimSpace(os.Getenv("GOOGLE_MODEL")),
			Timeout:      time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
			EmbeddingDim: cfg.EmbeddingDim,
		}
		client, err := google.New(context.Background(), gcfg, cfg.BreakerFailureThreshold, cfg.BreakerRecoveryTimeout)
		if err != nil {
			return providers.Bundle{}, err
		}
		return providers.Bundle{
			Moderator:       client,
			Tagger:          client,
			SceneRecognizer: client,
			Captioner:       client,
			FaceDetector:    client,
		}, nil
	})

	return reg
}
