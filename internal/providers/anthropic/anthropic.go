// Package anthropic implements the "anthropic" vision platform: each task
// method sends the image as a base64 content block plus a task-specific
// instruction prompt to a Claude vision model, asking for a JSON reply that
// is then parsed into the shared providers result types. Grounded on the
// existing internal/llm/anthropic client construction (plain-struct
// MessageNewParams, no F() wrappers — the v1 SDK style).
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"mediapipeline/internal/breaker"
	"mediapipeline/internal/providers"
)

// Config configures the Anthropic vision client.
type Config struct {
	APIKey       string
	Model        string
	Timeout      time.Duration
	EmbeddingDim int
}

// Client wraps the Anthropic SDK behind the five task interfaces.
type Client struct {
	sdk     anthropicsdk.Client
	model   string
	cfg     Config
	breaker *breaker.Breaker
}

// New builds a Client, defaulting to Claude 3.7 Sonnet when no model is
// configured, matching the default-model fallback pattern used elsewhere
// in this package family.
func New(cfg Config, failureThreshold int, recoveryTimeout time.Duration) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropicsdk.ModelClaude3_7SonnetLatest)
	}
	return &Client{
		sdk:     anthropicsdk.NewClient(option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(httpClient)),
		model:   model,
		cfg:     cfg,
		breaker: breaker.New("anthropic:"+model, failureThreshold, recoveryTimeout),
	}
}

// askJSON sends image plus an instruction asking for a single JSON object
// matching the task's result shape, and returns the raw text reply.
func (c *Client) askJSON(ctx context.Context, image []byte, instruction string) ([]byte, error) {
	return c.breaker.Call(ctx, func(ctx context.Context) ([]byte, error) {
		b64 := base64.StdEncoding.EncodeToString(image)
		params := anthropicsdk.MessageNewParams{
			Model:     anthropicsdk.Model(c.model),
			MaxTokens: 1024,
			Messages: []anthropicsdk.MessageParam{
				anthropicsdk.NewUserMessage(
					anthropicsdk.NewImageBlockBase64("image/jpeg", b64),
					anthropicsdk.NewTextBlock(instruction+" Respond with only the JSON object, no surrounding text."),
				),
			},
		}
		resp, err := c.sdk.Messages.New(ctx, params)
		if err != nil {
			return nil, err
		}
		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		return []byte(text.String()), nil
	})
}

const moderationPrompt = `Analyze this image for unsafe content. Return JSON: {"scores": {"<label>": <score 0..1>, ...}}. Include at minimum "nsfw" and "safe" labels.`

// Moderator

func (c *Client) Analyze(ctx context.Context, image []byte) (providers.ModerationResult, error) {
	body, err := c.askJSON(ctx, image, moderationPrompt)
	if err != nil {
		return providers.ModerationResult{}, err
	}
	var parsed struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal(extractJSON(body), &parsed); err != nil {
		return providers.ModerationResult{}, fmt.Errorf("anthropic: parse moderation reply: %w", err)
	}
	return providers.DeriveModeration(parsed.Scores), nil
}

const taggingPrompt = `List descriptive tags for this image. Return JSON: {"scores": {"<tag>": <score 0..1>, ...}}.`

// Tagger

func (c *Client) Tag(ctx context.Context, image []byte, topN int, threshold float64) (providers.TagResult, error) {
	body, err := c.askJSON(ctx, image, taggingPrompt)
	if err != nil {
		return providers.TagResult{}, err
	}
	var parsed struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal(extractJSON(body), &parsed); err != nil {
		return providers.TagResult{}, fmt.Errorf("anthropic: parse tagging reply: %w", err)
	}
	return providers.TagResult{Tags: providers.SelectTopN(parsed.Scores, topN, threshold), Scores: parsed.Scores}, nil
}

const scenePrompt = `Classify the scene depicted in this image. Return JSON: {"scores": {"<scene>": <score 0..1>, ...}}.`

// SceneRecognizer

func (c *Client) Recognize(ctx context.Context, image []byte, labels []string, threshold float64, topN int) (providers.SceneResult, error) {
	body, err := c.askJSON(ctx, image, scenePrompt)
	if err != nil {
		return providers.SceneResult{}, err
	}
	var parsed struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal(extractJSON(body), &parsed); err != nil {
		return providers.SceneResult{}, fmt.Errorf("anthropic: parse scene reply: %w", err)
	}
	top := providers.SelectTopN(parsed.Scores, topN, threshold)
	scene := ""
	if len(top) > 0 {
		scene = top[0]
	}
	return providers.SceneResult{Scene: scene, Confidence: parsed.Scores[scene], Scores: parsed.Scores}, nil
}

const captionPrompt = `Write a single concise caption describing this image. Return JSON: {"caption": "<text>"}.`

// Captioner

func (c *Client) Caption(ctx context.Context, image []byte) (providers.CaptionResult, error) {
	body, err := c.askJSON(ctx, image, captionPrompt)
	if err != nil {
		return providers.CaptionResult{}, err
	}
	var parsed struct {
		Caption string `json:"caption"`
	}
	if err := json.Unmarshal(extractJSON(body), &parsed); err != nil {
		return providers.CaptionResult{}, fmt.Errorf("anthropic: parse caption reply: %w", err)
	}
	return providers.CaptionResult{Caption: parsed.Caption}, nil
}

const facePrompt = `Detect faces in this image. Return JSON: {"faces": [{"bbox": [x,y,w,h], "confidence": <0..1>}, ...]}.`

// FaceDetector

func (c *Client) Detect(ctx context.Context, image []byte) (providers.FaceDetectResult, error) {
	body, err := c.askJSON(ctx, image, facePrompt)
	if err != nil {
		return providers.FaceDetectResult{}, err
	}
	var parsed struct {
		Faces []struct {
			BBox       [4]int  `json:"bbox"`
			Confidence float64 `json:"confidence"`
		} `json:"faces"`
	}
	if err := json.Unmarshal(extractJSON(body), &parsed); err != nil {
		return providers.FaceDetectResult{}, fmt.Errorf("anthropic: parse face reply: %w", err)
	}
	faces := make([]providers.DetectedFace, len(parsed.Faces))
	for i, f := range parsed.Faces {
		faces[i] = providers.DetectedFace{BBox: f.BBox, Confidence: f.Confidence}
	}
	faces = providers.NormalizeFaces(faces, c.cfg.EmbeddingDim)
	return providers.FaceDetectResult{FacesDetected: len(faces), Faces: faces}, nil
}

// extractJSON trims any leading/trailing prose a model adds despite
// instructions, keeping only the outermost {...} span.
func extractJSON(body []byte) []byte {
	start := strings.IndexByte(string(body), '{')
	end := strings.LastIndexByte(string(body), '}')
	if start < 0 || end < 0 || end < start {
		return body
	}
	return body[start : end+1]
}
