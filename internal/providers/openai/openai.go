// Package openai implements the "openai" vision platform: each task method
// sends the image as a data-URL image content part to a vision-capable
// chat completions model, asking for a JSON reply that is parsed into the
// shared providers result types. Grounded on the existing
// internal/llm/openai.ChatWithImageAttachment content-part construction.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"mediapipeline/internal/breaker"
	"mediapipeline/internal/providers"
)

// Config configures the OpenAI vision client.
type Config struct {
	APIKey       string
	Model        string
	BaseURL      string
	Timeout      time.Duration
	EmbeddingDim int
}

// Client wraps the OpenAI SDK behind the five task interfaces.
type Client struct {
	sdk     sdk.Client
	model   string
	cfg     Config
	breaker *breaker.Breaker
}

// New builds a Client, defaulting to gpt-4o when no model is configured.
func New(cfg Config, failureThreshold int, recoveryTimeout time.Duration) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(httpClient)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o"
	}
	return &Client{
		sdk:     sdk.NewClient(opts...),
		model:   model,
		cfg:     cfg,
		breaker: breaker.New("openai:"+model, failureThreshold, recoveryTimeout),
	}
}

func (c *Client) askJSON(ctx context.Context, image []byte, instruction string) ([]byte, error) {
	return c.breaker.Call(ctx, func(ctx context.Context) ([]byte, error) {
		dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
		userMsg := sdk.ChatCompletionUserMessageParam{
			Content: sdk.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: []sdk.ChatCompletionContentPartUnionParam{
					{OfText: &sdk.ChatCompletionContentPartTextParam{
						Text: instruction + " Respond with only the JSON object, no surrounding text.",
					}},
					{OfImageURL: &sdk.ChatCompletionContentPartImageParam{
						ImageURL: sdk.ChatCompletionContentPartImageImageURLParam{URL: dataURL},
					}},
				},
			},
		}
		params := sdk.ChatCompletionNewParams{
			Model:    sdk.ChatModel(c.model),
			Messages: []sdk.ChatCompletionMessageParamUnion{{OfUser: &userMsg}},
		}
		comp, err := c.sdk.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(comp.Choices) == 0 {
			return nil, fmt.Errorf("openai: empty completion")
		}
		return []byte(comp.Choices[0].Message.Content), nil
	})
}

const moderationPrompt = `Analyze this image for unsafe content. Return JSON: {"scores": {"<label>": <score 0..1>, ...}}. Include at minimum "nsfw" and "safe" labels.`

func (c *Client) Analyze(ctx context.Context, image []byte) (providers.ModerationResult, error) {
	body, err := c.askJSON(ctx, image, moderationPrompt)
	if err != nil {
		return providers.ModerationResult{}, err
	}
	var parsed struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal(extractJSON(body), &parsed); err != nil {
		return providers.ModerationResult{}, fmt.Errorf("openai: parse moderation reply: %w", err)
	}
	return providers.DeriveModeration(parsed.Scores), nil
}

const taggingPrompt = `List descriptive tags for this image. Return JSON: {"scores": {"<tag>": <score 0..1>, ...}}.`

func (c *Client) Tag(ctx context.Context, image []byte, topN int, threshold float64) (providers.TagResult, error) {
	body, err := c.askJSON(ctx, image, taggingPrompt)
	if err != nil {
		return providers.TagResult{}, err
	}
	var parsed struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal(extractJSON(body), &parsed); err != nil {
		return providers.TagResult{}, fmt.Errorf("openai: parse tagging reply: %w", err)
	}
	return providers.TagResult{Tags: providers.SelectTopN(parsed.Scores, topN, threshold), Scores: parsed.Scores}, nil
}

const scenePrompt = `Classify the scene depicted in this image. Return JSON: {"scores": {"<scene>": <score 0..1>, ...}}.`

func (c *Client) Recognize(ctx context.Context, image []byte, labels []string, threshold float64, topN int) (providers.SceneResult, error) {
	body, err := c.askJSON(ctx, image, scenePrompt)
	if err != nil {
		return providers.SceneResult{}, err
	}
	var parsed struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal(extractJSON(body), &parsed); err != nil {
		return providers.SceneResult{}, fmt.Errorf("openai: parse scene reply: %w", err)
	}
	top := providers.SelectTopN(parsed.Scores, topN, threshold)
	scene := ""
	if len(top) > 0 {
		scene = top[0]
	}
	return providers.SceneResult{Scene: scene, Confidence: parsed.Scores[scene], Scores: parsed.Scores}, nil
}

const captionPrompt = `Write a single concise caption describing this image. Return JSON: {"caption": "<text>"}.`

func (c *Client) Caption(ctx context.Context, image []byte) (providers.CaptionResult, error) {
	body, err := c.askJSON(ctx, image, captionPrompt)
	if err != nil {
		return providers.CaptionResult{}, err
	}
	var parsed struct {
		Caption string `json:"caption"`
	}
	if err := json.Unmarshal(extractJSON(body), &parsed); err != nil {
		return providers.CaptionResult{}, fmt.Errorf("openai: parse caption reply: %w", err)
	}
	return providers.CaptionResult{Caption: parsed.Caption}, nil
}

const facePrompt = `Detect faces in this image. Return JSON: {"faces": [{"bbox": [x,y,w,h], "confidence": <0..1>}, ...]}.`

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
		return providers.FaceDetectResult{}, fmt.Errorf("openai: parse face reply: %w", err)
	}
	faces := make([]providers.DetectedFace, len(parsed.Faces))
	for i, f := range parsed.Faces {
		faces[i] = providers.DetectedFace{BBox: f.BBox, Confidence: f.Confidence}
	}
	faces = providers.NormalizeFaces(faces, c.cfg.EmbeddingDim)
	return providers.FaceDetectResult{FacesDetected: len(faces), Faces: faces}, nil
}

func extractJSON(body []byte) []byte {
	s := string(body)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return body
	}
	return body[start : end+1]
}
