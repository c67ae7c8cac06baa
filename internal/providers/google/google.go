// Package google implements the "google" vision platform: each task method
// sends the image as inline Blob data plus a task-specific instruction to
// Gemini's GenerateContent, parsing a JSON reply into the shared providers
// result types. Grounded on the existing internal/llm/google client
// construction and its genai.Part/InlineData usage.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"mediapipeline/internal/breaker"
	"mediapipeline/internal/providers"
)

// Config configures the Google Gemini vision client.
type Config struct {
	APIKey       string
	Model        string
	Timeout      time.Duration
	EmbeddingDim int
}

// Client wraps the genai SDK behind the five task interfaces.
type Client struct {
	client  *genai.Client
	model   string
	cfg     Config
	breaker *breaker.Breaker
}

// New builds a Client, defaulting to gemini-1.5-flash when no model is
// configured, matching the default-model fallback pattern used elsewhere
// in this package family.
func New(ctx context.Context, cfg Config, failureThreshold int, recoveryTimeout time.Duration) (*Client, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("google: init client: %w", err)
	}
	return &Client{
		client:  client,
		model:   model,
		cfg:     cfg,
		breaker: breaker.New("google:"+model, failureThreshold, recoveryTimeout),
	}, nil
}

func (c *Client) askJSON(ctx context.Context, image []byte, instruction string) ([]byte, error) {
	return c.breaker.Call(ctx, func(ctx context.Context) ([]byte, error) {
		parts := []*genai.Part{
			{Text: instruction + " Respond with only the JSON object, no surrounding text."},
			{InlineData: &genai.Blob{Data: image, MIMEType: "image/jpeg"}},
		}
		contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
		if err != nil {
			return nil, err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return nil, fmt.Errorf("google: empty generation")
		}
		var text strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
		return []byte(text.String()), nil
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
		return providers.ModerationResult{}, fmt.Errorf("google: parse moderation reply: %w", err)
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
		return providers.TagResult{}, fmt.Errorf("google: parse tagging reply: %w", err)
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
		return providers.SceneResult{}, fmt.Errorf("google: parse scene reply: %w", err)
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
		return providers.CaptionResult{}, fmt.Errorf("google: parse caption reply: %w", err)
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
		return providers.FaceDetectResult{}, fmt.Errorf("google: parse face reply: %w", err)
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
