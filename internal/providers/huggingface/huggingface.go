// Package huggingface implements the default "huggingface" platform: a
// generic HTTP inference-endpoint client, normalizing the several
// response shapes HF Inference Endpoints commonly return (a bare array of
// {label, score} pairs for classification models, a [{generated_text}]
// array for captioning models) into the shared providers result types.
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mediapipeline/internal/breaker"
	"mediapipeline/internal/providers"
)

// Config configures one task's HF endpoint client.
type Config struct {
	EndpointURL string
	APIToken    string
	Timeout     time.Duration
	EmbeddingDim int
}

// Client is a single-endpoint HF inference client shared by all five task
// adapters below, so every adapter built on one Client targets the same
// EndpointURL; each worker process configures the endpoint for its own task.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *breaker.Breaker
}

// New builds a Client wrapped in a circuit breaker named for the endpoint.
func New(cfg Config, failureThreshold int, recoveryTimeout time.Duration) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker.New("huggingface:"+cfg.EndpointURL, failureThreshold, recoveryTimeout),
	}
}

// invoke POSTs image to the configured endpoint and returns the raw JSON
// response body, going through the circuit breaker.
func (c *Client) invoke(ctx context.Context, image []byte) ([]byte, error) {
	return c.breaker.Call(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.EndpointURL, bytes.NewReader(image))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		if c.cfg.APIToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("huggingface endpoint status %d: %s", resp.StatusCode, truncate(body, 500))
		}
		return body, nil
	})
}

// classificationEntry is the common {label, score} shape HF image
// classification / scene models return as a bare JSON array.
type classificationEntry struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// parallelArrays is the shape some HF endpoints return instead of a bare
// array: two equal-length arrays zipped by position into label/score pairs.
// The label array is keyed either "labels" or "scenes" depending on the endpoint.
type parallelArrays struct {
	Labels []string  `json:"labels"`
	Scenes []string  `json:"scenes"`
	Scores []float64 `json:"scores"`
}

// wrappedResults is the {"results": [...]} envelope some endpoints wrap a
// bare classificationEntry array in.
type wrappedResults struct {
	Results []classificationEntry `json:"results"`
}

// decodeScores duck-types the response body into a label→score map. HF
// inference endpoints return this in several shapes depending on the model
// and gateway: a bare array of classificationEntry, an object whose values
// are already numeric, a {"results": [...]} wrapper around the bare-array
// shape, or a pair of parallel arrays keyed "labels"/"scores" or
// "scenes"/"scores" zipped by position.
func decodeScores(body []byte) (map[string]float64, error) {
	var asArray []classificationEntry
	if err := json.Unmarshal(body, &asArray); err == nil && len(asArray) > 0 {
		scores := make(map[string]float64, len(asArray))
		for _, e := range asArray {
			scores[e.Label] = e.Score
		}
		return scores, nil
	}

	var wrapped wrappedResults
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Results) > 0 {
		scores := make(map[string]float64, len(wrapped.Results))
		for _, e := range wrapped.Results {
			scores[e.Label] = e.Score
		}
		return scores, nil
	}

	var parallel parallelArrays
	if err := json.Unmarshal(body, &parallel); err == nil && len(parallel.Scores) > 0 {
		labels := parallel.Labels
		if len(labels) == 0 {
			labels = parallel.Scenes
		}
		if len(labels) > 0 {
			n := len(labels)
			if len(parallel.Scores) < n {
				n = len(parallel.Scores)
			}
			scores := make(map[string]float64, n)
			for i := 0; i < n; i++ {
				scores[labels[i]] = parallel.Scores[i]
			}
			return scores, nil
		}
	}

	var asObject map[string]float64
	if err := json.Unmarshal(body, &asObject); err == nil && len(asObject) > 0 {
		return asObject, nil
	}

	return nil, fmt.Errorf("huggingface: unrecognized response shape: %s", truncate(body, 200))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// ModerationAdapter targets an HF image-classification (NSFW) endpoint.
type ModerationAdapter struct{ *Client }

func (a ModerationAdapter) Analyze(ctx context.Context, image []byte) (providers.ModerationResult, error) {
	body, err := a.invoke(ctx, image)
	if err != nil {
		return providers.ModerationResult{}, err
	}
	scores, err := decodeScores(body)
	if err != nil {
		return providers.ModerationResult{}, err
	}
	return providers.DeriveModeration(scores), nil
}

// TaggingAdapter targets an HF multi-label image-classification endpoint.
type TaggingAdapter struct{ *Client }

func (a TaggingAdapter) Tag(ctx context.Context, image []byte, topN int, threshold float64) (providers.TagResult, error) {
	body, err := a.invoke(ctx, image)
	if err != nil {
		return providers.TagResult{}, err
	}
	scores, err := decodeScores(body)
	if err != nil {
		return providers.TagResult{}, err
	}
	return providers.TagResult{Tags: providers.SelectTopN(scores, topN, threshold), Scores: scores}, nil
}

// SceneAdapter targets an HF scene-classification endpoint.
type SceneAdapter struct{ *Client }

func (a SceneAdapter) Recognize(ctx context.Context, image []byte, labels []string, threshold float64, topN int) (providers.SceneResult, error) {
	body, err := a.invoke(ctx, image)
	if err != nil {
		return providers.SceneResult{}, err
	}
	scores, err := decodeScores(body)
	if err != nil {
		return providers.SceneResult{}, err
	}
	top := providers.SelectTopN(scores, topN, threshold)
	scene := ""
	if len(top) > 0 {
		scene = top[0]
	}
	return providers.SceneResult{Scene: scene, Confidence: scores[scene], Scores: scores}, nil
}

// captionEntry is the shape HF image-to-text models return.
type captionEntry struct {
	GeneratedText string `json:"generated_text"`
}

// CaptioningAdapter targets an HF image-to-text endpoint.
type CaptioningAdapter struct{ *Client }

func (a CaptioningAdapter) Caption(ctx context.Context, image []byte) (providers.CaptionResult, error) {
	body, err := a.invoke(ctx, image)
	if err != nil {
		return providers.CaptionResult{}, err
	}
	var asArray []captionEntry
	if err := json.Unmarshal(body, &asArray); err == nil && len(asArray) > 0 {
		return providers.CaptionResult{Caption: asArray[0].GeneratedText}, nil
	}
	var single captionEntry
	if err := json.Unmarshal(body, &single); err == nil && single.GeneratedText != "" {
		return providers.CaptionResult{Caption: single.GeneratedText}, nil
	}
	return providers.CaptionResult{}, fmt.Errorf("huggingface: unrecognized caption response: %s", truncate(body, 200))
}

// faceEntry is the shape a face-detection endpoint returns per face.
type faceEntry struct {
	FaceID     string    `json:"face_id"`
	BBox       [4]int    `json:"bbox"`
	Embedding  []float64 `json:"embedding"`
	Confidence float64   `json:"confidence"`
}

// FaceAdapter targets a face-detection endpoint returning a bare array of
// faceEntry.
type FaceAdapter struct{ *Client }

func (a FaceAdapter) Detect(ctx context.Context, image []byte) (providers.FaceDetectResult, error) {
	body, err := a.invoke(ctx, image)
	if err != nil {
		return providers.FaceDetectResult{}, err
	}
	var raw []faceEntry
	if err := json.Unmarshal(body, &raw); err != nil {
		return providers.FaceDetectResult{}, fmt.Errorf("huggingface: unrecognized face response: %w", err)
	}
	faces := make([]providers.DetectedFace, len(raw))
	for i, f := range raw {
		faces[i] = providers.DetectedFace{
			FaceID:     f.FaceID,
			BBox:       f.BBox,
			Embedding:  f.Embedding,
			Confidence: f.Confidence,
		}
	}
	faces = providers.NormalizeFaces(faces, a.cfg.EmbeddingDim)
	return providers.FaceDetectResult{FacesDetected: len(faces), Faces: faces}, nil
}
