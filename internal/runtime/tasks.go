package runtime

import (
	"context"
	"encoding/json"

	"mediapipeline/internal/model"
	"mediapipeline/internal/providers"
)

// Default tag/scene selection tuning, matching SPEC_FULL.md §4.4's defaults
// for providers that don't impose their own threshold.
const (
	defaultTagTopN       = 10
	defaultTagThreshold  = 0.4
	defaultSceneTopN     = 1
	defaultSceneThreshold = 0.3
)

const outputMLInsightsResults = "ml-insights-results"
const outputFaceDetectionResults = "face-detection-results"

// NewModerationWorker builds the content-moderation analysis worker.
func NewModerationWorker(base AnalysisWorker, moderator providers.Moderator) *AnalysisWorker {
	w := base
	w.ServiceName = model.ServiceModeration
	w.OutputStream = outputMLInsightsResults
	w.Analyze = func(ctx context.Context, image []byte) (map[string]any, error) {
		res, err := moderator.Analyze(ctx, image)
		if err != nil {
			return nil, err
		}
		fields := map[string]any{
			"isSafe":               res.IsSafe,
			"moderationConfidence": res.Confidence,
			"topLabel":             res.TopLabel,
		}
		if scores, err := json.Marshal(res.Scores); err == nil {
			fields["moderationScores"] = string(scores)
		}
		return fields, nil
	}
	return &w
}

// NewTaggingWorker builds the image-tagging analysis worker.
func NewTaggingWorker(base AnalysisWorker, tagger providers.Tagger) *AnalysisWorker {
	w := base
	w.ServiceName = model.ServiceTagging
	w.OutputStream = outputMLInsightsResults
	w.Analyze = func(ctx context.Context, image []byte) (map[string]any, error) {
		res, err := tagger.Tag(ctx, image, defaultTagTopN, defaultTagThreshold)
		if err != nil {
			return nil, err
		}
		tags, err := json.Marshal(res.Tags)
		if err != nil {
			return nil, err
		}
		fields := map[string]any{"tags": string(tags)}
		if scores, err := json.Marshal(res.Scores); err == nil {
			fields["tagScores"] = string(scores)
		}
		return fields, nil
	}
	return &w
}

// NewSceneWorker builds the scene-recognition analysis worker.
func NewSceneWorker(base AnalysisWorker, recognizer providers.SceneRecognizer) *AnalysisWorker {
	w := base
	w.ServiceName = model.ServiceScene
	w.OutputStream = outputMLInsightsResults
	w.Analyze = func(ctx context.Context, image []byte) (map[string]any, error) {
		res, err := recognizer.Recognize(ctx, image, nil, defaultSceneThreshold, defaultSceneTopN)
		if err != nil {
			return nil, err
		}
		fields := map[string]any{
			"scene":      res.Scene,
			"sceneScore": res.Confidence,
		}
		if scores, err := json.Marshal(res.Scores); err == nil {
			fields["sceneScores"] = string(scores)
		}
		return fields, nil
	}
	return &w
}

// NewCaptioningWorker builds the image-captioning analysis worker.
func NewCaptioningWorker(base AnalysisWorker, captioner providers.Captioner) *AnalysisWorker {
	w := base
	w.ServiceName = model.ServiceCaptioning
	w.OutputStream = outputMLInsightsResults
	w.Analyze = func(ctx context.Context, image []byte) (map[string]any, error) {
		res, err := captioner.Caption(ctx, image)
		if err != nil {
			return nil, err
		}
		return map[string]any{"caption": res.Caption}, nil
	}
	return &w
}

// NewFaceWorker builds the face-detection analysis worker. It publishes to
// face-detection-results instead of ml-insights-results, and its result
// shape (facesDetected/faces) differs from the four AnalysisResult workers,
// so it is kept distinct here rather than folded into the shared mapping.
func NewFaceWorker(base AnalysisWorker, detector providers.FaceDetector) *AnalysisWorker {
	w := base
	w.ServiceName = model.ServiceFaceDetect
	w.OutputStream = outputFaceDetectionResults
	w.Analyze = func(ctx context.Context, image []byte) (map[string]any, error) {
		res, err := detector.Detect(ctx, image)
		if err != nil {
			return nil, err
		}
		faces := make([]model.Face, len(res.Faces))
		for i, f := range res.Faces {
			faces[i] = model.Face{
				FaceID:     f.FaceID,
				BBox:       f.BBox,
				Embedding:  f.Embedding,
				Confidence: f.Confidence,
			}
		}
		encoded, err := json.Marshal(faces)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"facesDetected": res.FacesDetected,
			"faces":         string(encoded),
		}, nil
	}
	return &w
}
