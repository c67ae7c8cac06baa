// Package model defines the wire entities exchanged over the bus and
// produced by the pipeline, per the data model in SPEC_FULL.md §3.
package model

import "time"

// CurrentVersion is the version stamped on every entry this codebase
// produces. Consumers ignore entries carrying a version they don't
// understand (SPEC_FULL.md invariant 1).
const CurrentVersion = "1"

// ImageJob is the payload read from the post-image-processing stream by
// every analysis worker.
type ImageJob struct {
	MediaID       string `json:"mediaId"`
	PostID        string `json:"postId"`
	MediaURL      string `json:"mediaUrl"`
	CorrelationID string `json:"correlationId"`
	Version       string `json:"version"`

	// DLQRetry and DLQOriginalService are set by the DLQ processor when it
	// re-appends an originally failed job; downstream consumers may use
	// them to detect retry loops, but are not required to.
	DLQRetry           bool   `json:"dlqRetry,omitempty"`
	DLQOriginalService string `json:"dlqOriginalService,omitempty"`
}

// Service names, used both as the "service" field on result entries and as
// dedup/completeness keys in the aggregator.
const (
	ServiceModeration  = "content-moderation"
	ServiceTagging     = "image-tagging"
	ServiceScene       = "scene_recognition"
	ServiceCaptioning  = "image_captioning"
	ServiceFaceDetect  = "face-detection"
)

// RequiredCoreServices is the set of services the aggregator requires from
// every expected media id before declaring completeness. Face detection is
// deliberately excluded: it is optional per SPEC_FULL.md §4.5.
var RequiredCoreServices = []string{ServiceModeration, ServiceTagging, ServiceScene, ServiceCaptioning}

// AnalysisResult is the payload published by moderation/tagging/scene/
// captioning workers onto ml-insights-results.
type AnalysisResult struct {
	MediaID   string    `json:"mediaId"`
	PostID    string    `json:"postId"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`

	// Moderation
	IsSafe               *bool              `json:"isSafe,omitempty"`
	ModerationConfidence *float64           `json:"moderationConfidence,omitempty"`
	ModerationScores     map[string]float64 `json:"moderationScores,omitempty"`
	TopLabel             string             `json:"topLabel,omitempty"`

	// Tagging
	Tags       []string           `json:"tags,omitempty"`
	TagScores  map[string]float64 `json:"tagScores,omitempty"`

	// Scene
	Scene       string             `json:"scene,omitempty"`
	SceneScore  *float64           `json:"sceneScore,omitempty"`
	SceneScores map[string]float64 `json:"sceneScores,omitempty"`

	// Captioning
	Caption string `json:"caption,omitempty"`

	CorrelationID string `json:"correlationId,omitempty"`
}

// Face is a single detected face within a FaceResult.
type Face struct {
	FaceID     string    `json:"faceId"`
	BBox       [4]int    `json:"bbox"`
	Embedding  []float64 `json:"embedding"`
	Confidence float64   `json:"confidence"`
}

// FaceResult is the payload published by the face worker onto
// face-detection-results.
type FaceResult struct {
	MediaID       string    `json:"mediaId"`
	PostID        string    `json:"postId"`
	FacesDetected int       `json:"facesDetected"`
	Faces         []Face    `json:"faces"`
	Timestamp     time.Time `json:"timestamp"`
	Version       string    `json:"version"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// AggregationTrigger is read from post-aggregation-trigger.
type AggregationTrigger struct {
	PostID         string   `json:"postId"`
	MediaInsights  string   `json:"mediaInsights,omitempty"` // opaque JSON blob, decoded by aggregator
	AllMediaIDs    string   `json:"allMediaIds,omitempty"`   // JSON array string, e.g. ["m1","m2"]
	TotalMedia     string   `json:"totalMedia,omitempty"`
	CorrelationID  string   `json:"correlationId,omitempty"`
}

// EnrichedPost is the record the aggregator publishes to
// post-insights-enriched.
type EnrichedPost struct {
	PostID               string    `json:"postId"`
	MediaCount            int       `json:"mediaCount"`
	AllAiTags             []string  `json:"allAiTags"`
	AllAiScenes           []string  `json:"allAiScenes"`
	AggregatedTags        []string  `json:"aggregatedTags"`
	AggregatedScenes      []string  `json:"aggregatedScenes"`
	TotalFaces            int       `json:"totalFaces"`
	IsSafe                bool      `json:"isSafe"`
	ModerationConfidence  float64   `json:"moderationConfidence"`
	InferredEventType     string    `json:"inferredEventType"`
	CombinedCaption       string    `json:"combinedCaption"`
	HasMultipleImages     bool      `json:"hasMultipleImages"`
	Timestamp             time.Time `json:"timestamp"`
	CorrelationID         string    `json:"correlationId,omitempty"`
	Version               string    `json:"version"`
}

// SyncOperation enumerates the operations a sync event may request.
type SyncOperation string

const (
	SyncIndex  SyncOperation = "index"
	SyncDelete SyncOperation = "delete"
)

// SyncEvent is read from es-sync-queue by the indexing worker.
type SyncEvent struct {
	IndexType  string        `json:"indexType"`
	DocumentID string        `json:"documentId"`
	Operation  SyncOperation `json:"operation"`
	Version    string        `json:"version"`
}

// DLQEntry is the envelope every worker writes to ai-processing-dlq, and
// the shape the DLQ processor reads back.
type DLQEntry struct {
	OriginalMessageID string    `json:"originalMessageId"`
	OriginalData      string    `json:"originalData"` // opaque, round-trippable blob (JSON-encoded original entry)
	Service           string    `json:"service"`
	Error             string    `json:"error"`
	ErrorType         string    `json:"errorType"`
	RetryCount        int       `json:"retryCount"`
	Timestamp         time.Time `json:"timestamp"`
	Version           string    `json:"version"`
}
