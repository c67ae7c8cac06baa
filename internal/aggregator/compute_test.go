package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mediapipeline/internal/model"
)

func TestComputeEnrichedPost_MergesTagsScenesAndSafety(t *testing.T) {
	media := map[string]*imageState{
		"m1": {
			services: map[string]bool{
				model.ServiceTagging:    true,
				model.ServiceScene:      true,
				model.ServiceModeration: true,
			},
			fields: map[string]map[string]string{
				model.ServiceTagging:    {"tags": `["beach","people"]`},
				model.ServiceScene:      {"scene": "beach"},
				model.ServiceModeration: {"isSafe": "true", "moderationConfidence": "0.9"},
			},
		},
		"m2": {
			services: map[string]bool{
				model.ServiceTagging:    true,
				model.ServiceScene:      true,
				model.ServiceModeration: true,
			},
			fields: map[string]map[string]string{
				model.ServiceTagging:    {"tags": `["beach","outdoor"]`},
				model.ServiceScene:      {"scene": "outdoor"},
				model.ServiceModeration: {"isSafe": "true", "moderationConfidence": "0.7"},
			},
			faces: 2,
		},
	}

	result := computeEnrichedPost("p1", "corr-1", media)

	assert.Equal(t, 2, result.MediaCount)
	assert.True(t, result.IsSafe)
	assert.Equal(t, 0.7, result.ModerationConfidence)
	assert.Equal(t, 2, result.TotalFaces)
	assert.Contains(t, result.AllAiTags, "beach")
	assert.Equal(t, "beach_party", result.InferredEventType)
	assert.True(t, result.HasMultipleImages)
}

func TestComputeEnrichedPost_UnsafeWhenAnyImageUnsafe(t *testing.T) {
	media := map[string]*imageState{
		"m1": {
			services: map[string]bool{model.ServiceModeration: true},
			fields: map[string]map[string]string{
				model.ServiceModeration: {"isSafe": "true", "moderationConfidence": "0.9"},
			},
		},
		"m2": {
			services: map[string]bool{model.ServiceModeration: true},
			fields: map[string]map[string]string{
				model.ServiceModeration: {"isSafe": "false", "moderationConfidence": "0.2"},
			},
		},
	}
	result := computeEnrichedPost("p1", "", media)
	assert.False(t, result.IsSafe)
	assert.Equal(t, 0.2, result.ModerationConfidence)
}

func TestCombineCaption_ZeroOneMany(t *testing.T) {
	assert.Equal(t, "", combineCaption(nil, nil, nil))
	assert.Equal(t, "only one", combineCaption([]string{"only one"}, nil, nil))
	assert.Equal(t, "a b c", combineCaption([]string{"a", "b", "c", "d"}, nil, nil))
}

func TestInferEventType_DisqualifiedByMinImages(t *testing.T) {
	assert.Equal(t, "general", inferEventType(1, []string{"beach", "people"}, []string{"beach", "outdoor"}))
	assert.Equal(t, "beach_party", inferEventType(2, []string{"beach", "people"}, []string{"beach", "outdoor"}))
}

func TestInferEventType_NoMatchFallsBackToGeneral(t *testing.T) {
	assert.Equal(t, "general", inferEventType(5, []string{"random"}, []string{"nowhere"}))
}

func TestTopNByFrequency_OrdersDescending(t *testing.T) {
	freq := map[string]int{"a": 1, "b": 5, "c": 3}
	top := topNByFrequency(freq, 2)
	assert.Equal(t, []string{"b", "c"}, top)
}

func TestIsComplete_RequiresCoreServicesForEveryExpectedID(t *testing.T) {
	media := map[string]*imageState{
		"m1": {services: coreServicesSet()},
	}
	assert.True(t, isComplete(media, []string{"m1"}, 0))
	assert.False(t, isComplete(media, []string{"m1", "m2"}, 0))
}

func TestIsComplete_FallsBackToTotalMediaCount(t *testing.T) {
	media := map[string]*imageState{
		"m1": {services: coreServicesSet()},
		"m2": {services: coreServicesSet()},
	}
	assert.True(t, isComplete(media, nil, 2))
	assert.False(t, isComplete(media, nil, 3))
}

func coreServicesSet() map[string]bool {
	out := map[string]bool{}
	for _, s := range model.RequiredCoreServices {
		out[s] = true
	}
	return out
}
