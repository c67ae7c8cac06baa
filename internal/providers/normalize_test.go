package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveModeration_SafeWhenNsfwLow(t *testing.T) {
	res := DeriveModeration(map[string]float64{"nsfw": 0.1, "safe": 0.9})
	assert.True(t, res.IsSafe)
}

func TestDeriveModeration_UnsafeWhenNsfwHigh(t *testing.T) {
	res := DeriveModeration(map[string]float64{"nsfw": 0.8, "safe": 0.2})
	assert.False(t, res.IsSafe)
}

func TestDeriveModeration_NormalizesUnderscoreLabels(t *testing.T) {
	res := DeriveModeration(map[string]float64{"Graphic_Violence": 0.9, "SFW": 0.1})
	assert.False(t, res.IsSafe)
}

func TestSelectTopN_ReturnsAboveThreshold(t *testing.T) {
	scores := map[string]float64{"a": 0.9, "b": 0.8, "c": 0.1}
	tags := SelectTopN(scores, 2, 0.5)
	assert.ElementsMatch(t, []string{"a", "b"}, tags)
}

func TestSelectTopN_FallsBackWhenNoneClearThreshold(t *testing.T) {
	scores := map[string]float64{"a": 0.2, "b": 0.1}
	tags := SelectTopN(scores, 2, 0.9)
	assert.Len(t, tags, 2)
}

func TestSelectTopN_EmptyWhenNoScores(t *testing.T) {
	tags := SelectTopN(map[string]float64{}, 2, 0.5)
	assert.Empty(t, tags)
}

func TestNormalizeFaces_PadsAndTruncatesEmbedding(t *testing.T) {
	faces := []DetectedFace{
		{Embedding: []float64{1, 2}},
		{Embedding: []float64{1, 2, 3, 4, 5}},
	}
	out := NormalizeFaces(faces, 4)
	assert.Len(t, out[0].Embedding, 4)
	assert.Len(t, out[1].Embedding, 4)
}

func TestNormalizeFaces_AssignsMissingFaceID(t *testing.T) {
	faces := []DetectedFace{{Embedding: []float64{1}}}
	out := NormalizeFaces(faces, 4)
	assert.NotEmpty(t, out[0].FaceID)
}

func TestResolvePlatform_ExplicitWins(t *testing.T) {
	assert.Equal(t, "openai", ResolvePlatform(TaskModeration, "openai"))
}

func TestResolvePlatform_DefaultsToHuggingface(t *testing.T) {
	t.Setenv("AI_PLATFORM", "")
	t.Setenv("MODERATION_PLATFORM", "")
	assert.Equal(t, "huggingface", ResolvePlatform(TaskModeration, ""))
}
