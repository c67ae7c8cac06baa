package huggingface

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeScores_BareArray(t *testing.T) {
	body := []byte(`[{"label":"cat","score":0.9},{"label":"dog","score":0.1}]`)
	scores, err := decodeScores(body)
	assert.NoError(t, err)
	assert.Equal(t, map[string]float64{"cat": 0.9, "dog": 0.1}, scores)
}

func TestDecodeScores_BareObject(t *testing.T) {
	body := []byte(`{"cat":0.9,"dog":0.1}`)
	scores, err := decodeScores(body)
	assert.NoError(t, err)
	assert.Equal(t, map[string]float64{"cat": 0.9, "dog": 0.1}, scores)
}

func TestDecodeScores_WrappedResults(t *testing.T) {
	body := []byte(`{"results":[{"label":"cat","score":0.9},{"label":"dog","score":0.1}]}`)
	scores, err := decodeScores(body)
	assert.NoError(t, err)
	assert.Equal(t, map[string]float64{"cat": 0.9, "dog": 0.1}, scores)
}

func TestDecodeScores_ParallelLabelsScores(t *testing.T) {
	body := []byte(`{"labels":["cat","dog"],"scores":[0.9,0.1]}`)
	scores, err := decodeScores(body)
	assert.NoError(t, err)
	assert.Equal(t, map[string]float64{"cat": 0.9, "dog": 0.1}, scores)
}

func TestDecodeScores_ParallelScenesScores(t *testing.T) {
	body := []byte(`{"scenes":["beach","forest"],"scores":[0.7,0.3]}`)
	scores, err := decodeScores(body)
	assert.NoError(t, err)
	assert.Equal(t, map[string]float64{"beach": 0.7, "forest": 0.3}, scores)
}

func TestDecodeScores_UnrecognizedShapeErrors(t *testing.T) {
	body := []byte(`"just a string"`)
	_, err := decodeScores(body)
	assert.Error(t, err)
}

func TestDecodeScores_EmptyArrayFallsThroughToError(t *testing.T) {
	body := []byte(`[]`)
	_, err := decodeScores(body)
	assert.Error(t, err)
}
