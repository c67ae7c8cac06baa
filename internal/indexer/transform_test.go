package indexer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mediapipeline/internal/sor"
)

func TestCamelCase(t *testing.T) {
	assert.Equal(t, "mediaId", camelCase("media_id"))
	assert.Equal(t, "createdAt", camelCase("created_at"))
	assert.Equal(t, "bbox", camelCase("bbox"))
}

func TestTransformRow_TimestampReformatted(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 123456000, time.UTC)
	row := sor.Row{"created_at": ts}
	doc := transformRow(row)
	assert.Equal(t, "2026-01-02T03:04:05.123456", doc["createdAt"])
}

func TestTransformRow_EmbeddingDecodedFromJSONString(t *testing.T) {
	row := sor.Row{"face_embedding": `[0.1,0.2,0.3]`}
	doc := transformRow(row)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, doc["faceEmbedding"])
}

func TestTransformRow_BBoxCoercedToIntArray(t *testing.T) {
	row := sor.Row{"bbox": `[10.0, 20.0, 100.0, 200.0]`}
	doc := transformRow(row)
	assert.Equal(t, []int{10, 20, 100, 200}, doc["bbox"])
}

func TestTransformRow_PassthroughColumns(t *testing.T) {
	row := sor.Row{"username": "alice"}
	doc := transformRow(row)
	assert.Equal(t, "alice", doc["username"])
}
