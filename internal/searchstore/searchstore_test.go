package searchstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediapipeline/internal/model"
)

func TestBuildBulkBody_IndexAndDeleteActions(t *testing.T) {
	actions := []Action{
		{Index: "media_search", DocumentID: "m1", Operation: model.SyncIndex, Document: map[string]any{"title": "x"}},
		{Index: "media_search", DocumentID: "m2", Operation: model.SyncDelete},
	}
	body, err := buildBulkBody(actions)
	require.NoError(t, err)

	lines := splitLines(body)
	require.Len(t, lines, 3)

	var indexMeta map[string]map[string]string
	require.NoError(t, json.Unmarshal(lines[0], &indexMeta))
	assert.Equal(t, "m1", indexMeta["index"]["_id"])

	var deleteMeta map[string]map[string]string
	require.NoError(t, json.Unmarshal(lines[2], &deleteMeta))
	assert.Equal(t, "m2", deleteMeta["delete"]["_id"])
}

func TestFailedActions_CorrelatesByPosition(t *testing.T) {
	actions := []Action{
		{Index: "i", DocumentID: "a"},
		{Index: "i", DocumentID: "b"},
	}
	resp := bulkResponse{
		Errors: true,
		Items: []map[string]struct {
			Status int `json:"status"`
			Error  any `json:"error,omitempty"`
		}{
			{"index": {Status: 201}},
			{"index": {Status: 400, Error: "mapper_parsing_exception"}},
		},
	}
	failed := failedActions(actions, resp)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].DocumentID)
}

func splitLines(body []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range body {
		if b == '\n' {
			lines = append(lines, body[start:i])
			start = i + 1
		}
	}
	return lines
}
