package dlqproc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mediapipeline/internal/model"
)

func TestDecodeDLQEntry_RoundTripsFields(t *testing.T) {
	fields := map[string]string{
		"originalMessageId": "123-0",
		"originalData":      `{"mediaId":"m1"}`,
		"service":           "image-tagging",
		"error":             "upstream status 503",
		"errorType":         "provider_failure",
		"retryCount":        "3",
		"timestamp":         "2026-01-02T03:04:05Z",
		"version":           "1",
	}
	dlq := decodeDLQEntry(fields)
	assert.Equal(t, "123-0", dlq.OriginalMessageID)
	assert.Equal(t, "image-tagging", dlq.Service)
	assert.Equal(t, 3, dlq.RetryCount)
}

func TestBuildRetryFields_MarksRetryAndOriginalService(t *testing.T) {
	dlq := model.DLQEntry{Service: "scene_recognition"}
	original := map[string]string{"mediaId": "m1", "postId": "p1"}

	fields := buildRetryFields(dlq, original)

	assert.Equal(t, "m1", fields["mediaId"])
	assert.Equal(t, "p1", fields["postId"])
	assert.Equal(t, "true", fields["dlqRetry"])
	assert.Equal(t, "scene_recognition", fields["dlqOriginalService"])
}
