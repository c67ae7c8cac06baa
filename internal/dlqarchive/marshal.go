package dlqarchive

import (
	"encoding/json"

	"mediapipeline/internal/model"
)

func marshalEntry(entry model.DLQEntry) ([]byte, error) {
	return json.Marshal(entry)
}
