package indexer

import "fmt"

// indexTarget is the static resolution of one indexType entry, per spec
// §4.6's INDEX_MAPPING table: the system-of-record table to read and the
// search-store index to write.
type indexTarget struct {
	Table      string
	Index      string
	PKColumn   string
}

var indexMapping = map[string]indexTarget{
	"media":          {Table: "media_assets", Index: "media_search", PKColumn: "media_id"},
	"post":           {Table: "posts", Index: "post_search", PKColumn: "post_id"},
	"user":           {Table: "users", Index: "user_search", PKColumn: "user_id"},
	"face":           {Table: "detected_faces", Index: "face_search", PKColumn: "face_id"},
	"recommendation": {Table: "recommendation_vectors", Index: "recommendations_knn", PKColumn: "recommendation_id"},
	"feed":           {Table: "feed_entries", Index: "feed_personalized", PKColumn: "feed_entry_id"},
	"known_face":     {Table: "known_faces", Index: "known_faces_index", PKColumn: "known_face_id"},
}

func resolveTarget(indexType string) (indexTarget, error) {
	t, ok := indexMapping[indexType]
	if !ok {
		return indexTarget{}, fmt.Errorf("indexer: unknown indexType %q", indexType)
	}
	return t, nil
}
