package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTarget_KnownIndexTypes(t *testing.T) {
	cases := map[string]indexTarget{
		"media":          {Table: "media_assets", Index: "media_search", PKColumn: "media_id"},
		"post":           {Table: "posts", Index: "post_search", PKColumn: "post_id"},
		"user":           {Table: "users", Index: "user_search", PKColumn: "user_id"},
		"face":           {Table: "detected_faces", Index: "face_search", PKColumn: "face_id"},
		"recommendation": {Table: "recommendation_vectors", Index: "recommendations_knn", PKColumn: "recommendation_id"},
		"feed":           {Table: "feed_entries", Index: "feed_personalized", PKColumn: "feed_entry_id"},
		"known_face":     {Table: "known_faces", Index: "known_faces_index", PKColumn: "known_face_id"},
	}
	for indexType, want := range cases {
		got, err := resolveTarget(indexType)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestResolveTarget_UnknownIndexType(t *testing.T) {
	_, err := resolveTarget("bogus")
	assert.Error(t, err)
}
