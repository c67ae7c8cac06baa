package aggregator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mediapipeline/internal/model"
)

// eventPattern is one row of the event-type scoring table in spec §4.5.
type eventPattern struct {
	name            string
	minImages       int
	requiredTags    []string
	requiredScenes  []string
}

var eventPatterns = []eventPattern{
	{name: "beach_party", minImages: 2, requiredTags: []string{"beach", "people"}, requiredScenes: []string{"beach", "outdoor"}},
	{name: "wedding", minImages: 3, requiredTags: []string{"people", "formal"}, requiredScenes: []string{"indoor", "outdoor"}},
	{name: "meeting", minImages: 2, requiredTags: []string{"people", "indoor"}, requiredScenes: []string{"office", "indoor"}},
	{name: "concert", minImages: 2, requiredTags: []string{"people", "music"}, requiredScenes: []string{"indoor", "outdoor"}},
	{name: "vacation", minImages: 3, requiredTags: nil, requiredScenes: []string{"beach", "mountains", "outdoor"}},
	{name: "restaurant", minImages: 2, requiredTags: []string{"food", "people"}, requiredScenes: []string{"restaurant", "indoor"}},
	{name: "outdoor_activity", minImages: 2, requiredTags: nil, requiredScenes: []string{"outdoor", "nature", "mountains", "forest"}},
	{name: "indoor_gathering", minImages: 3, requiredTags: []string{"people"}, requiredScenes: []string{"indoor"}},
}

// computeEnrichedPost builds the full EnrichedPost record from the final
// media snapshot, per spec §4.5 step 5.
func computeEnrichedPost(postID, correlationID string, media map[string]*imageState) model.EnrichedPost {
	var allTags, allScenes []string
	tagFreq := map[string]int{}
	sceneFreq := map[string]int{}
	var captions []string
	isSafe := true
	minConfidence := 1.0
	haveConfidence := false
	totalFaces := 0

	for _, s := range media {
		if f, ok := s.fields[model.ServiceTagging]; ok {
			tags := decodeStringSlice(f["tags"])
			allTags = append(allTags, tags...)
			for _, t := range tags {
				tagFreq[t]++
			}
		}
		if f, ok := s.fields[model.ServiceScene]; ok {
			if scene := strings.TrimSpace(f["scene"]); scene != "" {
				allScenes = append(allScenes, scene)
				sceneFreq[scene]++
			}
		}
		if f, ok := s.fields[model.ServiceCaptioning]; ok {
			if c := strings.TrimSpace(f["caption"]); c != "" {
				captions = append(captions, c)
			}
		}
		if f, ok := s.fields[model.ServiceModeration]; ok {
			if v, ok := f["isSafe"]; ok && v == "false" {
				isSafe = false
			}
			if v, ok := f["moderationConfidence"]; ok {
				if conf, err := strconv.ParseFloat(v, 64); err == nil {
					haveConfidence = true
					if conf < minConfidence {
						minConfidence = conf
					}
				}
			}
		}
		totalFaces += s.faces
	}

	if !haveConfidence {
		minConfidence = 0
	}

	aggregatedTags := topNByFrequency(tagFreq, 10)
	aggregatedScenes := topNByFrequency(sceneFreq, 5)

	return model.EnrichedPost{
		PostID:               postID,
		MediaCount:           len(media),
		AllAiTags:            orEmpty(allTags),
		AllAiScenes:          orEmpty(allScenes),
		AggregatedTags:       aggregatedTags,
		AggregatedScenes:     aggregatedScenes,
		TotalFaces:           totalFaces,
		IsSafe:               isSafe,
		ModerationConfidence: minConfidence,
		InferredEventType:    inferEventType(len(media), aggregatedTags, aggregatedScenes),
		CombinedCaption:      combineCaption(captions, aggregatedTags, aggregatedScenes),
		HasMultipleImages:    len(media) > 1,
		CorrelationID:        correlationID,
		Version:              model.CurrentVersion,
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func decodeStringSlice(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out
	}
	return strings.Split(raw, ",")
}

// topNByFrequency sorts keys by descending count and returns at most n.
// Keys are collected by iterating a Go map, so the relative order of keys
// with equal counts is not defined.
func topNByFrequency(freq map[string]int, n int) []string {
	type entry struct {
		key   string
		count int
	}
	entries := make([]entry, 0, len(freq))
	for k, v := range freq {
		entries = append(entries, entry{k, v})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].count > entries[j].count })
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.key
	}
	return out
}

// combineCaption implements spec §4.5's zero/one/many caption rule. The
// concatenation fallback is always correct; an LLM summarization stage is
// an optional enrichment layered on top by the caller, not implemented here.
func combineCaption(captions, tags, scenes []string) string {
	switch len(captions) {
	case 0:
		return synthesizeCaption(tags, scenes)
	case 1:
		return captions[0]
	default:
		n := 3
		if len(captions) < n {
			n = len(captions)
		}
		return strings.Join(captions[:n], " ")
	}
}

func synthesizeCaption(tags, scenes []string) string {
	switch {
	case len(tags) > 0 && len(scenes) > 0:
		return fmt.Sprintf("A %s scene featuring %s.", scenes[0], strings.Join(firstN(tags, 3), ", "))
	case len(scenes) > 0:
		return fmt.Sprintf("A %s scene.", scenes[0])
	case len(tags) > 0:
		return fmt.Sprintf("Featuring %s.", strings.Join(firstN(tags, 3), ", "))
	default:
		return ""
	}
}

func firstN(s []string, n int) []string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

// inferEventType scores every pattern against the aggregated tags/scenes and
// returns the highest-scoring pattern name, or "general" if none scores
// positively or every candidate is disqualified by mediaCount < minImages.
func inferEventType(mediaCount int, tags, scenes []string) string {
	tagSet := toSet(tags)
	sceneSet := toSet(scenes)

	best := "general"
	bestScore := 0
	for _, p := range eventPatterns {
		if mediaCount < p.minImages {
			continue
		}
		score := 0
		for _, t := range p.requiredTags {
			if tagSet[t] {
				score += 2
			}
		}
		for _, s := range p.requiredScenes {
			if sceneSet[s] {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = p.name
		}
	}
	return best
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[strings.ToLower(i)] = true
	}
	return out
}
