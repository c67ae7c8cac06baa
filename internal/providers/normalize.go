package providers

import (
	"strings"

	"github.com/google/uuid"
)

// nsfwLabels and safeLabels are the label sets the moderation contract
// scores against, after normalization (lowercase, underscores → spaces).
var nsfwLabels = map[string]bool{
	"nsfw": true, "explicit": true, "sexual": true, "porn": true,
	"nudity": true, "gore": true, "violence": true, "graphic violence": true,
}

var safeLabels = map[string]bool{
	"safe": true, "sfw": true, "neutral": true, "normal": true,
}

const (
	nsfwThreshold = 0.45
)

func normalizeLabel(label string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), "_", " ")
}

// DeriveModeration computes is_safe/confidence/top_label from a raw
// label→score map, per spec §4.3's platform-agnostic moderation contract.
func DeriveModeration(scores map[string]float64) ModerationResult {
	var nsfwScore, safeScore float64
	var topLabel string
	var topScore float64
	for rawLabel, score := range scores {
		label := normalizeLabel(rawLabel)
		if nsfwLabels[label] && score > nsfwScore {
			nsfwScore = score
		}
		if safeLabels[label] && score > safeScore {
			safeScore = score
		}
		if score > topScore {
			topScore = score
			topLabel = rawLabel
		}
	}
	isSafe := nsfwScore < nsfwThreshold && safeScore > nsfwScore
	confidence := topScore
	return ModerationResult{
		IsSafe:     isSafe,
		Confidence: confidence,
		Scores:     scores,
		TopLabel:   topLabel,
	}
}

// SelectTopN implements the "never empty when scores exist" rule shared by
// tagging and scene recognition: return entries clearing threshold, sorted
// by descending score, capped at topN; if none clear threshold but scores
// exist, fall back to the top topN regardless of threshold.
func SelectTopN(scores map[string]float64, topN int, threshold float64) []string {
	if len(scores) == 0 {
		return nil
	}
	all := make([]scoreEntry, 0, len(scores))
	for k, v := range scores {
		all = append(all, scoreEntry{k, v})
	}
	sortDescending(all)

	selected := make([]string, 0, topN)
	for _, e := range all {
		if e.v > threshold {
			selected = append(selected, e.k)
		}
		if len(selected) >= topN {
			break
		}
	}
	if len(selected) > 0 {
		return selected
	}
	for i, e := range all {
		if i >= topN {
			break
		}
		selected = append(selected, e.k)
	}
	return selected
}

type scoreEntry struct {
	k string
	v float64
}

func sortDescending(items []scoreEntry) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].v > items[j-1].v; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// NormalizeFaces pads or truncates every face's embedding to embeddingDim
// and assigns a fresh id to any face missing one, per spec §4.3's face
// contract.
func NormalizeFaces(faces []DetectedFace, embeddingDim int) []DetectedFace {
	out := make([]DetectedFace, len(faces))
	for i, f := range faces {
		if f.FaceID == "" {
			f.FaceID = uuid.NewString()
		}
		f.Embedding = fitEmbedding(f.Embedding, embeddingDim)
		out[i] = f
	}
	return out
}

func fitEmbedding(emb []float64, dim int) []float64 {
	if dim <= 0 {
		return emb
	}
	if len(emb) == dim {
		return emb
	}
	out := make([]float64, dim)
	copy(out, emb)
	return out
}
