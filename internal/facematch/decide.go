package facematch

import (
	"sort"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
)

const (
	// TopK is the number of neighbours inspected per recognition.
	TopK = 3
	// AmbiguityMargin is how close a different person's similarity may come
	// to the best before the match is refused.
	AmbiguityMargin = 0.1
	// HighMatchSimilarity marks a duplicate as a likely re-enrollment.
	HighMatchSimilarity = 0.85
)

// SimilarityFromDistance converts a cosine distance into a similarity in [0, 1].
func SimilarityFromDistance(distance float64) float64 {
	return clamp(1-distance, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Candidates collapses neighbour rows into one best candidate per person,
// most similar first.
func Candidates(rows []database.PersonEmbedding, distances []float64) []Candidate {
	best := make(map[int64]Candidate, len(rows))
	for i, row := range rows {
		if i >= len(distances) {
			break
		}
		sim := SimilarityFromDistance(distances[i])
		if c, ok := best[row.PersonID]; ok && c.Similarity >= sim {
			continue
		}
		best[row.PersonID] = Candidate{
			PersonID:   row.PersonID,
			PersonName: row.PersonName,
			UserID:     row.UserID,
			Similarity: sim,
		}
	}

	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].PersonID < out[j].PersonID
	})
	return out
}

// Decide accepts the best candidate when it reaches threshold and no other
// person is within AmbiguityMargin of it. candidates must be sorted as
// Candidates returns them.
func Decide(candidates []Candidate, threshold float64) (Match, Outcome) {
	if len(candidates) == 0 {
		return Match{}, OutcomeNoCandidates
	}
	best := candidates[0]
	if best.Similarity < threshold {
		return Match{}, OutcomeBelowThreshold
	}
	if len(candidates) > 1 {
		second := candidates[1]
		if second.PersonID != best.PersonID && best.Similarity-second.Similarity < AmbiguityMargin {
			return Match{}, OutcomeAmbiguous
		}
	}
	return Match{
		PersonID:   best.PersonID,
		PersonName: best.PersonName,
		UserID:     best.UserID,
		Similarity: best.Similarity,
	}, OutcomeMatched
}

// Duplicates scores neighbour rows with 1/(1+d), where d is the squared L2
// distance between the normalized vectors, keeps those at or above threshold
// and returns one entry per person, most similar first.
func Duplicates(rows []database.PersonEmbedding, distances []float64, threshold float64) []Duplicate {
	best := make(map[int64]Duplicate, len(rows))
	for i, row := range rows {
		if i >= len(distances) {
			break
		}
		d := database.SquaredL2FromCosine(distances[i])
		sim := 1 / (1 + d)
		if sim < threshold {
			continue
		}
		if prev, ok := best[row.PersonID]; ok && prev.Similarity >= sim {
			continue
		}
		best[row.PersonID] = Duplicate{
			PersonID:    row.PersonID,
			PersonName:  row.PersonName,
			UserID:      row.UserID,
			Distance:    d,
			Similarity:  sim,
			Confidence:  sim * 100,
			IsHighMatch: sim >= HighMatchSimilarity,
		}
	}

	out := make([]Duplicate, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].PersonID < out[j].PersonID
	})
	return out
}
