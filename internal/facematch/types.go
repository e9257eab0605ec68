// Package facematch decides recognition and duplicate matches from nearest
// neighbour search results. It holds no state and does no I/O.
package facematch

// Candidate is one person's best neighbour for a query embedding.
type Candidate struct {
	PersonID   int64
	PersonName string
	UserID     *int64
	Similarity float64 // cosine similarity clamped to [0, 1]
}

// Match is an accepted recognition.
type Match struct {
	PersonID   int64   `json:"person_id"`
	PersonName string  `json:"name"`
	UserID     *int64  `json:"user_id,omitempty"`
	Similarity float64 `json:"similarity"`
}

// Outcome explains why Decide did or did not accept the best candidate.
type Outcome string

const (
	OutcomeMatched        Outcome = "matched"
	OutcomeNoCandidates   Outcome = "no_candidates"
	OutcomeBelowThreshold Outcome = "below_threshold"
	OutcomeAmbiguous      Outcome = "ambiguous"
)

// Duplicate is an existing person that looks like a submitted face.
type Duplicate struct {
	PersonID    int64   `json:"person_id"`
	PersonName  string  `json:"name"`
	UserID      *int64  `json:"user_id,omitempty"`
	Distance    float64 `json:"distance"`
	Similarity  float64 `json:"similarity"`
	Confidence  float64 `json:"confidence"`
	IsHighMatch bool    `json:"is_high_match"`
}
