package faceservice

import (
	"context"
	"fmt"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/facematch"
)

// Default recognition and duplicate parameters.
const (
	DefaultThreshold       = 0.75
	DefaultStrictThreshold = 0.85
	DefaultDuplicateK      = 5
	DefaultDuplicateMin    = 0.6
)

// indexSyncer is implemented by stores that keep a per-process index.
type indexSyncer interface {
	SyncHNSW(ctx context.Context) error
}

// Recognizer identifies the enrolled person behind an embedding.
type Recognizer struct {
	persons   database.PersonStore
	index     database.HNSWRebuilder
	threshold float64
	strict    float64
}

// NewRecognizer creates a recognizer. index may be nil when searches go
// straight to the database.
func NewRecognizer(persons database.PersonStore, index database.HNSWRebuilder, threshold, strict float64) *Recognizer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if strict <= 0 {
		strict = DefaultStrictThreshold
	}
	return &Recognizer{persons: persons, index: index, threshold: threshold, strict: strict}
}

// Add enrolls a person from their per-photo embeddings. The averaged
// embedding is stored on the person and every photo embedding is indexed.
func (r *Recognizer) Add(ctx context.Context, p *database.Person, embeddings [][]float32) error {
	normalized := make([][]float32, len(embeddings))
	for i, e := range embeddings {
		normalized[i] = database.Normalize(e)
	}
	p.Embedding = database.Mean(normalized)
	if err := r.persons.Create(ctx, p, normalized); err != nil {
		return fmt.Errorf("store person: %w", err)
	}
	return nil
}

// Recognition is the result of Recognize.
type Recognition struct {
	Match      facematch.Match       `json:"match"`
	Outcome    facematch.Outcome     `json:"outcome"`
	Candidates []facematch.Candidate `json:"-"`
}

// Matched reports whether a person was accepted.
func (r Recognition) Matched() bool {
	return r.Outcome == facematch.OutcomeMatched
}

// Recognize searches the top neighbours and applies the threshold and the
// ambiguity rule. strict raises the threshold.
func (r *Recognizer) Recognize(ctx context.Context, embedding []float32, strict bool) (Recognition, error) {
	rows, dists, err := r.persons.FindSimilarWithDistance(ctx, database.Normalize(embedding), facematch.TopK)
	if err != nil {
		return Recognition{}, fmt.Errorf("search embeddings: %w", err)
	}
	threshold := r.threshold
	if strict {
		threshold = r.strict
	}
	cands := facematch.Candidates(rows, dists)
	match, outcome := facematch.Decide(cands, threshold)
	return Recognition{Match: match, Outcome: outcome, Candidates: cands}, nil
}

// Sync loads embeddings other processes added since the index was built.
func (r *Recognizer) Sync(ctx context.Context) error {
	if s, ok := r.index.(indexSyncer); ok && r.index.IsHNSWEnabled() {
		return s.SyncHNSW(ctx)
	}
	return nil
}

// Rebuild rebuilds the in-memory index from the database.
func (r *Recognizer) Rebuild(ctx context.Context) error {
	if r.index == nil {
		return nil
	}
	return r.index.RebuildHNSW(ctx)
}

// Stats describes the recognizer's index.
type Stats struct {
	IndexEnabled    bool    `json:"index_enabled"`
	IndexedVectors  int     `json:"indexed_vectors"`
	Persons         int     `json:"persons"`
	Embeddings      int     `json:"embeddings"`
	Threshold       float64 `json:"threshold"`
	StrictThreshold float64 `json:"strict_threshold"`
}

// Stats returns index and store counts.
func (r *Recognizer) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Threshold: r.threshold, StrictThreshold: r.strict}
	if r.index != nil {
		s.IndexEnabled = r.index.IsHNSWEnabled()
		s.IndexedVectors = r.index.HNSWCount()
	}
	var err error
	if s.Persons, err = r.persons.Count(ctx); err != nil {
		return s, err
	}
	if s.Embeddings, err = r.persons.CountEmbeddings(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// DuplicateChecker finds enrolled persons similar to a new face.
type DuplicateChecker struct {
	searcher  database.EmbeddingSearcher
	k         int
	threshold float64
}

// NewDuplicateChecker creates a checker over k neighbours with a minimum
// 1/(1+d) similarity.
func NewDuplicateChecker(searcher database.EmbeddingSearcher, k int, threshold float64) *DuplicateChecker {
	if k <= 0 {
		k = DefaultDuplicateK
	}
	if threshold <= 0 {
		threshold = DefaultDuplicateMin
	}
	return &DuplicateChecker{searcher: searcher, k: k, threshold: threshold}
}

// FindDuplicates returns one entry per similar person, most similar first.
func (d *DuplicateChecker) FindDuplicates(ctx context.Context, embedding []float32) ([]facematch.Duplicate, error) {
	rows, dists, err := d.searcher.FindSimilarWithDistance(ctx, database.Normalize(embedding), d.k)
	if err != nil {
		return nil, fmt.Errorf("search embeddings: %w", err)
	}
	return facematch.Duplicates(rows, dists, d.threshold), nil
}

// FindDuplicatesAny merges FindDuplicates over several embeddings, keeping
// each person's best score.
func (d *DuplicateChecker) FindDuplicatesAny(ctx context.Context, embeddings [][]float32) ([]facematch.Duplicate, error) {
	var rows []database.PersonEmbedding
	var dists []float64
	for _, e := range embeddings {
		r, ds, err := d.searcher.FindSimilarWithDistance(ctx, database.Normalize(e), d.k)
		if err != nil {
			return nil, fmt.Errorf("search embeddings: %w", err)
		}
		rows = append(rows, r...)
		dists = append(dists, ds...)
	}
	return facematch.Duplicates(rows, dists, d.threshold), nil
}
