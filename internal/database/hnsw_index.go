package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	EmbeddingCount int64     `json:"embedding_count"`
	MaxEmbeddingID int64     `json:"max_embedding_id"`
	BuildTime      time.Time `json:"build_time"`
	Version        int       `json:"version"`
}

const hnswMetadataVersion = 1

// ErrDimensionMismatch is returned when a query does not match the indexed dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// HNSWIndex wraps the HNSW graph for person embedding search.
// Node keys are person_embeddings.id.
type HNSWIndex struct {
	graph *hnsw.Graph[int64]
	byID  map[int64]*PersonEmbedding
	dim   int
	maxID int64
	mu    sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		byID: make(map[int64]*PersonEmbedding),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// BuildFromEmbeddings replaces the index contents.
func (h *HNSWIndex) BuildFromEmbeddings(embeddings []PersonEmbedding) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.byID = make(map[int64]*PersonEmbedding, len(embeddings))
	h.dim = 0
	h.maxID = 0
	for i := range embeddings {
		h.addLocked(&embeddings[i])
	}
}

// Add inserts embeddings. Rows with an unexpected dimension are skipped.
func (h *HNSWIndex) Add(embeddings ...PersonEmbedding) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	added := 0
	for i := range embeddings {
		e := embeddings[i]
		if h.addLocked(&e) {
			added++
		}
	}
	return added
}

func (h *HNSWIndex) addLocked(e *PersonEmbedding) bool {
	if len(e.Embedding) == 0 {
		return false
	}
	if h.dim == 0 {
		h.dim = len(e.Embedding)
	} else if len(e.Embedding) != h.dim {
		return false
	}
	if h.graph == nil {
		h.graph = newGraph()
	}
	h.graph.Add(hnsw.MakeNode(e.ID, e.Embedding))
	h.byID[e.ID] = e
	if e.ID > h.maxID {
		h.maxID = e.ID
	}
	return true
}

// Search finds the k nearest neighbors to the query embedding.
// Returns embeddings and their cosine distances, nearest first.
func (h *HNSWIndex) Search(query []float32, k int) ([]PersonEmbedding, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || len(h.byID) == 0 {
		return nil, nil, nil
	}
	if len(query) != h.dim {
		return nil, nil, fmt.Errorf("%w: index %d, query %d", ErrDimensionMismatch, h.dim, len(query))
	}

	neighbors := h.graph.Search(query, k)
	results := make([]PersonEmbedding, 0, len(neighbors))
	distances := make([]float64, 0, len(neighbors))
	for _, n := range neighbors {
		e, ok := h.byID[n.Key]
		if !ok {
			continue
		}
		results = append(results, *e)
		distances = append(distances, CosineDistance(query, n.Value))
	}
	return results, distances, nil
}

// Get returns the embedding for a given ID.
func (h *HNSWIndex) Get(id int64) *PersonEmbedding {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byID[id]
}

// Count returns the number of indexed embeddings.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}

// MaxID returns the highest embedding ID in the index.
func (h *HNSWIndex) MaxID() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxID
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil || h.graph.Len() == 0
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// saveEmbeddingRows writes the row metadata to a .rows file for fast loading at startup.
func saveEmbeddingRows(path string, rows []PersonEmbedding) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rows); err != nil {
		return fmt.Errorf("failed to encode embeddings: %w", err)
	}
	if err := writeFileAtomic(path+".rows", func(w io.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	}); err != nil {
		return fmt.Errorf("failed to write rows file: %w", err)
	}
	return nil
}

// writeFileAtomic writes to a temporary file next to path and renames it
// into place, so readers see either the old or the new file.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// fileLock guards the graph, .meta and .rows files as one unit across
// processes sharing the index directory.
func fileLock(path string) *flock.Flock {
	return flock.New(path + ".lock")
}

func loadEmbeddingRows(path string) ([]PersonEmbedding, error) {
	data, err := os.ReadFile(path + ".rows") //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read rows file: %w", err)
	}
	var rows []PersonEmbedding
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode rows: %w", err)
	}
	return rows, nil
}

// Load reads the graph and row metadata written by Save.
func (h *HNSWIndex) Load(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	lock := fileLock(path)
	if err := lock.RLock(); err != nil {
		return fmt.Errorf("lock HNSW index: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("HNSW index file not found: %w", err)
	}
	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}
	rows, err := loadEmbeddingRows(path)
	if err != nil {
		return err
	}

	h.graph = saved.Graph
	h.graph.EfSearch = HNSWEfSearch
	h.byID = make(map[int64]*PersonEmbedding, len(rows))
	h.dim = 0
	h.maxID = 0
	for i := range rows {
		r := &rows[i]
		h.byID[r.ID] = r
		if h.dim == 0 {
			h.dim = len(r.Embedding)
		}
		if r.ID > h.maxID {
			h.maxID = r.ID
		}
	}
	return nil
}

// Save persists the graph, a .meta staleness file and a .rows file.
func (h *HNSWIndex) Save(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	lock := fileLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock HNSW index: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	if h.graph == nil || len(h.byID) == 0 {
		// Remove stale files if the index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".rows")
		return nil
	}

	if err := writeFileAtomic(path, h.graph.Export); err != nil {
		return fmt.Errorf("failed to write HNSW index file: %w", err)
	}

	metadata.Version = hnswMetadataVersion
	if metadata.BuildTime.IsZero() {
		metadata.BuildTime = time.Now().UTC()
	}
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := writeFileAtomic(path+".meta", func(w io.Writer) error {
		_, err := w.Write(metaData)
		return err
	}); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	rows := make([]PersonEmbedding, 0, len(h.byID))
	for _, e := range h.byID {
		rows = append(rows, *e)
	}
	return saveEmbeddingRows(path, rows)
}
