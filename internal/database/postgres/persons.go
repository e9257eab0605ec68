package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/facematch"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
	"github.com/pgvector/pgvector-go"
)

// PersonRepository provides PostgreSQL-backed person storage with an optional
// in-memory HNSW index over person_embeddings.
type PersonRepository struct {
	pool          *Pool
	hnswIndex     *database.HNSWIndex
	hnswEnabled   bool
	hnswIndexPath string
	hnswMu        sync.RWMutex
	syncMu        sync.Mutex
}

// NewPersonRepository creates a new PostgreSQL person repository.
func NewPersonRepository(pool *Pool) *PersonRepository {
	return &PersonRepository{pool: pool}
}

const personColumns = `id, name, user_id, embedding, embedding_dim, photos_count, status, enrollment_date`

func scanPerson(scanner interface{ Scan(...any) error }) (*database.Person, error) {
	var p database.Person
	var vec *pgvector.Vector
	if err := scanner.Scan(&p.ID, &p.Name, &p.UserID, &vec, &p.EmbeddingDim,
		&p.PhotosCount, &p.Status, &p.EnrollmentDate); err != nil {
		return nil, err
	}
	if vec != nil {
		p.Embedding = vec.Slice()
	}
	return &p, nil
}

// Create stores the person, its averaged embedding and every per-photo
// embedding in one transaction. New rows are added to the HNSW index.
func (r *PersonRepository) Create(ctx context.Context, p *database.Person, embeddings [][]float32) error {
	if len(embeddings) == 0 {
		return errors.New("at least one embedding is required")
	}
	if len(p.Embedding) == 0 {
		p.Embedding = database.Mean(embeddings)
	}
	if p.Status == "" {
		p.Status = database.StatusActive
	}
	p.EmbeddingDim = len(p.Embedding)
	p.PhotosCount = len(embeddings)

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO persons (name, user_id, embedding, embedding_dim, photos_count, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, enrollment_date
	`, p.Name, p.UserID, pgvector.NewVector(p.Embedding), p.EmbeddingDim, p.PhotosCount, p.Status,
	).Scan(&p.ID, &p.EnrollmentDate)
	if err != nil {
		return fmt.Errorf("insert person: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO person_embeddings (person_id, embedding) VALUES ($1, $2) RETURNING id, created_at
	`)
	if err != nil {
		return fmt.Errorf("prepare embedding insert: %w", err)
	}
	defer stmt.Close()

	inserted := make([]database.PersonEmbedding, 0, len(embeddings))
	for _, emb := range embeddings {
		row := database.PersonEmbedding{
			PersonID:   p.ID,
			PersonName: p.Name,
			UserID:     p.UserID,
			Embedding:  emb,
		}
		if err := stmt.QueryRowContext(ctx, p.ID, pgvector.NewVector(emb)).Scan(&row.ID, &row.CreatedAt); err != nil {
			return fmt.Errorf("insert person embedding: %w", err)
		}
		inserted = append(inserted, row)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit person: %w", err)
	}

	r.hnswMu.RLock()
	if r.hnswEnabled && r.hnswIndex != nil {
		r.hnswIndex.Add(inserted...)
	}
	r.hnswMu.RUnlock()
	return nil
}

// Get returns database.ErrNotFound if the person does not exist.
func (r *PersonRepository) Get(ctx context.Context, id int64) (*database.Person, error) {
	p, err := scanPerson(r.pool.QueryRow(ctx, "SELECT "+personColumns+" FROM persons WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

// GetByUserID returns nil if the user has no person record.
func (r *PersonRepository) GetByUserID(ctx context.Context, userID int64) (*database.Person, error) {
	p, err := scanPerson(r.pool.QueryRow(ctx,
		"SELECT "+personColumns+" FROM persons WHERE user_id = $1 ORDER BY id DESC LIMIT 1", userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get person by user: %w", err)
	}
	return p, nil
}

// List returns persons ordered by name. A non-empty query keeps persons whose
// name contains every word of the query, ignoring accents and case.
func (r *PersonRepository) List(ctx context.Context, activeOnly bool, query string) ([]database.Person, error) {
	q := "SELECT " + personColumns + " FROM persons"
	if activeOnly {
		q += " WHERE status = 'active'"
	}
	q += " ORDER BY name, id"

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var out []database.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		if query != "" && !facematch.MatchesQuery(query, p.Name) {
			continue
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return out, nil
}

// Count returns the number of persons.
func (r *PersonRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM persons").Scan(&n); err != nil {
		return 0, fmt.Errorf("count persons: %w", err)
	}
	return n, nil
}

// CountEmbeddings returns the number of per-photo embeddings.
func (r *PersonRepository) CountEmbeddings(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM person_embeddings").Scan(&n); err != nil {
		return 0, fmt.Errorf("count person embeddings: %w", err)
	}
	return n, nil
}

const embeddingSelect = `
	SELECT e.id, e.person_id, p.name, p.user_id, e.embedding, e.created_at
	FROM person_embeddings e
	JOIN persons p ON p.id = e.person_id
	WHERE p.status = 'active'`

func scanEmbedding(scanner interface{ Scan(...any) error }, extra ...any) (database.PersonEmbedding, error) {
	var e database.PersonEmbedding
	var vec pgvector.Vector
	dest := append([]any{&e.ID, &e.PersonID, &e.PersonName, &e.UserID, &vec, &e.CreatedAt}, extra...)
	if err := scanner.Scan(dest...); err != nil {
		return e, err
	}
	e.Embedding = vec.Slice()
	return e, nil
}

func (r *PersonRepository) loadEmbeddings(ctx context.Context, afterID int64) ([]database.PersonEmbedding, error) {
	rows, err := r.pool.Query(ctx, embeddingSelect+" AND e.id > $1 ORDER BY e.id", afterID)
	if err != nil {
		return nil, fmt.Errorf("query person embeddings: %w", err)
	}
	defer rows.Close()

	var out []database.PersonEmbedding
	for rows.Next() {
		e, err := scanEmbedding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person embedding: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate person embeddings: %w", err)
	}
	return out, nil
}

// Embeddings returns every embedding of an active person ordered by id.
func (r *PersonRepository) Embeddings(ctx context.Context) ([]database.PersonEmbedding, error) {
	return r.loadEmbeddings(ctx, 0)
}

// FindSimilarWithDistance returns up to limit embeddings nearest to the query
// with their cosine distances. Uses the in-memory HNSW index if enabled,
// otherwise falls back to PostgreSQL.
func (r *PersonRepository) FindSimilarWithDistance(
	ctx context.Context, embedding []float32, limit int,
) ([]database.PersonEmbedding, []float64, error) {
	if r.IsHNSWEnabled() {
		// Other workers may have enrolled persons since this index was built.
		if err := r.SyncHNSW(ctx); err != nil {
			logging.Warn("person index sync failed", "error", err)
		}
		return r.findSimilarHNSW(embedding, limit)
	}
	return r.findSimilarPostgres(ctx, embedding, limit)
}

func (r *PersonRepository) findSimilarHNSW(
	embedding []float32, limit int,
) ([]database.PersonEmbedding, []float64, error) {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndex == nil {
		return nil, nil, errors.New("HNSW index not initialized")
	}

	results, distances, err := r.hnswIndex.Search(embedding, limit*database.HNSWSearchMultiplier)
	if err != nil {
		return nil, nil, fmt.Errorf("HNSW search: %w", err)
	}

	// The graph is approximate; order strictly by distance before trimming.
	idx := make([]int, len(results))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return distances[idx[a]] < distances[idx[b]] })

	n := min(limit, len(idx))
	outRows := make([]database.PersonEmbedding, 0, n)
	outDist := make([]float64, 0, n)
	for _, i := range idx[:n] {
		outRows = append(outRows, results[i])
		outDist = append(outDist, distances[i])
	}
	return outRows, outDist, nil
}

func (r *PersonRepository) findSimilarPostgres(
	ctx context.Context, embedding []float32, limit int,
) ([]database.PersonEmbedding, []float64, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, nil, fmt.Errorf("set ef_search: %w", err)
	}

	query := `
		SELECT e.id, e.person_id, p.name, p.user_id, e.embedding, e.created_at,
		       e.embedding <=> $1::vector AS distance
		FROM person_embeddings e
		JOIN persons p ON p.id = e.person_id
		WHERE p.status = 'active'
		ORDER BY distance
		LIMIT $2
	`
	rows, err := tx.QueryContext(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar embeddings: %w", err)
	}
	defer rows.Close()

	var out []database.PersonEmbedding
	var distances []float64
	for rows.Next() {
		var dist float64
		e, err := scanEmbedding(rows, &dist)
		if err != nil {
			return nil, nil, fmt.Errorf("scan similar embedding: %w", err)
		}
		out = append(out, e)
		distances = append(distances, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate similar embeddings: %w", err)
	}
	return out, distances, nil
}

// SyncHNSW adds embeddings inserted after the index's highest ID.
func (r *PersonRepository) SyncHNSW(ctx context.Context) error {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	r.hnswMu.RLock()
	idx := r.hnswIndex
	r.hnswMu.RUnlock()
	if idx == nil {
		return nil
	}

	fresh, err := r.loadEmbeddings(ctx, idx.MaxID())
	if err != nil {
		return err
	}
	if len(fresh) > 0 {
		idx.Add(fresh...)
		logging.Debug("person index synced", "added", len(fresh))
	}
	return nil
}

func (r *PersonRepository) embeddingStats(ctx context.Context) (count, maxID int64, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(MAX(e.id), 0)
		FROM person_embeddings e
		JOIN persons p ON p.id = e.person_id
		WHERE p.status = 'active'
	`).Scan(&count, &maxID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get embedding stats: %w", err)
	}
	return count, maxID, nil
}

// tryLoadIndex attempts to load the person HNSW index from disk.
// Returns true if a fresh index was loaded.
func (r *PersonRepository) tryLoadIndex(indexPath string, dbCount, dbMaxID int64) bool {
	metadata, err := database.LoadHNSWMetadata(indexPath)
	if err != nil {
		logging.Debug("person index metadata unavailable, rebuilding", "error", err)
		return false
	}
	if metadata.EmbeddingCount != dbCount || metadata.MaxEmbeddingID != dbMaxID {
		logging.Info("person index stale, rebuilding",
			"db_count", dbCount, "db_max_id", dbMaxID,
			"cached_count", metadata.EmbeddingCount, "cached_max_id", metadata.MaxEmbeddingID)
		return false
	}

	idx := database.NewHNSWIndex()
	if err := idx.Load(indexPath); err != nil {
		logging.Warn("person index load failed, rebuilding", "error", err)
		return false
	}
	if idx.IsEmpty() {
		return false
	}
	r.hnswIndex = idx
	logging.Info("person index loaded from disk", "path", indexPath, "count", idx.Count())
	return true
}

// EnableHNSW loads or builds the in-memory HNSW index. If indexPath is set the
// index is loaded from disk when fresh and saved after a rebuild.
func (r *PersonRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()

	r.hnswIndexPath = indexPath

	dbCount, dbMaxID, err := r.embeddingStats(ctx)
	if err != nil {
		return err
	}

	if indexPath != "" && r.tryLoadIndex(indexPath, dbCount, dbMaxID) {
		r.hnswEnabled = true
		return nil
	}

	rows, err := r.loadEmbeddings(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	r.hnswIndex = database.NewHNSWIndex()
	r.hnswIndex.BuildFromEmbeddings(rows)

	if indexPath != "" && len(rows) > 0 {
		metadata := database.HNSWIndexMetadata{EmbeddingCount: dbCount, MaxEmbeddingID: dbMaxID}
		if err := r.hnswIndex.Save(indexPath, metadata); err != nil {
			logging.Warn("failed to save person index", "path", indexPath, "error", err)
		}
	}

	r.hnswEnabled = true
	logging.Info("person index built", "count", len(rows))
	return nil
}

// DisableHNSW drops the in-memory index; searches go to PostgreSQL.
func (r *PersonRepository) DisableHNSW() {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswEnabled = false
	r.hnswIndex = nil
}

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled.
func (r *PersonRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// HNSWCount returns the number of embeddings in the HNSW index.
func (r *PersonRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// RebuildHNSW rebuilds the HNSW index from PostgreSQL data.
func (r *PersonRepository) RebuildHNSW(ctx context.Context) error {
	r.hnswMu.RLock()
	indexPath := r.hnswIndexPath
	r.hnswMu.RUnlock()
	if indexPath != "" {
		// Force a rebuild even if the cached metadata still matches.
		removeIndexFiles(indexPath)
	}
	return r.EnableHNSW(ctx, indexPath)
}

// SaveHNSWIndex saves the current HNSW index to disk (if path configured).
func (r *PersonRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndexPath == "" || r.hnswIndex == nil {
		return nil
	}

	count, maxID, err := r.embeddingStats(context.Background())
	if err != nil {
		return err
	}
	if int64(r.hnswIndex.Count()) != count || r.hnswIndex.MaxID() != maxID {
		// Saving would record metadata that does not describe the graph.
		logging.Debug("person index out of sync with database, not saving",
			"index_count", r.hnswIndex.Count(), "db_count", count)
		return nil
	}

	metadata := database.HNSWIndexMetadata{EmbeddingCount: count, MaxEmbeddingID: maxID}
	if err := r.hnswIndex.Save(r.hnswIndexPath, metadata); err != nil {
		return fmt.Errorf("saving HNSW person index: %w", err)
	}
	logging.Info("person index saved", "path", r.hnswIndexPath, "count", count, "max_id", maxID)
	return nil
}

func removeIndexFiles(path string) {
	_ = os.Remove(path + ".meta")
}
