package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
)

// EnrollmentRepository provides PostgreSQL-backed enrollment request storage.
type EnrollmentRepository struct {
	pool *Pool
}

// NewEnrollmentRepository creates a new PostgreSQL enrollment repository.
func NewEnrollmentRepository(pool *Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

const enrollmentColumns = `id, user_id, name, email, COALESCE(phone, ''), images, status, submitted_at,
	processed_at, processed_by, COALESCE(rejection_reason, ''), quality_scores`

func scanEnrollment(scanner interface{ Scan(...any) error }) (*database.EnrollmentRequest, error) {
	var req database.EnrollmentRequest
	var images, scores []byte
	err := scanner.Scan(&req.ID, &req.UserID, &req.Name, &req.Email, &req.Phone, &images, &req.Status,
		&req.SubmittedAt, &req.ProcessedAt, &req.ProcessedBy, &req.RejectionReason, &scores)
	if err != nil {
		return nil, err
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &req.Images); err != nil {
			return nil, fmt.Errorf("decode images: %w", err)
		}
	}
	if len(scores) > 0 {
		if err := json.Unmarshal(scores, &req.QualityScores); err != nil {
			return nil, fmt.Errorf("decode quality scores: %w", err)
		}
	}
	return &req, nil
}

// Create inserts a pending enrollment request.
func (r *EnrollmentRepository) Create(ctx context.Context, req *database.EnrollmentRequest) error {
	if req.Images == nil {
		req.Images = []string{}
	}
	images, err := json.Marshal(req.Images)
	if err != nil {
		return fmt.Errorf("encode images: %w", err)
	}
	var scores []byte
	if req.QualityScores != nil {
		if scores, err = json.Marshal(req.QualityScores); err != nil {
			return fmt.Errorf("encode quality scores: %w", err)
		}
	}
	if req.Status == "" {
		req.Status = database.StatusPending
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO enrollment_requests (user_id, name, email, phone, images, status, quality_scores)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		RETURNING id, submitted_at
	`, req.UserID, req.Name, req.Email, req.Phone, images, req.Status, scores).Scan(&req.ID, &req.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert enrollment request: %w", err)
	}
	return nil
}

// Get returns database.ErrNotFound if the request does not exist.
func (r *EnrollmentRepository) Get(ctx context.Context, id int64) (*database.EnrollmentRequest, error) {
	req, err := scanEnrollment(r.pool.QueryRow(ctx,
		"SELECT "+enrollmentColumns+" FROM enrollment_requests WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment request: %w", err)
	}
	return req, nil
}

// List returns requests newest first; "all" or "" returns every status.
func (r *EnrollmentRepository) List(ctx context.Context, status string) ([]database.EnrollmentRequest, error) {
	query := "SELECT " + enrollmentColumns + " FROM enrollment_requests"
	var args []any
	if status != "" && status != "all" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY submitted_at DESC, id DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list enrollment requests: %w", err)
	}
	defer rows.Close()

	var out []database.EnrollmentRequest
	for rows.Next() {
		req, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment request: %w", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollment requests: %w", err)
	}
	return out, nil
}

// Count returns the number of requests with status; "all" or "" counts all.
func (r *EnrollmentRepository) Count(ctx context.Context, status string) (int, error) {
	return countByStatus(ctx, r.pool, "enrollment_requests", status)
}

// HasPending reports whether the user has a request awaiting review.
func (r *EnrollmentRepository) HasPending(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM enrollment_requests WHERE user_id = $1 AND status = 'pending')", userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending enrollment: %w", err)
	}
	return exists, nil
}

// Latest returns nil if the user never submitted a request.
func (r *EnrollmentRepository) Latest(ctx context.Context, userID int64) (*database.EnrollmentRequest, error) {
	req, err := scanEnrollment(r.pool.QueryRow(ctx, "SELECT "+enrollmentColumns+
		" FROM enrollment_requests WHERE user_id = $1 ORDER BY submitted_at DESC, id DESC LIMIT 1", userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest enrollment request: %w", err)
	}
	return req, nil
}

// Process moves a pending request to status.
func (r *EnrollmentRepository) Process(
	ctx context.Context, id int64, status string, processedBy int64, reason string,
) error {
	return processRequest(ctx, r.pool, "enrollment_requests", id, status, processedBy, reason)
}

// Reopen releases an approval claim so the request can be approved again.
func (r *EnrollmentRepository) Reopen(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE enrollment_requests
		SET status = 'pending', processed_by = NULL, processed_at = NULL
		WHERE id = $1 AND status = 'approved'
	`, id)
	if err != nil {
		return fmt.Errorf("reopen enrollment request: %w", err)
	}
	return nil
}

func countByStatus(ctx context.Context, pool *Pool, table, status string) (int, error) {
	query := "SELECT COUNT(*) FROM " + table
	var args []any
	if status != "" && status != "all" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	var n int
	if err := pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// processRequest updates a pending row and distinguishes a missing row from
// one that was already processed.
func processRequest(
	ctx context.Context, pool *Pool, table string, id int64, status string, processedBy int64, reason string,
) error {
	res, err := pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = $1, processed_by = $2, processed_at = NOW(), rejection_reason = NULLIF($3, '')
		WHERE id = $4 AND status = 'pending'
	`, table), status, processedBy, reason, id)
	if err != nil {
		return fmt.Errorf("process %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM "+table+" WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("check %s: %w", table, err)
	}
	if !exists {
		return database.ErrNotFound
	}
	return database.ErrAlreadyProcessed
}
