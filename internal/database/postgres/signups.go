package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
)

// SignupRepository provides PostgreSQL-backed signup request storage.
type SignupRepository struct {
	pool *Pool
}

// NewSignupRepository creates a new PostgreSQL signup repository.
func NewSignupRepository(pool *Pool) *SignupRepository {
	return &SignupRepository{pool: pool}
}

const signupColumns = `id, name, email, COALESCE(phone, ''), COALESCE(department, ''),
	COALESCE(profile_image, ''), password_hash, documents, status, submitted_at,
	processed_at, processed_by, COALESCE(rejection_reason, '')`

func scanSignup(scanner interface{ Scan(...any) error }) (*database.SignupRequest, error) {
	var req database.SignupRequest
	var docs []byte
	err := scanner.Scan(&req.ID, &req.Name, &req.Email, &req.Phone, &req.Department, &req.ProfileImage,
		&req.PasswordHash, &docs, &req.Status, &req.SubmittedAt, &req.ProcessedAt, &req.ProcessedBy,
		&req.RejectionReason)
	if err != nil {
		return nil, err
	}
	if len(docs) > 0 {
		if err := json.Unmarshal(docs, &req.Documents); err != nil {
			return nil, fmt.Errorf("decode documents: %w", err)
		}
	}
	return &req, nil
}

// Create inserts a pending signup request.
func (r *SignupRepository) Create(ctx context.Context, req *database.SignupRequest) error {
	if req.Documents == nil {
		req.Documents = []string{}
	}
	docs, err := json.Marshal(req.Documents)
	if err != nil {
		return fmt.Errorf("encode documents: %w", err)
	}
	if req.Status == "" {
		req.Status = database.StatusPending
	}
	req.Email = normalizeEmail(req.Email)

	err = r.pool.QueryRow(ctx, `
		INSERT INTO signup_requests (name, email, phone, department, profile_image, password_hash, documents, status)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
		RETURNING id, submitted_at
	`, req.Name, req.Email, req.Phone, req.Department, req.ProfileImage, req.PasswordHash, docs, req.Status,
	).Scan(&req.ID, &req.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert signup request: %w", err)
	}
	return nil
}

// Get returns database.ErrNotFound if the request does not exist.
func (r *SignupRepository) Get(ctx context.Context, id int64) (*database.SignupRequest, error) {
	req, err := scanSignup(r.pool.QueryRow(ctx, "SELECT "+signupColumns+" FROM signup_requests WHERE id = $1", id))
	if isNoRows(err) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get signup request: %w", err)
	}
	return req, nil
}

// List returns requests newest first; "all" or "" returns every status.
func (r *SignupRepository) List(ctx context.Context, status string) ([]database.SignupRequest, error) {
	query := "SELECT " + signupColumns + " FROM signup_requests"
	var args []any
	if status != "" && status != "all" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY submitted_at DESC, id DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list signup requests: %w", err)
	}
	defer rows.Close()

	var out []database.SignupRequest
	for rows.Next() {
		req, err := scanSignup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signup request: %w", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signup requests: %w", err)
	}
	return out, nil
}

// Count returns the number of requests with status.
func (r *SignupRepository) Count(ctx context.Context, status string) (int, error) {
	return countByStatus(ctx, r.pool, "signup_requests", status)
}

// PendingEmailExists reports whether a pending request already uses email.
func (r *SignupRepository) PendingEmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM signup_requests WHERE LOWER(email) = $1 AND status = 'pending')",
		normalizeEmail(email),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending signup: %w", err)
	}
	return exists, nil
}

// Process moves a pending request to status.
func (r *SignupRepository) Process(ctx context.Context, id int64, status string, processedBy int64, reason string) error {
	return processRequest(ctx, r.pool, "signup_requests", id, status, processedBy, reason)
}
