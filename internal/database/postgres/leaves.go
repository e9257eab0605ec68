package postgres

import (
	"context"
	"fmt"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
)

// LeaveRepository provides PostgreSQL-backed leave request storage.
type LeaveRepository struct {
	pool *Pool
}

// NewLeaveRepository creates a new PostgreSQL leave repository.
func NewLeaveRepository(pool *Pool) *LeaveRepository {
	return &LeaveRepository{pool: pool}
}

const leaveColumns = `l.id, l.user_id, COALESCE(u.name, ''), TO_CHAR(l.start_date, 'YYYY-MM-DD'),
	TO_CHAR(l.end_date, 'YYYY-MM-DD'), l.reason, l.status, l.submitted_at, l.processed_at,
	l.processed_by, COALESCE(l.rejection_reason, '')`

const leaveFrom = ` FROM leave_requests l LEFT JOIN users u ON u.id = l.user_id`

func scanLeave(scanner interface{ Scan(...any) error }) (*database.LeaveRequest, error) {
	var req database.LeaveRequest
	if err := scanner.Scan(&req.ID, &req.UserID, &req.UserName, &req.StartDate, &req.EndDate, &req.Reason,
		&req.Status, &req.SubmittedAt, &req.ProcessedAt, &req.ProcessedBy, &req.RejectionReason); err != nil {
		return nil, err
	}
	return &req, nil
}

// Create inserts a pending leave request.
func (r *LeaveRepository) Create(ctx context.Context, req *database.LeaveRequest) error {
	if req.Status == "" {
		req.Status = database.StatusPending
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO leave_requests (user_id, start_date, end_date, reason, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, submitted_at
	`, req.UserID, req.StartDate, req.EndDate, req.Reason, req.Status).Scan(&req.ID, &req.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert leave request: %w", err)
	}
	return nil
}

// Get returns database.ErrNotFound if the request does not exist.
func (r *LeaveRepository) Get(ctx context.Context, id int64) (*database.LeaveRequest, error) {
	req, err := scanLeave(r.pool.QueryRow(ctx, "SELECT "+leaveColumns+leaveFrom+" WHERE l.id = $1", id))
	if isNoRows(err) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get leave request: %w", err)
	}
	return req, nil
}

// List returns requests newest first. userID nil lists everyone; "all" or ""
// returns every status.
func (r *LeaveRepository) List(ctx context.Context, userID *int64, status string) ([]database.LeaveRequest, error) {
	query := "SELECT " + leaveColumns + leaveFrom + " WHERE TRUE"
	var args []any
	if userID != nil {
		args = append(args, *userID)
		query += fmt.Sprintf(" AND l.user_id = $%d", len(args))
	}
	if status != "" && status != "all" {
		args = append(args, status)
		query += fmt.Sprintf(" AND l.status = $%d", len(args))
	}
	query += " ORDER BY l.submitted_at DESC, l.id DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list leave requests: %w", err)
	}
	defer rows.Close()

	var out []database.LeaveRequest
	for rows.Next() {
		req, err := scanLeave(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leave request: %w", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leave requests: %w", err)
	}
	return out, nil
}

// Process moves a pending request to status.
func (r *LeaveRepository) Process(ctx context.Context, id int64, status string, processedBy int64, reason string) error {
	return processRequest(ctx, r.pool, "leave_requests", id, status, processedBy, reason)
}
