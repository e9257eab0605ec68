package postgres

import (
	"context"
	"fmt"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
)

// LogRepository provides PostgreSQL-backed audit log storage.
type LogRepository struct {
	pool *Pool
}

// NewLogRepository creates a new PostgreSQL audit log repository.
func NewLogRepository(pool *Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// Write appends an entry and sets its ID and Timestamp.
func (r *LogRepository) Write(ctx context.Context, entry *database.SystemLog) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO system_logs (action, user_type, user_id, user_email, details, ip_address)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''))
		RETURNING id, timestamp
	`, entry.Action, entry.UserType, entry.UserID, entry.UserEmail, entry.Details, entry.IPAddress,
	).Scan(&entry.ID, &entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert system log: %w", err)
	}
	return nil
}

// List pages through entries, newest first.
func (r *LogRepository) List(ctx context.Context, page database.Page) ([]database.SystemLog, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM system_logs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count system logs: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, action, user_type, user_id, COALESCE(user_email, ''), COALESCE(details, ''),
		       COALESCE(ip_address, ''), timestamp
		FROM system_logs
		ORDER BY timestamp DESC, id DESC
		LIMIT $1 OFFSET $2
	`, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list system logs: %w", err)
	}
	defer rows.Close()

	var out []database.SystemLog
	for rows.Next() {
		var e database.SystemLog
		if err := rows.Scan(&e.ID, &e.Action, &e.UserType, &e.UserID, &e.UserEmail, &e.Details,
			&e.IPAddress, &e.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("scan system log: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate system logs: %w", err)
	}
	return out, total, nil
}
