package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
)

// AttendanceRepository provides PostgreSQL-backed attendance storage.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

const dayLayout = "2006-01-02"

const attendanceColumns = `id, person_id, user_id, name, timestamp, TO_CHAR(marked_on, 'YYYY-MM-DD'),
	confidence, COALESCE(image_path, '')`

func scanAttendance(scanner interface{ Scan(...any) error }) (*database.AttendanceRecord, error) {
	var rec database.AttendanceRecord
	if err := scanner.Scan(&rec.ID, &rec.PersonID, &rec.UserID, &rec.Name, &rec.Timestamp,
		&rec.MarkedOn, &rec.Confidence, &rec.ImagePath); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Mark inserts a record unless the user already has one for rec.MarkedOn.
// The unique (user_id, marked_on) constraint decides races between workers.
func (r *AttendanceRepository) Mark(
	ctx context.Context, rec *database.AttendanceRecord,
) (*database.AttendanceRecord, bool, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.MarkedOn == "" {
		rec.MarkedOn = rec.Timestamp.UTC().Format(dayLayout)
	}

	stored, err := scanAttendance(r.pool.QueryRow(ctx, `
		INSERT INTO attendance (person_id, user_id, name, timestamp, marked_on, confidence, image_path)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		ON CONFLICT (user_id, marked_on) DO NOTHING
		RETURNING `+attendanceColumns,
		rec.PersonID, rec.UserID, rec.Name, rec.Timestamp, rec.MarkedOn, rec.Confidence, rec.ImagePath))
	if err == nil {
		return stored, true, nil
	}
	if !isNoRows(err) {
		return nil, false, fmt.Errorf("insert attendance: %w", err)
	}

	existing, err := scanAttendance(r.pool.QueryRow(ctx,
		"SELECT "+attendanceColumns+" FROM attendance WHERE user_id = $1 AND marked_on = $2",
		rec.UserID, rec.MarkedOn))
	if err != nil {
		return nil, false, fmt.Errorf("load existing attendance: %w", err)
	}
	return existing, false, nil
}

// List pages through records, newest first. userID nil lists everyone.
func (r *AttendanceRepository) List(
	ctx context.Context, userID *int64, page database.Page,
) ([]database.AttendanceRecord, int, error) {
	where := ""
	var args []any
	if userID != nil {
		where = " WHERE user_id = $1"
		args = append(args, *userID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM attendance%s ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d",
		attendanceColumns, where, len(args)+1, len(args)+2)
	args = append(args, page.PerPage, page.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var out []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate attendance: %w", err)
	}
	return out, total, nil
}

// Count returns the number of attendance records.
func (r *AttendanceRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance").Scan(&n); err != nil {
		return 0, fmt.Errorf("count attendance: %w", err)
	}
	return n, nil
}

// CountForUser returns the number of records for one user.
func (r *AttendanceRepository) CountForUser(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance WHERE user_id = $1", userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count user attendance: %w", err)
	}
	return n, nil
}

// CountOn returns the number of records on a YYYY-MM-DD day.
func (r *AttendanceRepository) CountOn(ctx context.Context, day string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance WHERE marked_on = $1", day).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attendance on day: %w", err)
	}
	return n, nil
}

// HasMarked reports whether the user has a record on day.
func (r *AttendanceRepository) HasMarked(ctx context.Context, userID int64, day string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM attendance WHERE user_id = $1 AND marked_on = $2)", userID, day,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check attendance: %w", err)
	}
	return exists, nil
}

// DailyCounts returns one entry per day, oldest first, for the days ending at
// until. Days without records have a zero count.
func (r *AttendanceRepository) DailyCounts(ctx context.Context, until time.Time, days int) ([]database.DailyCount, error) {
	if days <= 0 {
		return nil, nil
	}
	end := until.UTC()
	start := end.AddDate(0, 0, -(days - 1))

	rows, err := r.pool.Query(ctx, `
		SELECT TO_CHAR(marked_on, 'YYYY-MM-DD'), COUNT(*)
		FROM attendance
		WHERE marked_on BETWEEN $1 AND $2
		GROUP BY marked_on
	`, start.Format(dayLayout), end.Format(dayLayout))
	if err != nil {
		return nil, fmt.Errorf("daily attendance counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, fmt.Errorf("scan daily count: %w", err)
		}
		counts[day] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily counts: %w", err)
	}
	return database.FillDailyCounts(start, days, counts), nil
}
