package postgres

import (
	"context"
	"fmt"
)

const indexExistsQuery = `
	SELECT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND indexname = $1
	)`

func index(name, table, columns string) Statement {
	return Statement{
		Name: name,
		SQL:  fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, columns),
		Done: indexExistsQuery,
		Args: []any{name},
	}
}

// OptimizationIndexes are the lookup indexes used by the list and stats
// endpoints. The per-day attendance index uses marked_on because DATE() over
// a timestamptz is not immutable and cannot be indexed.
var OptimizationIndexes = []Statement{
	index("idx_users_email", "users", "email"),
	index("idx_users_status", "users", "status"),
	index("idx_users_department", "users", "department"),
	index("idx_persons_user_id", "persons", "user_id"),
	index("idx_persons_status", "persons", "status"),
	index("idx_signup_status", "signup_requests", "status"),
	index("idx_signup_email", "signup_requests", "email"),
	index("idx_signup_submitted", "signup_requests", "submitted_at"),
	index("idx_enrollment_user_id", "enrollment_requests", "user_id"),
	index("idx_enrollment_status", "enrollment_requests", "status"),
	index("idx_enrollment_submitted", "enrollment_requests", "submitted_at"),
	index("idx_leave_user_id", "leave_requests", "user_id"),
	index("idx_leave_status", "leave_requests", "status"),
	index("idx_leave_start_date", "leave_requests", "start_date"),
	index("idx_attendance_person_id", "attendance", "person_id"),
	index("idx_attendance_user_id", "attendance", "user_id"),
	index("idx_attendance_timestamp", "attendance", "timestamp"),
	index("idx_attendance_date", "attendance", "marked_on"),
	index("idx_logs_user_type", "system_logs", "user_type"),
	index("idx_logs_action", "system_logs", "action"),
	index("idx_logs_timestamp", "system_logs", "timestamp"),
}

// CreateIndexes runs OptimizationIndexes, reporting each step to onStep.
func (p *Pool) CreateIndexes(ctx context.Context, onStep func(StepResult)) Report {
	return p.RunStatements(ctx, OptimizationIndexes, onStep)
}
