package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// StepStatus is the outcome of one idempotent schema statement.
type StepStatus string

const (
	StepApplied StepStatus = "applied"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// Statement is an idempotent DDL statement with a probe telling whether it
// still has work to do.
type Statement struct {
	Name string
	SQL  string
	Done string // query returning true when the statement is already in effect
	Args []any
}

// StepResult records what happened to one statement.
type StepResult struct {
	Name   string
	Status StepStatus
	Err    error
}

// Report collects the results of a statement batch.
type Report struct {
	Results []StepResult
}

// Failed returns the results that ended in an error.
func (r Report) Failed() []StepResult {
	var out []StepResult
	for _, res := range r.Results {
		if res.Status == StepFailed {
			out = append(out, res)
		}
	}
	return out
}

// Counts returns applied, skipped and failed totals.
func (r Report) Counts() (applied, skipped, failed int) {
	for _, res := range r.Results {
		switch res.Status {
		case StepApplied:
			applied++
		case StepSkipped:
			skipped++
		case StepFailed:
			failed++
		}
	}
	return applied, skipped, failed
}

// OK reports whether every statement was applied or skipped.
func (r Report) OK() bool {
	return len(r.Failed()) == 0
}

// Merge appends other's results.
func (r *Report) Merge(other Report) {
	r.Results = append(r.Results, other.Results...)
}

const columnExistsQuery = `
	SELECT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
	)`

const columnNullableQuery = `
	SELECT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		  AND is_nullable = 'YES'
	)`

func addColumn(table, column, definition string) Statement {
	return Statement{
		Name: table + "." + column,
		SQL:  fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, column, definition),
		Done: columnExistsQuery,
		Args: []any{table, column},
	}
}

func dropNotNull(table, column string) Statement {
	return Statement{
		Name: table + "." + column + " nullable",
		SQL:  fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", table, column),
		Done: columnNullableQuery,
		Args: []any{table, column},
	}
}

// CompatibilityPatches brings databases created by older releases up to the
// current column set. Every entry is safe to run repeatedly.
var CompatibilityPatches = []Statement{
	addColumn("users", "email_verified", "BOOLEAN NOT NULL DEFAULT FALSE"),
	addColumn("users", "verified_at", "TIMESTAMPTZ"),
	addColumn("signup_requests", "documents", "JSONB NOT NULL DEFAULT '[]'"),
	addColumn("signup_requests", "processed_by", "BIGINT"),
	addColumn("signup_requests", "processed_at", "TIMESTAMPTZ"),
	addColumn("signup_requests", "rejection_reason", "TEXT"),
	addColumn("enrollment_requests", "quality_scores", "JSONB"),
	addColumn("enrollment_requests", "processed_by", "BIGINT"),
	addColumn("enrollment_requests", "processed_at", "TIMESTAMPTZ"),
	addColumn("enrollment_requests", "rejection_reason", "TEXT"),
	dropNotNull("system_logs", "user_id"),
}

// ApplyPatches runs CompatibilityPatches one by one. Failures are recorded and
// the remaining statements still run.
func (p *Pool) ApplyPatches(ctx context.Context) Report {
	return p.RunStatements(ctx, CompatibilityPatches, nil)
}

// RunStatements executes statements independently, calling onStep after each.
func (p *Pool) RunStatements(ctx context.Context, stmts []Statement, onStep func(StepResult)) Report {
	var report Report
	for _, st := range stmts {
		res := p.runStatement(ctx, st)
		report.Results = append(report.Results, res)
		if onStep != nil {
			onStep(res)
		}
	}
	return report
}

func (p *Pool) runStatement(ctx context.Context, st Statement) StepResult {
	res := StepResult{Name: st.Name}

	if st.Done != "" {
		var done bool
		if err := p.QueryRow(ctx, st.Done, st.Args...).Scan(&done); err != nil {
			res.Status = StepFailed
			res.Err = fmt.Errorf("probe %s: %w", st.Name, err)
			return res
		}
		if done {
			res.Status = StepSkipped
			return res
		}
	}

	if _, err := p.Exec(ctx, st.SQL); err != nil {
		if isAlreadyExists(err) {
			res.Status = StepSkipped
			return res
		}
		res.Status = StepFailed
		res.Err = err
		return res
	}
	res.Status = StepApplied
	return res
}

// isAlreadyExists matches duplicate column, relation and object errors.
func isAlreadyExists(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42701", "42P07", "42710":
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// isUniqueViolation matches unique constraint errors.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
