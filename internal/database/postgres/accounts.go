package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
)

// AccountRepository provides PostgreSQL-backed storage for super admins,
// admins and users.
type AccountRepository struct {
	pool *Pool
}

// NewAccountRepository creates a new PostgreSQL account repository.
func NewAccountRepository(pool *Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

var accountTables = map[database.Role]string{
	database.RoleSuperAdmin: "super_admins",
	database.RoleAdmin:      "admins",
	database.RoleUser:       "users",
}

// Every role selects the same column list so scanAccount can be shared.
var accountColumns = map[database.Role]string{
	database.RoleSuperAdmin: `id, name, email, password_hash, '', '', '', '', is_active,
		FALSE, FALSE, NULL::timestamptz, NULL::bigint, last_login, created_at`,
	database.RoleAdmin: `id, name, email, password_hash, COALESCE(department, ''), '', '', '', is_active,
		FALSE, FALSE, NULL::timestamptz, created_by, last_login, created_at`,
	database.RoleUser: `id, name, email, password_hash, COALESCE(department, ''), COALESCE(phone, ''),
		COALESCE(profile_image, ''), status, status = 'active',
		is_enrolled, email_verified, verified_at, NULL::bigint, last_login, created_at`,
}

func tableFor(role database.Role) (string, error) {
	t, ok := accountTables[role]
	if !ok {
		return "", fmt.Errorf("unknown role %q", role)
	}
	return t, nil
}

func scanAccount(scanner interface{ Scan(...any) error }, role database.Role) (*database.Account, error) {
	acc := database.Account{Role: role}
	err := scanner.Scan(
		&acc.ID, &acc.Name, &acc.Email, &acc.PasswordHash, &acc.Department, &acc.Phone,
		&acc.ProfileImage, &acc.Status, &acc.IsActive, &acc.IsEnrolled, &acc.EmailVerified,
		&acc.VerifiedAt, &acc.CreatedBy, &acc.LastLogin, &acc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FindByEmail returns nil if no account of that role has the email.
func (r *AccountRepository) FindByEmail(ctx context.Context, role database.Role, email string) (*database.Account, error) {
	table, err := tableFor(role)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE LOWER(email) = $1", accountColumns[role], table)
	acc, err := scanAccount(r.pool.QueryRow(ctx, query, normalizeEmail(email)), role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find %s by email: %w", role, err)
	}
	return acc, nil
}

// Get returns database.ErrNotFound if the account does not exist.
func (r *AccountRepository) Get(ctx context.Context, role database.Role, id int64) (*database.Account, error) {
	table, err := tableFor(role)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", accountColumns[role], table)
	acc, err := scanAccount(r.pool.QueryRow(ctx, query, id), role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", role, err)
	}
	return acc, nil
}

// EmailExists checks every account table.
func (r *AccountRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM super_admins WHERE LOWER(email) = $1)
		    OR EXISTS (SELECT 1 FROM admins WHERE LOWER(email) = $1)
		    OR EXISTS (SELECT 1 FROM users WHERE LOWER(email) = $1)
	`, normalizeEmail(email)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email exists: %w", err)
	}
	return exists, nil
}

// Create inserts the account and sets its ID and CreatedAt.
func (r *AccountRepository) Create(ctx context.Context, acc *database.Account) error {
	acc.Email = normalizeEmail(acc.Email)
	var row *sql.Row
	switch acc.Role {
	case database.RoleSuperAdmin:
		row = r.pool.QueryRow(ctx, `
			INSERT INTO super_admins (name, email, password_hash, is_active)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`, acc.Name, acc.Email, acc.PasswordHash, acc.IsActive)
	case database.RoleAdmin:
		row = r.pool.QueryRow(ctx, `
			INSERT INTO admins (name, email, password_hash, department, created_by, is_active)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
			RETURNING id, created_at
		`, acc.Name, acc.Email, acc.PasswordHash, acc.Department, acc.CreatedBy, acc.IsActive)
	case database.RoleUser:
		if acc.Status == "" {
			acc.Status = database.StatusActive
		}
		row = r.pool.QueryRow(ctx, `
			INSERT INTO users (name, email, password_hash, department, phone, profile_image, status, email_verified)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)
			RETURNING id, created_at
		`, acc.Name, acc.Email, acc.PasswordHash, acc.Department, acc.Phone, acc.ProfileImage,
			acc.Status, acc.EmailVerified)
		acc.IsActive = acc.Status == database.StatusActive
	default:
		return fmt.Errorf("unknown role %q", acc.Role)
	}

	if err := row.Scan(&acc.ID, &acc.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return database.ErrEmailTaken
		}
		return fmt.Errorf("insert %s: %w", acc.Role, err)
	}
	return nil
}

// Update applies the non-nil fields of upd and returns the updated account.
func (r *AccountRepository) Update(
	ctx context.Context, role database.Role, id int64, upd database.AccountUpdate,
) (*database.Account, error) {
	table, err := tableFor(role)
	if err != nil {
		return nil, err
	}

	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	if upd.Department != nil && role != database.RoleSuperAdmin {
		add("department", *upd.Department)
	}
	if role == database.RoleUser {
		if upd.Phone != nil {
			add("phone", *upd.Phone)
		}
		status := upd.Status
		if status == nil && upd.IsActive != nil {
			s := database.StatusInactive
			if *upd.IsActive {
				s = database.StatusActive
			}
			status = &s
		}
		if status != nil {
			add("status", *status)
		}
	} else if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}

	if len(sets) > 0 {
		args = append(args, id)
		query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", table, strings.Join(sets, ", "), len(args))
		res, err := r.pool.Exec(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", role, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, database.ErrNotFound
		}
	}
	return r.Get(ctx, role, id)
}

// List returns accounts ordered by creation time, newest first.
func (r *AccountRepository) List(ctx context.Context, role database.Role, activeOnly bool) ([]database.Account, error) {
	table, err := tableFor(role)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s", accountColumns[role], table)
	if activeOnly {
		query += " WHERE " + activeClause(role)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", role, err)
	}
	defer rows.Close()

	var out []database.Account
	for rows.Next() {
		acc, err := scanAccount(rows, role)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", role, err)
		}
		out = append(out, *acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", role, err)
	}
	return out, nil
}

func activeClause(role database.Role) string {
	if role == database.RoleUser {
		return "status = 'active'"
	}
	return "is_active"
}

// Count returns the number of accounts of a role.
func (r *AccountRepository) Count(ctx context.Context, role database.Role, activeOnly bool) (int, error) {
	table, err := tableFor(role)
	if err != nil {
		return 0, err
	}
	query := "SELECT COUNT(*) FROM " + table
	if activeOnly {
		query += " WHERE " + activeClause(role)
	}
	var n int
	if err := r.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", role, err)
	}
	return n, nil
}

// TouchLastLogin sets last_login to now.
func (r *AccountRepository) TouchLastLogin(ctx context.Context, role database.Role, id int64) error {
	table, err := tableFor(role)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, "UPDATE "+table+" SET last_login = NOW() WHERE id = $1", id); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// SetEnrolled flips users.is_enrolled.
func (r *AccountRepository) SetEnrolled(ctx context.Context, userID int64, enrolled bool) error {
	if _, err := r.pool.Exec(ctx, "UPDATE users SET is_enrolled = $1 WHERE id = $2", enrolled, userID); err != nil {
		return fmt.Errorf("set enrolled: %w", err)
	}
	return nil
}

// SaveVerificationCode replaces any previous code for the user.
func (r *AccountRepository) SaveVerificationCode(ctx context.Context, userID int64, code string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO email_verifications (user_id, code, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at, created_at = NOW()
	`, userID, code, expiresAt)
	if err != nil {
		return fmt.Errorf("save verification code: %w", err)
	}
	return nil
}

// VerifyEmail marks the user verified if the code matches and has not expired.
// A used code is deleted.
func (r *AccountRepository) VerifyEmail(ctx context.Context, email, code string, now time.Time) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var userID int64
	err = tx.QueryRowContext(ctx, `
		SELECT v.user_id FROM email_verifications v
		JOIN users u ON u.id = v.user_id
		WHERE LOWER(u.email) = $1 AND v.code = $2 AND v.expires_at > $3
	`, normalizeEmail(email), code, now).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup verification code: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET email_verified = TRUE, verified_at = $1 WHERE id = $2", now, userID); err != nil {
		return false, fmt.Errorf("mark email verified: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM email_verifications WHERE user_id = $1", userID); err != nil {
		return false, fmt.Errorf("delete verification code: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit verification: %w", err)
	}
	return true, nil
}

// SeedDefaults creates the initial super admin and admin when their tables
// are empty.
func (r *AccountRepository) SeedDefaults(ctx context.Context, superHash, adminHash string) (int, error) {
	created := 0
	res, err := r.pool.Exec(ctx, `
		INSERT INTO super_admins (name, email, password_hash)
		SELECT 'Super Admin', 'superadmin@admin.com', $1
		WHERE NOT EXISTS (SELECT 1 FROM super_admins)
		ON CONFLICT (email) DO NOTHING
	`, superHash)
	if err != nil {
		return 0, fmt.Errorf("seed super admin: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		created++
	}

	res, err = r.pool.Exec(ctx, `
		INSERT INTO admins (name, email, password_hash, department)
		SELECT 'Admin', 'admin@admin.com', $1, 'IT'
		WHERE NOT EXISTS (SELECT 1 FROM admins)
		ON CONFLICT (email) DO NOTHING
	`, adminHash)
	if err != nil {
		return created, fmt.Errorf("seed admin: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		created++
	}
	return created, nil
}
