package database

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row addressed by ID does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken is returned when an email is already used by any account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrAlreadyProcessed is returned when a request is no longer pending.
	ErrAlreadyProcessed = errors.New("request already processed")
)

// AccountStore provides access to the three account tables.
type AccountStore interface {
	// FindByEmail returns nil if no account of that role has the email
	FindByEmail(ctx context.Context, role Role, email string) (*Account, error)
	// Get returns ErrNotFound if the account does not exist
	Get(ctx context.Context, role Role, id int64) (*Account, error)
	// EmailExists checks super admins, admins and users
	EmailExists(ctx context.Context, email string) (bool, error)
	// Create inserts the account and sets its ID and CreatedAt
	Create(ctx context.Context, acc *Account) error
	Update(ctx context.Context, role Role, id int64, upd AccountUpdate) (*Account, error)
	List(ctx context.Context, role Role, activeOnly bool) ([]Account, error)
	Count(ctx context.Context, role Role, activeOnly bool) (int, error)
	TouchLastLogin(ctx context.Context, role Role, id int64) error
	SetEnrolled(ctx context.Context, userID int64, enrolled bool) error
	// SaveVerificationCode replaces any previous code for the user
	SaveVerificationCode(ctx context.Context, userID int64, code string, expiresAt time.Time) error
	// VerifyEmail marks the user verified if the code matches and has not expired
	VerifyEmail(ctx context.Context, email, code string, now time.Time) (bool, error)
}

// EmbeddingSearcher finds the person embeddings nearest to a query.
// Distances are cosine distances in [0, 2].
type EmbeddingSearcher interface {
	FindSimilarWithDistance(ctx context.Context, embedding []float32, limit int) ([]PersonEmbedding, []float64, error)
}

// PersonStore provides access to enrolled persons and their embeddings.
type PersonStore interface {
	EmbeddingSearcher

	// Create stores the person and its per-photo embeddings in one transaction
	Create(ctx context.Context, p *Person, embeddings [][]float32) error
	Get(ctx context.Context, id int64) (*Person, error)
	// GetByUserID returns nil if the user has no person record
	GetByUserID(ctx context.Context, userID int64) (*Person, error)
	// List returns persons ordered by name. An empty query returns all.
	List(ctx context.Context, activeOnly bool, query string) ([]Person, error)
	Count(ctx context.Context) (int, error)
	CountEmbeddings(ctx context.Context) (int, error)
}

// EnrollmentStore provides access to enrollment requests.
type EnrollmentStore interface {
	Create(ctx context.Context, req *EnrollmentRequest) error
	Get(ctx context.Context, id int64) (*EnrollmentRequest, error)
	// List filters by status; "all" or "" returns every request
	List(ctx context.Context, status string) ([]EnrollmentRequest, error)
	Count(ctx context.Context, status string) (int, error)
	HasPending(ctx context.Context, userID int64) (bool, error)
	// Latest returns nil if the user never submitted a request
	Latest(ctx context.Context, userID int64) (*EnrollmentRequest, error)
	// Process moves a pending request to status. Returns ErrAlreadyProcessed
	// when the request is not pending any more.
	Process(ctx context.Context, id int64, status string, processedBy int64, reason string) error
	// Reopen returns an approved request to pending after enrollment failed
	Reopen(ctx context.Context, id int64) error
}

// AttendanceStore provides access to attendance marks.
type AttendanceStore interface {
	// Mark inserts a record unless the user already has one for rec.MarkedOn.
	// It returns the stored record and whether it was created by this call.
	Mark(ctx context.Context, rec *AttendanceRecord) (*AttendanceRecord, bool, error)
	// List pages through records, newest first. userID nil lists everyone.
	List(ctx context.Context, userID *int64, page Page) ([]AttendanceRecord, int, error)
	Count(ctx context.Context) (int, error)
	CountForUser(ctx context.Context, userID int64) (int, error)
	CountOn(ctx context.Context, day string) (int, error)
	HasMarked(ctx context.Context, userID int64, day string) (bool, error)
	// DailyCounts returns one entry per day for the last days days ending at until
	DailyCounts(ctx context.Context, until time.Time, days int) ([]DailyCount, error)
}

// SignupStore provides access to signup requests.
type SignupStore interface {
	Create(ctx context.Context, req *SignupRequest) error
	Get(ctx context.Context, id int64) (*SignupRequest, error)
	List(ctx context.Context, status string) ([]SignupRequest, error)
	Count(ctx context.Context, status string) (int, error)
	PendingEmailExists(ctx context.Context, email string) (bool, error)
	Process(ctx context.Context, id int64, status string, processedBy int64, reason string) error
}

// LeaveStore provides access to leave requests.
type LeaveStore interface {
	Create(ctx context.Context, req *LeaveRequest) error
	Get(ctx context.Context, id int64) (*LeaveRequest, error)
	// List joins the user name; userID nil lists everyone
	List(ctx context.Context, userID *int64, status string) ([]LeaveRequest, error)
	Process(ctx context.Context, id int64, status string, processedBy int64, reason string) error
}

// LogStore provides access to the audit log.
type LogStore interface {
	Write(ctx context.Context, entry *SystemLog) error
	List(ctx context.Context, page Page) ([]SystemLog, int, error)
}

// Stores bundles every repository the web layer needs.
type Stores struct {
	Accounts    AccountStore
	Persons     PersonStore
	Enrollments EnrollmentStore
	Attendance  AttendanceStore
	Signups     SignupStore
	Leaves      LeaveStore
	Logs        LogStore
}
