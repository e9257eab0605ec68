package database

import "time"

// Role identifies which account table a principal lives in.
type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleSuperAdmin || r == RoleAdmin || r == RoleUser
}

// Request lifecycle states shared by enrollment, signup and leave requests.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Account is a super admin, admin or user row.
type Account struct {
	ID            int64      `json:"id"`
	Role          Role       `json:"role"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	Department    string     `json:"department,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	ProfileImage  string     `json:"profile_image,omitempty"`
	Status        string     `json:"status,omitempty"` // users only
	IsActive      bool       `json:"is_active"`
	IsEnrolled    bool       `json:"is_enrolled"`    // users only
	EmailVerified bool       `json:"email_verified"` // users only
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	CreatedBy     *int64     `json:"created_by,omitempty"` // admins only
	LastLogin     *time.Time `json:"last_login,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// AccountUpdate carries optional field changes. Nil fields are left untouched.
type AccountUpdate struct {
	Name         *string
	Department   *string
	Phone        *string
	Status       *string
	IsActive     *bool
	PasswordHash *string
}

// Person is an enrolled identity with an averaged face embedding.
type Person struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	UserID         *int64    `json:"user_id,omitempty"`
	Embedding      []float32 `json:"-"`
	EmbeddingDim   int       `json:"embedding_dim"`
	PhotosCount    int       `json:"photos_count"`
	Status         string    `json:"status"`
	EnrollmentDate time.Time `json:"enrollment_date"`
}

// PersonEmbedding is one per-photo embedding of a person. These rows feed the
// recognition index.
type PersonEmbedding struct {
	ID         int64
	PersonID   int64
	PersonName string
	UserID     *int64
	Embedding  []float32
	CreatedAt  time.Time
}

// ImageQuality holds the per-photo scores computed at submission time.
type ImageQuality struct {
	Index      int     `json:"index"`
	Blur       float64 `json:"blur_score"`
	Brightness float64 `json:"brightness"`
	Quality    string  `json:"quality"` // good or poor
	Hash       string  `json:"phash,omitempty"`
	RepeatOf   *int    `json:"repeat_of,omitempty"` // earlier photo with a near-identical hash
}

// EnrollmentRequest is a user's request to be enrolled from a set of photos.
type EnrollmentRequest struct {
	ID              int64          `json:"id"`
	UserID          *int64         `json:"user_id,omitempty"`
	Name            string         `json:"name"`
	Email           string         `json:"email"`
	Phone           string         `json:"phone,omitempty"`
	Images          []string       `json:"images"`
	Status          string         `json:"status"`
	SubmittedAt     time.Time      `json:"submitted_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	ProcessedBy     *int64         `json:"processed_by,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	QualityScores   []ImageQuality `json:"quality_scores,omitempty"`
}

// AttendanceRecord is one attendance mark. MarkedOn is the UTC calendar day.
type AttendanceRecord struct {
	ID         int64     `json:"id"`
	PersonID   int64     `json:"person_id"`
	UserID     *int64    `json:"user_id,omitempty"`
	Name       string    `json:"name"`
	Timestamp  time.Time `json:"timestamp"`
	MarkedOn   string    `json:"date"`
	Confidence float64   `json:"confidence"`
	ImagePath  string    `json:"image_path,omitempty"`
}

// DailyCount is the number of attendance marks on one day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// SignupRequest is a self-service account request awaiting admin review.
type SignupRequest struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone,omitempty"`
	Department      string     `json:"department,omitempty"`
	ProfileImage    string     `json:"profile_image,omitempty"`
	PasswordHash    string     `json:"-"`
	Documents       []string   `json:"documents,omitempty"`
	Status          string     `json:"status"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessedBy     *int64     `json:"processed_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// LeaveRequest is a user's request for days off.
type LeaveRequest struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	UserName        string     `json:"user_name,omitempty"`
	StartDate       string     `json:"start_date"`
	EndDate         string     `json:"end_date"`
	Reason          string     `json:"reason"`
	Status          string     `json:"status"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessedBy     *int64     `json:"processed_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// SystemLog is an audit entry for a state-changing action.
type SystemLog struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	UserType  string    `json:"user_type"`
	UserID    *int64    `json:"user_id,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
	Details   string    `json:"details,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Page describes a paginated listing.
type Page struct {
	Page    int
	PerPage int
}

// Offset returns the row offset for the page (pages are 1-based).
func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// Pages returns the page count for total rows.
func (p Page) Pages(total int) int {
	if p.PerPage <= 0 || total == 0 {
		return 0
	}
	return (total + p.PerPage - 1) / p.PerPage
}

// FillDailyCounts expands sparse per-day counts into days consecutive
// entries starting at start.
func FillDailyCounts(start time.Time, days int, counts map[string]int) []DailyCount {
	out := make([]DailyCount, 0, days)
	for i := range days {
		day := start.AddDate(0, 0, i).Format("2006-01-02")
		out = append(out, DailyCount{Date: day, Count: counts[day]})
	}
	return out
}
