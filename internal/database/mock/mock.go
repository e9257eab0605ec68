// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/facematch"
)

// NewStores returns a database.Stores backed entirely by fresh mocks.
func NewStores() (database.Stores, *Set) {
	set := &Set{
		Accounts:    NewMockAccountStore(),
		Persons:     NewMockPersonStore(),
		Enrollments: NewMockEnrollmentStore(),
		Attendance:  NewMockAttendanceStore(),
		Signups:     NewMockSignupStore(),
		Leaves:      NewMockLeaveStore(),
		Logs:        NewMockLogStore(),
	}
	return set.Stores(), set
}

// Set gives tests typed access to the mocks behind a database.Stores.
type Set struct {
	Accounts    *MockAccountStore
	Persons     *MockPersonStore
	Enrollments *MockEnrollmentStore
	Attendance  *MockAttendanceStore
	Signups     *MockSignupStore
	Leaves      *MockLeaveStore
	Logs        *MockLogStore
}

// Stores wraps the set as a database.Stores.
func (s *Set) Stores() database.Stores {
	return database.Stores{
		Accounts:    s.Accounts,
		Persons:     s.Persons,
		Enrollments: s.Enrollments,
		Attendance:  s.Attendance,
		Signups:     s.Signups,
		Leaves:      s.Leaves,
		Logs:        s.Logs,
	}
}

// MockAccountStore is a mock implementation of database.AccountStore
type MockAccountStore struct {
	mu       sync.RWMutex
	nextID   int64
	accounts map[database.Role]map[int64]*database.Account
	codes    map[int64]verification

	// Error injection
	FindError   error
	GetError    error
	CreateError error
	UpdateError error
	ListError   error
	CountError  error
}

type verification struct {
	code      string
	expiresAt time.Time
}

// NewMockAccountStore creates a new mock account store
func NewMockAccountStore() *MockAccountStore {
	return &MockAccountStore{
		accounts: map[database.Role]map[int64]*database.Account{
			database.RoleSuperAdmin: {},
			database.RoleAdmin:      {},
			database.RoleUser:       {},
		},
		codes: make(map[int64]verification),
	}
}

// AddAccount adds an account directly, assigning an ID if it has none.
func (m *MockAccountStore) AddAccount(acc database.Account) *database.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc.ID == 0 {
		m.nextID++
		acc.ID = m.nextID
	} else if acc.ID > m.nextID {
		m.nextID = acc.ID
	}
	if acc.Role == database.RoleUser {
		if acc.Status == "" {
			acc.Status = database.StatusActive
		}
		acc.IsActive = acc.Status == database.StatusActive
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	acc.Email = strings.ToLower(acc.Email)
	m.accounts[acc.Role][acc.ID] = &acc
	cp := acc
	return &cp
}

// FindByEmail returns nil if no account of that role has the email
func (m *MockAccountStore) FindByEmail(ctx context.Context, role database.Role, email string) (*database.Account, error) {
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, acc := range m.accounts[role] {
		if acc.Email == email {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, nil
}

// Get retrieves an account by role and ID
func (m *MockAccountStore) Get(ctx context.Context, role database.Role, id int64) (*database.Account, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[role][id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

// EmailExists checks every role
func (m *MockAccountStore) EmailExists(ctx context.Context, email string) (bool, error) {
	if m.FindError != nil {
		return false, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, byID := range m.accounts {
		for _, acc := range byID {
			if acc.Email == email {
				return true, nil
			}
		}
	}
	return false, nil
}

// Create inserts an account
func (m *MockAccountStore) Create(ctx context.Context, acc *database.Account) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	if exists, _ := m.EmailExists(ctx, acc.Email); exists {
		return database.ErrEmailTaken
	}
	stored := m.AddAccount(*acc)
	*acc = *stored
	return nil
}

// Update applies the non-nil fields of upd
func (m *MockAccountStore) Update(
	ctx context.Context, role database.Role, id int64, upd database.AccountUpdate,
) (*database.Account, error) {
	if m.UpdateError != nil {
		return nil, m.UpdateError
	}
	m.mu.Lock()
	acc, ok := m.accounts[role][id]
	if !ok {
		m.mu.Unlock()
		return nil, database.ErrNotFound
	}
	if upd.Name != nil {
		acc.Name = *upd.Name
	}
	if upd.Department != nil {
		acc.Department = *upd.Department
	}
	if upd.Phone != nil {
		acc.Phone = *upd.Phone
	}
	if upd.PasswordHash != nil {
		acc.PasswordHash = *upd.PasswordHash
	}
	if role == database.RoleUser {
		if upd.Status != nil {
			acc.Status = *upd.Status
		} else if upd.IsActive != nil {
			acc.Status = database.StatusInactive
			if *upd.IsActive {
				acc.Status = database.StatusActive
			}
		}
		acc.IsActive = acc.Status == database.StatusActive
	} else if upd.IsActive != nil {
		acc.IsActive = *upd.IsActive
	}
	cp := *acc
	m.mu.Unlock()
	return &cp, nil
}

// List returns accounts newest first
func (m *MockAccountStore) List(ctx context.Context, role database.Role, activeOnly bool) ([]database.Account, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Account
	for _, acc := range m.accounts[role] {
		if activeOnly && !acc.IsActive {
			continue
		}
		out = append(out, *acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Count returns the number of accounts of a role
func (m *MockAccountStore) Count(ctx context.Context, role database.Role, activeOnly bool) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	list, err := m.List(ctx, role, activeOnly)
	return len(list), err
}

// TouchLastLogin sets last login to now
func (m *MockAccountStore) TouchLastLogin(ctx context.Context, role database.Role, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc, ok := m.accounts[role][id]; ok {
		now := time.Now().UTC()
		acc.LastLogin = &now
	}
	return nil
}

// SetEnrolled flips the user's enrolled flag
func (m *MockAccountStore) SetEnrolled(ctx context.Context, userID int64, enrolled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc, ok := m.accounts[database.RoleUser][userID]; ok {
		acc.IsEnrolled = enrolled
	}
	return nil
}

// SaveVerificationCode stores a code for the user
func (m *MockAccountStore) SaveVerificationCode(ctx context.Context, userID int64, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[userID] = verification{code: code, expiresAt: expiresAt}
	return nil
}

// VerificationCode returns the stored code for assertions.
func (m *MockAccountStore) VerificationCode(userID int64) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.codes[userID].code
}

// VerifyEmail checks and consumes a code
func (m *MockAccountStore) VerifyEmail(ctx context.Context, email, code string, now time.Time) (bool, error) {
	acc, err := m.FindByEmail(ctx, database.RoleUser, email)
	if err != nil || acc == nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.codes[acc.ID]
	if !ok || v.code != code || !now.Before(v.expiresAt) {
		return false, nil
	}
	delete(m.codes, acc.ID)
	stored := m.accounts[database.RoleUser][acc.ID]
	stored.EmailVerified = true
	stored.VerifiedAt = &now
	return true, nil
}

// MockPersonStore is a mock implementation of database.PersonStore with a
// brute-force cosine searcher.
type MockPersonStore struct {
	mu         sync.RWMutex
	nextID     int64
	nextEmbID  int64
	persons    map[int64]*database.Person
	embeddings []database.PersonEmbedding

	// Error injection
	CreateError error
	GetError    error
	SearchError error
	ListError   error
}

// NewMockPersonStore creates a new mock person store
func NewMockPersonStore() *MockPersonStore {
	return &MockPersonStore{persons: make(map[int64]*database.Person)}
}

// AddPerson stores a person with its embeddings and returns it.
func (m *MockPersonStore) AddPerson(p database.Person, embeddings ...[]float32) *database.Person {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	if p.Status == "" {
		p.Status = database.StatusActive
	}
	if len(p.Embedding) == 0 && len(embeddings) > 0 {
		p.Embedding = database.Mean(embeddings)
	}
	p.EmbeddingDim = len(p.Embedding)
	p.PhotosCount = len(embeddings)
	if p.EnrollmentDate.IsZero() {
		p.EnrollmentDate = time.Now().UTC()
	}
	m.persons[p.ID] = &p
	for _, e := range embeddings {
		m.nextEmbID++
		m.embeddings = append(m.embeddings, database.PersonEmbedding{
			ID: m.nextEmbID, PersonID: p.ID, PersonName: p.Name, UserID: p.UserID,
			Embedding: e, CreatedAt: p.EnrollmentDate,
		})
	}
	cp := p
	return &cp
}

// Create stores the person and embeddings
func (m *MockPersonStore) Create(ctx context.Context, p *database.Person, embeddings [][]float32) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	stored := m.AddPerson(*p, embeddings...)
	*p = *stored
	return nil
}

// Get retrieves a person by ID
func (m *MockPersonStore) Get(ctx context.Context, id int64) (*database.Person, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetByUserID returns nil if the user has no person
func (m *MockPersonStore) GetByUserID(ctx context.Context, userID int64) (*database.Person, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *database.Person
	for _, p := range m.persons {
		if p.UserID != nil && *p.UserID == userID && (found == nil || p.ID > found.ID) {
			found = p
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

// List returns persons ordered by name
func (m *MockPersonStore) List(ctx context.Context, activeOnly bool, query string) ([]database.Person, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Person
	for _, p := range m.persons {
		if activeOnly && p.Status != database.StatusActive {
			continue
		}
		if query != "" && !facematch.MatchesQuery(query, p.Name) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Count returns the number of persons
func (m *MockPersonStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.persons), nil
}

// CountEmbeddings returns the number of per-photo embeddings
func (m *MockPersonStore) CountEmbeddings(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.embeddings), nil
}

// FindSimilarWithDistance ranks every active embedding by cosine distance
func (m *MockPersonStore) FindSimilarWithDistance(
	ctx context.Context, embedding []float32, limit int,
) ([]database.PersonEmbedding, []float64, error) {
	if m.SearchError != nil {
		return nil, nil, m.SearchError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		row  database.PersonEmbedding
		dist float64
	}
	var all []scored
	for _, e := range m.embeddings {
		if p := m.persons[e.PersonID]; p == nil || p.Status != database.StatusActive {
			continue
		}
		if len(e.Embedding) != len(embedding) {
			continue
		}
		all = append(all, scored{row: e, dist: database.CosineDistance(embedding, e.Embedding)})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].dist < all[j].dist })

	n := min(limit, len(all))
	rows := make([]database.PersonEmbedding, 0, n)
	dists := make([]float64, 0, n)
	for _, s := range all[:n] {
		rows = append(rows, s.row)
		dists = append(dists, s.dist)
	}
	return rows, dists, nil
}

// MockEnrollmentStore is a mock implementation of database.EnrollmentStore
type MockEnrollmentStore struct {
	mu       sync.RWMutex
	nextID   int64
	requests map[int64]*database.EnrollmentRequest

	// Error injection
	CreateError  error
	ProcessError error
}

// NewMockEnrollmentStore creates a new mock enrollment store
func NewMockEnrollmentStore() *MockEnrollmentStore {
	return &MockEnrollmentStore{requests: make(map[int64]*database.EnrollmentRequest)}
}

// Create inserts a request
func (m *MockEnrollmentStore) Create(ctx context.Context, req *database.EnrollmentRequest) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	req.ID = m.nextID
	if req.Status == "" {
		req.Status = database.StatusPending
	}
	if req.SubmittedAt.IsZero() {
		// Strictly increasing so Latest is deterministic.
		req.SubmittedAt = time.Now().UTC().Add(time.Duration(req.ID) * time.Millisecond)
	}
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

// Get retrieves a request by ID
func (m *MockEnrollmentStore) Get(ctx context.Context, id int64) (*database.EnrollmentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

// List returns requests newest first
func (m *MockEnrollmentStore) List(ctx context.Context, status string) ([]database.EnrollmentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.EnrollmentRequest
	for _, req := range m.requests {
		if matchesStatus(req.Status, status) {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Count returns the number of requests with status
func (m *MockEnrollmentStore) Count(ctx context.Context, status string) (int, error) {
	list, err := m.List(ctx, status)
	return len(list), err
}

// HasPending reports whether the user has a pending request
func (m *MockEnrollmentStore) HasPending(ctx context.Context, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, req := range m.requests {
		if req.UserID != nil && *req.UserID == userID && req.Status == database.StatusPending {
			return true, nil
		}
	}
	return false, nil
}

// Latest returns the user's newest request
func (m *MockEnrollmentStore) Latest(ctx context.Context, userID int64) (*database.EnrollmentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *database.EnrollmentRequest
	for _, req := range m.requests {
		if req.UserID != nil && *req.UserID == userID && (latest == nil || req.ID > latest.ID) {
			latest = req
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// Process moves a pending request to status
func (m *MockEnrollmentStore) Process(
	ctx context.Context, id int64, status string, processedBy int64, reason string,
) error {
	if m.ProcessError != nil {
		return m.ProcessError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return database.ErrNotFound
	}
	if req.Status != database.StatusPending {
		return database.ErrAlreadyProcessed
	}
	now := time.Now().UTC()
	req.Status = status
	req.ProcessedAt = &now
	req.ProcessedBy = &processedBy
	req.RejectionReason = reason
	return nil
}

// Reopen moves an approved request back to pending
func (m *MockEnrollmentStore) Reopen(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req, ok := m.requests[id]; ok && req.Status == database.StatusApproved {
		req.Status = database.StatusPending
		req.ProcessedAt = nil
		req.ProcessedBy = nil
	}
	return nil
}

// MockAttendanceStore is a mock implementation of database.AttendanceStore
type MockAttendanceStore struct {
	mu      sync.RWMutex
	nextID  int64
	records []database.AttendanceRecord

	// Error injection
	MarkError error
	ListError error
}

// NewMockAttendanceStore creates a new mock attendance store
func NewMockAttendanceStore() *MockAttendanceStore {
	return &MockAttendanceStore{}
}

// Mark inserts a record unless the user has one for the same day
func (m *MockAttendanceStore) Mark(
	ctx context.Context, rec *database.AttendanceRecord,
) (*database.AttendanceRecord, bool, error) {
	if m.MarkError != nil {
		return nil, false, m.MarkError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.MarkedOn == "" {
		rec.MarkedOn = rec.Timestamp.UTC().Format("2006-01-02")
	}
	if rec.UserID != nil {
		for _, r := range m.records {
			if r.UserID != nil && *r.UserID == *rec.UserID && r.MarkedOn == rec.MarkedOn {
				cp := r
				return &cp, false, nil
			}
		}
	}
	m.nextID++
	stored := *rec
	stored.ID = m.nextID
	m.records = append(m.records, stored)
	return &stored, true, nil
}

func (m *MockAttendanceStore) filtered(userID *int64) []database.AttendanceRecord {
	var out []database.AttendanceRecord
	for _, r := range m.records {
		if userID != nil && (r.UserID == nil || *r.UserID != *userID) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// List pages through records newest first
func (m *MockAttendanceStore) List(
	ctx context.Context, userID *int64, page database.Page,
) ([]database.AttendanceRecord, int, error) {
	if m.ListError != nil {
		return nil, 0, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.filtered(userID)
	start := min(page.Offset(), len(all))
	end := min(start+page.PerPage, len(all))
	return all[start:end], len(all), nil
}

// Count returns the number of records
func (m *MockAttendanceStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// CountForUser returns the number of records for a user
func (m *MockAttendanceStore) CountForUser(ctx context.Context, userID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.filtered(&userID)), nil
}

// CountOn returns the number of records on a day
func (m *MockAttendanceStore) CountOn(ctx context.Context, day string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if r.MarkedOn == day {
			n++
		}
	}
	return n, nil
}

// HasMarked reports whether the user has a record on day
func (m *MockAttendanceStore) HasMarked(ctx context.Context, userID int64, day string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.UserID != nil && *r.UserID == userID && r.MarkedOn == day {
			return true, nil
		}
	}
	return false, nil
}

// DailyCounts returns per-day counts ending at until
func (m *MockAttendanceStore) DailyCounts(ctx context.Context, until time.Time, days int) ([]database.DailyCount, error) {
	if days <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, r := range m.records {
		counts[r.MarkedOn]++
	}
	start := until.UTC().AddDate(0, 0, -(days - 1))
	return database.FillDailyCounts(start, days, counts), nil
}

// MockSignupStore is a mock implementation of database.SignupStore
type MockSignupStore struct {
	mu       sync.RWMutex
	nextID   int64
	requests map[int64]*database.SignupRequest

	// Error injection
	CreateError error
}

// NewMockSignupStore creates a new mock signup store
func NewMockSignupStore() *MockSignupStore {
	return &MockSignupStore{requests: make(map[int64]*database.SignupRequest)}
}

// Create inserts a request
func (m *MockSignupStore) Create(ctx context.Context, req *database.SignupRequest) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	req.ID = m.nextID
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Status == "" {
		req.Status = database.StatusPending
	}
	req.SubmittedAt = time.Now().UTC()
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

// Get retrieves a request by ID
func (m *MockSignupStore) Get(ctx context.Context, id int64) (*database.SignupRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

// List returns requests newest first
func (m *MockSignupStore) List(ctx context.Context, status string) ([]database.SignupRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.SignupRequest
	for _, req := range m.requests {
		if matchesStatus(req.Status, status) {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Count returns the number of requests with status
func (m *MockSignupStore) Count(ctx context.Context, status string) (int, error) {
	list, err := m.List(ctx, status)
	return len(list), err
}

// PendingEmailExists reports whether a pending request uses email
func (m *MockSignupStore) PendingEmailExists(ctx context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, req := range m.requests {
		if req.Email == email && req.Status == database.StatusPending {
			return true, nil
		}
	}
	return false, nil
}

// Process moves a pending request to status
func (m *MockSignupStore) Process(ctx context.Context, id int64, status string, processedBy int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return database.ErrNotFound
	}
	if req.Status != database.StatusPending {
		return database.ErrAlreadyProcessed
	}
	now := time.Now().UTC()
	req.Status = status
	req.ProcessedAt = &now
	req.ProcessedBy = &processedBy
	req.RejectionReason = reason
	return nil
}

// MockLeaveStore is a mock implementation of database.LeaveStore
type MockLeaveStore struct {
	mu       sync.RWMutex
	nextID   int64
	requests map[int64]*database.LeaveRequest
}

// NewMockLeaveStore creates a new mock leave store
func NewMockLeaveStore() *MockLeaveStore {
	return &MockLeaveStore{requests: make(map[int64]*database.LeaveRequest)}
}

// Create inserts a request
func (m *MockLeaveStore) Create(ctx context.Context, req *database.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	req.ID = m.nextID
	if req.Status == "" {
		req.Status = database.StatusPending
	}
	req.SubmittedAt = time.Now().UTC()
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

// Get retrieves a request by ID
func (m *MockLeaveStore) Get(ctx context.Context, id int64) (*database.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

// List returns requests newest first
func (m *MockLeaveStore) List(ctx context.Context, userID *int64, status string) ([]database.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.LeaveRequest
	for _, req := range m.requests {
		if userID != nil && req.UserID != *userID {
			continue
		}
		if matchesStatus(req.Status, status) {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Process moves a pending request to status
func (m *MockLeaveStore) Process(ctx context.Context, id int64, status string, processedBy int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return database.ErrNotFound
	}
	if req.Status != database.StatusPending {
		return database.ErrAlreadyProcessed
	}
	now := time.Now().UTC()
	req.Status = status
	req.ProcessedAt = &now
	req.ProcessedBy = &processedBy
	req.RejectionReason = reason
	return nil
}

// MockLogStore is a mock implementation of database.LogStore
type MockLogStore struct {
	mu      sync.RWMutex
	entries []database.SystemLog

	// Error injection
	WriteError error
}

// NewMockLogStore creates a new mock log store
func NewMockLogStore() *MockLogStore {
	return &MockLogStore{}
}

// Write appends an entry
func (m *MockLogStore) Write(ctx context.Context, entry *database.SystemLog) error {
	if m.WriteError != nil {
		return m.WriteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.entries) + 1)
	entry.Timestamp = time.Now().UTC()
	m.entries = append(m.entries, *entry)
	return nil
}

// Entries returns every entry in write order.
func (m *MockLogStore) Entries() []database.SystemLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.SystemLog(nil), m.entries...)
}

// List pages through entries newest first
func (m *MockLogStore) List(ctx context.Context, page database.Page) ([]database.SystemLog, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.SystemLog, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0; i-- {
		out = append(out, m.entries[i])
	}
	start := min(page.Offset(), len(out))
	end := min(start+page.PerPage, len(out))
	return out[start:end], len(out), nil
}

func matchesStatus(have, want string) bool {
	return want == "" || want == "all" || have == want
}

var (
	_ database.AccountStore    = (*MockAccountStore)(nil)
	_ database.PersonStore     = (*MockPersonStore)(nil)
	_ database.EnrollmentStore = (*MockEnrollmentStore)(nil)
	_ database.AttendanceStore = (*MockAttendanceStore)(nil)
	_ database.SignupStore     = (*MockSignupStore)(nil)
	_ database.LeaveStore      = (*MockLeaveStore)(nil)
	_ database.LogStore        = (*MockLogStore)(nil)
)
