package postgres

import "github.com/lakshay-lagyan/smart-attendance-cv/internal/database"

// NewStores builds every repository over pool. persons is shared so the
// HNSW index it owns is the one handlers search.
func NewStores(pool *Pool, persons *PersonRepository) database.Stores {
	if persons == nil {
		persons = NewPersonRepository(pool)
	}
	return database.Stores{
		Accounts:    NewAccountRepository(pool),
		Persons:     persons,
		Enrollments: NewEnrollmentRepository(pool),
		Attendance:  NewAttendanceRepository(pool),
		Signups:     NewSignupRepository(pool),
		Leaves:      NewLeaveRepository(pool),
		Logs:        NewLogRepository(pool),
	}
}

var (
	_ database.AccountStore    = (*AccountRepository)(nil)
	_ database.PersonStore     = (*PersonRepository)(nil)
	_ database.HNSWRebuilder   = (*PersonRepository)(nil)
	_ database.EnrollmentStore = (*EnrollmentRepository)(nil)
	_ database.AttendanceStore = (*AttendanceRepository)(nil)
	_ database.SignupStore     = (*SignupRepository)(nil)
	_ database.LeaveStore      = (*LeaveRepository)(nil)
	_ database.LogStore        = (*LogRepository)(nil)
)
