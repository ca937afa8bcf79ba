package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleStudent        UserRole = "STUDENT"
	RoleProfessor      UserRole = "PROFESSOR"
	RoleStudentService UserRole = "STUDENT_SERVICE"
	RoleAdmin          UserRole = "ADMIN"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	return r == RoleStudent || r.IsStaff()
}

// IsStaff reports whether the role can be assigned student requests.
func (r UserRole) IsStaff() bool {
	switch r {
	case RoleProfessor, RoleStudentService, RoleAdmin:
		return true
	}
	return false
}

// IsManagement reports whether the role administers the request workflow.
func (r UserRole) IsManagement() bool {
	return r == RoleStudentService || r == RoleAdmin
}

// User represents an application user stored in the users table.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Role      UserRole  `db:"role" json:"role"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StaffCandidate is an active staff user annotated with the number of open
// (PENDING or IN_REVIEW) requests currently assigned to them.
type StaffCandidate struct {
	UserID       int64    `db:"user_id" json:"user_id"`
	FullName     string   `db:"full_name" json:"full_name"`
	Role         UserRole `db:"role" json:"role"`
	OpenRequests int      `db:"open_requests" json:"open_requests"`
}
