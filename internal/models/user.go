package models

// UserRole represents the roles supplied by the identity provider.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleHead       UserRole = "HEAD"
	RoleTeacher    UserRole = "TEACHER"
	RoleStudent    UserRole = "STUDENT"
)

// IsAdmin reports whether the role has system-wide administration rights.
func (r UserRole) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// IsTeacher reports whether the role belongs to teaching staff. Department
// heads are teachers too.
func (r UserRole) IsTeacher() bool {
	return r == RoleTeacher || r == RoleHead
}
