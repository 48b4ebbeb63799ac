package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens. For teachers and
// heads UserID is the teacher ID, for students it is the student ID.
type JWTClaims struct {
	UserID       string   `json:"user_id"`
	Role         UserRole `json:"role"`
	Email        string   `json:"email"`
	FullName     string   `json:"full_name"`
	DepartmentID string   `json:"department_id,omitempty"`
	jwt.RegisteredClaims
}

// HeadOf reports whether the caller heads departmentID.
func (c *JWTClaims) HeadOf(departmentID string) bool {
	return c != nil && c.Role == RoleHead && departmentID != "" && c.DepartmentID == departmentID
}

// IsAdmin reports whether the caller is an administrator.
func (c *JWTClaims) IsAdmin() bool {
	return c != nil && c.Role.IsAdmin()
}
