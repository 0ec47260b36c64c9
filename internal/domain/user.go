package domain

import "time"

// UserRole enumerates verified caller roles. The engine only ever sees a
// role that the auth layer has already verified.
type UserRole string

const (
	UserRoleCitizen UserRole = "citizen"
	UserRoleStaff   UserRole = "staff"
	UserRoleAgent   UserRole = "agent"
)

// User models an authenticated citizen or operator account.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         UserRole
	CreatedAt    time.Time
}

// ActorTypeForRole maps a verified role to its timeline actor type.
func ActorTypeForRole(role UserRole) ActorType {
	switch role {
	case UserRoleStaff:
		return ActorTypeStaff
	case UserRoleAgent:
		return ActorTypeAgent
	default:
		return ActorTypeCitizen
	}
}
