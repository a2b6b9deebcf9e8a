package domain

import (
	"errors"
	"time"
)

// User is the identity record the session core authenticates against.
// PasswordHash is never serialized to clients.
type User struct {
	ID             string
	Username       string
	Email          string
	PasswordHash   string
	FullName       string
	Role           Role
	ProfilePicture string
	PhoneNumber    string
	Status         UserStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Role is the single capability attached to a user. Route guards compare it by membership.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleModerator:
		return true
	}
	return false
}

// Validate validates the user for persistence and fills status and role defaults.
// Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.Username == "" {
		return errors.New("username is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if !u.Role.Valid() {
		return errors.New("unknown role " + string(u.Role))
	}
	return nil
}
