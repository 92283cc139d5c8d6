package users

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
	ErrInvalidUser  = errors.New("invalid user")
	ErrRateLimited  = errors.New("too many registration attempts")
)

// User is an account reference. The lending workflow only ever reads it; the
// credential fields are never serialized and are stripped again by the
// history projection.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Salt         string    `json:"-" db:"salt"`
	CreatedAt    time.Time `json:"created_at,omitempty" db:"created_at"`
}

// Validate checks the registration invariants.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidUser)
	}
	if !strings.Contains(u.Email, "@") {
		return fmt.Errorf("%w: email must be an address", ErrInvalidUser)
	}
	return nil
}
