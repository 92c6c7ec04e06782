// Package users implements the account sub-router mounted under /user.
//
// Accounts live in a UserStore (in memory or in a MongoDB "users"
// collection) and sign-ins are tracked by a SessionManager whose tokens are
// kept in a SessionStore (in memory or Redis). The catalog endpoints never
// consult this package.
package users

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

var (
	// ErrUserNotFound is returned when no account matches a lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when signing up with an address already in use.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned when an email and password do not match.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

const minPasswordLength = 8

// User is a registered account. PasswordHash never leaves the process.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserStore persists accounts keyed by case-folded email address.
type UserStore interface {
	CreateUser(ctx context.Context, user User) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	Ping(ctx context.Context) error
}

var emailFolder = cases.Fold()

// NormalizeEmail trims and case-folds an address so lookups ignore case.
func NormalizeEmail(email string) string {
	return emailFolder.String(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
