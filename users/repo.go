package users

import (
	"context"
	"time"
)

// Repo is the user directory. Lookups of missing users fail with ErrNotFound;
// Create fails with ErrDuplicate when the email or identification number is
// taken.
type Repo interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByIdentificationNumber(ctx context.Context, number string) (*User, error)
	// LockByID reads the user and holds its row lock until the enclosing
	// transaction ends.
	LockByID(ctx context.Context, id string) (*User, error)
	// UpdateLoginState persists FailedLoginAttempts, LockoutEnd and LastLoginAt.
	UpdateLoginState(ctx context.Context, user *User) error
	// TouchLastLogin sets LastLoginAt only, leaving the lockout fields alone.
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetActive(ctx context.Context, id string, active bool) error
	List(ctx context.Context, offset, limit int) ([]*User, error)
}
