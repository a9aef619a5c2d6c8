package auth

import (
	"context"

	"github.com/jrsteele09/go-session-auth/roles"
	"github.com/jrsteele09/go-session-auth/token/refresh"
	"github.com/jrsteele09/go-session-auth/users"
)

// Repos holds all repository dependencies for the SessionService
type Repos struct {
	Users         users.Repo   // Repository for user data
	Roles         roles.Repo   // Repository for roles and assignments
	RefreshTokens refresh.Repo // Repository for refresh token rows
}

// Transactor runs fn against repositories that share one transaction. The
// transaction commits when fn returns nil and rolls back otherwise, including
// when ctx is cancelled. fn may run more than once if the store retries a
// conflicting transaction, so it must not keep state between attempts.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error
}
