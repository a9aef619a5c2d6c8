package refresh

import (
	"context"
	"time"
)

// Actors recorded in RevokedBy when no client IP is known.
const (
	ActorSystem         = "system"
	ActorLogout         = "logout"
	ActorPasswordChange = "password-change"
	ActorReuseDetection = "reuse-detection"
	ActorDeactivation   = "deactivation"
)

// RefreshToken is the server side record of an opaque refresh token. Rows are
// never deleted; revocation and replacement only mutate them.
type RefreshToken struct {
	ID          string
	Token       string // the value sent to the client
	UserID      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Revoked     bool
	RevokedAt   *time.Time
	RevokedBy   string
	ReplacedBy  string // value of the token that superseded this one
	CreatedByIP string
	RevokedByIP string
}

// IsExpired reports whether now is at or past the expiry.
func (rt *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(rt.ExpiresAt)
}

// IsActive reports whether the token can still be exchanged.
func (rt *RefreshToken) IsActive(now time.Time) bool {
	return !rt.Revoked && !rt.IsExpired(now)
}

// Repo persists refresh token rows.
type Repo interface {
	// Insert stores a new row. A value that already exists fails with ErrDuplicate.
	Insert(ctx context.Context, rt *RefreshToken) error
	// GetByToken returns the row for value, locking it for the rest of the
	// enclosing transaction. Missing rows fail with ErrTokenNotFound.
	GetByToken(ctx context.Context, value string) (*RefreshToken, error)
	// MarkRevoked persists the revocation fields of rt.
	MarkRevoked(ctx context.Context, rt *RefreshToken) error
	// RevokeAllActiveForUser revokes every active row of userID and returns the count.
	RevokeAllActiveForUser(ctx context.Context, userID string, now time.Time, actor string) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]*RefreshToken, error)
}
