// Package refresh manages the opaque, single use refresh tokens that renew a
// session.
package refresh

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/jrsteele09/go-session-auth/internal/clock"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
)

// DefaultTokenBytes is the entropy of a generated refresh token.
const DefaultTokenBytes = 64

// Manager handles refresh token creation, lookup and revocation
type Manager struct {
	repo       Repo
	clock      clock.Clock
	random     io.Reader
	tokenBytes int
}

type ManagerOption func(*Manager)

// WithClock sets the time source (primarily for testing)
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithRandom replaces crypto/rand as the entropy source (primarily for testing)
func WithRandom(r io.Reader) ManagerOption {
	return func(m *Manager) {
		m.random = r
	}
}

// NewManager creates a new refresh token manager
func NewManager(repo Repo, options ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("[NewManager] refresh token repo is required")
	}
	m := &Manager{
		repo:       repo,
		clock:      clock.System{},
		random:     rand.Reader,
		tokenBytes: DefaultTokenBytes,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// WithRepo returns a copy of the manager bound to repo, typically one scoped
// to a transaction.
func (m *Manager) WithRepo(repo Repo) *Manager {
	c := *m
	c.repo = repo
	return &c
}

// Create generates a new refresh token for userID and stores it. A value
// collision is not retried; it surfaces as a persistence failure.
func (m *Manager) Create(ctx context.Context, userID string, ttl time.Duration, clientIP string) (*RefreshToken, error) {
	if ttl <= 0 {
		return nil, autherrors.Validation(autherrors.FieldError{Field: "ttl", Message: "refresh token lifetime must be positive"})
	}

	tokenBytes := make([]byte, m.tokenBytes)
	if _, err := io.ReadFull(m.random, tokenBytes); err != nil {
		return nil, autherrors.Internal(err, "generate refresh token")
	}

	now := m.clock.Now().UTC()
	rt := &RefreshToken{
		ID:          uuid.NewString(),
		Token:       base64.StdEncoding.EncodeToString(tokenBytes),
		UserID:      userID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		CreatedByIP: clientIP,
	}

	if err := m.repo.Insert(ctx, rt); err != nil {
		if errors.Is(err, autherrors.ErrDuplicate) {
			return nil, autherrors.Persistence(
				oops.With("user_id", userID).Wrapf(err, "refresh token value collision"),
				"insert refresh token",
			)
		}
		return nil, autherrors.Persistence(err, "insert refresh token")
	}
	return rt, nil
}

// FindActive returns the active token matching value and userID. A missing
// row (or one owned by another user) fails with ErrTokenNotFound. An
// inactive row is returned together with ErrTokenAlreadyRevoked or
// ErrTokenExpired so callers can tell reuse apart from garbage.
func (m *Manager) FindActive(ctx context.Context, value, userID string) (*RefreshToken, error) {
	if value == "" {
		return nil, autherrors.Token(autherrors.ErrTokenNotFound, nil)
	}

	rt, err := m.repo.GetByToken(ctx, value)
	if err != nil {
		if errors.Is(err, autherrors.ErrTokenNotFound) {
			return nil, autherrors.Token(autherrors.ErrTokenNotFound, nil)
		}
		return nil, autherrors.Persistence(err, "get refresh token")
	}
	if userID != "" && rt.UserID != userID {
		return nil, autherrors.Token(autherrors.ErrTokenNotFound, nil)
	}

	switch now := m.clock.Now(); {
	case rt.Revoked:
		return rt, autherrors.Token(autherrors.ErrTokenAlreadyRevoked, nil)
	case rt.IsExpired(now):
		return rt, autherrors.Token(autherrors.ErrTokenExpired, nil)
	}
	return rt, nil
}

// Revoke marks rt revoked by clientIP, optionally linking its successor.
func (m *Manager) Revoke(ctx context.Context, rt *RefreshToken, clientIP, replacedBy string) error {
	now := m.clock.Now().UTC()
	rt.Revoked = true
	rt.RevokedAt = &now
	rt.RevokedByIP = clientIP
	rt.RevokedBy = clientIP
	if rt.RevokedBy == "" {
		rt.RevokedBy = ActorSystem
	}
	if replacedBy != "" {
		rt.ReplacedBy = replacedBy
	}

	if err := m.repo.MarkRevoked(ctx, rt); err != nil {
		return autherrors.Persistence(err, "revoke refresh token")
	}
	return nil
}

// RevokeAllActiveForUser revokes every active token of userID on behalf of actor.
func (m *Manager) RevokeAllActiveForUser(ctx context.Context, userID, actor string) (int64, error) {
	if actor == "" {
		actor = ActorSystem
	}
	n, err := m.repo.RevokeAllActiveForUser(ctx, userID, m.clock.Now().UTC(), actor)
	if err != nil {
		return 0, autherrors.Persistence(err, "revoke all refresh tokens")
	}
	return n, nil
}

// List returns every token row of userID, newest first.
func (m *Manager) List(ctx context.Context, userID string) ([]*RefreshToken, error) {
	tokens, err := m.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, autherrors.Persistence(err, "list refresh tokens")
	}
	return tokens, nil
}
