package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/internal/logging"
	"github.com/jrsteele09/go-session-auth/roles"
	"github.com/jrsteele09/go-session-auth/token/refresh"
	"github.com/jrsteele09/go-session-auth/users"
)

// Paging bounds for ListUsers.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// RoleSummary is an active role with the number of users currently holding it.
type RoleSummary struct {
	roles.Role
	UserCount int `json:"userCount"`
}

// RoleAssignment reports the outcome of AssignRoles.
type RoleAssignment struct {
	UserID  string   `json:"userId"`
	Roles   []string `json:"roles"`
	Unknown []string `json:"unknown"`
}

// SessionInfo describes one refresh token of a user without exposing its value.
type SessionInfo struct {
	ID          string     `json:"id"`
	TokenPrefix string     `json:"tokenPrefix"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	Active      bool       `json:"active"`
	Revoked     bool       `json:"revoked"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	RevokedBy   string     `json:"revokedBy,omitempty"`
	CreatedByIP string     `json:"createdByIp,omitempty"`
}

// ListRoles returns the active roles ordered by priority, then name.
func (s *SessionService) ListRoles(ctx context.Context) ([]*RoleSummary, error) {
	list, err := s.repos.Roles.List(ctx)
	if err != nil {
		return nil, autherrors.Persistence(err, "list roles")
	}

	now := s.clock.Now()
	summaries := make([]*RoleSummary, 0, len(list))
	for _, role := range list {
		ids, err := s.repos.Roles.UserIDsInRole(ctx, role.ID, now)
		if err != nil {
			return nil, autherrors.Persistence(err, "count role users")
		}
		summaries = append(summaries, &RoleSummary{Role: *role, UserCount: len(ids)})
	}
	return summaries, nil
}

// InitializeRoles creates the default roles that are missing and returns how
// many were created.
func (s *SessionService) InitializeRoles(ctx context.Context) (int, error) {
	var created int
	err := s.tx.InTransaction(ctx, func(ctx context.Context, repos Repos) error {
		var err error
		created, err = roles.Seed(ctx, repos.Roles, s.clock.Now())
		if err != nil {
			return autherrors.Persistence(err, "seed roles")
		}
		return nil
	})
	if err != nil {
		logging.LogError(s.logger, "role initialization failed", err)
		return 0, err
	}
	s.logger.Info().Int("created", created).Msg("roles initialized")
	return created, nil
}

// UsersInRole returns the users currently holding the named role.
func (s *SessionService) UsersInRole(ctx context.Context, name string) ([]*UserInfo, error) {
	role, err := s.repos.Roles.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, autherrors.ErrNotFound) {
			return nil, err
		}
		return nil, autherrors.Persistence(err, "get role")
	}

	now := s.clock.Now()
	ids, err := s.repos.Roles.UserIDsInRole(ctx, role.ID, now)
	if err != nil {
		return nil, autherrors.Persistence(err, "get role users")
	}

	infos := make([]*UserInfo, 0, len(ids))
	for _, id := range ids {
		user, err := s.repos.Users.GetByID(ctx, id)
		if errors.Is(err, autherrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, autherrors.Persistence(err, "get user")
		}
		info, err := s.userInfo(ctx, user, now)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// AssignRoles replaces every role of userID with the named ones. Names that
// match no role are skipped and reported in Unknown. A nil expiresAt makes
// the assignments permanent.
func (s *SessionService) AssignRoles(ctx context.Context, userID string, names []string, expiresAt *time.Time, assignedBy string) (*RoleAssignment, error) {
	var fields []autherrors.FieldError
	if strings.TrimSpace(userID) == "" {
		fields = append(fields, autherrors.FieldError{Field: "userId", Message: "user id is required"})
	}
	if expiresAt != nil && !expiresAt.After(s.clock.Now()) {
		fields = append(fields, autherrors.FieldError{Field: "expiresAt", Message: "expiry must be in the future"})
	}
	if len(fields) > 0 {
		return nil, autherrors.Validation(fields...)
	}

	var result *RoleAssignment
	err := s.tx.InTransaction(ctx, func(ctx context.Context, repos Repos) error {
		result = &RoleAssignment{UserID: userID, Roles: []string{}, Unknown: []string{}}

		if _, err := repos.Users.LockByID(ctx, userID); err != nil {
			if errors.Is(err, autherrors.ErrNotFound) {
				return err
			}
			return autherrors.Persistence(err, "lock user")
		}
		if _, err := repos.Roles.RemoveAllFromUser(ctx, userID); err != nil {
			return autherrors.Persistence(err, "remove user roles")
		}

		now := s.clock.Now()
		seen := make(map[string]bool, len(names))
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true

			role, err := repos.Roles.GetByName(ctx, name)
			if errors.Is(err, autherrors.ErrNotFound) {
				result.Unknown = append(result.Unknown, name)
				continue
			}
			if err != nil {
				return autherrors.Persistence(err, "get role")
			}
			if err := repos.Roles.AssignToUser(ctx, &roles.UserRole{
				UserID:     userID,
				RoleID:     role.ID,
				AssignedAt: now,
				AssignedBy: assignedBy,
				ExpiresAt:  expiresAt,
			}); err != nil {
				return autherrors.Persistence(err, "assign role")
			}
			result.Roles = append(result.Roles, role.Name)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, autherrors.ErrNotFound) {
			logging.LogError(s.logger.With().Str("user_id", userID).Logger(), "role assignment failed", err)
		}
		return nil, err
	}

	logger := s.logger.With().Str("user_id", userID).Str("assigned_by", assignedBy).Logger()
	if len(result.Unknown) > 0 {
		logger.Warn().Strs("unknown", result.Unknown).Msg("skipped unknown roles")
	}
	logger.Info().Strs("roles", result.Roles).Msg("roles assigned")
	return result, nil
}

// ListUsers returns a page of users ordered by creation time. A zero limit
// means DefaultPageSize.
func (s *SessionService) ListUsers(ctx context.Context, offset, limit int) ([]*UserInfo, error) {
	if limit == 0 {
		limit = DefaultPageSize
	}
	var fields []autherrors.FieldError
	if offset < 0 {
		fields = append(fields, autherrors.FieldError{Field: "offset", Message: "offset must not be negative"})
	}
	if limit < 0 || limit > MaxPageSize {
		fields = append(fields, autherrors.FieldError{Field: "limit", Message: "limit must be between 1 and 200"})
	}
	if len(fields) > 0 {
		return nil, autherrors.Validation(fields...)
	}

	list, err := s.repos.Users.List(ctx, offset, limit)
	if err != nil {
		return nil, autherrors.Persistence(err, "list users")
	}

	now := s.clock.Now()
	infos := make([]*UserInfo, 0, len(list))
	for _, user := range list {
		info, err := s.userInfo(ctx, user, now)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// SetUserActive activates or deactivates userID. Deactivation also revokes
// every active refresh token of the user and returns how many were revoked.
func (s *SessionService) SetUserActive(ctx context.Context, userID string, active bool) (int64, error) {
	var revoked int64
	err := s.tx.InTransaction(ctx, func(ctx context.Context, repos Repos) error {
		revoked = 0
		if err := repos.Users.SetActive(ctx, userID, active); err != nil {
			if errors.Is(err, autherrors.ErrNotFound) {
				return err
			}
			return autherrors.Persistence(err, "set user active")
		}
		if active {
			return nil
		}
		var err error
		revoked, err = s.refreshTokens.WithRepo(repos.RefreshTokens).RevokeAllActiveForUser(ctx, userID, refresh.ActorDeactivation)
		return err
	})
	if err != nil {
		if !errors.Is(err, autherrors.ErrNotFound) {
			logging.LogError(s.logger.With().Str("user_id", userID).Logger(), "set user active failed", err)
		}
		return 0, err
	}

	s.logger.Info().Str("user_id", userID).Bool("active", active).Int64("revoked", revoked).Msg("user activation changed")
	s.metrics.Revoked(refresh.ActorDeactivation, revoked)
	return revoked, nil
}

// ListSessions returns every refresh token of userID, newest first.
func (s *SessionService) ListSessions(ctx context.Context, userID string) ([]*SessionInfo, error) {
	if _, err := s.repos.Users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, autherrors.ErrNotFound) {
			return nil, err
		}
		return nil, autherrors.Persistence(err, "get user")
	}

	tokens, err := s.refreshTokens.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sessions := make([]*SessionInfo, 0, len(tokens))
	for _, rt := range tokens {
		sessions = append(sessions, &SessionInfo{
			ID:          rt.ID,
			TokenPrefix: logging.TokenPrefix(rt.Token),
			CreatedAt:   rt.CreatedAt,
			ExpiresAt:   rt.ExpiresAt,
			Active:      rt.IsActive(now),
			Revoked:     rt.Revoked,
			RevokedAt:   rt.RevokedAt,
			RevokedBy:   rt.RevokedBy,
			CreatedByIP: rt.CreatedByIP,
		})
	}
	return sessions, nil
}

func (s *SessionService) userInfo(ctx context.Context, user *users.User, now time.Time) (*UserInfo, error) {
	roleNames, err := s.repos.Roles.RoleNamesForUser(ctx, user.ID, now)
	if err != nil {
		return nil, autherrors.Persistence(err, "get user roles")
	}
	return newUserInfo(user, roleNames), nil
}
