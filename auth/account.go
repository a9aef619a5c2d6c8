package auth

import (
	"context"
	"errors"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/internal/logging"
	"github.com/jrsteele09/go-session-auth/roles"
	"github.com/jrsteele09/go-session-auth/token/refresh"
	"github.com/jrsteele09/go-session-auth/users"
)

// Register creates an active user, assigns the default role and starts a
// session. The user, its role and the session are written together.
func (s *SessionService) Register(ctx context.Context, reg users.Registration, clientIP string) (*AuthResponse, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	hash, err := users.HashPassword(reg.Password)
	if err != nil {
		return nil, autherrors.Internal(err, "hash password")
	}

	var resp *AuthResponse
	err = s.tx.InTransaction(ctx, func(ctx context.Context, repos Repos) error {
		resp = nil

		if err := checkUnique(ctx, repos.Users, reg); err != nil {
			return err
		}

		now := s.clock.Now()
		user := reg.NewUser(hash, now)
		if err := repos.Users.Create(ctx, user); err != nil {
			if errors.Is(err, autherrors.ErrDuplicate) {
				return err
			}
			return autherrors.Persistence(err, "create user")
		}

		if s.defaultRole != "" {
			role, err := repos.Roles.GetByName(ctx, s.defaultRole)
			switch {
			case errors.Is(err, autherrors.ErrNotFound):
				s.logger.Warn().Str("role", s.defaultRole).Str("user_id", user.ID).Msg("default role does not exist, not assigned")
			case err != nil:
				return autherrors.Persistence(err, "get default role")
			default:
				if err := repos.Roles.AssignToUser(ctx, &roles.UserRole{
					UserID:     user.ID,
					RoleID:     role.ID,
					AssignedAt: now,
					AssignedBy: refresh.ActorSystem,
				}); err != nil {
					return autherrors.Persistence(err, "assign default role")
				}
			}
		}

		var err error
		resp, err = s.startSession(ctx, repos, user, clientIP, now)
		return err
	})
	if err != nil {
		if !errors.Is(err, autherrors.ErrDuplicate) {
			logging.LogError(s.logger.With().Str("email", reg.Email).Logger(), "registration failed", err)
		}
		return nil, err
	}

	s.logger.Info().Str("user_id", resp.User.ID).Str("email", resp.User.Email).Msg("user registered")
	resp.Message = MsgRegistered
	return resp, nil
}

func checkUnique(ctx context.Context, repo users.Repo, reg users.Registration) error {
	if _, err := repo.GetByEmail(ctx, reg.Email); err == nil {
		return autherrors.Duplicate("email", "email is already registered")
	} else if !errors.Is(err, autherrors.ErrNotFound) {
		return autherrors.Persistence(err, "get user by email")
	}

	if _, err := repo.GetByIdentificationNumber(ctx, reg.IdentificationNumber); err == nil {
		return autherrors.Duplicate("identificationNumber", "identification number is already registered")
	} else if !errors.Is(err, autherrors.ErrNotFound) {
		return autherrors.Persistence(err, "get user by identification number")
	}
	return nil
}

// ChangePassword replaces the password of userID after checking the current
// one, then revokes every active refresh token of the user.
func (s *SessionService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	change := users.PasswordChange{
		CurrentPassword:    currentPassword,
		NewPassword:        newPassword,
		ConfirmNewPassword: newPassword,
	}
	if err := change.Validate(); err != nil {
		return err
	}

	user, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, autherrors.ErrNotFound) {
			return err
		}
		return autherrors.Persistence(err, "get user")
	}

	ok, err := s.verifier.Verify(ctx, user, currentPassword)
	if err != nil {
		return autherrors.Internal(err, "verify password")
	}
	if !ok {
		return autherrors.Validation(autherrors.FieldError{Field: "currentPassword", Message: "current password is incorrect"})
	}

	hash, err := users.HashPassword(newPassword)
	if err != nil {
		return autherrors.Internal(err, "hash password")
	}

	var revoked int64
	err = s.tx.InTransaction(ctx, func(ctx context.Context, repos Repos) error {
		if err := repos.Users.UpdatePasswordHash(ctx, userID, hash); err != nil {
			return autherrors.Persistence(err, "update password")
		}
		var err error
		revoked, err = s.refreshTokens.WithRepo(repos.RefreshTokens).RevokeAllActiveForUser(ctx, userID, refresh.ActorPasswordChange)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("user_id", userID).Int64("revoked", revoked).Msg("password changed")
	s.metrics.Revoked(refresh.ActorPasswordChange, revoked)
	return nil
}

// Profile returns the public view of userID with its current roles.
func (s *SessionService) Profile(ctx context.Context, userID string) (*UserInfo, error) {
	user, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, autherrors.ErrNotFound) {
			return nil, err
		}
		return nil, autherrors.Persistence(err, "get user")
	}
	return s.userInfo(ctx, user, s.clock.Now())
}
