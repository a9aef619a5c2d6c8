// Package auth implements the session lifecycle: password authentication
// with lockout, access token issuance and refresh token rotation.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-session-auth/internal/clock"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/internal/logging"
	"github.com/jrsteele09/go-session-auth/internal/metrics"
	"github.com/jrsteele09/go-session-auth/lockout"
	"github.com/jrsteele09/go-session-auth/token"
	"github.com/jrsteele09/go-session-auth/token/refresh"
	"github.com/jrsteele09/go-session-auth/users"
)

const (
	DefaultAccessTokenTTL  = 60 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultRole            = "EndUser"
)

// Messages returned to clients.
const (
	MsgAuthenticated       = "Authentication successful"
	MsgRegistered          = "User registered successfully"
	MsgRefreshed           = "Token refreshed successfully"
	MsgInvalidCredentials  = "Invalid credentials"
	MsgAccountInactive     = "User account is inactive"
	MsgInvalidRefreshToken = "Invalid or expired refresh token"
	MsgInvalidAccessToken  = "Invalid access token"
)

// SessionService authenticates users and manages their sessions.
type SessionService struct {
	repos          Repos
	tx             Transactor
	codec          *token.Codec
	refreshTokens  *refresh.Manager
	verifier       users.CredentialVerifier
	policy         lockout.Policy
	clock          clock.Clock
	logger         zerolog.Logger
	metrics        *metrics.Metrics
	accessTTL      time.Duration
	refreshTTL     time.Duration
	defaultRole    string
	reuseDetection bool
}

// SessionServiceOption defines a function type to modify the SessionService instance.
type SessionServiceOption func(*SessionService)

// WithClock sets the time source (primarily for testing)
func WithClock(c clock.Clock) SessionServiceOption {
	return func(s *SessionService) {
		s.clock = c
	}
}

func WithLogger(logger zerolog.Logger) SessionServiceOption {
	return func(s *SessionService) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) SessionServiceOption {
	return func(s *SessionService) {
		s.metrics = m
	}
}

func WithPolicy(p lockout.Policy) SessionServiceOption {
	return func(s *SessionService) {
		s.policy = p
	}
}

// WithTokenLifetimes overrides the access and refresh token lifetimes.
// Non-positive values keep the defaults.
func WithTokenLifetimes(access, refresh time.Duration) SessionServiceOption {
	return func(s *SessionService) {
		if access > 0 {
			s.accessTTL = access
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

// WithDefaultRole names the role assigned at registration. Empty disables
// the assignment.
func WithDefaultRole(name string) SessionServiceOption {
	return func(s *SessionService) {
		s.defaultRole = name
	}
}

// WithReuseDetection makes a replayed, already rotated refresh token revoke
// every active token of its owner.
func WithReuseDetection(enabled bool) SessionServiceOption {
	return func(s *SessionService) {
		s.reuseDetection = enabled
	}
}

// NewSessionService initializes a new SessionService with required dependencies.
func NewSessionService(
	repos Repos,
	tx Transactor,
	codec *token.Codec,
	refreshTokens *refresh.Manager,
	verifier users.CredentialVerifier,
	options ...SessionServiceOption,
) (*SessionService, error) {
	if repos.Users == nil {
		return nil, errors.New("[NewSessionService] Users repo is required")
	}
	if repos.Roles == nil {
		return nil, errors.New("[NewSessionService] Roles repo is required")
	}
	if repos.RefreshTokens == nil {
		return nil, errors.New("[NewSessionService] RefreshTokens repo is required")
	}
	if tx == nil {
		return nil, errors.New("[NewSessionService] transactor is required")
	}
	if codec == nil {
		return nil, errors.New("[NewSessionService] codec is required")
	}
	if refreshTokens == nil {
		return nil, errors.New("[NewSessionService] refresh token manager is required")
	}
	if verifier == nil {
		return nil, errors.New("[NewSessionService] credential verifier is required")
	}

	s := &SessionService{
		repos:         repos,
		tx:            tx,
		codec:         codec,
		refreshTokens: refreshTokens,
		verifier:      verifier,
		policy:        lockout.DefaultPolicy(),
		clock:         clock.System{},
		logger:        zerolog.Nop(),
		accessTTL:     DefaultAccessTokenTTL,
		refreshTTL:    DefaultRefreshTokenTTL,
		defaultRole:   DefaultRole,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Authenticate checks email and password and starts a session. Unknown
// emails and wrong passwords fail identically with ErrInvalidCredentials.
// A locked account is rejected before the password is looked at.
func (s *SessionService) Authenticate(ctx context.Context, email, password, clientIP string) (*AuthResponse, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		var fields []autherrors.FieldError
		if strings.TrimSpace(email) == "" {
			fields = append(fields, autherrors.FieldError{Field: "email", Message: "email is required"})
		}
		if password == "" {
			fields = append(fields, autherrors.FieldError{Field: "password", Message: "password is required"})
		}
		return nil, autherrors.Validation(fields...)
	}

	logger := s.logger.With().Str("email", email).Str("client_ip", clientIP).Logger()

	user, err := s.repos.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, autherrors.ErrNotFound) {
			logger.Warn().Msg("login attempt for unknown email")
			s.metrics.Login(metrics.OutcomeInvalidCredentials)
			return nil, autherrors.Authentication(autherrors.ErrInvalidCredentials)
		}
		s.metrics.Login(metrics.OutcomeError)
		return nil, autherrors.Persistence(err, "get user by email")
	}
	logger = logger.With().Str("user_id", user.ID).Logger()

	if !user.IsActive {
		logger.Warn().Msg("login attempt for inactive account")
		s.metrics.Login(metrics.OutcomeInactive)
		return nil, autherrors.Authentication(autherrors.ErrAccountInactive)
	}
	if d := s.policy.Evaluate(user.LockoutState(), s.clock.Now()); d.Locked() {
		logger.Warn().Int("remaining_minutes", d.RemainingMinutes()).Msg("login attempt for locked account")
		s.metrics.Login(metrics.OutcomeLockedOut)
		return nil, autherrors.LockedOut(d.RemainingMinutes())
	}

	// Verified before the row lock is taken.
	passwordOK, err := s.verifier.Verify(ctx, user, password)
	if err != nil {
		s.metrics.Login(metrics.OutcomeError)
		return nil, autherrors.Internal(err, "verify password")
	}

	var (
		resp           *AuthResponse
		rejection      error
		outcome        string
		failedAttempts int
		lockedNow      bool
	)
	err = s.tx.InTransaction(ctx, func(ctx context.Context, repos Repos) error {
		resp, rejection, outcome, failedAttempts, lockedNow = nil, nil, "", 0, false

		locked, err := repos.Users.LockByID(ctx, user.ID)
		if err != nil {
			if errors.Is(err, autherrors.ErrNotFound) {
				rejection, outcome = autherrors.Authentication(autherrors.ErrInvalidCredentials), metrics.OutcomeInvalidCredentials
				return nil
			}
			return autherrors.Persistence(err, "lock user")
		}
		if !locked.IsActive {
			rejection, outcome = autherrors.Authentication(autherrors.ErrAccountInactive), metrics.OutcomeInactive
			return nil
		}

		now := s.clock.Now()
		state := locked.LockoutState()
		if d := s.policy.Evaluate(state, now); d.Locked() {
			// Another request locked the account while the password was checked.
			rejection, outcome = autherrors.LockedOut(d.RemainingMinutes()), metrics.OutcomeLockedOut
			return nil
		}

		if !passwordOK {
			next, d := s.policy.RecordFailure(state, now)
			locked.SetLockoutState(next)
			if err := repos.Users.UpdateLoginState(ctx, locked); err != nil {
				return autherrors.Persistence(err, "record failed login")
			}
			failedAttempts = next.FailedAttempts
			if d.Locked() {
				lockedNow = true
				rejection, outcome = autherrors.LockedOut(d.RemainingMinutes()), metrics.OutcomeLockedOut
				return nil
			}
			rejection, outcome = autherrors.Authentication(autherrors.ErrInvalidCredentials), metrics.OutcomeInvalidCredentials
			return nil
		}

		locked.SetLockoutState(s.policy.RecordSuccess())
		locked.LastLoginAt = &now
		if err := repos.Users.UpdateLoginState(ctx, locked); err != nil {
			return autherrors.Persistence(err, "update login state")
		}
		resp, err = s.issueSession(ctx, repos, locked, clientIP)
		return err
	})
	if err != nil {
		s.metrics.Login(metrics.OutcomeError)
		return nil, err
	}
	if rejection != nil {
		switch {
		case lockedNow:
			logger.Warn().Int("failed_attempts", failedAttempts).Msg("account locked after repeated failures")
			s.metrics.Lockout()
		case failedAttempts > 0:
			logger.Warn().Int("failed_attempts", failedAttempts).Msg("invalid password")
		}
		s.metrics.Login(outcome)
		return nil, rejection
	}

	logger.Info().Msg("user authenticated")
	s.metrics.Login(metrics.OutcomeSuccess)
	resp.Message = MsgAuthenticated
	return resp, nil
}

// IssueSession mints a new access token and refresh token for user and
// records the login time. All writes share one transaction. The lockout
// fields of user are not written back.
func (s *SessionService) IssueSession(ctx context.Context, user *users.User, clientIP string) (*AuthResponse, error) {
	if user == nil || user.ID == "" {
		return nil, autherrors.Validation(autherrors.FieldError{Field: "user", Message: "user is required"})
	}

	var resp *AuthResponse
	err := s.tx.InTransaction(ctx, func(ctx context.Context, repos Repos) error {
		var err error
		resp, err = s.startSession(ctx, repos, user, clientIP, s.clock.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	resp.Message = MsgAuthenticated
	return resp, nil
}

// RefreshSession exchanges a refresh token for a new token pair. The access
// token may be expired but must otherwise be valid; its subject must own the
// refresh token. The presented refresh token is revoked and linked to its
// successor, or nothing changes at all.
func (s *SessionService) RefreshSession(ctx context.Context, accessToken, refreshValue, clientIP string) (*AuthResponse, error) {
	claims, err := s.codec.Decode(accessToken, token.DecodeOptions{ValidateExpiry: false})
	if err != nil {
		s.logger.Warn().Err(err).Str("client_ip", clientIP).Msg("refresh with invalid access token")
		s.metrics.RefreshRejectedFor(metrics.ReasonToken)
		return nil, err
	}
	if claims.Subject == "" {
		s.metrics.RefreshRejectedFor(metrics.ReasonToken)
		return nil, autherrors.Token(autherrors.ErrTokenInvalidClaims, errors.New("subject is missing"))
	}

	logger := s.logger.With().
		Str("user_id", claims.Subject).
		Str("refresh_token", logging.TokenPrefix(refreshValue)).
		Str("client_ip", clientIP).
		Logger()

	var (
		resp      *AuthResponse
		rejection error
		reason    string
		cascaded  int64
	)
	err = s.tx.InTransaction(ctx, func(ctx context.Context, repos Repos) error {
		resp, rejection, reason, cascaded = nil, nil, "", 0
		tokens := s.refreshTokens.WithRepo(repos.RefreshTokens)

		rt, err := tokens.FindActive(ctx, refreshValue, claims.Subject)
		if err != nil {
			if !autherrors.IsTokenError(err) {
				return err
			}
			rejection, reason = err, rejectionReason(err)
			if errors.Is(err, autherrors.ErrTokenAlreadyRevoked) && rt != nil && rt.ReplacedBy != "" {
				logger.Warn().Bool("cascade", s.reuseDetection).Msg("rotated refresh token presented again")
				if s.reuseDetection {
					n, err := tokens.RevokeAllActiveForUser(ctx, rt.UserID, refresh.ActorReuseDetection)
					if err != nil {
						return err
					}
					cascaded = n
				}
			}
			return nil
		}

		user, err := repos.Users.GetByID(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, autherrors.ErrNotFound) {
				rejection, reason = autherrors.Authentication(autherrors.ErrInvalidCredentials), metrics.ReasonUser
				return nil
			}
			return autherrors.Persistence(err, "get user")
		}
		if !user.IsActive {
			rejection, reason = autherrors.Authentication(autherrors.ErrAccountInactive), metrics.ReasonUser
			return nil
		}

		resp, err = s.issueSession(ctx, repos, user, clientIP)
		if err != nil {
			return err
		}
		return tokens.Revoke(ctx, rt, clientIP, resp.RefreshToken)
	})
	if err != nil {
		logging.LogError(logger, "refresh token rotation failed", err)
		return nil, err
	}
	if rejection != nil {
		if cascaded > 0 {
			logger.Warn().Int64("revoked", cascaded).Msg("revoked token family after reuse")
			s.metrics.Revoked(refresh.ActorReuseDetection, cascaded)
		}
		logger.Info().Str("reason", reason).Msg("refresh rejected")
		s.metrics.RefreshRejectedFor(reason)
		return nil, rejection
	}

	logger.Info().Msg("refresh token rotated")
	s.metrics.Rotated()
	resp.Message = MsgRefreshed
	return resp, nil
}

// RevokeToken revokes the refresh token with the given value. It reports
// false, without error, when the token does not exist or is already inactive.
func (s *SessionService) RevokeToken(ctx context.Context, value, clientIP string) (bool, error) {
	var revoked bool
	err := s.tx.InTransaction(ctx, func(ctx context.Context, repos Repos) error {
		revoked = false
		tokens := s.refreshTokens.WithRepo(repos.RefreshTokens)

		rt, err := tokens.FindActive(ctx, value, "")
		if err != nil {
			if autherrors.IsTokenError(err) {
				return nil
			}
			return err
		}
		if err := tokens.Revoke(ctx, rt, clientIP, ""); err != nil {
			return err
		}
		revoked = true
		return nil
	})
	if err != nil {
		logging.LogError(s.logger, "revoke refresh token failed", err)
		return false, err
	}
	if revoked {
		s.logger.Info().Str("refresh_token", logging.TokenPrefix(value)).Str("client_ip", clientIP).Msg("refresh token revoked")
		s.metrics.Revoked(refresh.ActorSystem, 1)
	}
	return revoked, nil
}

// RevokeAllForUser revokes every active refresh token of userID and returns
// how many were revoked.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	n, err := s.refreshTokens.RevokeAllActiveForUser(ctx, userID, refresh.ActorLogout)
	if err != nil {
		logging.LogError(s.logger, "revoke all refresh tokens failed", err)
		return 0, err
	}
	s.logger.Info().Str("user_id", userID).Int64("revoked", n).Msg("user logged out")
	s.metrics.Revoked(refresh.ActorLogout, n)
	return n, nil
}

// startSession stamps the login time on a copy of user and issues a token
// pair. Only last_login_at is written.
func (s *SessionService) startSession(ctx context.Context, repos Repos, user *users.User, clientIP string, now time.Time) (*AuthResponse, error) {
	if err := repos.Users.TouchLastLogin(ctx, user.ID, now); err != nil {
		if errors.Is(err, autherrors.ErrNotFound) {
			return nil, err
		}
		return nil, autherrors.Persistence(err, "update last login")
	}
	touched := *user
	touched.LastLoginAt = &now
	return s.issueSession(ctx, repos, &touched, clientIP)
}

func (s *SessionService) issueSession(ctx context.Context, repos Repos, user *users.User, clientIP string) (*AuthResponse, error) {
	roleNames, err := repos.Roles.RoleNamesForUser(ctx, user.ID, s.clock.Now())
	if err != nil {
		return nil, autherrors.Persistence(err, "get user roles")
	}

	claims, err := token.NewClaims(user.ID, user.Email, user.DisplayName(), roleNames, map[string]string{
		token.AttrDepartment:   user.Department,
		token.AttrEmployeeCode: user.EmployeeCode,
	})
	if err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := s.codec.Issue(claims, s.accessTTL)
	if err != nil {
		return nil, err
	}

	rt, err := s.refreshTokens.WithRepo(repos.RefreshTokens).Create(ctx, user.ID, s.refreshTTL, clientIP)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		IsAuthenticated: true,
		Token:           accessToken,
		RefreshToken:    rt.Token,
		TokenExpiration: &expiresAt,
		User:            newUserInfo(user, claims.Roles),
		Errors:          []string{},
	}, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, autherrors.ErrTokenAlreadyRevoked):
		return metrics.ReasonRevoked
	case errors.Is(err, autherrors.ErrTokenExpired):
		return metrics.ReasonExpired
	default:
		return metrics.ReasonNotFound
	}
}
