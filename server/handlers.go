package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jrsteele09/go-session-auth/auth"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/internal/logging"
	"github.com/jrsteele09/go-session-auth/users"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
	maxBodyBytes    = 1 << 20
	healthTimeout   = 2 * time.Second
)

const (
	msgInvalidBody         = "Invalid request body"
	msgValidationFailed    = "Validation failed"
	msgLockedOut           = "Account is locked. Try again in %d minutes."
	msgUserNotFound        = "User not found"
	msgInternalError       = "An internal error occurred"
	msgTooManyRequests     = "Too many requests"
	msgRefreshRequired     = "Refresh token is required"
	msgTokenRevoked        = "Token revoked"
	msgTokenNotFound       = "Token not found"
	msgLoggedOut           = "Logged out successfully"
	msgPasswordChanged     = "Password changed successfully"
	msgServiceUnavailable  = "unavailable"
	msgServiceHealthy      = "ok"
	msgMissingUserIdentity = "Missing user identity"
	msgForbidden           = "Insufficient permissions"
)

type messageResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// RegisterHandler creates an account and starts its first session.
func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req users.Registration
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, auth.Failed(msgInvalidBody, err.Error()))
			return
		}
		resp, err := s.sessions.Register(r.Context(), req, s.clientIP(r))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, auth.Failed(msgInvalidBody, err.Error()))
			return
		}
		resp, err := s.sessions.Authenticate(r.Context(), req.Email, req.Password, s.clientIP(r))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// RefreshTokenHandler rotates a refresh token. The access token may be
// expired but must otherwise be valid.
func (s *Server) RefreshTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, auth.Failed(msgInvalidBody, err.Error()))
			return
		}
		resp, err := s.sessions.RefreshSession(r.Context(), req.Token, req.RefreshToken, s.clientIP(r))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// RevokeTokenHandler accepts either a bare JSON string or
// {"refreshToken": "..."}.
func (s *Server) RevokeTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value, err := decodeRevokeRequest(w, r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, messageResponse{Message: msgInvalidBody})
			return
		}
		if value == "" {
			writeJSON(w, http.StatusBadRequest, messageResponse{Message: msgRefreshRequired})
			return
		}

		revoked, err := s.sessions.RevokeToken(r.Context(), value, s.clientIP(r))
		if err != nil {
			s.logFailure(r, "revoke token failed", err)
			writeJSON(w, http.StatusInternalServerError, messageResponse{Message: msgInternalError})
			return
		}
		if !revoked {
			writeJSON(w, http.StatusBadRequest, messageResponse{Message: msgTokenNotFound})
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: msgTokenRevoked})
	}
}

// LogoutHandler revokes every active refresh token of the caller.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserIDFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, messageResponse{Message: msgMissingUserIdentity})
			return
		}
		if _, err := s.sessions.RevokeAllForUser(r.Context(), userID); err != nil {
			s.logFailure(r, "logout failed", err)
			writeJSON(w, http.StatusInternalServerError, messageResponse{Message: msgInternalError})
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: msgLoggedOut})
	}
}

func (s *Server) ChangePasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserIDFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, messageResponse{Message: msgMissingUserIdentity})
			return
		}
		var req users.PasswordChange
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, auth.Failed(msgInvalidBody, err.Error()))
			return
		}
		if err := req.Validate(); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if err := s.sessions.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: msgPasswordChanged})
	}
}

func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserIDFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, messageResponse{Message: msgMissingUserIdentity})
			return
		}
		info, err := s.sessions.Profile(r.Context(), userID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

// HealthHandler reports 503 when the store cannot be reached.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logFailure(r, "health check failed", err)
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: msgServiceUnavailable})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: msgServiceHealthy})
	}
}

// writeServiceError maps the error taxonomy onto a status and a client
// message. Authentication and token rejections never say which check failed
// beyond what the message constants expose.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *autherrors.ValidationError
		duplicate  *autherrors.DuplicateError
		locked     *autherrors.LockedOutError
	)
	switch {
	case errors.Is(err, autherrors.ErrPersistence), errors.Is(err, autherrors.ErrInternal):
		s.logFailure(r, "request failed", err)
		writeJSON(w, http.StatusInternalServerError, auth.Failed(msgInternalError))
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, auth.Failed(msgValidationFailed, validation.Messages()...))
	case errors.As(err, &duplicate):
		writeJSON(w, http.StatusBadRequest, auth.Failed(duplicate.Message, duplicate.Message))
	case errors.As(err, &locked):
		writeJSON(w, http.StatusUnauthorized, auth.Failed(fmt.Sprintf(msgLockedOut, locked.RemainingMinutes)))
	case errors.Is(err, autherrors.ErrAccountInactive):
		writeJSON(w, http.StatusUnauthorized, auth.Failed(auth.MsgAccountInactive))
	case errors.Is(err, autherrors.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, auth.Failed(auth.MsgInvalidCredentials))
	case autherrors.IsTokenError(err):
		writeJSON(w, http.StatusUnauthorized, auth.Failed(auth.MsgInvalidRefreshToken))
	case errors.Is(err, autherrors.ErrNotFound):
		writeJSON(w, http.StatusNotFound, auth.Failed(msgUserNotFound))
	default:
		s.logFailure(r, "request failed", err)
		writeJSON(w, http.StatusInternalServerError, auth.Failed(msgInternalError))
	}
}

func (s *Server) logFailure(r *http.Request, msg string, err error) {
	logger := s.logger.With().Str("path", r.URL.Path).Str("client_ip", s.clientIP(r)).Logger()
	logging.LogError(logger, msg, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("request body must be valid JSON")
	}
	return nil
}

func decodeRevokeRequest(w http.ResponseWriter, r *http.Request) (string, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return "", nil
	}
	if body[0] == '"' {
		var value string
		if err := json.Unmarshal(body, &value); err != nil {
			return "", err
		}
		return value, nil
	}
	var req refreshRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", err
	}
	return req.RefreshToken, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
