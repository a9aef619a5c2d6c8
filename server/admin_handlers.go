package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jrsteele09/go-session-auth/auth"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
)

const (
	msgRoleNotFound     = "Role not found"
	msgInvalidPaging    = "offset and limit must be integers"
	msgUserActivated    = "User activated"
	msgUserDeactivated  = "User deactivated"
	msgCannotDeactivate = "You cannot deactivate your own account"
)

type assignRolesRequest struct {
	UserID    string     `json:"userId"`
	Roles     []string   `json:"roles"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type initRolesResponse struct {
	Created int `json:"created"`
}

type setActiveResponse struct {
	Message string `json:"message"`
	Revoked int64  `json:"revoked"`
}

func (s *Server) ListRolesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.sessions.ListRoles(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// InitializeRolesHandler creates any missing default role.
func (s *Server) InitializeRolesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		created, err := s.sessions.InitializeRoles(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, initRolesResponse{Created: created})
	}
}

func (s *Server) RoleUsersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos, err := s.sessions.UsersInRole(r.Context(), r.PathValue("name"))
		if errors.Is(err, autherrors.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, auth.Failed(msgRoleNotFound))
			return
		}
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, infos)
	}
}

// AssignRolesHandler replaces the roles of a user. Unknown role names are
// reported back, not rejected.
func (s *Server) AssignRolesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := UserIDFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, messageResponse{Message: msgMissingUserIdentity})
			return
		}
		var req assignRolesRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, auth.Failed(msgInvalidBody, err.Error()))
			return
		}
		result, err := s.sessions.AssignRoles(r.Context(), req.UserID, req.Roles, req.ExpiresAt, callerID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// ListUsersHandler pages through users with ?offset=&limit=.
func (s *Server) ListUsersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, err1 := queryInt(r, "offset")
		limit, err2 := queryInt(r, "limit")
		if err1 != nil || err2 != nil {
			writeJSON(w, http.StatusBadRequest, auth.Failed(msgValidationFailed, msgInvalidPaging))
			return
		}
		infos, err := s.sessions.ListUsers(r.Context(), offset, limit)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, infos)
	}
}

// SetActiveHandler activates or deactivates the user named in the path.
func (s *Server) SetActiveHandler(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := UserIDFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, messageResponse{Message: msgMissingUserIdentity})
			return
		}
		userID := r.PathValue("id")
		if !active && userID == callerID {
			writeJSON(w, http.StatusBadRequest, messageResponse{Message: msgCannotDeactivate})
			return
		}
		revoked, err := s.sessions.SetUserActive(r.Context(), userID, active)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		msg := msgUserActivated
		if !active {
			msg = msgUserDeactivated
		}
		writeJSON(w, http.StatusOK, setActiveResponse{Message: msg, Revoked: revoked})
	}
}

// UserSessionsHandler lists the refresh tokens of a user. Token values are
// truncated.
func (s *Server) UserSessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := s.sessions.ListSessions(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
