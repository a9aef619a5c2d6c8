package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-session-auth/auth"
	"github.com/jrsteele09/go-session-auth/token"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyUserID stores the authenticated user ID
	ContextKeyUserID ContextKey = "user_id"
	// ContextKeyClaims stores parsed token claims
	ContextKeyClaims ContextKey = "claims"
)

// RequireAuth is middleware that validates a Bearer access token and puts
// its subject and claims on the request context.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			bearer, ok := bearerToken(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, auth.Failed(auth.MsgInvalidAccessToken, "missing or malformed Authorization header"))
				return
			}

			claims, err := s.tokens.Decode(bearer, token.DecodeOptions{ValidateExpiry: true})
			if err != nil {
				s.logger.Debug().Err(err).Str("client_ip", s.clientIP(r)).Msg("bearer token rejected")
				writeJSON(w, http.StatusUnauthorized, auth.Failed(auth.MsgInvalidAccessToken))
				return
			}
			if claims.Subject == "" {
				writeJSON(w, http.StatusUnauthorized, auth.Failed(auth.MsgInvalidAccessToken))
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUserID, claims.Subject)
			ctx = context.WithValue(ctx, ContextKeyClaims, claims)
			next(w, r.WithContext(ctx))
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	value := strings.TrimSpace(parts[1])
	return value, value != ""
}

// UserIDFromContext returns the subject stored by RequireAuth.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextKeyUserID).(string)
	return id, ok && id != ""
}

// ClaimsFromContext returns the access token claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (token.Claims, bool) {
	claims, ok := ctx.Value(ContextKeyClaims).(token.Claims)
	return claims, ok
}

// RequireRole rejects callers whose access token carries none of roleNames.
// It must run after RequireAuth.
func (s *Server) RequireRole(roleNames ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, messageResponse{Message: msgMissingUserIdentity})
				return
			}
			for _, name := range roleNames {
				if claims.HasRole(name) {
					next(w, r)
					return
				}
			}
			s.logger.Warn().Str("user_id", claims.Subject).Str("path", r.URL.Path).Strs("required", roleNames).Msg("role check failed")
			writeJSON(w, http.StatusForbidden, messageResponse{Message: msgForbidden})
		}
	}
}
