package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-session-auth/auth"
	"github.com/jrsteele09/go-session-auth/internal/config"
	"github.com/jrsteele09/go-session-auth/token"
	"github.com/jrsteele09/go-session-auth/users"
)

// SessionService is the part of auth.SessionService the handlers call.
type SessionService interface {
	Register(ctx context.Context, reg users.Registration, clientIP string) (*auth.AuthResponse, error)
	Authenticate(ctx context.Context, email, password, clientIP string) (*auth.AuthResponse, error)
	RefreshSession(ctx context.Context, accessToken, refreshToken, clientIP string) (*auth.AuthResponse, error)
	RevokeToken(ctx context.Context, value, clientIP string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	Profile(ctx context.Context, userID string) (*auth.UserInfo, error)

	ListRoles(ctx context.Context) ([]*auth.RoleSummary, error)
	InitializeRoles(ctx context.Context) (int, error)
	UsersInRole(ctx context.Context, name string) ([]*auth.UserInfo, error)
	AssignRoles(ctx context.Context, userID string, names []string, expiresAt *time.Time, assignedBy string) (*auth.RoleAssignment, error)
	ListUsers(ctx context.Context, offset, limit int) ([]*auth.UserInfo, error)
	SetUserActive(ctx context.Context, userID string, active bool) (int64, error)
	ListSessions(ctx context.Context, userID string) ([]*auth.SessionInfo, error)
}

var _ SessionService = (*auth.SessionService)(nil)

// TokenDecoder verifies bearer access tokens.
type TokenDecoder interface {
	Decode(signed string, opts token.DecodeOptions) (token.Claims, error)
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	env          string // Environment (e.g., "DEV", "PROD")
	mux          *http.ServeMux
	routes       []string
	config       config.Config
	sessions     SessionService
	tokens       TokenDecoder
	health       HealthChecker
	gatherer     prometheus.Gatherer
	logger       zerolog.Logger
	storeTimeout time.Duration
	limiter      *ipRateLimiter
}

// ServerOption defines a function type to modify the Server instance.
type ServerOption func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

func New(cfg config.Config, sessions SessionService, tokens TokenDecoder, health HealthChecker, options ...ServerOption) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("[Server New] config is required")
	}
	if sessions == nil {
		return nil, errors.New("[Server New] session service is required")
	}
	if tokens == nil {
		return nil, errors.New("[Server New] token decoder is required")
	}
	if health == nil {
		return nil, errors.New("[Server New] health checker is required")
	}

	s := &Server{
		env:          cfg.GetEnv(),
		mux:          http.NewServeMux(),
		config:       cfg,
		sessions:     sessions,
		tokens:       tokens,
		health:       health,
		gatherer:     prometheus.DefaultGatherer,
		logger:       zerolog.Nop(),
		storeTimeout: cfg.GetStoreTimeout(),
		limiter:      newIPRateLimiter(cfg.GetRateLimitPerSecond(), cfg.GetRateLimitBurst()),
	}
	for _, option := range options {
		option(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logger.Info().Msg(routeLine(parts[0], parts[1]))
		} else {
			s.logger.Info().Msg(routeLine("", parts[0]))
		}
	}
}

func routeLine(method, path string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	return fmt.Sprintf("[%s] %s", color+paddedMethod+ResetColor, path)
}
