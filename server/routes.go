package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jrsteele09/go-session-auth/roles"
)

func (s *Server) initRoutes() {
	// Session routes
	s.RegisterRouteHandler("POST "+RouteRegister, ChainMiddleware(s.RegisterHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware(s.RateLimitMiddleware)...))
	s.RegisterRouteHandler("POST "+RouteRefreshToken, ChainMiddleware(s.RefreshTokenHandler(), s.APIMiddleware(s.RateLimitMiddleware)...))

	// Protected routes (require a valid access token)
	s.RegisterRouteHandler("POST "+RouteRevokeToken, ChainMiddleware(s.RevokeTokenHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("POST "+RouteChangePassword, ChainMiddleware(s.ChangePasswordHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+RouteProfile, ChainMiddleware(s.ProfileHandler(), s.APIMiddleware(s.RequireAuth())...))

	// Admin routes (Employee may read, only Admin may change)
	readers := s.APIMiddleware(s.RequireAuth(), s.RequireRole(roles.Admin, roles.Employee))
	admins := s.APIMiddleware(s.RequireAuth(), s.RequireRole(roles.Admin))
	s.RegisterRouteHandler("GET "+RouteRoles, ChainMiddleware(s.ListRolesHandler(), readers...))
	s.RegisterRouteHandler("GET "+RouteRoleUsers, ChainMiddleware(s.RoleUsersHandler(), readers...))
	s.RegisterRouteHandler("GET "+RouteUsers, ChainMiddleware(s.ListUsersHandler(), readers...))
	s.RegisterRouteHandler("POST "+RouteAssignRoles, ChainMiddleware(s.AssignRolesHandler(), admins...))
	s.RegisterRouteHandler("POST "+RouteInitRoles, ChainMiddleware(s.InitializeRolesHandler(), admins...))
	s.RegisterRouteHandler("POST "+RouteActivateUser, ChainMiddleware(s.SetActiveHandler(true), admins...))
	s.RegisterRouteHandler("POST "+RouteDeactivateUser, ChainMiddleware(s.SetActiveHandler(false), admins...))
	s.RegisterRouteHandler("GET "+RouteUserSessions, ChainMiddleware(s.UserSessionsHandler(), admins...))

	// CorsMiddleware answers preflight requests itself
	s.RegisterRouteHandler("OPTIONS "+RoutePreflight, ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {}, s.CorsMiddleware))

	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}
