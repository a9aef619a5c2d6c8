package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteAPIBase = "/api/authentication"

	// Session Routes
	RouteRegister     = RouteAPIBase + "/register"
	RouteLogin        = RouteAPIBase + "/login"
	RouteRefreshToken = RouteAPIBase + "/refresh-token"
	RouteRevokeToken  = RouteAPIBase + "/revoke-token"
	RouteLogout       = RouteAPIBase + "/logout"

	// Account Routes
	RouteChangePassword = RouteAPIBase + "/change-password"
	RouteProfile        = RouteAPIBase + "/profile"

	// Admin Routes
	RouteAdminBase      = "/api/admin"
	RouteRoles          = RouteAdminBase + "/roles"
	RouteRoleUsers      = RouteRoles + "/{name}/users"
	RouteAssignRoles    = RouteRoles + "/assign"
	RouteInitRoles      = RouteRoles + "/initialize"
	RouteUsers          = RouteAdminBase + "/users"
	RouteActivateUser   = RouteUsers + "/{id}/activate"
	RouteDeactivateUser = RouteUsers + "/{id}/deactivate"
	RouteUserSessions   = RouteUsers + "/{id}/sessions"

	// CORS preflight for every API route
	RoutePreflight = "/api/{path...}"

	// Operational Routes
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
