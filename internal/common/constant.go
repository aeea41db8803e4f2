// Package common contains shared constants and sentinel errors used across
// tunekeeper components.
package common

// Route paths shared by the auth service and the session client.
const (
	AuthPathPrefix = "/auth/"

	RegisterPath = "/auth/register"
	LoginPath    = "/auth/login"
	RefreshPath  = "/auth/refresh"
	LogoutPath   = "/auth/logout"
	MePath       = "/me"
)

// RefreshCookieName is the HTTP-only cookie carrying the refresh token. The
// cookie is scoped to RefreshPath.
const RefreshCookieName = "refreshToken"

// AuthorizationHeader and BearerPrefix describe access token transport.
const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
)
