package common

// HTTP header names shared by the transport and its tests.
const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
	SharePasswordHeader = "X-Share-Password"
	FilenameHeader      = "X-Filename"
	RequestIDHeader     = "X-Request-ID"
)
