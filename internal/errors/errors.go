package errors

import "errors"

// Identity resolution errors. All four are request-fatal for the operation
// being attempted; none may be downgraded to an empty result.
var (
	// ErrNoIdentity means no usable credential exists for the requested
	// service, neither from global configuration nor from request headers.
	ErrNoIdentity = errors.New("service not configured: no usable credential")

	// ErrUnknownInstance means a request selected a named instance that has
	// no matching configuration. There is no fallback to the primary.
	ErrUnknownInstance = errors.New("unknown instance name")

	// ErrUnreadableHeader means a recognized request header was malformed
	// and could not be decoded.
	ErrUnreadableHeader = errors.New("unreadable header")
)

// Token errors.
var (
	// ErrRefreshFailed means an OAuth access token refresh failed. Callers
	// must surface this as an authentication error, never retry silently.
	ErrRefreshFailed = errors.New("OAuth token refresh failed")
)

// API errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")

	// ErrAuthentication is returned when the Atlassian API rejects the
	// credential (401/403).
	ErrAuthentication = errors.New("Atlassian authentication failed")
)
