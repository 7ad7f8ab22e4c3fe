package httpapi

import (
	"crypto/subtle"
	"net"
	"strings"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorizeBearer compares the presented bearer token with the configured API
// token. An unconfigured token rejects every request.
func authorizeBearer(authHeader, apiToken string) *authError {
	if apiToken == "" {
		return &authError{status: 401, code: "unauthorized", message: "api token not configured"}
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return &authError{
			status:  401,
			code:    "unauthorized",
			message: "missing or invalid bearer token",
		}
	}
	presented := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if subtle.ConstantTimeCompare([]byte(presented), []byte(apiToken)) != 1 {
		return &authError{status: 401, code: "unauthorized", message: "bearer token mismatch"}
	}
	return nil
}

// clientKey identifies the caller for rate limiting.
func clientKey(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
