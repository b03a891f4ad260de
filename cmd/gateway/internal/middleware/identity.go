package middleware

import (
	"net"
	"net/http"
	"strings"
)

// HeaderUserID carries the caller's user id; there is no auth layer in
// front of the gateway
const HeaderUserID = "X-User-Id"

// CallerKey identifies the caller for rate limiting and idempotency:
// the user id header, then the {userId} path segment, then the client IP
func CallerKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HeaderUserID)); id != "" {
		return "user:" + id
	}
	if id := r.PathValue("userId"); id != "" {
		return "user:" + id
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return "ip:" + strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
