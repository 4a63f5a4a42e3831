// Package middleware provides the HTTP middleware stack for the API server.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
)

// envelope mirrors the api package's response wrapper for responses that
// middleware writes before a handler runs.
type envelope struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	Data        any    `json:"data"`
}

// HostChecker reports whether a client address may use the API.
type HostChecker interface {
	HostAllowed(host string) bool
}

// AccessList returns middleware that rejects clients outside the allowed
// pool with 403. The RealIP middleware should run before this so RemoteAddr
// reflects X-Forwarded-For behind a reverse proxy.
func AccessList(checker HostChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := extractIP(r)
			if !checker.HostAllowed(host) {
				slog.Debug("incoming request denied by access list",
					"host", host,
					"method", r.Method,
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(envelope{ //nolint:errcheck
					Code:        http.StatusForbidden,
					Description: "access denied by access list",
					Data:        struct{}{},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractIP returns the client IP address from the request. It uses
// RemoteAddr and strips the port.
func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
