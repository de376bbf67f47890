package control

import (
	"net/http"
	"net/url"
)

// securityHeaders strips version-revealing response headers and sets a
// generic Server header, the same hardening this codebase's dashboard
// HTTP layer applies.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "sentineld")
		w.Header().Del("X-Powered-By")
		next.ServeHTTP(w, r)
	})
}

// checkWebSocketOrigin restricts WebSocket upgrades to loopback origins,
// since the control surface is a local daemon port, not a public dashboard.
func checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return isLoopbackOrigin(origin)
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
