// Package middleware provides HTTP middleware shared across the bridge's
// transport-facing handlers.
package middleware

import "net/http"

// CORS returns middleware that allows browser-based OpenAI-API clients
// (local web UIs, browser extensions) to reach a bridge that otherwise
// only expects same-host CLI/SDK callers. allowedOrigins should stay
// scoped to the hosts actually serving such a client; unlike a public API,
// this bridge has no reason to default to "*".
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(allowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				// Authorization carries the bridge token; Content-Type covers the
				// JSON completion bodies. Credentials stay unset — auth here is a
				// bearer header, never cookies, so there's nothing to opt into.
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowedOrigins []string, origin string) bool {
	for _, o := range allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
