package auth

import (
	"encoding/json"
	"net/http"
)

// QueryParam carries the key for clients that cannot set headers, such as
// browser WebSocket connections.
const QueryParam = "api_key"

// APIKeyMiddleware enforces p on HTTP requests. The key is read from the
// policy header, falling back to the api_key query parameter. Paths listed in
// exempt (exact match) are always allowed. Failures return 401 with a JSON
// error body.
func APIKeyMiddleware(p Policy, next http.Handler, exempt ...string) http.Handler {
	if !p.Enabled() {
		return next
	}
	skip := make(map[string]bool, len(exempt))
	for _, path := range exempt {
		skip[path] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skip[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		got := r.Header.Get(p.header())
		if got == "" {
			got = r.URL.Query().Get(QueryParam)
		}
		if got == "" || !p.Valid(got) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"}) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}
