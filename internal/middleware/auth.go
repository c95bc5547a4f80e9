package middleware

import (
	"net/http"
	"strings"

	"github.com/ayush/factcheck-agent/internal/auth"
)

// RequireAPIKey is middleware that validates the bearer API key and
// injects it into the request context.
func RequireAPIKey(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
				return
			}

			key, err := verifier.Verify(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithKey(r.Context(), key)))
		})
	}
}
