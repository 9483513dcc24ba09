// ABOUTME: HTTP middleware that verifies bearer tokens on backend endpoints
// ABOUTME: Accepts the token from the Authorization header or a ?token= query parameter

package auth

import (
	"net/http"
	"strings"

	"github.com/2389/coven-desk/internal/desk"
)

// extractBearerToken returns the token and an error message (empty if ok).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// TokenFromRequest extracts the bearer token. Browsers cannot set headers on
// websocket upgrades, so a token query parameter is accepted as a fallback.
func TokenFromRequest(r *http.Request) (string, string) {
	if q := r.URL.Query().Get("token"); q != "" && r.Header.Get("Authorization") == "" {
		return q, ""
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

// Middleware verifies the request token and stores the identity in the
// request context.
func Middleware(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := TokenFromRequest(r)
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireCapability rejects requests whose identity lacks c. Must be used
// after Middleware.
func RequireCapability(c desk.Capability, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		if id == nil {
			http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
			return
		}
		if !id.HasCapability(c) {
			http.Error(w, `{"error":"`+string(c)+` capability required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
