// Package handlers provides the REST and WebSocket handlers of the sync server.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kimhsiao/habitnexus/backend/internal/logging"
)

type ctxKey struct{}

// Authenticator maps bearer tokens to user ids.
type Authenticator struct {
	tokens map[string]string
}

// NewAuthenticator creates an Authenticator from a token -> user id map.
func NewAuthenticator(tokens map[string]string) *Authenticator {
	copied := make(map[string]string, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &Authenticator{tokens: copied}
}

// Middleware rejects requests without a bearer token (401) or with an
// unknown one (403), and stores the user id on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, known := a.tokens[strings.TrimSpace(token)]
		if !known {
			logging.Warn("Rejected unknown token", map[string]interface{}{"path": r.URL.Path})
			writeError(w, http.StatusForbidden, "unknown token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

// UserID returns the authenticated user id of r.
func UserID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err, nil)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
