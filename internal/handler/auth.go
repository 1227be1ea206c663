package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const accountIDKey contextKey = "account_id"

var errUnauthorized = errors.New("missing or invalid session token")

// SessionResolver is the slice of the session cache the middleware needs.
type SessionResolver interface {
	GetSessionData(sessionID string) (map[string]interface{}, error)
}

// SessionAuth resolves the bearer token against the session cache and puts
// the owning account ID on the request context.
func SessionAuth(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				respondWithError(w, http.StatusUnauthorized, errUnauthorized, "Authentication required")
				return
			}

			sessionID := strings.TrimPrefix(header, "Bearer ")
			data, err := sessions.GetSessionData(sessionID)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, errUnauthorized, "Authentication required")
				return
			}

			accountID, ok := data["account_id"].(string)
			if !ok || accountID == "" {
				respondWithError(w, http.StatusUnauthorized, errUnauthorized, "Authentication required")
				return
			}

			ctx := context.WithValue(r.Context(), accountIDKey, accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accountIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(accountIDKey).(string); ok {
		return id
	}
	return ""
}
