package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const CallerContextKey contextKey = "caller_id"

// CallerHeader carries the caller's user id. It is set by the session layer
// in front of this service and trusted as-is.
const CallerHeader = "X-Caller-ID"

// Identity requires a well-formed caller id and places it in the request
// context for handlers and the access gate.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callerID := strings.TrimSpace(r.Header.Get(CallerHeader))
		if callerID == "" {
			jsonError(w, http.StatusUnauthorized, "missing caller id")
			return
		}

		id, err := uuid.Parse(callerID)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid caller id format")
			return
		}

		ctx := context.WithValue(r.Context(), CallerContextKey, id.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerID returns the caller id placed in ctx by Identity, or "".
func CallerID(ctx context.Context) string {
	id, _ := ctx.Value(CallerContextKey).(string)
	return id
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
