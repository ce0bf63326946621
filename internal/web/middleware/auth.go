package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/simsync/internal/core"
)

// APIKeyAuth returns middleware that validates the X-API-Key header against
// keys, a key -> actor name map. The matching actor is stored in the
// request context. If required is false, requests without a key pass
// through anonymously; a wrong key is still rejected.
func APIKeyAuth(required bool, keys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				slog.Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				authError(w, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
				return
			}

			actor, ok := lookupAPIKey(apiKey, keys)
			if !ok {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				authError(w, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
				return
			}

			next.ServeHTTP(w, r.WithContext(core.ContextWithActor(r.Context(), actor)))
		})
	}
}

// lookupAPIKey finds the actor for key. It compares against every
// configured key in constant time so the timing does not reveal which
// key, if any, matched.
func lookupAPIKey(key string, keys map[string]string) (string, bool) {
	var actor string
	found := 0
	for valid, name := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			actor = name
			found = 1
		}
	}
	return actor, found == 1
}

func authError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
