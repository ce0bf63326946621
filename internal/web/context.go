package web

import (
	"net/http"

	"github.com/JonMunkholm/simsync/internal/core"
)

// requestMetadata adds IP and User-Agent to the request context so
// registry changes are logged with who made them.
func requestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := core.ContextWithIPAddress(r.Context(), r.RemoteAddr) // already processed by TrustedRealIP
		ctx = core.ContextWithUserAgent(ctx, r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
