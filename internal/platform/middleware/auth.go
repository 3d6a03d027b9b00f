package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	dErrors "oaphub/pkg/domain-errors"
	"oaphub/pkg/platform/httputil"
)

// RequireCronToken gates the scheduler trigger endpoints behind a shared
// bearer token. The comparison is constant time so the token cannot be probed
// byte by byte. An empty configured token disables the endpoints entirely.
func RequireCronToken(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "job triggers are not enabled"))
				return
			}

			authHeader := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.WarnContext(r.Context(), "unauthorized job trigger",
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid scheduler token"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
