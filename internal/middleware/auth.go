package middleware

import (
	"crypto/subtle"
	"net/http"

	svcerrors "github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/errors"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/httputil"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/logging"
)

// RequireBearer rejects requests whose bearer token differs from token. An
// empty token disables the check.
func RequireBearer(token string, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := httputil.BearerToken(r)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				logger.LogSecurityEvent(r.Context(), "unauthorized", map[string]interface{}{
					"ip":   ClientIP(r),
					"path": r.URL.Path,
				})
				httputil.WriteError(w, r, svcerrors.Unauthorized("Unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
