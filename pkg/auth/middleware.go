package auth

import (
	"net/http"
	"strings"

	"biocollab/pkg/logger"
	"biocollab/pkg/utils"
)

// SecConfig holds the middleware's security settings.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
}

// Middleware enforces CORS, per-scientist rate limits, and identity
// presence for API routes, then injects the identity into the request
// context. Health and metrics endpoints pass through untouched.
func Middleware(cfg SecConfig) func(http.Handler) http.Handler {
	pool := &limiterPool{rps: cfg.RPS, burst: cfg.Burst}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && originAllowed(cfg.AllowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Scientist-Id, X-Role-Name, X-Display-Name")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			if !strings.HasPrefix(r.URL.Path, "/v1/") {
				next.ServeHTTP(w, r)
				return
			}
			id := FromHeaders(r)
			if id.ScientistID == "" {
				logger.Warn("missing_identity_header", "path", r.URL.Path, "remote", r.RemoteAddr)
				utils.JSONError(w, http.StatusUnauthorized, "scientist identity required")
				return
			}
			if !pool.Allow(id.ScientistID) {
				logger.Warn("rate_limited", "scientist", id.ScientistID, "path", r.URL.Path)
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
