package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/service"

	"go.uber.org/zap"
)

type contextKey string

const sessionKey contextKey = "session"

// SessionMiddleware validates the Bearer token, opens the user's session and
// injects it into the request context.
func SessionMiddleware(sessions *service.SessionManager, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid token format")
				return
			}

			session, err := sessions.Open(r.Context(), parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the session opened by SessionMiddleware.
func SessionFromContext(ctx context.Context) *service.Session {
	s, _ := ctx.Value(sessionKey).(*service.Session)
	return s
}
