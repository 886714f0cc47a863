package handler

import (
	"net/http"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/port"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/service"

	"go.uber.org/zap"
)

func notificationsHandler(inbox Inbox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := []port.Notification{}
		if inbox != nil {
			if drained := inbox.Drain(SessionFromContext(r.Context()).UserID()); drained != nil {
				list = drained
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
	}
}

// endSessionHandler discards the caller's cached financial state and pending
// notifications (logout).
func endSessionHandler(sessions *service.SessionManager, inbox Inbox, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := SessionFromContext(r.Context()).UserID()
		sessions.End(userID)
		if inbox != nil {
			inbox.Forget(userID)
		}
		logger.Info("session closed by user", zap.String("user_id", userID))
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "session ended"})
	}
}
