package handler

import (
	"net/http"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Account Handlers
// ============================================================

func getAccountHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/account")
		defer span.End()

		view, err := SessionFromContext(ctx).Account(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

type patchAccountResponse struct {
	Message string `json:"message,omitempty"`
	*service.AccountView
}

func patchAccountHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/account")
		defer span.End()

		var patch domain.AccountPatch
		if err := decodeJSON(r, &patch); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if patch.IsActive == nil {
			handleServiceError(w, &domain.ErrValidation{
				Field: "is_active", Code: "nothing_to_update", Message: "no updatable field provided",
			}, logger)
			return
		}

		view, msg, err := SessionFromContext(ctx).UpdateAccount(ctx, patch)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, patchAccountResponse{Message: msg, AccountView: view})
	}
}

func dashboardHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard")
		defer span.End()

		view, err := SessionFromContext(ctx).Dashboard(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}
