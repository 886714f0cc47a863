package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &domain.ErrValidation{Field: "body", Code: "invalid_json", Message: "invalid request body"}
	}
	return nil
}

func membershipIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "membershipId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ErrValidation{Field: "membership_id", Code: "invalid_id", Message: "invalid membership id"}
	}
	return id, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var validation *domain.ErrValidation
	var processing *domain.ErrProcessing
	var submission *domain.ErrSubmission
	var integrity *domain.ErrDataIntegrity
	var fetch *domain.ErrFetch
	var unauthorized *domain.ErrUnauthorized
	var upstream *domain.ErrUpstream

	switch {
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: validation.Message,
			Code:  validation.Code,
			Field: validation.Field,
		})
	case errors.As(err, &processing):
		logger.Debug("submission already in flight", zap.String("kind", string(processing.Kind)))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &submission):
		// The ledger refused the request (4xx or success=false): not a gateway fault.
		status := http.StatusBadGateway
		if errors.As(submission.Err, &upstream) && upstream.Status < 500 {
			status = http.StatusUnprocessableEntity
		}
		logger.Warn("submission failed",
			zap.String("kind", string(submission.Kind)),
			zap.Error(submission.Err),
		)
		writeJSON(w, status, errorResponse{Error: submission.Message, Code: "submission_failed"})
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &integrity):
		logger.Error("data integrity violation", zap.String("field", integrity.Field), zap.String("detail", integrity.Detail))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Code: "integrity_error", Field: integrity.Field})
	case errors.As(err, &fetch):
		logger.Error("fetch failed", zap.String("resource", fetch.Resource), zap.Int("attempts", fetch.Attempts), zap.Error(fetch.Err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Code: "fetch_failed"})
	case errors.As(err, &upstream):
		logger.Warn("ledger error", zap.Int("status", upstream.Status), zap.String("message", upstream.Message))
		status := http.StatusBadGateway
		if upstream.Status >= 400 && upstream.Status < 500 {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Info("request cancelled before settlement")
		writeError(w, http.StatusRequestTimeout, "request cancelled")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
