package handler

import (
	"context"
	"net/http"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Withdraw & Recharge Handlers
// ============================================================

// movementRequest is the body of the withdraw and recharge endpoints.
// Amount is kept as text so exact decimals reach the guard.
type movementRequest struct {
	Amount        string `json:"amount"`
	Method        string `json:"method"`
	WalletAddress string `json:"wallet_address"`
	PicturePath   string `json:"picture_path"`
}

func withdrawalCheckHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/withdrawals/check")
		defer span.End()

		var body movementRequest
		if err := decodeJSON(r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		check, err := SessionFromContext(ctx).CheckWithdrawal(ctx, body.Amount, body.Method)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, check)
	}
}

func withdrawHandler(logger *zap.Logger) http.HandlerFunc {
	return movementHandler(domain.KindWithdraw, (*service.Session).Withdraw, logger)
}

func rechargeHandler(logger *zap.Logger) http.HandlerFunc {
	return movementHandler(domain.KindRecharge, (*service.Session).Recharge, logger)
}

type movementFunc func(*service.Session, context.Context, *domain.MoneyMovementRequest) (*domain.Settlement, error)

func movementHandler(kind domain.MovementKind, submit movementFunc, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/"+string(kind))
		defer span.End()

		var body movementRequest
		if err := decodeJSON(r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		req := domain.NewMovement(kind)
		req.Amount = body.Amount
		req.Method = body.Method
		req.WalletAddress = body.WalletAddress
		req.PicturePath = body.PicturePath

		st, err := submit(SessionFromContext(ctx), ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, st)
	}
}
