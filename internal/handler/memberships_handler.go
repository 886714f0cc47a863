package handler

import (
	"net/http"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Membership Handlers
// ============================================================

func listMembershipsHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/memberships")
		defer span.End()

		view, err := SessionFromContext(ctx).Memberships(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func myMembershipHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/memberships/my-membership")
		defer span.End()

		view, err := SessionFromContext(ctx).MyMembership(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func affordabilityHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/memberships/{membershipId}/affordability")
		defer span.End()

		id, err := membershipIDParam(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		a, err := SessionFromContext(ctx).Affordability(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func purchaseHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/memberships/{membershipId}/purchase")
		defer span.End()

		id, err := membershipIDParam(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		req := domain.NewMovement(domain.KindPurchase)
		req.MembershipID = id

		st, err := SessionFromContext(ctx).PurchaseMembership(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		status := http.StatusCreated
		if st.State == domain.StateUnchanged {
			status = http.StatusOK
		}
		writeJSON(w, status, st)
	}
}
