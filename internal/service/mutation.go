package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/guard"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/cache"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ============================================================
// Mutation lifecycle: idle -> submitting -> settled
// ============================================================

var kindTitles = map[domain.MovementKind]string{
	domain.KindWithdraw: "Withdrawal",
	domain.KindRecharge: "Recharge",
	domain.KindPurchase: "Membership purchase",
}

var fallbackMessages = map[domain.MovementKind]string{
	domain.KindWithdraw: "Failed to submit withdrawal request. Please try again.",
	domain.KindRecharge: "Failed to submit recharge request. Please try again.",
	domain.KindPurchase: "Failed to purchase membership. Please try again.",
}

var successMessages = map[domain.MovementKind]string{
	domain.KindWithdraw: "Withdrawal request submitted successfully",
	domain.KindRecharge: "Recharge request submitted successfully",
	domain.KindPurchase: "Membership purchased successfully",
}

type submission struct {
	req         *domain.MoneyMovementRequest
	verdict     guard.Verdict
	send        func(ctx context.Context) (*domain.LedgerReceipt, error)
	invalidates []cache.Key
}

// begin takes the per-kind processing slot.
func (s *Session) begin(req *domain.MoneyMovementRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retired {
		return &domain.ErrUnauthorized{Message: "session ended"}
	}
	if _, busy := s.processing[req.Kind]; busy {
		return &domain.ErrProcessing{Kind: req.Kind}
	}
	s.processing[req.Kind] = req.ID
	return nil
}

func (s *Session) end(kind domain.MovementKind) {
	s.mu.Lock()
	delete(s.processing, kind)
	s.mu.Unlock()
}

// Processing reports whether a submission of kind is in flight.
func (s *Session) Processing(kind domain.MovementKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.processing[kind]
	return busy
}

func (s *Session) rejected(req *domain.MoneyMovementRequest, v guard.Verdict) error {
	s.end(req.Kind)
	s.metrics.IncrGuardRejection(string(req.Kind), v.Code)
	s.logger.Debug("submission rejected by guard",
		zap.String("kind", string(req.Kind)),
		zap.String("code", v.Code),
		zap.String("reason", v.Reason),
	)
	return v.Err()
}

// submit sends an accepted request. The send and the settlement run on a
// context detached from the caller: when ctx ends first the caller gets
// ctx.Err() while the request still settles in the background.
func (s *Session) submit(ctx context.Context, sub submission) (*domain.Settlement, error) {
	type outcome struct {
		settlement *domain.Settlement
		err        error
	}
	done := make(chan outcome, 1)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		st, err := s.settle(context.WithoutCancel(ctx), sub)
		s.end(sub.req.Kind)
		done <- outcome{st, err}
	}()

	select {
	case o := <-done:
		return o.settlement, o.err
	case <-ctx.Done():
		s.logger.Info("caller left before settlement",
			zap.String("kind", string(sub.req.Kind)),
			zap.String("request_id", sub.req.ID.String()),
		)
		return nil, ctx.Err()
	}
}

func (s *Session) settle(ctx context.Context, sub submission) (*domain.Settlement, error) {
	kind := sub.req.Kind
	ctx, span := tracer.Start(ctx, "Session.settle")
	defer span.End()
	span.SetAttributes(
		attribute.String("movement.kind", string(kind)),
		attribute.String("movement.request_id", sub.req.ID.String()),
	)

	s.logger.Info("submission started",
		zap.String("kind", string(kind)),
		zap.String("request_id", sub.req.ID.String()),
		zap.String("state", string(domain.StateSubmitting)),
		zap.String("amount", sub.verdict.Amount.String()),
		zap.Bool("stale_balance", sub.verdict.StaleBalance),
	)

	start := time.Now()
	receipt, err := sub.send(ctx)
	s.metrics.RecordRequestDuration("submit_"+string(kind), time.Since(start))

	st := &domain.Settlement{
		RequestID:    sub.req.ID,
		Kind:         kind,
		StaleBalance: sub.verdict.StaleBalance,
		Free:         sub.verdict.Free,
	}

	if err != nil {
		st.State = domain.StateFailed
		st.Message = failureMessage(kind, err)
		s.metrics.IncrSettlement(string(kind), "failure")
		s.logger.Warn("submission failed",
			zap.String("kind", string(kind)),
			zap.String("request_id", sub.req.ID.String()),
			zap.Error(err),
		)
		s.notifier.Notify(ctx, port.Notification{
			UserID:  s.userID,
			Level:   "error",
			Title:   kindTitles[kind] + " failed",
			Message: st.Message,
		})
		return st, &domain.ErrSubmission{Kind: kind, Message: st.Message, Err: err}
	}

	for _, key := range sub.invalidates {
		s.store.Invalidate(key)
		st.Invalidated = append(st.Invalidated, string(key))
	}

	st.State = domain.StateSucceeded
	st.Message = receipt.Message
	if st.Message == "" {
		st.Message = successMessages[kind]
	}
	st.Recharge = receipt.Recharge

	s.metrics.IncrSettlement(string(kind), "success")
	s.logger.Info("submission settled",
		zap.String("kind", string(kind)),
		zap.String("request_id", sub.req.ID.String()),
		zap.Strings("invalidated", st.Invalidated),
	)
	s.notifier.Notify(ctx, port.Notification{
		UserID:  s.userID,
		Level:   "success",
		Title:   kindTitles[kind],
		Message: st.Message,
	})
	return st, nil
}

// failureMessage is the server's own message when it sent one.
func failureMessage(kind domain.MovementKind, err error) string {
	var upstream *domain.ErrUpstream
	if errors.As(err, &upstream) && upstream.Message != "" {
		return upstream.Message
	}
	return fallbackMessages[kind]
}

// ============================================================
// Withdraw
// ============================================================

// CheckWithdrawal runs the amount step of a withdrawal. The method does not
// affect the verdict.
func (s *Session) CheckWithdrawal(ctx context.Context, amount, method string) (*WithdrawalCheck, error) {
	ctx, span := tracer.Start(ctx, "Session.CheckWithdrawal")
	defer span.End()

	view, err := s.balanceView(ctx)
	if err != nil {
		return nil, err
	}
	v := s.guards.WithdrawAmount(view, amount)
	if !v.OK() {
		s.metrics.IncrGuardRejection(string(domain.KindWithdraw), v.Code)
		return nil, v.Err()
	}
	return &WithdrawalCheck{
		Amount:       v.Amount,
		Method:       method,
		Balance:      view.Snapshot.Balance,
		StaleBalance: v.StaleBalance,
	}, nil
}

// Withdraw validates and submits a withdrawal. On success the account is
// invalidated; on failure the cache is left untouched.
func (s *Session) Withdraw(ctx context.Context, req *domain.MoneyMovementRequest) (*domain.Settlement, error) {
	ctx, span := tracer.Start(ctx, "Session.Withdraw")
	defer span.End()

	if err := s.begin(req); err != nil {
		return nil, err
	}

	view, err := s.balanceView(ctx)
	if err != nil {
		s.end(req.Kind)
		return nil, err
	}
	v := s.guards.Withdraw(view, req)
	if !v.OK() {
		return nil, s.rejected(req, v)
	}

	body := domain.WithdrawalSubmission{
		Amount:        v.Amount,
		Platform:      req.Method,
		PicturePath:   req.PicturePath,
		WalletAddress: strings.TrimSpace(req.WalletAddress),
	}
	return s.submit(ctx, submission{
		req:     req,
		verdict: v,
		send: func(ctx context.Context) (*domain.LedgerReceipt, error) {
			return s.ledger.SubmitWithdrawal(ctx, req.ID, body)
		},
		invalidates: []cache.Key{cache.KeyAccount},
	})
}

// ============================================================
// Recharge
// ============================================================

// Recharge validates and submits a top-up. The ledger answers with deposit
// instructions.
func (s *Session) Recharge(ctx context.Context, req *domain.MoneyMovementRequest) (*domain.Settlement, error) {
	ctx, span := tracer.Start(ctx, "Session.Recharge")
	defer span.End()

	if err := s.begin(req); err != nil {
		return nil, err
	}

	v := s.guards.Recharge(req.Amount)
	if !v.OK() {
		return nil, s.rejected(req, v)
	}

	body := domain.RechargeSubmission{Amount: v.Amount, Platform: req.Method}
	return s.submit(ctx, submission{
		req:     req,
		verdict: v,
		send: func(ctx context.Context) (*domain.LedgerReceipt, error) {
			return s.ledger.SubmitRecharge(ctx, req.ID, body)
		},
		invalidates: []cache.Key{cache.KeyAccount},
	})
}

// ============================================================
// Membership purchase
// ============================================================

// PurchaseMembership validates and submits a purchase. Buying the current
// membership settles as unchanged without any ledger call.
func (s *Session) PurchaseMembership(ctx context.Context, req *domain.MoneyMovementRequest) (*domain.Settlement, error) {
	ctx, span := tracer.Start(ctx, "Session.PurchaseMembership")
	defer span.End()
	span.SetAttributes(attribute.Int64("membership.id", req.MembershipID))

	if err := s.begin(req); err != nil {
		return nil, err
	}

	pc, err := s.purchaseContext(ctx, req.MembershipID)
	if err != nil {
		s.end(req.Kind)
		return nil, err
	}

	// The balance is only read for a priced offer that is neither current
	// nor unavailable.
	v, decided := s.guards.PurchaseOffer(pc)
	if !decided {
		view, err := s.balanceView(ctx)
		if err != nil {
			s.end(req.Kind)
			return nil, err
		}
		v = s.guards.Purchase(view, pc)
	}
	switch v.Outcome {
	case guard.NoOp:
		s.end(req.Kind)
		s.metrics.IncrSettlement(string(req.Kind), "noop")
		s.logger.Info("purchase skipped, membership already current",
			zap.Int64("membership_id", req.MembershipID),
		)
		return &domain.Settlement{
			RequestID: req.ID,
			Kind:      req.Kind,
			State:     domain.StateUnchanged,
			Message:   v.Reason,
		}, nil
	case guard.Reject:
		return nil, s.rejected(req, v)
	}

	body := domain.PurchaseSubmission{
		UserUUID:       s.userID,
		MembershipID:   pc.Offer.ID,
		MembershipName: pc.Offer.Name,
	}
	return s.submit(ctx, submission{
		req:     req,
		verdict: v,
		send: func(ctx context.Context) (*domain.LedgerReceipt, error) {
			return s.ledger.PurchaseMembership(ctx, req.ID, body)
		},
		invalidates: []cache.Key{cache.KeyAccount, cache.KeyMyMembership},
	})
}

func (s *Session) purchaseContext(ctx context.Context, membershipID int64) (guard.PurchaseContext, error) {
	var pc guard.PurchaseContext

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		catalog, _, err := cache.Get[*domain.MembershipCatalog](gCtx, s.store, cache.KeyMemberships)
		if err != nil {
			return fmt.Errorf("memberships: %w", err)
		}
		pc.Offer, pc.Found = catalog.Find(membershipID)
		return nil
	})
	g.Go(func() error {
		mine, _, err := cache.Get[*domain.MyMembership](gCtx, s.store, cache.KeyMyMembership)
		if err != nil {
			return fmt.Errorf("my membership: %w", err)
		}
		pc.CurrentID, pc.HasCurrent = mine.CurrentID()
		return nil
	})

	if err := g.Wait(); err != nil {
		return guard.PurchaseContext{}, err
	}
	return pc, nil
}

// ============================================================
// Account update
// ============================================================

// UpdateAccount patches the account. The returned snapshot replaces the
// cached one wholesale.
func (s *Session) UpdateAccount(ctx context.Context, patch domain.AccountPatch) (*AccountView, string, error) {
	ctx, span := tracer.Start(ctx, "Session.UpdateAccount")
	defer span.End()

	snap, msg, err := s.ledger.UpdateAccount(ctx, patch)
	if err != nil {
		return nil, "", fmt.Errorf("update account: %w", err)
	}
	s.store.Write(cache.KeyAccount, snap)

	e, _ := s.store.Peek(cache.KeyAccount)
	return s.accountView(snap, cache.Result{FetchedAt: e.FetchedAt}), msg, nil
}
