// Package service provides the business logic layer (use cases).
// A Session owns one user's cached financial state: reads go through the
// cache store, derivations are applied on the way out, and money movements
// are validated by the guards before anything reaches the ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/guard"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/cache"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/observability"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/wallet")

// SessionConfig is shared by every session.
type SessionConfig struct {
	AccountFreshFor      time.Duration
	MembershipsFreshFor  time.Duration
	MyMembershipFreshFor time.Duration
	MaxRetries           int
	InitialBackoff       time.Duration
	Limits               guard.Limits
}

// Session is one user's view of the ledger.
type Session struct {
	userID   string
	ledger   port.Ledger
	store    *cache.Store
	guards   *guard.Guards
	notifier port.Notifier
	metrics  *observability.Metrics
	logger   *zap.Logger

	mu         sync.Mutex
	processing map[domain.MovementKind]uuid.UUID
	retired    bool
	inflight   sync.WaitGroup
}

// NewSession creates a session with an empty cache.
func NewSession(
	userID string,
	ledger port.Ledger,
	cfg SessionConfig,
	notifier port.Notifier,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ...cache.Option,
) *Session {
	policy := func(freshFor time.Duration, fetch cache.FetchFunc) cache.Policy {
		return cache.Policy{
			FreshFor:       freshFor,
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			Fetch:          fetch,
		}
	}

	logger = logger.With(zap.String("user_id", userID))
	store := cache.NewStore(map[cache.Key]cache.Policy{
		cache.KeyAccount: policy(cfg.AccountFreshFor, func(ctx context.Context) (any, error) {
			return ledger.GetAccount(ctx)
		}),
		cache.KeyMemberships: policy(cfg.MembershipsFreshFor, func(ctx context.Context) (any, error) {
			return ledger.ListMemberships(ctx)
		}),
		cache.KeyMyMembership: policy(cfg.MyMembershipFreshFor, func(ctx context.Context) (any, error) {
			mine, err := ledger.GetMyMembership(ctx)
			if noMembership(err) {
				// A 404 is the ledger's answer, not a failure: it replaces
				// whatever membership was cached before.
				return &domain.MyMembership{}, nil
			}
			return mine, err
		}),
	}, metrics, logger, opts...)

	return &Session{
		userID:     userID,
		ledger:     ledger,
		store:      store,
		guards:     guard.New(cfg.Limits),
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger,
		processing: make(map[domain.MovementKind]uuid.UUID),
	}
}

// UserID returns the owner of the session.
func (s *Session) UserID() string {
	return s.userID
}

// Wait blocks until every submission started by this session has settled.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// retire marks the session as ended unless a submission is in flight.
// A retired session accepts no new submissions.
func (s *Session) retire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.processing) > 0 {
		return false
	}
	s.retired = true
	return true
}

// Close discards the cached state.
func (s *Session) Close() {
	s.store.Clear()
}

func (s *Session) setToken(token string) {
	if ts, ok := s.ledger.(interface{ SetToken(string) }); ok {
		ts.SetToken(token)
	}
}

// ============================================================
// Reads
// ============================================================

// Account returns the account snapshot with its income breakdown.
func (s *Session) Account(ctx context.Context) (*AccountView, error) {
	ctx, span := tracer.Start(ctx, "Session.Account")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("account", time.Since(start)) }()

	snap, res, err := cache.Get[*domain.AccountSnapshot](ctx, s.store, cache.KeyAccount)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	span.SetAttributes(attribute.Bool("cache.stale", res.Stale))
	return s.accountView(snap, res), nil
}

func (s *Session) accountView(snap *domain.AccountSnapshot, res cache.Result) *AccountView {
	income, err := domain.IncomeBreakdownOf(*snap)
	v := &AccountView{
		Account:   snap,
		Income:    income,
		Freshness: freshnessOf(res, s.store.Now()),
	}
	if err != nil {
		var integrity *domain.ErrDataIntegrity
		if errors.As(err, &integrity) {
			s.logger.Error("account snapshot violates earnings invariant",
				zap.String("field", integrity.Field),
				zap.String("detail", integrity.Detail),
			)
		}
		v.IntegrityError = err.Error()
	}
	return v
}

// Memberships returns the catalog, marking the current offer and, when an
// account snapshot is cached, whether each offer is affordable.
func (s *Session) Memberships(ctx context.Context) (*MembershipsView, error) {
	ctx, span := tracer.Start(ctx, "Session.Memberships")
	defer span.End()

	catalog, res, err := cache.Get[*domain.MembershipCatalog](ctx, s.store, cache.KeyMemberships)
	if err != nil {
		return nil, fmt.Errorf("memberships: %w", err)
	}

	var currentID int64
	hasCurrent := false
	if mine, _, ok := cache.PeekAs[*domain.MyMembership](s.store, cache.KeyMyMembership); ok && mine != nil {
		currentID, hasCurrent = mine.CurrentID()
	}
	snap, _, hasSnap := cache.PeekAs[*domain.AccountSnapshot](s.store, cache.KeyAccount)

	view := &MembershipsView{
		Memberships:      make([]OfferView, 0, len(catalog.Memberships)),
		TotalMemberships: catalog.TotalMemberships,
		Freshness:        freshnessOf(res, s.store.Now()),
	}
	for _, offer := range catalog.Memberships {
		ov := OfferView{
			MembershipOffer: offer,
			Current:         hasCurrent && offer.ID == currentID,
		}
		if hasSnap && snap != nil {
			can := offer.IsFree() || domain.CanAfford(*snap, offer.Price)
			remaining := domain.RemainingToAfford(*snap, offer.Price)
			ov.CanAfford = &can
			ov.Remaining = &remaining
		}
		view.Memberships = append(view.Memberships, ov)
	}
	return view, nil
}

// MyMembership returns the user's membership and daily progress.
func (s *Session) MyMembership(ctx context.Context) (*MyMembershipView, error) {
	ctx, span := tracer.Start(ctx, "Session.MyMembership")
	defer span.End()

	mine, res, err := cache.Get[*domain.MyMembership](ctx, s.store, cache.KeyMyMembership)
	if err != nil {
		return nil, fmt.Errorf("my membership: %w", err)
	}

	view := &MyMembershipView{Freshness: freshnessOf(res, s.store.Now())}
	if mine.Held() {
		view.MyMembership = mine
	}
	if id, ok := mine.CurrentID(); ok {
		view.CurrentID = &id
	}
	return view, nil
}

// Dashboard reads the account and the membership concurrently.
func (s *Session) Dashboard(ctx context.Context) (*DashboardView, error) {
	ctx, span := tracer.Start(ctx, "Session.Dashboard")
	defer span.End()

	var view DashboardView
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a, err := s.Account(gCtx)
		if err != nil {
			return err
		}
		view.Account = a
		return nil
	})

	g.Go(func() error {
		m, err := s.MyMembership(gCtx)
		if err != nil {
			return err
		}
		view.Membership = m
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &view, nil
}

// Affordability reports whether the cached balance covers membership id.
func (s *Session) Affordability(ctx context.Context, membershipID int64) (*Affordability, error) {
	ctx, span := tracer.Start(ctx, "Session.Affordability")
	defer span.End()
	span.SetAttributes(attribute.Int64("membership.id", membershipID))

	catalog, _, err := cache.Get[*domain.MembershipCatalog](ctx, s.store, cache.KeyMemberships)
	if err != nil {
		return nil, fmt.Errorf("memberships: %w", err)
	}
	offer, ok := catalog.Find(membershipID)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "membership", ID: fmt.Sprint(membershipID)}
	}

	view, err := s.balanceView(ctx)
	if err != nil {
		return nil, err
	}

	a := &Affordability{
		MembershipID: offer.ID,
		Name:         offer.Name,
		Price:        offer.Price,
		Balance:      view.Snapshot.Balance,
		CanAfford:    offer.IsFree() || domain.CanAfford(view.Snapshot, offer.Price),
		Remaining:    domain.RemainingToAfford(view.Snapshot, offer.Price),
		Free:         offer.IsFree(),
		StaleBalance: view.Stale || view.Age > s.guards.Limits().StaleAfter,
	}
	if mine, _, ok := cache.PeekAs[*domain.MyMembership](s.store, cache.KeyMyMembership); ok && mine != nil {
		if id, ok := mine.CurrentID(); ok && id == offer.ID {
			a.Current = true
		}
	}
	return a, nil
}

// CacheEntry exposes the raw cache entry of key, without network access.
func (s *Session) CacheEntry(key cache.Key) (cache.Entry, bool) {
	return s.store.Peek(key)
}

// balanceView is the snapshot the guards validate against. A cached snapshot
// is used as is, however old; only an absent or invalidated one is fetched.
func (s *Session) balanceView(ctx context.Context) (guard.BalanceView, error) {
	if snap, e, ok := cache.PeekAs[*domain.AccountSnapshot](s.store, cache.KeyAccount); ok && snap != nil && !e.Invalidated {
		return guard.BalanceView{
			Snapshot: *snap,
			Age:      e.Age(s.store.Now()),
			Stale:    e.LastErr != nil,
		}, nil
	}

	snap, res, err := cache.Get[*domain.AccountSnapshot](ctx, s.store, cache.KeyAccount)
	if err != nil {
		return guard.BalanceView{}, fmt.Errorf("account: %w", err)
	}
	return guard.BalanceView{
		Snapshot: *snap,
		Age:      s.store.Now().Sub(res.FetchedAt),
		Stale:    res.Stale,
	}, nil
}

// noMembership reports whether the ledger answered that the user holds no membership.
func noMembership(err error) bool {
	var upstream *domain.ErrUpstream
	return errors.As(err, &upstream) && upstream.Status == 404
}
