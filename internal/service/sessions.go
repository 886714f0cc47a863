package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/cache"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/observability"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// LedgerFactory binds the ledger API to one bearer token.
type LedgerFactory func(token string) port.Ledger

// SessionManager keeps one Session per user. Idle sessions are dropped by a
// scheduled sweep and their cached state is discarded.
type SessionManager struct {
	sessions  *cache.Expiring[*Session]
	newLedger LedgerFactory
	cfg       SessionConfig
	jwtSecret []byte
	notifier  port.Notifier
	metrics   *observability.Metrics
	logger    *zap.Logger
	cron      *cron.Cron
	opts      []cache.Option
}

// NewSessionManager creates a session manager.
func NewSessionManager(
	newLedger LedgerFactory,
	cfg SessionConfig,
	idleTTL time.Duration,
	jwtSecret string,
	notifier port.Notifier,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ...cache.Option,
) *SessionManager {
	m := &SessionManager{
		newLedger: newLedger,
		cfg:       cfg,
		jwtSecret: []byte(jwtSecret),
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger,
		cron:      cron.New(),
		opts:      opts,
	}
	m.sessions = cache.NewExpiring(idleTTL, func(userID string, s *Session) {
		s.Close()
		m.logger.Info("session ended", zap.String("user_id", userID))
	})
	// A session with a submission in flight holds the processing slot, so it
	// outlives End and Sweep until the submission settles.
	m.sessions.SetEvictable((*Session).retire)
	return m
}

// SessionClaims are the claims of a session token. Subject is the user uuid.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// Authenticate validates a session token and returns the user id.
func (m *SessionManager) Authenticate(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil {
		return "", &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return "", &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", &domain.ErrUnauthorized{Message: "token subject is not a user id"}
	}
	return claims.Subject, nil
}

// Open returns the session of the token's user, creating it on first use.
// The token is forwarded to the ledger for every later call.
func (m *SessionManager) Open(ctx context.Context, token string) (*Session, error) {
	_, span := tracer.Start(ctx, "SessionManager.Open")
	defer span.End()

	userID, err := m.Authenticate(token)
	if err != nil {
		return nil, err
	}

	s, created := m.sessions.GetOrCreate(userID, func() *Session {
		return NewSession(userID, m.newLedger(token), m.cfg, m.notifier, m.metrics, m.logger, m.opts...)
	})
	if created {
		m.logger.Info("session started", zap.String("user_id", userID))
		m.metrics.SetActiveSessions(m.sessions.Len())
	} else {
		s.setToken(token)
	}
	return s, nil
}

// End discards the session of userID, e.g. on logout. A session with a
// submission in flight loses its cached state at once but stays registered
// until the submission settles.
func (m *SessionManager) End(userID string) {
	if !m.sessions.Delete(userID) {
		if s, ok := m.sessions.Get(userID); ok {
			s.Close()
			m.logger.Info("session kept until submissions settle", zap.String("user_id", userID))
		}
	}
	m.metrics.SetActiveSessions(m.sessions.Len())
}

// Drain waits for the in-flight submissions of every live session to settle,
// or for ctx to end.
func (m *SessionManager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		for _, s := range m.sessions.Values() {
			s.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep drops idle sessions and returns how many were dropped.
func (m *SessionManager) Sweep() int {
	n := m.sessions.Sweep()
	m.metrics.SetActiveSessions(m.sessions.Len())
	return n
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	return m.sessions.Len()
}

// Start schedules Sweep on spec (robfig/cron syntax, e.g. "@every 1m").
func (m *SessionManager) Start(spec string) error {
	if _, err := m.cron.AddFunc(spec, func() {
		if n := m.Sweep(); n > 0 {
			m.logger.Info("idle sessions swept", zap.Int("count", n))
		}
	}); err != nil {
		return fmt.Errorf("register session sweep: %w", err)
	}
	m.cron.Start()
	m.logger.Info("session sweeper started", zap.String("schedule", spec))
	return nil
}

// Stop halts the sweeper and waits for a running sweep to finish.
func (m *SessionManager) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info("session sweeper stopped")
}
