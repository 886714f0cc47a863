// Package client implements the fetchers: stateless request/response calls
// against the remote ledger API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/observability"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/resilience"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("client")

// envelope is the ledger's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// LedgerClient holds the transport shared by every session: HTTP client,
// circuit breaker and bulkhead. It carries no user state.
type LedgerClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewLedgerClient creates a new LedgerClient.
func NewLedgerClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *LedgerClient {
	return &LedgerClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
		metrics:    metrics,
		logger:     logger,
	}
}

// CircuitState reports the ledger circuit breaker state: closed, half-open or open.
func (c *LedgerClient) CircuitState() string {
	return c.cb.State().String()
}

// Session binds the client to one user's bearer token. It implements port.Ledger.
func (c *LedgerClient) Session(token string) *LedgerSession {
	return &LedgerSession{client: c, token: token}
}

// LedgerSession is the ledger API seen through one user's credentials.
type LedgerSession struct {
	client *LedgerClient

	mu    sync.RWMutex
	token string
}

// SetToken replaces the bearer token, e.g. after the UI refreshed it.
func (s *LedgerSession) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *LedgerSession) bearer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// call performs one request through the circuit breaker. 4xx answers are
// marked permanent: retrying them cannot help and they do not trip the breaker.
func (s *LedgerSession) call(ctx context.Context, operation, method, path string, idempotencyKey string, body, out any) (string, error) {
	ctx, span := tracer.Start(ctx, "LedgerClient."+operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("ledger.path", path),
	)

	c := s.client
	result, err := c.cb.Execute(func() (any, error) {
		if err := c.bulkhead.Acquire(ctx); err != nil {
			return nil, resilience.Permanent(err)
		}
		defer c.bulkhead.Release()

		msg, err := s.do(ctx, method, path, idempotencyKey, body, out)
		return msg, err
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = resilience.Permanent(&domain.ErrCircuitOpen{Service: "ledger"})
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.IncrLedgerError(operation)
		c.logger.Warn("ledger call failed",
			zap.String("operation", operation),
			zap.String("path", path),
			zap.Error(err),
		)
		return "", err
	}

	return result.(string), nil
}

func (s *LedgerSession) do(ctx context.Context, method, path, idempotencyKey string, body, out any) (string, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return "", resilience.Permanent(err)
		}
		reader = bytes.NewReader(raw)
	}

	url := fmt.Sprintf("%s/%s", s.client.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return "", resilience.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := s.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (decodeErr == nil && !env.Success) {
		upstream := &domain.ErrUpstream{Status: resp.StatusCode, Message: env.message()}
		if resp.StatusCode == http.StatusUnauthorized {
			return "", resilience.Permanent(&domain.ErrUnauthorized{Message: env.message()})
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", resilience.Permanent(upstream)
		}
		if resp.StatusCode < 300 {
			// 2xx with success=false is a business rejection.
			return "", resilience.Permanent(upstream)
		}
		return "", upstream
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode ledger response: %w", decodeErr)
	}

	if out != nil {
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return "", fmt.Errorf("ledger response for %s has no data", path)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("decode ledger data: %w", err)
		}
	}
	return env.Message, nil
}

func (e envelope) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// ============================================================
// Reads
// ============================================================

// GetAccount fetches the account snapshot (GET account).
func (s *LedgerSession) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) {
	var snap domain.AccountSnapshot
	if _, err := s.call(ctx, "GetAccount", http.MethodGet, "account", "", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// UpdateAccount patches the account and returns the full new snapshot.
func (s *LedgerSession) UpdateAccount(ctx context.Context, patch domain.AccountPatch) (*domain.AccountSnapshot, string, error) {
	var snap domain.AccountSnapshot
	msg, err := s.call(ctx, "UpdateAccount", http.MethodPatch, "account", "", patch, &snap)
	if err != nil {
		return nil, "", err
	}
	return &snap, msg, nil
}

// ListMemberships fetches the membership catalog.
func (s *LedgerSession) ListMemberships(ctx context.Context) (*domain.MembershipCatalog, error) {
	var catalog domain.MembershipCatalog
	if _, err := s.call(ctx, "ListMemberships", http.MethodGet, "memberships", "", nil, &catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// GetMyMembership fetches the user's membership, subscription and daily progress.
func (s *LedgerSession) GetMyMembership(ctx context.Context) (*domain.MyMembership, error) {
	var mine domain.MyMembership
	if _, err := s.call(ctx, "GetMyMembership", http.MethodGet, "memberships/my-membership", "", nil, &mine); err != nil {
		return nil, err
	}
	return &mine, nil
}

// ============================================================
// Mutations (never retried)
// ============================================================

// SubmitWithdrawal posts a withdrawal.
func (s *LedgerSession) SubmitWithdrawal(ctx context.Context, requestID uuid.UUID, w domain.WithdrawalSubmission) (*domain.LedgerReceipt, error) {
	msg, err := s.call(ctx, "SubmitWithdrawal", http.MethodPost, "withdrawal", requestID.String(), w, nil)
	if err != nil {
		return nil, err
	}
	return &domain.LedgerReceipt{Message: msg}, nil
}

// SubmitRecharge posts a recharge and returns the deposit instructions.
func (s *LedgerSession) SubmitRecharge(ctx context.Context, requestID uuid.UUID, r domain.RechargeSubmission) (*domain.LedgerReceipt, error) {
	var instr domain.RechargeInstructions
	msg, err := s.call(ctx, "SubmitRecharge", http.MethodPost, "recharge", requestID.String(), r, &instr)
	if err != nil {
		return nil, err
	}
	return &domain.LedgerReceipt{Message: msg, Recharge: &instr}, nil
}

// PurchaseMembership posts a membership purchase.
func (s *LedgerSession) PurchaseMembership(ctx context.Context, requestID uuid.UUID, p domain.PurchaseSubmission) (*domain.LedgerReceipt, error) {
	msg, err := s.call(ctx, "PurchaseMembership", http.MethodPost, "memberships/purchase", requestID.String(), p, nil)
	if err != nil {
		return nil, err
	}
	return &domain.LedgerReceipt{Message: msg}, nil
}
