package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/observability"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/port"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

type managerFixture struct {
	manager *service.SessionManager
	ledgers []*mockLedger
}

func newManager(idleTTL time.Duration) *managerFixture {
	f := &managerFixture{}
	factory := func(token string) port.Ledger {
		l := newMockLedger("50")
		l.token = token
		f.ledgers = append(f.ledgers, l)
		return l
	}
	f.manager = service.NewSessionManager(factory, testConfig(), idleTTL, testSecret,
		&recordingNotifier{}, observability.NewMetrics(), zap.NewNop())
	return f
}

func TestAuthenticate(t *testing.T) {
	f := newManager(time.Minute)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", signToken(t, testSecret, testUser, time.Hour), false},
		{"wrong secret", signToken(t, "other", testUser, time.Hour), true},
		{"expired", signToken(t, testSecret, testUser, -time.Minute), true},
		{"subject not a uuid", signToken(t, testSecret, "alice", time.Hour), true},
		{"garbage", "not-a-jwt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := f.manager.Authenticate(tt.token)
			if tt.wantErr {
				var unauthorized *domain.ErrUnauthorized
				if !errors.As(err, &unauthorized) {
					t.Fatalf("expected ErrUnauthorized, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if userID != testUser {
				t.Errorf("expected %s, got %s", testUser, userID)
			}
		})
	}
}

func TestOpen_ReusesSessionAndRotatesToken(t *testing.T) {
	f := newManager(time.Minute)
	ctx := context.Background()

	first := signToken(t, testSecret, testUser, time.Hour)
	s1, err := f.manager.Open(ctx, first)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	second := signToken(t, testSecret, testUser, 2*time.Hour)
	s2, err := f.manager.Open(ctx, second)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if s1 != s2 {
		t.Error("expected the same session for the same user")
	}
	if len(f.ledgers) != 1 {
		t.Fatalf("expected one ledger binding, got %d", len(f.ledgers))
	}
	if f.ledgers[0].token != second {
		t.Error("expected the ledger token to be rotated")
	}
	if f.manager.Len() != 1 {
		t.Errorf("expected 1 session, got %d", f.manager.Len())
	}
}

func TestEnd_DiscardsCachedState(t *testing.T) {
	f := newManager(time.Minute)
	ctx := context.Background()
	token := signToken(t, testSecret, testUser, time.Hour)

	s, err := f.manager.Open(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Account(ctx); err != nil {
		t.Fatal(err)
	}

	f.manager.End(testUser)
	if f.manager.Len() != 0 {
		t.Errorf("expected no sessions, got %d", f.manager.Len())
	}

	s2, err := f.manager.Open(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if s2 == s {
		t.Fatal("expected a new session after End")
	}
	if _, err := s2.Account(ctx); err != nil {
		t.Fatal(err)
	}
	if f.ledgers[1].count("account") != 1 {
		t.Error("expected the new session to fetch the account again")
	}

	_, err = s.Withdraw(ctx, withdrawal("20", "TXabc"))
	var unauthorized *domain.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Errorf("expected an ended session to refuse submissions, got %v", err)
	}
}

// startWithdrawal opens a session and leaves one withdrawal blocked in the ledger.
func startWithdrawal(t *testing.T, f *managerFixture) (*service.Session, chan struct{}, chan error) {
	t.Helper()
	s, err := f.manager.Open(context.Background(), signToken(t, testSecret, testUser, time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	ledger := f.ledgers[len(f.ledgers)-1]
	gate := make(chan struct{})
	ledger.gate = gate

	result := make(chan error, 1)
	go func() {
		_, err := s.Withdraw(context.Background(), withdrawal("20", "TXabc"))
		result <- err
	}()
	waitUntil(t, func() bool { return ledger.count("withdraw") == 1 })
	return s, gate, result
}

func TestEnd_KeepsSessionWithSubmissionInFlight(t *testing.T) {
	f := newManager(time.Minute)
	s, gate, result := startWithdrawal(t, f)

	f.manager.End(testUser)
	if f.manager.Len() != 1 {
		t.Fatalf("expected the busy session to stay, got %d sessions", f.manager.Len())
	}

	again, err := f.manager.Open(context.Background(), signToken(t, testSecret, testUser, time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if again != s {
		t.Fatal("expected the same session while a withdrawal is pending")
	}
	_, err = again.Withdraw(context.Background(), withdrawal("20", "TXabc"))
	var processing *domain.ErrProcessing
	if !errors.As(err, &processing) {
		t.Fatalf("expected ErrProcessing, got %v", err)
	}

	close(gate)
	if err := <-result; err != nil {
		t.Fatalf("expected the first withdrawal to settle, got %v", err)
	}

	f.manager.End(testUser)
	if f.manager.Len() != 0 {
		t.Errorf("expected the settled session to end, got %d sessions", f.manager.Len())
	}
}

func TestSweep_KeepsSessionWithSubmissionInFlight(t *testing.T) {
	f := newManager(20 * time.Millisecond)
	_, gate, result := startWithdrawal(t, f)

	time.Sleep(50 * time.Millisecond)
	if n := f.manager.Sweep(); n != 0 {
		t.Errorf("expected the busy session to survive the sweep, got %d swept", n)
	}

	close(gate)
	if err := <-result; err != nil {
		t.Fatal(err)
	}
	if n := f.manager.Sweep(); n != 1 {
		t.Errorf("expected the settled idle session to be swept, got %d", n)
	}
}

func TestDrain_WaitsForSettlement(t *testing.T) {
	f := newManager(time.Minute)
	_, gate, result := startWithdrawal(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.manager.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected drain to time out while pending, got %v", err)
	}

	close(gate)
	if err := f.manager.Drain(context.Background()); err != nil {
		t.Fatalf("expected drain to finish, got %v", err)
	}
	if err := <-result; err != nil {
		t.Fatal(err)
	}
}

func TestSweep_DropsIdleSessions(t *testing.T) {
	f := newManager(20 * time.Millisecond)
	if _, err := f.manager.Open(context.Background(), signToken(t, testSecret, testUser, time.Hour)); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)

	if n := f.manager.Sweep(); n != 1 {
		t.Errorf("expected 1 swept session, got %d", n)
	}
	if f.manager.Len() != 0 {
		t.Errorf("expected no sessions, got %d", f.manager.Len())
	}
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	f := newManager(time.Minute)
	if err := f.manager.Start("not a schedule"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}

	if err := f.manager.Start("@every 1h"); err != nil {
		t.Fatalf("expected valid schedule, got %v", err)
	}
	f.manager.Stop()
}
