package domain_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestIncomeBreakdownOf_Consistent(t *testing.T) {
	cases := []struct {
		earned, referral, bonus, tasks string
	}{
		{"100.00", "30.00", "5.00", "70"},
		{"0", "0", "0", "0"},
		{"0.3", "0.1", "0", "0.2"},
		{"55.55", "55.55", "1", "0"},
	}

	for _, c := range cases {
		b, err := domain.IncomeBreakdownOf(domain.AccountSnapshot{
			TotalEarned:    d(c.earned),
			ReferralIncome: d(c.referral),
			TotalBonus:     d(c.bonus),
		})
		if err != nil {
			t.Fatalf("%+v: expected no error, got %v", c, err)
		}
		if b.Inconsistent || !b.Tasks.Valid {
			t.Fatalf("%+v: expected consistent breakdown", c)
		}
		if !b.Tasks.Decimal.Equal(d(c.tasks)) {
			t.Errorf("%+v: expected tasks %s, got %s", c, c.tasks, b.Tasks.Decimal)
		}
		if b.Referral.IsNegative() || b.Tasks.Decimal.IsNegative() || b.Bonuses.IsNegative() {
			t.Errorf("%+v: components must be non-negative", c)
		}
	}
}

func TestIncomeBreakdownOf_Inconsistent(t *testing.T) {
	b, err := domain.IncomeBreakdownOf(domain.AccountSnapshot{
		TotalEarned:    d("10.00"),
		ReferralIncome: d("10.01"),
	})

	var integrity *domain.ErrDataIntegrity
	if !errors.As(err, &integrity) {
		t.Fatalf("expected ErrDataIntegrity, got %v", err)
	}
	if !b.Inconsistent {
		t.Error("expected the inconsistency marker")
	}
	if b.Tasks.Valid {
		t.Errorf("tasks must not carry a number, got %s", b.Tasks.Decimal)
	}

	raw, _ := json.Marshal(b)
	if !strings.Contains(string(raw), `"tasks":null`) {
		t.Errorf("expected tasks to serialize as null, got %s", raw)
	}
}

func TestIncomeBreakdownOf_NegativeReferral(t *testing.T) {
	_, err := domain.IncomeBreakdownOf(domain.AccountSnapshot{
		TotalEarned:    d("10"),
		ReferralIncome: d("-1"),
	})
	var integrity *domain.ErrDataIntegrity
	if !errors.As(err, &integrity) || integrity.Field != "referral_income" {
		t.Fatalf("expected integrity error on referral_income, got %v", err)
	}
}

func TestCanAfford_ExactDecimal(t *testing.T) {
	// 0.1 + 0.2 is not 0.3 in binary floating point.
	s := domain.AccountSnapshot{Balance: d("0.1").Add(d("0.2"))}

	if !domain.CanAfford(s, d("0.3")) {
		t.Error("expected 0.1+0.2 to afford 0.3")
	}
	if domain.CanAfford(s, d("0.30000000000000001")) {
		t.Error("expected a larger price to be unaffordable")
	}
}

func TestRemainingToAfford(t *testing.T) {
	s := domain.AccountSnapshot{Balance: d("24.99")}

	if got := domain.RemainingToAfford(s, d("25.00")); !got.Equal(d("0.01")) {
		t.Errorf("expected 0.01, got %s", got)
	}
	if got := domain.RemainingToAfford(s, d("10")); !got.IsZero() {
		t.Errorf("expected 0 when affordable, got %s", got)
	}
}

func TestAccountSnapshot_DecimalStringsOnTheWire(t *testing.T) {
	var s domain.AccountSnapshot
	body := `{"balance":"1234.5678","total_bonus":"0.10","total_withdrawals":"0","referral_income":"3","total_earned":"12.01","is_active":true,"updated_at":"2026-10-01T10:00:00Z"}`
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Balance.String() != "1234.5678" {
		t.Errorf("balance lost precision: %s", s.Balance)
	}

	out, _ := json.Marshal(s)
	if !strings.Contains(string(out), `"balance":"1234.5678"`) {
		t.Errorf("expected balance as a decimal string, got %s", out)
	}
}

func TestMyMembership_CurrentID(t *testing.T) {
	m := domain.MyMembership{
		Membership:   &domain.MembershipOffer{ID: 2},
		Subscription: &domain.MembershipSubscription{MembershipID: 2, IsActive: true},
	}
	if id, ok := m.CurrentID(); !ok || id != 2 {
		t.Errorf("expected current id 2, got %d (%v)", id, ok)
	}

	expired := domain.MyMembership{
		Membership:   &domain.MembershipOffer{ID: 2},
		Subscription: &domain.MembershipSubscription{MembershipID: 2, IsActive: false},
	}
	if _, ok := expired.CurrentID(); ok {
		t.Error("an inactive subscription is not current")
	}

	if _, ok := (domain.MyMembership{}).CurrentID(); ok {
		t.Error("expected no current membership")
	}
}
