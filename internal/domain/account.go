package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Account
// ============================================================

// AccountSnapshot is the ledger's view of the user's account at one point in time.
// It is always replaced wholesale, never patched field by field.
type AccountSnapshot struct {
	Balance          decimal.Decimal `json:"balance"`
	TotalBonus       decimal.Decimal `json:"total_bonus"`
	TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	ReferralIncome   decimal.Decimal `json:"referral_income"`
	TotalEarned      decimal.Decimal `json:"total_earned"`
	IsActive         bool            `json:"is_active"`
	LastActivity     *time.Time      `json:"last_activity,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// AccountPatch holds the fields a user may change through PATCH account.
// Nil fields are left untouched by the ledger.
type AccountPatch struct {
	IsActive *bool `json:"is_active,omitempty"`
}

// ============================================================
// Derivations
// ============================================================

// IncomeBreakdown splits total earnings by source.
// When Inconsistent is true, Tasks is null and must not be displayed.
type IncomeBreakdown struct {
	Referral     decimal.Decimal     `json:"referral"`
	Tasks        decimal.NullDecimal `json:"tasks"`
	Bonuses      decimal.Decimal     `json:"bonuses"`
	Inconsistent bool                `json:"inconsistent"`
}

// IncomeBreakdownOf derives the income split from a snapshot.
// Task income is total earned minus referral income; a negative result is
// reported as ErrDataIntegrity and never clamped.
func IncomeBreakdownOf(s AccountSnapshot) (IncomeBreakdown, error) {
	b := IncomeBreakdown{
		Referral: s.ReferralIncome,
		Bonuses:  s.TotalBonus,
	}

	if s.ReferralIncome.IsNegative() {
		b.Inconsistent = true
		return b, &ErrDataIntegrity{
			Field:  "referral_income",
			Detail: "referral income " + s.ReferralIncome.String() + " is negative",
		}
	}

	tasks := s.TotalEarned.Sub(s.ReferralIncome)
	if tasks.IsNegative() {
		b.Inconsistent = true
		return b, &ErrDataIntegrity{
			Field: "total_earned",
			Detail: "referral income " + s.ReferralIncome.String() +
				" exceeds total earned " + s.TotalEarned.String(),
		}
	}

	b.Tasks = decimal.NewNullDecimal(tasks)
	return b, nil
}

// CanAfford reports whether the balance covers price, compared exactly.
func CanAfford(s AccountSnapshot, price decimal.Decimal) bool {
	return s.Balance.GreaterThanOrEqual(price)
}

// RemainingToAfford is how much more balance is needed to pay price, never negative.
func RemainingToAfford(s AccountSnapshot, price decimal.Decimal) decimal.Decimal {
	return decimal.Max(price.Sub(s.Balance), decimal.Zero)
}
