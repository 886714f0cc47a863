// Package guard validates money-moving actions before anything is sent to the
// ledger. Guards are pure: they read a cached snapshot and return a Verdict,
// leaving presentation and navigation to the caller.
package guard

import (
	"strings"
	"time"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"

	"github.com/shopspring/decimal"
)

// Outcome of a guard.
type Outcome int

const (
	Accept Outcome = iota
	Reject
	// NoOp means the action is already in effect and must not be sent.
	NoOp
)

func (o Outcome) String() string {
	switch o {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	case NoOp:
		return "noop"
	}
	return "unknown"
}

// Rejection codes.
const (
	CodeAmountRequired        = "amount_required"
	CodeAmountInvalid         = "amount_invalid"
	CodeBelowMinimum          = "below_minimum"
	CodeInsufficientBalance   = "insufficient_balance"
	CodeAddressRequired       = "address_required"
	CodeAlreadyCurrent        = "already_current"
	CodeMembershipUnavailable = "membership_unavailable"
)

// Verdict is the typed result of a guard.
type Verdict struct {
	Outcome Outcome
	Code    string
	Field   string
	Reason  string

	// Amount is the parsed amount or price the verdict was computed for.
	Amount decimal.Decimal
	// Remaining is how much balance is missing when Code is insufficient_balance.
	Remaining decimal.Decimal
	// StaleBalance discloses that the balance checked may be outdated.
	StaleBalance bool
	// Free marks the zero-cost purchase path.
	Free bool
}

// OK reports whether the action may be submitted.
func (v Verdict) OK() bool {
	return v.Outcome == Accept
}

// Err returns the rejection as *domain.ErrValidation, or nil.
func (v Verdict) Err() error {
	if v.Outcome != Reject {
		return nil
	}
	return &domain.ErrValidation{Field: v.Field, Code: v.Code, Message: v.Reason}
}

func reject(field, code, reason string) Verdict {
	return Verdict{Outcome: Reject, Field: field, Code: code, Reason: reason}
}

// Limits configures the guards.
type Limits struct {
	MinWithdrawal decimal.Decimal
	MinRecharge   decimal.Decimal
	// StaleAfter is the balance age beyond which an accepted verdict carries
	// the outdated-balance disclosure.
	StaleAfter time.Duration
}

// BalanceView is the cached account snapshot a guard validates against.
type BalanceView struct {
	Snapshot domain.AccountSnapshot
	Age      time.Duration
	// Stale is set when the cache already knows the value is outdated.
	Stale bool
}

// Guards validates money movements against Limits.
type Guards struct {
	limits Limits
}

// New creates the guards.
func New(limits Limits) *Guards {
	return &Guards{limits: limits}
}

// Limits returns the configured limits.
func (g *Guards) Limits() Limits {
	return g.limits
}

func (g *Guards) stale(view BalanceView) bool {
	return view.Stale || view.Age > g.limits.StaleAfter
}

// ParseAmount reads a user-entered amount. A leading "$" and surrounding
// spaces are accepted.
func ParseAmount(raw string) (decimal.Decimal, Verdict) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimPrefix(s, "$"))
	if s == "" {
		return decimal.Zero, reject("amount", CodeAmountRequired, "Please enter an amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, reject("amount", CodeAmountInvalid, "Please enter a valid amount")
	}
	if !d.IsPositive() {
		return decimal.Zero, reject("amount", CodeAmountInvalid, "Amount must be greater than zero")
	}
	return d, Verdict{Outcome: Accept, Amount: d}
}

func dollars(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// WithdrawAmount is the first withdrawal step: amount and method.
// The method never affects the verdict.
func (g *Guards) WithdrawAmount(view BalanceView, amount string) Verdict {
	d, v := ParseAmount(amount)
	if !v.OK() {
		return v
	}
	if d.LessThan(g.limits.MinWithdrawal) {
		v = reject("amount", CodeBelowMinimum, "Minimum withdrawal is "+dollars(g.limits.MinWithdrawal))
		v.Amount = d
		return v
	}
	if d.GreaterThan(view.Snapshot.Balance) {
		v = reject("amount", CodeInsufficientBalance, "Insufficient balance")
		v.Amount = d
		v.Remaining = d.Sub(view.Snapshot.Balance)
		v.StaleBalance = g.stale(view)
		return v
	}
	return Verdict{Outcome: Accept, Amount: d, StaleBalance: g.stale(view)}
}

// WithdrawAddress is the second withdrawal step: destination address entry.
func (g *Guards) WithdrawAddress(address string) Verdict {
	if strings.TrimSpace(address) == "" {
		return reject("wallet_address", CodeAddressRequired, "Please enter your wallet address")
	}
	return Verdict{Outcome: Accept}
}

// Withdraw runs both withdrawal steps for a final confirmation.
func (g *Guards) Withdraw(view BalanceView, req *domain.MoneyMovementRequest) Verdict {
	v := g.WithdrawAmount(view, req.Amount)
	if !v.OK() {
		return v
	}
	if a := g.WithdrawAddress(req.WalletAddress); !a.OK() {
		a.Amount = v.Amount
		a.StaleBalance = v.StaleBalance
		return a
	}
	return v
}

// Recharge validates a top-up. Recharges add funds, so there is no balance check.
func (g *Guards) Recharge(amount string) Verdict {
	d, v := ParseAmount(amount)
	if !v.OK() {
		return v
	}
	if d.LessThan(g.limits.MinRecharge) {
		v = reject("amount", CodeBelowMinimum, "Minimum recharge is "+dollars(g.limits.MinRecharge))
		v.Amount = d
		return v
	}
	return Verdict{Outcome: Accept, Amount: d}
}

// PurchaseContext is what the purchase guard needs from the cache.
type PurchaseContext struct {
	Offer      domain.MembershipOffer
	Found      bool
	CurrentID  int64
	HasCurrent bool
}

// PurchaseOffer runs the purchase checks that need no balance. decided is
// false only for a priced, available offer that is not the current one.
func (g *Guards) PurchaseOffer(pc PurchaseContext) (v Verdict, decided bool) {
	if pc.HasCurrent && pc.Found && pc.CurrentID == pc.Offer.ID {
		return Verdict{
			Outcome: NoOp,
			Code:    CodeAlreadyCurrent,
			Field:   "membership_id",
			Reason:  "This is already your current membership",
			Amount:  pc.Offer.Price,
		}, true
	}
	if !pc.Found || !pc.Offer.IsActive || pc.Offer.Price.IsNegative() {
		return reject("membership_id", CodeMembershipUnavailable, "This membership is not available"), true
	}
	if pc.Offer.IsFree() {
		return Verdict{Outcome: Accept, Amount: decimal.Zero, Free: true}, true
	}
	return Verdict{}, false
}

// Purchase validates buying a membership.
// Buying the current membership is a NoOp. Free offers skip the balance check.
func (g *Guards) Purchase(view BalanceView, pc PurchaseContext) Verdict {
	if v, decided := g.PurchaseOffer(pc); decided {
		return v
	}

	if !domain.CanAfford(view.Snapshot, pc.Offer.Price) {
		v := reject("membership_id", CodeInsufficientBalance,
			"Insufficient balance: you need "+dollars(domain.RemainingToAfford(view.Snapshot, pc.Offer.Price))+" more")
		v.Amount = pc.Offer.Price
		v.Remaining = domain.RemainingToAfford(view.Snapshot, pc.Offer.Price)
		v.StaleBalance = g.stale(view)
		return v
	}
	return Verdict{Outcome: Accept, Amount: pc.Offer.Price, StaleBalance: g.stale(view)}
}
