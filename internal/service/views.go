package service

import (
	"time"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/cache"

	"github.com/shopspring/decimal"
)

// Freshness describes how current a cached value is.
type Freshness struct {
	FetchedAt  time.Time `json:"fetched_at"`
	AgeSeconds float64   `json:"age_seconds"`
	Stale      bool      `json:"stale"`
	RetryCount int       `json:"retry_count,omitempty"`
	FetchError string    `json:"fetch_error,omitempty"`
}

func freshnessOf(res cache.Result, now time.Time) Freshness {
	f := Freshness{
		FetchedAt:  res.FetchedAt,
		AgeSeconds: now.Sub(res.FetchedAt).Seconds(),
		Stale:      res.Stale,
		RetryCount: res.RetryCount,
	}
	if res.FetchErr != nil {
		f.FetchError = res.FetchErr.Error()
	}
	return f
}

// AccountView is the account snapshot with its derivations.
// IntegrityError is set when the snapshot violates an earnings invariant;
// Income.Tasks is then null.
type AccountView struct {
	Account        *domain.AccountSnapshot `json:"account"`
	Income         domain.IncomeBreakdown  `json:"income"`
	IntegrityError string                  `json:"integrity_error,omitempty"`
	Freshness      Freshness               `json:"freshness"`
}

// OfferView is a catalog entry as shown to the user.
// CanAfford and Remaining are only set while an account snapshot is cached.
type OfferView struct {
	domain.MembershipOffer
	Current   bool             `json:"current"`
	CanAfford *bool            `json:"can_afford,omitempty"`
	Remaining *decimal.Decimal `json:"remaining,omitempty"`
}

// MembershipsView is the membership catalog.
type MembershipsView struct {
	Memberships      []OfferView `json:"memberships"`
	TotalMemberships int         `json:"total_memberships"`
	Freshness        Freshness   `json:"freshness"`
}

// MyMembershipView is the user's membership. MyMembership is nil when the
// user has none.
type MyMembershipView struct {
	MyMembership *domain.MyMembership `json:"my_membership"`
	CurrentID    *int64               `json:"current_membership_id"`
	Freshness    Freshness            `json:"freshness"`
}

// DashboardView combines the account and membership reads.
type DashboardView struct {
	Account    *AccountView      `json:"account"`
	Membership *MyMembershipView `json:"membership"`
}

// Affordability answers whether the cached balance covers an offer.
type Affordability struct {
	MembershipID int64           `json:"membership_id"`
	Name         string          `json:"membership_name"`
	Price        decimal.Decimal `json:"price"`
	Balance      decimal.Decimal `json:"balance"`
	CanAfford    bool            `json:"can_afford"`
	Remaining    decimal.Decimal `json:"remaining"`
	Free         bool            `json:"free"`
	Current      bool            `json:"current"`
	StaleBalance bool            `json:"stale_balance"`
}

// WithdrawalCheck is the verdict of the first withdrawal step.
type WithdrawalCheck struct {
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method,omitempty"`
	Balance      decimal.Decimal `json:"balance"`
	StaleBalance bool            `json:"stale_balance"`
}
