package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Memberships
// ============================================================

// MembershipOffer is an immutable catalog entry.
type MembershipOffer struct {
	ID                   int64           `json:"id"`
	Name                 string          `json:"membership_name"`
	Price                decimal.Decimal `json:"price"`
	TasksPerDay          int             `json:"tasks_per_day"`
	MaxTasks             int             `json:"max_tasks"`
	BenefitAmountPerTask decimal.Decimal `json:"benefit_amount_per_task"`
	Description          string          `json:"description"`
	IsActive             bool            `json:"is_active"`
}

// IsFree reports whether the offer costs nothing.
func (m MembershipOffer) IsFree() bool {
	return m.Price.IsZero()
}

// MembershipCatalog is the payload of GET memberships.
type MembershipCatalog struct {
	Memberships      []MembershipOffer `json:"memberships"`
	TotalMemberships int               `json:"total_memberships"`
}

// Find returns the offer with the given id.
func (c MembershipCatalog) Find(id int64) (MembershipOffer, bool) {
	for _, m := range c.Memberships {
		if m.ID == id {
			return m, true
		}
	}
	return MembershipOffer{}, false
}

// MembershipSubscription ties an account to an offer for a period.
// At most one is active per account.
type MembershipSubscription struct {
	MembershipID  int64     `json:"membership_id"`
	StartedAt     time.Time `json:"started_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	IsActive      bool      `json:"is_active"`
	RemainingDays int       `json:"remaining_days"`
}

// DailyProgress counts today's completed tasks against the membership quota.
type DailyProgress struct {
	TasksCompleted int `json:"tasks_completed"`
	TasksAllowed   int `json:"tasks_allowed"`
}

// MyMembership is the payload of GET memberships/my-membership.
type MyMembership struct {
	Membership    *MembershipOffer        `json:"membership"`
	Subscription  *MembershipSubscription `json:"subscription"`
	DailyProgress DailyProgress           `json:"daily_progress"`
}

// Held reports whether the ledger returned any membership at all.
func (m MyMembership) Held() bool {
	return m.Membership != nil || m.Subscription != nil
}

// CurrentID returns the id of the active membership, if any.
func (m MyMembership) CurrentID() (int64, bool) {
	if m.Subscription != nil && m.Subscription.IsActive {
		return m.Subscription.MembershipID, true
	}
	if m.Membership != nil && m.Subscription == nil {
		return m.Membership.ID, true
	}
	return 0, false
}
