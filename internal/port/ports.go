// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"

	"github.com/google/uuid"
)

// AccountFetcher reads and updates the account of record.
type AccountFetcher interface {
	GetAccount(ctx context.Context) (*domain.AccountSnapshot, error)
	UpdateAccount(ctx context.Context, patch domain.AccountPatch) (*domain.AccountSnapshot, string, error)
}

// MembershipFetcher reads the membership catalog and the user's membership.
type MembershipFetcher interface {
	ListMemberships(ctx context.Context) (*domain.MembershipCatalog, error)
	GetMyMembership(ctx context.Context) (*domain.MyMembership, error)
}

// MovementSubmitter sends money-moving requests. requestID is forwarded as
// an idempotency key.
type MovementSubmitter interface {
	SubmitWithdrawal(ctx context.Context, requestID uuid.UUID, w domain.WithdrawalSubmission) (*domain.LedgerReceipt, error)
	SubmitRecharge(ctx context.Context, requestID uuid.UUID, r domain.RechargeSubmission) (*domain.LedgerReceipt, error)
	PurchaseMembership(ctx context.Context, requestID uuid.UUID, p domain.PurchaseSubmission) (*domain.LedgerReceipt, error)
}

// Ledger is the full remote ledger API as seen by one session.
type Ledger interface {
	AccountFetcher
	MembershipFetcher
	MovementSubmitter
}

// Notification is a user-facing message.
type Notification struct {
	UserID  string
	Level   string // success, error, warning
	Title   string
	Message string
}

// Notifier delivers user-facing messages (toasts, push).
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}
