package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================
// Money movements
// ============================================================

// MovementKind identifies a money-moving action.
type MovementKind string

const (
	KindWithdraw MovementKind = "withdraw"
	KindRecharge MovementKind = "recharge"
	KindPurchase MovementKind = "purchase"
)

// MoneyMovementRequest exists only while a submission is validated and sent.
// It is never stored once settled.
type MoneyMovementRequest struct {
	ID            uuid.UUID
	Kind          MovementKind
	Amount        string // raw user input; parsed by the guard
	Method        string
	WalletAddress string
	PicturePath   string
	MembershipID  int64
}

// NewMovement creates a request with a fresh id, used as idempotency key upstream.
func NewMovement(kind MovementKind) *MoneyMovementRequest {
	return &MoneyMovementRequest{ID: uuid.New(), Kind: kind}
}

// MutationState is the lifecycle of one submission.
type MutationState string

const (
	StateIdle       MutationState = "idle"
	StateSubmitting MutationState = "submitting"
	StateSucceeded  MutationState = "settled_success"
	StateFailed     MutationState = "settled_failure"
	// StateUnchanged is a submission that was already in effect and never sent.
	StateUnchanged MutationState = "unchanged"
)

// Settlement is the terminal outcome of a submission as reported to callers.
// StaleBalance is set when the guard ran against a balance older than the
// safety threshold.
type Settlement struct {
	RequestID    uuid.UUID             `json:"request_id"`
	Kind         MovementKind          `json:"kind"`
	State        MutationState         `json:"state"`
	Message      string                `json:"message,omitempty"`
	Invalidated  []string              `json:"invalidated,omitempty"`
	StaleBalance bool                  `json:"stale_balance,omitempty"`
	Free         bool                  `json:"free,omitempty"`
	Recharge     *RechargeInstructions `json:"recharge,omitempty"`
}

// ============================================================
// Ledger wire payloads
// ============================================================

// WithdrawalSubmission is the body of POST withdrawal.
type WithdrawalSubmission struct {
	Amount        decimal.Decimal `json:"withdrawal_amount"`
	Platform      string          `json:"platform,omitempty"`
	PicturePath   string          `json:"picture_path,omitempty"`
	WalletAddress string          `json:"wallet_address"`
}

// RechargeSubmission is the body of POST recharge.
type RechargeSubmission struct {
	Amount   decimal.Decimal `json:"recharge_amount"`
	Platform string          `json:"platform,omitempty"`
}

// RechargeInstructions tells the user where to send funds.
type RechargeInstructions struct {
	WalletAddress string          `json:"wallet_address"`
	Amount        decimal.Decimal `json:"amount"`
	Platform      string          `json:"platform,omitempty"`
	Reference     string          `json:"reference,omitempty"`
}

// PurchaseSubmission is the body of POST membership purchase.
type PurchaseSubmission struct {
	UserUUID       string `json:"user_uuid"`
	MembershipID   int64  `json:"membership_id"`
	MembershipName string `json:"membership_name"`
}

// LedgerReceipt is the answer to a successful mutation.
type LedgerReceipt struct {
	Message  string
	Recharge *RechargeInstructions
}
