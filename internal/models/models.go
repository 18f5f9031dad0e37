package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is a directory record owned by the identity collaborator. The ledger
// core only reads it to resolve wallets by phone or username.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Phone     string    `json:"phone"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Agent is a registered field agent allowed to perform cash-in and cash-out
// redemption on behalf of customers.
type Agent struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Wallet holds a custodial balance. Balance is a fixed-point decimal and is
// only ever mutated through the ledger store's debit/credit operations while
// the wallet's row lock is held. Locked is the administrative freeze flag,
// distinct from the concurrency lock. Version increments on every mutation.
type Wallet struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Locked    bool            `json:"locked"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LedgerEntry is one immutable signed balance movement on one wallet.
// For any wallet the running sum of entry amounts equals its balance.
type LedgerEntry struct {
	ID             uuid.UUID       `json:"id"`
	WalletID       uuid.UUID       `json:"wallet_id"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"` // signed: negative = debit
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	Status         string          `json:"status"`
	Reference      string          `json:"reference"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Transfer records one two-wallet movement. A SUCCESS transfer always has
// exactly two ledger entries sharing its reference root with -OUT and -IN
// suffixes, created in the same atomic unit.
type Transfer struct {
	ID               uuid.UUID       `json:"id"`
	SenderWalletID   uuid.UUID       `json:"sender_wallet_id"`
	ReceiverWalletID uuid.UUID       `json:"receiver_wallet_id"`
	Amount           decimal.Decimal `json:"amount"`
	Note             string          `json:"note,omitempty"`
	Status           string          `json:"status"`
	Reference        string          `json:"reference"`
	IdempotencyKey   string          `json:"idempotency_key,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// CashOperation is one agent-mediated cash movement. CASHIN completes in a
// single step. CASHOUT is created PENDING with no agent bound; redemption is
// a one-way conditional transition to SUCCESS that binds the agent.
type CashOperation struct {
	ID             uuid.UUID       `json:"id"`
	AgentID        *uuid.UUID      `json:"agent_id,omitempty"`
	WalletID       uuid.UUID       `json:"wallet_id"`
	Kind           string          `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"`
	Token          string          `json:"token"`
	Reference      string          `json:"reference"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// RedeemedBy returns the redeeming agent for a completed cash-out. The agent
// is only meaningful once the operation has left PENDING; callers must use
// this accessor instead of reading AgentID directly.
func (c *CashOperation) RedeemedBy() (uuid.UUID, bool) {
	if c.Status != "SUCCESS" || c.AgentID == nil {
		return uuid.Nil, false
	}
	return *c.AgentID, true
}

// Pending reports whether a cash-out is still awaiting redemption.
func (c *CashOperation) Pending() bool {
	return c.Status == "PENDING"
}
