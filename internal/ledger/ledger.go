// Package ledger owns all wallet balance and movement state. It is the only
// component allowed to mutate a balance or append a ledger entry; services
// orchestrate, the store executes inside an atomic unit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sahelpay/sahelpay/internal/models"
	"github.com/shopspring/decimal"
)

// DuplicateError reports a storage-level unique constraint violation. The
// constraint name lets callers distinguish an idempotency-key race (replay)
// from a reference/token collision (regenerate and retry once).
type DuplicateError struct {
	Constraint string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate key on constraint %q", e.Constraint)
}

// IsDuplicate reports whether err is a unique constraint violation, returning
// the constraint name when it is.
func IsDuplicate(err error) (string, bool) {
	var d *DuplicateError
	if errors.As(err, &d) {
		return d.Constraint, true
	}
	return "", false
}

// IsIdempotencyConflict reports whether err is a unique violation on an
// idempotency key column, meaning a concurrent request with the same key won
// the race and its result should be replayed.
func IsIdempotencyConflict(err error) bool {
	c, ok := IsDuplicate(err)
	return ok && strings.Contains(c, "idempotency")
}

// Tx is the mutation surface available inside one atomic unit. Every change
// made through a Tx commits or rolls back as a whole.
type Tx interface {
	// AcquireWallet takes the wallet's exclusive lock for the remainder of
	// the atomic unit and returns its current row. When locking several
	// wallets, callers must acquire them in ascending ID order.
	AcquireWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error)

	// CreditWallet adds amount (positive) to a wallet acquired in this unit.
	CreditWallet(ctx context.Context, w *models.Wallet, amount decimal.Decimal) error

	// DebitWallet subtracts amount (positive) from a wallet acquired in this
	// unit. Fails with InsufficientFundsError when balance < amount.
	DebitWallet(ctx context.Context, w *models.Wallet, amount decimal.Decimal) error

	InsertEntry(ctx context.Context, e *models.LedgerEntry) error
	InsertTransfer(ctx context.Context, t *models.Transfer) error
	InsertCashOperation(ctx context.Context, op *models.CashOperation) error

	// ClaimCashOut is the compare-and-set transition of a pending cash-out to
	// SUCCESS, binding the agent and stamping completion. Exactly one
	// concurrent claim for a token succeeds; later ones get StateError.
	ClaimCashOut(ctx context.Context, token string, agentID uuid.UUID, now time.Time) (*models.CashOperation, error)

	// FailCashOut transitions a pending cash-out to FAILED (expiry reversal),
	// guarded by the same conditional update as ClaimCashOut.
	FailCashOut(ctx context.Context, id uuid.UUID, now time.Time) (*models.CashOperation, error)

	// CompleteEntry marks the PENDING ledger entry with the given reference
	// SUCCESS and stamps its completion time.
	CompleteEntry(ctx context.Context, reference string, now time.Time) error

	// FailEntry marks the PENDING ledger entry with the given reference FAILED.
	FailEntry(ctx context.Context, reference string, now time.Time) error

	AppendAudit(ctx context.Context, rec *models.AuditRecord) error
}

// Store is the ledger storage contract. Two backends exist: Postgres for
// production and an in-memory implementation for tests and local runs.
type Store interface {
	// Atomic runs fn inside one atomic unit: every mutation made through the
	// Tx is durably committed iff fn returns nil.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	Wallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	WalletByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UserByIdentifier resolves a user by phone number or username.
	UserByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	AgentByUserID(ctx context.Context, userID uuid.UUID) (*models.Agent, error)

	Entries(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error)
	// EntriesSum returns the running sum of signed entry amounts for the
	// wallet, the reconciliation counterpart of its balance.
	EntriesSum(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error)
	WalletIDs(ctx context.Context) ([]uuid.UUID, error)

	TransferByKey(ctx context.Context, idempotencyKey string) (*models.Transfer, error)
	CashOperationByKey(ctx context.Context, idempotencyKey string) (*models.CashOperation, error)
	EntryByKey(ctx context.Context, idempotencyKey string) (*models.LedgerEntry, error)
	EntryByReference(ctx context.Context, reference string) (*models.LedgerEntry, error)
	CashOutByToken(ctx context.Context, token string) (*models.CashOperation, error)

	// ExpiredPendingCashOuts lists PENDING cash-outs created before cutoff.
	ExpiredPendingCashOuts(ctx context.Context, cutoff time.Time, limit int) ([]models.CashOperation, error)

	CreateUser(ctx context.Context, u *models.User) error
	CreateAgent(ctx context.Context, a *models.Agent) error
	CreateWallet(ctx context.Context, w *models.Wallet) error

	// SetWalletLocked flips the administrative freeze flag. A locked wallet
	// rejects all operations until unlocked.
	SetWalletLocked(ctx context.Context, id uuid.UUID, locked bool) error
}
