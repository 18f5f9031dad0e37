package service

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/gateway"
	"github.com/sahelpay/sahelpay/internal/ledger"
	"github.com/sahelpay/sahelpay/internal/models"
	"github.com/sahelpay/sahelpay/internal/notification"
	"github.com/sahelpay/sahelpay/internal/observability"
	"github.com/shopspring/decimal"
)

// TopupService buys airtime from a mobile operator on behalf of a wallet
// holder. The wallet is debited first with a PENDING entry; the entry is
// completed when the operator accepts the delivery and reversed when it
// does not.
type TopupService struct {
	deps *Deps
}

func NewTopupService(deps *Deps) *TopupService {
	return &TopupService{deps: deps}
}

var subscriberNumber = regexp.MustCompile(`^[234][0-9]{7}$`)

// OperatorForNumber resolves the operator from the subscriber number's
// leading digit.
func OperatorForNumber(phone string) (string, error) {
	if !subscriberNumber.MatchString(phone) {
		return "", domain.ValidationErrorf("invalid subscriber number %q", phone)
	}
	for op, prefix := range domain.OperatorPrefixes {
		if phone[:1] == prefix {
			return op, nil
		}
	}
	return "", domain.ValidationErrorf("no operator serves numbers starting with %s", phone[:1])
}

// TopupCmd is one airtime purchase.
type TopupCmd struct {
	UserID         uuid.UUID
	Phone          string
	Amount         decimal.Decimal
	IdempotencyKey string
}

func (s *TopupService) Topup(ctx context.Context, cmd TopupCmd) (*models.LedgerEntry, error) {
	if err := requireKey(cmd.IdempotencyKey); err != nil {
		return nil, err
	}
	if !domain.WithinBounds(cmd.Amount, s.deps.Policy.TopupMin, s.deps.Policy.TopupMax) {
		return nil, domain.ValidationErrorf("top-up amount must be between %s and %s",
			domain.FormatAmount(s.deps.Policy.TopupMin), domain.FormatAmount(s.deps.Policy.TopupMax))
	}
	operator, err := OperatorForNumber(cmd.Phone)
	if err != nil {
		return nil, err
	}

	d := debitDelivery{
		deps:      s.deps,
		operation: "topup",
		entryType: domain.EntryTypeTopup,
		refPrefix: domain.RefPrefixTopup,
		feeOp:     domain.FeeOpTopup,
		provider:  operator,
		target:    cmd.Phone,
		metadata: map[string]any{
			"operator": operator,
			"phone":    cmd.Phone,
		},
	}
	entry, err := d.run(ctx, cmd.UserID, cmd.Amount, cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if entry.Status == domain.StatusSuccess {
		s.deps.Notifier.Notify(ctx, cmd.UserID, notification.EventTopup,
			fmt.Sprintf("Top-up of %s %s to %s (%s) completed",
				domain.FormatAmount(cmd.Amount), domain.Currency, cmd.Phone, operator))
	}
	return entry, nil
}

// debitDelivery is the shared debit-then-deliver pipeline used by top-ups
// and bill payments.
type debitDelivery struct {
	deps      *Deps
	operation string
	entryType string
	refPrefix string
	feeOp     string
	provider  string
	target    string
	metadata  map[string]any
}

func (d *debitDelivery) run(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, key string) (*models.LedgerEntry, error) {
	if existing, err := d.replay(ctx, key, amount, nil); existing != nil || err != nil {
		return existing, err
	}

	wallet, err := d.deps.Store.WalletByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	fee := d.deps.Fees.For(d.feeOp, amount)

	var entry *models.LedgerEntry
	for attempt := 0; attempt < maxReferenceRetries; attempt++ {
		ref := d.deps.Refs.Reference(d.refPrefix)
		entry, err = d.debit(ctx, userID, wallet.ID, amount, fee, ref, key)
		if err == nil {
			break
		}
		if ledger.IsIdempotencyConflict(err) {
			return d.replay(ctx, key, amount, err)
		}
		if _, dup := ledger.IsDuplicate(err); dup {
			continue
		}
		observability.IncrementOperation(d.operation, "error")
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%s reference collisions exhausted: %w", d.operation, err)
	}

	if err := d.deps.Gateway.Deliver(ctx, gateway.Delivery{
		Provider:  d.provider,
		Target:    d.target,
		Amount:    amount,
		Reference: entry.Reference,
	}); err != nil {
		if rerr := d.reverse(ctx, wallet.ID, entry.Reference, amount, fee); rerr != nil {
			return nil, fmt.Errorf("reverse after failed delivery: %w", rerr)
		}
		observability.IncrementOperation(d.operation, "delivery_failed")
		return nil, domain.StateErrorf("%s delivery to %s failed", d.operation, d.provider)
	}

	now := d.deps.now()
	err = d.deps.Store.Atomic(ctx, func(tx ledger.Tx) error {
		if err := tx.CompleteEntry(ctx, entry.Reference, now); err != nil {
			return err
		}
		return writeAudit(ctx, tx, "ledger_entry", entry.ID, &userID,
			d.operation+".complete", domain.StatusPending, domain.StatusSuccess, nil)
	})
	if err != nil {
		return nil, err
	}
	entry.Status = domain.StatusSuccess
	entry.CompletedAt = &now
	observability.IncrementOperation(d.operation, "success")
	return entry, nil
}

func (d *debitDelivery) debit(ctx context.Context, userID, walletID uuid.UUID, amount, fee decimal.Decimal, ref, key string) (*models.LedgerEntry, error) {
	now := d.deps.now()
	entry := &models.LedgerEntry{
		ID:             uuid.New(),
		WalletID:       walletID,
		Type:           d.entryType,
		Amount:         amount.Neg(),
		Status:         domain.StatusPending,
		Reference:      ref,
		IdempotencyKey: key,
		Metadata:       d.metadata,
	}

	err := d.deps.Store.Atomic(ctx, func(tx ledger.Tx) error {
		wallet, err := tx.AcquireWallet(ctx, walletID)
		if err != nil {
			return err
		}
		if err := requireUnlocked(wallet.Locked); err != nil {
			return err
		}
		if err := tx.DebitWallet(ctx, wallet, amount); err != nil {
			return err
		}
		entry.BalanceAfter = wallet.Balance
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		if fee.IsPositive() {
			if err := tx.DebitWallet(ctx, wallet, fee); err != nil {
				return err
			}
			if err := tx.InsertEntry(ctx, &models.LedgerEntry{
				ID:           uuid.New(),
				WalletID:     wallet.ID,
				Type:         domain.EntryTypeFee,
				Amount:       fee.Neg(),
				BalanceAfter: wallet.Balance,
				Status:       domain.StatusSuccess,
				Reference:    ref + "-FEE",
				CompletedAt:  &now,
			}); err != nil {
				return err
			}
		}
		return writeAudit(ctx, tx, "ledger_entry", entry.ID, &userID,
			d.operation+".create", "", domain.StatusPending, map[string]any{
				"reference": ref,
				"amount":    domain.FormatAmount(amount),
				"fee":       domain.FormatAmount(fee),
			})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (d *debitDelivery) reverse(ctx context.Context, walletID uuid.UUID, ref string, amount, fee decimal.Decimal) error {
	refund := amount.Add(fee)
	now := d.deps.now()
	return d.deps.Store.Atomic(ctx, func(tx ledger.Tx) error {
		wallet, err := tx.AcquireWallet(ctx, walletID)
		if err != nil {
			return err
		}
		if err := tx.CreditWallet(ctx, wallet, refund); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &models.LedgerEntry{
			ID:           uuid.New(),
			WalletID:     wallet.ID,
			Type:         domain.EntryTypeReversal,
			Amount:       refund,
			BalanceAfter: wallet.Balance,
			Status:       domain.StatusSuccess,
			Reference:    ref + "-REV",
			CompletedAt:  &now,
		}); err != nil {
			return err
		}
		return tx.FailEntry(ctx, ref, now)
	})
}

func (d *debitDelivery) replay(ctx context.Context, key string, amount decimal.Decimal, cause error) (*models.LedgerEntry, error) {
	existing, err := d.deps.Store.EntryByKey(ctx, key)
	if err != nil {
		if cause != nil {
			return nil, cause
		}
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	if existing.Type != d.entryType || !existing.Amount.Equal(amount.Neg()) {
		return nil, domain.DuplicateOperationErrorf("idempotency key reused with different parameters")
	}
	// The delivery target travels in the entry metadata, so the phone or
	// account of the recorded debit must match too.
	for k, v := range d.metadata {
		if existing.Metadata[k] != v {
			return nil, domain.DuplicateOperationErrorf("idempotency key reused with different parameters")
		}
	}
	observability.IncrementOperation(d.operation, "replay")
	return existing, nil
}
