package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/models"
	"github.com/sahelpay/sahelpay/internal/notification"
	"github.com/shopspring/decimal"
)

// BillService pays utility bills from a wallet through the biller gateway,
// using the same debit-then-deliver pipeline as top-ups.
type BillService struct {
	deps *Deps
}

func NewBillService(deps *Deps) *BillService {
	return &BillService{deps: deps}
}

// BillPayCmd is one bill payment. Account is the customer's reference at
// the biller.
type BillPayCmd struct {
	UserID         uuid.UUID
	Category       string
	Account        string
	Amount         decimal.Decimal
	IdempotencyKey string
}

func (s *BillService) PayBill(ctx context.Context, cmd BillPayCmd) (*models.LedgerEntry, error) {
	if err := requireKey(cmd.IdempotencyKey); err != nil {
		return nil, err
	}
	if _, ok := domain.BillCategories[cmd.Category]; !ok {
		return nil, domain.ValidationErrorf("unknown bill category %q", cmd.Category)
	}
	if cmd.Account == "" {
		return nil, domain.ValidationErrorf("biller account is required")
	}
	if !domain.WithinBounds(cmd.Amount, s.deps.Policy.BillMin, s.deps.Policy.BillMax) {
		return nil, domain.ValidationErrorf("bill amount must be between %s and %s",
			domain.FormatAmount(s.deps.Policy.BillMin), domain.FormatAmount(s.deps.Policy.BillMax))
	}

	d := debitDelivery{
		deps:      s.deps,
		operation: "billpay",
		entryType: domain.EntryTypeBillPay,
		refPrefix: domain.RefPrefixBill,
		feeOp:     domain.FeeOpBillPay,
		provider:  cmd.Category,
		target:    cmd.Account,
		metadata: map[string]any{
			"category": cmd.Category,
			"account":  cmd.Account,
		},
	}
	entry, err := d.run(ctx, cmd.UserID, cmd.Amount, cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if entry.Status == domain.StatusSuccess {
		s.deps.Notifier.Notify(ctx, cmd.UserID, notification.EventBillPaid,
			fmt.Sprintf("Bill payment of %s %s to %s (%s) completed",
				domain.FormatAmount(cmd.Amount), domain.Currency, cmd.Account, cmd.Category))
	}
	return entry, nil
}
