package service

import (
	"time"

	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/fees"
	"github.com/sahelpay/sahelpay/internal/gateway"
	"github.com/sahelpay/sahelpay/internal/ledger"
	"github.com/sahelpay/sahelpay/internal/notification"
	"github.com/sahelpay/sahelpay/internal/reference"
	"github.com/shopspring/decimal"
)

// Deps bundles the collaborators shared by every service.
type Deps struct {
	Store    ledger.Store
	Refs     *reference.Generator
	Fees     *fees.Schedule
	Gateway  gateway.Provider
	Notifier notification.Notifier
	Policy   Policy
	// Now is the clock; tests inject a fixed one.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// Policy carries the operation amount bounds and the cash-out redemption
// window.
type Policy struct {
	TransferMin decimal.Decimal
	CashMin     decimal.Decimal
	CashMax     decimal.Decimal
	TopupMin    decimal.Decimal
	TopupMax    decimal.Decimal
	BillMin     decimal.Decimal
	BillMax     decimal.Decimal
	CashOutTTL  time.Duration
}

// DefaultPolicy returns the bounds applied when none are configured.
func DefaultPolicy() Policy {
	return Policy{
		TransferMin: decimal.NewFromInt(1),
		CashMin:     decimal.NewFromInt(10),
		CashMax:     decimal.NewFromInt(100000),
		TopupMin:    decimal.NewFromInt(10),
		TopupMax:    decimal.NewFromInt(10000),
		BillMin:     decimal.NewFromInt(1),
		BillMax:     decimal.NewFromInt(100000),
		CashOutTTL:  24 * time.Hour,
	}
}

func requireKey(key string) error {
	if key == "" {
		return domain.ValidationErrorf("idempotency key is required")
	}
	return nil
}

func requireUnlocked(locked bool) error {
	if locked {
		return domain.StateErrorf("wallet is locked")
	}
	return nil
}
