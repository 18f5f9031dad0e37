package service

import (
	"context"
	"testing"

	"github.com/sahelpay/sahelpay/internal/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciliationBalancedAfterMixedOperations(t *testing.T) {
	deps, store, _, _ := newTestDeps()
	ctx := context.Background()

	sender, _ := ledger.SeedUser(t, store, "aicha", decimal.NewFromInt(1000))
	receiver, _ := ledger.SeedUser(t, store, "moussa", decimal.NewFromInt(500))

	transfers := NewTransferService(deps)
	_, err := transfers.Transfer(ctx, TransferCmd{
		SenderUserID:   sender.ID,
		Receiver:       receiver.Username,
		Amount:         decimal.NewFromInt(200),
		IdempotencyKey: "rec-trf",
	})
	require.NoError(t, err)

	cash := NewCashService(deps)
	_, err = cash.CashOutRequest(ctx, CashOutRequestCmd{
		CustomerUserID: receiver.ID,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "rec-co",
	})
	require.NoError(t, err)

	report, err := NewReconciliationService(deps).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Empty(t, report.Imbalanced)
}

func TestReconciliationDetectsImbalance(t *testing.T) {
	deps, store, _, _ := newTestDeps()
	ctx := context.Background()

	_, wallet := ledger.SeedUser(t, store, "aicha", decimal.NewFromInt(1000))

	// Mutate the balance without a matching entry.
	require.NoError(t, store.Atomic(ctx, func(tx ledger.Tx) error {
		w, err := tx.AcquireWallet(ctx, wallet.ID)
		if err != nil {
			return err
		}
		return tx.CreditWallet(ctx, w, decimal.NewFromInt(7))
	}))

	report, err := NewReconciliationService(deps).Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Imbalanced, 1)
	assert.Equal(t, wallet.ID, report.Imbalanced[0])
}
