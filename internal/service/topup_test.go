package service

import (
	"context"
	"testing"

	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/gateway"
	"github.com/sahelpay/sahelpay/internal/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorForNumber(t *testing.T) {
	op, err := OperatorForNumber("36123456")
	require.NoError(t, err)
	assert.Equal(t, domain.OperatorMattel, op)

	op, err = OperatorForNumber("27000000")
	require.NoError(t, err)
	assert.Equal(t, domain.OperatorChinguitel, op)

	op, err = OperatorForNumber("41234567")
	require.NoError(t, err)
	assert.Equal(t, domain.OperatorMauritel, op)

	_, err = OperatorForNumber("51234567")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = OperatorForNumber("3612345")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestTopupDebitsAndCompletes(t *testing.T) {
	deps, store, _, _ := newTestDeps()
	svc := NewTopupService(deps)
	ctx := context.Background()

	user, wallet := ledger.SeedUser(t, store, "vatma", decimal.NewFromInt(500))

	entry, err := svc.Topup(ctx, TopupCmd{
		UserID:         user.ID,
		Phone:          "36123456",
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "top-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, entry.Status)
	assert.Regexp(t, `^TOP-[0-9A-F]{12}$`, entry.Reference)
	assert.Equal(t, domain.OperatorMattel, entry.Metadata["operator"])

	w, err := store.Wallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(400)), "balance %s", w.Balance)

	stored, err := store.EntryByReference(ctx, entry.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
}

func TestTopupDeliveryFailureRefunds(t *testing.T) {
	deps, store, _, _ := newTestDeps()
	deps.Gateway = &gateway.Mock{FailureRate: 1}
	svc := NewTopupService(deps)
	ctx := context.Background()

	user, wallet := ledger.SeedUser(t, store, "vatma", decimal.NewFromInt(500))

	_, err := svc.Topup(ctx, TopupCmd{
		UserID:         user.ID,
		Phone:          "36123456",
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "top-fail",
	})
	require.ErrorIs(t, err, domain.ErrState)

	w, err := store.Wallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(500)), "refunded, balance %s", w.Balance)

	sum, err := store.EntriesSum(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(w.Balance))

	// The failed attempt and its reversal stay on the statement.
	failed, err := store.EntryByKey(ctx, "top-fail")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	rev, err := store.EntryByReference(ctx, failed.Reference+"-REV")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryTypeReversal, rev.Type)
}

func TestTopupBoundsAndReplay(t *testing.T) {
	deps, store, _, _ := newTestDeps()
	svc := NewTopupService(deps)
	ctx := context.Background()

	user, wallet := ledger.SeedUser(t, store, "vatma", decimal.NewFromInt(500))

	_, err := svc.Topup(ctx, TopupCmd{
		UserID:         user.ID,
		Phone:          "36123456",
		Amount:         decimal.NewFromInt(5),
		IdempotencyKey: "top-low",
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Topup(ctx, TopupCmd{
		UserID:         user.ID,
		Phone:          "36123456",
		Amount:         decimal.NewFromInt(10001),
		IdempotencyKey: "top-high",
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	cmd := TopupCmd{
		UserID:         user.ID,
		Phone:          "36123456",
		Amount:         decimal.NewFromInt(50),
		IdempotencyKey: "top-replay",
	}
	first, err := svc.Topup(ctx, cmd)
	require.NoError(t, err)
	second, err := svc.Topup(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	w, err := store.Wallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(450)), "debited once, balance %s", w.Balance)

	cmd.Amount = decimal.NewFromInt(60)
	_, err = svc.Topup(ctx, cmd)
	require.ErrorIs(t, err, domain.ErrDuplicateOperation)

	// Same key and amount toward a different subscriber number must not
	// replay either.
	cmd.Amount = decimal.NewFromInt(50)
	cmd.Phone = "36999999"
	_, err = svc.Topup(ctx, cmd)
	require.ErrorIs(t, err, domain.ErrDuplicateOperation)

	w, err = store.Wallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(450)), "still debited once, balance %s", w.Balance)
}
