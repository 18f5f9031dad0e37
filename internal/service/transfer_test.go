package service

import (
	"context"
	"sync"
	"testing"

	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/fees"
	"github.com/sahelpay/sahelpay/internal/ledger"
	"github.com/sahelpay/sahelpay/internal/notification"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferMovesValueAndWritesPairedEntries(t *testing.T) {
	deps, store, _, notifier := newTestDeps()
	svc := NewTransferService(deps)
	ctx := context.Background()

	sender, senderWallet := ledger.SeedUser(t, store, "aicha", decimal.NewFromInt(1000))
	receiver, receiverWallet := ledger.SeedUser(t, store, "moussa", decimal.NewFromInt(500))

	transfer, err := svc.Transfer(ctx, TransferCmd{
		SenderUserID:   sender.ID,
		Receiver:       receiver.Username,
		Amount:         decimal.NewFromInt(200),
		Note:           "rent",
		IdempotencyKey: "trf-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, transfer.Status)
	assert.Regexp(t, `^TRF-[0-9A-F]{12}$`, transfer.Reference)

	ws, err := store.Wallet(ctx, senderWallet.ID)
	require.NoError(t, err)
	wr, err := store.Wallet(ctx, receiverWallet.ID)
	require.NoError(t, err)
	assert.True(t, ws.Balance.Equal(decimal.NewFromInt(800)), "sender %s", ws.Balance)
	assert.True(t, wr.Balance.Equal(decimal.NewFromInt(700)), "receiver %s", wr.Balance)

	out, err := store.EntryByReference(ctx, transfer.Reference+"-OUT")
	require.NoError(t, err)
	assert.True(t, out.Amount.Equal(decimal.NewFromInt(-200)))
	assert.Equal(t, senderWallet.ID, out.WalletID)
	assert.Equal(t, domain.StatusSuccess, out.Status)

	in, err := store.EntryByReference(ctx, transfer.Reference+"-IN")
	require.NoError(t, err)
	assert.True(t, in.Amount.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, receiverWallet.ID, in.WalletID)

	assert.True(t, notifier.has(notification.EventTransferSent))
	assert.True(t, notifier.has(notification.EventTransferReceived))
}

func TestTransferChargesConfiguredFee(t *testing.T) {
	deps, store, _, _ := newTestDeps()
	deps.Fees = fees.DefaultSchedule()
	svc := NewTransferService(deps)
	ctx := context.Background()

	sender, senderWallet := ledger.SeedUser(t, store, "aicha", decimal.NewFromInt(1000))
	receiver, _ := ledger.SeedUser(t, store, "moussa", decimal.Zero)

	transfer, err := svc.Transfer(ctx, TransferCmd{
		SenderUserID:   sender.ID,
		Receiver:       receiver.Phone,
		Amount:         decimal.NewFromInt(200),
		IdempotencyKey: "trf-fee",
	})
	require.NoError(t, err)

	// 1% of 200 = 2.
	ws, err := store.Wallet(ctx, senderWallet.ID)
	require.NoError(t, err)
	assert.True(t, ws.Balance.Equal(decimal.NewFromInt(798)), "sender %s", ws.Balance)

	feeEntry, err := store.EntryByReference(ctx, transfer.Reference+"-FEE")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryTypeFee, feeEntry.Type)
	assert.True(t, feeEntry.Amount.Equal(decimal.NewFromInt(-2)))

	sum, err := store.EntriesSum(ctx, senderWallet.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(ws.Balance))
}

func TestTransferReplaySameKeyReturnsOriginal(t *testing.T) {
	deps, store, _, _ := newTestDeps()
	svc := NewTransferService(deps)
	ctx := context.Background()

	sender, senderWallet := ledger.SeedUser(t, store, "aicha", decimal.NewFromInt(1000))
	receiver, _ := ledger.SeedUser(t, store, "moussa", decimal.Zero)

	cmd := TransferCmd{
		SenderUserID:   sender.ID,
		Receiver:       receiver.Username,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "trf-replay",
	}
	first, err := svc.Transfer(ctx, cmd)
	require.NoError(t, err)

	second, err := svc.Transfer(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Reference, second.Reference)

	// Debited exactly once.
	ws, err := store.Wallet(ctx, senderWallet.ID)
	require.NoError(t, err)
	assert.True(t, ws.Balance.Equal(decimal.NewFromInt(900)), "sender %s", ws.Balance)
}

func TestTransferSameKeyDifferentParamsRejected(t *testing.T) {
	deps, store, _, _ := newTestDeps()
	svc := NewTransferService(deps)
	ctx := context.Background()

	sender, _ := ledger.SeedUser(t, store, "aicha", decimal.NewFromInt(1000))
	receiver, _ := ledger.SeedUser(t, store, "moussa", decimal.Zero)

	_, err := svc.Transfer(ctx, TransferCmd{
		SenderUserID:   sender.ID,
		Receiver:       receiver.Username,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "trf-dup",
	})
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, TransferCmd{
		SenderUserID:   sender.ID,
		Receiver:       receiver.Username,
		Amount:         decimal.NewFromInt(150),
		IdempotencyKey: "trf-dup",
	})
	require.ErrorIs(t, err, domain.ErrDuplicateOperation)
}

func TestTransferSameKeyDifferentReceiverRejected(t *testing.T) {
	deps, store, _, _ := newTestDeps()
	svc := NewTransferService(deps)
	ctx := context.Background()

	sender, senderWallet := ledger.SeedUser(t, store, "aicha", decimal.NewFromInt(1000))
	receiver, _ := ledger.SeedUser(t, store, "moussa", decimal.Zero)
	other, otherWallet := ledger.SeedUser(t, store, "khadija", decimal.Zero)

	_, err := svc.Transfer(ctx, TransferCmd{
		SenderUserID:   sender.ID,
		Receiver:       receiver.Username,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "trf-redirect",
	})
	require.NoError(t, err)

	// Same key, same amount, different receiver must not replay the
	// original transfer.
	_, err = svc.Transfer(ctx, TransferCmd{
		SenderUserID:   sender.ID,
		Receiver:       other.Username,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "trf-redirect",
	})
	require.ErrorIs(t, err, domain.ErrDuplicateOperation)

	ws, err := store.Wallet(ctx, senderWallet.ID)
	require.NoError(t, err)
	assert.True(t, ws.Balance.Equal(decimal.NewFromInt(900)), "sender %s", ws.Balance)
	wo, err := store.Wallet(ctx, otherWallet.ID)
	require.NoError(t, err)
	assert.True(t, wo.Balance.IsZero())
}

func TestTransferInsufficientFundsLeavesNoTrace(t *testing.T) {
	deps, store, _, _ := newTestDeps()
	svc := NewTransferService(deps)
	ctx := context.Background()

	sender, senderWallet := ledger.SeedUser(t, store, "aicha", decimal.NewFromInt(50))
	receiver, receiverWallet := ledger.SeedUser(t, store, "moussa", decimal.Zero)

	_, err := svc.Transfer(ctx, TransferCmd{
		SenderUserID:   sender.ID,
		Receiver:       receiver.Username,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "trf-poor",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	ws, err := store.Wallet(ctx, senderWallet.ID)
	require.NoError(t, err)
	assert.True(t, ws.Balance.Equal(decimal.NewFromInt(50)))
	wr, err := store.Wallet(ctx, receiverWallet.ID)
	require.NoError(t, err)
	assert.True(t, wr.Balance.IsZero())

	_, err = store.TransferByKey(ctx, "trf-poor")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransferValidation(t *testing.T) {
	deps, store, _, _ := newTestDeps()
	svc := NewTransferService(deps)
	ctx := context.Background()

	sender, _ := ledger.SeedUser(t, store, "aicha", decimal.NewFromInt(1000))

	_, err := svc.Transfer(ctx, TransferCmd{
		SenderUserID:   sender.ID,
		Receiver:       sender.Username,
		Amount:         decimal.NewFromInt(10),
		IdempotencyKey: "trf-self",
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Transfer(ctx, TransferCmd{
		SenderUserID:   sender.ID,
		Receiver:       "nobody",
		Amount:         decimal.RequireFromString("0.5"),
		IdempotencyKey: "trf-small",
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Transfer(ctx, TransferCmd{
		SenderUserID: sender.ID,
		Receiver:     "nobody",
		Amount:       decimal.NewFromInt(10),
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Transfer(ctx, TransferCmd{
		SenderUserID:   sender.ID,
		Receiver:       "nobody",
		Amount:         decimal.NewFromInt(10),
		IdempotencyKey: "trf-ghost",
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransferLockedWalletRejected(t *testing.T) {
	deps, store, _, _ := newTestDeps()
	svc := NewTransferService(deps)
	ctx := context.Background()

	sender, _ := ledger.SeedUser(t, store, "aicha", decimal.NewFromInt(1000))
	receiver, receiverWallet := ledger.SeedUser(t, store, "moussa", decimal.Zero)

	require.NoError(t, store.SetWalletLocked(ctx, receiverWallet.ID, true))

	_, err := svc.Transfer(ctx, TransferCmd{
		SenderUserID:   sender.ID,
		Receiver:       receiver.Username,
		Amount:         decimal.NewFromInt(10),
		IdempotencyKey: "trf-frozen",
	})
	require.ErrorIs(t, err, domain.ErrState)
}

func TestConcurrentOpposingTransfersComplete(t *testing.T) {
	deps, store, _, _ := newTestDeps()
	svc := NewTransferService(deps)
	ctx := context.Background()

	alice, aliceWallet := ledger.SeedUser(t, store, "alice", decimal.NewFromInt(1000))
	bob, bobWallet := ledger.SeedUser(t, store, "bob", decimal.NewFromInt(1000))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		cmd := TransferCmd{
			SenderUserID:   alice.ID,
			Receiver:       bob.Username,
			Amount:         decimal.NewFromInt(5),
			IdempotencyKey: "a2b-" + string(rune('a'+i)),
		}
		if i%2 == 1 {
			cmd.SenderUserID = bob.ID
			cmd.Receiver = alice.Username
			cmd.IdempotencyKey = "b2a-" + string(rune('a'+i))
		}
		go func() {
			defer wg.Done()
			_, err := svc.Transfer(ctx, cmd)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	wa, err := store.Wallet(ctx, aliceWallet.ID)
	require.NoError(t, err)
	wb, err := store.Wallet(ctx, bobWallet.ID)
	require.NoError(t, err)
	total := wa.Balance.Add(wb.Balance)
	assert.True(t, total.Equal(decimal.NewFromInt(2000)), "total %s", total)

	sumA, err := store.EntriesSum(ctx, aliceWallet.ID)
	require.NoError(t, err)
	assert.True(t, sumA.Equal(wa.Balance))
}
