package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicRollsBackOnError(t *testing.T) {
	store := NewMemory()
	_, w := SeedUser(t, store, "amadou", decimal.NewFromInt(1000))
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.Atomic(ctx, func(tx Tx) error {
		locked, err := tx.AcquireWallet(ctx, w.ID)
		require.NoError(t, err)
		require.NoError(t, tx.DebitWallet(ctx, locked, decimal.NewFromInt(400)))
		require.NoError(t, tx.InsertEntry(ctx, &models.LedgerEntry{
			ID:        uuid.New(),
			WalletID:  w.ID,
			Type:      domain.EntryTypeWithdraw,
			Amount:    decimal.NewFromInt(-400),
			Status:    domain.StatusSuccess,
			Reference: "CASHOUT-AAAA11112222",
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := store.Wallet(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, after.Balance.Equal(decimal.NewFromInt(1000)), "balance %s", after.Balance)

	_, err = store.EntryByReference(ctx, "CASHOUT-AAAA11112222")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAtomicRollbackLeavesConcurrentCommitIntact(t *testing.T) {
	store := NewMemory()
	_, w1 := SeedUser(t, store, "amadou", decimal.NewFromInt(100))
	_, w2 := SeedUser(t, store, "fatima", decimal.NewFromInt(100))
	ctx := context.Background()

	boom := errors.New("boom")
	inserted := make(chan struct{})
	committed := make(chan struct{})
	done := make(chan error, 1)

	// First unit inserts an entry on w1, then fails after a second unit
	// has committed an entry on w2. The rollback must remove only its own
	// entry, not the last one appended to the shared log.
	go func() {
		done <- store.Atomic(ctx, func(tx Tx) error {
			locked, err := tx.AcquireWallet(ctx, w1.ID)
			if err != nil {
				return err
			}
			if err := tx.DebitWallet(ctx, locked, decimal.NewFromInt(10)); err != nil {
				return err
			}
			if err := tx.InsertEntry(ctx, &models.LedgerEntry{
				ID:        uuid.New(),
				WalletID:  w1.ID,
				Type:      domain.EntryTypeWithdraw,
				Amount:    decimal.NewFromInt(-10),
				Status:    domain.StatusSuccess,
				Reference: "CASHOUT-ROLLBACK0001",
			}); err != nil {
				return err
			}
			close(inserted)
			<-committed
			return boom
		})
	}()

	<-inserted
	err := store.Atomic(ctx, func(tx Tx) error {
		locked, err := tx.AcquireWallet(ctx, w2.ID)
		if err != nil {
			return err
		}
		if err := tx.CreditWallet(ctx, locked, decimal.NewFromInt(5)); err != nil {
			return err
		}
		return tx.InsertEntry(ctx, &models.LedgerEntry{
			ID:        uuid.New(),
			WalletID:  w2.ID,
			Type:      domain.EntryTypeCashIn,
			Amount:    decimal.NewFromInt(5),
			Status:    domain.StatusSuccess,
			Reference: "CASHIN-SURVIVOR0001",
		})
	})
	require.NoError(t, err)
	close(committed)
	require.ErrorIs(t, <-done, boom)

	// Rolled-back entry gone, committed entry intact.
	_, err = store.EntryByReference(ctx, "CASHOUT-ROLLBACK0001")
	require.ErrorIs(t, err, domain.ErrNotFound)
	survivor, err := store.EntryByReference(ctx, "CASHIN-SURVIVOR0001")
	require.NoError(t, err)
	assert.True(t, survivor.Amount.Equal(decimal.NewFromInt(5)))

	for _, w := range []uuid.UUID{w1.ID, w2.ID} {
		got, err := store.Wallet(ctx, w)
		require.NoError(t, err)
		sum, err := store.EntriesSum(ctx, w)
		require.NoError(t, err)
		assert.True(t, sum.Equal(got.Balance), "wallet %s sum %s balance %s", w, sum, got.Balance)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	store := NewMemory()
	_, w := SeedUser(t, store, "fatima", decimal.NewFromInt(50))
	ctx := context.Background()

	err := store.Atomic(ctx, func(tx Tx) error {
		locked, err := tx.AcquireWallet(ctx, w.ID)
		require.NoError(t, err)
		return tx.DebitWallet(ctx, locked, decimal.NewFromInt(51))
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestUniqueConstraints(t *testing.T) {
	store := NewMemory()
	_, w := SeedUser(t, store, "cheikh", decimal.NewFromInt(100))
	ctx := context.Background()

	insert := func(ref, key string) error {
		return store.Atomic(ctx, func(tx Tx) error {
			return tx.InsertEntry(ctx, &models.LedgerEntry{
				ID:             uuid.New(),
				WalletID:       w.ID,
				Type:           domain.EntryTypeTopup,
				Amount:         decimal.NewFromInt(10),
				Status:         domain.StatusSuccess,
				Reference:      ref,
				IdempotencyKey: key,
			})
		})
	}

	require.NoError(t, insert("TOP-000000000001", "key-1"))

	err := insert("TOP-000000000001", "key-2")
	c, ok := IsDuplicate(err)
	require.True(t, ok)
	assert.Equal(t, "ledger_entries_reference_key", c)
	assert.False(t, IsIdempotencyConflict(err))

	err = insert("TOP-000000000002", "key-1")
	require.True(t, IsIdempotencyConflict(err))
}

func TestClaimCashOutSingleWinner(t *testing.T) {
	store := NewMemory()
	_, w := SeedUser(t, store, "mariem", decimal.NewFromInt(500))
	ctx := context.Background()

	op := &models.CashOperation{
		ID:        uuid.New(),
		WalletID:  w.ID,
		Kind:      domain.CashKindOut,
		Amount:    decimal.NewFromInt(300),
		Status:    domain.StatusPending,
		Token:     "12345678",
		Reference: "CASHOUT-FEEDBEEF0001",
	}
	require.NoError(t, store.Atomic(ctx, func(tx Tx) error {
		return tx.InsertCashOperation(ctx, op)
	}))

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan uuid.UUID, claimers)
	var stateErrs int64
	var mu sync.Mutex

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agentID := uuid.New()
			err := store.Atomic(ctx, func(tx Tx) error {
				claimed, err := tx.ClaimCashOut(ctx, "12345678", agentID, time.Now())
				if err != nil {
					return err
				}
				wins <- *claimed.AgentID
				return nil
			})
			if errors.Is(err, domain.ErrState) {
				mu.Lock()
				stateErrs++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []uuid.UUID
	for id := range wins {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1, "exactly one claim must win")
	assert.EqualValues(t, claimers-1, stateErrs)

	final, err := store.CashOutByToken(ctx, "12345678")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, final.Status)
	redeemer, ok := final.RedeemedBy()
	require.True(t, ok)
	assert.Equal(t, winners[0], redeemer)
}

func TestClaimCashOutUnknownToken(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	err := store.Atomic(ctx, func(tx Tx) error {
		_, err := tx.ClaimCashOut(ctx, "00000000", uuid.New(), time.Now())
		return err
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEntriesPaginationNewestFirst(t *testing.T) {
	store := NewMemory()
	_, w := SeedUser(t, store, "sidi", decimal.Zero)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ref := "TOP-00000000000" + string(rune('A'+i))
		require.NoError(t, store.Atomic(ctx, func(tx Tx) error {
			return tx.InsertEntry(ctx, &models.LedgerEntry{
				ID:        uuid.New(),
				WalletID:  w.ID,
				Type:      domain.EntryTypeTopup,
				Amount:    decimal.NewFromInt(int64(i + 1)),
				Status:    domain.StatusSuccess,
				Reference: ref,
			})
		}))
	}

	page, err := store.Entries(ctx, w.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "TOP-00000000000E", page[0].Reference)
	assert.Equal(t, "TOP-00000000000D", page[1].Reference)

	rest, err := store.Entries(ctx, w.ID, 10, 4)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "TOP-00000000000A", rest[0].Reference)
}

func TestEntriesSumMatchesBalanceAfterSeed(t *testing.T) {
	store := NewMemory()
	_, w := SeedUser(t, store, "oumar", decimal.NewFromInt(750))
	ctx := context.Background()

	sum, err := store.EntriesSum(ctx, w.ID)
	require.NoError(t, err)
	got, err := store.Wallet(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(got.Balance), "sum %s balance %s", sum, got.Balance)
}

func TestConcurrentTransfersKeepTotal(t *testing.T) {
	store := NewMemory()
	_, a := SeedUser(t, store, "alpha", decimal.NewFromInt(1000))
	_, b := SeedUser(t, store, "beta", decimal.NewFromInt(1000))
	ctx := context.Background()

	// Half the goroutines move a->b, half b->a, always locking in
	// ascending wallet ID order.
	move := func(from, to uuid.UUID, amount decimal.Decimal) error {
		return store.Atomic(ctx, func(tx Tx) error {
			first, second := from, to
			if second.String() < first.String() {
				first, second = second, first
			}
			w1, err := tx.AcquireWallet(ctx, first)
			if err != nil {
				return err
			}
			w2, err := tx.AcquireWallet(ctx, second)
			if err != nil {
				return err
			}
			src, dst := w1, w2
			if src.ID != from {
				src, dst = w2, w1
			}
			if err := tx.DebitWallet(ctx, src, amount); err != nil {
				return err
			}
			return tx.CreditWallet(ctx, dst, amount)
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		from, to := a.ID, b.ID
		if i%2 == 1 {
			from, to = b.ID, a.ID
		}
		go func() {
			defer wg.Done()
			_ = move(from, to, decimal.NewFromInt(5))
		}()
	}
	wg.Wait()

	wa, err := store.Wallet(ctx, a.ID)
	require.NoError(t, err)
	wb, err := store.Wallet(ctx, b.ID)
	require.NoError(t, err)
	total := wa.Balance.Add(wb.Balance)
	assert.True(t, total.Equal(decimal.NewFromInt(2000)), "total %s", total)
}
