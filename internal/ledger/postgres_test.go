package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/models"
	"github.com/sahelpay/sahelpay/internal/testutil/dblock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPostgresStore connects to the database named by TEST_DATABASE_URL, or
// skips. The dblock guard serializes test binaries sharing the database.
func newPostgresStore(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	release := dblock.Acquire()
	t.Cleanup(release)

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewPostgres(pool)
}

func TestPostgresAtomicEntrySum(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	user, wallet := SeedUser(t, store, "pg-"+uuid.NewString()[:8], decimal.NewFromInt(1000))

	err := store.Atomic(ctx, func(tx Tx) error {
		w, err := tx.AcquireWallet(ctx, wallet.ID)
		if err != nil {
			return err
		}
		if err := tx.DebitWallet(ctx, w, decimal.NewFromInt(300)); err != nil {
			return err
		}
		return tx.InsertEntry(ctx, &models.LedgerEntry{
			ID:           uuid.New(),
			WalletID:     w.ID,
			Type:         domain.EntryTypeWithdraw,
			Amount:       decimal.NewFromInt(300).Neg(),
			BalanceAfter: w.Balance,
			Status:       domain.StatusSuccess,
			Reference:    "WDR-" + uuid.NewString()[:12],
		})
	})
	require.NoError(t, err)

	w, err := store.WalletByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(700)))

	sum, err := store.EntriesSum(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(w.Balance))
}

func TestPostgresRollbackLeavesNoTrace(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	_, wallet := SeedUser(t, store, "pg-"+uuid.NewString()[:8], decimal.NewFromInt(500))

	ref := "WDR-" + uuid.NewString()[:12]
	err := store.Atomic(ctx, func(tx Tx) error {
		w, err := tx.AcquireWallet(ctx, wallet.ID)
		if err != nil {
			return err
		}
		if err := tx.DebitWallet(ctx, w, decimal.NewFromInt(100)); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &models.LedgerEntry{
			ID:           uuid.New(),
			WalletID:     w.ID,
			Type:         domain.EntryTypeWithdraw,
			Amount:       decimal.NewFromInt(100).Neg(),
			BalanceAfter: w.Balance,
			Status:       domain.StatusSuccess,
			Reference:    ref,
		}); err != nil {
			return err
		}
		return domain.StateErrorf("forced rollback")
	})
	require.Error(t, err)

	w, err := store.Wallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(500)))
	_, err = store.EntryByReference(ctx, ref)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresDuplicateReference(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	_, wallet := SeedUser(t, store, "pg-"+uuid.NewString()[:8], decimal.NewFromInt(100))

	ref := "TRF-" + uuid.NewString()[:12]
	insert := func() error {
		return store.Atomic(ctx, func(tx Tx) error {
			return tx.InsertEntry(ctx, &models.LedgerEntry{
				ID:           uuid.New(),
				WalletID:     wallet.ID,
				Type:         domain.EntryTypeTransfer,
				Amount:       decimal.NewFromInt(1),
				BalanceAfter: decimal.NewFromInt(101),
				Status:       domain.StatusSuccess,
				Reference:    ref,
			})
		})
	}
	require.NoError(t, insert())

	err := insert()
	constraint, ok := IsDuplicate(err)
	require.True(t, ok)
	assert.Equal(t, "ledger_entries_reference_key", constraint)
}
