package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// SeedUser creates a customer user with a wallet holding balance. The opening
// balance is backed by a seed cash-in entry so the wallet reconciles.
func SeedUser(t *testing.T, store Store, username string, balance decimal.Decimal) (*models.User, *models.Wallet) {
	t.Helper()
	return seed(t, store, username, domain.RoleCustomer, balance)
}

// SeedAgent creates an agent user with an agent profile and a wallet.
func SeedAgent(t *testing.T, store Store, username string, balance decimal.Decimal) (*models.User, *models.Agent, *models.Wallet) {
	t.Helper()
	u, w := seed(t, store, username, domain.RoleAgent, balance)
	a := &models.Agent{
		ID:       uuid.New(),
		UserID:   u.ID,
		Name:     username,
		Location: "Nouakchott",
		Active:   true,
	}
	require.NoError(t, store.CreateAgent(context.Background(), a))
	return u, a, w
}

func seed(t *testing.T, store Store, username, role string, balance decimal.Decimal) (*models.User, *models.Wallet) {
	t.Helper()
	ctx := context.Background()

	u := &models.User{
		ID:       uuid.New(),
		Username: username,
		Phone:    "3" + uuid.NewString()[:7],
		Role:     role,
	}
	require.NoError(t, store.CreateUser(ctx, u))

	w := &models.Wallet{ID: uuid.New(), UserID: u.ID, Balance: balance}
	require.NoError(t, store.CreateWallet(ctx, w))

	if balance.IsPositive() {
		now := time.Now().UTC()
		err := store.Atomic(ctx, func(tx Tx) error {
			return tx.InsertEntry(ctx, &models.LedgerEntry{
				ID:           uuid.New(),
				WalletID:     w.ID,
				Type:         domain.EntryTypeCashIn,
				Amount:       balance,
				BalanceAfter: balance,
				Status:       domain.StatusSuccess,
				Reference:    "CASHIN-SEED" + uuid.NewString()[:8],
				CompletedAt:  &now,
			})
		})
		require.NoError(t, err)
	}
	return u, w
}
