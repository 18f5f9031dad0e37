package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sahelpay/sahelpay/internal/models"
)

// WalletService answers balance and statement queries.
type WalletService struct {
	deps *Deps
}

func NewWalletService(deps *Deps) *WalletService {
	return &WalletService{deps: deps}
}

func (s *WalletService) Balance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return s.deps.Store.WalletByUserID(ctx, userID)
}

// Statement returns the wallet's ledger entries, newest first.
func (s *WalletService) Statement(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error) {
	wallet, err := s.deps.Store.WalletByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.deps.Store.Entries(ctx, wallet.ID, limit, offset)
}
