package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/observability"
	"go.uber.org/zap"
)

// ReconciliationService verifies the core ledger invariant: for every
// wallet, the running sum of signed entry amounts equals the balance.
type ReconciliationService struct {
	deps *Deps
}

func NewReconciliationService(deps *Deps) *ReconciliationService {
	return &ReconciliationService{deps: deps}
}

// Report summarizes one reconciliation sweep.
type Report struct {
	Checked    int         `json:"checked"`
	Imbalanced []uuid.UUID `json:"imbalanced,omitempty"`
}

// Run sweeps every wallet. Imbalances are reported and counted, never
// corrected automatically.
func (s *ReconciliationService) Run(ctx context.Context) (*Report, error) {
	ids, err := s.deps.Store.WalletIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}

	report := &Report{}
	for _, id := range ids {
		wallet, err := s.deps.Store.Wallet(ctx, id)
		if err != nil {
			return nil, err
		}
		sum, err := s.deps.Store.EntriesSum(ctx, id)
		if err != nil {
			return nil, err
		}
		report.Checked++
		if !sum.Equal(wallet.Balance) {
			report.Imbalanced = append(report.Imbalanced, id)
			observability.IncrementLedgerImbalance(id.String())
			zap.L().Error("CRITICAL: wallet imbalance detected",
				zap.String("wallet_id", id.String()),
				zap.String("balance", domain.FormatAmount(wallet.Balance)),
				zap.String("entries_sum", domain.FormatAmount(sum)))
		}
	}

	if len(report.Imbalanced) == 0 {
		zap.L().Info("ledger balanced", zap.Int("wallets", report.Checked))
	}
	return report, nil
}
