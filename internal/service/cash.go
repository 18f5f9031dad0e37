package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/ledger"
	"github.com/sahelpay/sahelpay/internal/models"
	"github.com/sahelpay/sahelpay/internal/notification"
	"github.com/sahelpay/sahelpay/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CashService handles agent-mediated cash-in and the two-phase cash-out
// workflow: request debits the customer and issues a single-use token,
// completion binds the redeeming agent via a compare-and-set transition.
type CashService struct {
	deps *Deps
}

func NewCashService(deps *Deps) *CashService {
	return &CashService{deps: deps}
}

// CashInCmd credits a customer wallet with cash received by an agent. The
// physical cash leg stays off-ledger.
type CashInCmd struct {
	AgentUserID    uuid.UUID
	Customer       string
	Amount         decimal.Decimal
	IdempotencyKey string
}

func (s *CashService) CashIn(ctx context.Context, cmd CashInCmd) (*models.CashOperation, error) {
	if err := requireKey(cmd.IdempotencyKey); err != nil {
		return nil, err
	}
	if !domain.WithinBounds(cmd.Amount, s.deps.Policy.CashMin, s.deps.Policy.CashMax) {
		return nil, domain.ValidationErrorf("cash amount must be between %s and %s",
			domain.FormatAmount(s.deps.Policy.CashMin), domain.FormatAmount(s.deps.Policy.CashMax))
	}

	agent, err := s.requireActiveAgent(ctx, cmd.AgentUserID)
	if err != nil {
		return nil, err
	}

	if existing, err := s.replayCashIn(ctx, cmd, nil); existing != nil || err != nil {
		return existing, err
	}

	customer, err := s.deps.Store.UserByIdentifier(ctx, cmd.Customer)
	if err != nil {
		return nil, domain.NotFoundErrorf("customer %q not found", cmd.Customer)
	}
	wallet, err := s.deps.Store.WalletByUserID(ctx, customer.ID)
	if err != nil {
		return nil, err
	}

	var op *models.CashOperation
	for attempt := 0; attempt < maxReferenceRetries; attempt++ {
		ref := s.deps.Refs.Reference(domain.RefPrefixCashIn)
		op, err = s.executeCashIn(ctx, cmd, agent, wallet.ID, ref)
		if err == nil {
			break
		}
		if ledger.IsIdempotencyConflict(err) {
			return s.replayCashIn(ctx, cmd, err)
		}
		if _, dup := ledger.IsDuplicate(err); dup {
			continue
		}
		observability.IncrementOperation("cash_in", "error")
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("cash-in reference collisions exhausted: %w", err)
	}

	observability.IncrementOperation("cash_in", "success")
	s.deps.Notifier.Notify(ctx, customer.ID, notification.EventCashIn,
		fmt.Sprintf("Cash deposit of %s %s received", domain.FormatAmount(cmd.Amount), domain.Currency))
	return op, nil
}

func (s *CashService) executeCashIn(ctx context.Context, cmd CashInCmd, agent *models.Agent, walletID uuid.UUID, ref string) (*models.CashOperation, error) {
	now := s.deps.now()
	agentID := agent.ID
	op := &models.CashOperation{
		ID:             uuid.New(),
		AgentID:        &agentID,
		WalletID:       walletID,
		Kind:           domain.CashKindIn,
		Amount:         cmd.Amount,
		Status:         domain.StatusSuccess,
		Reference:      ref,
		IdempotencyKey: cmd.IdempotencyKey,
		CreatedAt:      now,
		CompletedAt:    &now,
	}

	err := s.deps.Store.Atomic(ctx, func(tx ledger.Tx) error {
		wallet, err := tx.AcquireWallet(ctx, walletID)
		if err != nil {
			return err
		}
		if err := requireUnlocked(wallet.Locked); err != nil {
			return err
		}
		if err := tx.CreditWallet(ctx, wallet, cmd.Amount); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &models.LedgerEntry{
			ID:           uuid.New(),
			WalletID:     wallet.ID,
			Type:         domain.EntryTypeCashIn,
			Amount:       cmd.Amount,
			BalanceAfter: wallet.Balance,
			Status:       domain.StatusSuccess,
			Reference:    ref,
			CompletedAt:  &now,
		}); err != nil {
			return err
		}
		if err := tx.InsertCashOperation(ctx, op); err != nil {
			return err
		}
		return writeAudit(ctx, tx, "cash_operation", op.ID, &cmd.AgentUserID,
			"cash.in", "", domain.StatusSuccess, map[string]any{
				"reference": ref,
				"amount":    domain.FormatAmount(cmd.Amount),
			})
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// CashOutRequestCmd debits the customer immediately and issues a token the
// customer hands to an agent together with the cash expectation.
type CashOutRequestCmd struct {
	CustomerUserID uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
}

func (s *CashService) CashOutRequest(ctx context.Context, cmd CashOutRequestCmd) (*models.CashOperation, error) {
	if err := requireKey(cmd.IdempotencyKey); err != nil {
		return nil, err
	}
	if !domain.WithinBounds(cmd.Amount, s.deps.Policy.CashMin, s.deps.Policy.CashMax) {
		return nil, domain.ValidationErrorf("cash amount must be between %s and %s",
			domain.FormatAmount(s.deps.Policy.CashMin), domain.FormatAmount(s.deps.Policy.CashMax))
	}

	if existing, err := s.replayCashOut(ctx, cmd, nil); existing != nil || err != nil {
		return existing, err
	}

	wallet, err := s.deps.Store.WalletByUserID(ctx, cmd.CustomerUserID)
	if err != nil {
		return nil, err
	}
	fee := s.deps.Fees.For(domain.FeeOpCashOut, cmd.Amount)

	var op *models.CashOperation
	for attempt := 0; attempt < maxReferenceRetries; attempt++ {
		ref := s.deps.Refs.Reference(domain.RefPrefixCashOut)
		token := s.deps.Refs.Token()
		op, err = s.executeCashOutRequest(ctx, cmd, wallet.ID, fee, ref, token)
		if err == nil {
			break
		}
		if ledger.IsIdempotencyConflict(err) {
			return s.replayCashOut(ctx, cmd, err)
		}
		if _, dup := ledger.IsDuplicate(err); dup {
			continue
		}
		observability.IncrementOperation("cash_out_request", "error")
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("cash-out reference collisions exhausted: %w", err)
	}

	observability.IncrementOperation("cash_out_request", "success")
	observability.AddPendingCashOuts(1)
	s.deps.Notifier.Notify(ctx, cmd.CustomerUserID, notification.EventCashOutRequested,
		fmt.Sprintf("Cash-out of %s %s requested, token %s", domain.FormatAmount(cmd.Amount), domain.Currency, op.Token))
	return op, nil
}

func (s *CashService) executeCashOutRequest(ctx context.Context, cmd CashOutRequestCmd, walletID uuid.UUID, fee decimal.Decimal, ref, token string) (*models.CashOperation, error) {
	now := s.deps.now()
	op := &models.CashOperation{
		ID:             uuid.New(),
		WalletID:       walletID,
		Kind:           domain.CashKindOut,
		Amount:         cmd.Amount,
		Status:         domain.StatusPending,
		Token:          token,
		Reference:      ref,
		IdempotencyKey: cmd.IdempotencyKey,
		Metadata:       map[string]any{"fee": domain.FormatAmount(fee)},
		CreatedAt:      now,
	}

	err := s.deps.Store.Atomic(ctx, func(tx ledger.Tx) error {
		wallet, err := tx.AcquireWallet(ctx, walletID)
		if err != nil {
			return err
		}
		if err := requireUnlocked(wallet.Locked); err != nil {
			return err
		}

		if err := tx.DebitWallet(ctx, wallet, cmd.Amount); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &models.LedgerEntry{
			ID:           uuid.New(),
			WalletID:     wallet.ID,
			Type:         domain.EntryTypeWithdraw,
			Amount:       cmd.Amount.Neg(),
			BalanceAfter: wallet.Balance,
			Status:       domain.StatusPending,
			Reference:    ref,
		}); err != nil {
			return err
		}

		if fee.IsPositive() {
			if err := tx.DebitWallet(ctx, wallet, fee); err != nil {
				return err
			}
			if err := tx.InsertEntry(ctx, &models.LedgerEntry{
				ID:           uuid.New(),
				WalletID:     wallet.ID,
				Type:         domain.EntryTypeFee,
				Amount:       fee.Neg(),
				BalanceAfter: wallet.Balance,
				Status:       domain.StatusSuccess,
				Reference:    ref + "-FEE",
				CompletedAt:  &now,
			}); err != nil {
				return err
			}
		}

		if err := tx.InsertCashOperation(ctx, op); err != nil {
			return err
		}
		return writeAudit(ctx, tx, "cash_operation", op.ID, &cmd.CustomerUserID,
			"cash.out.request", "", domain.StatusPending, map[string]any{
				"reference": ref,
				"amount":    domain.FormatAmount(cmd.Amount),
				"fee":       domain.FormatAmount(fee),
			})
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// CashOutComplete redeems a token. The claim is a conditional transition on
// the PENDING operation, so of any number of concurrent attempts exactly one
// agent wins; the rest observe StateError.
func (s *CashService) CashOutComplete(ctx context.Context, agentUserID uuid.UUID, token string) (*models.CashOperation, error) {
	if len(token) != domain.TokenLength {
		return nil, domain.ValidationErrorf("token must be %d digits", domain.TokenLength)
	}
	agent, err := s.requireActiveAgent(ctx, agentUserID)
	if err != nil {
		return nil, err
	}

	var op *models.CashOperation
	err = s.deps.Store.Atomic(ctx, func(tx ledger.Tx) error {
		claimed, err := tx.ClaimCashOut(ctx, token, agent.ID, s.deps.now())
		if err != nil {
			return err
		}
		if err := tx.CompleteEntry(ctx, claimed.Reference, s.deps.now()); err != nil {
			return err
		}
		op = claimed
		return writeAudit(ctx, tx, "cash_operation", claimed.ID, &agentUserID,
			"cash.out.complete", domain.StatusPending, domain.StatusSuccess, map[string]any{
				"reference": claimed.Reference,
				"agent_id":  agent.ID.String(),
			})
	})
	if err != nil {
		observability.IncrementOperation("cash_out_complete", "error")
		return nil, err
	}

	observability.IncrementOperation("cash_out_complete", "success")
	observability.AddPendingCashOuts(-1)
	if wallet, werr := s.deps.Store.Wallet(ctx, op.WalletID); werr == nil {
		s.deps.Notifier.Notify(ctx, wallet.UserID, notification.EventCashOutCompleted,
			fmt.Sprintf("Cash-out of %s %s paid out by agent", domain.FormatAmount(op.Amount), domain.Currency))
	}
	return op, nil
}

// ExpireCashOuts reverses PENDING cash-outs older than the redemption
// window: the operation fails, the customer is refunded the amount plus fee.
// Returns the number of operations reversed.
func (s *CashService) ExpireCashOuts(ctx context.Context, limit int) (int, error) {
	cutoff := s.deps.now().Add(-s.deps.Policy.CashOutTTL)
	ops, err := s.deps.Store.ExpiredPendingCashOuts(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	reversed := 0
	for i := range ops {
		op := ops[i]
		if err := s.expireOne(ctx, &op); err != nil {
			if domain.KindOf(err) == domain.KindState {
				// Lost the race against an agent redemption. Fine.
				continue
			}
			zap.L().Error("cash-out expiry failed",
				zap.String("reference", op.Reference), zap.Error(err))
			continue
		}
		reversed++
		observability.AddPendingCashOuts(-1)
		if wallet, werr := s.deps.Store.Wallet(ctx, op.WalletID); werr == nil {
			s.deps.Notifier.Notify(ctx, wallet.UserID, notification.EventCashOutExpired,
				fmt.Sprintf("Cash-out %s expired, %s %s refunded", op.Reference,
					domain.FormatAmount(op.Amount.Add(feeFromMetadata(op.Metadata))), domain.Currency))
		}
	}
	return reversed, nil
}

func (s *CashService) expireOne(ctx context.Context, op *models.CashOperation) error {
	if !canTransition(op.Status, domain.StatusFailed) {
		return domain.StateErrorf("cash operation %s already processed", op.ID)
	}
	refund := op.Amount.Add(feeFromMetadata(op.Metadata))
	now := s.deps.now()

	return s.deps.Store.Atomic(ctx, func(tx ledger.Tx) error {
		wallet, err := tx.AcquireWallet(ctx, op.WalletID)
		if err != nil {
			return err
		}
		if _, err := tx.FailCashOut(ctx, op.ID, now); err != nil {
			return err
		}
		if err := tx.CreditWallet(ctx, wallet, refund); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &models.LedgerEntry{
			ID:           uuid.New(),
			WalletID:     wallet.ID,
			Type:         domain.EntryTypeReversal,
			Amount:       refund,
			BalanceAfter: wallet.Balance,
			Status:       domain.StatusSuccess,
			Reference:    op.Reference + "-REV",
			CompletedAt:  &now,
		}); err != nil {
			return err
		}
		if err := tx.FailEntry(ctx, op.Reference, now); err != nil {
			return err
		}
		return writeAudit(ctx, tx, "cash_operation", op.ID, nil,
			"cash.out.expire", domain.StatusPending, domain.StatusFailed, map[string]any{
				"reference": op.Reference,
				"refund":    domain.FormatAmount(refund),
			})
	})
}

// PendingCashOutToken looks up a pending cash-out by token so an agent can
// preview the amount before paying out.
func (s *CashService) PendingCashOutToken(ctx context.Context, agentUserID uuid.UUID, token string) (*models.CashOperation, error) {
	if _, err := s.requireActiveAgent(ctx, agentUserID); err != nil {
		return nil, err
	}
	op, err := s.deps.Store.CashOutByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !op.Pending() {
		return nil, domain.StateErrorf("token already processed")
	}
	return op, nil
}

func (s *CashService) requireActiveAgent(ctx context.Context, userID uuid.UUID) (*models.Agent, error) {
	agent, err := s.deps.Store.AgentByUserID(ctx, userID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, domain.PermissionErrorf("user is not a registered agent")
		}
		return nil, err
	}
	if !agent.Active {
		return nil, domain.PermissionErrorf("agent profile is deactivated")
	}
	return agent, nil
}

func (s *CashService) replayCashIn(ctx context.Context, cmd CashInCmd, cause error) (*models.CashOperation, error) {
	return s.replayCash(ctx, cmd.IdempotencyKey, domain.CashKindIn, cmd.Amount, cause, func() (uuid.UUID, error) {
		customer, err := s.deps.Store.UserByIdentifier(ctx, cmd.Customer)
		if err != nil {
			return uuid.Nil, err
		}
		wallet, err := s.deps.Store.WalletByUserID(ctx, customer.ID)
		if err != nil {
			return uuid.Nil, err
		}
		return wallet.ID, nil
	})
}

func (s *CashService) replayCashOut(ctx context.Context, cmd CashOutRequestCmd, cause error) (*models.CashOperation, error) {
	return s.replayCash(ctx, cmd.IdempotencyKey, domain.CashKindOut, cmd.Amount, cause, func() (uuid.UUID, error) {
		wallet, err := s.deps.Store.WalletByUserID(ctx, cmd.CustomerUserID)
		if err != nil {
			return uuid.Nil, err
		}
		return wallet.ID, nil
	})
}

// replayCash verifies every parameter of the recorded operation, including
// the target wallet. walletID resolves the wallet the current request names;
// a wallet that no longer resolves counts as a parameter mismatch.
func (s *CashService) replayCash(ctx context.Context, key, kind string, amount decimal.Decimal, cause error, walletID func() (uuid.UUID, error)) (*models.CashOperation, error) {
	existing, err := s.deps.Store.CashOperationByKey(ctx, key)
	if err != nil {
		if cause != nil {
			return nil, cause
		}
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	wantWallet, err := walletID()
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, domain.DuplicateOperationErrorf("idempotency key reused with different parameters")
		}
		return nil, err
	}
	if existing.Kind != kind || existing.WalletID != wantWallet || !existing.Amount.Equal(amount) {
		return nil, domain.DuplicateOperationErrorf("idempotency key reused with different parameters")
	}
	observability.IncrementOperation("cash_"+strings.ToLower(kind), "replay")
	return existing, nil
}
