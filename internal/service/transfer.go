package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/ledger"
	"github.com/sahelpay/sahelpay/internal/models"
	"github.com/sahelpay/sahelpay/internal/notification"
	"github.com/sahelpay/sahelpay/internal/observability"
	"github.com/shopspring/decimal"
)

// TransferService moves value between two customer wallets.
type TransferService struct {
	deps *Deps
}

func NewTransferService(deps *Deps) *TransferService {
	return &TransferService{deps: deps}
}

// TransferCmd is one peer transfer request. Receiver is a phone number or
// username.
type TransferCmd struct {
	SenderUserID   uuid.UUID
	Receiver       string
	Amount         decimal.Decimal
	Note           string
	IdempotencyKey string
}

// Transfer debits the sender the amount plus fee and credits the receiver
// the amount, all inside one atomic unit. A replay of the same idempotency
// key with the same parameters returns the recorded transfer; the same key
// with different parameters is rejected.
func (s *TransferService) Transfer(ctx context.Context, cmd TransferCmd) (*models.Transfer, error) {
	if err := requireKey(cmd.IdempotencyKey); err != nil {
		return nil, err
	}
	if !cmd.Amount.IsPositive() || cmd.Amount.LessThan(s.deps.Policy.TransferMin) {
		return nil, domain.ValidationErrorf("transfer amount must be at least %s",
			domain.FormatAmount(s.deps.Policy.TransferMin))
	}
	if cmd.Receiver == "" {
		return nil, domain.ValidationErrorf("receiver is required")
	}

	if existing, err := s.replay(ctx, cmd, nil); existing != nil || err != nil {
		return existing, err
	}

	senderWallet, err := s.deps.Store.WalletByUserID(ctx, cmd.SenderUserID)
	if err != nil {
		return nil, err
	}
	receiver, err := s.deps.Store.UserByIdentifier(ctx, cmd.Receiver)
	if err != nil {
		return nil, domain.NotFoundErrorf("receiver %q not found", cmd.Receiver)
	}
	receiverWallet, err := s.deps.Store.WalletByUserID(ctx, receiver.ID)
	if err != nil {
		return nil, err
	}
	if senderWallet.ID == receiverWallet.ID {
		return nil, domain.ValidationErrorf("cannot transfer to your own wallet")
	}

	fee := s.deps.Fees.For(domain.FeeOpTransfer, cmd.Amount)

	var transfer *models.Transfer
	for attempt := 0; attempt < maxReferenceRetries; attempt++ {
		ref := s.deps.Refs.Reference(domain.RefPrefixTransfer)
		transfer, err = s.execute(ctx, cmd, senderWallet.ID, receiverWallet.ID, fee, ref)
		if err == nil {
			break
		}
		if ledger.IsIdempotencyConflict(err) {
			// A concurrent request with the same key committed first.
			return s.replay(ctx, cmd, err)
		}
		if _, dup := ledger.IsDuplicate(err); dup {
			continue
		}
		observability.IncrementOperation("transfer", "error")
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("transfer reference collisions exhausted: %w", err)
	}

	observability.IncrementOperation("transfer", "success")
	s.deps.Notifier.Notify(ctx, cmd.SenderUserID, notification.EventTransferSent,
		fmt.Sprintf("You sent %s %s to %s", domain.FormatAmount(cmd.Amount), domain.Currency, receiver.Username))
	s.deps.Notifier.Notify(ctx, receiver.ID, notification.EventTransferReceived,
		fmt.Sprintf("You received %s %s", domain.FormatAmount(cmd.Amount), domain.Currency))
	return transfer, nil
}

// execute runs the balance mutation and record writes for one attempt.
// Wallets are locked in ascending ID order to prevent deadlock against
// transfers running in the opposite direction.
func (s *TransferService) execute(ctx context.Context, cmd TransferCmd, senderID, receiverID uuid.UUID, fee decimal.Decimal, ref string) (*models.Transfer, error) {
	transfer := &models.Transfer{
		ID:               uuid.New(),
		SenderWalletID:   senderID,
		ReceiverWalletID: receiverID,
		Amount:           cmd.Amount,
		Note:             cmd.Note,
		Status:           domain.StatusSuccess,
		Reference:        ref,
		IdempotencyKey:   cmd.IdempotencyKey,
	}
	now := s.deps.now()

	err := s.deps.Store.Atomic(ctx, func(tx ledger.Tx) error {
		firstID, secondID := orderWalletIDs(senderID, receiverID)
		first, err := tx.AcquireWallet(ctx, firstID)
		if err != nil {
			return err
		}
		second, err := tx.AcquireWallet(ctx, secondID)
		if err != nil {
			return err
		}
		sender, recv := first, second
		if sender.ID != senderID {
			sender, recv = second, first
		}

		if err := requireUnlocked(sender.Locked); err != nil {
			return err
		}
		if err := requireUnlocked(recv.Locked); err != nil {
			return err
		}

		if err := tx.DebitWallet(ctx, sender, cmd.Amount); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &models.LedgerEntry{
			ID:           uuid.New(),
			WalletID:     sender.ID,
			Type:         domain.EntryTypeTransfer,
			Amount:       cmd.Amount.Neg(),
			BalanceAfter: sender.Balance,
			Status:       domain.StatusSuccess,
			Reference:    ref + "-OUT",
			CompletedAt:  &now,
		}); err != nil {
			return err
		}

		if fee.IsPositive() {
			if err := tx.DebitWallet(ctx, sender, fee); err != nil {
				return err
			}
			if err := tx.InsertEntry(ctx, &models.LedgerEntry{
				ID:           uuid.New(),
				WalletID:     sender.ID,
				Type:         domain.EntryTypeFee,
				Amount:       fee.Neg(),
				BalanceAfter: sender.Balance,
				Status:       domain.StatusSuccess,
				Reference:    ref + "-FEE",
				CompletedAt:  &now,
			}); err != nil {
				return err
			}
		}

		if err := tx.CreditWallet(ctx, recv, cmd.Amount); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &models.LedgerEntry{
			ID:           uuid.New(),
			WalletID:     recv.ID,
			Type:         domain.EntryTypeTransfer,
			Amount:       cmd.Amount,
			BalanceAfter: recv.Balance,
			Status:       domain.StatusSuccess,
			Reference:    ref + "-IN",
			CompletedAt:  &now,
		}); err != nil {
			return err
		}

		if err := tx.InsertTransfer(ctx, transfer); err != nil {
			return err
		}
		return writeAudit(ctx, tx, "transfer", transfer.ID, &cmd.SenderUserID,
			"transfer.create", "", domain.StatusSuccess, map[string]any{
				"reference": ref,
				"amount":    domain.FormatAmount(cmd.Amount),
				"fee":       domain.FormatAmount(fee),
			})
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// replay looks up the transfer recorded under cmd's idempotency key and
// verifies the parameters match. cause, when non-nil, is the storage
// conflict that triggered the replay.
func (s *TransferService) replay(ctx context.Context, cmd TransferCmd, cause error) (*models.Transfer, error) {
	existing, err := s.deps.Store.TransferByKey(ctx, cmd.IdempotencyKey)
	if err != nil {
		if cause != nil {
			return nil, cause
		}
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, nil
		}
		return nil, err
	}

	senderWallet, err := s.deps.Store.WalletByUserID(ctx, cmd.SenderUserID)
	if err != nil {
		return nil, err
	}
	receiverWalletID, err := s.receiverWalletID(ctx, cmd.Receiver)
	if err != nil {
		return nil, err
	}
	if existing.SenderWalletID != senderWallet.ID ||
		existing.ReceiverWalletID != receiverWalletID ||
		!existing.Amount.Equal(cmd.Amount) ||
		existing.Note != cmd.Note {
		return nil, domain.DuplicateOperationErrorf("idempotency key reused with different parameters")
	}
	observability.IncrementOperation("transfer", "replay")
	return existing, nil
}

// receiverWalletID resolves a receiver identifier to its wallet ID. A
// receiver that cannot be resolved during a replay counts as a parameter
// mismatch rather than a lookup failure.
func (s *TransferService) receiverWalletID(ctx context.Context, receiver string) (uuid.UUID, error) {
	user, err := s.deps.Store.UserByIdentifier(ctx, receiver)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return uuid.Nil, domain.DuplicateOperationErrorf("idempotency key reused with different parameters")
		}
		return uuid.Nil, err
	}
	wallet, err := s.deps.Store.WalletByUserID(ctx, user.ID)
	if err != nil {
		return uuid.Nil, err
	}
	return wallet.ID, nil
}
