package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/models"
	"github.com/shopspring/decimal"
)

// Postgres is the production Store. Atomic units map to SQL transactions,
// wallet locks to SELECT ... FOR UPDATE, and the unique constraints on
// reference, token and idempotency_key columns are the authoritative
// duplicate guards.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store over a pgx connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Atomic executes fn within one database transaction.
func (s *Postgres) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func wrapPG(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &DuplicateError{Constraint: pgErr.ConstraintName}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	var balance string
	if err := row.Scan(&w.ID, &w.UserID, &balance, &w.Locked, &w.Version, &w.UpdatedAt); err != nil {
		return nil, err
	}
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse wallet balance: %w", err)
	}
	w.Balance = b
	return &w, nil
}

const walletColumns = `id, user_id, balance::text, locked, version, updated_at`

func (t *pgTx) AcquireWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	w, err := scanWallet(t.tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundErrorf("wallet %s not found", id)
		}
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return w, nil
}

func (t *pgTx) applyDelta(ctx context.Context, w *models.Wallet, delta decimal.Decimal) error {
	var balance string
	err := t.tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance + $1::numeric, version = version + 1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance::text, version, updated_at`,
		delta.StringFixed(2), w.ID,
	).Scan(&balance, &w.Version, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return fmt.Errorf("parse wallet balance: %w", err)
	}
	w.Balance = b
	return nil
}

func (t *pgTx) CreditWallet(ctx context.Context, w *models.Wallet, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ValidationErrorf("credit amount must be positive")
	}
	return t.applyDelta(ctx, w, amount)
}

func (t *pgTx) DebitWallet(ctx context.Context, w *models.Wallet, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ValidationErrorf("debit amount must be positive")
	}
	// The row lock makes this check race-free; the balance >= 0 CHECK
	// constraint is the storage-level backstop.
	if w.Balance.LessThan(amount) {
		return domain.InsufficientFundsErrorf("insufficient balance: available %s, required %s",
			domain.FormatAmount(w.Balance), domain.FormatAmount(amount))
	}
	return t.applyDelta(ctx, w, amount.Neg())
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (t *pgTx) InsertEntry(ctx context.Context, e *models.LedgerEntry) error {
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal entry metadata: %w", err)
	}
	err = t.tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, wallet_id, type, amount, balance_after, status, reference, idempotency_key, metadata, created_at, completed_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, NULLIF($8, ''), $9, NOW(), $10)
		RETURNING created_at`,
		e.ID, e.WalletID, e.Type, e.Amount.StringFixed(2), e.BalanceAfter.StringFixed(2),
		e.Status, e.Reference, e.IdempotencyKey, meta, e.CompletedAt,
	).Scan(&e.CreatedAt)
	if err != nil {
		return wrapPG(err, "insert ledger entry")
	}
	return nil
}

func (t *pgTx) InsertTransfer(ctx context.Context, tr *models.Transfer) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transfers (id, sender_wallet_id, receiver_wallet_id, amount, note, status, reference, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, NULLIF($8, ''), NOW())
		RETURNING created_at`,
		tr.ID, tr.SenderWalletID, tr.ReceiverWalletID, tr.Amount.StringFixed(2),
		tr.Note, tr.Status, tr.Reference, tr.IdempotencyKey,
	).Scan(&tr.CreatedAt)
	if err != nil {
		return wrapPG(err, "insert transfer")
	}
	return nil
}

func (t *pgTx) InsertCashOperation(ctx context.Context, op *models.CashOperation) error {
	meta, err := marshalMetadata(op.Metadata)
	if err != nil {
		return fmt.Errorf("marshal cash operation metadata: %w", err)
	}
	err = t.tx.QueryRow(ctx, `
		INSERT INTO cash_operations (id, agent_id, wallet_id, kind, amount, status, token, reference, idempotency_key, metadata, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, NULLIF($7, ''), $8, NULLIF($9, ''), $10, NOW(), $11)
		RETURNING created_at`,
		op.ID, op.AgentID, op.WalletID, op.Kind, op.Amount.StringFixed(2),
		op.Status, op.Token, op.Reference, op.IdempotencyKey, meta, op.CompletedAt,
	).Scan(&op.CreatedAt)
	if err != nil {
		return wrapPG(err, "insert cash operation")
	}
	return nil
}

const cashColumns = `id, agent_id, wallet_id, kind, amount::text, status, COALESCE(token, ''), reference, COALESCE(idempotency_key, ''), metadata, created_at, completed_at`

func scanCashOperation(row pgx.Row) (*models.CashOperation, error) {
	var op models.CashOperation
	var amount string
	var meta []byte
	if err := row.Scan(&op.ID, &op.AgentID, &op.WalletID, &op.Kind, &amount, &op.Status,
		&op.Token, &op.Reference, &op.IdempotencyKey, &meta, &op.CreatedAt, &op.CompletedAt); err != nil {
		return nil, err
	}
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse cash amount: %w", err)
	}
	op.Amount = a
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &op.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal cash metadata: %w", err)
		}
	}
	return &op, nil
}

func (t *pgTx) ClaimCashOut(ctx context.Context, token string, agentID uuid.UUID, now time.Time) (*models.CashOperation, error) {
	op, err := scanCashOperation(t.tx.QueryRow(ctx, `
		UPDATE cash_operations
		SET agent_id = $1, status = 'SUCCESS', completed_at = $2
		WHERE token = $3 AND kind = 'CASHOUT' AND status = 'PENDING'
		RETURNING `+cashColumns,
		agentID, now.UTC(), token))
	if err == nil {
		return op, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim cash-out: %w", err)
	}

	// Conditional update matched nothing: distinguish unknown token from a
	// token that has already been processed.
	_, lookupErr := scanCashOperation(t.tx.QueryRow(ctx,
		`SELECT `+cashColumns+` FROM cash_operations WHERE token = $1 AND kind = 'CASHOUT'`, token))
	if lookupErr != nil {
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return nil, domain.NotFoundErrorf("no cash-out found for token")
		}
		return nil, fmt.Errorf("look up cash-out: %w", lookupErr)
	}
	return nil, domain.StateErrorf("token already processed")
}

func (t *pgTx) FailCashOut(ctx context.Context, id uuid.UUID, now time.Time) (*models.CashOperation, error) {
	op, err := scanCashOperation(t.tx.QueryRow(ctx, `
		UPDATE cash_operations
		SET status = 'FAILED', completed_at = $1
		WHERE id = $2 AND status = 'PENDING'
		RETURNING `+cashColumns,
		now.UTC(), id))
	if err == nil {
		return op, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.StateErrorf("cash operation %s already processed", id)
	}
	return nil, fmt.Errorf("fail cash-out: %w", err)
}

func (t *pgTx) CompleteEntry(ctx context.Context, reference string, now time.Time) error {
	return t.finishEntry(ctx, reference, "SUCCESS", now)
}

func (t *pgTx) FailEntry(ctx context.Context, reference string, now time.Time) error {
	return t.finishEntry(ctx, reference, "FAILED", now)
}

func (t *pgTx) finishEntry(ctx context.Context, reference, status string, now time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE ledger_entries SET status = $1, completed_at = $2
		WHERE reference = $3 AND status = 'PENDING'`,
		status, now.UTC(), reference)
	if err != nil {
		return fmt.Errorf("finish ledger entry: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.StateErrorf("ledger entry %s is not pending", reference)
	}
	return nil
}

func (t *pgTx) AppendAudit(ctx context.Context, rec *models.AuditRecord) error {
	meta, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	if err := t.tx.QueryRow(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, NOW())
		RETURNING id, created_at`,
		rec.EntityType, rec.EntityID, rec.ActorID, rec.Action, rec.PrevState, rec.NextState, meta,
	).Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *Postgres) Wallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	w, err := scanWallet(s.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundErrorf("wallet %s not found", id)
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

func (s *Postgres) WalletByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w, err := scanWallet(s.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundErrorf("no wallet for user %s", userID)
		}
		return nil, fmt.Errorf("get wallet by user: %w", err)
	}
	return w, nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.Phone, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Postgres) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT id, username, phone, role, created_at FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundErrorf("user %s not found", id)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *Postgres) UserByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT id, username, phone, role, created_at FROM users WHERE phone = $1 OR username = $1`, identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundErrorf("user %q not found", identifier)
		}
		return nil, fmt.Errorf("get user by identifier: %w", err)
	}
	return u, nil
}

func (s *Postgres) AgentByUserID(ctx context.Context, userID uuid.UUID) (*models.Agent, error) {
	var a models.Agent
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, location, active, created_at FROM agents WHERE user_id = $1`, userID,
	).Scan(&a.ID, &a.UserID, &a.Name, &a.Location, &a.Active, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundErrorf("no agent profile for user %s", userID)
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

func (s *Postgres) Entries(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, wallet_id, type, amount::text, balance_after::text, status, reference, COALESCE(idempotency_key, ''), metadata, created_at, completed_at
		FROM ledger_entries
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var amount, after string
		var meta []byte
		if err := rows.Scan(&e.ID, &e.WalletID, &e.Type, &amount, &after, &e.Status,
			&e.Reference, &e.IdempotencyKey, &meta, &e.CreatedAt, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse entry amount: %w", err)
		}
		if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, fmt.Errorf("parse entry balance: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal entry metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Postgres) EntriesSum(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	var sum string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM ledger_entries WHERE wallet_id = $1`, walletID,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum ledger entries: %w", err)
	}
	d, err := decimal.NewFromString(sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse entries sum: %w", err)
	}
	return d, nil
}

func (s *Postgres) WalletIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM wallets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list wallet ids: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan wallet id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Postgres) TransferByKey(ctx context.Context, key string) (*models.Transfer, error) {
	var tr models.Transfer
	var amount string
	err := s.pool.QueryRow(ctx, `
		SELECT id, sender_wallet_id, receiver_wallet_id, amount::text, note, status, reference, COALESCE(idempotency_key, ''), created_at
		FROM transfers WHERE idempotency_key = $1`, key,
	).Scan(&tr.ID, &tr.SenderWalletID, &tr.ReceiverWalletID, &amount, &tr.Note,
		&tr.Status, &tr.Reference, &tr.IdempotencyKey, &tr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundErrorf("no transfer for idempotency key")
		}
		return nil, fmt.Errorf("get transfer by key: %w", err)
	}
	if tr.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse transfer amount: %w", err)
	}
	return &tr, nil
}

func (s *Postgres) CashOperationByKey(ctx context.Context, key string) (*models.CashOperation, error) {
	op, err := scanCashOperation(s.pool.QueryRow(ctx,
		`SELECT `+cashColumns+` FROM cash_operations WHERE idempotency_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundErrorf("no cash operation for idempotency key")
		}
		return nil, fmt.Errorf("get cash operation by key: %w", err)
	}
	return op, nil
}

func (s *Postgres) entryBy(ctx context.Context, where, arg string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var amount, after string
	var meta []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, wallet_id, type, amount::text, balance_after::text, status, reference, COALESCE(idempotency_key, ''), metadata, created_at, completed_at
		FROM ledger_entries WHERE `+where, arg,
	).Scan(&e.ID, &e.WalletID, &e.Type, &amount, &after, &e.Status,
		&e.Reference, &e.IdempotencyKey, &meta, &e.CreatedAt, &e.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundErrorf("ledger entry not found")
		}
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse entry amount: %w", err)
	}
	if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
		return nil, fmt.Errorf("parse entry balance: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal entry metadata: %w", err)
		}
	}
	return &e, nil
}

func (s *Postgres) EntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	return s.entryBy(ctx, `idempotency_key = $1`, key)
}

func (s *Postgres) EntryByReference(ctx context.Context, reference string) (*models.LedgerEntry, error) {
	return s.entryBy(ctx, `reference = $1`, reference)
}

func (s *Postgres) CashOutByToken(ctx context.Context, token string) (*models.CashOperation, error) {
	op, err := scanCashOperation(s.pool.QueryRow(ctx,
		`SELECT `+cashColumns+` FROM cash_operations WHERE token = $1 AND kind = 'CASHOUT'`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundErrorf("no cash-out found for token")
		}
		return nil, fmt.Errorf("get cash-out by token: %w", err)
	}
	return op, nil
}

func (s *Postgres) ExpiredPendingCashOuts(ctx context.Context, cutoff time.Time, limit int) ([]models.CashOperation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+cashColumns+`
		FROM cash_operations
		WHERE kind = 'CASHOUT' AND status = 'PENDING' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`,
		cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired cash-outs: %w", err)
	}
	defer rows.Close()

	var ops []models.CashOperation
	for rows.Next() {
		op, err := scanCashOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cash operation: %w", err)
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

func (s *Postgres) SetWalletLocked(ctx context.Context, id uuid.UUID, locked bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE wallets SET locked = $1, updated_at = NOW() WHERE id = $2`, locked, id)
	if err != nil {
		return fmt.Errorf("set wallet locked: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.NotFoundErrorf("wallet %s not found", id)
	}
	return nil
}

func (s *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, phone, role, created_at)
		VALUES ($1, $2, $3, $4, NOW()) RETURNING created_at`,
		u.ID, u.Username, u.Phone, u.Role,
	).Scan(&u.CreatedAt)
	if err != nil {
		return wrapPG(err, "create user")
	}
	return nil
}

func (s *Postgres) CreateAgent(ctx context.Context, a *models.Agent) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO agents (id, user_id, name, location, active, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING created_at`,
		a.ID, a.UserID, a.Name, a.Location, a.Active,
	).Scan(&a.CreatedAt)
	if err != nil {
		return wrapPG(err, "create agent")
	}
	return nil
}

func (s *Postgres) CreateWallet(ctx context.Context, w *models.Wallet) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO wallets (id, user_id, balance, locked, version, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, NOW()) RETURNING updated_at`,
		w.ID, w.UserID, w.Balance.StringFixed(2), w.Locked, w.Version,
	).Scan(&w.UpdatedAt)
	if err != nil {
		return wrapPG(err, "create wallet")
	}
	return nil
}
