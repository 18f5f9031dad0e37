package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/models"
	"github.com/shopspring/decimal"
)

// Memory is a concurrency-safe in-memory Store. Wallet rows carry their own
// mutex, taken by AcquireWallet and held until the atomic unit ends, which
// mirrors the row-lock behavior of the Postgres backend. Mutations are
// applied immediately and undone via a journal if the unit fails.
type Memory struct {
	mu sync.Mutex

	users        map[uuid.UUID]models.User
	userByIdent  map[string]uuid.UUID
	agentsByUser map[uuid.UUID]models.Agent

	wallets      map[uuid.UUID]*memWallet
	walletByUser map[uuid.UUID]uuid.UUID

	entries     []*models.LedgerEntry
	entryByRef  map[string]*models.LedgerEntry
	entryByKey  map[string]*models.LedgerEntry
	transfers   map[uuid.UUID]*models.Transfer
	trfByKey    map[string]*models.Transfer
	trfByRef    map[string]*models.Transfer
	cashOps     map[uuid.UUID]*models.CashOperation
	cashByToken map[string]*models.CashOperation
	cashByKey   map[string]*models.CashOperation

	audits   []models.AuditRecord
	auditSeq int64
}

type memWallet struct {
	mu sync.Mutex
	w  models.Wallet
}

// NewMemory creates an empty in-memory ledger store.
func NewMemory() *Memory {
	return &Memory{
		users:        make(map[uuid.UUID]models.User),
		userByIdent:  make(map[string]uuid.UUID),
		agentsByUser: make(map[uuid.UUID]models.Agent),
		wallets:      make(map[uuid.UUID]*memWallet),
		walletByUser: make(map[uuid.UUID]uuid.UUID),
		entryByRef:   make(map[string]*models.LedgerEntry),
		entryByKey:   make(map[string]*models.LedgerEntry),
		transfers:    make(map[uuid.UUID]*models.Transfer),
		trfByKey:     make(map[string]*models.Transfer),
		trfByRef:     make(map[string]*models.Transfer),
		cashOps:      make(map[uuid.UUID]*models.CashOperation),
		cashByToken:  make(map[string]*models.CashOperation),
		cashByKey:    make(map[string]*models.CashOperation),
	}
}

type memTx struct {
	s      *Memory
	locked map[uuid.UUID]*memWallet
	order  []*memWallet
	undo   []func()
}

// Atomic runs fn with journaled rollback. Wallet row locks acquired by fn
// are released when the unit ends, success or failure.
func (s *Memory) Atomic(_ context.Context, fn func(tx Tx) error) error {
	tx := &memTx{s: s, locked: make(map[uuid.UUID]*memWallet)}
	err := fn(tx)
	if err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
	}
	for i := len(tx.order) - 1; i >= 0; i-- {
		tx.order[i].mu.Unlock()
	}
	return err
}

func (tx *memTx) AcquireWallet(_ context.Context, id uuid.UUID) (*models.Wallet, error) {
	if rec, ok := tx.locked[id]; ok {
		w := rec.w
		return &w, nil
	}
	tx.s.mu.Lock()
	rec, ok := tx.s.wallets[id]
	tx.s.mu.Unlock()
	if !ok {
		return nil, domain.NotFoundErrorf("wallet %s not found", id)
	}
	rec.mu.Lock()
	tx.locked[id] = rec
	tx.order = append(tx.order, rec)
	w := rec.w
	return &w, nil
}

func (tx *memTx) mutateBalance(w *models.Wallet, delta decimal.Decimal) error {
	rec, ok := tx.locked[w.ID]
	if !ok {
		return domain.StateErrorf("wallet %s not acquired in this atomic unit", w.ID)
	}
	tx.s.mu.Lock()
	prev := rec.w
	tx.undo = append(tx.undo, func() { rec.w = prev })
	rec.w.Balance = rec.w.Balance.Add(delta)
	rec.w.Version++
	rec.w.UpdatedAt = time.Now().UTC()
	*w = rec.w
	tx.s.mu.Unlock()
	return nil
}

func (tx *memTx) CreditWallet(_ context.Context, w *models.Wallet, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ValidationErrorf("credit amount must be positive")
	}
	return tx.mutateBalance(w, amount)
}

func (tx *memTx) DebitWallet(_ context.Context, w *models.Wallet, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ValidationErrorf("debit amount must be positive")
	}
	if w.Balance.LessThan(amount) {
		return domain.InsufficientFundsErrorf("insufficient balance: available %s, required %s",
			domain.FormatAmount(w.Balance), domain.FormatAmount(amount))
	}
	return tx.mutateBalance(w, amount.Neg())
}

func (tx *memTx) InsertEntry(_ context.Context, e *models.LedgerEntry) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if _, exists := tx.s.entryByRef[e.Reference]; exists {
		return &DuplicateError{Constraint: "ledger_entries_reference_key"}
	}
	if e.IdempotencyKey != "" {
		if _, exists := tx.s.entryByKey[e.IdempotencyKey]; exists {
			return &DuplicateError{Constraint: "ledger_entries_idempotency_key_key"}
		}
	}
	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
		e.CreatedAt = cp.CreatedAt
	}
	tx.s.entries = append(tx.s.entries, &cp)
	tx.s.entryByRef[cp.Reference] = &cp
	if cp.IdempotencyKey != "" {
		tx.s.entryByKey[cp.IdempotencyKey] = &cp
	}
	tx.undo = append(tx.undo, func() {
		// Remove by identity: other atomic units may have appended entries
		// since this insert, so truncating the tail would delete their rows.
		tx.s.removeEntry(&cp)
		delete(tx.s.entryByRef, cp.Reference)
		if cp.IdempotencyKey != "" {
			delete(tx.s.entryByKey, cp.IdempotencyKey)
		}
	})
	return nil
}

// removeEntry splices one entry out of the log. Caller holds s.mu.
func (s *Memory) removeEntry(target *models.LedgerEntry) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i] == target {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

func (tx *memTx) InsertTransfer(_ context.Context, t *models.Transfer) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if _, exists := tx.s.trfByRef[t.Reference]; exists {
		return &DuplicateError{Constraint: "transfers_reference_key"}
	}
	if t.IdempotencyKey != "" {
		if _, exists := tx.s.trfByKey[t.IdempotencyKey]; exists {
			return &DuplicateError{Constraint: "transfers_idempotency_key_key"}
		}
	}
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
		t.CreatedAt = cp.CreatedAt
	}
	tx.s.transfers[cp.ID] = &cp
	tx.s.trfByRef[cp.Reference] = &cp
	if cp.IdempotencyKey != "" {
		tx.s.trfByKey[cp.IdempotencyKey] = &cp
	}
	tx.undo = append(tx.undo, func() {
		delete(tx.s.transfers, cp.ID)
		delete(tx.s.trfByRef, cp.Reference)
		if cp.IdempotencyKey != "" {
			delete(tx.s.trfByKey, cp.IdempotencyKey)
		}
	})
	return nil
}

func (tx *memTx) InsertCashOperation(_ context.Context, op *models.CashOperation) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if op.Token != "" {
		if _, exists := tx.s.cashByToken[op.Token]; exists {
			return &DuplicateError{Constraint: "cash_operations_token_key"}
		}
	}
	if op.IdempotencyKey != "" {
		if _, exists := tx.s.cashByKey[op.IdempotencyKey]; exists {
			return &DuplicateError{Constraint: "cash_operations_idempotency_key_key"}
		}
	}
	cp := *op
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
		op.CreatedAt = cp.CreatedAt
	}
	tx.s.cashOps[cp.ID] = &cp
	if cp.Token != "" {
		tx.s.cashByToken[cp.Token] = &cp
	}
	if cp.IdempotencyKey != "" {
		tx.s.cashByKey[cp.IdempotencyKey] = &cp
	}
	tx.undo = append(tx.undo, func() {
		delete(tx.s.cashOps, cp.ID)
		delete(tx.s.cashByToken, cp.Token)
		if cp.IdempotencyKey != "" {
			delete(tx.s.cashByKey, cp.IdempotencyKey)
		}
	})
	return nil
}

// ClaimCashOut takes effect at call time: a concurrent claim for the same
// token observes the transition immediately, so exactly one caller wins.
func (tx *memTx) ClaimCashOut(_ context.Context, token string, agentID uuid.UUID, now time.Time) (*models.CashOperation, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	op, ok := tx.s.cashByToken[token]
	if !ok || op.Kind != domain.CashKindOut {
		return nil, domain.NotFoundErrorf("no cash-out found for token")
	}
	if op.Status != domain.StatusPending {
		return nil, domain.StateErrorf("token already processed")
	}
	prev := *op
	tx.undo = append(tx.undo, func() { *op = prev })
	agent := agentID
	op.AgentID = &agent
	op.Status = domain.StatusSuccess
	completed := now.UTC()
	op.CompletedAt = &completed
	cp := *op
	return &cp, nil
}

func (tx *memTx) FailCashOut(_ context.Context, id uuid.UUID, now time.Time) (*models.CashOperation, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	op, ok := tx.s.cashOps[id]
	if !ok {
		return nil, domain.NotFoundErrorf("cash operation %s not found", id)
	}
	if op.Status != domain.StatusPending {
		return nil, domain.StateErrorf("cash operation %s already processed", id)
	}
	prev := *op
	tx.undo = append(tx.undo, func() { *op = prev })
	op.Status = domain.StatusFailed
	completed := now.UTC()
	op.CompletedAt = &completed
	cp := *op
	return &cp, nil
}

func (tx *memTx) CompleteEntry(_ context.Context, reference string, now time.Time) error {
	return tx.finishEntry(reference, domain.StatusSuccess, now)
}

func (tx *memTx) FailEntry(_ context.Context, reference string, now time.Time) error {
	return tx.finishEntry(reference, domain.StatusFailed, now)
}

func (tx *memTx) finishEntry(reference, status string, now time.Time) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	e, ok := tx.s.entryByRef[reference]
	if !ok {
		return domain.NotFoundErrorf("ledger entry %s not found", reference)
	}
	if e.Status != domain.StatusPending {
		return domain.StateErrorf("ledger entry %s is not pending", reference)
	}
	prev := *e
	tx.undo = append(tx.undo, func() { *e = prev })
	e.Status = status
	completed := now.UTC()
	e.CompletedAt = &completed
	return nil
}

func (tx *memTx) AppendAudit(_ context.Context, rec *models.AuditRecord) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.s.auditSeq++
	cp := *rec
	cp.ID = tx.s.auditSeq
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	tx.s.audits = append(tx.s.audits, cp)
	tx.undo = append(tx.undo, func() {
		for i := len(tx.s.audits) - 1; i >= 0; i-- {
			if tx.s.audits[i].ID == cp.ID {
				tx.s.audits = append(tx.s.audits[:i], tx.s.audits[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (s *Memory) Wallet(_ context.Context, id uuid.UUID) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.wallets[id]
	if !ok {
		return nil, domain.NotFoundErrorf("wallet %s not found", id)
	}
	w := rec.w
	return &w, nil
}

func (s *Memory) WalletByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	s.mu.Lock()
	id, ok := s.walletByUser[userID]
	s.mu.Unlock()
	if !ok {
		return nil, domain.NotFoundErrorf("no wallet for user %s", userID)
	}
	return s.Wallet(ctx, id)
}

func (s *Memory) UserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.NotFoundErrorf("user %s not found", id)
	}
	return &u, nil
}

func (s *Memory) UserByIdentifier(_ context.Context, identifier string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.userByIdent[identifier]
	if !ok {
		return nil, domain.NotFoundErrorf("user %q not found", identifier)
	}
	u := s.users[id]
	return &u, nil
}

func (s *Memory) AgentByUserID(_ context.Context, userID uuid.UUID) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agentsByUser[userID]
	if !ok {
		return nil, domain.NotFoundErrorf("no agent profile for user %s", userID)
	}
	return &a, nil
}

func (s *Memory) Entries(_ context.Context, walletID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].WalletID == walletID {
			out = append(out, *s.entries[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) EntriesSum(_ context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, e := range s.entries {
		if e.WalletID == walletID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (s *Memory) WalletIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.wallets))
	for id := range s.wallets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (s *Memory) TransferByKey(_ context.Context, key string) (*models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trfByKey[key]
	if !ok {
		return nil, domain.NotFoundErrorf("no transfer for idempotency key")
	}
	cp := *t
	return &cp, nil
}

func (s *Memory) CashOperationByKey(_ context.Context, key string) (*models.CashOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.cashByKey[key]
	if !ok {
		return nil, domain.NotFoundErrorf("no cash operation for idempotency key")
	}
	cp := *op
	return &cp, nil
}

func (s *Memory) EntryByKey(_ context.Context, key string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entryByKey[key]
	if !ok {
		return nil, domain.NotFoundErrorf("no ledger entry for idempotency key")
	}
	cp := *e
	return &cp, nil
}

func (s *Memory) EntryByReference(_ context.Context, reference string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entryByRef[reference]
	if !ok {
		return nil, domain.NotFoundErrorf("ledger entry %s not found", reference)
	}
	cp := *e
	return &cp, nil
}

func (s *Memory) CashOutByToken(_ context.Context, token string) (*models.CashOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.cashByToken[token]
	if !ok || op.Kind != domain.CashKindOut {
		return nil, domain.NotFoundErrorf("no cash-out found for token")
	}
	cp := *op
	return &cp, nil
}

func (s *Memory) ExpiredPendingCashOuts(_ context.Context, cutoff time.Time, limit int) ([]models.CashOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CashOperation
	for _, op := range s.cashOps {
		if op.Kind == domain.CashKindOut && op.Status == domain.StatusPending && op.CreatedAt.Before(cutoff) {
			out = append(out, *op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) SetWalletLocked(_ context.Context, id uuid.UUID, locked bool) error {
	s.mu.Lock()
	rec, ok := s.wallets[id]
	s.mu.Unlock()
	if !ok {
		return domain.NotFoundErrorf("wallet %s not found", id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.w.Locked = locked
	rec.w.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.userByIdent[u.Username]; exists {
		return &DuplicateError{Constraint: "users_username_key"}
	}
	if u.Phone != "" {
		if _, exists := s.userByIdent[u.Phone]; exists {
			return &DuplicateError{Constraint: "users_phone_key"}
		}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = *u
	s.userByIdent[u.Username] = u.ID
	if u.Phone != "" {
		s.userByIdent[u.Phone] = u.ID
	}
	return nil
}

func (s *Memory) CreateAgent(_ context.Context, a *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agentsByUser[a.UserID]; exists {
		return &DuplicateError{Constraint: "agents_user_id_key"}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.agentsByUser[a.UserID] = *a
	return nil
}

func (s *Memory) CreateWallet(_ context.Context, w *models.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.walletByUser[w.UserID]; exists {
		return &DuplicateError{Constraint: "wallets_user_id_key"}
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = time.Now().UTC()
	}
	s.wallets[w.ID] = &memWallet{w: *w}
	s.walletByUser[w.UserID] = w.ID
	return nil
}
