package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkundi/tumapay/internal/core/domain"
	"github.com/mkundi/tumapay/internal/core/ledger"
)

// MemStore is an in-memory ledger.Store. One mutex serializes everything,
// and ExecTx runs its callback against a deep copy that is only adopted on
// success, so a mid-transaction failure leaves no partial state behind. It
// backs the engine and handler tests and is handy for local hacking; the
// Postgres Store is the production implementation.
type MemStore struct {
	mu sync.Mutex
	st *memState

	// SaveBalanceHook, when set, runs before every balance write and may
	// force it to fail. Tests use it to inject partial-commit faults.
	SaveBalanceHook func(id uuid.UUID) error
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{st: newMemState()}
}

func (m *MemStore) CreateAccount(_ context.Context, acc *domain.Account) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createAccount(acc)
}

func (m *MemStore) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.findByEmail(email)
}

func (m *MemStore) FindByHandle(_ context.Context, handle string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.findByHandle(handle)
}

func (m *MemStore) SaveBalance(_ context.Context, id uuid.UUID, balance int64, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveBalance(id, balance, expectedVersion, m.SaveBalanceHook)
}

func (m *MemStore) Append(_ context.Context, rec *domain.TransferRecord) (*domain.TransferRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.append(rec)
}

func (m *MemStore) ListFor(_ context.Context, handle string) ([]domain.TransferRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listFor(handle), nil
}

// ExecTx clones the state, runs fn against the clone, and swaps it in only
// if fn succeeds. All-or-nothing by construction.
func (m *MemStore) ExecTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.st.clone()
	if err := fn(&memTx{st: work, hook: m.SaveBalanceHook}); err != nil {
		return err
	}
	m.st = work
	return nil
}

// memTx is the transactional view handed to ExecTx callbacks. It works on
// the clone without re-locking; the parent holds the mutex for the whole
// transaction.
type memTx struct {
	st   *memState
	hook func(id uuid.UUID) error
}

func (t *memTx) CreateAccount(_ context.Context, acc *domain.Account) (*domain.Account, error) {
	return t.st.createAccount(acc)
}

func (t *memTx) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	return t.st.findByEmail(email)
}

func (t *memTx) FindByHandle(_ context.Context, handle string) (*domain.Account, error) {
	return t.st.findByHandle(handle)
}

func (t *memTx) SaveBalance(_ context.Context, id uuid.UUID, balance int64, expectedVersion int64) error {
	return t.st.saveBalance(id, balance, expectedVersion, t.hook)
}

func (t *memTx) Append(_ context.Context, rec *domain.TransferRecord) (*domain.TransferRecord, error) {
	return t.st.append(rec)
}

func (t *memTx) ListFor(_ context.Context, handle string) ([]domain.TransferRecord, error) {
	return t.st.listFor(handle), nil
}

func (t *memTx) ExecTx(_ context.Context, _ func(ledger.Store) error) error {
	return errors.New("storage: already inside a transaction")
}

type memState struct {
	accounts  map[uuid.UUID]*domain.Account
	byEmail   map[string]uuid.UUID
	byHandle  map[string]uuid.UUID
	transfers []domain.TransferRecord
}

func newMemState() *memState {
	return &memState{
		accounts: make(map[uuid.UUID]*domain.Account),
		byEmail:  make(map[string]uuid.UUID),
		byHandle: make(map[string]uuid.UUID),
	}
}

func (st *memState) clone() *memState {
	out := newMemState()
	for id, acc := range st.accounts {
		cp := *acc
		out.accounts[id] = &cp
	}
	for k, v := range st.byEmail {
		out.byEmail[k] = v
	}
	for k, v := range st.byHandle {
		out.byHandle[k] = v
	}
	out.transfers = append(out.transfers, st.transfers...)
	return out
}

func (st *memState) createAccount(acc *domain.Account) (*domain.Account, error) {
	if _, exists := st.byEmail[acc.Email]; exists {
		return nil, &domain.DuplicateKeyError{Field: "email"}
	}
	if _, exists := st.byHandle[acc.Handle]; exists {
		return nil, &domain.DuplicateKeyError{Field: "handle"}
	}

	cp := *acc
	cp.ID = uuid.New()
	cp.Version = 1
	cp.CreatedAt = time.Now()
	st.accounts[cp.ID] = &cp
	st.byEmail[cp.Email] = cp.ID
	st.byHandle[cp.Handle] = cp.ID

	out := cp
	return &out, nil
}

func (st *memState) findByEmail(email string) (*domain.Account, error) {
	id, ok := st.byEmail[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *st.accounts[id]
	return &cp, nil
}

func (st *memState) findByHandle(handle string) (*domain.Account, error) {
	id, ok := st.byHandle[handle]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *st.accounts[id]
	return &cp, nil
}

func (st *memState) saveBalance(id uuid.UUID, balance int64, expectedVersion int64, hook func(uuid.UUID) error) error {
	if hook != nil {
		if err := hook(id); err != nil {
			return err
		}
	}
	acc, ok := st.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	if acc.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	acc.Balance = balance
	acc.Version++
	return nil
}

func (st *memState) append(rec *domain.TransferRecord) (*domain.TransferRecord, error) {
	cp := *rec
	cp.ID = uuid.New()
	cp.CommittedAt = time.Now()
	st.transfers = append(st.transfers, cp)

	out := cp
	return &out, nil
}

// listFor relies on transfers being appended in commit order, which keeps
// the result ascending by committed_at without a sort.
func (st *memState) listFor(handle string) []domain.TransferRecord {
	var out []domain.TransferRecord
	for _, rec := range st.transfers {
		if rec.SenderHandle == handle || rec.ReceiverHandle == handle {
			out = append(out, rec)
		}
	}
	return out
}
