// Package ledger holds the account ledger and transfer engine: account
// creation, login, atomic balance transfers and the append-only transfer
// history. It is written against the Store interface so the HTTP layer and
// tests can wire in different persistence.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mkundi/tumapay/internal/core/domain"
	"github.com/mkundi/tumapay/internal/core/handle"
)

const (
	// handleAttempts bounds regeneration on handle collisions. Collisions
	// are astronomically unlikely, so hitting the cap means the store is
	// misbehaving rather than the dice.
	handleAttempts = 5

	// transferAttempts bounds the optimistic retry loop. Each retry
	// re-reads both accounts, so a retry only loses to another writer
	// that committed in between.
	transferAttempts = 3

	// storeTimeout is the deadline applied to every engine-initiated
	// store operation.
	storeTimeout = 5 * time.Second
)

// Store is the durable keyed collection the engine runs against.
// Implementations must make CreateAccount an atomic check-and-insert on the
// unique fields, and must reject SaveBalance calls carrying a stale version
// with domain.ErrVersionConflict.
type Store interface {
	CreateAccount(ctx context.Context, acc *domain.Account) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByHandle(ctx context.Context, handle string) (*domain.Account, error)
	SaveBalance(ctx context.Context, id uuid.UUID, balance int64, expectedVersion int64) error
	Append(ctx context.Context, rec *domain.TransferRecord) (*domain.TransferRecord, error)
	ListFor(ctx context.Context, handle string) ([]domain.TransferRecord, error)

	// ExecTx runs fn against a transactional view of the store. All
	// writes made inside fn commit together or not at all.
	ExecTx(ctx context.Context, fn func(Store) error) error
}

// Notifier is told about committed transfers. Delivery is best effort and
// must not block the commit path.
type Notifier interface {
	TransferCommitted(ctx context.Context, rec *domain.TransferRecord)
}

// Service is the ledger engine. Construct with New.
type Service struct {
	store     Store
	notifier  Notifier
	genHandle func() (string, error)
	timeout   time.Duration
	hashCost  int
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier wires a post-commit transfer notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithHandleGenerator replaces the payment-handle source.
func WithHandleGenerator(fn func() (string, error)) Option {
	return func(s *Service) { s.genHandle = fn }
}

// WithTimeout overrides the per-operation store deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithHashCost overrides the bcrypt cost used for new credentials. Tests
// pass bcrypt.MinCost; everything else should leave the default alone.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.hashCost = cost }
}

// New builds a Service around the given store.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		genHandle: handle.Generate,
		timeout:   storeTimeout,
		hashCost:  bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccount registers a new account and returns its payment handle and
// opening balance. A duplicate email surfaces as domain.ErrAccountExists; a
// handle collision is retried with a fresh handle up to handleAttempts times
// before giving up with domain.ErrHandleExhausted.
func (s *Service) CreateAccount(ctx context.Context, name, email, password string) (string, int64, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || password == "" {
		return "", 0, domain.Validationf("name, email and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", 0, fmt.Errorf("hash credential: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for attempt := 0; attempt < handleAttempts; attempt++ {
		h, err := s.genHandle()
		if err != nil {
			return "", 0, err
		}

		created, err := s.store.CreateAccount(ctx, &domain.Account{
			Name:         name,
			Email:        email,
			PasswordHash: string(hash),
			Handle:       h,
			Balance:      domain.OpeningBalance,
		})
		var dup *domain.DuplicateKeyError
		if errors.As(err, &dup) {
			if dup.Field == "email" {
				return "", 0, domain.ErrAccountExists
			}
			continue
		}
		if err != nil {
			return "", 0, err
		}
		return created.Handle, created.Balance, nil
	}
	return "", 0, domain.ErrHandleExhausted
}

// Login checks credentials and returns the account's handle and current
// balance. An unknown email and a wrong password both come back as
// domain.ErrInvalidCredentials so callers cannot enumerate accounts.
func (s *Service) Login(ctx context.Context, email, password string) (string, int64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", 0, domain.Validationf("email and password are required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	acc, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return "", 0, domain.ErrInvalidCredentials
	}
	if err != nil {
		return "", 0, err
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return "", 0, domain.ErrInvalidCredentials
	}
	return acc.Handle, acc.Balance, nil
}

// Transfer moves amount from sender to receiver and appends the transfer
// record, all inside one store transaction: either both balances change and
// the record exists, or nothing happened. Concurrent writers are detected
// through the accounts' versions; on a conflict the whole operation is
// retried from the re-read, bounded by transferAttempts.
//
// Self-transfers are rejected as validation failures: they would move
// nothing but still pollute the history.
func (s *Service) Transfer(ctx context.Context, senderHandle, receiverHandle string, amount int64) (*domain.TransferRecord, error) {
	if senderHandle == "" || receiverHandle == "" {
		return nil, domain.Validationf("sender and receiver handles are required")
	}
	if amount <= 0 {
		return nil, domain.Validationf("amount must be a positive number of minor units")
	}
	if senderHandle == receiverHandle {
		return nil, domain.Validationf("sender and receiver are the same account")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for attempt := 0; attempt < transferAttempts; attempt++ {
		rec, err := s.tryTransfer(ctx, senderHandle, receiverHandle, amount)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if s.notifier != nil {
			s.notifier.TransferCommitted(ctx, rec)
		}
		return rec, nil
	}
	return nil, domain.ErrTransferConflict
}

func (s *Service) tryTransfer(ctx context.Context, senderHandle, receiverHandle string, amount int64) (*domain.TransferRecord, error) {
	sender, err := s.store.FindByHandle(ctx, senderHandle)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.NotFoundError{Which: "sender"}
	}
	if err != nil {
		return nil, err
	}

	receiver, err := s.store.FindByHandle(ctx, receiverHandle)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.NotFoundError{Which: "receiver"}
	}
	if err != nil {
		return nil, err
	}

	if sender.Balance < amount {
		return nil, domain.ErrInsufficientBalance
	}

	var rec *domain.TransferRecord
	err = s.store.ExecTx(ctx, func(tx Store) error {
		if err := tx.SaveBalance(ctx, sender.ID, sender.Balance-amount, sender.Version); err != nil {
			return err
		}
		if err := tx.SaveBalance(ctx, receiver.ID, receiver.Balance+amount, receiver.Version); err != nil {
			return err
		}
		appended, err := tx.Append(ctx, &domain.TransferRecord{
			SenderHandle:   senderHandle,
			ReceiverHandle: receiverHandle,
			Amount:         amount,
		})
		if err != nil {
			return err
		}
		rec = appended
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// History lists every transfer the handle participated in, oldest first.
// An unknown handle is domain.ErrNotFound.
func (s *Service) History(ctx context.Context, h string) ([]domain.TransferRecord, error) {
	if h == "" {
		return nil, domain.Validationf("payment handle is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.store.FindByHandle(ctx, h); err != nil {
		return nil, err
	}
	return s.store.ListFor(ctx, h)
}
