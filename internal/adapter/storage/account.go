package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mkundi/tumapay/internal/core/domain"
)

// Unique constraint names from the accounts migration. Postgres reports
// them on unique_violation, which is how a duplicate insert is attributed
// to a specific field.
const (
	emailConstraint  = "accounts_email_key"
	handleConstraint = "accounts_handle_key"
)

const accountColumns = "id, name, email, password_hash, handle, balance, version, created_at"

// CreateAccount inserts the draft account. The unique indexes make the
// check-and-insert atomic: of two concurrent creations with the same email
// or handle, exactly one wins and the other gets a DuplicateKeyError naming
// the colliding field.
func (s *Store) CreateAccount(ctx context.Context, acc *domain.Account) (*domain.Account, error) {
	query := `
		INSERT INTO accounts (name, email, password_hash, handle, balance)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + accountColumns

	created, err := scanAccount(s.db.QueryRow(ctx, query,
		acc.Name, acc.Email, acc.PasswordHash, acc.Handle, acc.Balance))
	if err != nil {
		return nil, translateErr(err)
	}
	return created, nil
}

// FindByEmail returns the account registered under email, or
// domain.ErrNotFound.
func (s *Store) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	acc, err := scanAccount(s.db.QueryRow(ctx, query, email))
	if err != nil {
		return nil, translateErr(err)
	}
	return acc, nil
}

// FindByHandle returns the account addressed by the payment handle, or
// domain.ErrNotFound.
func (s *Store) FindByHandle(ctx context.Context, handle string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE handle = $1`
	acc, err := scanAccount(s.db.QueryRow(ctx, query, handle))
	if err != nil {
		return nil, translateErr(err)
	}
	return acc, nil
}

// SaveBalance persists a new balance for the account, guarded by the version
// read alongside the old balance. A concurrent committed write bumps the
// version, making this update match zero rows; that is reported as
// domain.ErrVersionConflict and never silently overwrites.
func (s *Store) SaveBalance(ctx context.Context, id uuid.UUID, balance int64, expectedVersion int64) error {
	query := `
		UPDATE accounts
		SET balance = $1, version = version + 1
		WHERE id = $2 AND version = $3`

	tag, err := s.db.Exec(ctx, query, balance, id, expectedVersion)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	err := row.Scan(&acc.ID, &acc.Name, &acc.Email, &acc.PasswordHash,
		&acc.Handle, &acc.Balance, &acc.Version, &acc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// translateErr maps driver errors onto the domain's error set. Everything
// else is wrapped as a store failure so pgx internals never reach callers.
func translateErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			switch pgErr.ConstraintName {
			case emailConstraint:
				return &domain.DuplicateKeyError{Field: "email"}
			case handleConstraint:
				return &domain.DuplicateKeyError{Field: "handle"}
			}
		case "40001", "40P01":
			// Serialization failures and deadlock aborts are transient.
			// Two opposite-direction transfers can lock the same account
			// rows in opposite order; Postgres aborts one, and the
			// engine's conflict retry re-reads and tries again.
			return domain.ErrVersionConflict
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
