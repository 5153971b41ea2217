package storage

import (
	"context"

	"github.com/mkundi/tumapay/internal/core/domain"
)

// Append records a committed transfer. The committed_at timestamp is
// assigned by the database at insert time, i.e. the moment the record
// becomes durable. There is no update or delete path for transfers.
func (s *Store) Append(ctx context.Context, rec *domain.TransferRecord) (*domain.TransferRecord, error) {
	query := `
		INSERT INTO transfers (sender_handle, receiver_handle, amount)
		VALUES ($1, $2, $3)
		RETURNING id, committed_at`

	out := *rec
	err := s.db.QueryRow(ctx, query, rec.SenderHandle, rec.ReceiverHandle, rec.Amount).
		Scan(&out.ID, &out.CommittedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &out, nil
}

// ListFor returns every transfer the handle took part in, on either side,
// oldest first. The id tiebreak keeps the order stable when two transfers
// share a timestamp.
func (s *Store) ListFor(ctx context.Context, handle string) ([]domain.TransferRecord, error) {
	query := `
		SELECT id, sender_handle, receiver_handle, amount, committed_at
		FROM transfers
		WHERE sender_handle = $1 OR receiver_handle = $1
		ORDER BY committed_at ASC, id ASC`

	rows, err := s.db.Query(ctx, query, handle)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var records []domain.TransferRecord
	for rows.Next() {
		var rec domain.TransferRecord
		if err := rows.Scan(&rec.ID, &rec.SenderHandle, &rec.ReceiverHandle,
			&rec.Amount, &rec.CommittedAt); err != nil {
			return nil, translateErr(err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return records, nil
}
