package domain

import (
	"time"

	"github.com/google/uuid"
)

// OpeningBalance is the amount granted to every new account, in minor units.
const OpeningBalance int64 = 1000

// Account is a ledger participant addressed publicly by its payment handle.
// Balance is stored in minor units and is only ever mutated by the ledger
// engine. Version backs optimistic concurrency: every committed balance
// write bumps it, and writes carrying a stale version are rejected.
type Account struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	Handle       string
	Balance      int64
	Version      int64
	CreatedAt    time.Time
}

// TransferRecord is the immutable record of one committed transfer.
// Records are append-only; nothing in the system updates or deletes them.
type TransferRecord struct {
	ID             uuid.UUID `json:"id"`
	SenderHandle   string    `json:"sender_handle"`
	ReceiverHandle string    `json:"receiver_handle"`
	Amount         int64     `json:"amount"`
	CommittedAt    time.Time `json:"committed_at"`
}
