// Package worker dispatches transfer webhooks in the background. Committed
// transfers enqueue a job row; a polling loop claims jobs one at a time with
// FOR UPDATE SKIP LOCKED, so multiple processes can run the worker without
// double delivery.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkundi/tumapay/internal/core/domain"
	"github.com/mkundi/tumapay/internal/core/notifications"
)

const (
	pollInterval = 5 * time.Second
	maxAttempts  = 5

	// claimLease is how far a claim pushes next_run_at into the future.
	// A worker that dies mid-delivery simply loses its claim when the
	// lease expires and the job is picked up again.
	claimLease = time.Minute
)

const (
	statusPending   = "PENDING"
	statusCompleted = "COMPLETED"
	statusFailed    = "FAILED"
)

// Queue enqueues webhook jobs for committed transfers. It implements
// ledger.Notifier.
type Queue struct {
	db  *pgxpool.Pool
	url string
}

// NewQueue builds a Queue delivering to the given subscriber URL.
func NewQueue(db *pgxpool.Pool, url string) *Queue {
	return &Queue{db: db, url: url}
}

// TransferCommitted records a delivery job for the transfer. Enqueue
// failures are logged and dropped; the transfer itself is already durable
// and must not fail because of notification plumbing.
func (q *Queue) TransferCommitted(ctx context.Context, rec *domain.TransferRecord) {
	payload, err := json.Marshal(map[string]any{
		"event": "transfer.committed",
		"data":  rec,
	})
	if err != nil {
		slog.Error("failed to encode webhook payload", "error", err, "transfer_id", rec.ID)
		return
	}

	_, err = q.db.Exec(ctx,
		"INSERT INTO webhook_jobs (url, payload) VALUES ($1, $2)", q.url, payload)
	if err != nil {
		slog.Error("failed to enqueue webhook job", "error", err, "transfer_id", rec.ID)
	}
}

// Start runs the delivery loop until ctx is cancelled.
func Start(ctx context.Context, db *pgxpool.Pool, secret string) {
	go func() {
		slog.Info("webhook worker started")
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("webhook worker stopped")
				return
			case <-ticker.C:
				processJob(ctx, db, secret)
			}
		}
	}()
}

type job struct {
	id       uuid.UUID
	url      string
	payload  []byte
	attempts int // includes the attempt being made now
}

// processJob claims one due job, delivers it, and records the outcome. The
// claim is its own short transaction; the HTTP call runs with no row lock
// or pool connection pinned under it.
func processJob(ctx context.Context, db *pgxpool.Pool, secret string) {
	j, ok := claimJob(ctx, db)
	if !ok {
		return
	}

	sendErr := notifications.Send(j.url, json.RawMessage(j.payload), secret)
	status, nextRun := jobOutcome(j.attempts, sendErr)

	var err error
	switch status {
	case statusCompleted:
		_, err = db.Exec(ctx, "UPDATE webhook_jobs SET status = $2 WHERE id = $1", j.id, status)
	case statusFailed:
		slog.Error("worker: job failed permanently", "job_id", j.id, "attempts", j.attempts, "error", sendErr)
		_, err = db.Exec(ctx, "UPDATE webhook_jobs SET status = $2 WHERE id = $1", j.id, status)
	default:
		slog.Warn("worker: delivery failed, will retry",
			"job_id", j.id, "attempts", j.attempts, "next_run", nextRun, "error", sendErr)
		_, err = db.Exec(ctx, "UPDATE webhook_jobs SET next_run_at = $2 WHERE id = $1", j.id, nextRun)
	}
	if err != nil {
		slog.Error("worker: update failed", "error", err, "job_id", j.id)
	}
}

// claimJob picks the oldest due job, bumps its attempt count and leases it
// by pushing next_run_at forward, then commits. The row lock is held only
// for the claim itself.
func claimJob(ctx context.Context, db *pgxpool.Pool) (job, bool) {
	tx, err := db.Begin(ctx)
	if err != nil {
		slog.Error("worker: begin failed", "error", err)
		return job{}, false
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT id, url, payload, attempts
		FROM webhook_jobs
		WHERE status = 'PENDING' AND next_run_at <= now()
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var j job
	err = tx.QueryRow(ctx, query).Scan(&j.id, &j.url, &j.payload, &j.attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return job{}, false
	}
	if err != nil {
		slog.Error("worker: claim failed", "error", err)
		return job{}, false
	}

	j.attempts++
	_, err = tx.Exec(ctx,
		"UPDATE webhook_jobs SET attempts = $2, next_run_at = $3 WHERE id = $1",
		j.id, j.attempts, time.Now().Add(claimLease))
	if err != nil {
		slog.Error("worker: lease failed", "error", err, "job_id", j.id)
		return job{}, false
	}
	if err := tx.Commit(ctx); err != nil {
		slog.Error("worker: claim commit failed", "error", err, "job_id", j.id)
		return job{}, false
	}
	return j, true
}

// jobOutcome decides a job's fate after a delivery attempt: done, give up,
// or back off and retry.
func jobOutcome(attempts int, sendErr error) (status string, nextRun time.Time) {
	switch {
	case sendErr == nil:
		return statusCompleted, time.Time{}
	case attempts >= maxAttempts:
		return statusFailed, time.Time{}
	default:
		return statusPending, time.Now().Add(time.Duration(attempts*10) * time.Second)
	}
}
