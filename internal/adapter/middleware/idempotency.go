// Package middleware holds cross-cutting fiber handlers.
package middleware

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Cache is the slice of the database the idempotency middleware needs.
// *pgxpool.Pool implements it.
type Cache interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Idempotency replays the stored response for a request carrying an
// Idempotency-Key header that was already processed, so a retried transfer
// does not move money twice. Requests without the header pass through
// untouched.
//
// Only settled outcomes (2xx-4xx) are cached. A 5xx means the request may
// not have taken effect at all; caching it would replay the failure at the
// client's retry, so the key stays unclaimed and the retry runs for real.
func Idempotency(db Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("Idempotency-Key")
		if key == "" {
			return c.Next()
		}

		var status int
		var body []byte
		err := db.QueryRow(c.Context(),
			"SELECT response_status, response_body FROM idempotency_keys WHERE key_id = $1",
			key).Scan(&status, &body)
		if err == nil {
			c.Set("X-Idempotency-Hit", "true")
			c.Set("Content-Type", "application/json")
			return c.Status(status).Send(body)
		}

		if err := c.Next(); err != nil {
			return err
		}

		if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			return nil
		}

		// Cache failures are logged, never surfaced: the response already
		// reflects what happened to the money.
		_, err = db.Exec(c.Context(),
			"INSERT INTO idempotency_keys (key_id, response_status, response_body) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
			key, c.Response().StatusCode(), c.Response().Body())
		if err != nil {
			slog.Error("failed to save idempotency key", "error", err, "key", key)
		}
		return nil
	}
}
