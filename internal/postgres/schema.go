package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Statements are idempotent so Apply can run on every deploy. The unique
// constraint on orders.checkout_session_id is what keeps reconcile from ever
// writing two orders for one session; its name is matched in orders.Repo.
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                  UUID PRIMARY KEY,
		buyer_id            TEXT,
		buyer_email         TEXT NOT NULL,
		total_amount        BIGINT NOT NULL CHECK (total_amount >= 0),
		status              TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'cancelled')),
		payment_reference   TEXT,
		checkout_session_id TEXT NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT orders_checkout_session_id_key UNIQUE (checkout_session_id)
	)`,
	`CREATE INDEX IF NOT EXISTS orders_buyer_created_idx ON orders (buyer_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id         UUID PRIMARY KEY,
		order_id   UUID NOT NULL REFERENCES orders(id),
		product_id TEXT NOT NULL,
		quantity   INT NOT NULL CHECK (quantity >= 1),
		price      BIGINT NOT NULL CHECK (price >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS order_items_order_idx ON order_items (order_id)`,
	`CREATE TABLE IF NOT EXISTS user_products (
		id           UUID PRIMARY KEY,
		buyer_id     TEXT NOT NULL,
		product_id   TEXT NOT NULL,
		order_id     UUID NOT NULL REFERENCES orders(id),
		purchased_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT user_products_grant_key UNIQUE (buyer_id, product_id, order_id)
	)`,
}

func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range Statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
