package postgres

import (
	"context"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// schema is idempotent; Migrate runs it on every start.
const schema = `
CREATE TABLE IF NOT EXISTS products (
    id          TEXT PRIMARY KEY,
    sku         TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    stock       BIGINT NOT NULL CHECK (stock >= 0),
    price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
    id          TEXT PRIMARY KEY,
    owner_id    TEXT NOT NULL,
    status      TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_owner ON orders(owner_id, created_at);

CREATE TABLE IF NOT EXISTS reservations (
    id             TEXT PRIMARY KEY,
    product_id     TEXT NOT NULL REFERENCES products(id),
    owner_id       TEXT NOT NULL,
    quantity       BIGINT NOT NULL CHECK (quantity >= 0),
    subtotal_cents BIGINT NOT NULL CHECK (subtotal_cents >= 0),
    state          TEXT NOT NULL CHECK (state IN ('OPEN', 'COMMITTED')),
    order_id       TEXT REFERENCES orders(id) ON DELETE SET NULL,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);
-- at most one open line per (owner, product)
CREATE UNIQUE INDEX IF NOT EXISTS uq_reservations_open
    ON reservations(owner_id, product_id) WHERE state = 'OPEN';
CREATE INDEX IF NOT EXISTS idx_reservations_owner_state ON reservations(owner_id, state);
CREATE INDEX IF NOT EXISTS idx_reservations_order ON reservations(order_id);
`

func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

// SeedProduct inserts a product unless one with the same id exists.
func SeedProduct(ctx context.Context, db *pgxpool.Pool, id, sku, name string, stock, priceCents int) error {
	_, err := db.Exec(ctx, `
		INSERT INTO products(id, sku, name, stock, price_cents)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO NOTHING`, id, sku, name, stock, priceCents)
	return errors.Wrapf(err, "seed product %s", id)
}
