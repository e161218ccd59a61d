package postgres

import "context"

// Documents live as JSONB with the few columns the filters need extracted.
// The partial unique index on cash_registers is what makes register open a
// real create-if-none-open: two concurrent opens race on the index, not on
// an application-level existence check.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id         TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	status     TEXT NOT NULL,
	order_date TIMESTAMPTZ NOT NULL,
	synced     BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status);
CREATE INDEX IF NOT EXISTS orders_date_idx ON orders (order_date);

CREATE TABLE IF NOT EXISTS menu (
	id  TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS inventory (
	id  TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS movements (
	id         TEXT PRIMARY KEY,
	order_id   TEXT NOT NULL DEFAULT '',
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS movements_order_idx ON movements (order_id);

CREATE TABLE IF NOT EXISTS cash_registers (
	id        TEXT PRIMARY KEY,
	doc       JSONB NOT NULL,
	status    TEXT NOT NULL,
	opened_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS cash_registers_single_open
	ON cash_registers (status) WHERE status = 'open';
`

// Migrate creates the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}
