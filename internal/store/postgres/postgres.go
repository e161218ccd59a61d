// Package postgres implements store.Store on pgx. Every Atomic scope is
// one database transaction; documents read inside it are locked with
// SELECT ... FOR UPDATE so concurrent terminals serialize on the row
// instead of losing updates.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"comanda/internal/domain"
	"comanda/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	if err := fn(&tx{q: pgtx, lock: true}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) OpenRegister(ctx context.Context, r *domain.CashRegister) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO cash_registers (id, doc, status, opened_at)
		VALUES ($1, $2, $3, $4)
	`, r.ID, doc, string(r.Status), r.OpenedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "cash_registers_single_open" {
		return domain.ErrRegisterAlreadyOpen
	}
	if err != nil {
		return fmt.Errorf("insert register: %w", err)
	}
	return nil
}

func getDoc[T any](ctx context.Context, q querier, query, id string) (*T, error) {
	var raw []byte
	if err := q.QueryRow(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getDoc[domain.Order](ctx, s.pool, `SELECT doc FROM orders WHERE id=$1`, id)
}

func (s *Store) ListOrders(ctx context.Context, f store.OrderFilter) ([]*domain.Order, error) {
	q := `SELECT doc FROM orders WHERE TRUE`
	var args []any
	n := 0
	arg := func(v any) string { n++; args = append(args, v); return fmt.Sprintf("$%d", n) }
	if f.Status != "" {
		q += ` AND status = ` + arg(string(f.Status))
	}
	if !f.Since.IsZero() {
		q += ` AND order_date >= ` + arg(f.Since)
	}
	if !f.Until.IsZero() {
		q += ` AND order_date < ` + arg(f.Until)
	}
	if f.Unsynced {
		q += ` AND status = 'paid' AND NOT synced`
	}
	q += ` ORDER BY order_date DESC`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocs[domain.Order](rows)
}

func scanDocs[T any](rows pgx.Rows) ([]*T, error) {
	var out []*T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) GetDish(ctx context.Context, id string) (*domain.Dish, error) {
	return getDoc[domain.Dish](ctx, s.pool, `SELECT doc FROM menu WHERE id=$1`, id)
}

func (s *Store) ListDishes(ctx context.Context) ([]*domain.Dish, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM menu ORDER BY doc->>'name'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocs[domain.Dish](rows)
}

func (s *Store) PutDish(ctx context.Context, d *domain.Dish) error {
	return putDish(ctx, s.pool, d)
}

func putDish(ctx context.Context, q querier, d *domain.Dish) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO menu (id, doc) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
	`, d.ID, doc)
	return err
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	return getDoc[domain.InventoryItem](ctx, s.pool, `SELECT doc FROM inventory WHERE id=$1`, id)
}

func (s *Store) ListItems(ctx context.Context) ([]*domain.InventoryItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM inventory ORDER BY doc->>'name'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocs[domain.InventoryItem](rows)
}

func (s *Store) PutItem(ctx context.Context, it *domain.InventoryItem) error {
	return putItem(ctx, s.pool, it)
}

func putItem(ctx context.Context, q querier, it *domain.InventoryItem) error {
	doc, err := json.Marshal(it)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO inventory (id, doc) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
	`, it.ID, doc)
	return err
}

func (s *Store) MovementsByOrder(ctx context.Context, orderID string) ([]domain.Movement, error) {
	return movementsByOrder(ctx, s.pool, orderID)
}

func movementsByOrder(ctx context.Context, q querier, orderID string) ([]domain.Movement, error) {
	rows, err := q.Query(ctx, `
		SELECT doc FROM movements WHERE order_id=$1 ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ptrs, err := scanDocs[domain.Movement](rows)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Movement, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out, nil
}

func (s *Store) GetRegister(ctx context.Context, id string) (*domain.CashRegister, error) {
	return getDoc[domain.CashRegister](ctx, s.pool, `SELECT doc FROM cash_registers WHERE id=$1`, id)
}

func (s *Store) CurrentRegister(ctx context.Context) (*domain.CashRegister, error) {
	r, err := getDoc[domain.CashRegister](ctx, s.pool,
		`SELECT doc FROM cash_registers WHERE status=$1`, string(domain.RegisterOpen))
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrNoOpenRegister
	}
	return r, err
}

func (s *Store) ListRegisters(ctx context.Context, limit int) ([]*domain.CashRegister, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM cash_registers ORDER BY opened_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocs[domain.CashRegister](rows)
}

// tx implements store.Tx over a pgx transaction. Reads take row locks.
type tx struct {
	q    pgx.Tx
	lock bool
}

func (t *tx) forUpdate() string {
	if t.lock {
		return " FOR UPDATE"
	}
	return ""
}

func (t *tx) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getDoc[domain.Order](ctx, t.q, `SELECT doc FROM orders WHERE id=$1`+t.forUpdate(), id)
}

func (t *tx) PutOrder(ctx context.Context, o *domain.Order) error {
	doc, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO orders (id, doc, status, order_date, synced)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET doc = EXCLUDED.doc, status = EXCLUDED.status, synced = EXCLUDED.synced
	`, o.ID, doc, string(o.Status), o.Date, o.SyncedWithRegister)
	return err
}

func (t *tx) DeleteOrder(ctx context.Context, id string) error {
	_, err := t.q.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	return err
}

func (t *tx) GetDish(ctx context.Context, id string) (*domain.Dish, error) {
	return getDoc[domain.Dish](ctx, t.q, `SELECT doc FROM menu WHERE id=$1`+t.forUpdate(), id)
}

func (t *tx) PutDish(ctx context.Context, d *domain.Dish) error { return putDish(ctx, t.q, d) }

func (t *tx) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	return getDoc[domain.InventoryItem](ctx, t.q, `SELECT doc FROM inventory WHERE id=$1`+t.forUpdate(), id)
}

func (t *tx) PutItem(ctx context.Context, it *domain.InventoryItem) error {
	return putItem(ctx, t.q, it)
}

func (t *tx) AppendMovement(ctx context.Context, m domain.Movement) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO movements (id, order_id, doc, created_at)
		VALUES ($1, $2, $3, $4)
	`, m.ID, m.OrderID, doc, m.CreatedAt)
	return err
}

func (t *tx) MovementsByOrder(ctx context.Context, orderID string) ([]domain.Movement, error) {
	return movementsByOrder(ctx, t.q, orderID)
}

func (t *tx) GetRegister(ctx context.Context, id string) (*domain.CashRegister, error) {
	return getDoc[domain.CashRegister](ctx, t.q, `SELECT doc FROM cash_registers WHERE id=$1`+t.forUpdate(), id)
}

func (t *tx) PutRegister(ctx context.Context, r *domain.CashRegister) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, `
		UPDATE cash_registers SET doc=$2, status=$3 WHERE id=$1
	`, r.ID, doc, string(r.Status))
	return err
}
