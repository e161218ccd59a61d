// Package memory is a mutex-guarded in-memory Store. Tests and the demo
// mode run on it; the semantics (atomic scopes, create-if-none-open)
// match the Postgres driver.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"comanda/internal/domain"
	"comanda/internal/store"
)

type Store struct {
	mu        sync.RWMutex
	orders    map[string]*domain.Order
	dishes    map[string]*domain.Dish
	items     map[string]*domain.InventoryItem
	movements []domain.Movement
	registers map[string]*domain.CashRegister
}

func New() *Store {
	return &Store{
		orders:    make(map[string]*domain.Order),
		dishes:    make(map[string]*domain.Dish),
		items:     make(map[string]*domain.InventoryItem),
		registers: make(map[string]*domain.CashRegister),
	}
}

// clone deep-copies a document so callers never alias stored state.
func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		panic(err)
	}
	return out
}

func (s *Store) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &tx{
		s:         s,
		orders:    make(map[string]*domain.Order),
		orderDel:  make(map[string]bool),
		dishes:    make(map[string]*domain.Dish),
		items:     make(map[string]*domain.InventoryItem),
		registers: make(map[string]*domain.CashRegister),
	}
	if err := fn(t); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (s *Store) OpenRegister(ctx context.Context, r *domain.CashRegister) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.registers {
		if existing.Status == domain.RegisterOpen {
			return domain.ErrRegisterAlreadyOpen
		}
	}
	s.registers[r.ID] = clone(r)
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(o), nil
}

func (s *Store) ListOrders(ctx context.Context, f store.OrderFilter) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if matches(o, f) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func matches(o *domain.Order, f store.OrderFilter) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && o.Date.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !o.Date.Before(f.Until) {
		return false
	}
	if f.Unsynced && (o.Status != domain.StatusPaid || o.SyncedWithRegister) {
		return false
	}
	return true
}

func (s *Store) GetDish(ctx context.Context, id string) (*domain.Dish, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dishes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(d), nil
}

func (s *Store) ListDishes(ctx context.Context) ([]*domain.Dish, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Dish, 0, len(s.dishes))
	for _, d := range s.dishes {
		out = append(out, clone(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) PutDish(ctx context.Context, d *domain.Dish) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dishes[d.ID] = clone(d)
	return nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(it), nil
}

func (s *Store) ListItems(ctx context.Context) ([]*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.InventoryItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, clone(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) PutItem(ctx context.Context, it *domain.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = clone(it)
	return nil
}

func (s *Store) MovementsByOrder(ctx context.Context, orderID string) ([]domain.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return movementsFor(s.movements, orderID), nil
}

func movementsFor(all []domain.Movement, orderID string) []domain.Movement {
	var out []domain.Movement
	for _, m := range all {
		if m.OrderID == orderID {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) GetRegister(ctx context.Context, id string) (*domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.registers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(r), nil
}

func (s *Store) CurrentRegister(ctx context.Context) (*domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.registers {
		if r.Status == domain.RegisterOpen {
			return clone(r), nil
		}
	}
	return nil, domain.ErrNoOpenRegister
}

func (s *Store) ListRegisters(ctx context.Context, limit int) ([]*domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.CashRegister, 0, len(s.registers))
	for _, r := range s.registers {
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// tx stages writes against the locked store; commit merges them. A failed
// scope leaves the base maps untouched.
type tx struct {
	s         *Store
	orders    map[string]*domain.Order
	orderDel  map[string]bool
	dishes    map[string]*domain.Dish
	items     map[string]*domain.InventoryItem
	registers map[string]*domain.CashRegister
	movements []domain.Movement
}

func (t *tx) commit() {
	for id, o := range t.orders {
		t.s.orders[id] = o
	}
	for id := range t.orderDel {
		delete(t.s.orders, id)
	}
	for id, d := range t.dishes {
		t.s.dishes[id] = d
	}
	for id, it := range t.items {
		t.s.items[id] = it
	}
	for id, r := range t.registers {
		t.s.registers[id] = r
	}
	t.s.movements = append(t.s.movements, t.movements...)
}

func (t *tx) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if t.orderDel[id] {
		return nil, store.ErrNotFound
	}
	if o, ok := t.orders[id]; ok {
		return clone(o), nil
	}
	o, ok := t.s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(o), nil
}

func (t *tx) PutOrder(ctx context.Context, o *domain.Order) error {
	delete(t.orderDel, o.ID)
	t.orders[o.ID] = clone(o)
	return nil
}

func (t *tx) DeleteOrder(ctx context.Context, id string) error {
	delete(t.orders, id)
	t.orderDel[id] = true
	return nil
}

func (t *tx) GetDish(ctx context.Context, id string) (*domain.Dish, error) {
	if d, ok := t.dishes[id]; ok {
		return clone(d), nil
	}
	d, ok := t.s.dishes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(d), nil
}

func (t *tx) PutDish(ctx context.Context, d *domain.Dish) error {
	t.dishes[d.ID] = clone(d)
	return nil
}

func (t *tx) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	if it, ok := t.items[id]; ok {
		return clone(it), nil
	}
	it, ok := t.s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(it), nil
}

func (t *tx) PutItem(ctx context.Context, it *domain.InventoryItem) error {
	t.items[it.ID] = clone(it)
	return nil
}

func (t *tx) AppendMovement(ctx context.Context, m domain.Movement) error {
	t.movements = append(t.movements, m)
	return nil
}

func (t *tx) MovementsByOrder(ctx context.Context, orderID string) ([]domain.Movement, error) {
	out := movementsFor(t.s.movements, orderID)
	out = append(out, movementsFor(t.movements, orderID)...)
	return out, nil
}

func (t *tx) GetRegister(ctx context.Context, id string) (*domain.CashRegister, error) {
	if r, ok := t.registers[id]; ok {
		return clone(r), nil
	}
	r, ok := t.s.registers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(r), nil
}

func (t *tx) PutRegister(ctx context.Context, r *domain.CashRegister) error {
	t.registers[r.ID] = clone(r)
	return nil
}
