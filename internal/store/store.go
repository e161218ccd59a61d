// Package store defines the document-store contract the core runs on:
// per-key reads, atomic single/multi-document read-modify-write scopes,
// append-only movement logs, and an atomic create-if-none-open primitive
// for cash registers. Balance-affecting writes must go through Atomic —
// a plain read followed by an unconditional write loses updates under
// concurrent terminals.
package store

import (
	"context"
	"errors"
	"time"

	"comanda/internal/domain"
)

var ErrNotFound = errors.New("document not found")

// OrderFilter narrows ListOrders. Zero values mean "any".
type OrderFilter struct {
	Status   domain.Status
	Since    time.Time
	Until    time.Time
	Unsynced bool // only paid orders not yet reflected in a register
}

// Tx is the view inside an Atomic scope. Documents read through it are
// locked for the duration of the scope; writes commit together or not at
// all.
type Tx interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	PutOrder(ctx context.Context, o *domain.Order) error
	DeleteOrder(ctx context.Context, id string) error

	GetDish(ctx context.Context, id string) (*domain.Dish, error)
	PutDish(ctx context.Context, d *domain.Dish) error

	GetItem(ctx context.Context, id string) (*domain.InventoryItem, error)
	PutItem(ctx context.Context, it *domain.InventoryItem) error

	AppendMovement(ctx context.Context, m domain.Movement) error
	MovementsByOrder(ctx context.Context, orderID string) ([]domain.Movement, error)

	GetRegister(ctx context.Context, id string) (*domain.CashRegister, error)
	PutRegister(ctx context.Context, r *domain.CashRegister) error
}

type Store interface {
	// Atomic runs fn in one transactional scope. fn returning an error
	// aborts every write made through its Tx.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	// OpenRegister creates r only if no register is currently open,
	// atomically; otherwise domain.ErrRegisterAlreadyOpen.
	OpenRegister(ctx context.Context, r *domain.CashRegister) error

	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]*domain.Order, error)

	GetDish(ctx context.Context, id string) (*domain.Dish, error)
	ListDishes(ctx context.Context) ([]*domain.Dish, error)
	PutDish(ctx context.Context, d *domain.Dish) error

	GetItem(ctx context.Context, id string) (*domain.InventoryItem, error)
	ListItems(ctx context.Context) ([]*domain.InventoryItem, error)
	PutItem(ctx context.Context, it *domain.InventoryItem) error

	MovementsByOrder(ctx context.Context, orderID string) ([]domain.Movement, error)

	GetRegister(ctx context.Context, id string) (*domain.CashRegister, error)
	// CurrentRegister returns the open register or domain.ErrNoOpenRegister.
	CurrentRegister(ctx context.Context) (*domain.CashRegister, error)
	// ListRegisters returns up to limit registers, most recently opened first.
	ListRegisters(ctx context.Context, limit int) ([]*domain.CashRegister, error)
}
