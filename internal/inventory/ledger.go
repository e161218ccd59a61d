// Package inventory keeps stock for tracked dishes and tracked recipe
// ingredients in step with order activity, with one immutable movement
// per quantity change.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"comanda/internal/common/logger"
	"comanda/internal/domain"
	"comanda/internal/store"
)

type Ledger struct {
	st       store.Store
	lg       *logger.Logger
	lowStock float64 // dish advisory threshold
	now      func() time.Time
}

func New(st store.Store, lg *logger.Logger, lowStock float64) *Ledger {
	return &Ledger{st: st, lg: lg, lowStock: lowStock, now: time.Now}
}

type refKey struct {
	target domain.MovementTarget
	id     string
}

// requiredIngredients aggregates the total tracked-ingredient demand of
// items across their recipes, so one movement covers one ingredient no
// matter how many lines reference it.
func requiredIngredients(dishes map[string]*domain.Dish, items []domain.OrderItem) map[string]float64 {
	req := make(map[string]float64)
	for _, it := range items {
		dish := dishes[it.DishID]
		if dish == nil {
			continue
		}
		for _, ing := range dish.Ingredients {
			if ing.Tracked {
				req[ing.ItemID] += ing.Quantity * float64(it.Quantity)
			}
		}
	}
	return req
}

// CheckAvailability verifies stock for every tracked dish and tracked
// ingredient the items need. All shortages are reported, not just the
// first. A nil return means the order may be confirmed.
func (l *Ledger) CheckAvailability(ctx context.Context, items []domain.OrderItem) error {
	var shortages []domain.Shortage

	dishes := make(map[string]*domain.Dish)
	for _, it := range items {
		dish, err := l.st.GetDish(ctx, it.DishID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load dish %s: %w", it.DishID, err)
		}
		dishes[it.DishID] = dish
		if dish.Tracked && dish.StockQuantity < float64(it.Quantity) {
			shortages = append(shortages, domain.Shortage{
				RefID:     dish.ID,
				Name:      dish.Name,
				Required:  float64(it.Quantity),
				Available: dish.StockQuantity,
			})
		}
	}

	for ingID, required := range requiredIngredients(dishes, items) {
		item, err := l.st.GetItem(ctx, ingID)
		if errors.Is(err, store.ErrNotFound) {
			shortages = append(shortages, domain.Shortage{RefID: ingID, Name: ingID, Required: required})
			continue
		}
		if err != nil {
			return fmt.Errorf("load inventory item %s: %w", ingID, err)
		}
		if item.Quantity < required {
			shortages = append(shortages, domain.Shortage{
				RefID:     item.ID,
				Name:      item.Name,
				Unit:      item.Unit,
				Required:  required,
				Available: item.Quantity,
			})
		}
	}

	if len(shortages) > 0 {
		return &domain.ShortageError{Shortages: shortages}
	}
	return nil
}

// Consume decrements stock for the given order items inside tx: tracked
// dishes by ordered quantity, tracked ingredients by aggregated recipe
// demand. Quantities clamp at zero and each movement records the delta
// actually applied. Returned advisories are informational; the caller
// publishes them after the scope commits.
func (l *Ledger) Consume(ctx context.Context, tx store.Tx, orderID string, items []domain.OrderItem, actor domain.Actor) ([]domain.Advisory, error) {
	var advisories []domain.Advisory
	reason := fmt.Sprintf("order #%s", orderID)

	dishes := make(map[string]*domain.Dish)
	for _, it := range items {
		dish, err := tx.GetDish(ctx, it.DishID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load dish %s: %w", it.DishID, err)
		}
		dishes[it.DishID] = dish
		if !dish.Tracked {
			continue
		}
		prev := dish.StockQuantity
		applied := float64(it.Quantity)
		if applied > prev {
			applied = prev // clamp at zero
		}
		dish.StockQuantity = prev - applied
		if err := tx.PutDish(ctx, dish); err != nil {
			return nil, err
		}
		if err := tx.AppendMovement(ctx, l.movement(domain.TargetDish, dish.ID, dish.Name,
			prev, dish.StockQuantity, -applied, domain.MovementOut, reason, orderID, actor)); err != nil {
			return nil, err
		}
		advisories = appendStockAdvisory(advisories, dish.Name, dish.ID, dish.StockQuantity, l.lowStock, l.now())
	}

	for ingID, required := range requiredIngredients(dishes, items) {
		item, err := tx.GetItem(ctx, ingID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load inventory item %s: %w", ingID, err)
		}
		prev := item.Quantity
		applied := required
		if applied > prev {
			applied = prev
		}
		item.Quantity = prev - applied
		if err := tx.PutItem(ctx, item); err != nil {
			return nil, err
		}
		if err := tx.AppendMovement(ctx, l.movement(domain.TargetItem, item.ID, item.Name,
			prev, item.Quantity, -applied, domain.MovementOut, reason, orderID, actor)); err != nil {
			return nil, err
		}
		advisories = appendStockAdvisory(advisories, item.Name, item.ID, item.Quantity, item.MinStock, l.now())
	}

	l.lg.Debug("stock_consumed", map[string]any{"order_id": orderID, "items": len(items)})
	return advisories, nil
}

// Reverse restores the net outstanding consumption this order caused,
// writing one compensating "in" movement per stock entity. refIDs, when
// non-nil, limits the reversal to those dish/ingredient ids (item-level
// reopen); nil reverses everything (cancellation). Computing the net from
// the movement log makes a retry after partial failure a no-op.
func (l *Ledger) Reverse(ctx context.Context, tx store.Tx, orderID string, refIDs map[string]bool, reason string, actor domain.Actor) error {
	movements, err := tx.MovementsByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load movements for order %s: %w", orderID, err)
	}

	net := make(map[refKey]float64)
	for _, m := range movements {
		k := refKey{m.Target, m.RefID}
		net[k] += m.Delta
	}

	for k, n := range net {
		if n >= 0 {
			continue // fully restored already
		}
		if refIDs != nil && !refIDs[k.id] {
			continue
		}
		restore := -n

		switch k.target {
		case domain.TargetDish:
			dish, err := tx.GetDish(ctx, k.id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			prev := dish.StockQuantity
			dish.StockQuantity = prev + restore
			if err := tx.PutDish(ctx, dish); err != nil {
				return err
			}
			if err := tx.AppendMovement(ctx, l.movement(domain.TargetDish, dish.ID, dish.Name,
				prev, dish.StockQuantity, restore, domain.MovementIn, reason, orderID, actor)); err != nil {
				return err
			}
		case domain.TargetItem:
			item, err := tx.GetItem(ctx, k.id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			prev := item.Quantity
			item.Quantity = prev + restore
			if err := tx.PutItem(ctx, item); err != nil {
				return err
			}
			if err := tx.AppendMovement(ctx, l.movement(domain.TargetItem, item.ID, item.Name,
				prev, item.Quantity, restore, domain.MovementIn, reason, orderID, actor)); err != nil {
				return err
			}
		}
	}

	l.lg.Debug("stock_restored", map[string]any{"order_id": orderID, "reason": reason})
	return nil
}

// RefsForItem resolves the stock entities one order item touches: the
// dish itself when tracked plus its tracked recipe ingredients.
func (l *Ledger) RefsForItem(ctx context.Context, tx store.Tx, it domain.OrderItem) (map[string]bool, error) {
	dish, err := tx.GetDish(ctx, it.DishID)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}
	refs := make(map[string]bool)
	if dish.Tracked {
		refs[dish.ID] = true
	}
	for _, ing := range dish.Ingredients {
		if ing.Tracked {
			refs[ing.ItemID] = true
		}
	}
	return refs, nil
}

// AdjustStock applies a manual restock or correction to a raw inventory
// item and records the movement.
func (l *Ledger) AdjustStock(ctx context.Context, itemID string, delta float64, reason string, actor domain.Actor) (*domain.Movement, error) {
	if delta == 0 {
		return nil, domain.Invalid("delta", "must be non-zero")
	}
	typ := domain.MovementIn
	if delta < 0 {
		typ = domain.MovementAdjust
	}
	var mv domain.Movement
	err := l.st.Atomic(ctx, func(tx store.Tx) error {
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		prev := item.Quantity
		applied := delta
		if prev+applied < 0 {
			applied = -prev // clamp at zero
		}
		item.Quantity = prev + applied
		if err := tx.PutItem(ctx, item); err != nil {
			return err
		}
		mv = l.movement(domain.TargetItem, item.ID, item.Name, prev, item.Quantity, applied, typ, reason, "", actor)
		return tx.AppendMovement(ctx, mv)
	})
	if err != nil {
		return nil, err
	}
	l.lg.Info("stock_adjusted", map[string]any{"item_id": itemID, "delta": delta, "by": actor.Name})
	return &mv, nil
}

// LowStockEntry is one stock entity at or below its advisory threshold.
type LowStockEntry struct {
	RefID     string  `json:"ref_id"`
	Name      string  `json:"name"`
	Unit      string  `json:"unit,omitempty"`
	Quantity  float64 `json:"quantity"`
	Threshold float64 `json:"threshold"`
}

// LowStock lists tracked dishes and ingredients currently at or below
// their thresholds, for the periodic terminal refresh.
func (l *Ledger) LowStock(ctx context.Context) ([]LowStockEntry, error) {
	var out []LowStockEntry
	dishes, err := l.st.ListDishes(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range dishes {
		if d.Tracked && d.Active && d.StockQuantity <= l.lowStock {
			out = append(out, LowStockEntry{RefID: d.ID, Name: d.Name, Quantity: d.StockQuantity, Threshold: l.lowStock})
		}
	}
	items, err := l.st.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.Active && it.MinStock > 0 && it.Quantity <= it.MinStock {
			out = append(out, LowStockEntry{RefID: it.ID, Name: it.Name, Unit: it.Unit, Quantity: it.Quantity, Threshold: it.MinStock})
		}
	}
	return out, nil
}

func (l *Ledger) movement(target domain.MovementTarget, refID, refName string, prev, next, delta float64, typ domain.MovementType, reason, orderID string, actor domain.Actor) domain.Movement {
	return domain.Movement{
		ID:        uuid.NewString(),
		Target:    target,
		RefID:     refID,
		RefName:   refName,
		Previous:  prev,
		New:       next,
		Delta:     delta,
		Type:      typ,
		Reason:    reason,
		OrderID:   orderID,
		CreatedBy: actor,
		CreatedAt: l.now().UTC(),
	}
}

func appendStockAdvisory(advs []domain.Advisory, name, refID string, remaining, threshold float64, now time.Time) []domain.Advisory {
	switch {
	case remaining == 0:
		return append(advs, domain.Advisory{
			Kind:      domain.AdvisoryOutOfStock,
			RefID:     refID,
			RefName:   name,
			Remaining: 0,
			Message:   fmt.Sprintf("%q is out of stock", name),
			Timestamp: now.UTC(),
		})
	case threshold > 0 && remaining <= threshold:
		return append(advs, domain.Advisory{
			Kind:      domain.AdvisoryLowStock,
			RefID:     refID,
			RefName:   name,
			Remaining: remaining,
			Message:   fmt.Sprintf("%q is below minimum stock (%g left)", name, remaining),
			Timestamp: now.UTC(),
		})
	}
	return advs
}
