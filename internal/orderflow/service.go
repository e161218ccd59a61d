// Package orderflow owns order creation and the order/item status
// machine. An item transition and its stock effect commit in one atomic
// store scope, so a failed stock write rolls the transition back instead
// of leaving the ledgers out of step.
package orderflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"comanda/internal/common/logger"
	"comanda/internal/domain"
	"comanda/internal/events"
	"comanda/internal/inventory"
	"comanda/internal/store"
)

// LockPolicy decides whether an order's business day is frozen for edits.
type LockPolicy interface {
	Frozen(orderDate, now time.Time) bool
}

// DayLock freezes orders from any day before the current one.
type DayLock struct{}

func (DayLock) Frozen(orderDate, now time.Time) bool {
	y1, m1, d1 := orderDate.Local().Date()
	y2, m2, d2 := now.Local().Date()
	return time.Date(y1, m1, d1, 0, 0, 0, 0, time.Local).
		Before(time.Date(y2, m2, d2, 0, 0, 0, 0, time.Local))
}

type Service struct {
	st   store.Store
	inv  *inventory.Ledger
	bus  events.Bus
	lg   *logger.Logger
	lock LockPolicy
	now  func() time.Time
}

func New(st store.Store, inv *inventory.Ledger, bus events.Bus, lg *logger.Logger) *Service {
	return &Service{st: st, inv: inv, bus: bus, lg: lg, lock: DayLock{}, now: time.Now}
}

// CreateItem is one requested order line.
type CreateItem struct {
	DishID         string
	Quantity       int
	SelectedOption string
}

type CreateRequest struct {
	Customer domain.Customer
	Tables   []string
	Items    []CreateItem
}

// Create confirms a new order: stock availability and an open register
// are hard preconditions, the total derives from the menu prices, and
// every item starts waiting.
func (s *Service) Create(ctx context.Context, req CreateRequest, actor domain.Actor) (*domain.Order, error) {
	if len(req.Items) == 0 {
		return nil, domain.Invalid("items", "at least one item is required")
	}
	if req.Customer.Name == "" {
		return nil, domain.Invalid("customer", "name is required")
	}

	if _, err := s.st.CurrentRegister(ctx); err != nil {
		return nil, err // domain.ErrNoOpenRegister blocks confirmation
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, ri := range req.Items {
		if ri.Quantity <= 0 {
			return nil, domain.Invalid("quantity", fmt.Sprintf("invalid quantity for dish %s", ri.DishID))
		}
		dish, err := s.st.GetDish(ctx, ri.DishID)
		if err != nil {
			return nil, fmt.Errorf("load dish %s: %w", ri.DishID, err)
		}
		if !dish.Active {
			return nil, domain.Invalid("dish", fmt.Sprintf("%q is not available", dish.Name))
		}
		item := domain.OrderItem{
			ID:         uuid.NewString(),
			DishID:     dish.ID,
			Name:       dish.Name,
			Price:      dish.Price,
			Quantity:   ri.Quantity,
			CategoryID: dish.CategoryID,
			Status:     domain.StatusWaiting,
			Tracked:    dish.Tracked,
		}
		if dish.Tracked {
			item.StockSnapshot = dish.StockQuantity
		}
		if ri.SelectedOption != "" {
			opt := findOption(dish, ri.SelectedOption)
			if opt == nil {
				return nil, domain.Invalid("option", fmt.Sprintf("dish %q has no option %q", dish.Name, ri.SelectedOption))
			}
			item.SelectedOption = opt
		} else if len(dish.Options) > 0 {
			return nil, domain.Invalid("option", fmt.Sprintf("dish %q requires an option", dish.Name))
		}
		items = append(items, item)
	}

	if err := s.inv.CheckAvailability(ctx, items); err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:       uuid.NewString(),
		Customer: req.Customer,
		Date:     s.now().UTC(),
		Tables:   req.Tables,
		Items:    items,
		Status:   domain.StatusWaiting,
	}
	order.Total = order.ComputeTotal()

	if err := s.st.Atomic(ctx, func(tx store.Tx) error {
		return tx.PutOrder(ctx, order)
	}); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	s.lg.Info("order_created", map[string]any{
		"order_id": order.ID, "total": order.Total.String(), "items": len(order.Items), "by": actor.Name,
	})
	s.publish(ctx, domain.TopicOrderCreated, domain.OrderEvent{
		OrderID: order.ID, Status: order.Status, Total: order.Total, Timestamp: order.Date,
	})
	return order, nil
}

func findOption(d *domain.Dish, name string) *domain.DishOption {
	for i := range d.Options {
		if d.Options[i].Name == name {
			return &d.Options[i]
		}
	}
	return nil
}

// consumed reports whether an item in st holds its stock.
func consumed(st domain.Status) bool {
	return st == domain.StatusReady || st == domain.StatusServed
}

// Recompute derives the order-level status from its items. Served items
// count as ready here: order-level served and paid are never derived.
func Recompute(items []domain.OrderItem) domain.Status {
	if len(items) == 0 {
		return domain.StatusWaiting
	}
	allReady := true
	for _, it := range items {
		switch it.Status {
		case domain.StatusWaiting:
			return domain.StatusWaiting
		case domain.StatusPreparing:
			allReady = false
		}
	}
	if allReady {
		return domain.StatusReady
	}
	return domain.StatusPreparing
}

// SetItemStatus moves one item to newStatus. Transitions are
// bidirectional below paid; a paid order is locked and a frozen business
// day rejects edits outright. Entering ready consumes stock for the item,
// leaving ready restores it, both inside the same scope as the status
// write.
func (s *Service) SetItemStatus(ctx context.Context, orderID, itemID string, newStatus domain.Status, actor domain.Actor) error {
	if !newStatus.ItemStatus() {
		return domain.Invalid("status", fmt.Sprintf("%q is not an item status", newStatus))
	}

	var (
		evTopic    string
		ev         domain.ItemEvent
		advisories []domain.Advisory
		changed    bool
	)

	err := s.st.Atomic(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == domain.StatusPaid {
			return domain.ErrOrderLocked
		}
		if s.lock.Frozen(order.Date, s.now()) {
			return domain.ErrFrozenDate
		}
		item := order.Item(itemID)
		if item == nil {
			return fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
		}
		old := item.Status
		if old == newStatus {
			return nil
		}

		item.Status = newStatus
		order.Status = Recompute(order.Items)
		if err := tx.PutOrder(ctx, order); err != nil {
			return err
		}

		// Stock is held while an item sits in ready or served; crossing
		// into that set consumes, crossing back out restores.
		switch {
		case !consumed(old) && consumed(newStatus):
			advisories, err = s.inv.Consume(ctx, tx, order.ID, []domain.OrderItem{*item}, actor)
			if err != nil {
				return fmt.Errorf("consume stock: %w", err)
			}
			evTopic = domain.TopicItemReady
		case consumed(old) && !consumed(newStatus):
			refs, err := s.inv.RefsForItem(ctx, tx, *item)
			if err != nil {
				return err
			}
			reason := fmt.Sprintf("reopened item - order #%s", order.ID)
			if err := s.inv.Reverse(ctx, tx, order.ID, refs, reason, actor); err != nil {
				return fmt.Errorf("restore stock: %w", err)
			}
			evTopic = domain.TopicItemReopened
		}

		ev = domain.ItemEvent{
			OrderID: order.ID, ItemID: item.ID, Name: item.Name, Quantity: item.Quantity,
			OldStatus: old, NewStatus: newStatus, ChangedBy: actor.Name, Timestamp: s.now().UTC(),
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.lg.Debug("item_status_changed", map[string]any{
		"order_id": orderID, "item_id": itemID, "status": string(newStatus), "by": actor.Name,
	})
	if evTopic != "" {
		s.publish(ctx, evTopic, ev)
	}
	for _, adv := range advisories {
		s.publish(ctx, domain.TopicAdvisory, adv)
	}
	return nil
}

// Cancel deletes an unpaid order and restores whatever its items had
// consumed. Safe to retry: reversal compensates only the net outstanding
// consumption.
func (s *Service) Cancel(ctx context.Context, orderID string, actor domain.Actor) error {
	var total domain.Money
	err := s.st.Atomic(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == domain.StatusPaid {
			return domain.ErrOrderLocked
		}
		if s.lock.Frozen(order.Date, s.now()) {
			return domain.ErrFrozenDate
		}
		reason := fmt.Sprintf("cancelled order #%s", order.ID)
		if err := s.inv.Reverse(ctx, tx, order.ID, nil, reason, actor); err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
		total = order.Total
		return tx.DeleteOrder(ctx, order.ID)
	})
	if err != nil {
		return err
	}

	s.lg.Info("order_cancelled", map[string]any{"order_id": orderID, "by": actor.Name})
	s.publish(ctx, domain.TopicOrderCancelled, domain.OrderEvent{
		OrderID: orderID, Total: total, Timestamp: s.now().UTC(),
	})
	return nil
}

func (s *Service) publish(ctx context.Context, topic string, payload any) {
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		s.lg.Error("event_publish_failed", err, map[string]any{"topic": topic})
	}
}
