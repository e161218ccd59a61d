// Package payment settles orders against the cash register: whole-bill,
// split by item, or split equally. A settlement writes the register
// transaction and the order's payment record in one atomic scope, and
// the allocator is the only writer of the terminal paid status.
package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"comanda/internal/common/logger"
	"comanda/internal/domain"
	"comanda/internal/events"
	"comanda/internal/store"
)

type Mode string

const (
	// ModeItems explodes order lines into singletons assigned to named parts.
	ModeItems Mode = "items"
	// ModeEqual divides the total evenly; items are not decomposed.
	ModeEqual Mode = "equal"
	// ModeComplete settles the whole bill as one part.
	ModeComplete Mode = "complete"
)

// Singleton is one assignable unit of an order line. A quantity-N line
// explodes into N singletons that point back at the original item.
type Singleton struct {
	ID         string       `json:"id"`
	OriginalID string       `json:"original_id"`
	Name       string       `json:"name"`
	Price      domain.Money `json:"price"` // unit price including option surcharge
}

// Part is a named share of the bill. Ephemeral: parts live in the
// session, only settled payments reach the order document.
type Part struct {
	Name    string
	Items   []Singleton // item mode only
	Due     domain.Money
	Settled bool
}

// MethodDetails carries the method-specific fields of a settlement.
type MethodDetails struct {
	AmountReceived  domain.Money
	BankName        string
	TransactionCode string
}

type Allocator struct {
	st  store.Store
	bus events.Bus
	lg  *logger.Logger
	now func() time.Time
}

func New(st store.Store, bus events.Bus, lg *logger.Logger) *Allocator {
	return &Allocator{st: st, bus: bus, lg: lg, now: time.Now}
}

// Session is one in-progress settlement of a single order. Not safe to
// share across orders; safe for the handlers of one terminal.
type Session struct {
	mu sync.Mutex

	a       *Allocator
	orderID string
	mode    Mode
	total   domain.Money

	parts      []*Part
	unassigned []Singleton // item mode pool
}

// NewSession starts settling an order. partNames names the parts in
// items and equal mode and must be non-empty there; complete mode
// ignores it and settles as a single part.
func (a *Allocator) NewSession(ctx context.Context, orderID string, mode Mode, partNames []string) (*Session, error) {
	order, err := a.st.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.StatusPaid {
		return nil, domain.ErrOrderLocked
	}
	if _, err := a.st.CurrentRegister(ctx); err != nil {
		return nil, err
	}

	s := &Session{a: a, orderID: order.ID, mode: mode, total: order.Total}

	switch mode {
	case ModeComplete:
		s.parts = []*Part{{Name: "complete", Due: order.Total}}
	case ModeEqual:
		if len(partNames) < 2 {
			return nil, domain.Invalid("parts", "equal split needs at least two parts")
		}
		share, remainder := order.Total.Split(len(partNames))
		for i, name := range partNames {
			due := share
			if i == 0 {
				due = due.Add(remainder) // remainder goes to the first part
			}
			s.parts = append(s.parts, &Part{Name: name, Due: due})
		}
	case ModeItems:
		if len(partNames) == 0 {
			return nil, domain.Invalid("parts", "item split needs at least one part")
		}
		for _, name := range partNames {
			s.parts = append(s.parts, &Part{Name: name})
		}
		for _, it := range order.Items {
			for n := 0; n < it.Quantity; n++ {
				s.unassigned = append(s.unassigned, Singleton{
					ID:         fmt.Sprintf("%s#%d", it.ID, n+1),
					OriginalID: it.ID,
					Name:       it.Name,
					Price:      it.UnitPrice(),
				})
			}
		}
	default:
		return nil, domain.Invalid("mode", fmt.Sprintf("unknown split mode %q", mode))
	}

	if err := validatePartNames(s.parts); err != nil {
		return nil, err
	}
	s.restoreSettled(order.Payments)
	return s, nil
}

// restoreSettled marks parts whose payment already reached the order
// document as settled, so a session opened after a partial failure
// cannot charge them again. In item mode the paid singletons leave the
// unassigned pool and rejoin their part.
func (s *Session) restoreSettled(payments []domain.Payment) {
	for _, pay := range payments {
		if pay.SplitMode != string(s.mode) {
			continue
		}
		p := s.part(pay.PartName)
		if p == nil || p.Settled {
			continue
		}
		for _, id := range pay.ItemIDs {
			for i, sg := range s.unassigned {
				if sg.OriginalID == id {
					s.unassigned = append(s.unassigned[:i], s.unassigned[i+1:]...)
					p.Items = append(p.Items, sg)
					break
				}
			}
		}
		p.Due = pay.Amount
		p.Settled = true
	}
}

func validatePartNames(parts []*Part) error {
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		if p.Name == "" {
			return domain.Invalid("parts", "part name cannot be empty")
		}
		if seen[p.Name] {
			return domain.Invalid("parts", fmt.Sprintf("duplicate part name %q", p.Name))
		}
		seen[p.Name] = true
	}
	return nil
}

func (s *Session) part(name string) *Part {
	for _, p := range s.parts {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Parts returns a snapshot of the current parts.
func (s *Session) Parts() []Part {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Part, len(s.parts))
	for i, p := range s.parts {
		out[i] = *p
		out[i].Items = append([]Singleton(nil), p.Items...)
	}
	return out
}

// Unassigned returns the singletons not yet placed in any part.
func (s *Session) Unassigned() []Singleton {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Singleton(nil), s.unassigned...)
}

// Assign moves an unassigned singleton into a part and adds its price
// to the part's due amount. Item mode only.
func (s *Session) Assign(partName, singletonID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeItems {
		return domain.Invalid("mode", "assignment applies to item split only")
	}
	p := s.part(partName)
	if p == nil {
		return domain.Invalid("part", fmt.Sprintf("no part named %q", partName))
	}
	if p.Settled {
		return domain.ErrAlreadySettled
	}
	for i, sg := range s.unassigned {
		if sg.ID == singletonID {
			s.unassigned = append(s.unassigned[:i], s.unassigned[i+1:]...)
			p.Items = append(p.Items, sg)
			p.Due = p.Due.Add(sg.Price)
			return nil
		}
	}
	return domain.Invalid("item", fmt.Sprintf("singleton %q is not available", singletonID))
}

// Unassign returns a singleton from an unsettled part to the pool.
func (s *Session) Unassign(partName, singletonID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeItems {
		return domain.Invalid("mode", "assignment applies to item split only")
	}
	p := s.part(partName)
	if p == nil {
		return domain.Invalid("part", fmt.Sprintf("no part named %q", partName))
	}
	if p.Settled {
		return domain.ErrAlreadySettled
	}
	for i, sg := range p.Items {
		if sg.ID == singletonID {
			p.Items = append(p.Items[:i], p.Items[i+1:]...)
			p.Due = p.Due.Sub(sg.Price)
			s.unassigned = append(s.unassigned, sg)
			return nil
		}
	}
	return domain.Invalid("item", fmt.Sprintf("singleton %q is not in part %q", singletonID, partName))
}

// validateMethod checks the method-specific fields before any mutation
// and returns the change due for cash.
func validateMethod(method string, due domain.Money, d MethodDetails) (change domain.Money, err error) {
	switch method {
	case domain.MethodCash:
		if d.AmountReceived < due {
			return 0, domain.Invalid("amount_received",
				fmt.Sprintf("received %s is less than due %s", d.AmountReceived, due))
		}
		return d.AmountReceived.Sub(due), nil
	case domain.MethodTransfer:
		if d.BankName == "" {
			return 0, domain.Invalid("bank_name", "bank transfer requires a bank name")
		}
		if d.TransactionCode == "" {
			return 0, domain.Invalid("transaction_code", "bank transfer requires a transaction code")
		}
		return 0, nil
	case domain.MethodAhorita, domain.MethodDeUna:
		if d.TransactionCode == "" {
			return 0, domain.Invalid("transaction_code", fmt.Sprintf("%s requires a transaction code", method))
		}
		return 0, nil
	default:
		return 0, domain.Invalid("method", fmt.Sprintf("unknown payment method %q", method))
	}
}

// SettlePart pays one part: validates the method fields, then in one
// atomic scope appends the register transaction, records the payment on
// the order, and marks original items served once every singleton
// sibling has been settled.
func (s *Session) SettlePart(ctx context.Context, partName, method string, details MethodDetails, actor domain.Actor) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.part(partName)
	if p == nil {
		return nil, domain.Invalid("part", fmt.Sprintf("no part named %q", partName))
	}
	if p.Settled {
		return nil, domain.ErrAlreadySettled
	}
	if s.mode == ModeItems && len(p.Items) == 0 {
		return nil, domain.Invalid("part", fmt.Sprintf("part %q has no items assigned", partName))
	}
	if p.Due <= 0 {
		return nil, domain.Invalid("part", fmt.Sprintf("part %q has nothing due", partName))
	}
	change, err := validateMethod(method, p.Due, details)
	if err != nil {
		return nil, err
	}

	reg, err := s.a.st.CurrentRegister(ctx)
	if err != nil {
		return nil, err
	}

	pay := domain.Payment{
		ID:           uuid.NewString(),
		PartName:     p.Name,
		Amount:       p.Due,
		Method:       method,
		Change:       change,
		SplitMode:    string(s.mode),
		Timestamp:    s.a.now().UTC(),
		RegisteredBy: actor,
	}
	if method == domain.MethodCash {
		pay.AmountReceived = details.AmountReceived
	} else {
		pay.BankName = details.BankName
		pay.TransactionCode = details.TransactionCode
	}
	for _, sg := range p.Items {
		pay.ItemIDs = append(pay.ItemIDs, sg.OriginalID)
	}

	servedNow := s.settledOriginals(p)

	err = s.a.st.Atomic(ctx, func(tx store.Tx) error {
		r, err := tx.GetRegister(ctx, reg.ID)
		if err != nil {
			return err
		}
		if r.Status != domain.RegisterOpen {
			return domain.ErrRegisterClosed
		}
		r.Transactions = append(r.Transactions, domain.Transaction{
			ID:            uuid.NewString(),
			Type:          domain.TransactionPayment,
			Amount:        p.Due,
			Description:   fmt.Sprintf("order #%s - %s", s.orderID, p.Name),
			OrderID:       s.orderID,
			PaymentMethod: method,
			RegisteredBy:  actor,
			Timestamp:     pay.Timestamp,
		})
		r.CurrentAmount = r.CurrentAmount.Add(p.Due)
		if err := tx.PutRegister(ctx, r); err != nil {
			return err
		}

		order, err := tx.GetOrder(ctx, s.orderID)
		if err != nil {
			return err
		}
		if order.Status == domain.StatusPaid {
			return domain.ErrOrderLocked
		}
		for _, prev := range order.Payments {
			if prev.PartName == p.Name && prev.SplitMode == string(s.mode) {
				return domain.ErrAlreadySettled
			}
		}
		order.Payments = append(order.Payments, pay)
		for _, id := range servedNow {
			if it := order.Item(id); it != nil {
				it.Status = domain.StatusServed
			}
		}
		return tx.PutOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	p.Settled = true
	s.a.lg.Info("part_settled", map[string]any{
		"order_id": s.orderID, "part": p.Name, "amount": p.Due.String(),
		"method": method, "by": actor.Name,
	})
	return &pay, nil
}

// settledOriginals lists original item ids whose every singleton sits in
// already-settled parts or in p, which is about to settle.
func (s *Session) settledOriginals(p *Part) []string {
	if s.mode != ModeItems {
		return nil
	}
	pending := make(map[string]int)
	for _, sg := range s.unassigned {
		pending[sg.OriginalID]++
	}
	for _, other := range s.parts {
		if other == p || other.Settled {
			continue
		}
		for _, sg := range other.Items {
			pending[sg.OriginalID]++
		}
	}
	var done []string
	for _, sg := range p.Items {
		if pending[sg.OriginalID] == 0 {
			done = append(done, sg.OriginalID)
		}
	}
	return done
}

// IsFullySettled reports whether nothing remains to pay: all parts
// settled and, in item mode, no unassigned singletons left.
func (s *Session) IsFullySettled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeItems && len(s.unassigned) > 0 {
		return false
	}
	for _, p := range s.parts {
		if !p.Settled {
			return false
		}
	}
	return true
}

// Complete finalizes a fully settled order: status paid, paid timestamp
// and method stamped, remaining items marked served, register sync flag
// set since every settlement already reached the register.
func (s *Session) Complete(ctx context.Context, actor domain.Actor) (*domain.Order, error) {
	if !s.IsFullySettled() {
		return nil, domain.Invalid("order", "not fully settled")
	}

	var completed *domain.Order
	err := s.a.st.Atomic(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrder(ctx, s.orderID)
		if err != nil {
			return err
		}
		if order.Status == domain.StatusPaid {
			return domain.ErrOrderLocked
		}
		now := s.a.now().UTC()
		order.Status = domain.StatusPaid
		order.PaidAt = &now
		order.PaymentMethod = orderMethod(order.Payments)
		order.SyncedWithRegister = true
		for i := range order.Items {
			order.Items[i].Status = domain.StatusServed
		}
		completed = order
		return tx.PutOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.a.lg.Info("order_paid", map[string]any{
		"order_id": completed.ID, "total": completed.Total.String(),
		"method": completed.PaymentMethod, "by": actor.Name,
	})
	if err := s.a.bus.Publish(ctx, domain.TopicOrderPaid, domain.OrderEvent{
		OrderID:   completed.ID,
		Status:    completed.Status,
		Total:     completed.Total,
		Method:    completed.PaymentMethod,
		Timestamp: *completed.PaidAt,
	}); err != nil {
		s.a.lg.Error("event_publish_failed", err, map[string]any{"topic": domain.TopicOrderPaid})
	}
	return completed, nil
}

// orderMethod collapses the payment methods used into the order-level
// tag: the single method when uniform, "split" otherwise.
func orderMethod(payments []domain.Payment) string {
	if len(payments) == 0 {
		return ""
	}
	m := payments[0].Method
	for _, p := range payments[1:] {
		if p.Method != m {
			return "split"
		}
	}
	return m
}
