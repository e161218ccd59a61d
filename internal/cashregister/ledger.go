// Package cashregister keeps the money ledger for the till: one register
// open at a time, an append-only transaction log inside it, and a closing
// count reconciled against the running balance.
package cashregister

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"comanda/internal/common/logger"
	"comanda/internal/domain"
	"comanda/internal/store"
)

type Ledger struct {
	st  store.Store
	lg  *logger.Logger
	now func() time.Time
}

func New(st store.Store, lg *logger.Logger) *Ledger {
	return &Ledger{st: st, lg: lg, now: time.Now}
}

// validateCount checks a denomination breakdown: positive counts, each
// subtotal equal to value×count, and the sum equal to declared.
func validateCount(detail []domain.Denomination, declared domain.Money) error {
	var sum domain.Money
	for i, d := range detail {
		if d.Value <= 0 || d.Count < 0 {
			return domain.Invalid("denominations", fmt.Sprintf("entry %d has invalid value or count", i))
		}
		if want := d.Value.Mul(int64(d.Count)); d.Subtotal != want {
			return domain.Invalid("denominations",
				fmt.Sprintf("subtotal for %s×%d is %s, expected %s", d.Value, d.Count, d.Subtotal, want))
		}
		sum = sum.Add(d.Subtotal)
	}
	if sum != declared {
		return domain.Invalid("amount", fmt.Sprintf("denominations total %s, declared %s", sum, declared))
	}
	return nil
}

// Open creates the day's register. The opening amount must match the
// counted denominations, and the store refuses a second open register
// atomically.
func (l *Ledger) Open(ctx context.Context, amount domain.Money, detail []domain.Denomination, actor domain.Actor) (*domain.CashRegister, error) {
	if amount < 0 {
		return nil, domain.Invalid("amount", "opening amount cannot be negative")
	}
	if len(detail) > 0 {
		if err := validateCount(detail, amount); err != nil {
			return nil, err
		}
	}

	reg := &domain.CashRegister{
		ID:            uuid.NewString(),
		OpeningAmount: amount,
		CurrentAmount: amount,
		OpeningDetail: detail,
		OpenedBy:      actor,
		OpenedAt:      l.now().UTC(),
		Status:        domain.RegisterOpen,
		Transactions:  []domain.Transaction{},
	}
	if err := l.st.OpenRegister(ctx, reg); err != nil {
		return nil, err
	}
	l.lg.Info("register_opened", map[string]any{
		"register_id": reg.ID, "opening_amount": amount.String(), "by": actor.Name,
	})
	return reg, nil
}

// AppendRequest is one manual ledger entry. Amount is taken as a
// magnitude; the type decides the sign.
type AppendRequest struct {
	Type          domain.TransactionType
	Amount        domain.Money
	Description   string
	OrderID       string
	PaymentMethod string
}

func signedAmount(typ domain.TransactionType, amount domain.Money) (domain.Money, error) {
	switch typ {
	case domain.TransactionIncome, domain.TransactionPayment:
		return amount.Abs(), nil
	case domain.TransactionExpense, domain.TransactionRefund:
		return amount.Abs().Neg(), nil
	default:
		return 0, domain.Invalid("type", fmt.Sprintf("unknown transaction type %q", typ))
	}
}

// Append records a transaction on the open register and moves the
// running balance by its signed amount, in one atomic scope.
func (l *Ledger) Append(ctx context.Context, req AppendRequest, actor domain.Actor) (*domain.Transaction, error) {
	if req.Amount == 0 {
		return nil, domain.Invalid("amount", "must be non-zero")
	}
	signed, err := signedAmount(req.Type, req.Amount)
	if err != nil {
		return nil, err
	}

	reg, err := l.st.CurrentRegister(ctx)
	if err != nil {
		return nil, err
	}

	tr := domain.Transaction{
		ID:            uuid.NewString(),
		Type:          req.Type,
		Amount:        signed,
		Description:   req.Description,
		OrderID:       req.OrderID,
		PaymentMethod: req.PaymentMethod,
		RegisteredBy:  actor,
		Timestamp:     l.now().UTC(),
	}
	if err := l.append(ctx, reg.ID, tr); err != nil {
		return nil, err
	}
	l.lg.Info("transaction_recorded", map[string]any{
		"register_id": reg.ID, "type": string(req.Type), "amount": signed.String(), "by": actor.Name,
	})
	return &tr, nil
}

func (l *Ledger) append(ctx context.Context, registerID string, tr domain.Transaction) error {
	return l.st.Atomic(ctx, func(tx store.Tx) error {
		reg, err := tx.GetRegister(ctx, registerID)
		if err != nil {
			return err
		}
		if reg.Status != domain.RegisterOpen {
			return domain.ErrRegisterClosed
		}
		reg.Transactions = append(reg.Transactions, tr)
		reg.CurrentAmount = reg.CurrentAmount.Add(tr.Amount)
		return tx.PutRegister(ctx, reg)
	})
}

// Close counts the drawer and closes the register. The difference is
// counted minus expected; closing is terminal.
func (l *Ledger) Close(ctx context.Context, counted domain.Money, detail []domain.Denomination, notes string, actor domain.Actor) (*domain.CashRegister, error) {
	if counted < 0 {
		return nil, domain.Invalid("amount", "counted amount cannot be negative")
	}
	if len(detail) > 0 {
		if err := validateCount(detail, counted); err != nil {
			return nil, err
		}
	}

	cur, err := l.st.CurrentRegister(ctx)
	if err != nil {
		return nil, err
	}

	var closed *domain.CashRegister
	err = l.st.Atomic(ctx, func(tx store.Tx) error {
		reg, err := tx.GetRegister(ctx, cur.ID)
		if err != nil {
			return err
		}
		if reg.Status != domain.RegisterOpen {
			return domain.ErrRegisterClosed
		}
		now := l.now().UTC()
		reg.Status = domain.RegisterClosed
		reg.ClosedAt = &now
		reg.ClosedBy = &actor
		reg.ClosingDetail = detail
		reg.FinalAmount = counted
		reg.Difference = counted.Sub(reg.CurrentAmount)
		reg.Notes = notes
		closed = reg
		return tx.PutRegister(ctx, reg)
	})
	if err != nil {
		return nil, err
	}
	l.lg.Info("register_closed", map[string]any{
		"register_id": closed.ID, "final_amount": counted.String(),
		"difference": closed.Difference.String(), "by": actor.Name,
	})
	return closed, nil
}

// Summary aggregates a register's transaction log. Type totals are
// magnitudes; method buckets cover payment transactions only.
type Summary struct {
	RegisterID    string                  `json:"register_id"`
	OpeningAmount domain.Money            `json:"opening_amount"`
	CurrentAmount domain.Money            `json:"current_amount"`
	Income        domain.Money            `json:"income"`
	Expenses      domain.Money            `json:"expenses"`
	Payments      domain.Money            `json:"payments"`
	Refunds       domain.Money            `json:"refunds"`
	ByMethod      map[string]domain.Money `json:"by_method"`
	Transactions  int                     `json:"transactions"`
}

// Summarize computes the Summary for one register by id.
func (l *Ledger) Summarize(ctx context.Context, registerID string) (*Summary, error) {
	reg, err := l.st.GetRegister(ctx, registerID)
	if err != nil {
		return nil, err
	}
	s := &Summary{
		RegisterID:    reg.ID,
		OpeningAmount: reg.OpeningAmount,
		CurrentAmount: reg.CurrentAmount,
		ByMethod: map[string]domain.Money{
			domain.MethodCash:     0,
			domain.MethodTransfer: 0,
			domain.MethodAhorita:  0,
			domain.MethodDeUna:    0,
		},
		Transactions: len(reg.Transactions),
	}
	for _, tr := range reg.Transactions {
		switch tr.Type {
		case domain.TransactionIncome:
			s.Income = s.Income.Add(tr.Amount)
		case domain.TransactionExpense:
			s.Expenses = s.Expenses.Add(tr.Amount.Abs())
		case domain.TransactionPayment:
			s.Payments = s.Payments.Add(tr.Amount)
			method := tr.PaymentMethod
			if _, ok := s.ByMethod[method]; !ok {
				method = "other"
			}
			s.ByMethod[method] = s.ByMethod[method].Add(tr.Amount)
		case domain.TransactionRefund:
			s.Refunds = s.Refunds.Add(tr.Amount.Abs())
		}
	}
	return s, nil
}

// ReconcileOrders folds paid orders that never reached a register into
// the open one, one payment transaction per order. Already-synced orders
// are skipped inside the same scope that marks them, so a rerun appends
// nothing.
func (l *Ledger) ReconcileOrders(ctx context.Context, actor domain.Actor) (int, error) {
	reg, err := l.st.CurrentRegister(ctx)
	if err != nil {
		return 0, err
	}
	orders, err := l.st.ListOrders(ctx, store.OrderFilter{Status: domain.StatusPaid, Unsynced: true})
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, o := range orders {
		err := l.st.Atomic(ctx, func(tx store.Tx) error {
			order, err := tx.GetOrder(ctx, o.ID)
			if err != nil {
				return err
			}
			if order.SyncedWithRegister || order.Status != domain.StatusPaid {
				return nil
			}
			r, err := tx.GetRegister(ctx, reg.ID)
			if err != nil {
				return err
			}
			if r.Status != domain.RegisterOpen {
				return domain.ErrRegisterClosed
			}
			tr := domain.Transaction{
				ID:            uuid.NewString(),
				Type:          domain.TransactionPayment,
				Amount:        order.Total,
				Description:   fmt.Sprintf("order #%s (reconciled)", order.ID),
				OrderID:       order.ID,
				PaymentMethod: order.PaymentMethod,
				RegisteredBy:  actor,
				Timestamp:     l.now().UTC(),
			}
			r.Transactions = append(r.Transactions, tr)
			r.CurrentAmount = r.CurrentAmount.Add(tr.Amount)
			if err := tx.PutRegister(ctx, r); err != nil {
				return err
			}
			order.SyncedWithRegister = true
			if err := tx.PutOrder(ctx, order); err != nil {
				return err
			}
			synced++
			return nil
		})
		if err != nil {
			return synced, fmt.Errorf("reconcile order %s: %w", o.ID, err)
		}
	}
	if synced > 0 {
		l.lg.Info("orders_reconciled", map[string]any{"register_id": reg.ID, "count": synced, "by": actor.Name})
	}
	return synced, nil
}

// Current returns the open register.
func (l *Ledger) Current(ctx context.Context) (*domain.CashRegister, error) {
	return l.st.CurrentRegister(ctx)
}

// History lists past registers, most recent first.
func (l *Ledger) History(ctx context.Context, limit int) ([]*domain.CashRegister, error) {
	if limit <= 0 {
		limit = 30
	}
	return l.st.ListRegisters(ctx, limit)
}
