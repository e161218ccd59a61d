package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"comanda/internal/common/logger"
	"comanda/internal/domain"
	"comanda/internal/events"
	"comanda/internal/store"
	"comanda/internal/store/memory"
)

var cashier = domain.Actor{ID: "u2", Name: "Rosa", Role: "cashier"}

func setup(t *testing.T) (*Allocator, *memory.Store, *events.MemoryBus) {
	t.Helper()
	st := memory.New()
	bus := events.NewMemoryBus()
	a := New(st, bus, logger.New("test", logger.LevelError))
	err := st.OpenRegister(context.Background(), &domain.CashRegister{
		ID: "reg-1", OpeningAmount: domain.Cents(5000), CurrentAmount: domain.Cents(5000),
		OpenedAt: time.Now(), Status: domain.RegisterOpen,
	})
	if err != nil {
		t.Fatal(err)
	}
	return a, st, bus
}

func seedOrder(t *testing.T, st store.Store, o *domain.Order) {
	t.Helper()
	if o.Total == 0 {
		o.Total = o.ComputeTotal()
	}
	if o.Status == "" {
		o.Status = domain.StatusReady
	}
	err := st.Atomic(context.Background(), func(tx store.Tx) error { return tx.PutOrder(context.Background(), o) })
	if err != nil {
		t.Fatal(err)
	}
}

func twoItemOrder() *domain.Order {
	return &domain.Order{
		ID: "o1",
		Items: []domain.OrderItem{
			{ID: "i1", Name: "Burger", Price: domain.Cents(1000), Quantity: 2, Status: domain.StatusReady},
			{ID: "i2", Name: "Coffee", Price: domain.Cents(1000), Quantity: 1, Status: domain.StatusReady},
		},
	}
}

func TestEqualSplitScenario(t *testing.T) {
	a, st, _ := setup(t)
	ctx := context.Background()
	seedOrder(t, st, twoItemOrder()) // total $30

	s, err := a.NewSession(ctx, "o1", ModeEqual, []string{"Ana", "Luis"})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range s.Parts() {
		if p.Due != domain.Cents(1500) {
			t.Errorf("part %s due = %s, want $15.00", p.Name, p.Due)
		}
	}

	pay, err := s.SettlePart(ctx, "Ana", domain.MethodCash, MethodDetails{AmountReceived: domain.Cents(2000)}, cashier)
	if err != nil {
		t.Fatalf("settle Ana: %v", err)
	}
	if pay.Change != domain.Cents(500) {
		t.Errorf("change = %s, want $5.00", pay.Change)
	}

	reg, _ := st.CurrentRegister(ctx)
	if len(reg.Transactions) != 1 || reg.Transactions[0].Amount != domain.Cents(1500) {
		t.Errorf("register transactions = %+v, want one payment of $15.00", reg.Transactions)
	}
	if reg.CurrentAmount != domain.Cents(6500) {
		t.Errorf("register current = %s, want $65.00", reg.CurrentAmount)
	}

	order, _ := st.GetOrder(ctx, "o1")
	if order.Status == domain.StatusPaid {
		t.Fatal("order paid after settling one of two parts")
	}
	if s.IsFullySettled() {
		t.Fatal("fully settled after one of two parts")
	}

	if _, err := s.SettlePart(ctx, "Luis", domain.MethodDeUna, MethodDetails{TransactionCode: "DU-1"}, cashier); err != nil {
		t.Fatalf("settle Luis: %v", err)
	}
	if !s.IsFullySettled() {
		t.Fatal("not fully settled after both parts")
	}

	completed, err := s.Complete(ctx, cashier)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != domain.StatusPaid {
		t.Errorf("status = %s, want paid", completed.Status)
	}
	if completed.PaidAt == nil {
		t.Error("paid timestamp not stamped")
	}
	if completed.PaymentMethod != "split" {
		t.Errorf("method = %q, want split", completed.PaymentMethod)
	}
	if !completed.SyncedWithRegister {
		t.Error("paid order not flagged synced")
	}
	if !completed.AllServed() {
		t.Error("paid order has unserved items")
	}
	if len(completed.Payments) != 2 {
		t.Errorf("payments = %d, want 2", len(completed.Payments))
	}
}

func TestEqualSplitRemainderToFirstPart(t *testing.T) {
	a, st, _ := setup(t)
	seedOrder(t, st, &domain.Order{
		ID:     "o1",
		Items:  []domain.OrderItem{{ID: "i1", Name: "Soup", Price: domain.Cents(1000), Quantity: 1, Status: domain.StatusReady}},
		Total:  domain.Cents(1000),
		Status: domain.StatusReady,
	})

	s, err := a.NewSession(context.Background(), "o1", ModeEqual, []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	parts := s.Parts()
	if parts[0].Due != domain.Cents(334) {
		t.Errorf("first part due = %s, want $3.34", parts[0].Due)
	}
	if parts[1].Due != domain.Cents(333) || parts[2].Due != domain.Cents(333) {
		t.Errorf("remaining parts due = %s, %s, want $3.33 each", parts[1].Due, parts[2].Due)
	}
	var sum domain.Money
	for _, p := range parts {
		sum = sum.Add(p.Due)
	}
	if sum != domain.Cents(1000) {
		t.Errorf("parts total %s, want order total $10.00", sum)
	}
}

func TestItemModeExplodesAndServes(t *testing.T) {
	a, st, _ := setup(t)
	ctx := context.Background()
	seedOrder(t, st, twoItemOrder())

	s, err := a.NewSession(ctx, "o1", ModeItems, []string{"Ana", "Luis"})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(s.Unassigned()); got != 3 {
		t.Fatalf("unassigned singletons = %d, want 3", got)
	}

	// Ana takes one burger, Luis the other burger and the coffee.
	if err := s.Assign("Ana", "i1#1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Assign("Luis", "i1#2"); err != nil {
		t.Fatal(err)
	}
	if err := s.Assign("Luis", "i2#1"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.SettlePart(ctx, "Ana", domain.MethodCash, MethodDetails{AmountReceived: domain.Cents(1000)}, cashier); err != nil {
		t.Fatal(err)
	}
	order, _ := st.GetOrder(ctx, "o1")
	if got := order.Item("i1").Status; got == domain.StatusServed {
		t.Error("burger served while a sibling singleton is unsettled")
	}

	if _, err := s.SettlePart(ctx, "Luis", domain.MethodTransfer, MethodDetails{BankName: "Pichincha", TransactionCode: "T-9"}, cashier); err != nil {
		t.Fatal(err)
	}
	order, _ = st.GetOrder(ctx, "o1")
	if got := order.Item("i1").Status; got != domain.StatusServed {
		t.Errorf("burger status = %s, want served after both singletons settled", got)
	}
	if got := order.Item("i2").Status; got != domain.StatusServed {
		t.Errorf("coffee status = %s, want served", got)
	}
	if !s.IsFullySettled() {
		t.Error("not fully settled with all singletons assigned and parts paid")
	}
}

func TestItemModeUnassignedBlocksCompletion(t *testing.T) {
	a, st, _ := setup(t)
	ctx := context.Background()
	seedOrder(t, st, twoItemOrder())

	s, err := a.NewSession(ctx, "o1", ModeItems, []string{"Ana"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Assign("Ana", "i1#1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SettlePart(ctx, "Ana", domain.MethodCash, MethodDetails{AmountReceived: domain.Cents(1000)}, cashier); err != nil {
		t.Fatal(err)
	}
	if s.IsFullySettled() {
		t.Fatal("fully settled with unassigned singletons")
	}
	if _, err := s.Complete(ctx, cashier); err == nil {
		t.Fatal("complete succeeded with unassigned singletons")
	}
	order, _ := st.GetOrder(ctx, "o1")
	if order.Status == domain.StatusPaid {
		t.Fatal("order paid without full settlement")
	}
}

func TestAssignAndUnassign(t *testing.T) {
	a, st, _ := setup(t)
	ctx := context.Background()
	seedOrder(t, st, twoItemOrder())

	s, err := a.NewSession(ctx, "o1", ModeItems, []string{"Ana"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Assign("Ana", "i1#1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Assign("Ana", "i1#1"); err == nil {
		t.Error("assigning the same singleton twice succeeded")
	}
	if got := s.Parts()[0].Due; got != domain.Cents(1000) {
		t.Errorf("due = %s, want $10.00", got)
	}
	if err := s.Unassign("Ana", "i1#1"); err != nil {
		t.Fatal(err)
	}
	if got := s.Parts()[0].Due; got != 0 {
		t.Errorf("due after unassign = %s, want $0.00", got)
	}
	if got := len(s.Unassigned()); got != 3 {
		t.Errorf("unassigned = %d, want 3", got)
	}
}

func TestSettleValidatesMethodFields(t *testing.T) {
	cases := []struct {
		name    string
		method  string
		details MethodDetails
	}{
		{"cash short", domain.MethodCash, MethodDetails{AmountReceived: domain.Cents(100)}},
		{"transfer without bank", domain.MethodTransfer, MethodDetails{TransactionCode: "T-1"}},
		{"transfer without code", domain.MethodTransfer, MethodDetails{BankName: "Pichincha"}},
		{"wallet without code", domain.MethodAhorita, MethodDetails{}},
		{"unknown method", "crypto", MethodDetails{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, st, _ := setup(t)
			ctx := context.Background()
			seedOrder(t, st, twoItemOrder())
			s, err := a.NewSession(ctx, "o1", ModeComplete, nil)
			if err != nil {
				t.Fatal(err)
			}
			_, err = s.SettlePart(ctx, "complete", tc.method, tc.details, cashier)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			// validate-then-commit: no ledger mutation
			reg, _ := st.CurrentRegister(ctx)
			if len(reg.Transactions) != 0 {
				t.Errorf("register mutated by rejected settlement: %+v", reg.Transactions)
			}
		})
	}
}

func TestSettleTwiceRejected(t *testing.T) {
	a, st, _ := setup(t)
	ctx := context.Background()
	seedOrder(t, st, twoItemOrder())

	s, err := a.NewSession(ctx, "o1", ModeComplete, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SettlePart(ctx, "complete", domain.MethodCash, MethodDetails{AmountReceived: domain.Cents(3000)}, cashier); err != nil {
		t.Fatal(err)
	}
	_, err = s.SettlePart(ctx, "complete", domain.MethodCash, MethodDetails{AmountReceived: domain.Cents(3000)}, cashier)
	if !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("err = %v, want ErrAlreadySettled", err)
	}
}

func TestRetriedSettlementDoesNotDoubleCharge(t *testing.T) {
	a, st, _ := setup(t)
	ctx := context.Background()
	seedOrder(t, st, twoItemOrder()) // total $30

	s, err := a.NewSession(ctx, "o1", ModeEqual, []string{"Ana", "Luis"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SettlePart(ctx, "Ana", domain.MethodCash, MethodDetails{AmountReceived: domain.Cents(1500)}, cashier); err != nil {
		t.Fatal(err)
	}

	// A terminal retrying after a partial failure starts over with a
	// fresh session; Ana's payment is already on the order.
	retry, err := a.NewSession(ctx, "o1", ModeEqual, []string{"Ana", "Luis"})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range retry.Parts() {
		if p.Name == "Ana" && !p.Settled {
			t.Fatal("retried session does not see Ana as settled")
		}
	}
	_, err = retry.SettlePart(ctx, "Ana", domain.MethodCash, MethodDetails{AmountReceived: domain.Cents(1500)}, cashier)
	if !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("re-settling Ana: err = %v, want ErrAlreadySettled", err)
	}

	if _, err := retry.SettlePart(ctx, "Luis", domain.MethodCash, MethodDetails{AmountReceived: domain.Cents(1500)}, cashier); err != nil {
		t.Fatal(err)
	}
	completed, err := retry.Complete(ctx, cashier)
	if err != nil {
		t.Fatal(err)
	}
	if len(completed.Payments) != 2 {
		t.Errorf("payments = %d, want 2", len(completed.Payments))
	}
	reg, _ := st.CurrentRegister(ctx)
	if reg.CurrentAmount != domain.Cents(8000) {
		t.Errorf("register current = %s, want $80.00", reg.CurrentAmount)
	}
	if len(reg.Transactions) != 2 {
		t.Errorf("register transactions = %d, want 2", len(reg.Transactions))
	}
}

func TestRetriedItemSessionRestoresSettledSingletons(t *testing.T) {
	a, st, _ := setup(t)
	ctx := context.Background()
	seedOrder(t, st, twoItemOrder())

	s, err := a.NewSession(ctx, "o1", ModeItems, []string{"Ana", "Luis"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Assign("Ana", "i1#1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SettlePart(ctx, "Ana", domain.MethodCash, MethodDetails{AmountReceived: domain.Cents(1000)}, cashier); err != nil {
		t.Fatal(err)
	}

	retry, err := a.NewSession(ctx, "o1", ModeItems, []string{"Ana", "Luis"})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(retry.Unassigned()); got != 2 {
		t.Fatalf("unassigned after retry = %d, want 2 (Ana's burger stays settled)", got)
	}
	if err := retry.Assign("Luis", "i1#2"); err != nil {
		t.Fatal(err)
	}
	if err := retry.Assign("Luis", "i2#1"); err != nil {
		t.Fatal(err)
	}
	if _, err := retry.SettlePart(ctx, "Luis", domain.MethodCash, MethodDetails{AmountReceived: domain.Cents(2000)}, cashier); err != nil {
		t.Fatal(err)
	}
	completed, err := retry.Complete(ctx, cashier)
	if err != nil {
		t.Fatal(err)
	}
	if len(completed.Payments) != 2 {
		t.Errorf("payments = %d, want 2", len(completed.Payments))
	}
	reg, _ := st.CurrentRegister(ctx)
	if reg.CurrentAmount != domain.Cents(8000) {
		t.Errorf("register current = %s, want $80.00", reg.CurrentAmount)
	}
}

func TestConcurrentSessionsCannotSettleSamePart(t *testing.T) {
	a, st, _ := setup(t)
	ctx := context.Background()
	seedOrder(t, st, twoItemOrder())

	s1, err := a.NewSession(ctx, "o1", ModeEqual, []string{"Ana", "Luis"})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := a.NewSession(ctx, "o1", ModeEqual, []string{"Ana", "Luis"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s1.SettlePart(ctx, "Ana", domain.MethodCash, MethodDetails{AmountReceived: domain.Cents(1500)}, cashier); err != nil {
		t.Fatal(err)
	}
	// s2 was opened before s1 settled; the order document is the source
	// of truth on who is paid.
	_, err = s2.SettlePart(ctx, "Ana", domain.MethodCash, MethodDetails{AmountReceived: domain.Cents(1500)}, cashier)
	if !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("err = %v, want ErrAlreadySettled", err)
	}
	reg, _ := st.CurrentRegister(ctx)
	if reg.CurrentAmount != domain.Cents(6500) {
		t.Errorf("register current = %s, want $65.00", reg.CurrentAmount)
	}
	if len(reg.Transactions) != 1 {
		t.Errorf("register transactions = %d, want 1", len(reg.Transactions))
	}
}

func TestCompleteModePublishesOrderPaid(t *testing.T) {
	a, st, bus := setup(t)
	ctx := context.Background()
	seedOrder(t, st, twoItemOrder())

	ch, cancel, err := bus.Subscribe(domain.TopicOrderPaid)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	s, err := a.NewSession(ctx, "o1", ModeComplete, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SettlePart(ctx, "complete", domain.MethodAhorita, MethodDetails{TransactionCode: "A-7"}, cashier); err != nil {
		t.Fatal(err)
	}
	completed, err := s.Complete(ctx, cashier)
	if err != nil {
		t.Fatal(err)
	}
	if completed.PaymentMethod != domain.MethodAhorita {
		t.Errorf("method = %q, want ahorita", completed.PaymentMethod)
	}

	select {
	case ev := <-ch:
		var oe domain.OrderEvent
		if err := ev.Decode(&oe); err != nil {
			t.Fatal(err)
		}
		if oe.OrderID != "o1" || oe.Status != domain.StatusPaid {
			t.Errorf("unexpected event %+v", oe)
		}
	case <-time.After(time.Second):
		t.Fatal("no order.paid event published")
	}
}

func TestSessionPreconditions(t *testing.T) {
	t.Run("paid order locked", func(t *testing.T) {
		a, st, _ := setup(t)
		o := twoItemOrder()
		o.Status = domain.StatusPaid
		seedOrder(t, st, o)
		if _, err := a.NewSession(context.Background(), "o1", ModeComplete, nil); !errors.Is(err, domain.ErrOrderLocked) {
			t.Fatalf("err = %v, want ErrOrderLocked", err)
		}
	})
	t.Run("no open register", func(t *testing.T) {
		st := memory.New()
		a := New(st, events.NewMemoryBus(), logger.New("test", logger.LevelError))
		seedOrder(t, st, twoItemOrder())
		if _, err := a.NewSession(context.Background(), "o1", ModeComplete, nil); !errors.Is(err, domain.ErrNoOpenRegister) {
			t.Fatalf("err = %v, want ErrNoOpenRegister", err)
		}
	})
	t.Run("equal split needs two parts", func(t *testing.T) {
		a, st, _ := setup(t)
		seedOrder(t, st, twoItemOrder())
		var ve *domain.ValidationError
		if _, err := a.NewSession(context.Background(), "o1", ModeEqual, []string{"solo"}); !errors.As(err, &ve) {
			t.Fatalf("err = %v, want ValidationError", err)
		}
	})
	t.Run("duplicate part names", func(t *testing.T) {
		a, st, _ := setup(t)
		seedOrder(t, st, twoItemOrder())
		var ve *domain.ValidationError
		if _, err := a.NewSession(context.Background(), "o1", ModeEqual, []string{"a", "a"}); !errors.As(err, &ve) {
			t.Fatalf("err = %v, want ValidationError", err)
		}
	})
}
