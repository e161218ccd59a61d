package inventory

import (
	"context"
	"errors"
	"testing"

	"comanda/internal/common/logger"
	"comanda/internal/domain"
	"comanda/internal/store"
	"comanda/internal/store/memory"
)

var chef = domain.Actor{ID: "u3", Name: "Marco", Role: "kitchen"}

func newLedger(t *testing.T) (*Ledger, *memory.Store) {
	t.Helper()
	st := memory.New()
	return New(st, logger.New("test", logger.LevelError), 5), st
}

func seed(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	dishes := []*domain.Dish{
		{ID: "ceviche", Name: "Ceviche", Price: domain.Cents(1200), Tracked: true, StockQuantity: 10, Active: true,
			Ingredients: []domain.DishIngredient{
				{ItemID: "shrimp", Name: "Shrimp", Quantity: 2, Unit: "unit", Tracked: true},
				{ItemID: "lime", Name: "Lime", Quantity: 3, Unit: "unit", Tracked: true},
			}},
		{ID: "rice", Name: "Rice Bowl", Price: domain.Cents(500), Active: true,
			Ingredients: []domain.DishIngredient{
				{ItemID: "shrimp", Name: "Shrimp", Quantity: 1, Unit: "unit", Tracked: true},
				{ItemID: "salt", Name: "Salt", Quantity: 1, Unit: "g"}, // untracked
			}},
	}
	for _, d := range dishes {
		if err := st.PutDish(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	items := []*domain.InventoryItem{
		{ID: "shrimp", Name: "Shrimp", Quantity: 30, Unit: "unit", MinStock: 5, Active: true},
		{ID: "lime", Name: "Lime", Quantity: 30, Unit: "unit", MinStock: 10, Active: true},
	}
	for _, it := range items {
		if err := st.PutItem(ctx, it); err != nil {
			t.Fatal(err)
		}
	}
}

func orderItems(qty map[string]int) []domain.OrderItem {
	var out []domain.OrderItem
	for dish, q := range qty {
		out = append(out, domain.OrderItem{ID: "line-" + dish, DishID: dish, Quantity: q})
	}
	return out
}

func TestCheckAvailabilityAggregatesAcrossLines(t *testing.T) {
	l, st := newLedger(t)
	seed(t, st)

	// Each line alone fits in 30 shrimp; together they need 31.
	err := l.CheckAvailability(context.Background(), orderItems(map[string]int{"ceviche": 10, "rice": 11}))
	var se *domain.ShortageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want ShortageError", err)
	}
	if len(se.Shortages) != 1 {
		t.Fatalf("shortages = %+v, want only shrimp", se.Shortages)
	}
	sh := se.Shortages[0]
	if sh.RefID != "shrimp" || sh.Required != 31 || sh.Available != 30 {
		t.Errorf("shortage = %+v, want shrimp required 31 available 30", sh)
	}
}

func TestCheckAvailabilityReportsAllShortages(t *testing.T) {
	l, st := newLedger(t)
	seed(t, st)

	// 12 ceviche: dish stock 10 and lime demand 36 of 30 both short,
	// shrimp (24 of 30) fine.
	err := l.CheckAvailability(context.Background(), orderItems(map[string]int{"ceviche": 12}))
	var se *domain.ShortageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want ShortageError", err)
	}
	want := map[string]bool{"ceviche": false, "lime": false}
	for _, sh := range se.Shortages {
		if _, ok := want[sh.RefID]; !ok {
			t.Errorf("unexpected shortage %+v", sh)
			continue
		}
		want[sh.RefID] = true
	}
	for id, seen := range want {
		if !seen {
			t.Errorf("missing shortage for %s", id)
		}
	}
}

func TestCheckAvailabilityNamesIngredientShortage(t *testing.T) {
	l, st := newLedger(t)
	seed(t, st)
	ctx := context.Background()
	if err := st.PutItem(ctx, &domain.InventoryItem{ID: "shrimp", Name: "Shrimp", Quantity: 3, Unit: "unit", Active: true}); err != nil {
		t.Fatal(err)
	}

	err := l.CheckAvailability(ctx, orderItems(map[string]int{"rice": 5}))
	var se *domain.ShortageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want ShortageError", err)
	}
	found := false
	for _, sh := range se.Shortages {
		if sh.Name == "Shrimp" && sh.Required == 5 && sh.Available == 3 {
			found = true
		}
	}
	if !found {
		t.Errorf("no shrimp shortage (required 5, available 3) in %+v", se.Shortages)
	}
}

func TestConsumeDecrementsAndLogsMovements(t *testing.T) {
	l, st := newLedger(t)
	seed(t, st)
	ctx := context.Background()

	items := orderItems(map[string]int{"ceviche": 2})
	err := st.Atomic(ctx, func(tx store.Tx) error {
		_, err := l.Consume(ctx, tx, "o1", items, chef)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	dish, _ := st.GetDish(ctx, "ceviche")
	if dish.StockQuantity != 8 {
		t.Errorf("dish stock = %g, want 8", dish.StockQuantity)
	}
	shrimp, _ := st.GetItem(ctx, "shrimp")
	if shrimp.Quantity != 26 {
		t.Errorf("shrimp = %g, want 26", shrimp.Quantity)
	}
	lime, _ := st.GetItem(ctx, "lime")
	if lime.Quantity != 24 {
		t.Errorf("lime = %g, want 24", lime.Quantity)
	}

	movements, _ := st.MovementsByOrder(ctx, "o1")
	if len(movements) != 3 {
		t.Fatalf("movements = %d, want 3 (dish, shrimp, lime)", len(movements))
	}
	for _, m := range movements {
		if m.Type != domain.MovementOut {
			t.Errorf("movement %s type = %s, want out", m.RefID, m.Type)
		}
		if m.New != m.Previous+m.Delta {
			t.Errorf("movement %s: new %g != previous %g + delta %g", m.RefID, m.New, m.Previous, m.Delta)
		}
		if m.CreatedBy.Name != chef.Name {
			t.Errorf("movement %s actor = %q", m.RefID, m.CreatedBy.Name)
		}
	}
}

func TestConsumeClampsAtZeroAndRecordsActualDelta(t *testing.T) {
	l, st := newLedger(t)
	ctx := context.Background()
	if err := st.PutDish(ctx, &domain.Dish{ID: "flan", Name: "Flan", Price: domain.Cents(300), Tracked: true, StockQuantity: 2, Active: true}); err != nil {
		t.Fatal(err)
	}

	err := st.Atomic(ctx, func(tx store.Tx) error {
		_, err := l.Consume(ctx, tx, "o1", orderItems(map[string]int{"flan": 5}), chef)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	dish, _ := st.GetDish(ctx, "flan")
	if dish.StockQuantity != 0 {
		t.Errorf("stock = %g, want 0 (clamped)", dish.StockQuantity)
	}
	movements, _ := st.MovementsByOrder(ctx, "o1")
	if len(movements) != 1 || movements[0].Delta != -2 {
		t.Fatalf("movements = %+v, want one with delta -2", movements)
	}
}

func TestConsumeRaisesAdvisories(t *testing.T) {
	l, st := newLedger(t)
	ctx := context.Background()
	if err := st.PutDish(ctx, &domain.Dish{ID: "flan", Name: "Flan", Price: domain.Cents(300), Tracked: true, StockQuantity: 6, Active: true}); err != nil {
		t.Fatal(err)
	}

	var advisories []domain.Advisory
	err := st.Atomic(ctx, func(tx store.Tx) error {
		var err error
		advisories, err = l.Consume(ctx, tx, "o1", orderItems(map[string]int{"flan": 2}), chef)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(advisories) != 1 || advisories[0].Kind != domain.AdvisoryLowStock {
		t.Fatalf("advisories = %+v, want one low_stock", advisories)
	}

	err = st.Atomic(ctx, func(tx store.Tx) error {
		var err error
		advisories, err = l.Consume(ctx, tx, "o2", orderItems(map[string]int{"flan": 4}), chef)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(advisories) != 1 || advisories[0].Kind != domain.AdvisoryOutOfStock {
		t.Fatalf("advisories = %+v, want one out_of_stock", advisories)
	}
}

func TestReverseIsIdempotent(t *testing.T) {
	l, st := newLedger(t)
	seed(t, st)
	ctx := context.Background()

	items := orderItems(map[string]int{"ceviche": 2})
	if err := st.Atomic(ctx, func(tx store.Tx) error {
		_, err := l.Consume(ctx, tx, "o1", items, chef)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	reverse := func() {
		t.Helper()
		if err := st.Atomic(ctx, func(tx store.Tx) error {
			return l.Reverse(ctx, tx, "o1", nil, "cancelled order #o1", chef)
		}); err != nil {
			t.Fatal(err)
		}
	}
	reverse()
	reverse() // second run must restore nothing

	dish, _ := st.GetDish(ctx, "ceviche")
	if dish.StockQuantity != 10 {
		t.Errorf("dish stock = %g, want 10", dish.StockQuantity)
	}
	shrimp, _ := st.GetItem(ctx, "shrimp")
	if shrimp.Quantity != 30 {
		t.Errorf("shrimp = %g, want 30", shrimp.Quantity)
	}

	movements, _ := st.MovementsByOrder(ctx, "o1")
	if len(movements) != 6 {
		t.Errorf("movements = %d, want 6 (3 out, 3 compensating in)", len(movements))
	}
	var net float64
	for _, m := range movements {
		net += m.Delta
	}
	if net != 0 {
		t.Errorf("net delta = %g, want 0", net)
	}
}

func TestReverseScopedToRefs(t *testing.T) {
	l, st := newLedger(t)
	seed(t, st)
	ctx := context.Background()

	if err := st.Atomic(ctx, func(tx store.Tx) error {
		_, err := l.Consume(ctx, tx, "o1", orderItems(map[string]int{"ceviche": 1, "rice": 1}), chef)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	// reopen only the ceviche line: dish plus its tracked ingredients
	var refs map[string]bool
	if err := st.Atomic(ctx, func(tx store.Tx) error {
		var err error
		refs, err = l.RefsForItem(ctx, tx, domain.OrderItem{DishID: "ceviche"})
		if err != nil {
			return err
		}
		return l.Reverse(ctx, tx, "o1", refs, "reopened item", chef)
	}); err != nil {
		t.Fatal(err)
	}
	if !refs["ceviche"] || !refs["shrimp"] || !refs["lime"] {
		t.Errorf("refs = %v, want ceviche, shrimp, lime", refs)
	}

	dish, _ := st.GetDish(ctx, "ceviche")
	if dish.StockQuantity != 10 {
		t.Errorf("ceviche stock = %g, want 10", dish.StockQuantity)
	}
	// the shrimp movement covered both lines; a scoped reversal restores
	// the whole aggregated movement for that ingredient
	shrimp, _ := st.GetItem(ctx, "shrimp")
	if shrimp.Quantity != 30 {
		t.Errorf("shrimp = %g, want 30", shrimp.Quantity)
	}
	lime, _ := st.GetItem(ctx, "lime")
	if lime.Quantity != 30 {
		t.Errorf("lime = %g, want 30", lime.Quantity)
	}
}

func TestAdjustStock(t *testing.T) {
	l, st := newLedger(t)
	seed(t, st)
	ctx := context.Background()

	mv, err := l.AdjustStock(ctx, "shrimp", 12, "weekly delivery", chef)
	if err != nil {
		t.Fatal(err)
	}
	if mv.Type != domain.MovementIn || mv.Delta != 12 {
		t.Errorf("movement = %+v, want in +12", mv)
	}
	shrimp, _ := st.GetItem(ctx, "shrimp")
	if shrimp.Quantity != 42 {
		t.Errorf("shrimp = %g, want 42", shrimp.Quantity)
	}

	mv, err = l.AdjustStock(ctx, "shrimp", -50, "spoiled batch", chef)
	if err != nil {
		t.Fatal(err)
	}
	if mv.Type != domain.MovementAdjust || mv.Delta != -42 {
		t.Errorf("movement = %+v, want adjust -42 (clamped)", mv)
	}
	shrimp, _ = st.GetItem(ctx, "shrimp")
	if shrimp.Quantity != 0 {
		t.Errorf("shrimp = %g, want 0", shrimp.Quantity)
	}

	if _, err := l.AdjustStock(ctx, "shrimp", 0, "noop", chef); err == nil {
		t.Error("zero delta accepted")
	}
}

func TestLowStockListing(t *testing.T) {
	l, st := newLedger(t)
	ctx := context.Background()
	if err := st.PutDish(ctx, &domain.Dish{ID: "flan", Name: "Flan", Tracked: true, StockQuantity: 4, Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutDish(ctx, &domain.Dish{ID: "cake", Name: "Cake", Tracked: true, StockQuantity: 9, Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutItem(ctx, &domain.InventoryItem{ID: "lime", Name: "Lime", Quantity: 8, MinStock: 10, Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutItem(ctx, &domain.InventoryItem{ID: "salt", Name: "Salt", Quantity: 1, Active: true}); err != nil { // no threshold
		t.Fatal(err)
	}

	entries, err := l.LowStock(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]bool)
	for _, e := range entries {
		got[e.RefID] = true
	}
	if !got["flan"] || !got["lime"] {
		t.Errorf("entries = %+v, want flan and lime", entries)
	}
	if got["cake"] || got["salt"] {
		t.Errorf("entries = %+v: cake above threshold and salt without threshold must not appear", entries)
	}
}
