package domain

import "time"

// Actor identifies who performed an operation. Every mutating call takes
// one explicitly; there is no ambient current-user state.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type Customer struct {
	IDNumber string `json:"id_number"`
	Name     string `json:"name"`
}

type Order struct {
	ID                 string      `json:"id"`
	Customer           Customer    `json:"customer"`
	Date               time.Time   `json:"date"`
	Tables             []string    `json:"tables,omitempty"`
	Items              []OrderItem `json:"items"`
	Total              Money       `json:"total"`
	Status             Status      `json:"status"`
	PaidAt             *time.Time  `json:"paid_at,omitempty"`
	PaymentMethod      string      `json:"payment_method,omitempty"`
	Payments           []Payment   `json:"payments,omitempty"`
	SyncedWithRegister bool        `json:"synced_with_register"`
}

// ComputeTotal derives the order total from its lines. The stored total
// must always equal this.
func (o *Order) ComputeTotal() Money {
	var t Money
	for _, it := range o.Items {
		t = t.Add(it.LineTotal())
	}
	return t
}

// AllServed reports whether every item has been served. The payment
// allocator gates completion on it; order status never derives "served".
func (o *Order) AllServed() bool {
	for _, it := range o.Items {
		if it.Status != StatusServed {
			return false
		}
	}
	return len(o.Items) > 0
}

func (o *Order) Item(id string) *OrderItem {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return &o.Items[i]
		}
	}
	return nil
}

type OrderItem struct {
	ID             string      `json:"id"`
	DishID         string      `json:"dish_id"`
	Name           string      `json:"name"`
	Price          Money       `json:"price"`
	Quantity       int         `json:"quantity"`
	SelectedOption *DishOption `json:"selected_option,omitempty"`
	CategoryID     string      `json:"category_id,omitempty"`
	Status         Status      `json:"status"`

	// Display-only stock snapshot; the dish document is authoritative.
	Tracked       bool    `json:"tracked,omitempty"`
	StockSnapshot float64 `json:"stock_snapshot,omitempty"`
}

// UnitPrice is the per-unit price including the option surcharge.
func (it OrderItem) UnitPrice() Money {
	p := it.Price
	if it.SelectedOption != nil {
		p = p.Add(it.SelectedOption.Surcharge)
	}
	return p
}

func (it OrderItem) LineTotal() Money { return it.UnitPrice().Mul(int64(it.Quantity)) }

type DishOption struct {
	Name      string `json:"name"`
	Surcharge Money  `json:"surcharge,omitempty"`
}

// Dish is a menu entry. A dish may itself be stock-tracked and may declare
// a recipe of tracked inventory items.
type Dish struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Price         Money            `json:"price"`
	CategoryID    string           `json:"category_id,omitempty"`
	Options       []DishOption     `json:"options,omitempty"`
	Ingredients   []DishIngredient `json:"ingredients,omitempty"`
	Tracked       bool             `json:"is_tracked"`
	StockQuantity float64          `json:"stock_quantity"`
	Active        bool             `json:"active"`
}

type DishIngredient struct {
	ItemID   string  `json:"item_id"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"` // per dish unit
	Unit     string  `json:"unit"`
	Tracked  bool    `json:"is_tracked"`
}

// InventoryItem is raw stock (an ingredient).
type InventoryItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	MinStock float64 `json:"min_stock,omitempty"`
	Active   bool    `json:"active"`
}

type MovementType string

const (
	MovementIn     MovementType = "in"
	MovementOut    MovementType = "out"
	MovementAdjust MovementType = "adjust"
)

// MovementTarget distinguishes which collection a movement touched.
type MovementTarget string

const (
	TargetDish MovementTarget = "dish"
	TargetItem MovementTarget = "item"
)

// Movement is one immutable audit record of a stock quantity change.
type Movement struct {
	ID        string         `json:"id"`
	Target    MovementTarget `json:"target"`
	RefID     string         `json:"ref_id"` // dish or inventory item id
	RefName   string         `json:"ref_name"`
	Previous  float64        `json:"previous_quantity"`
	New       float64        `json:"new_quantity"`
	Delta     float64        `json:"delta"` // signed, the quantity actually applied
	Type      MovementType   `json:"type"`
	Reason    string         `json:"reason"`
	OrderID   string         `json:"order_id,omitempty"`
	CreatedBy Actor          `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
}

type RegisterStatus string

const (
	RegisterOpen   RegisterStatus = "open"
	RegisterClosed RegisterStatus = "closed"
)

type Denomination struct {
	Value    Money `json:"value"` // face value of the bill or coin
	Count    int   `json:"count"`
	Subtotal Money `json:"subtotal"`
}

type CashRegister struct {
	ID            string         `json:"id"`
	OpeningAmount Money          `json:"opening_amount"`
	CurrentAmount Money          `json:"current_amount"`
	OpeningDetail []Denomination `json:"opening_detail"`
	OpenedBy      Actor          `json:"opened_by"`
	OpenedAt      time.Time      `json:"opened_at"`
	Status        RegisterStatus `json:"status"`

	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
	ClosedBy      *Actor         `json:"closed_by,omitempty"`
	ClosingDetail []Denomination `json:"closing_detail,omitempty"`
	FinalAmount   Money          `json:"final_amount,omitempty"`
	Difference    Money          `json:"difference,omitempty"`
	Notes         string         `json:"notes,omitempty"`

	Transactions []Transaction `json:"transactions"`
}

type TransactionType string

const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
	TransactionPayment TransactionType = "payment"
	TransactionRefund  TransactionType = "refund"
)

// Transaction is an append-only signed entry within its owning register.
// Payments and incomes are positive, expenses and refunds negative.
type Transaction struct {
	ID            string          `json:"id"`
	Type          TransactionType `json:"type"`
	Amount        Money           `json:"amount"`
	Description   string          `json:"description"`
	OrderID       string          `json:"order_id,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	RegisteredBy  Actor           `json:"registered_by"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Payment methods accepted at the till.
const (
	MethodCash     = "cash"
	MethodTransfer = "transfer"
	MethodAhorita  = "ahorita"
	MethodDeUna    = "de_una"
)

// Payment is one settlement recorded on an order (a split part or the
// whole bill). Immutable once written.
type Payment struct {
	ID              string    `json:"id"`
	PartName        string    `json:"part_name"`
	Amount          Money     `json:"amount"`
	Method          string    `json:"method"`
	AmountReceived  Money     `json:"amount_received,omitempty"`
	Change          Money     `json:"change,omitempty"`
	BankName        string    `json:"bank_name,omitempty"`
	TransactionCode string    `json:"transaction_code,omitempty"`
	SplitMode       string    `json:"split_mode"`
	ItemIDs         []string  `json:"item_ids,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	RegisteredBy    Actor     `json:"registered_by"`
}
