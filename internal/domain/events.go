package domain

import "time"

// Event topics published on the bus. Terminals subscribe explicitly; there
// are no implicit global listeners.
const (
	TopicItemReady      = "order.item.ready"
	TopicItemReopened   = "order.item.reopened"
	TopicOrderCreated   = "order.created"
	TopicOrderPaid      = "order.paid"
	TopicOrderCancelled = "order.cancelled"
	TopicAdvisory       = "advisory"
)

// ItemEvent notifies an item status transition.
type ItemEvent struct {
	OrderID   string    `json:"order_id"`
	ItemID    string    `json:"item_id"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	ChangedBy string    `json:"changed_by"`
	Timestamp time.Time `json:"timestamp"`
}

type OrderEvent struct {
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	Total     Money     `json:"total"`
	Method    string    `json:"payment_method,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Advisory kinds.
const (
	AdvisoryLowStock   = "low_stock"
	AdvisoryOutOfStock = "out_of_stock"
)

// Advisory is an informational, non-blocking notice.
type Advisory struct {
	Kind      string    `json:"kind"`
	RefID     string    `json:"ref_id,omitempty"`
	RefName   string    `json:"ref_name,omitempty"`
	Remaining float64   `json:"remaining,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
