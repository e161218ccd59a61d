package domain

import "fmt"

// Status is the canonical order/item status vocabulary. Items use the
// first four states; paid is order-level only and written by the payment
// allocator alone.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusServed    Status = "served"
	StatusPaid      Status = "paid"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusPreparing, StatusReady, StatusServed, StatusPaid:
		return true
	}
	return false
}

// ItemStatus reports whether s is usable on an order item.
func (s Status) ItemStatus() bool { return s.Valid() && s != StatusPaid }

// ParseStatus normalizes a stored status string. Documents written before
// the vocabulary was unified used a single "done" state instead of the
// ready/served pair; those read back as ready.
func ParseStatus(raw string) (Status, error) {
	switch raw {
	case "", string(StatusWaiting):
		return StatusWaiting, nil
	case string(StatusPreparing):
		return StatusPreparing, nil
	case string(StatusReady), "done", "ready_to_serve":
		return StatusReady, nil
	case string(StatusServed):
		return StatusServed, nil
	case string(StatusPaid):
		return StatusPaid, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}
