package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Precondition errors. These block the requested action entirely; no
// partial effect is persisted.
var (
	ErrOrderLocked         = errors.New("order is paid and locked")
	ErrFrozenDate          = errors.New("order belongs to a frozen past period")
	ErrNoOpenRegister      = errors.New("no open cash register")
	ErrRegisterAlreadyOpen = errors.New("a cash register is already open")
	ErrRegisterClosed      = errors.New("cash register is closed")
	ErrAlreadySettled      = errors.New("part already settled")
)

// ValidationError rejects an operation before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }

// Shortage names one item or ingredient with insufficient stock.
type Shortage struct {
	RefID     string
	Name      string
	Unit      string
	Required  float64
	Available float64
}

func (s Shortage) String() string {
	return fmt.Sprintf("%s: required %g, available %g", s.Name, s.Required, s.Available)
}

// ShortageError reports every shortage found by an availability check.
type ShortageError struct {
	Shortages []Shortage
}

func (e *ShortageError) Error() string {
	parts := make([]string, len(e.Shortages))
	for i, s := range e.Shortages {
		parts[i] = s.String()
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}
