package domain

import "fmt"

// Money is an amount in integer cents. Ledger arithmetic stays exact;
// float rounding never leaks into balances.
type Money int64

func Cents(n int64) Money { return Money(n) }

func (m Money) Add(o Money) Money { return m + o }
func (m Money) Sub(o Money) Money { return m - o }
func (m Money) Mul(n int64) Money { return m * Money(n) }
func (m Money) Neg() Money        { return -m }

func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// Split divides m into n equal shares plus the remainder that does not
// divide evenly. n must be positive.
func (m Money) Split(n int) (share, remainder Money) {
	share = m / Money(n)
	remainder = m - share*Money(n)
	return share, remainder
}

func (m Money) String() string {
	sign := ""
	v := m
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}
