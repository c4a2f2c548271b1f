/*
Package generic provides the primitives shared by the leave engine.

PURPOSE:
  This package contains domain-agnostic value types used by the ledger,
  the validation pipeline, the carry-over engine and the stores. It has
  no knowledge of leave types, applications or employees.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 5 days, 0.5 days)
  - Unit:   What the quantity measures (always days for balances)

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point drift on half days
  2. Immutability: Amount arithmetic returns new values
  3. Explicit floors: Clamping to zero is a named operation, never implicit

USAGE:
  total := generic.Days(20)
  used := generic.Days(7.5)
  remaining := total.Sub(used).FloorAtZero()

SEE ALSO:
  - time.go: TimePoint, Clock and holidays
  - period.go: Inclusive date ranges
  - errors.go: Shared sentinel errors
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitDays  Unit = "days"
	UnitHours Unit = "hours"
)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

// Days is shorthand for an amount measured in days.
func Days(value float64) Amount { return NewAmount(value, UnitDays) }

// DaysFromDecimal wraps an already parsed decimal as days.
func DaysFromDecimal(d decimal.Decimal) Amount { return Amount{Value: d, Unit: UnitDays} }

// ParseDays parses a decimal string such as "12.5" into days.
func ParseDays(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return DaysFromDecimal(d), nil
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.unit(b)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.unit(b)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) String() string               { return a.Value.String() }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// FloorAtZero returns the amount, or zero if it is negative.
func (a Amount) FloorAtZero() Amount {
	if a.IsNegative() {
		return a.Zero()
	}
	return a
}

// Float64 is a lossy conversion for JSON responses.
func (a Amount) Float64() float64 {
	f, _ := a.Value.Float64()
	return f
}

// unit keeps the receiver's unit unless it is unset (zero-value Amount).
func (a Amount) unit(b Amount) Unit {
	if a.Unit == "" {
		return b.Unit
	}
	return a.Unit
}

// Percent returns part/whole*100 rounded to two places, or zero when whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100)).Round(2)
}
