package alerting

import "github.com/shopspring/decimal"

const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

var hundred = decimal.NewFromInt(100)

// Change describes the move between two consecutive prices of a currency.
type Change struct {
	Previous  decimal.Decimal
	Current   decimal.Decimal
	Pct       decimal.Decimal
	Direction string
}

// Compare computes the percentage change from previous to current. ok is
// false when previous is zero and no percentage exists.
func Compare(previous, current decimal.Decimal) (Change, bool) {
	if previous.IsZero() {
		return Change{}, false
	}
	pct := current.Sub(previous).Div(previous).Mul(hundred)
	direction := DirectionUp
	if pct.IsNegative() {
		direction = DirectionDown
	}
	return Change{Previous: previous, Current: current, Pct: pct, Direction: direction}, true
}

// Exceeds reports whether the absolute change reaches threshold percent.
// A non-positive threshold never triggers.
func (c Change) Exceeds(threshold decimal.Decimal) bool {
	if !threshold.IsPositive() {
		return false
	}
	return c.Pct.Abs().GreaterThanOrEqual(threshold)
}
