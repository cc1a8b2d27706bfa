package ledger

import (
	"github.com/shopspring/decimal"
)

// Position is a signed net quantity with its volume weighted average
// entry price. A flat position always has a zero average price.
type Position struct {
	Quantity int64
	AvgPrice decimal.Decimal
}

func (p Position) Flat() bool { return p.Quantity == 0 }

// Apply folds a fill of signed quantity delta at price into the position
// and returns the new position with the pnl realized by the fill.
//
// Opening or adding moves the average cost. Reducing keeps the average
// and realizes (price - avg) on the closed quantity. Crossing through
// zero closes the old position and opens the residual at price.
func (p Position) Apply(delta int64, price decimal.Decimal) (Position, decimal.Decimal) {
	if delta == 0 {
		return p, decimal.Zero
	}
	if p.Quantity == 0 || sameSign(p.Quantity, delta) {
		held := decimal.NewFromInt(abs(p.Quantity))
		added := decimal.NewFromInt(abs(delta))
		cost := p.AvgPrice.Mul(held).Add(price.Mul(added))
		next := p.Quantity + delta
		return Position{
			Quantity: next,
			AvgPrice: cost.Div(decimal.NewFromInt(abs(next))),
		}, decimal.Zero
	}

	closed := min(abs(p.Quantity), abs(delta))
	// Long positions gain when price rises, shorts when it falls.
	direction := decimal.NewFromInt(sign(p.Quantity))
	realized := price.Sub(p.AvgPrice).Mul(decimal.NewFromInt(closed)).Mul(direction)

	next := p.Quantity + delta
	switch {
	case next == 0:
		return Position{}, realized
	case sameSign(next, p.Quantity):
		return Position{Quantity: next, AvgPrice: p.AvgPrice}, realized
	default:
		return Position{Quantity: next, AvgPrice: price}, realized
	}
}

// Unrealized marks the position to price.
func (p Position) Unrealized(price decimal.Decimal) decimal.Decimal {
	if p.Quantity == 0 {
		return decimal.Zero
	}
	return price.Sub(p.AvgPrice).Mul(decimal.NewFromInt(p.Quantity))
}

func sameSign(a, b int64) bool {
	return (a > 0) == (b > 0)
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
