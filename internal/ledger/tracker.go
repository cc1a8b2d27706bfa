// Package ledger keeps the cash, positions and execution blotter of a
// single backtest run.
//
// The Tracker is the only writer of that state: cash and positions change
// exclusively through Update, and both can always be rebuilt by replaying
// the blotter from the starting cash.
package ledger

import (
	"maps"
	"slices"

	. "huginn/internal/common"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Tracker struct {
	startingCash decimal.Decimal
	cash         decimal.Decimal
	positions    map[string]Position
	blotter      []ExecutionReport
}

// PnLSummary is a point in time view of the ledger marked to a set of
// current prices.
type PnLSummary struct {
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	TotalPnL      decimal.Decimal
	Cash          decimal.Decimal
	Positions     map[string]int64
}

func NewTracker(startingCash decimal.Decimal) (*Tracker, error) {
	if startingCash.IsNegative() {
		return nil, NewConfigurationError("starting_cash", "must not be negative")
	}
	return &Tracker{
		startingCash: startingCash,
		cash:         startingCash,
		positions:    make(map[string]Position),
	}, nil
}

// Replay rebuilds a tracker by applying every report of blotter in order.
func Replay(startingCash decimal.Decimal, blotter []ExecutionReport) (*Tracker, error) {
	tracker, err := NewTracker(startingCash)
	if err != nil {
		return nil, err
	}
	for _, report := range blotter {
		tracker.Update(report)
	}
	return tracker, nil
}

// Update applies one execution report: the cash flow moves cash, the
// signed fill quantity moves the symbol's position and average cost, and
// the report is appended to the blotter.
func (tracker *Tracker) Update(report ExecutionReport) {
	tracker.cash = tracker.cash.Add(report.CashFlow)

	position, _ := tracker.positions[report.Symbol].Apply(report.SignedQuantity(), report.FillPrice)
	tracker.positions[report.Symbol] = position

	tracker.blotter = append(tracker.blotter, report)

	log.Debug().
		Str("order", report.OrderID).
		Str("symbol", report.Symbol).
		Str("side", report.Side.String()).
		Int64("qty", report.FilledQuantity).
		Str("price", report.FillPrice.String()).
		Int64("position", position.Quantity).
		Str("cash", tracker.cash.String()).
		Msg("ledger updated")
}

func (tracker *Tracker) StartingCash() decimal.Decimal { return tracker.startingCash }

func (tracker *Tracker) Cash() decimal.Decimal { return tracker.cash }

// Position returns the symbol's position, flat when never traded.
func (tracker *Tracker) Position(symbol string) Position {
	return tracker.positions[symbol]
}

// Positions returns a snapshot of every symbol's net quantity, flat
// symbols included.
func (tracker *Tracker) Positions() map[string]int64 {
	out := make(map[string]int64, len(tracker.positions))
	for symbol, position := range tracker.positions {
		out[symbol] = position.Quantity
	}
	return out
}

// Blotter returns the chronological execution reports. The returned
// slice is a copy.
func (tracker *Tracker) Blotter() []ExecutionReport {
	return slices.Clone(tracker.blotter)
}

func (tracker *Tracker) Len() int { return len(tracker.blotter) }

// PnLSummary sums realized pnl over the blotter and marks every open
// position to prices. Symbols absent from prices contribute no
// unrealized pnl.
func (tracker *Tracker) PnLSummary(prices map[string]decimal.Decimal) PnLSummary {
	realized := decimal.Zero
	for _, report := range tracker.blotter {
		realized = realized.Add(report.RealizedPnL)
	}

	unrealized := decimal.Zero
	// Sorted for a deterministic summation order.
	for _, symbol := range slices.Sorted(maps.Keys(tracker.positions)) {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		unrealized = unrealized.Add(tracker.positions[symbol].Unrealized(price))
	}

	return PnLSummary{
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
		TotalPnL:      realized.Add(unrealized),
		Cash:          tracker.cash,
		Positions:     tracker.Positions(),
	}
}
