// Package backtest replays a strategy's signals through the order
// management system, the matching engine and the ledger, and reports the
// run's performance.
//
// A run is a deterministic fold: signals are consumed once, in time
// order, and every run owns a fresh tracker, engine and OMS.
package backtest

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	. "huginn/internal/common"
	"huginn/internal/engine"
	"huginn/internal/ledger"
	"huginn/internal/marketdata"
	"huginn/internal/metrics"
	"huginn/internal/oms"
	"huginn/internal/strategy"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Risk holds the sizing and cost parameters of a run.
type Risk struct {
	StartingCash     decimal.Decimal `json:"starting_cash"`
	PositionFraction decimal.Decimal `json:"position_fraction"`
	TransactionCost  decimal.Decimal `json:"transaction_cost"` // Flat, per fill
}

func (r Risk) Validate() error {
	if !r.StartingCash.IsPositive() {
		return NewConfigurationError("starting_cash", "must be positive")
	}
	if !r.PositionFraction.IsPositive() || r.PositionFraction.GreaterThan(decimal.NewFromInt(1)) {
		return NewConfigurationError("position_fraction", "must be in (0, 1]")
	}
	if r.TransactionCost.IsNegative() {
		return NewConfigurationError("transaction_cost", "must not be negative")
	}
	return nil
}

type Request struct {
	Strategy strategy.Strategy
	Frame    marketdata.Frame
	Risk     Risk
	// MaxSignals bounds the number of signals replayed; zero means all.
	MaxSignals int
}

// Rejection records a signal leg whose order did not make it through.
type Rejection struct {
	Time   time.Time `json:"time"`
	Symbol string    `json:"symbol"`
	Reason string    `json:"reason"`
}

type Metrics struct {
	TotalReturn    float64          `json:"total_return"`
	MaxDrawdown    float64          `json:"max_drawdown"`
	SharpeRatio    float64          `json:"sharpe_ratio"`
	TotalPnL       decimal.Decimal  `json:"total_pnl"`
	RealizedPnL    decimal.Decimal  `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal  `json:"unrealized_pnl"`
	NumTrades      int              `json:"num_trades"`
	FinalCash      decimal.Decimal  `json:"final_cash"`
	FinalPositions map[string]int64 `json:"final_positions"`
}

type Result struct {
	ID         string            `json:"id"`
	Strategy   string            `json:"strategy"`
	Symbols    []string          `json:"symbols"`
	Risk       Risk              `json:"risk"`
	Signals    []strategy.Signal `json:"signals"`
	Trades     []ExecutionReport `json:"trades"`
	Rejections []Rejection       `json:"rejections,omitempty"`
	Metrics    Metrics           `json:"metrics"`
	Equity     []metrics.Point   `json:"equity"`
	StartedAt  time.Time         `json:"started_at"`
	Duration   time.Duration     `json:"duration"`
}

// Run generates the strategy's signals over the frame and replays them.
func Run(ctx context.Context, req Request) (Result, error) {
	if req.Strategy == nil {
		return Result{}, NewConfigurationError("strategy", "must be set")
	}
	if err := req.Risk.Validate(); err != nil {
		return Result{}, err
	}
	signals, err := req.Strategy.Signals(req.Frame)
	if err != nil {
		return Result{}, fmt.Errorf("generating %s signals: %w", req.Strategy.Name(), err)
	}
	if req.MaxSignals > 0 && len(signals) > req.MaxSignals {
		signals = signals[:req.MaxSignals]
	}

	started := time.Now()
	runner, err := newRunner(req.Strategy.Legs(), req.Risk)
	if err != nil {
		return Result{}, err
	}
	acc, err := runner.fold(ctx, slices.Values(signals))
	if err != nil {
		return Result{}, err
	}

	result := runner.finish(acc, req.Frame.Last())
	result.Strategy = req.Strategy.Name()
	result.Symbols = strategy.Symbols(req.Strategy)
	result.Signals = signals
	result.StartedAt = started
	result.Duration = time.Since(started)

	log.Info().
		Str("run", result.ID).
		Str("strategy", result.Strategy).
		Int("signals", len(signals)).
		Int("trades", result.Metrics.NumTrades).
		Int("rejections", len(result.Rejections)).
		Str("total_pnl", result.Metrics.TotalPnL.StringFixed(2)).
		Float64("sharpe", result.Metrics.SharpeRatio).
		Msg("backtest finished")
	return result, nil
}

// runner owns the per-run state: one tracker, one engine, one OMS.
type runner struct {
	id      string
	legs    []strategy.Leg
	risk    Risk
	tracker *ledger.Tracker
	engine  *engine.Engine
	oms     *oms.OMS
}

// accumulator is threaded through the fold.
type accumulator struct {
	trades     []ExecutionReport
	rejections []Rejection
}

func newRunner(legs []strategy.Leg, risk Risk) (*runner, error) {
	tracker, err := ledger.NewTracker(risk.StartingCash)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, len(legs))
	for i, leg := range legs {
		symbols[i] = leg.Symbol
	}

	id := uuid.NewString()
	eng := engine.New(symbols...)
	eng.Attach(id, tracker)
	return &runner{
		id:      id,
		legs:    legs,
		risk:    risk,
		tracker: tracker,
		engine:  eng,
		oms:     oms.New(eng, nil),
	}, nil
}

// fold consumes the signal sequence once, in order. Signals must be
// sorted by time; an out of order signal aborts the run.
func (r *runner) fold(ctx context.Context, signals iter.Seq[strategy.Signal]) (accumulator, error) {
	var acc accumulator
	var last time.Time
	for signal := range signals {
		if err := ctx.Err(); err != nil {
			return acc, err
		}
		if signal.Time.Before(last) {
			return acc, fmt.Errorf("signal at %s precedes %s", signal.Time, last)
		}
		last = signal.Time
		acc = r.step(acc, signal)
	}
	return acc, nil
}

// step turns one signal into at most one market order per leg, in leg
// order. Entry sizes all come from the cash on hand when the signal
// arrives.
func (r *runner) step(acc accumulator, signal strategy.Signal) accumulator {
	if len(signal.Prices) != len(r.legs) {
		return acc.reject(signal.Time, "", fmt.Sprintf("signal has %d prices for %d legs", len(signal.Prices), len(r.legs)))
	}

	type legOrder struct {
		order Order
		ref   engine.Reference
	}
	cash := r.tracker.Cash()
	orders := make([]legOrder, 0, len(r.legs))
	for i, leg := range r.legs {
		order, ok := r.size(leg, signal.Target*leg.Direction, signal.Prices[i], cash)
		if !ok {
			continue
		}
		order.Timestamp = signal.Time
		orders = append(orders, legOrder{order, engine.Reference{Price: signal.Prices[i], Time: signal.Time}})
	}

	// An entry is all legs or none, so a paired trade is never left
	// half built because one leg sized to zero.
	if signal.Target != strategy.Flat && len(orders) < r.entryLegs(signal.Target) {
		log.Warn().
			Time("signal_time", signal.Time).
			Int("target", signal.Target).
			Msg("entry skipped: a leg sized to zero")
		return acc.reject(signal.Time, "", "entry leg sized to zero")
	}

	for _, leg := range orders {
		ack, err := r.oms.Submit(leg.order, leg.ref)
		if err != nil {
			log.Warn().Err(err).Str("symbol", leg.order.Symbol).Time("signal_time", signal.Time).Msg("order not filled")
			acc = acc.reject(signal.Time, leg.order.Symbol, err.Error())
			continue
		}
		for _, report := range ack.Reports {
			if report.Owner != r.id {
				continue
			}
			report = report.WithFee(r.risk.TransactionCost)
			r.tracker.Update(report)
			acc.trades = append(acc.trades, report)
		}
	}
	return acc
}

// entryLegs is the number of legs an entry to target must trade: every
// leg not already positioned in the target's direction.
func (r *runner) entryLegs(target int) int {
	n := 0
	for _, leg := range r.legs {
		want := int64(target * leg.Direction)
		if r.tracker.Position(leg.Symbol).Quantity*want <= 0 {
			n++
		}
	}
	return n
}

// size maps a leg target onto an order from the tracker's current
// position:
//   - target 0 flattens exactly the recorded position, nothing when flat;
//   - a target in the direction already held does nothing;
//   - otherwise the order closes any opposite position and opens
//     floor(cash * fraction / price) in the target direction;
//   - an entry that sizes to zero still closes an opposite position.
func (r *runner) size(leg strategy.Leg, target int, price, cash decimal.Decimal) (Order, bool) {
	position := r.tracker.Position(leg.Symbol).Quantity
	order := Order{Owner: r.id, Symbol: leg.Symbol, Type: MarketOrder}

	if target == strategy.Flat {
		if position == 0 {
			return order, false
		}
		order.Side = Sell
		if position < 0 {
			order.Side = Buy
		}
		order.Quantity = abs(position)
		return order, true
	}

	if position*int64(target) > 0 {
		return order, false
	}
	if !price.IsPositive() {
		return order, false
	}
	entry := cash.Mul(r.risk.PositionFraction).Div(price).Floor().IntPart()
	if entry <= 0 {
		if position == 0 {
			return order, false
		}
		entry = 0
	}
	order.Side = Buy
	if target < 0 {
		order.Side = Sell
	}
	order.Quantity = abs(position) + entry
	return order, true
}

func (r *runner) finish(acc accumulator, last map[string]decimal.Decimal) Result {
	summary := r.tracker.PnLSummary(last)
	curve := metrics.Compute(r.risk.StartingCash, r.tracker.Blotter())

	totalReturn := summary.TotalPnL.Div(r.risk.StartingCash).InexactFloat64()
	return Result{
		ID:         r.id,
		Risk:       r.risk,
		Trades:     acc.trades,
		Rejections: acc.rejections,
		Equity:     curve.Points,
		Metrics: Metrics{
			TotalReturn:    totalReturn,
			MaxDrawdown:    curve.MaxDrawdown,
			SharpeRatio:    curve.Sharpe,
			TotalPnL:       summary.TotalPnL,
			RealizedPnL:    summary.RealizedPnL,
			UnrealizedPnL:  summary.UnrealizedPnL,
			NumTrades:      len(acc.trades),
			FinalCash:      summary.Cash,
			FinalPositions: summary.Positions,
		},
	}
}

func (acc accumulator) reject(at time.Time, symbol, reason string) accumulator {
	acc.rejections = append(acc.rejections, Rejection{Time: at, Symbol: symbol, Reason: reason})
	return acc
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
