// Package metrics derives the equity curve and its risk statistics from
// an execution blotter. Nothing here is stored; every figure is
// recomputed from the blotter on demand.
package metrics

import (
	"math"
	"time"

	"huginn/internal/common"

	"github.com/shopspring/decimal"
)

// TradingDays annualizes per-step Sharpe ratios.
const TradingDays = 252

type Point struct {
	Time          time.Time       `json:"time"`
	CumulativePnL decimal.Decimal `json:"cumulative_pnl"`
	Equity        decimal.Decimal `json:"equity"`
}

type Curve struct {
	Points      []Point
	Returns     []float64
	Sharpe      float64
	MaxDrawdown float64
}

// Compute builds the equity curve of blotter: cumulative pnl is the
// running sum of realized pnl in blotter order and equity is starting
// cash plus that sum.
func Compute(startingCash decimal.Decimal, blotter []common.ExecutionReport) Curve {
	points := EquityCurve(startingCash, blotter)
	returns := Returns(points)
	return Curve{
		Points:      points,
		Returns:     returns,
		Sharpe:      Sharpe(returns),
		MaxDrawdown: MaxDrawdown(points),
	}
}

func EquityCurve(startingCash decimal.Decimal, blotter []common.ExecutionReport) []Point {
	points := make([]Point, 0, len(blotter))
	cumulative := decimal.Zero
	for _, report := range blotter {
		cumulative = cumulative.Add(report.RealizedPnL)
		points = append(points, Point{
			Time:          report.Timestamp,
			CumulativePnL: cumulative,
			Equity:        startingCash.Add(cumulative),
		})
	}
	return points
}

// Returns is the percentage change of equity between consecutive
// points. Steps whose prior equity is zero are skipped.
func Returns(points []Point) []float64 {
	if len(points) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].Equity
		if prev.IsZero() {
			continue
		}
		change := points[i].Equity.Sub(prev).Div(prev)
		returns = append(returns, change.InexactFloat64())
	}
	return returns
}

// Sharpe is mean/stdev of returns annualized by sqrt(252), using the
// sample standard deviation. It is zero with fewer than two returns or
// zero dispersion.
func Sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, stdev := meanStdev(returns)
	if stdev == 0 || math.IsNaN(stdev) {
		return 0
	}
	return mean / stdev * math.Sqrt(TradingDays)
}

// MaxDrawdown is the most negative (equity - running peak) / running
// peak, reported as a fraction <= 0. Curves with fewer than two points
// have no drawdown.
func MaxDrawdown(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}
	peak := points[0].Equity
	worst := 0.0
	for _, point := range points {
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
		}
		if !peak.IsPositive() {
			continue
		}
		drawdown := point.Equity.Sub(peak).Div(peak).InexactFloat64()
		worst = min(worst, drawdown)
	}
	return worst
}

func meanStdev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var squares float64
	for _, v := range values {
		squares += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(squares / float64(len(values)-1))
}
