package metrics

import (
	"math"
	"testing"
	"time"

	"huginn/internal/common"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blotter(pnls ...int64) []common.ExecutionReport {
	out := make([]common.ExecutionReport, len(pnls))
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i, pnl := range pnls {
		out[i] = common.ExecutionReport{
			Timestamp:   start.AddDate(0, 0, i),
			RealizedPnL: decimal.NewFromInt(pnl),
		}
	}
	return out
}

func TestCompute_Degenerate(t *testing.T) {
	cash := decimal.NewFromInt(1000)

	empty := Compute(cash, nil)
	assert.Empty(t, empty.Points)
	assert.Zero(t, empty.Sharpe)
	assert.Zero(t, empty.MaxDrawdown)

	single := Compute(cash, blotter(100))
	require.Len(t, single.Points, 1)
	assert.Zero(t, single.Sharpe)
	assert.Zero(t, single.MaxDrawdown)

	// Two entries give a single return: still no Sharpe.
	two := Compute(cash, blotter(100, 50))
	assert.Zero(t, two.Sharpe)
}

func TestCompute_Curve(t *testing.T) {
	curve := Compute(decimal.NewFromInt(1000), blotter(100, -300, 50))

	require.Len(t, curve.Points, 3)
	assert.Equal(t, "1100", curve.Points[0].Equity.String())
	assert.Equal(t, "-200", curve.Points[1].CumulativePnL.String())
	assert.Equal(t, "850", curve.Points[2].Equity.String())

	assert.InDelta(t, -300.0/1100.0, curve.MaxDrawdown, 1e-12)

	r1, r2 := -300.0/1100.0, 50.0/800.0
	require.Len(t, curve.Returns, 2)
	assert.InDelta(t, r1, curve.Returns[0], 1e-12)
	assert.InDelta(t, r2, curve.Returns[1], 1e-12)

	mean := (r1 + r2) / 2
	sd := math.Sqrt(((r1-mean)*(r1-mean) + (r2-mean)*(r2-mean)) / 1)
	assert.InDelta(t, mean/sd*math.Sqrt(252), curve.Sharpe, 1e-9)
}

func TestSharpe_ZeroDispersion(t *testing.T) {
	assert.Zero(t, Sharpe([]float64{0.01, 0.01, 0.01}))
}

func TestMaxDrawdown_MonotoneCurve(t *testing.T) {
	curve := Compute(decimal.NewFromInt(1000), blotter(10, 20, 30))
	assert.Zero(t, curve.MaxDrawdown)
}
