package backtest

import (
	"context"
	"fmt"
	"testing"

	. "huginn/internal/common"
	"huginn/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func job(name string, risk Risk, signals ...strategy.Signal) Job {
	legs := single("AAPL")
	return Job{
		Name: name,
		Request: Request{
			Strategy: &scripted{legs: legs, signals: signals},
			Frame:    frameFor(legs, signals),
			Risk:     risk,
		},
	}
}

func TestSweep_IsolatedRunsInJobOrder(t *testing.T) {
	signals := []strategy.Signal{signal(0, strategy.Long, 50), signal(1, strategy.Flat, 55)}

	var jobs []Job
	for i := range 12 {
		risk := defaultRisk()
		risk.StartingCash = decimal.NewFromInt(int64(100000 * (i + 1)))
		jobs = append(jobs, job(fmt.Sprintf("job-%d", i), risk, signals...))
	}

	results, err := Sweep(context.Background(), jobs, 4)
	require.NoError(t, err)
	require.Len(t, results, len(jobs))

	ids := make(map[string]bool)
	for i, result := range results {
		// Each run sizes from its own starting cash, unaffected by the others.
		assert.True(t, result.Risk.StartingCash.Equal(jobs[i].Request.Risk.StartingCash))
		assert.Equal(t, int64(200*(i+1)), result.Trades[0].FilledQuantity)
		assert.False(t, ids[result.ID], "run ids must be unique")
		ids[result.ID] = true
	}
}

func TestSweep_SameJobSameResult(t *testing.T) {
	signals := []strategy.Signal{signal(0, strategy.Long, 50), signal(3, strategy.Short, 45), signal(6, strategy.Flat, 48)}
	jobs := []Job{job("a", defaultRisk(), signals...), job("b", defaultRisk(), signals...)}

	results, err := Sweep(context.Background(), jobs, 2)
	require.NoError(t, err)
	assert.Equal(t, results[0].Metrics.TotalPnL.String(), results[1].Metrics.TotalPnL.String())
	assert.Equal(t, results[0].Metrics.FinalPositions, results[1].Metrics.FinalPositions)
}

func TestSweep_FailingJob(t *testing.T) {
	bad := defaultRisk()
	bad.StartingCash = decimal.Zero
	jobs := []Job{
		job("good", defaultRisk(), signal(0, strategy.Long, 50)),
		job("bad", bad, signal(0, strategy.Long, 50)),
	}

	_, err := Sweep(context.Background(), jobs, 2)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestSweep_Empty(t *testing.T) {
	results, err := Sweep(context.Background(), nil, 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}
