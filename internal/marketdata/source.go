// Package marketdata loads historical bars for the backtester. Everything
// here runs before a replay starts: the core only ever sees a fully
// materialized Frame.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNoData = errors.New("no market data")

// Bar is one OHLCV row. Time is always UTC.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Last   decimal.Decimal
	Volume decimal.Decimal
}

// Source returns the bars of symbol between start and end inclusive,
// ascending by time. Zero start or end leaves that side unbounded.
type Source interface {
	GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
	Name() string
}

// Series is the history of one symbol.
type Series struct {
	Symbol string
	Bars   []Bar
}

// Load fetches one series per symbol from source, in symbol order.
func Load(ctx context.Context, source Source, start, end time.Time, symbols ...string) ([]Series, error) {
	out := make([]Series, 0, len(symbols))
	for _, symbol := range symbols {
		bars, err := source.GetHistory(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, Series{Symbol: symbol, Bars: bars})
	}
	return out, nil
}

func within(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}

// LoadFrame loads every symbol and aligns the series on common timestamps.
func LoadFrame(ctx context.Context, source Source, start, end time.Time, symbols ...string) (Frame, error) {
	series, err := Load(ctx, source, start, end, symbols...)
	if err != nil {
		return Frame{}, err
	}
	frame := Align(series...)
	if frame.Len() == 0 {
		return Frame{}, fmt.Errorf("%w: no common bars for %v from %s", ErrNoData, symbols, source.Name())
	}
	return frame, nil
}

// Range resolves the replay window. An explicit start wins over the
// lookback; an empty lookback with no start leaves the window unbounded.
func Range(lookback string, start, end time.Time) (time.Time, time.Time, error) {
	if !start.IsZero() || lookback == "" {
		return start, end, nil
	}
	d, err := ParseLookback(lookback)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return end.Add(-d), end, nil
}
