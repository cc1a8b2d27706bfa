package marketdata

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Frame is a time aligned table of last prices: one row per timestamp
// present in every series, one column per symbol in series order.
type Frame struct {
	Symbols []string
	Times   []time.Time
	Prices  [][]decimal.Decimal // Prices[row][column]
}

// Align inner-joins series on their timestamps. Rows missing any symbol
// are dropped, so the frame only holds bars every leg can trade on.
func Align(series ...Series) Frame {
	frame := Frame{Symbols: make([]string, len(series))}
	if len(series) == 0 {
		return frame
	}

	lookup := make([]map[int64]decimal.Decimal, len(series))
	for j, s := range series {
		frame.Symbols[j] = s.Symbol
		lookup[j] = make(map[int64]decimal.Decimal, len(s.Bars))
		for _, bar := range s.Bars {
			lookup[j][bar.Time.UnixNano()] = bar.Last
		}
	}

	times := make([]time.Time, 0, len(series[0].Bars))
	for _, bar := range series[0].Bars {
		times = append(times, bar.Time)
	}
	slices.SortFunc(times, func(a, b time.Time) int { return a.Compare(b) })
	times = slices.CompactFunc(times, func(a, b time.Time) bool { return a.Equal(b) })

	for _, t := range times {
		row := make([]decimal.Decimal, len(series))
		complete := true
		for j := range series {
			price, ok := lookup[j][t.UnixNano()]
			if !ok {
				complete = false
				break
			}
			row[j] = price
		}
		if complete {
			frame.Times = append(frame.Times, t)
			frame.Prices = append(frame.Prices, row)
		}
	}
	return frame
}

func (f Frame) Len() int { return len(f.Times) }

// Index returns the column of symbol, or -1.
func (f Frame) Index(symbol string) int {
	return slices.Index(f.Symbols, symbol)
}

// Floats returns column j as float64 for indicator math.
func (f Frame) Floats(j int) []float64 {
	out := make([]float64, len(f.Prices))
	for i, row := range f.Prices {
		out[i] = row[j].InexactFloat64()
	}
	return out
}

// Last returns the final price of every symbol, empty for an empty frame.
func (f Frame) Last() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(f.Symbols))
	if f.Len() == 0 {
		return out
	}
	row := f.Prices[f.Len()-1]
	for j, symbol := range f.Symbols {
		out[symbol] = row[j]
	}
	return out
}

// ParseLookback turns periods such as "5d", "1mo", "1y" or "2w" into a
// duration; a month counts as 30 days and a year as 365.
func ParseLookback(period string) (time.Duration, error) {
	period = strings.ToLower(strings.TrimSpace(period))
	units := []struct {
		suffix string
		unit   time.Duration
	}{
		{"mo", 30 * 24 * time.Hour},
		{"d", 24 * time.Hour},
		{"w", 7 * 24 * time.Hour},
		{"y", 365 * 24 * time.Hour},
		{"h", time.Hour},
	}
	for _, u := range units {
		if !strings.HasSuffix(period, u.suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(period, u.suffix))
		if err != nil || n <= 0 {
			break
		}
		return time.Duration(n) * u.unit, nil
	}
	return 0, fmt.Errorf("unsupported lookback period %q", period)
}
