package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrMalformedRow = errors.New("malformed csv row")

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// CSVSource reads <Dir>/<SYMBOL>.csv files with the header
// timestamp,open,high,low,close,volume.
type CSVSource struct {
	Dir string
}

func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{Dir: dir}
}

func (s *CSVSource) Name() string { return "csv" }

func (s *CSVSource) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	path := filepath.Join(s.Dir, strings.ToUpper(symbol)+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening history for %s: %w", symbol, err)
	}
	defer f.Close()

	bars, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	out := bars[:0]
	for _, bar := range bars {
		if within(bar.Time, start, end) {
			out = append(out, bar)
		}
	}
	return out, ctx.Err()
}

// ReadCSV parses bars from r and returns them sorted by time.
func ReadCSV(r io.Reader) ([]Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range []string{"timestamp", "close"} {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("%w: missing %q column", ErrMalformedRow, name)
		}
	}

	var bars []Bar
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		bar, err := parseRow(row, columns)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}

	slices.SortStableFunc(bars, func(a, b Bar) int { return a.Time.Compare(b.Time) })
	return bars, nil
}

func parseRow(row []string, columns map[string]int) (Bar, error) {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	number := func(name string) (decimal.Decimal, error) {
		raw := field(name)
		if raw == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(raw)
	}

	ts, err := parseTime(field("timestamp"))
	if err != nil {
		return Bar{}, err
	}
	bar := Bar{Time: ts}
	for name, dst := range map[string]*decimal.Decimal{
		"open": &bar.Open, "high": &bar.High, "low": &bar.Low, "close": &bar.Last, "volume": &bar.Volume,
	} {
		if *dst, err = number(name); err != nil {
			return Bar{}, fmt.Errorf("%w: %s: %v", ErrMalformedRow, name, err)
		}
	}
	if !bar.Last.IsPositive() {
		return Bar{}, fmt.Errorf("%w: close must be positive", ErrMalformedRow)
	}
	return bar, nil
}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedRow, raw)
}
