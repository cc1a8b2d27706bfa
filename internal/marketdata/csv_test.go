package marketdata

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(day int) time.Time {
	return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
}

func TestCSVSource_GetHistory(t *testing.T) {
	source := NewCSVSource("testdata")

	bars, err := source.GetHistory(context.Background(), "aapl", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, bars, 4)
	// Sorted regardless of file order.
	assert.Equal(t, date(2), bars[0].Time)
	assert.Equal(t, "185.64", bars[0].Last.String())
	assert.Equal(t, date(5), bars[3].Time)

	bars, err = source.GetHistory(context.Background(), "AAPL", date(3), date(4))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, date(3), bars[0].Time)
}

func TestCSVSource_MissingFile(t *testing.T) {
	_, err := NewCSVSource("testdata").GetHistory(context.Background(), "NOPE", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name string
		body string
		bars int
		err  bool
	}{
		{"close only", "timestamp,close\n2024-01-02,10\n", 1, false},
		{"rfc3339", "timestamp,close\n2024-01-02T15:30:00Z,10\n", 1, false},
		{"missing close column", "timestamp,open\n2024-01-02,10\n", 0, true},
		{"zero close", "timestamp,close\n2024-01-02,0\n", 0, true},
		{"bad number", "timestamp,close\n2024-01-02,abc\n", 0, true},
		{"bad timestamp", "timestamp,close\nyesterday,10\n", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars, err := ReadCSV(strings.NewReader(tt.body))
			if tt.err {
				assert.ErrorIs(t, err, ErrMalformedRow)
				return
			}
			require.NoError(t, err)
			assert.Len(t, bars, tt.bars)
		})
	}
}
