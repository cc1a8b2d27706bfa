package strategy

import (
	"huginn/internal/common"
	"huginn/internal/marketdata"

	"github.com/markcheno/go-talib"
)

// TrendFollowing goes long while the short moving average is above the
// long one and short while it is below.
type TrendFollowing struct {
	Symbol      string
	ShortWindow int
	LongWindow  int
}

func NewTrendFollowing(symbol string, short, long int) (*TrendFollowing, error) {
	if err := requireSymbol("symbol", symbol); err != nil {
		return nil, err
	}
	if err := requirePositive("short_window", short); err != nil {
		return nil, err
	}
	if err := requirePositive("long_window", long); err != nil {
		return nil, err
	}
	if short >= long {
		return nil, common.NewConfigurationError("short_window", "must be below long_window")
	}
	return &TrendFollowing{Symbol: symbol, ShortWindow: short, LongWindow: long}, nil
}

func (s *TrendFollowing) Name() string { return "trend_following" }

func (s *TrendFollowing) Legs() []Leg { return []Leg{{Symbol: s.Symbol, Direction: 1}} }

func (s *TrendFollowing) Signals(frame marketdata.Frame) ([]Signal, error) {
	cols, err := columns(frame, s.Legs())
	if err != nil {
		return nil, err
	}
	out := newEmitter(frame, cols)
	if frame.Len() < s.LongWindow {
		return nil, nil
	}

	closes := frame.Floats(cols[0])
	fast := talib.Sma(closes, s.ShortWindow)
	slow := talib.Sma(closes, s.LongWindow)

	// Both averages are defined from the long window's last warm-up bar.
	for i := s.LongWindow - 1; i < frame.Len(); i++ {
		switch {
		case fast[i] > slow[i]:
			out.set(i, Long)
		case fast[i] < slow[i]:
			out.set(i, Short)
		}
	}
	return out.signals, nil
}
