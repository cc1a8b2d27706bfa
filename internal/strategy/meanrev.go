package strategy

import (
	"huginn/internal/common"
	"huginn/internal/marketdata"

	"github.com/markcheno/go-talib"
)

// MeanReversion trades Bollinger band crossings: it enters against a
// move through an outer band and exits when price crosses back through
// the middle band.
type MeanReversion struct {
	Symbol string
	Window int
	NumStd float64
}

func NewMeanReversion(symbol string, window int, numStd float64) (*MeanReversion, error) {
	if err := requireSymbol("symbol", symbol); err != nil {
		return nil, err
	}
	if window < 2 {
		return nil, common.NewConfigurationError("window", "must be at least 2")
	}
	if numStd <= 0 {
		return nil, common.NewConfigurationError("num_std", "must be positive")
	}
	return &MeanReversion{Symbol: symbol, Window: window, NumStd: numStd}, nil
}

func (s *MeanReversion) Name() string { return "mean_reversion" }

func (s *MeanReversion) Legs() []Leg { return []Leg{{Symbol: s.Symbol, Direction: 1}} }

func (s *MeanReversion) Signals(frame marketdata.Frame) ([]Signal, error) {
	cols, err := columns(frame, s.Legs())
	if err != nil {
		return nil, err
	}
	out := newEmitter(frame, cols)
	if frame.Len() < s.Window+1 {
		return nil, nil
	}

	closes := frame.Floats(cols[0])
	upper, mid, lower := talib.BBands(closes, s.Window, s.NumStd, s.NumStd, talib.SMA)

	// Window >= 2, so every visited bar has a previous one.
	for i := s.Window - 1; i < frame.Len(); i++ {
		price, prev := closes[i], closes[i-1]
		switch out.target {
		case Flat:
			if price <= lower[i] && prev > lower[i] {
				out.set(i, Long)
			} else if price >= upper[i] && prev < upper[i] {
				out.set(i, Short)
			}
		case Long:
			if price >= mid[i] && prev < mid[i] {
				out.set(i, Flat)
			}
		case Short:
			if price <= mid[i] && prev > mid[i] {
				out.set(i, Flat)
			}
		}
	}
	return out.signals, nil
}
