package strategy

import (
	"math"

	"huginn/internal/common"
	"huginn/internal/marketdata"

	"github.com/markcheno/go-talib"
)

// Spread trades the residual p1 - beta*p2 of two related instruments.
// Beta is the least squares hedge ratio over the trailing HedgeWindow
// bars, so no bar uses prices from its future.
//
// A +1 target is long the spread: buy Symbol1, sell Symbol2.
type Spread struct {
	Symbol1     string
	Symbol2     string
	Threshold   float64
	HedgeWindow int
}

const defaultHedgeWindow = 60

func NewSpread(symbol1, symbol2 string, threshold float64, hedgeWindow int) (*Spread, error) {
	if err := requireSymbol("symbol1", symbol1); err != nil {
		return nil, err
	}
	if err := requireSymbol("symbol2", symbol2); err != nil {
		return nil, err
	}
	if symbol1 == symbol2 {
		return nil, common.NewConfigurationError("symbol2", "must differ from symbol1")
	}
	if threshold <= 0 {
		return nil, common.NewConfigurationError("threshold", "must be positive")
	}
	if hedgeWindow == 0 {
		hedgeWindow = defaultHedgeWindow
	}
	if hedgeWindow < 2 {
		return nil, common.NewConfigurationError("hedge_window", "must be at least 2")
	}
	return &Spread{Symbol1: symbol1, Symbol2: symbol2, Threshold: threshold, HedgeWindow: hedgeWindow}, nil
}

func (s *Spread) Name() string { return "spread" }

func (s *Spread) Legs() []Leg {
	return []Leg{
		{Symbol: s.Symbol1, Direction: 1},
		{Symbol: s.Symbol2, Direction: -1},
	}
}

func (s *Spread) Signals(frame marketdata.Frame) ([]Signal, error) {
	cols, err := columns(frame, s.Legs())
	if err != nil {
		return nil, err
	}
	out := newEmitter(frame, cols)
	if frame.Len() <= s.HedgeWindow {
		return nil, nil
	}

	p1 := frame.Floats(cols[0])
	p2 := frame.Floats(cols[1])
	beta := hedgeRatios(p1, p2, s.HedgeWindow)

	threshold := s.Threshold
	for i := s.HedgeWindow; i < frame.Len(); i++ {
		b := beta[i]
		if math.IsNaN(b) {
			continue
		}
		spread := p1[i] - b*p2[i]
		prev := p1[i-1] - b*p2[i-1]

		switch out.target {
		case Flat:
			if spread > threshold && prev <= threshold {
				out.set(i, Short)
			} else if spread < -threshold && prev >= -threshold {
				out.set(i, Long)
			}
		default:
			if math.Abs(spread) <= threshold && math.Abs(prev) > threshold {
				out.set(i, Flat)
			}
		}
	}
	return out.signals, nil
}

// hedgeRatios returns the rolling OLS slope of p1 on p2, computed as
// correl * sd(p1) / sd(p2). Bars without a defined slope hold NaN.
func hedgeRatios(p1, p2 []float64, window int) []float64 {
	correl := talib.Correl(p2, p1, window)
	sd1 := talib.StdDev(p1, window, 1)
	sd2 := talib.StdDev(p2, window, 1)

	beta := make([]float64, len(p1))
	for i := range beta {
		if i < window-1 || sd2[i] < 1e-12 {
			beta[i] = math.NaN()
			continue
		}
		b := correl[i] * sd1[i] / sd2[i]
		if math.IsInf(b, 0) {
			b = math.NaN()
		}
		beta[i] = b
	}
	return beta
}
