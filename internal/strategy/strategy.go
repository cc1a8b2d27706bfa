// Package strategy turns a price frame into a sparse sequence of target
// position signals. Every strategy is a pure function of the frame and
// its parameters: the signal at bar i only looks at bars up to i, and a
// signal is emitted only on bars where the target changes.
package strategy

import (
	"fmt"
	"strings"
	"time"

	"huginn/internal/common"
	"huginn/internal/marketdata"

	"github.com/shopspring/decimal"
)

const (
	Short = -1
	Flat  = 0
	Long  = 1
)

// Signal is a discrete target position at a bar. Prices holds the bar's
// last price of every leg, in leg order.
type Signal struct {
	Time   time.Time         `json:"time"`
	Target int               `json:"target"`
	Prices []decimal.Decimal `json:"prices"`
}

// Leg is one instrument a strategy trades. Direction maps the strategy
// target onto the leg: a +1 target on a -1 leg means short that leg.
type Leg struct {
	Symbol    string
	Direction int
}

type Strategy interface {
	Name() string
	Legs() []Leg
	Signals(frame marketdata.Frame) ([]Signal, error)
}

// Params is the union of every strategy's parameters, as read from
// configuration or an API request.
type Params struct {
	Symbols     []string `json:"symbols" mapstructure:"symbols"`
	ShortWindow int      `json:"short_window,omitempty" mapstructure:"short_window"`
	LongWindow  int      `json:"long_window,omitempty" mapstructure:"long_window"`
	Window      int      `json:"window,omitempty" mapstructure:"window"`
	NumStd      float64  `json:"num_std,omitempty" mapstructure:"num_std"`
	Threshold   float64  `json:"threshold,omitempty" mapstructure:"threshold"`
	HedgeWindow int      `json:"hedge_window,omitempty" mapstructure:"hedge_window"`
}

// New builds the named strategy.
func New(name string, params Params) (Strategy, error) {
	symbol := func(i int) string {
		if i < len(params.Symbols) {
			return strings.ToUpper(params.Symbols[i])
		}
		return ""
	}
	switch strings.ToLower(name) {
	case "trend", "trend_following":
		return NewTrendFollowing(symbol(0), params.ShortWindow, params.LongWindow)
	case "meanrev", "mean_reversion":
		return NewMeanReversion(symbol(0), params.Window, params.NumStd)
	case "spread", "arbitrage":
		return NewSpread(symbol(0), symbol(1), params.Threshold, params.HedgeWindow)
	}
	return nil, common.NewConfigurationError("strategy", fmt.Sprintf("unknown strategy %q", name))
}

// Symbols lists the leg symbols of s in leg order.
func Symbols(s Strategy) []string {
	legs := s.Legs()
	out := make([]string, len(legs))
	for i, leg := range legs {
		out[i] = leg.Symbol
	}
	return out
}

// columns resolves the frame column of every leg.
func columns(frame marketdata.Frame, legs []Leg) ([]int, error) {
	out := make([]int, len(legs))
	for i, leg := range legs {
		j := frame.Index(leg.Symbol)
		if j < 0 {
			return nil, fmt.Errorf("frame has no prices for %s", leg.Symbol)
		}
		out[i] = j
	}
	return out, nil
}

// emitter records a signal whenever the target moves away from the
// previous bar's target. Every run starts flat.
type emitter struct {
	frame   marketdata.Frame
	cols    []int
	target  int
	signals []Signal
}

func newEmitter(frame marketdata.Frame, cols []int) *emitter {
	return &emitter{frame: frame, cols: cols}
}

func (e *emitter) set(i, target int) {
	if target == e.target {
		return
	}
	e.target = target
	prices := make([]decimal.Decimal, len(e.cols))
	for k, j := range e.cols {
		prices[k] = e.frame.Prices[i][j]
	}
	e.signals = append(e.signals, Signal{Time: e.frame.Times[i], Target: target, Prices: prices})
}

func requirePositive(param string, v int) error {
	if v <= 0 {
		return common.NewConfigurationError(param, "must be positive")
	}
	return nil
}

func requireSymbol(param, symbol string) error {
	if symbol == "" {
		return common.NewConfigurationError(param, "must be set")
	}
	return nil
}
