package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionReport is the record of one side of a matched trade. Reports
// are produced by the matching engine and are never modified once
// recorded; WithFee derives a new value.
type ExecutionReport struct {
	OrderID        string          `json:"order_id"`
	Owner          string          `json:"owner"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	FilledQuantity int64           `json:"filled_quantity"`
	FillPrice      decimal.Decimal `json:"fill_price"`
	Timestamp      time.Time       `json:"timestamp"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"` // Net of Fee
	CashFlow       decimal.Decimal `json:"cash_flow"`    // Signed, net of Fee
	Fee            decimal.Decimal `json:"fee"`
	Liquidity      Liquidity       `json:"liquidity"`
}

// Notional is the unsigned traded value q*p.
func (r ExecutionReport) Notional() decimal.Decimal {
	return r.FillPrice.Mul(decimal.NewFromInt(r.FilledQuantity))
}

// SignedQuantity is +q for buys and -q for sells.
func (r ExecutionReport) SignedQuantity() int64 {
	return r.Side.Sign() * r.FilledQuantity
}

// WithFee returns a copy of the report with a flat per-fill fee deducted
// from both its realized pnl and its cash flow.
func (r ExecutionReport) WithFee(fee decimal.Decimal) ExecutionReport {
	if fee.IsZero() {
		return r
	}
	r.Fee = r.Fee.Add(fee)
	r.RealizedPnL = r.RealizedPnL.Sub(fee)
	r.CashFlow = r.CashFlow.Sub(fee)
	return r
}

func (r ExecutionReport) String() string {
	return fmt.Sprintf(
		`OrderID:     %s
Symbol:      %s
Side:        %v
Filled:      %d @ %s
Timestamp:   %v
RealizedPnL: %s
CashFlow:    %s
Liquidity:   %v`,
		r.OrderID,
		r.Symbol,
		r.Side,
		r.FilledQuantity,
		r.FillPrice.String(),
		r.Timestamp.Format(time.RFC3339),
		r.RealizedPnL.String(),
		r.CashFlow.String(),
		r.Liquidity,
	)
}
