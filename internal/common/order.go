package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID        string          // Opaque unique token, assigned by the OMS when empty
	Owner     string          // Who owns this order
	Symbol    string          // Specific asset identifier
	Side      Side            // Order side
	Type      OrderType       //
	Quantity  int64           // Total volume requested
	Price     decimal.Decimal // Limit or stop price, zero for market orders
	Timestamp time.Time       // Assigned by the OMS when zero
}

// HasPrice reports whether a limit or stop price was supplied.
func (order Order) HasPrice() bool {
	return !order.Price.IsZero()
}

// Validate checks the order against the field rules every order must
// satisfy before it may reach a book.
func (order Order) Validate() error {
	if !order.Side.Valid() {
		return NewValidationError("side", fmt.Sprintf("must be buy or sell, got %v", order.Side))
	}
	if order.Quantity <= 0 {
		return NewValidationError("quantity", fmt.Sprintf("must be positive, got %d", order.Quantity))
	}
	if !order.Type.Valid() {
		return NewValidationError("type", fmt.Sprintf("must be market, limit or stop, got %v", order.Type))
	}
	if order.Type.RequiresPrice() && !order.HasPrice() {
		return NewValidationError("price", fmt.Sprintf("%v orders must have a price", order.Type))
	}
	if order.Price.IsNegative() {
		return NewValidationError("price", fmt.Sprintf("must be positive, got %s", order.Price))
	}
	if order.Type == MarketOrder && order.HasPrice() {
		return NewValidationError("price", "market orders do not take a price")
	}
	if order.Symbol == "" {
		return NewValidationError("symbol", "must not be empty")
	}
	return nil
}

func (order Order) String() string {
	return fmt.Sprintf(
		`ID:        %s
Owner:     %s
Symbol:    %s
Side:      %v
Type:      %v
Quantity:  %d
Price:     %s
Timestamp: %v`,
		order.ID,
		order.Owner,
		order.Symbol,
		order.Side,
		order.Type,
		order.Quantity,
		order.Price.String(),
		order.Timestamp.Format(time.RFC3339),
	)
}
