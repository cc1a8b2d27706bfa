package engine

import (
	. "huginn/internal/common"

	"github.com/shopspring/decimal"
)

// Resting is a read-only copy of an order sat in the book.
type Resting struct {
	Order     Order
	Remaining int64
}

// FlatPriceLevel is a flattened copy of a price level, orders in time
// priority.
type FlatPriceLevel struct {
	Price  decimal.Decimal
	Orders []Resting
}

// Quantity sums the remaining quantity on the level.
func (level FlatPriceLevel) Quantity() int64 {
	var total int64
	for _, order := range level.Orders {
		total += order.Remaining
	}
	return total
}

func FlattenLevels(levels []*PriceLevel) []FlatPriceLevel {
	flat := make([]FlatPriceLevel, 0, len(levels))
	for _, level := range levels {
		orders := make([]Resting, len(level.orders))
		for i, entry := range level.orders {
			orders[i] = Resting{Order: entry.order, Remaining: entry.remaining}
		}
		flat = append(flat, FlatPriceLevel{Price: level.priceLevel, Orders: orders})
	}
	return flat
}

// Bids returns the bid levels, best (highest) first.
func (book *OrderBook) Bids() []FlatPriceLevel {
	return FlattenLevels(book.bids.Items())
}

// Asks returns the ask levels, best (lowest) first.
func (book *OrderBook) Asks() []FlatPriceLevel {
	return FlattenLevels(book.asks.Items())
}

func (book *OrderBook) BestBid() (decimal.Decimal, bool) {
	level, ok := book.bids.Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.priceLevel, true
}

func (book *OrderBook) BestAsk() (decimal.Decimal, bool) {
	level, ok := book.asks.Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.priceLevel, true
}

// Depth returns the resting quantity on each side.
func (book *OrderBook) Depth() (bids, asks int64) {
	return book.buyQuantity, book.sellQuantity
}

// Orders returns the number of resting orders on each side.
func (book *OrderBook) Orders() (bids, asks uint64) {
	return book.nBuyOrders, book.nSellOrders
}

// PendingStops returns the untriggered stop orders in arrival order.
func (book *OrderBook) PendingStops() []Resting {
	out := make([]Resting, len(book.stops))
	for i, stop := range book.stops {
		out[i] = Resting{Order: stop.order, Remaining: stop.remaining}
	}
	return out
}

// Reference returns the last reference price the book has seen.
func (book *OrderBook) Reference() Reference {
	return book.reference
}
