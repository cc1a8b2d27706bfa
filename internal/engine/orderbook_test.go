package engine_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	. "huginn/internal/common"
	"huginn/internal/engine"
	"huginn/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// --- Setup & Helpers --------------------------------------------------------

const testSymbol = "AAPL"

var epoch = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func createTestOrderBook() (*engine.Engine, *engine.OrderBook) {
	eng := engine.New(testSymbol)
	return eng, eng.Book(testSymbol)
}

func price(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

var nextID int

func placeTestOrders(t *testing.T, book *engine.OrderBook, p float64, side Side, quantities ...int64) []ExecutionReport {
	t.Helper()
	var reports []ExecutionReport
	for _, qty := range quantities {
		nextID++
		out, err := book.AddOrder(Order{
			ID:        fmt.Sprintf("test-%d", nextID),
			Owner:     "test",
			Symbol:    testSymbol,
			Side:      side,
			Type:      LimitOrder,
			Price:     price(p),
			Quantity:  qty,
			Timestamp: epoch,
		}, engine.Reference{})
		require.NoError(t, err)
		reports = append(reports, out...)
	}
	return reports
}

func marketOrder(id, owner string, side Side, qty int64) Order {
	return Order{ID: id, Owner: owner, Symbol: testSymbol, Side: side, Type: MarketOrder, Quantity: qty, Timestamp: epoch}
}

// levels renders price levels as "price:remaining,remaining" for comparison.
func levels(flat []engine.FlatPriceLevel) []string {
	out := make([]string, len(flat))
	for i, level := range flat {
		qtys := make([]string, len(level.Orders))
		for j, order := range level.Orders {
			qtys[j] = fmt.Sprint(order.Remaining)
		}
		out[i] = level.Price.String() + ":" + strings.Join(qtys, ",")
	}
	return out
}

func sumQuantity(reports []ExecutionReport, orderID string) int64 {
	var total int64
	for _, r := range reports {
		if r.OrderID == orderID {
			total += r.FilledQuantity
		}
	}
	return total
}

type fixedPosition map[string]ledger.Position

func (p fixedPosition) Position(symbol string) ledger.Position { return p[symbol] }

// --- Tests ------------------------------------------------------------------

func TestAddOrder_Limit(t *testing.T) {
	_, book := createTestOrderBook()

	// 1. Setup: Place 3 orders on Buy side and 3 on Sell side
	assert.Empty(t, placeTestOrders(t, book, 99.0, Buy, 100, 90, 80))
	assert.Empty(t, placeTestOrders(t, book, 100.0, Sell, 100, 90, 80))

	// 2. Assertions
	assert.Equal(t, []string{"100:100,90,80"}, levels(book.Asks()))
	assert.Equal(t, []string{"99:100,90,80"}, levels(book.Bids()))

	bids, asks := book.Depth()
	assert.Equal(t, int64(270), bids)
	assert.Equal(t, int64(270), asks)
	nBids, nAsks := book.Orders()
	assert.Equal(t, uint64(3), nBids)
	assert.Equal(t, uint64(3), nAsks)
}

func TestAddOrder_Limit_MultipleLevels_WithMatch(t *testing.T) {
	_, book := createTestOrderBook()

	// 1. Setup BIDS: Highest price first (99 -> 98)
	placeTestOrders(t, book, 99.0, Buy, 100, 90, 80)
	placeTestOrders(t, book, 98.0, Buy, 50)

	// 2. Setup ASKS: Lowest price first (100 -> 101)
	placeTestOrders(t, book, 100.0, Sell, 100, 90)
	placeTestOrders(t, book, 101.0, Sell, 20)

	// 3. Validates that the engine correctly sorts levels based on price priority
	assert.Equal(t, []string{"100:100,90", "101:20"}, levels(book.Asks()), "Asks should be sorted Low -> High")
	assert.Equal(t, []string{"99:100,90,80", "98:50"}, levels(book.Bids()), "Bids should be sorted High -> Low")

	// 4. Check complete match.
	reports := placeTestOrders(t, book, 100.0, Buy, 100)
	require.Len(t, reports, 2)
	assert.Equal(t, []string{"100:90", "101:20"}, levels(book.Asks()))

	// 5. Check partial match.
	placeTestOrders(t, book, 100.0, Buy, 20)
	assert.Equal(t, []string{"100:70", "101:20"}, levels(book.Asks()))
	assert.Equal(t, []string{"99:100,90,80", "98:50"}, levels(book.Bids()))
}

func TestAddOrder_Limit_MultipleLevels_WithMatchSweep_Bid(t *testing.T) {
	_, book := createTestOrderBook()

	placeTestOrders(t, book, 99.0, Buy, 100, 90, 80)
	placeTestOrders(t, book, 98.0, Buy, 50)
	placeTestOrders(t, book, 100.0, Sell, 100, 90)
	placeTestOrders(t, book, 101.0, Sell, 20)

	// 1. Check sweep match.
	placeTestOrders(t, book, 100.0, Buy, 120)
	assert.Equal(t, []string{"100:70", "101:20"}, levels(book.Asks()))

	// 2. Check multi-level sweep with a deep into the book order (100.0, 101.0).
	reports := placeTestOrders(t, book, 103.0, Buy, 80)
	assert.Equal(t, []string{"101:10"}, levels(book.Asks()))

	// Every fill trades at the resting maker's price.
	for _, r := range reports {
		assert.True(t, r.FillPrice.LessThanOrEqual(price(101)), "fill at %s", r.FillPrice)
	}
	_, asks := book.Depth()
	assert.Equal(t, int64(10), asks)
}

func TestAddOrder_Limit_MultipleLevels_WithMatchSweep_Ask(t *testing.T) {
	_, book := createTestOrderBook()

	placeTestOrders(t, book, 99.0, Buy, 100, 90, 80)
	placeTestOrders(t, book, 98.0, Buy, 50)
	placeTestOrders(t, book, 100.0, Sell, 100, 90)
	placeTestOrders(t, book, 101.0, Sell, 20)

	// Check sweep match.
	placeTestOrders(t, book, 96.0, Sell, 310)
	assert.Equal(t, []string{"98:10"}, levels(book.Bids()))
	assert.Equal(t, []string{"100:100,90", "101:20"}, levels(book.Asks()))
}

func TestAddOrder_Market_FullMatchAgainstSingleAsk(t *testing.T) {
	_, book := createTestOrderBook()
	placeTestOrders(t, book, 50.0, Sell, 100)

	reports, err := book.AddOrder(marketOrder("taker", "alice", Buy, 100), engine.Reference{})
	require.NoError(t, err)

	// One report per side.
	require.Len(t, reports, 2)
	assert.Equal(t, "taker", reports[0].OrderID)
	assert.Equal(t, Buy, reports[0].Side)
	assert.Equal(t, Sell, reports[1].Side)
	for _, r := range reports {
		assert.Equal(t, int64(100), r.FilledQuantity)
		assert.Equal(t, "50", r.FillPrice.String())
		assert.Equal(t, BookLiquidity, r.Liquidity)
	}

	// Cash flows net to zero.
	assert.True(t, reports[0].CashFlow.Add(reports[1].CashFlow).IsZero())
	assert.Equal(t, "-5000", reports[0].CashFlow.String())

	// Level removed.
	assert.Empty(t, book.Asks())
	_, ok := book.BestAsk()
	assert.False(t, ok)
}

func TestAddOrder_Market_PartialFillAcrossOrders(t *testing.T) {
	_, book := createTestOrderBook()
	placeTestOrders(t, book, 50.0, Sell, 100, 100)

	reports, err := book.AddOrder(marketOrder("taker", "alice", Buy, 150), engine.Reference{})
	require.NoError(t, err)

	assert.Equal(t, int64(150), sumQuantity(reports, "taker"))
	assert.Equal(t, []string{"50:50"}, levels(book.Asks()))
	_, asks := book.Depth()
	assert.Equal(t, int64(50), asks)
	_, nAsks := book.Orders()
	assert.Equal(t, uint64(1), nAsks)
}

func TestAddOrder_Market_NoLiquidity(t *testing.T) {
	_, book := createTestOrderBook()

	// Empty book and no reference.
	reports, err := book.AddOrder(marketOrder("m1", "alice", Buy, 10), engine.Reference{})
	assert.ErrorIs(t, err, ErrNoLiquidity)
	assert.Empty(t, reports)

	// Insufficient depth and no reference leaves the book untouched.
	placeTestOrders(t, book, 50.0, Sell, 5)
	reports, err = book.AddOrder(marketOrder("m2", "alice", Buy, 10), engine.Reference{})
	assert.ErrorIs(t, err, ErrNoLiquidity)
	assert.Empty(t, reports)
	assert.Equal(t, []string{"50:5"}, levels(book.Asks()))
}

func TestAddOrder_Market_ReferenceFill(t *testing.T) {
	_, book := createTestOrderBook()
	ref := engine.Reference{Price: price(42.5), Time: epoch}

	reports, err := book.AddOrder(marketOrder("m1", "alice", Buy, 10), ref)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "42.5", reports[0].FillPrice.String())
	assert.Equal(t, ReferenceLiquidity, reports[0].Liquidity)
	assert.Equal(t, "-425", reports[0].CashFlow.String())
	assert.Equal(t, epoch, reports[0].Timestamp)

	// The book covers what it can, the reference takes the rest.
	placeTestOrders(t, book, 40.0, Sell, 4)
	reports, err = book.AddOrder(marketOrder("m2", "alice", Buy, 10), ref)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, "40", reports[0].FillPrice.String())
	assert.Equal(t, int64(4), reports[0].FilledQuantity)
	assert.Equal(t, "42.5", reports[2].FillPrice.String())
	assert.Equal(t, int64(6), reports[2].FilledQuantity)
	assert.Equal(t, int64(10), sumQuantity(reports, "m2"))
}

func TestAddOrder_Stop(t *testing.T) {
	eng, book := createTestOrderBook()
	stop := Order{
		ID: "s1", Owner: "alice", Symbol: testSymbol, Side: Sell, Type: StopOrder,
		Price: price(95), Quantity: 10, Timestamp: epoch,
	}

	// Above the stop: the order waits.
	reports, err := book.AddOrder(stop, engine.Reference{Price: price(100), Time: epoch})
	require.NoError(t, err)
	assert.Empty(t, reports)
	require.Len(t, book.PendingStops(), 1)

	assert.Empty(t, eng.OnPrice(testSymbol, engine.Reference{Price: price(96), Time: epoch.Add(time.Hour)}))

	// Touching the stop fires it as a market order.
	at := epoch.Add(2 * time.Hour)
	reports = eng.OnPrice(testSymbol, engine.Reference{Price: price(95), Time: at})
	require.Len(t, reports, 1)
	assert.Equal(t, "s1", reports[0].OrderID)
	assert.Equal(t, "95", reports[0].FillPrice.String())
	assert.Equal(t, at, reports[0].Timestamp)
	assert.Empty(t, book.PendingStops())
}

func TestAddOrder_Stop_AlreadyTouched(t *testing.T) {
	_, book := createTestOrderBook()
	stop := Order{
		ID: "s1", Owner: "alice", Symbol: testSymbol, Side: Buy, Type: StopOrder,
		Price: price(100), Quantity: 3, Timestamp: epoch,
	}

	reports, err := book.AddOrder(stop, engine.Reference{Price: price(101), Time: epoch})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "101", reports[0].FillPrice.String())
	assert.Empty(t, book.PendingStops())
}

func TestRealizedPnL_FromAttachedPosition(t *testing.T) {
	eng, book := createTestOrderBook()
	eng.Attach("alice", fixedPosition{testSymbol: {Quantity: 10, AvgPrice: price(50)}})

	reports, err := book.AddOrder(marketOrder("exit", "alice", Sell, 10), engine.Reference{Price: price(60), Time: epoch})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "100", reports[0].RealizedPnL.String())
	assert.Equal(t, "600", reports[0].CashFlow.String())

	// Untracked owners realize nothing.
	reports, err = book.AddOrder(marketOrder("other", "bob", Sell, 10), engine.Reference{Price: price(60), Time: epoch})
	require.NoError(t, err)
	assert.True(t, reports[0].RealizedPnL.IsZero())
}

// Market orders fill exactly their quantity whenever a reference exists,
// and never leave the book crossed.
func TestAddOrder_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		eng := engine.New(testSymbol)
		book := eng.Book(testSymbol)
		ref := engine.Reference{Price: price(100), Time: epoch}

		n := rapid.IntRange(1, 40).Draw(t, "orders")
		for i := range n {
			side := Side(rapid.IntRange(0, 1).Draw(t, "side"))
			qty := rapid.Int64Range(1, 500).Draw(t, "qty")
			order := Order{
				ID: fmt.Sprintf("o%d", i), Owner: "p", Symbol: testSymbol,
				Side: side, Quantity: qty, Timestamp: epoch,
			}
			if rapid.Bool().Draw(t, "market") {
				order.Type = MarketOrder
			} else {
				order.Type = LimitOrder
				order.Price = decimal.NewFromInt(rapid.Int64Range(90, 110).Draw(t, "price"))
			}

			reports, err := book.AddOrder(order, ref)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if order.Type == MarketOrder && sumQuantity(reports, order.ID) != qty {
				t.Fatalf("market order filled %d of %d", sumQuantity(reports, order.ID), qty)
			}

			bid, bidOk := book.BestBid()
			ask, askOk := book.BestAsk()
			if bidOk && askOk && !bid.LessThan(ask) {
				t.Fatalf("book crossed: bid %s ask %s", bid, ask)
			}

			var bidQty, askQty int64
			for _, level := range book.Bids() {
				bidQty += level.Quantity()
			}
			for _, level := range book.Asks() {
				askQty += level.Quantity()
			}
			depthBids, depthAsks := book.Depth()
			if depthBids != bidQty || depthAsks != askQty {
				t.Fatalf("depth %d/%d disagrees with levels %d/%d", depthBids, depthAsks, bidQty, askQty)
			}
		}
	})
}
