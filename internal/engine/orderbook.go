package engine

import (
	"time"

	. "huginn/internal/common"
	"huginn/internal/ledger"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// Reference is the last known trade price of the bar being replayed. It
// stands in for a live quote: market orders facing an empty book fill at
// it, and stop orders trigger against it. A zero Price means no reference.
type Reference struct {
	Price decimal.Decimal
	Time  time.Time
}

func (ref Reference) Valid() bool {
	return ref.Price.IsPositive()
}

// restingOrder is the book's own entry for an accepted order. The order
// itself is never modified; only the remaining quantity moves.
type restingOrder struct {
	order     Order
	remaining int64
	seq       uint64 // Arrival sequence into the book
}

type PriceLevel struct {
	priceLevel decimal.Decimal
	orders     []*restingOrder
}

type PriceLevels = btree.BTreeG[*PriceLevel]

type OrderBook struct {
	// Pointer to the owning engine.
	engine *Engine
	symbol string

	// Price levels to orders sat on the price level, sorted by time added
	// as they will be push-back'd.
	bids *PriceLevels
	asks *PriceLevels

	// Stop orders waiting for the reference price, in arrival order.
	stops []*restingOrder

	reference Reference
	seq       uint64

	// Some book keeping
	nBuyOrders   uint64 // Track the number of bids in the book.
	nSellOrders  uint64 // Track the number of asks in the book.
	buyQuantity  int64  // Track the bid-side liquidity of the book.
	sellQuantity int64  // Track the ask-side liquidity of the book.
}

func NewOrderBook(engine *Engine, symbol string) *OrderBook {
	// Sorted greatest first.
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.priceLevel.GreaterThan(b.priceLevel)
	})
	// Sorted least first.
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.priceLevel.LessThan(b.priceLevel)
	})
	return &OrderBook{
		engine: engine,
		symbol: symbol,
		bids:   bids,
		asks:   asks,
	}
}

func (book *OrderBook) Symbol() string { return book.symbol }

// AddOrder places a new order which can either (fully or partially):
// 1. Execute immediately
// 2. Rest in the book
// 3. Wait for its stop price
// Returns the execution reports of every fill it caused, empty when the
// order only rested.
//
// ref is the reference price of the bar the order arrives on. Pending
// stops are re-checked against it once the incoming order is handled.
func (book *OrderBook) AddOrder(order Order, ref Reference) ([]ExecutionReport, error) {
	if ref.Valid() {
		book.reference = ref
	}

	entry := &restingOrder{order: order, remaining: order.Quantity, seq: book.nextSeq()}
	exec := book.newExecution(order.Timestamp)

	var err error
	switch order.Type {
	case LimitOrder:
		book.handleLimit(exec, entry)
	case MarketOrder:
		err = book.handleMarket(exec, entry, ref)
	case StopOrder:
		err = book.handleStop(exec, entry, ref)
	}
	if err != nil {
		return nil, err
	}

	if ref.Valid() {
		book.triggerStops(exec, ref)
	}
	return exec.reports, nil
}

// OnPrice moves the book's reference price and executes every pending
// stop it touches, in arrival order.
func (book *OrderBook) OnPrice(ref Reference) []ExecutionReport {
	if !ref.Valid() {
		return nil
	}
	book.reference = ref
	exec := book.newExecution(ref.Time)
	book.triggerStops(exec, ref)
	return exec.reports
}

// handleStop parks a stop order until the reference price reaches its
// stop, or fires it right away when the current reference already has.
func (book *OrderBook) handleStop(exec *execution, entry *restingOrder, ref Reference) error {
	if ref.Valid() && stopTouched(entry.order, ref.Price) {
		return book.handleMarket(exec, entry, ref)
	}
	book.stops = append(book.stops, entry)
	log.Debug().
		Str("symbol", book.symbol).
		Str("order", entry.order.ID).
		Str("stop", entry.order.Price.String()).
		Msg("stop order pending")
	return nil
}

func (book *OrderBook) triggerStops(exec *execution, ref Reference) {
	if len(book.stops) == 0 {
		return
	}
	pending := book.stops[:0]
	var fired []*restingOrder
	for _, stop := range book.stops {
		if stopTouched(stop.order, ref.Price) {
			fired = append(fired, stop)
		} else {
			pending = append(pending, stop)
		}
	}
	book.stops = pending

	for _, stop := range fired {
		log.Debug().
			Str("symbol", book.symbol).
			Str("order", stop.order.ID).
			Str("reference", ref.Price.String()).
			Msg("stop order triggered")
		if err := book.handleMarket(exec, stop, ref); err != nil {
			// Keep it pending for the next reference.
			log.Error().
				Err(err).
				Str("symbol", book.symbol).
				Str("order", stop.order.ID).
				Msg("triggered stop not executed")
			book.stops = append(book.stops, stop)
		}
	}
}

// stopTouched reports whether price has touched or crossed the order's
// stop: buy stops trigger at or above, sell stops at or below.
func stopTouched(order Order, price decimal.Decimal) bool {
	if order.Side == Buy {
		return price.GreaterThanOrEqual(order.Price)
	}
	return price.LessThanOrEqual(order.Price)
}

// Match consumes the top of book price levels while they cross (i.e., bid >= ask).
// While these orders cross, we match orders in price-time-priority.
//
// The order that triggered the matching, if there is a cross, is considered to be
// a liquidity taker and trades at the resting maker's price.
//
// NOTE: There will only be a matching, if the new order's limit price is top of book.
// Otherwise, we would have a stable state.
func (book *OrderBook) match(exec *execution) {
	// Consume crossing orders. This will essentially be our latest order sweeping
	// across priceLevels as far as its depth and liquidity go.
	for {
		bestBid, bidOk := book.bids.MinMut()
		bestAsk, askOk := book.asks.MinMut()

		// If either side is empty, or prices don't cross, we are done.
		if !bidOk || !askOk || bestBid.priceLevel.LessThan(bestAsk.priceLevel) {
			break
		}

		// While there are still orders on either side, move forward on the orders.
		var aIdx, bIdx int
		for aIdx < len(bestAsk.orders) && bIdx < len(bestBid.orders) {
			askOrder := bestAsk.orders[aIdx]
			bidOrder := bestBid.orders[bIdx]

			matchQty := min(askOrder.remaining, bidOrder.remaining)
			askOrder.remaining -= matchQty
			bidOrder.remaining -= matchQty
			book.sellQuantity -= matchQty
			book.buyQuantity -= matchQty

			// Taker and maker is decided by arrival into the book. The earlier
			// order must be resting and sets the trade price.
			if askOrder.seq > bidOrder.seq {
				exec.trade(askOrder, bidOrder, matchQty, bestBid.priceLevel)
			} else {
				exec.trade(bidOrder, askOrder, matchQty, bestAsk.priceLevel)
			}

			// Move forward
			if askOrder.remaining == 0 {
				aIdx++
				book.nSellOrders--
			}
			if bidOrder.remaining == 0 {
				bIdx++
				book.nBuyOrders--
			}
		}

		// If we are here, done one or more of the following:
		// 1. We have partially or fully consumed a price level.
		// 2. We have depleted the remaining order quantity (i.e. no more matches).
		//
		// Case 2 is handled on the re-loop. We handle case 1.
		if aIdx > 0 {
			bestAsk.orders = bestAsk.orders[aIdx:]
		}
		if bIdx > 0 {
			bestBid.orders = bestBid.orders[bIdx:]
		}
		// Full consumption cases (i.e. empty levels).
		if len(bestAsk.orders) == 0 {
			book.asks.Delete(bestAsk)
		}
		if len(bestBid.orders) == 0 {
			book.bids.Delete(bestBid)
		}
	}
}

// handleMarket handles a market order. Performs a sweep on the opposite side
// until volume is filled; whatever the book cannot cover fills at the
// reference price. Market orders are always liquidity takers and never rest.
func (book *OrderBook) handleMarket(exec *execution, entry *restingOrder, ref Reference) error {
	var levels *PriceLevels
	var available int64
	switch entry.order.Side {
	case Buy:
		levels, available = book.asks, book.sellQuantity
	case Sell:
		levels, available = book.bids, book.buyQuantity
	}

	// Sanity check before touching the book, so a rejected order leaves
	// no partial state behind.
	if available < entry.remaining && !ref.Valid() {
		return ErrNoLiquidity
	}

	// While liquidity left sweep the order book. Keep track of the number of orders
	// we lifted off the book during the sweep for book keeping.
	liftedOrders := uint64(0)
	swept := int64(0)
	for entry.remaining > 0 {
		// Min here accounts for bids and asks being in inverse order, based on their
		// comparison method.
		level, ok := levels.MinMut()
		if !ok {
			break
		}

		consumed := 0
		for _, restingOrder := range level.orders {
			matchQty := min(entry.remaining, restingOrder.remaining)
			entry.remaining -= matchQty
			restingOrder.remaining -= matchQty
			swept += matchQty

			// Consume order as much as possible and book trade, passing
			// the taker and maker.
			exec.trade(entry, restingOrder, matchQty, level.priceLevel)

			if restingOrder.remaining == 0 {
				consumed++
				liftedOrders++
			}

			// Break out if we have filled the liquidity quota
			if entry.remaining == 0 {
				break
			}
		}

		// Slice off the consumed orders, dropping the level once empty.
		if consumed == len(level.orders) {
			levels.Delete(level)
		} else {
			level.orders = level.orders[consumed:]
		}
	}

	// Bookkeeping
	switch entry.order.Side {
	case Buy:
		book.sellQuantity -= swept
		book.nSellOrders -= liftedOrders
	case Sell:
		book.buyQuantity -= swept
		book.nBuyOrders -= liftedOrders
	}

	// The book is exhausted: the remainder trades at the reference price.
	if entry.remaining > 0 {
		exec.fill(entry.order, entry.remaining, ref.Price, ReferenceLiquidity)
		entry.remaining = 0
	}
	return nil
}

// handleLimit handles a limit order. The order is placed at the price level specified
// (tick size handling is assumed to have already been done). This method triggers a
// "matching", which checks for any crossing pairs of orders, which are matched away.
func (book *OrderBook) handleLimit(exec *execution, entry *restingOrder) {
	// Limit orders are placed on the same side as their order.Side. This is because
	// they are resting.
	var levels *PriceLevels
	switch entry.order.Side {
	case Buy:
		levels = book.bids
		book.nBuyOrders++
		book.buyQuantity += entry.remaining
	case Sell:
		levels = book.asks
		book.nSellOrders++
		book.sellQuantity += entry.remaining
	}

	// Levels comparator only accounts for price levels, so we create a dummy price
	// level for the search.
	level, ok := levels.GetMut(&PriceLevel{priceLevel: entry.order.Price})
	if ok {
		// If the price level already exists, just append onto the existing orders.
		level.orders = append(level.orders, entry)
	} else {
		// Otherwise, if the price level does not exist, create the price level.
		levels.Set(&PriceLevel{
			priceLevel: entry.order.Price,
			orders:     []*restingOrder{entry},
		})
	}

	// Trigger the matching.
	book.match(exec)
}

func (book *OrderBook) nextSeq() uint64 {
	book.seq++
	return book.seq
}

// execution collects the reports of one book event. Positions are read
// from the owners' views once and then advanced locally, so several
// fills of the same owner within one event realize pnl in sequence.
type execution struct {
	book      *OrderBook
	at        time.Time
	positions map[string]ledger.Position
	tracked   map[string]bool
	reports   []ExecutionReport
}

func (book *OrderBook) newExecution(at time.Time) *execution {
	if at.IsZero() {
		at = book.reference.Time
	}
	return &execution{
		book:      book,
		at:        at,
		positions: make(map[string]ledger.Position),
		tracked:   make(map[string]bool),
	}
}

// trade records a book match between the taker and the resting maker:
// one report per side at the maker's price.
func (exec *execution) trade(taker, maker *restingOrder, quantity int64, price decimal.Decimal) {
	exec.fill(taker.order, quantity, price, BookLiquidity)
	exec.fill(maker.order, quantity, price, BookLiquidity)
}

func (exec *execution) fill(order Order, quantity int64, price decimal.Decimal, liquidity Liquidity) {
	owner := order.Owner
	position, seen := exec.positions[owner]
	if !seen {
		var tracked bool
		position, tracked = exec.book.engine.position(owner, exec.book.symbol)
		exec.tracked[owner] = tracked
	}

	realized := decimal.Zero
	next, pnl := position.Apply(order.Side.Sign()*quantity, price)
	if exec.tracked[owner] {
		realized = pnl
	}
	exec.positions[owner] = next

	notional := price.Mul(decimal.NewFromInt(quantity))
	cashFlow := notional
	if order.Side == Buy {
		cashFlow = notional.Neg()
	}

	exec.reports = append(exec.reports, ExecutionReport{
		OrderID:        order.ID,
		Owner:          owner,
		Symbol:         order.Symbol,
		Side:           order.Side,
		FilledQuantity: quantity,
		FillPrice:      price,
		Timestamp:      exec.at,
		RealizedPnL:    realized,
		CashFlow:       cashFlow,
		Fee:            decimal.Zero,
		Liquidity:      liquidity,
	})
}
