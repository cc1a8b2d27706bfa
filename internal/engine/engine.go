package engine

import (
	. "huginn/internal/common"
	"huginn/internal/ledger"
)

// This is the main matching engine. It owns one order book per symbol
// and routes orders to them.

// PositionReader is a read-only view of one owner's positions. The engine
// uses it to price the pnl each fill realizes; it never writes through it.
type PositionReader interface {
	Position(symbol string) ledger.Position
}

type Engine struct {
	Books   map[string]*OrderBook
	readers map[string]PositionReader
}

func New(symbols ...string) *Engine {
	engine := &Engine{
		Books:   make(map[string]*OrderBook),
		readers: make(map[string]PositionReader),
	}

	for _, symbol := range symbols {
		engine.Books[symbol] = NewOrderBook(engine, symbol)
	}

	return engine
}

// Attach registers the position view of owner. Fills of orders whose
// owner has no view realize zero pnl.
func (engine *Engine) Attach(owner string, reader PositionReader) {
	engine.readers[owner] = reader
}

// Book returns the book for symbol, creating an empty one on first use.
func (engine *Engine) Book(symbol string) *OrderBook {
	book, ok := engine.Books[symbol]
	if !ok {
		book = NewOrderBook(engine, symbol)
		engine.Books[symbol] = book
	}
	return book
}

// PlaceOrder routes the order to its symbol's book.
func (engine *Engine) PlaceOrder(order Order, ref Reference) ([]ExecutionReport, error) {
	return engine.Book(order.Symbol).AddOrder(order, ref)
}

// OnPrice moves the reference price of symbol, firing any stop orders
// it touches.
func (engine *Engine) OnPrice(symbol string, ref Reference) []ExecutionReport {
	return engine.Book(symbol).OnPrice(ref)
}

func (engine *Engine) position(owner, symbol string) (ledger.Position, bool) {
	reader, ok := engine.readers[owner]
	if !ok || reader == nil {
		return ledger.Position{}, false
	}
	return reader.Position(symbol), true
}
