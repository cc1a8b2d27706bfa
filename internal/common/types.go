package common

import "fmt"

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	if s == Sell {
		return -1
	}
	return 1
}

// Opposite returns the side a resting counter-order sits on.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return fmt.Sprintf("side(%d)", int(s))
}

func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "BUY", "Buy":
		return Buy, nil
	case "sell", "SELL", "Sell":
		return Sell, nil
	}
	return Side(-1), NewValidationError("side", fmt.Sprintf("unknown side %q", s))
}

type OrderType int

const (
	// Market orders are instructions to buy or sell immediately.
	// Against an empty book they fill at the reference price of the
	// bar being replayed.
	MarketOrder OrderType = iota
	// Limit orders are an order to buy or sell at a specified price or
	// better. Limit orders may rest on the order book until filled.
	LimitOrder
	// Stop orders are held un-matchable until the reference price
	// touches the stop price, then execute as a market order.
	StopOrder
)

func (t OrderType) Valid() bool {
	return t == MarketOrder || t == LimitOrder || t == StopOrder
}

// RequiresPrice reports whether the type carries a limit or stop price.
func (t OrderType) RequiresPrice() bool {
	return t == LimitOrder || t == StopOrder
}

func (t OrderType) String() string {
	switch t {
	case MarketOrder:
		return "market"
	case LimitOrder:
		return "limit"
	case StopOrder:
		return "stop"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

func ParseOrderType(s string) (OrderType, error) {
	switch s {
	case "market", "MARKET":
		return MarketOrder, nil
	case "limit", "LIMIT":
		return LimitOrder, nil
	case "stop", "STOP":
		return StopOrder, nil
	}
	return OrderType(-1), NewValidationError("type", fmt.Sprintf("unknown order type %q", s))
}

// OrderStatus is the lifecycle state the OMS keeps next to every order.
//
//	StatusNew -> Accepted -> PartiallyFilled -> Filled
//	StatusNew -> Accepted -> Filled
//	StatusNew -> Rejected
type OrderStatus int

const (
	StatusNew OrderStatus = iota
	Accepted
	PartiallyFilled
	Filled
	Rejected
)

func (s OrderStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case Accepted:
		return "accepted"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Rejected
}

// Liquidity records where a fill came from.
type Liquidity int

const (
	// BookLiquidity fills matched a resting counter-order.
	BookLiquidity Liquidity = iota
	// ReferenceLiquidity fills were priced at the replayed bar's
	// reference price because the opposite side of the book was empty.
	ReferenceLiquidity
)

func (l Liquidity) String() string {
	if l == ReferenceLiquidity {
		return "reference"
	}
	return "book"
}

func ParseLiquidity(s string) (Liquidity, error) {
	switch s {
	case "book":
		return BookLiquidity, nil
	case "reference":
		return ReferenceLiquidity, nil
	}
	return 0, NewValidationError("liquidity", fmt.Sprintf("unknown liquidity %q", s))
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(text []byte) (err error) {
	*s, err = ParseSide(string(text))
	return err
}

func (l Liquidity) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Liquidity) UnmarshalText(text []byte) (err error) {
	*l, err = ParseLiquidity(string(text))
	return err
}
