// Package oms validates orders, stamps them, tracks their lifecycle status
// and forwards accepted orders to the matching engine. It holds no
// matching logic of its own.
package oms

import (
	"fmt"
	"time"

	. "huginn/internal/common"
	"huginn/internal/engine"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Router is the matching engine an accepted order is forwarded to.
type Router interface {
	PlaceOrder(order Order, ref engine.Reference) ([]ExecutionReport, error)
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// Ack is returned for every accepted order.
type Ack struct {
	OrderID   string
	Status    OrderStatus
	Timestamp time.Time
	Reports   []ExecutionReport
}

type record struct {
	order  Order
	status OrderStatus
	filled int64
}

type OMS struct {
	router Router
	clock  Clock
	orders map[string]*record
}

// New builds an OMS forwarding to router. A nil router only validates
// and records orders.
func New(router Router, clock Clock) *OMS {
	if clock == nil {
		clock = RealClock{}
	}
	return &OMS{
		router: router,
		clock:  clock,
		orders: make(map[string]*record),
	}
}

// Submit validates the order and, once accepted, forwards it to the
// router together with the reference price of the bar it belongs to.
//
// An empty id is replaced by a fresh UUID and a zero timestamp by the
// clock; a caller supplied timestamp is kept as is so replays stay
// deterministic. Invalid orders are recorded as Rejected and never reach
// the router.
func (oms *OMS) Submit(order Order, ref engine.Reference) (Ack, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if _, ok := oms.orders[order.ID]; ok {
		return Ack{}, &DuplicateOrderError{OrderID: order.ID}
	}

	if err := order.Validate(); err != nil {
		oms.orders[order.ID] = &record{order: order, status: Rejected}
		log.Warn().Err(err).Str("order", order.ID).Msg("order rejected")
		return Ack{}, err
	}

	if order.Timestamp.IsZero() {
		order.Timestamp = oms.clock.Now()
	}
	oms.orders[order.ID] = &record{order: order, status: Accepted}

	ack := Ack{
		OrderID:   order.ID,
		Status:    Accepted,
		Timestamp: order.Timestamp,
	}
	if oms.router == nil {
		return ack, nil
	}

	reports, err := oms.router.PlaceOrder(order, ref)
	if err != nil {
		return ack, fmt.Errorf("routing order %s: %w", order.ID, err)
	}
	for _, report := range reports {
		oms.apply(report)
	}
	ack.Reports = reports
	return ack, nil
}

// Apply moves the status of a recorded order forward from a report the
// engine produced outside of Submit, such as a triggered stop.
func (oms *OMS) Apply(reports ...ExecutionReport) {
	for _, report := range reports {
		oms.apply(report)
	}
}

func (oms *OMS) apply(report ExecutionReport) {
	rec, ok := oms.orders[report.OrderID]
	if !ok || rec.status.Terminal() {
		return
	}
	rec.filled += report.FilledQuantity
	if rec.filled >= rec.order.Quantity {
		rec.status = Filled
	} else {
		rec.status = PartiallyFilled
	}
}

// Status returns the lifecycle status of a recorded order.
func (oms *OMS) Status(id string) (OrderStatus, bool) {
	rec, ok := oms.orders[id]
	if !ok {
		return StatusNew, false
	}
	return rec.status, true
}

// Order returns the recorded order as accepted.
func (oms *OMS) Order(id string) (Order, bool) {
	rec, ok := oms.orders[id]
	if !ok {
		return Order{}, false
	}
	return rec.order, true
}

// Filled returns the quantity filled so far for a recorded order.
func (oms *OMS) Filled(id string) int64 {
	if rec, ok := oms.orders[id]; ok {
		return rec.filled
	}
	return 0
}
