package gatewaystub

import (
	"time"

	"github.com/spotex/matchcore/internal/orders"
)

// Submitter is the balance core's inbound queue, as seen by the
// gateway (spec §4.4: "The gateway submits already-validated commands
// ... into the balance core's inbound queue"). Kept as a narrow
// interface so this package has no dependency on internal/eventqueue.
type Submitter interface {
	SubmitOrder(*orders.Order) error
	SubmitCancel(symbolID uint32, orderID uint64) error
	SubmitReduce(symbolID uint32, orderID uint64, delta uint64) error
	SubmitMove(symbolID uint32, orderID uint64, newPrice uint64) error
}

// Gateway performs every check spec §7 assigns to the gateway boundary
// before a command is allowed to consume a seq_id: schema/precision
// checks (via ValidateOrder/ValidateAmount), risk checks, and external
// id assignment, then forwards to the balance core.
type Gateway struct {
	reg  Registry
	risk *RiskChecker
	ids  *IDGenerator
	next Submitter
}

// NewGateway builds a gateway stub wired to a symbol/asset registry, a
// risk checker, an id generator, and the downstream submitter.
func NewGateway(reg Registry, risk *RiskChecker, ids *IDGenerator, next Submitter) *Gateway {
	return &Gateway{reg: reg, risk: risk, ids: ids, next: next}
}

// PlaceOrder validates, risk-checks, assigns external ids, and
// forwards a new order. IngestedAtNs is captured here — at the one
// point the system touches a wall clock for this order — so every
// downstream consumer (matching's trade timestamps, replay) can treat
// it as a deterministic input instead of calling time.Now() itself.
func (g *Gateway) PlaceOrder(o *orders.Order) error {
	o.OrderID = g.ids.NextOrderID()
	if o.ClientID == "" {
		o.ClientID = g.ids.NextClientID()
	}
	o.IngestedAtNs = uint64(time.Now().UnixNano())

	if err := ValidateOrder(o, g.reg); err != nil {
		return err
	}
	if err := g.risk.Check(o); err != nil {
		return err
	}
	return g.next.SubmitOrder(o)
}

// CancelOrder forwards a cancel. Spec §7: "Cancel/Reduce/Move on
// unknown or terminal order" is a silent no-op resolved downstream,
// not at the gateway — the gateway has no book state to check against.
func (g *Gateway) CancelOrder(symbolID uint32, orderID uint64) error {
	return g.next.SubmitCancel(symbolID, orderID)
}

// ReduceOrder forwards a reduce.
func (g *Gateway) ReduceOrder(symbolID uint32, orderID uint64, delta uint64) error {
	if delta == 0 {
		return reject(CodeZeroQuantity, "reduce delta must be positive")
	}
	return g.next.SubmitReduce(symbolID, orderID, delta)
}

// MoveOrder forwards a move.
func (g *Gateway) MoveOrder(symbolID uint32, orderID uint64, newPrice uint64) error {
	if newPrice == 0 {
		return reject(CodeZeroPrice, "move target price must be positive")
	}
	return g.next.SubmitMove(symbolID, orderID, newPrice)
}
