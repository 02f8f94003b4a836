// Package orders defines the core order types shared by the matching
// engine and the order book: the state machine, side/type/time-in-force
// enums, and the scaled-uint64 Order/Fill records that flow through the
// WAL and the replay protocol.
//
// Fields are kept fixed-width and pointer-free (besides the optional
// client id) to minimize GC pressure per order, and every order
// carries its own seq_id/ingested_at_ns so that replaying a command
// never depends on wall-clock or goroutine-scheduling order.
package orders

import "fmt"

// Side is the side of an order (buy or sell).
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Type is the order type. Fill-or-kill is out of scope here: only
// Limit and Market orders exist; time-in-force (GTC/IOC) is orthogonal
// and carried separately in TIF.
type Type uint8

const (
	TypeLimit Type = iota
	TypeMarket
)

func (t Type) String() string {
	switch t {
	case TypeLimit:
		return "LIMIT"
	case TypeMarket:
		return "MARKET"
	default:
		return "UNKNOWN"
	}
}

// TIF is the time-in-force. A Market order always behaves as IOC (any
// unfilled remainder expires) regardless of what TIF it carries; GTC
// only has meaning for Limit orders.
type TIF uint8

const (
	TIFGTC TIF = iota
	TIFIOC
)

func (t TIF) String() string {
	switch t {
	case TIFGTC:
		return "GTC"
	case TIFIOC:
		return "IOC"
	default:
		return "UNKNOWN"
	}
}

// Status is an order's current state: New -> PartiallyFilled -> Filled,
// or -> Canceled, or -> Expired for an IOC/Market remainder.
// Rejections happen before an Order is ever constructed — gatewaystub
// rejects invalid commands before they reach the WAL — so there is no
// Rejected state here.
type Status uint8

const (
	StatusNew Status = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCanceled
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCanceled:
		return "CANCELED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether status can never change again.
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusExpired
}

// Order is a single order resting in, or passing through, the matching
// engine. Price and Qty are scaled uint64 amounts (internal/amount);
// the scale itself lives in the symbol's asset metadata, not here.
type Order struct {
	OrderID      uint64
	UserID       uint64
	SymbolID     uint32
	Side         Side
	Type         Type
	TIF          TIF
	Price        uint64 // ignored when Type == TypeMarket
	Qty          uint64
	FilledQty    uint64
	Status       Status
	SeqID        uint64 // WAL seq_id this order was admitted under
	IngestedAtNs uint64
	ClientID     string // optional, caller-supplied
}

// RemainingQty returns the unfilled quantity.
func (o *Order) RemainingQty() uint64 {
	return o.Qty - o.FilledQty
}

// IsFilled reports whether the order has been completely filled.
func (o *Order) IsFilled() bool {
	return o.FilledQty >= o.Qty
}

// IsActive reports whether the order can still be matched or mutated.
func (o *Order) IsActive() bool {
	return o.Status == StatusNew || o.Status == StatusPartiallyFilled
}

func (o *Order) String() string {
	return fmt.Sprintf("Order{ID:%d, %s symbol=%d qty=%d/%d status=%s}",
		o.OrderID, o.Side, o.SymbolID, o.FilledQty, o.Qty, o.Status)
}

// Fill is a single execution between a resting (maker) order and an
// incoming (taker) order, produced by the matching engine for every
// resting order the taker matches against, so a crossed level with
// several resting orders yields several fills. Fees are not computed here — the balance ledger
// derives them from each side's VIP tier at settlement time.
type Fill struct {
	TradeID      uint64
	SymbolID     uint32
	Price        uint64 // always the maker's price (spec §4.4)
	Qty          uint64
	MakerOrderID uint64
	TakerOrderID uint64
	MakerUser    uint64
	TakerUser    uint64
	TsNs         uint64
}

// Result is the outcome of processing one command against the engine.
type Result struct {
	Order      *Order
	Fills      []Fill
	Accepted   bool
	RejectMsg  string
	RestingQty uint64 // quantity that ended up resting in the book, if any
}
