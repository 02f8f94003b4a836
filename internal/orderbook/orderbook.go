package orderbook

import (
	"fmt"
	"strings"

	"github.com/spotex/matchcore/internal/orders"
)

// OrderBook maintains the buy (bid) and sell (ask) sides of the market
// for one symbol.
//
//	                    OrderBook
//	                        |
//	       +----------------+----------------+
//	       |                                 |
//	    Bids (RBTree)                   Asks (RBTree)
//	    descending=true                 descending=false
//	       |                                 |
//	    PriceLevel                       PriceLevel
//	    (sorted high->low)                (sorted low->high)
//	       |                                 |
//	    OrderQueue                       OrderQueue
//	    (FIFO linked list)               (FIFO linked list)
//
// Two red-black trees give O(1) best-bid/best-ask via cached min/max
// pointers and O(log P) insert/delete where P is the number of distinct
// price levels; an order-id index gives O(1) cancel/reduce/move.
type OrderBook struct {
	symbolID uint32
	bids     *RBTree // buy orders, price descending
	asks     *RBTree // sell orders, price ascending
	orders   map[uint64]*OrderNode
}

// NewOrderBook creates a new order book for the given symbol.
func NewOrderBook(symbolID uint32) *OrderBook {
	return &OrderBook{
		symbolID: symbolID,
		bids:     NewRBTree(true),
		asks:     NewRBTree(false),
		orders:   make(map[uint64]*OrderNode),
	}
}

// SymbolID returns the symbol this order book is for.
func (ob *OrderBook) SymbolID() uint32 {
	return ob.symbolID
}

// AddOrder adds an order to the appropriate side of the book. Returns
// an error if the order already exists in this book.
func (ob *OrderBook) AddOrder(order *orders.Order) error {
	if _, exists := ob.orders[order.OrderID]; exists {
		return fmt.Errorf("order %d already exists", order.OrderID)
	}

	tree := ob.getTree(order.Side)
	level := tree.Get(order.Price)
	if level == nil {
		level = NewPriceLevel(order.Price)
		tree.Insert(level)
	}

	node := level.Append(order)
	ob.orders[order.OrderID] = node
	return nil
}

// CancelOrder removes an order from the book, returning it, or nil if
// it was not found (a silent no-op per spec §4.4).
func (ob *OrderBook) CancelOrder(orderID uint64) *orders.Order {
	node, exists := ob.orders[orderID]
	if !exists {
		return nil
	}

	order := node.Order
	level := node.level
	tree := ob.getTree(order.Side)

	level.Remove(node)
	delete(ob.orders, orderID)

	if level.IsEmpty() {
		tree.Delete(level.Price)
	}

	return order
}

// GetOrder retrieves a resting order by id, or nil if not found.
func (ob *OrderBook) GetOrder(orderID uint64) *orders.Order {
	node, exists := ob.orders[orderID]
	if !exists {
		return nil
	}
	return node.Order
}

// GetBestBid returns the highest bid price level, or nil if no bids.
func (ob *OrderBook) GetBestBid() *PriceLevel {
	return ob.bids.Min()
}

// GetBestAsk returns the lowest ask price level, or nil if no asks.
func (ob *OrderBook) GetBestAsk() *PriceLevel {
	return ob.asks.Min()
}

// GetSpread returns ask - bid, or 0 if either side is empty. Since
// prices are unsigned, callers must check both sides are non-empty
// before trusting a zero spread as meaningful.
func (ob *OrderBook) GetSpread() uint64 {
	bestBid := ob.GetBestBid()
	bestAsk := ob.GetBestAsk()
	if bestBid == nil || bestAsk == nil {
		return 0
	}
	return bestAsk.Price - bestBid.Price
}

// BidLevels returns the number of distinct bid price levels.
func (ob *OrderBook) BidLevels() int {
	return ob.bids.Size()
}

// AskLevels returns the number of distinct ask price levels.
func (ob *OrderBook) AskLevels() int {
	return ob.asks.Size()
}

// TotalOrders returns the total number of resting orders in the book.
func (ob *OrderBook) TotalOrders() int {
	return len(ob.orders)
}

// GetBidDepth returns the top N bid price levels (0 means all).
func (ob *OrderBook) GetBidDepth(levels int) []*PriceLevel {
	return ob.getDepth(ob.bids, levels)
}

// GetAskDepth returns the top N ask price levels (0 means all).
func (ob *OrderBook) GetAskDepth(levels int) []*PriceLevel {
	return ob.getDepth(ob.asks, levels)
}

func (ob *OrderBook) getDepth(tree *RBTree, maxLevels int) []*PriceLevel {
	result := make([]*PriceLevel, 0)
	count := 0
	tree.ForEach(func(level *PriceLevel) bool {
		result = append(result, level)
		count++
		if maxLevels > 0 && count >= maxLevels {
			return false
		}
		return true
	})
	return result
}

// ReduceOrder decreases a resting order's remaining quantity by delta,
// preserving its queue position (spec §4.4 Reduce). Over-reduce is
// clamped to the remaining quantity; if the remainder reaches zero the
// order is removed from the book and the caller is told so it can mark
// the order Canceled. Returns (found, removed).
func (ob *OrderBook) ReduceOrder(orderID uint64, delta uint64) (found bool, removed bool) {
	node, exists := ob.orders[orderID]
	if !exists {
		return false, false
	}

	order := node.Order
	remaining := order.RemainingQty()
	if delta > remaining {
		delta = remaining
	}

	order.Qty -= delta
	node.level.ReduceQuantity(delta)

	if order.RemainingQty() == 0 {
		ob.CancelOrder(orderID)
		return true, true
	}
	return true, false
}

// ApplyFill records a fill against a resting maker order: increases its
// FilledQty, updates price-level bookkeeping, and removes it from the
// book if fully filled.
func (ob *OrderBook) ApplyFill(orderID uint64, fillQty uint64) {
	node, exists := ob.orders[orderID]
	if !exists {
		return
	}

	order := node.Order
	order.FilledQty += fillQty

	if order.IsFilled() {
		order.Status = orders.StatusFilled
		ob.CancelOrder(orderID)
	} else {
		order.Status = orders.StatusPartiallyFilled
		node.level.ReduceQuantity(fillQty)
	}
}

// AllOrders returns every resting order in the book, bids then asks,
// each side in price-then-FIFO order. Used by the matching service's
// snapshotter to serialize book state (spec §4.2/§6.3); not on any
// matching hot path.
func (ob *OrderBook) AllOrders() []*orders.Order {
	result := make([]*orders.Order, 0, len(ob.orders))
	for _, level := range ob.GetBidDepth(0) {
		result = append(result, level.Orders()...)
	}
	for _, level := range ob.GetAskDepth(0) {
		result = append(result, level.Orders()...)
	}
	return result
}

// getTree returns the appropriate tree for the given side.
func (ob *OrderBook) getTree(side orders.Side) *RBTree {
	if side == orders.SideBuy {
		return ob.bids
	}
	return ob.asks
}

// String returns a human-readable representation of the book (top 5
// levels each side), for debugging/ops tooling only.
func (ob *OrderBook) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== symbol %d order book ===\n", ob.symbolID)

	asks := ob.GetAskDepth(5)
	sb.WriteString("ASKS:\n")
	for i := len(asks) - 1; i >= 0; i-- {
		level := asks[i]
		fmt.Fprintf(&sb, "  %d: %d qty (%d orders)\n", level.Price, level.TotalQty, level.Count())
	}

	spread := ob.GetSpread()
	fmt.Fprintf(&sb, "--- spread: %d ---\n", spread)

	bids := ob.GetBidDepth(5)
	sb.WriteString("BIDS:\n")
	for _, level := range bids {
		fmt.Fprintf(&sb, "  %d: %d qty (%d orders)\n", level.Price, level.TotalQty, level.Count())
	}

	return sb.String()
}
