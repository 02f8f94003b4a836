// Package orderbook implements the limit order book data structure.
//
// The order book maintains buy (bid) and sell (ask) orders organized by
// price. At each price level, orders are stored in a FIFO queue to
// implement price-time priority matching.
package orderbook

import (
	"github.com/spotex/matchcore/internal/orders"
)

// OrderNode is a node in the doubly-linked list of orders at a price
// level. A doubly-linked list enables O(1) removal from anywhere in the
// queue, which Cancel/Reduce/Move all depend on.
type OrderNode struct {
	Order *orders.Order
	prev  *OrderNode
	next  *OrderNode
	level *PriceLevel // back-pointer for O(1) removal
}

// Next returns the next node in the queue.
func (n *OrderNode) Next() *OrderNode {
	return n.next
}

// PriceLevel represents all orders at a single scaled price point.
//
//	Price Level 15025 (scale depends on symbol):
//	  Head -> [Order1: 100] <-> [Order2: 50] <-> [Order3: 75] <- Tail
//	  TotalQty: 225
type PriceLevel struct {
	Price    uint64
	head     *OrderNode
	tail     *OrderNode
	count    int
	TotalQty uint64 // sum of all resting quantities, for O(1) depth queries
}

// NewPriceLevel creates a new empty price level.
func NewPriceLevel(price uint64) *PriceLevel {
	return &PriceLevel{Price: price}
}

// Count returns the number of orders at this price level.
func (pl *PriceLevel) Count() int {
	return pl.count
}

// IsEmpty returns true if there are no orders at this level.
func (pl *PriceLevel) IsEmpty() bool {
	return pl.count == 0
}

// Head returns the first order node (highest priority).
func (pl *PriceLevel) Head() *OrderNode {
	return pl.head
}

// Append adds an order to the end of the queue (lowest priority at this
// price). Returns the OrderNode for O(1) cancellation later.
func (pl *PriceLevel) Append(order *orders.Order) *OrderNode {
	node := &OrderNode{Order: order, level: pl}

	if pl.tail == nil {
		pl.head = node
		pl.tail = node
	} else {
		node.prev = pl.tail
		pl.tail.next = node
		pl.tail = node
	}

	pl.count++
	pl.TotalQty += order.RemainingQty()
	return node
}

// Remove removes a node from the queue in O(1).
func (pl *PriceLevel) Remove(node *OrderNode) {
	if node == nil {
		return
	}

	pl.TotalQty -= node.Order.RemainingQty()
	pl.count--

	if node.prev != nil {
		node.prev.next = node.next
	} else {
		pl.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		pl.tail = node.prev
	}

	node.prev = nil
	node.next = nil
	node.level = nil
}

// PopFront removes and returns the first order (highest priority), or
// nil if the level is empty.
func (pl *PriceLevel) PopFront() *orders.Order {
	if pl.head == nil {
		return nil
	}

	node := pl.head
	order := node.Order

	pl.TotalQty -= order.RemainingQty()
	pl.count--

	pl.head = node.next
	if pl.head != nil {
		pl.head.prev = nil
	} else {
		pl.tail = nil
	}

	node.next = nil
	node.level = nil

	return order
}

// ReduceQuantity lowers TotalQty by delta, keeping queue position
// intact — used by a partial fill and by the Reduce command.
func (pl *PriceLevel) ReduceQuantity(delta uint64) {
	pl.TotalQty -= delta
}

// Orders returns a slice of all orders at this level (for debugging/
// snapshots). Allocates; use sparingly on a hot path.
func (pl *PriceLevel) Orders() []*orders.Order {
	result := make([]*orders.Order, 0, pl.count)
	for node := pl.head; node != nil; node = node.next {
		result = append(result, node.Order)
	}
	return result
}
