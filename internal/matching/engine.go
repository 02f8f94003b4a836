// Package matching implements the order matching engine: the
// single-threaded core that turns a stream of Place/Cancel/Reduce/Move
// commands into trades and order-status transitions using price-time
// priority.
//
// Architecture: Single-Threaded Core (LMAX Disruptor pattern)
//
// Why single-threaded? Determinism (same input sequence always
// produces the same output), no lock contention in the hot path, and
// replay correctness — rebuilding state means replaying the exact same
// command sequence through the exact same logic. Engine methods are
// not safe for concurrent use; the caller (internal/eventqueue) is
// responsible for ensuring only one goroutine ever touches an Engine.
//
// Determinism note: trade timestamps are taken from the *triggering*
// order's IngestedAtNs rather than time.Now(), since the latter would
// make replay produce a different trade stream than the original run.
package matching

import (
	"fmt"

	"github.com/spotex/matchcore/internal/orderbook"
	"github.com/spotex/matchcore/internal/orders"
)

// Engine is the single-threaded order matching engine, one per
// matching-service process, holding every symbol's order book.
type Engine struct {
	books       map[uint32]*orderbook.OrderBook
	nextTradeID uint64
}

// NewEngine creates a new matching engine with no symbols configured.
func NewEngine() *Engine {
	return &Engine{books: make(map[uint32]*orderbook.OrderBook)}
}

// AddSymbol registers a new tradable symbol.
func (e *Engine) AddSymbol(symbolID uint32) {
	if _, exists := e.books[symbolID]; !exists {
		e.books[symbolID] = orderbook.NewOrderBook(symbolID)
	}
}

// GetOrderBook returns the order book for a symbol, or nil if unknown.
func (e *Engine) GetOrderBook(symbolID uint32) *orderbook.OrderBook {
	return e.books[symbolID]
}

// Symbols returns every registered symbol id.
func (e *Engine) Symbols() []uint32 {
	ids := make([]uint32, 0, len(e.books))
	for id := range e.books {
		ids = append(ids, id)
	}
	return ids
}

// NextTradeID returns the trade id the next fill will be assigned,
// without consuming it. Used when serializing a snapshot (spec §4.3:
// "Trade identifiers are assigned by a dense counter persisted in
// snapshots").
func (e *Engine) NextTradeID() uint64 {
	return e.nextTradeID + 1
}

// RestoreTradeCounter sets the trade id counter from a loaded
// snapshot or from replaying Trade records, so that subsequently
// produced trade ids continue the same dense sequence.
func (e *Engine) RestoreTradeCounter(lastAssigned uint64) {
	e.nextTradeID = lastAssigned
}

func (e *Engine) nextTrade() uint64 {
	e.nextTradeID++
	return e.nextTradeID
}

// Place processes an incoming order: validates it, matches it against
// the opposite side of its symbol's book, and either rests, expires or
// fully/partially fills it, per spec §4.4's command table.
func (e *Engine) Place(order *orders.Order) *orders.Result {
	result := &orders.Result{Order: order, Fills: nil, Accepted: false}

	book := e.books[order.SymbolID]
	if book == nil {
		result.RejectMsg = fmt.Sprintf("unknown symbol: %d", order.SymbolID)
		return result
	}
	if order.Qty == 0 {
		result.RejectMsg = "quantity must be positive"
		return result
	}
	if order.Type == orders.TypeLimit && order.Price == 0 {
		result.RejectMsg = "limit order must have positive price"
		return result
	}

	order.Status = orders.StatusNew
	result.Accepted = true

	result.Fills = e.matchOrder(order, book)

	if order.IsFilled() {
		order.Status = orders.StatusFilled
		return result
	}
	if order.FilledQty > 0 {
		order.Status = orders.StatusPartiallyFilled
	}

	remaining := order.RemainingQty()
	if remaining == 0 {
		return result
	}

	switch {
	case order.Type == orders.TypeMarket:
		order.Status = orders.StatusExpired
	case order.TIF == orders.TIFIOC:
		order.Status = orders.StatusExpired
	default: // Limit + GTC: rest in the book
		if err := book.AddOrder(order); err != nil {
			// Only possible if order_id collides with an existing
			// resting order — a gateway-level invariant violation.
			result.RejectMsg = err.Error()
			return result
		}
		result.RestingQty = remaining
	}

	return result
}

// matchOrder matches an incoming order against resting orders on the
// opposite side, from the best price outward, FIFO within a level.
func (e *Engine) matchOrder(order *orders.Order, book *orderbook.OrderBook) []orders.Fill {
	var fills []orders.Fill

	var bestLevel func() *orderbook.PriceLevel
	var priceAcceptable func(bookPrice uint64) bool

	if order.Side == orders.SideBuy {
		bestLevel = book.GetBestAsk
		priceAcceptable = func(bookPrice uint64) bool {
			return order.Type == orders.TypeMarket || bookPrice <= order.Price
		}
	} else {
		bestLevel = book.GetBestBid
		priceAcceptable = func(bookPrice uint64) bool {
			return order.Type == orders.TypeMarket || bookPrice >= order.Price
		}
	}

	for order.RemainingQty() > 0 {
		level := bestLevel()
		if level == nil || !priceAcceptable(level.Price) {
			break
		}

		for node := level.Head(); node != nil && order.RemainingQty() > 0; {
			maker := node.Order
			next := node.Next()

			fillQty := order.RemainingQty()
			if makerRemaining := maker.RemainingQty(); makerRemaining < fillQty {
				fillQty = makerRemaining
			}

			fills = append(fills, orders.Fill{
				TradeID:      e.nextTrade(),
				SymbolID:     order.SymbolID,
				Price:        level.Price, // maker's price: price improvement for taker
				Qty:          fillQty,
				MakerOrderID: maker.OrderID,
				TakerOrderID: order.OrderID,
				MakerUser:    maker.UserID,
				TakerUser:    order.UserID,
				TsNs:         order.IngestedAtNs,
			})

			order.FilledQty += fillQty
			book.ApplyFill(maker.OrderID, fillQty)

			node = next
		}
	}

	return fills
}

// Cancel removes a resting order and marks it Canceled. A non-existent
// or already-terminal order is a silent no-op: returns nil (spec
// §4.4 Cancel).
func (e *Engine) Cancel(symbolID uint32, orderID uint64) *orders.Order {
	book := e.books[symbolID]
	if book == nil {
		return nil
	}
	order := book.GetOrder(orderID)
	if order == nil || !order.IsActive() {
		return nil
	}
	book.CancelOrder(orderID)
	order.Status = orders.StatusCanceled
	return order
}

// Reduce decreases a resting order's quantity by delta, preserving its
// queue position. Over-reduce is clamped; reaching zero remaining
// quantity cancels the order (spec §4.4 Reduce). A non-existent or
// terminal order is a silent no-op.
func (e *Engine) Reduce(symbolID uint32, orderID uint64, delta uint64) *orders.Order {
	book := e.books[symbolID]
	if book == nil {
		return nil
	}
	order := book.GetOrder(orderID)
	if order == nil || !order.IsActive() {
		return nil
	}

	_, removed := book.ReduceOrder(orderID, delta)
	if removed {
		order.Status = orders.StatusCanceled
	}
	return order
}

// Move atomically cancels and re-places a resting order at a new price,
// losing time priority at the new level (spec §4.4 Move). A
// non-existent or terminal order is a silent no-op.
func (e *Engine) Move(symbolID uint32, orderID uint64, newPrice uint64) (*orders.Order, error) {
	book := e.books[symbolID]
	if book == nil {
		return nil, nil
	}
	order := book.GetOrder(orderID)
	if order == nil || !order.IsActive() {
		return nil, nil
	}

	book.CancelOrder(orderID)
	order.Price = newPrice
	if err := book.AddOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder retrieves a resting order by symbol and id.
func (e *Engine) GetOrder(symbolID uint32, orderID uint64) *orders.Order {
	book := e.books[symbolID]
	if book == nil {
		return nil
	}
	return book.GetOrder(orderID)
}
