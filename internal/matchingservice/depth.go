package matchingservice

import (
	"sync"

	"github.com/spotex/matchcore/internal/orderbook"
	"github.com/spotex/matchcore/internal/orders"
)

// DepthFeed distributes L1/L2 market data and trade reports derived
// from the matching engine's output, entirely outside the durability
// path — nothing here touches the WAL or the recovery protocol.
// Symbols are uint32 ids, prices/quantities are scaled uint64, and
// L3 (full order-by-order) depth is dropped since no subscriber in
// scope needs it.
//
// Publishing never blocks the matching worker: a full subscriber
// channel simply drops the update — unlike the inbound command queue,
// a missed quote has no durability consequence.
type DepthFeed struct {
	mu         sync.RWMutex
	l1Subs     map[uint32][]chan L1Quote
	l2Subs     map[uint32][]chan L2Depth
	tradeSubs  map[uint32][]chan TradeReport
	bufferSize int
}

// L1Quote is top-of-book market data for one symbol.
type L1Quote struct {
	SymbolID  uint32
	BidPrice  uint64
	BidSize   uint64
	AskPrice  uint64
	AskSize   uint64
	TsNs      uint64
}

// L2Depth is multi-level depth data for one symbol.
type L2Depth struct {
	SymbolID uint32
	Bids     []PriceLevel
	Asks     []PriceLevel
	TsNs     uint64
}

// PriceLevel is one price/quantity/order-count tuple in L2Depth.
type PriceLevel struct {
	Price    uint64
	Quantity uint64
	Count    int
}

// TradeReport is a public trade print.
type TradeReport struct {
	TradeID       uint64
	SymbolID      uint32
	Price         uint64
	Quantity      uint64
	AggressorSide orders.Side
	TsNs          uint64
}

// NewDepthFeed builds a feed whose subscriber channels are buffered to
// bufferSize (default 100 if non-positive).
func NewDepthFeed(bufferSize int) *DepthFeed {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &DepthFeed{
		l1Subs:     make(map[uint32][]chan L1Quote),
		l2Subs:     make(map[uint32][]chan L2Depth),
		tradeSubs:  make(map[uint32][]chan TradeReport),
		bufferSize: bufferSize,
	}
}

// SubscribeL1 returns a channel receiving L1 quote updates for symbolID.
func (f *DepthFeed) SubscribeL1(symbolID uint32) <-chan L1Quote {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan L1Quote, f.bufferSize)
	f.l1Subs[symbolID] = append(f.l1Subs[symbolID], ch)
	return ch
}

// SubscribeL2 returns a channel receiving L2 depth updates for symbolID.
func (f *DepthFeed) SubscribeL2(symbolID uint32) <-chan L2Depth {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan L2Depth, f.bufferSize)
	f.l2Subs[symbolID] = append(f.l2Subs[symbolID], ch)
	return ch
}

// SubscribeTrades returns a channel receiving trade reports for symbolID.
func (f *DepthFeed) SubscribeTrades(symbolID uint32) <-chan TradeReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan TradeReport, f.bufferSize)
	f.tradeSubs[symbolID] = append(f.tradeSubs[symbolID], ch)
	return ch
}

// PublishBookUpdate derives and publishes L1/L2 updates for book's
// current state. Called by the matching service after every command
// that can move the top of book.
func (f *DepthFeed) PublishBookUpdate(book *orderbook.OrderBook, tsNs uint64, depth int) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	symbolID := book.SymbolID()
	if len(f.l1Subs[symbolID]) > 0 {
		quote := L1Quote{SymbolID: symbolID, TsNs: tsNs}
		if best := book.GetBestBid(); best != nil {
			quote.BidPrice, quote.BidSize = best.Price, best.TotalQty
		}
		if best := book.GetBestAsk(); best != nil {
			quote.AskPrice, quote.AskSize = best.Price, best.TotalQty
		}
		publish(f.l1Subs[symbolID], quote)
	}

	if len(f.l2Subs[symbolID]) > 0 {
		l2 := L2Depth{SymbolID: symbolID, TsNs: tsNs}
		for _, level := range book.GetBidDepth(depth) {
			l2.Bids = append(l2.Bids, PriceLevel{Price: level.Price, Quantity: level.TotalQty, Count: level.Count()})
		}
		for _, level := range book.GetAskDepth(depth) {
			l2.Asks = append(l2.Asks, PriceLevel{Price: level.Price, Quantity: level.TotalQty, Count: level.Count()})
		}
		publish(f.l2Subs[symbolID], l2)
	}
}

// PublishTrade publishes one trade print.
func (f *DepthFeed) PublishTrade(t TradeReport) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	publish(f.tradeSubs[t.SymbolID], t)
}

func publish[T any](subs []chan T, v T) {
	for _, ch := range subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Close closes every subscriber channel across every symbol.
func (f *DepthFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, subs := range f.l1Subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, subs := range f.l2Subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, subs := range f.tradeSubs {
		for _, ch := range subs {
			close(ch)
		}
	}
}
