package matching

import (
	"testing"

	"github.com/spotex/matchcore/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const symbol = uint32(1)

func limitOrder(id, user uint64, side orders.Side, tif orders.TIF, price, qty uint64) *orders.Order {
	return &orders.Order{
		OrderID:      id,
		UserID:       user,
		SymbolID:     symbol,
		Side:         side,
		Type:         orders.TypeLimit,
		TIF:          tif,
		Price:        price,
		Qty:          qty,
		IngestedAtNs: 1000,
	}
}

func marketOrder(id, user uint64, side orders.Side, qty uint64) *orders.Order {
	return &orders.Order{
		OrderID:      id,
		UserID:       user,
		SymbolID:     symbol,
		Side:         side,
		Type:         orders.TypeMarket,
		Qty:          qty,
		IngestedAtNs: 2000,
	}
}

func newTestEngine() *Engine {
	e := NewEngine()
	e.AddSymbol(symbol)
	return e
}

func TestGTCRestsWhenNoOppositeLiquidity(t *testing.T) {
	e := newTestEngine()
	res := e.Place(limitOrder(1, 100, orders.SideBuy, orders.TIFGTC, 50, 10))
	require.True(t, res.Accepted)
	assert.Equal(t, orders.StatusNew, res.Order.Status)
	assert.Equal(t, uint64(10), res.RestingQty)
	assert.Empty(t, res.Fills)
	assert.Equal(t, uint64(10), e.GetOrderBook(symbol).GetBestBid().TotalQty)
}

func TestGTCPartialFillRestsRemainder(t *testing.T) {
	e := newTestEngine()
	e.Place(limitOrder(1, 100, orders.SideSell, orders.TIFGTC, 50, 10))

	res := e.Place(limitOrder(2, 200, orders.SideBuy, orders.TIFGTC, 50, 15))
	require.True(t, res.Accepted)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, uint64(10), res.Fills[0].Qty)
	assert.Equal(t, orders.StatusPartiallyFilled, res.Order.Status)
	assert.Equal(t, uint64(5), res.RestingQty)

	book := e.GetOrderBook(symbol)
	assert.Nil(t, book.GetBestAsk(), "maker fully consumed and removed")
	require.NotNil(t, book.GetBestBid())
	assert.Equal(t, uint64(5), book.GetBestBid().TotalQty)
}

func TestIOCPartialFillExpiresRemainderWithoutResting(t *testing.T) {
	e := newTestEngine()
	e.Place(limitOrder(1, 100, orders.SideSell, orders.TIFGTC, 50, 4))

	res := e.Place(limitOrder(2, 200, orders.SideBuy, orders.TIFIOC, 50, 10))
	require.True(t, res.Accepted)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, uint64(4), res.Fills[0].Qty)
	assert.Equal(t, orders.StatusExpired, res.Order.Status)
	assert.Equal(t, uint64(0), res.RestingQty)
	assert.Nil(t, e.GetOrderBook(symbol).GetBestBid(), "IOC remainder must never enter the book")
}

func TestMarketOrderExpiresOnInsufficientLiquidity(t *testing.T) {
	e := newTestEngine()
	e.Place(limitOrder(1, 100, orders.SideSell, orders.TIFGTC, 50, 3))

	res := e.Place(marketOrder(2, 200, orders.SideBuy, 10))
	require.Len(t, res.Fills, 1)
	assert.Equal(t, uint64(3), res.Fills[0].Qty)
	assert.Equal(t, orders.StatusExpired, res.Order.Status)
}

func TestFIFOMatchOrderAtSamePrice(t *testing.T) {
	e := newTestEngine()
	e.Place(limitOrder(1, 100, orders.SideSell, orders.TIFGTC, 50, 5))
	e.Place(limitOrder(2, 101, orders.SideSell, orders.TIFGTC, 50, 5))

	res := e.Place(limitOrder(3, 200, orders.SideBuy, orders.TIFGTC, 50, 7))
	require.Len(t, res.Fills, 2)
	assert.Equal(t, uint64(1), res.Fills[0].MakerOrderID, "earlier resting order matches first")
	assert.Equal(t, uint64(5), res.Fills[0].Qty)
	assert.Equal(t, uint64(2), res.Fills[1].MakerOrderID)
	assert.Equal(t, uint64(2), res.Fills[1].Qty)
}

func TestTradePriceIsMakerPrice(t *testing.T) {
	e := newTestEngine()
	e.Place(limitOrder(1, 100, orders.SideSell, orders.TIFGTC, 48, 10))
	res := e.Place(limitOrder(2, 200, orders.SideBuy, orders.TIFGTC, 55, 10))
	require.Len(t, res.Fills, 1)
	assert.Equal(t, uint64(48), res.Fills[0].Price)
}

func TestTradeIDsAreDenseAndMonotonic(t *testing.T) {
	e := newTestEngine()
	e.Place(limitOrder(1, 100, orders.SideSell, orders.TIFGTC, 50, 3))
	e.Place(limitOrder(2, 100, orders.SideSell, orders.TIFGTC, 50, 3))
	res := e.Place(limitOrder(3, 200, orders.SideBuy, orders.TIFGTC, 50, 6))
	require.Len(t, res.Fills, 2)
	assert.Equal(t, uint64(1), res.Fills[0].TradeID)
	assert.Equal(t, uint64(2), res.Fills[1].TradeID)
	assert.Equal(t, uint64(3), e.NextTradeID())
}

func TestCancelMarksCanceledAndRemovesFromBook(t *testing.T) {
	e := newTestEngine()
	e.Place(limitOrder(1, 100, orders.SideBuy, orders.TIFGTC, 50, 10))

	cancelled := e.Cancel(symbol, 1)
	require.NotNil(t, cancelled)
	assert.Equal(t, orders.StatusCanceled, cancelled.Status)
	assert.Nil(t, e.GetOrderBook(symbol).GetBestBid())
}

func TestCancelOfTerminalOrderIsNoop(t *testing.T) {
	e := newTestEngine()
	e.Place(limitOrder(1, 100, orders.SideBuy, orders.TIFGTC, 50, 10))
	e.Cancel(symbol, 1)

	assert.Nil(t, e.Cancel(symbol, 1))
}

func TestReducePreservesQueuePriority(t *testing.T) {
	e := newTestEngine()
	e.Place(limitOrder(1, 100, orders.SideSell, orders.TIFGTC, 50, 10))
	e.Place(limitOrder(2, 101, orders.SideSell, orders.TIFGTC, 50, 10))

	reduced := e.Reduce(symbol, 1, 4)
	require.NotNil(t, reduced)
	assert.Equal(t, uint64(6), reduced.Qty)

	res := e.Place(limitOrder(3, 200, orders.SideBuy, orders.TIFGTC, 50, 6))
	require.Len(t, res.Fills, 1)
	assert.Equal(t, uint64(1), res.Fills[0].MakerOrderID, "order 1 still matches first despite the reduce")
}

func TestReduceToZeroCancels(t *testing.T) {
	e := newTestEngine()
	e.Place(limitOrder(1, 100, orders.SideBuy, orders.TIFGTC, 50, 10))

	reduced := e.Reduce(symbol, 1, 100)
	require.NotNil(t, reduced)
	assert.Equal(t, orders.StatusCanceled, reduced.Status)
	assert.Nil(t, e.GetOrderBook(symbol).GetBestBid())
}

func TestMoveLosesTimePriority(t *testing.T) {
	e := newTestEngine()
	e.Place(limitOrder(1, 100, orders.SideSell, orders.TIFGTC, 50, 5))
	e.Place(limitOrder(2, 101, orders.SideSell, orders.TIFGTC, 50, 5))

	moved, err := e.Move(symbol, 1, 50)
	require.NoError(t, err)
	require.NotNil(t, moved)

	res := e.Place(limitOrder(3, 200, orders.SideBuy, orders.TIFGTC, 50, 5))
	require.Len(t, res.Fills, 1)
	assert.Equal(t, uint64(2), res.Fills[0].MakerOrderID, "order 2 now matches first; order 1 moved to the back")
}

func TestMoveToNewPriceLevel(t *testing.T) {
	e := newTestEngine()
	e.Place(limitOrder(1, 100, orders.SideBuy, orders.TIFGTC, 40, 5))

	moved, err := e.Move(symbol, 1, 45)
	require.NoError(t, err)
	assert.Equal(t, uint64(45), moved.Price)
	assert.Equal(t, uint64(45), e.GetOrderBook(symbol).GetBestBid().Price)
}

func TestZeroQtyOrderRejectedNeverReachesBook(t *testing.T) {
	e := newTestEngine()
	res := e.Place(limitOrder(1, 100, orders.SideBuy, orders.TIFGTC, 50, 0))
	assert.False(t, res.Accepted)
	assert.Nil(t, e.GetOrderBook(symbol).GetBestBid())
}

func TestZeroPriceLimitOrderRejected(t *testing.T) {
	e := newTestEngine()
	res := e.Place(limitOrder(1, 100, orders.SideBuy, orders.TIFGTC, 0, 5))
	assert.False(t, res.Accepted)
}

func TestUnknownSymbolRejected(t *testing.T) {
	e := newTestEngine()
	order := limitOrder(1, 100, orders.SideBuy, orders.TIFGTC, 50, 5)
	order.SymbolID = 999
	res := e.Place(order)
	assert.False(t, res.Accepted)
}

func TestSelfTradeIsNotPrevented(t *testing.T) {
	e := newTestEngine()
	e.Place(limitOrder(1, 100, orders.SideSell, orders.TIFGTC, 50, 5))
	res := e.Place(limitOrder(2, 100, orders.SideBuy, orders.TIFGTC, 50, 5))
	require.Len(t, res.Fills, 1, "matching does not special-case same-account counterparties")
	assert.Equal(t, uint64(100), res.Fills[0].MakerUser)
	assert.Equal(t, uint64(100), res.Fills[0].TakerUser)
}
