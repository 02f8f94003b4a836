package matchingservice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spotex/matchcore/internal/orders"
	"github.com/spotex/matchcore/internal/snapshot"
)

const symbolID = uint32(1)

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.BatchSize = 1
	cfg.FlushInterval = time.Hour
	cfg.Symbols = []uint32{symbolID}
	return cfg
}

func newTestService(t *testing.T) *Service {
	cfg := testConfig(t)
	svc, err := New(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { svc.Shutdown() })
	return svc
}

func limitOrder(orderID, userID uint64, side orders.Side, tif orders.TIF, price, qty uint64) *orders.Order {
	return &orders.Order{
		OrderID:      orderID,
		UserID:       userID,
		SymbolID:     symbolID,
		Side:         side,
		Type:         orders.TypeLimit,
		TIF:          tif,
		Price:        price,
		Qty:          qty,
		IngestedAtNs: uint64(orderID),
	}
}

func TestIOCPartialFillExpiresRemainderWithoutResting(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ask := limitOrder(1, 100, orders.SideSell, orders.TIFGTC, 100, 60)
	_, err := svc.Submit(ctx, svc.NewPlaceCommand(ask))
	require.NoError(t, err)

	buy := limitOrder(2, 200, orders.SideBuy, orders.TIFIOC, 100, 100)
	v, err := svc.Submit(ctx, svc.NewPlaceCommand(buy))
	require.NoError(t, err)

	result := v.(*orders.Result)
	require.Len(t, result.Fills, 1)
	assert.Equal(t, uint64(60), result.Fills[0].Qty)
	assert.Equal(t, orders.StatusExpired, buy.Status)
	assert.Equal(t, uint64(60), buy.FilledQty)

	book := svc.Engine().GetOrderBook(symbolID)
	assert.Equal(t, 0, book.TotalOrders())
}

func TestGTCPartialFillRestsRemainder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ask := limitOrder(1, 100, orders.SideSell, orders.TIFGTC, 100, 60)
	_, err := svc.Submit(ctx, svc.NewPlaceCommand(ask))
	require.NoError(t, err)

	buy := limitOrder(2, 200, orders.SideBuy, orders.TIFGTC, 100, 100)
	_, err = svc.Submit(ctx, svc.NewPlaceCommand(buy))
	require.NoError(t, err)

	assert.Equal(t, orders.StatusPartiallyFilled, buy.Status)
	assert.Equal(t, uint64(60), buy.FilledQty)

	book := svc.Engine().GetOrderBook(symbolID)
	assert.Equal(t, 1, book.TotalOrders())
	best := book.GetBestBid()
	require.NotNil(t, best)
	assert.Equal(t, uint64(40), best.TotalQty)
}

func TestReducePreservesQueuePosition(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a := limitOrder(1, 100, orders.SideBuy, orders.TIFGTC, 100, 100)
	b := limitOrder(2, 200, orders.SideBuy, orders.TIFGTC, 100, 100)
	svc.Submit(ctx, svc.NewPlaceCommand(a))
	svc.Submit(ctx, svc.NewPlaceCommand(b))

	_, err := svc.Submit(ctx, svc.NewReduceCommand(symbolID, 1, 100, 30))
	require.NoError(t, err)

	sell := limitOrder(3, 300, orders.SideSell, orders.TIFGTC, 100, 200)
	v, err := svc.Submit(ctx, svc.NewPlaceCommand(sell))
	require.NoError(t, err)

	result := v.(*orders.Result)
	require.Len(t, result.Fills, 2)
	assert.Equal(t, uint64(70), result.Fills[0].Qty)
	assert.Equal(t, uint64(1), result.Fills[0].MakerOrderID)
	assert.Equal(t, uint64(100), result.Fills[1].Qty)
	assert.Equal(t, uint64(2), result.Fills[1].MakerOrderID)
}

func TestCancelOfUnknownOrderIsSilentNoop(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	v, err := svc.Submit(ctx, svc.NewCancelCommand(symbolID, 999, 1))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSnapshotThenRecoverRestoresBookAndTradeCounter(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg, nil, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	ask := limitOrder(1, 100, orders.SideSell, orders.TIFGTC, 100, 60)
	svc.Submit(ctx, svc.NewPlaceCommand(ask))
	buy := limitOrder(2, 200, orders.SideBuy, orders.TIFGTC, 100, 100)
	svc.Submit(ctx, svc.NewPlaceCommand(buy))

	_, err = svc.Snapshot(svc.wal.NextSeqID()-1, snapshot.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, svc.Shutdown())

	recovered, err := Recover(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer recovered.Shutdown()

	book := recovered.Engine().GetOrderBook(symbolID)
	require.NotNil(t, book)
	assert.Equal(t, 1, book.TotalOrders())
	restored := book.GetOrder(2)
	require.NotNil(t, restored)
	assert.Equal(t, uint64(60), restored.FilledQty)
	assert.Equal(t, uint64(2), recovered.Engine().NextTradeID())
}

func TestRecoverReplaysPlaceAfterSnapshot(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg, nil, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	resting := limitOrder(1, 100, orders.SideSell, orders.TIFGTC, 100, 60)
	svc.Submit(ctx, svc.NewPlaceCommand(resting))

	_, err = svc.Snapshot(svc.wal.NextSeqID()-1, snapshot.DefaultConfig())
	require.NoError(t, err)

	later := limitOrder(2, 200, orders.SideSell, orders.TIFGTC, 105, 40)
	svc.Submit(ctx, svc.NewPlaceCommand(later))
	require.NoError(t, svc.Shutdown())

	recovered, err := Recover(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer recovered.Shutdown()

	book := recovered.Engine().GetOrderBook(symbolID)
	assert.Equal(t, 2, book.TotalOrders(), "the Place written after the snapshot must be replayed")
}

func TestFatalWALErrorSurfacesOnChannel(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, svc.wal.Close())

	ctx := context.Background()
	order := limitOrder(1, 100, orders.SideBuy, orders.TIFGTC, 100, 10)
	_, err = svc.Submit(ctx, svc.NewPlaceCommand(order))
	require.Error(t, err)

	select {
	case fatalErr := <-svc.Fatal():
		require.Error(t, fatalErr)
	case <-time.After(time.Second):
		t.Fatal("expected a fatal error after the WAL was closed out from under the writer")
	}
}
