package settlementservice

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spotex/matchcore/internal/replay"
	"github.com/spotex/matchcore/internal/snapshot"
	"github.com/spotex/matchcore/internal/wal"
)

// fakeStore is an in-memory Store used so these tests exercise the
// idempotency contract without a live MySQL instance.
type fakeStore struct {
	mu     sync.Mutex
	trades map[uint64]TradeRecord
	legs   map[[3]uint64]BalanceEventRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		trades: make(map[uint64]TradeRecord),
		legs:   make(map[[3]uint64]BalanceEventRecord),
	}
}

func (f *fakeStore) WriteTrade(_ context.Context, rec TradeRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.trades[rec.TradeID]; ok {
		return false, nil
	}
	f.trades[rec.TradeID] = rec
	return true, nil
}

func (f *fakeStore) WriteBalanceEvent(_ context.Context, rec BalanceEventRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [3]uint64{rec.TradeID, rec.UserID, uint64(rec.AssetID)}
	if _, ok := f.legs[key]; ok {
		return false, nil
	}
	f.legs[key] = rec
	return true, nil
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig(t.TempDir())
	cfg.BatchSize = 1
	cfg.FlushInterval = time.Hour
	cfg.CheckpointEvery = 2
	cfg.CheckpointInterval = time.Hour
	return cfg
}

func newTestService(t *testing.T, store Store) *Service {
	svc, err := New(testConfig(t), store, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { svc.Shutdown() })
	return svc
}

func sampleTrade(tradeID uint64) wal.TradePayload {
	return wal.TradePayload{
		TradeID:      tradeID,
		SymbolID:     1,
		Price:        100,
		Qty:          10,
		MakerOrderID: 1,
		TakerOrderID: 2,
		MakerUser:    100,
		TakerUser:    200,
		TsNs:         tradeID,
	}
}

func TestSettleTradeIsIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	v, err := svc.Submit(ctx, svc.NewSettleTradeCommand(sampleTrade(1), nil))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = svc.Submit(ctx, svc.NewSettleTradeCommand(sampleTrade(1), nil))
	require.NoError(t, err)
	assert.Equal(t, false, v, "a replayed trade must not be applied twice")
	assert.Equal(t, uint64(1), svc.LastTradeID())
}

func TestCheckpointAppearsAfterCheckpointEveryTrades(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.Submit(ctx, svc.NewSettleTradeCommand(sampleTrade(1), nil))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, svc.NewSettleTradeCommand(sampleTrade(2), nil))
	require.NoError(t, err)

	var sawCheckpoint bool
	var lastTradeID uint64
	_, err = wal.Replay(svc.cfg.WALDir, 0, nil, func(rec wal.Record) bool {
		if rec.Header.EntryType == wal.EntrySettlementCheckpoint {
			p, decErr := wal.DecodeSettlementCheckpoint(rec.Payload)
			require.NoError(t, decErr)
			sawCheckpoint = true
			lastTradeID = p.LastTradeID
		}
		return true
	})
	require.NoError(t, err)
	assert.True(t, sawCheckpoint)
	assert.Equal(t, uint64(2), lastTradeID)
	assert.Equal(t, uint64(0), svc.tradesSinceCkpt)
}

func TestSnapshotThenRecoverRestoresLastTradeID(t *testing.T) {
	cfg := testConfig(t)
	store := newFakeStore()
	svc, err := New(cfg, store, nil, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.Submit(ctx, svc.NewSettleTradeCommand(sampleTrade(1), nil))
	require.NoError(t, err)

	_, err = svc.Snapshot(svc.wal.NextSeqID()-1, snapshot.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, svc.Shutdown())

	recovered, err := Recover(cfg, store, nil, zap.NewNop())
	require.NoError(t, err)
	defer recovered.Shutdown()

	assert.Equal(t, uint64(1), recovered.LastTradeID())
}

func TestRecoverPicksUpCheckpointWrittenAfterSnapshot(t *testing.T) {
	cfg := testConfig(t)
	store := newFakeStore()
	svc, err := New(cfg, store, nil, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.Submit(ctx, svc.NewSettleTradeCommand(sampleTrade(1), nil))
	require.NoError(t, err)

	_, err = svc.Snapshot(svc.wal.NextSeqID()-1, snapshot.DefaultConfig())
	require.NoError(t, err)

	// Trade 2 pushes tradesSinceCkpt to CheckpointEvery (2), so a
	// SettlementCheckpoint record lands in the WAL after the snapshot.
	_, err = svc.Submit(ctx, svc.NewSettleTradeCommand(sampleTrade(2), nil))
	require.NoError(t, err)
	require.NoError(t, svc.Shutdown())

	recovered, err := Recover(cfg, store, nil, zap.NewNop())
	require.NoError(t, err)
	defer recovered.Shutdown()

	assert.Equal(t, uint64(2), recovered.LastTradeID())
}

func TestCatchUpSkipsAlreadySettledTrades(t *testing.T) {
	matchingWALDir := t.TempDir()
	w, err := wal.Open(matchingWALDir, 0, 1, wal.DefaultRotationConfig())
	require.NoError(t, err)
	for _, tradeID := range []uint64{1, 2, 3} {
		_, err := w.Append(wal.EntryTrade, 0, wal.EncodeTrade(sampleTrade(tradeID)))
		require.NoError(t, err)
	}
	require.NoError(t, w.FlushAndSync())
	require.NoError(t, w.Close())

	replayServer := replay.NewServer(matchingWALDir, zap.NewNop())
	router := mux.NewRouter()
	replayServer.Register(router)
	httpServer := httptest.NewServer(router)
	defer httpServer.Close()

	store := newFakeStore()
	svc := newTestService(t, store)
	svc.lastTradeID = 1 // trade 1 already settled in an earlier pass

	client := replay.NewClient(httpServer.URL)
	require.NoError(t, svc.CatchUp(context.Background(), client))

	assert.Equal(t, uint64(3), svc.LastTradeID())
	_, ok := store.trades[1]
	assert.False(t, ok, "trade 1 predates lastTradeID and must not be re-settled")
	_, ok = store.trades[2]
	assert.True(t, ok)
	_, ok = store.trades[3]
	assert.True(t, ok)
}
