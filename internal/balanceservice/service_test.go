package balanceservice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spotex/matchcore/internal/balance"
	"github.com/spotex/matchcore/internal/snapshot"
)

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.BatchSize = 1
	cfg.FlushInterval = time.Hour
	return cfg
}

func newTestService(t *testing.T) *Service {
	cfg := testConfig(t)
	svc, err := New(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { svc.Shutdown() })
	return svc
}

func TestDepositThenLockAppliesLedgerEffects(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	dep, err := svc.NewDepositCommand(1, 100, "500.00", 2, 1)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, dep)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, svc.NewLockCommand(10, 1, 100, 50000, OrderIntent{}))
	require.NoError(t, err)

	bal := svc.Ledger().Get(balance.Key{UserID: 1, AssetID: 100})
	assert.Equal(t, uint64(50000), bal.Frozen)
}

func TestInsufficientAvailableOnLockIsRejectedWithoutWALEntry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	seqBefore := svc.wal.NextSeqID()
	_, err := svc.Submit(ctx, svc.NewLockCommand(10, 1, 100, 1, OrderIntent{}))
	require.Error(t, err)
	assert.Equal(t, seqBefore, svc.wal.NextSeqID(), "a rejected lock must not consume a seq_id")
}

func TestSettleTradeConservesFundsAcrossService(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	buyer, seller := uint64(1), uint64(2)
	base, quote := uint32(1), uint32(2)

	dep, _ := svc.NewDepositCommand(buyer, quote, "1000.00", 2, 1)
	svc.Submit(ctx, dep)
	dep2, _ := svc.NewDepositCommand(seller, base, "10.00000000", 8, 2)
	svc.Submit(ctx, dep2)

	svc.Submit(ctx, svc.NewLockCommand(100, buyer, quote, 100000, OrderIntent{}))
	svc.Submit(ctx, svc.NewLockCommand(101, seller, base, 100000000, OrderIntent{}))

	_, err := svc.Submit(ctx, svc.NewSettleTradeCommand(1, buyer, seller, base, quote, 100000000, 100000))
	require.NoError(t, err)

	buyerBase := svc.Ledger().Get(balance.Key{UserID: buyer, AssetID: base})
	sellerQuote := svc.Ledger().Get(balance.Key{UserID: seller, AssetID: quote})
	assert.Greater(t, buyerBase.Available, uint64(0))
	assert.Greater(t, sellerQuote.Available, uint64(0))

	buyerQuote := svc.Ledger().Get(balance.Key{UserID: buyer, AssetID: quote})
	sellerBase := svc.Ledger().Get(balance.Key{UserID: seller, AssetID: base})
	feeBase := svc.Ledger().Get(balance.Key{UserID: svc.cfg.FeeAccount, AssetID: base})
	feeQuote := svc.Ledger().Get(balance.Key{UserID: svc.cfg.FeeAccount, AssetID: quote})
	totalBase := buyerBase.Available + buyerBase.Frozen + sellerBase.Available + sellerBase.Frozen + feeBase.Available
	assert.Equal(t, uint64(1_000_000_000), totalBase)
	totalQuote := buyerQuote.Available + buyerQuote.Frozen + sellerQuote.Available + sellerQuote.Frozen + feeQuote.Available
	assert.Equal(t, uint64(100_000), totalQuote)
}

func TestSnapshotThenRecoverRestoresBalances(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	dep, _ := svc.NewDepositCommand(7, 100, "42.00", 2, 1)
	_, err = svc.Submit(ctx, dep)
	require.NoError(t, err)

	_, err = svc.Snapshot(svc.wal.NextSeqID()-1, snapshot.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, svc.Shutdown())

	recovered, err := Recover(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer recovered.Shutdown()

	bal := recovered.Ledger().Get(balance.Key{UserID: 7, AssetID: 100})
	assert.Equal(t, uint64(4200), bal.Available)
}

func TestRecoverReplaysWALRecordsAfterSnapshot(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	dep, _ := svc.NewDepositCommand(7, 100, "10.00", 2, 1)
	svc.Submit(ctx, dep)

	_, err = svc.Snapshot(svc.wal.NextSeqID()-1, snapshot.DefaultConfig())
	require.NoError(t, err)

	dep2, _ := svc.NewDepositCommand(7, 100, "5.00", 2, 2)
	svc.Submit(ctx, dep2)
	require.NoError(t, svc.Shutdown())

	recovered, err := Recover(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer recovered.Shutdown()

	bal := recovered.Ledger().Get(balance.Key{UserID: 7, AssetID: 100})
	assert.Equal(t, uint64(1500), bal.Available, "WAL record written after the snapshot must be replayed")
}

func TestFatalWALErrorSurfacesOnChannel(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, svc.wal.Close())

	ctx := context.Background()
	dep, _ := svc.NewDepositCommand(1, 100, "1.00", 2, 1)
	_, err = svc.Submit(ctx, dep)
	require.Error(t, err)

	select {
	case fatalErr := <-svc.Fatal():
		require.Error(t, fatalErr)
	case <-time.After(time.Second):
		t.Fatal("expected a fatal error after the WAL was closed out from under the writer")
	}
}
