// Package balanceservice wires internal/balance.Ledger to the
// single-threaded cooperative stage from internal/eventqueue, giving
// it its own WAL, snapshotter, and replay server — the BalanceCore
// service named in spec §2.
//
// Structured around Config/DefaultConfig/New (or Recover), one struct owning
// every collaborator — a single service's worth of what used to be
// one monolithic process.
package balanceservice

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spotex/matchcore/internal/balance"
	"github.com/spotex/matchcore/internal/eventqueue"
	"github.com/spotex/matchcore/internal/metrics"
	"github.com/spotex/matchcore/internal/wal"
)

// Config configures one balance-service instance.
type Config struct {
	WALDir         string
	SnapshotDir    string
	RotationConfig wal.RotationConfig
	BatchSize      int
	FlushInterval  time.Duration
	QueueBuffer    eventqueue.Config
	FeeSchedule    *balance.Schedule
	FeeAccount     uint64

	// LockRequirement recomputes which asset and how much of it a
	// replayed Order record locks, from the order's own shape. Only
	// consulted during recovery (internal/balanceservice/recovery.go):
	// live Lock commands already carry the asset/amount the caller
	// (cmd/balanceservice) sized with the same function. Required for
	// any cfg used with Recover once the WAL holds Order records.
	LockRequirement func(OrderIntent) (assetID uint32, amount uint64)
}

// DefaultConfig returns the spec §6.6-recognized defaults for this
// service.
func DefaultConfig(dataDir string) Config {
	return Config{
		WALDir:         dataDir + "/wal",
		SnapshotDir:    dataDir + "/snapshots",
		RotationConfig: wal.DefaultRotationConfig(),
		BatchSize:      1000,
		FlushInterval:  10 * time.Millisecond,
		QueueBuffer:    eventqueue.DefaultConfig(),
		FeeSchedule:    balance.NewSchedule(map[balance.Tier]balance.TierRates{0: {MakerBps: 10, TakerBps: 20}}, nil),
		FeeAccount:     0,
		LockRequirement: func(OrderIntent) (uint32, uint64) {
			return 0, 0
		},
	}
}

// Service is one running BalanceCore instance: a Ledger owning all
// mutable state, a WAL writer it appends to synchronously inside each
// Command's Execute, and the eventqueue.Queue single-threaded stage
// that serializes everything.
type Service struct {
	cfg     Config
	ledger  *balance.Ledger
	wal     *wal.Writer
	queue   *eventqueue.Queue
	metrics *metrics.Registry
	log     *zap.Logger

	// locks tracks, per open order id, the (user, asset, amount) a
	// LockCommand froze for it — the only place that amount lives,
	// since the spec's Cancel WAL record doesn't carry it. Touched
	// only from inside Execute, so it never needs its own mutex: every
	// command runs on the single eventqueue worker.
	locks map[uint64]lockedFunds

	fatalErr chan error
}

// lockedFunds is one LockCommand's effect, keyed by order id in
// Service.locks so UnlockCommand can reverse it without the caller
// having to resupply asset/amount.
type lockedFunds struct {
	UserID  uint64
	AssetID uint32
	Amount  uint64
}

// New builds a fresh (cold-start) Service. Use Recover to resume from
// an existing WAL/snapshot directory instead.
func New(cfg Config, sink balance.EventSink, metricsReg *metrics.Registry, log *zap.Logger) (*Service, error) {
	w, err := wal.Open(cfg.WALDir, 0, 1, cfg.RotationConfig)
	if err != nil {
		return nil, fmt.Errorf("balanceservice: open wal: %w", err)
	}
	return newService(cfg, balance.NewLedger(sink), w, make(map[uint64]lockedFunds), metricsReg, log), nil
}

func newService(cfg Config, ledger *balance.Ledger, w *wal.Writer, locks map[uint64]lockedFunds, metricsReg *metrics.Registry, log *zap.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		ledger:   ledger,
		wal:      w,
		locks:    locks,
		metrics:  metricsReg,
		log:      log,
		fatalErr: make(chan error, 1),
	}
	s.queue = eventqueue.New(cfg.QueueBuffer, cfg.BatchSize, cfg.FlushInterval, s.flush, s.onFatal)
	return s
}

func (s *Service) flush() error {
	start := time.Now()
	err := s.wal.FlushAndSync()
	if s.metrics != nil {
		s.metrics.WALFlushDuration.Observe(time.Since(start).Seconds())
	}
	return err
}

func (s *Service) onFatal(err error) {
	s.log.Error("balanceservice: fatal WAL error, halting command acceptance", zap.Error(err))
	select {
	case s.fatalErr <- err:
	default:
	}
}

// Fatal returns a channel that receives the first fatal WAL error, if
// any — callers should stop their HTTP/queue intake on receipt, per
// spec §7 ("Fatal: halt the service").
func (s *Service) Fatal() <-chan error {
	return s.fatalErr
}

// Submit runs cmd through the single-threaded stage and returns its
// outcome once durably flushed.
func (s *Service) Submit(ctx context.Context, cmd eventqueue.Command) (interface{}, error) {
	return s.queue.Submit(ctx, cmd)
}

// Ledger exposes the underlying ledger for read-only queries (balance
// lookups do not need to go through the command queue since they
// don't mutate state).
func (s *Service) Ledger() *balance.Ledger {
	return s.ledger
}

// WALSeqID returns the seq_id of the last record durably appended, the
// walSeqID a caller should pass to Snapshot (spec §4.2 step 1).
func (s *Service) WALSeqID() uint64 {
	return s.wal.NextSeqID() - 1
}

// Shutdown stops the processing stage and closes the WAL file.
func (s *Service) Shutdown() error {
	s.queue.Shutdown()
	return s.wal.Close()
}
