package settlementservice

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spotex/matchcore/internal/eventqueue"
	"github.com/spotex/matchcore/internal/metrics"
	"github.com/spotex/matchcore/internal/wal"
)

// Config configures one settlement-service instance.
type Config struct {
	WALDir             string
	SnapshotDir        string
	RotationConfig     wal.RotationConfig
	BatchSize          int
	FlushInterval      time.Duration
	QueueBuffer        eventqueue.Config
	CheckpointEvery    uint64        // append a SettlementCheckpoint every N trades
	CheckpointInterval time.Duration // ...or after this much time, whichever first
}

// DefaultConfig matches spec §6.6's recognized defaults: a checkpoint
// every 10,000 trades or 30 seconds, whichever comes first.
func DefaultConfig(dataDir string) Config {
	return Config{
		WALDir:             dataDir + "/wal",
		SnapshotDir:        dataDir + "/snapshots",
		RotationConfig:     wal.DefaultRotationConfig(),
		BatchSize:          1000,
		FlushInterval:      10 * time.Millisecond,
		QueueBuffer:        eventqueue.DefaultConfig(),
		CheckpointEvery:    10000,
		CheckpointInterval: 30 * time.Second,
	}
}

// Service is one running SettlementCore instance: a Store it writes
// idempotent trade/balance-event rows into, a WAL it checkpoints
// progress to, and the eventqueue.Queue stage serializing both.
type Service struct {
	cfg     Config
	store   Store
	wal     *wal.Writer
	queue   *eventqueue.Queue
	metrics *metrics.Registry
	log     *zap.Logger

	lastTradeID      uint64
	tradesSinceCkpt  uint64
	lastCheckpointAt time.Time

	fatalErr chan error
}

// New builds a fresh (cold-start) Service. Use Recover to resume from
// an existing WAL/snapshot directory instead.
func New(cfg Config, store Store, metricsReg *metrics.Registry, log *zap.Logger) (*Service, error) {
	w, err := wal.Open(cfg.WALDir, 0, 1, cfg.RotationConfig)
	if err != nil {
		return nil, fmt.Errorf("settlementservice: open wal: %w", err)
	}
	return newService(cfg, store, w, 0, metricsReg, log), nil
}

func newService(cfg Config, store Store, w *wal.Writer, lastTradeID uint64, metricsReg *metrics.Registry, log *zap.Logger) *Service {
	s := &Service{
		cfg:              cfg,
		store:            store,
		wal:              w,
		metrics:          metricsReg,
		log:              log,
		lastTradeID:      lastTradeID,
		lastCheckpointAt: time.Now(),
		fatalErr:         make(chan error, 1),
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
	s.log.Error("settlementservice: fatal WAL error, halting command acceptance", zap.Error(err))
	select {
	case s.fatalErr <- err:
	default:
	}
}

// Fatal returns a channel that receives the first fatal WAL error, if
// any (spec §7 "Fatal: halt the service").
func (s *Service) Fatal() <-chan error {
	return s.fatalErr
}

// Submit runs cmd through the single-threaded stage and returns its
// outcome once durably flushed.
func (s *Service) Submit(ctx context.Context, cmd eventqueue.Command) (interface{}, error) {
	return s.queue.Submit(ctx, cmd)
}

// LastTradeID returns the highest trade id settled so far.
func (s *Service) LastTradeID() uint64 {
	return s.lastTradeID
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
