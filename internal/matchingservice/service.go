// Package matchingservice wires internal/matching.Engine to the
// single-threaded cooperative stage from internal/eventqueue, giving
// it its own WAL, snapshotter, and depth feed — the MatchingCore
// service named in spec §2.
//
// Structured the same way as internal/balanceservice: one Service
// struct owning the WAL writer, the domain-state owner (here an
// Engine instead of a Ledger), and the eventqueue.Queue that
// serializes every Place/Cancel/Reduce/Move against it.
package matchingservice

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spotex/matchcore/internal/eventqueue"
	"github.com/spotex/matchcore/internal/matching"
	"github.com/spotex/matchcore/internal/metrics"
	"github.com/spotex/matchcore/internal/wal"
)

// Config configures one matching-service instance.
type Config struct {
	WALDir         string
	SnapshotDir    string
	RotationConfig wal.RotationConfig
	BatchSize      int
	FlushInterval  time.Duration
	QueueBuffer    eventqueue.Config
	Symbols        []uint32
	DepthLevels    int
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
		DepthLevels:    10,
	}
}

// Service is one running MatchingCore instance: an Engine owning all
// order books, a WAL writer appended to synchronously inside each
// Command's Execute, and the eventqueue.Queue stage that serializes
// everything against it.
type Service struct {
	cfg    Config
	engine *matching.Engine
	wal    *wal.Writer
	queue  *eventqueue.Queue
	depth  *DepthFeed

	metrics *metrics.Registry
	log     *zap.Logger

	fatalErr chan error
}

// New builds a fresh (cold-start) Service with cfg.Symbols registered.
// Use Recover to resume from an existing WAL/snapshot directory
// instead.
func New(cfg Config, metricsReg *metrics.Registry, log *zap.Logger) (*Service, error) {
	w, err := wal.Open(cfg.WALDir, 0, 1, cfg.RotationConfig)
	if err != nil {
		return nil, fmt.Errorf("matchingservice: open wal: %w", err)
	}
	engine := matching.NewEngine()
	for _, symbolID := range cfg.Symbols {
		engine.AddSymbol(symbolID)
	}
	return newService(cfg, engine, w, metricsReg, log), nil
}

func newService(cfg Config, engine *matching.Engine, w *wal.Writer, metricsReg *metrics.Registry, log *zap.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		engine:   engine,
		wal:      w,
		depth:    NewDepthFeed(100),
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
	s.log.Error("matchingservice: fatal WAL error, halting command acceptance", zap.Error(err))
	select {
	case s.fatalErr <- err:
	default:
	}
}

// Fatal returns a channel that receives the first fatal WAL error, if
// any — callers should stop their replay intake/command acceptance on
// receipt, per spec §7 ("Fatal: halt the service").
func (s *Service) Fatal() <-chan error {
	return s.fatalErr
}

// Submit runs cmd through the single-threaded stage and returns its
// outcome once durably flushed.
func (s *Service) Submit(ctx context.Context, cmd eventqueue.Command) (interface{}, error) {
	return s.queue.Submit(ctx, cmd)
}

// Engine exposes the underlying engine for read-only queries (book
// depth lookups do not need to go through the command queue since
// they don't mutate state).
func (s *Service) Engine() *matching.Engine {
	return s.engine
}

// WALSeqID returns the seq_id of the last record durably appended, the
// walSeqID a caller should pass to Snapshot (spec §4.2 step 1).
func (s *Service) WALSeqID() uint64 {
	return s.wal.NextSeqID() - 1
}

// Depth exposes the market-data feed so an ops/gateway-facing
// component can subscribe to L1/L2 updates and trade prints.
func (s *Service) Depth() *DepthFeed {
	return s.depth
}

// Shutdown stops the processing stage, closes the depth feed's
// subscriber channels, and closes the WAL file.
func (s *Service) Shutdown() error {
	s.queue.Shutdown()
	s.depth.Close()
	return s.wal.Close()
}
