// Command settlementservice runs SettlementCore (spec §2): the
// idempotent, durably-recorded ledger of every trade plus the
// balance-event legs it produced, pulled from the matching service's
// WAL rather than pushed to live.
//
// Structured the same way as cmd/balanceservice and
// cmd/matchingservice; the HTTP surface here is minimal since nothing
// submits commands directly — CatchUp runs on its own ticker instead.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spotex/matchcore/internal/config"
	"github.com/spotex/matchcore/internal/logging"
	"github.com/spotex/matchcore/internal/metrics"
	"github.com/spotex/matchcore/internal/replay"
	"github.com/spotex/matchcore/internal/settlementservice"
	"github.com/spotex/matchcore/internal/snapshot"
)

// catchUpInterval is how often this service polls the matching
// service's replay server for trades it hasn't settled yet. There is
// no push path: the matching service's own WAL is the durable source
// of truth settlement reconciles against (internal/settlementservice's
// recovery.go).
const catchUpInterval = 2 * time.Second

// Server wires a settlementservice.Service to a minimal HTTP surface
// (health/metrics/last-trade-id) plus the background CatchUp loop.
type Server struct {
	cfg      config.Config
	svc      *settlementservice.Service
	matching *replay.Client
	mx       *metrics.Registry
	log      *zap.Logger
	http     *http.Server

	stop chan struct{}
}

func newServer(cfg config.Config, log *zap.Logger) (*Server, error) {
	mx := metrics.New("settlement")

	store, err := settlementservice.NewGormStore(cfg.SettlementDSN)
	if err != nil {
		return nil, fmt.Errorf("settlementservice: connect store: %w", err)
	}

	svcCfg := settlementservice.DefaultConfig(cfg.DataBaseDir + "/settlement")
	svcCfg.RotationConfig.MaxFileSize = cfg.WAL.RotateMaxBytes
	svcCfg.RotationConfig.MaxDuration = cfg.WAL.RotateMaxAge
	svcCfg.BatchSize = cfg.WAL.FlushBatchSize
	svcCfg.FlushInterval = cfg.WAL.FlushInterval

	svc, err := settlementservice.Recover(svcCfg, store, mx, log)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	s := &Server{
		cfg: cfg, svc: svc, matching: replay.NewClient(cfg.MatchingBaseURL),
		mx: mx, log: log, stop: make(chan struct{}),
	}
	s.registerRoutes(router)

	s.http = &http.Server{Addr: cfg.Settlement.ListenAddr, Handler: router}
	return s, nil
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/last_trade_id", s.handleLastTradeID).Methods(http.MethodGet)
	r.Handle("/metrics", s.mx.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLastTradeID(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"last_trade_id": s.svc.LastTradeID()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// runCatchUpLoop periodically pulls trades this instance hasn't
// settled yet from the matching service (spec §4.6: "on recovery,
// request MatchingCore.replay_trades"). Running this on a ticker
// rather than only once at startup means a settlement-service restart
// is never the only moment it reconciles — a transient partition from
// the matching service self-heals on the next tick.
func (s *Server) runCatchUpLoop() {
	ticker := time.NewTicker(catchUpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), catchUpInterval)
			if err := s.svc.CatchUp(ctx, s.matching); err != nil {
				s.log.Warn("settlementservice: catch-up failed", zap.Error(err))
			}
			cancel()
		case <-s.stop:
			return
		}
	}
}

func (s *Server) runSnapshotLoop() {
	ticker := time.NewTicker(s.cfg.Snapshot.Interval)
	defer ticker.Stop()
	snapCfg := snapshot.DefaultConfig()
	snapCfg.KeepLast = s.cfg.Snapshot.KeepLast

	for {
		select {
		case <-ticker.C:
			if _, err := s.svc.Snapshot(s.svc.WALSeqID(), snapCfg); err != nil {
				s.log.Error("settlementservice: snapshot failed", zap.Error(err))
				if s.mx != nil {
					s.mx.SnapshotFailures.Inc()
				}
				continue
			}
			if s.mx != nil {
				s.mx.SnapshotsTaken.Inc()
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}
	close(s.stop)
	return s.svc.Shutdown()
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Settlement.Enabled {
		fmt.Println("settlementservice: disabled in config, exiting")
		return nil
	}

	log, err := logging.New(logging.Config{Level: "info", Production: true})
	if err != nil {
		return err
	}
	defer log.Sync()

	server, err := newServer(*cfg, log)
	if err != nil {
		return fmt.Errorf("settlementservice: %w", err)
	}

	go server.runCatchUpLoop()
	go server.runSnapshotLoop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("settlementservice: received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("settlementservice: shutdown error", zap.Error(err))
		}
	}()

	log.Info("settlementservice: listening", zap.String("addr", cfg.Settlement.ListenAddr))
	if err := server.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Info("settlementservice: stopped")
	return nil
}

func main() {
	var configPath string
	root := &cobra.Command{
		Use:   "settlementservice",
		Short: "Run SettlementCore: the durable trade and balance-event record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a config.yaml/json/toml file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
