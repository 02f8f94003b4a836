// Command matchingservice runs MatchingCore (spec §2): the order book
// and matching engine, exposed over HTTP for the balance service (and
// the gateway stub, indirectly) to submit Place/Cancel/Reduce/Move
// against, plus a replay server so the settlement service can catch
// up on trades.
//
// Structured the same way as cmd/balanceservice: one Server type
// owning every collaborator, with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spotex/matchcore/internal/config"
	"github.com/spotex/matchcore/internal/logging"
	"github.com/spotex/matchcore/internal/matchingservice"
	"github.com/spotex/matchcore/internal/metrics"
	"github.com/spotex/matchcore/internal/orders"
	"github.com/spotex/matchcore/internal/replay"
	"github.com/spotex/matchcore/internal/snapshot"
)

// Server wires a matchingservice.Service to its HTTP surface: the
// inbound Place/Cancel/Reduce/Move API, book depth queries, the
// replay server, metrics, and health. Every fill the engine produces
// is forwarded synchronously to the balance service's /v1/settle so
// funds move in the same request that admitted the trade; settlement
// service reconciles independently via CatchUp rather than a live
// push from here (internal/settlementservice's recovery.go).
type Server struct {
	cfg         config.Config
	svc         *matchingservice.Service
	balance     *resty.Client
	depthLevels int
	mx          *metrics.Registry
	log         *zap.Logger
	http        *http.Server

	snapshotStop chan struct{}
}

func symbolInfo(symbols []config.SymbolConfig, symbolID uint32) (config.SymbolConfig, bool) {
	for _, s := range symbols {
		if s.SymbolID == symbolID {
			return s, true
		}
	}
	return config.SymbolConfig{}, false
}

// notionalAmount returns price*qty descaled by the quantity scale,
// matching balanceservice's lockRequirement convention so the two
// services agree on how much quote asset one fill moves.
func notionalAmount(price, qty uint64, qtyScale int) uint64 {
	notional := new(big.Int).Mul(new(big.Int).SetUint64(price), new(big.Int).SetUint64(qty))
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(qtyScale)), nil)
	notional.Quo(notional, scale)
	return notional.Uint64()
}

func newServer(cfg config.Config, log *zap.Logger) (*Server, error) {
	mx := metrics.New("matching")

	symbolIDs := make([]uint32, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbolIDs = append(symbolIDs, s.SymbolID)
	}

	svcCfg := matchingservice.DefaultConfig(cfg.DataBaseDir + "/matching")
	svcCfg.RotationConfig.MaxFileSize = cfg.WAL.RotateMaxBytes
	svcCfg.RotationConfig.MaxDuration = cfg.WAL.RotateMaxAge
	svcCfg.BatchSize = cfg.WAL.FlushBatchSize
	svcCfg.FlushInterval = cfg.WAL.FlushInterval
	svcCfg.Symbols = symbolIDs

	svc, err := matchingservice.Recover(svcCfg, replay.NewClient(cfg.BalanceBaseURL), mx, log)
	if err != nil {
		return nil, err
	}
	// Recover only restores symbols present in a prior snapshot; a
	// symbol newly added to config since then still needs registering.
	for _, symbolID := range symbolIDs {
		svc.Engine().AddSymbol(symbolID)
	}

	balanceClient := resty.New().SetBaseURL(cfg.BalanceBaseURL)

	router := mux.NewRouter()
	s := &Server{
		cfg: cfg, svc: svc, balance: balanceClient, depthLevels: svcCfg.DepthLevels,
		mx: mx, log: log, snapshotStop: make(chan struct{}),
	}
	s.registerRoutes(router)
	replay.NewServer(svcCfg.WALDir, log).Register(router)

	s.http = &http.Server{Addr: cfg.Matching.ListenAddr, Handler: router}
	return s, nil
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/v1/orders/place", s.handlePlace).Methods(http.MethodPost)
	r.HandleFunc("/v1/orders/cancel", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/v1/orders/reduce", s.handleReduce).Methods(http.MethodPost)
	r.HandleFunc("/v1/orders/move", s.handleMove).Methods(http.MethodPost)
	r.HandleFunc("/v1/book/{symbol_id}", s.handleBook).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.mx.Handler())
}

// placeRequest mirrors balanceservice's orderSubmission wire shape —
// the same JSON body balanceservice's /v1/orders forwards here once
// funds are locked.
type placeRequest struct {
	OrderID      uint64 `json:"order_id"`
	UserID       uint64 `json:"user_id"`
	SymbolID     uint32 `json:"symbol_id"`
	Side         uint8  `json:"side"`
	Type         uint8  `json:"order_type"`
	TIF          uint8  `json:"tif"`
	Price        uint64 `json:"price"`
	Qty          uint64 `json:"qty"`
	IngestedAtNs uint64 `json:"ingested_at_ns"`
	ClientID     string `json:"client_id"`
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order := &orders.Order{
		OrderID:      req.OrderID,
		UserID:       req.UserID,
		SymbolID:     req.SymbolID,
		Side:         orders.Side(req.Side),
		Type:         orders.Type(req.Type),
		TIF:          orders.TIF(req.TIF),
		Price:        req.Price,
		Qty:          req.Qty,
		IngestedAtNs: req.IngestedAtNs,
		ClientID:     req.ClientID,
	}
	v, err := s.svc.Submit(r.Context(), s.svc.NewPlaceCommand(order))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	result := v.(*orders.Result)
	s.settleFills(r.Context(), result)
	writeJSON(w, http.StatusOK, result)
}

// settleFills forwards every fill to the balance service so funds
// actually move. A settle failure is logged, not surfaced to the
// placing caller — the trade already happened and is durable in this
// service's WAL; settlement service's CatchUp reconciles any fill
// that never reached the balance service across a restart.
func (s *Server) settleFills(ctx context.Context, result *orders.Result) {
	info, ok := symbolInfo(s.cfg.Symbols, result.Order.SymbolID)
	if !ok {
		return
	}
	for _, fill := range result.Fills {
		buyerID, sellerID := fill.TakerUser, fill.MakerUser
		if result.Order.Side == orders.SideSell {
			buyerID, sellerID = fill.MakerUser, fill.TakerUser
		}
		notional := notionalAmount(fill.Price, fill.Qty, info.QtyScale)
		body := map[string]interface{}{
			"trade_id":     fill.TradeID,
			"buyer_id":     buyerID,
			"seller_id":    sellerID,
			"base_asset":   info.BaseAsset,
			"quote_asset":  info.QuoteAsset,
			"base_qty":     fill.Qty,
			"quote_amount": notional,
		}
		resp, err := s.balance.R().SetContext(ctx).SetBody(body).Post("/v1/settle")
		if err != nil || resp.IsError() {
			s.log.Error("matchingservice: settle forward failed",
				zap.Uint64("trade_id", fill.TradeID), zap.Error(err))
		}
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SymbolID uint32 `json:"symbol_id"`
		OrderID  uint64 `json:"order_id"`
		UserID   uint64 `json:"user_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := s.svc.Submit(r.Context(), s.svc.NewCancelCommand(req.SymbolID, req.OrderID, req.UserID))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleReduce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SymbolID uint32 `json:"symbol_id"`
		OrderID  uint64 `json:"order_id"`
		UserID   uint64 `json:"user_id"`
		Delta    uint64 `json:"delta"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := s.svc.Submit(r.Context(), s.svc.NewReduceCommand(req.SymbolID, req.OrderID, req.UserID, req.Delta))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SymbolID uint32 `json:"symbol_id"`
		OrderID  uint64 `json:"order_id"`
		UserID   uint64 `json:"user_id"`
		NewPrice uint64 `json:"new_price"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := s.svc.Submit(r.Context(), s.svc.NewMoveCommand(req.SymbolID, req.OrderID, req.UserID, req.NewPrice))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	symbolID, err := strconv.ParseUint(mux.Vars(r)["symbol_id"], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	book := s.svc.Engine().GetOrderBook(uint32(symbolID))
	if book == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown symbol %d", symbolID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol_id": symbolID,
		"bids":      book.GetBidDepth(s.depthLevels),
		"asks":      book.GetAskDepth(s.depthLevels),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
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
				s.log.Error("matchingservice: snapshot failed", zap.Error(err))
				if s.mx != nil {
					s.mx.SnapshotFailures.Inc()
				}
				continue
			}
			if s.mx != nil {
				s.mx.SnapshotsTaken.Inc()
			}
		case <-s.snapshotStop:
			return
		}
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}
	close(s.snapshotStop)
	return s.svc.Shutdown()
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Matching.Enabled {
		fmt.Println("matchingservice: disabled in config, exiting")
		return nil
	}

	log, err := logging.New(logging.Config{Level: "info", Production: true})
	if err != nil {
		return err
	}
	defer log.Sync()

	server, err := newServer(*cfg, log)
	if err != nil {
		return fmt.Errorf("matchingservice: %w", err)
	}

	go server.runSnapshotLoop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("matchingservice: received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("matchingservice: shutdown error", zap.Error(err))
		}
	}()

	log.Info("matchingservice: listening", zap.String("addr", cfg.Matching.ListenAddr))
	if err := server.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Info("matchingservice: stopped")
	return nil
}

func main() {
	var configPath string
	root := &cobra.Command{
		Use:   "matchingservice",
		Short: "Run MatchingCore: the order book and matching engine service",
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
