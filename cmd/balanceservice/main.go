// Command balanceservice runs BalanceCore (spec §2): the ledger of
// available/frozen funds per (user, asset), exposed over HTTP for the
// gateway stub and matching service to reach, plus a replay server so
// the matching service can catch up on orders.
//
// One Server type owns every collaborator (NewServer/Start/Shutdown),
// with graceful shutdown on SIGINT/SIGTERM — this service's share of
// what used to be one monolithic process, now split three ways.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"math/big"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spotex/matchcore/internal/balance"
	"github.com/spotex/matchcore/internal/balanceservice"
	"github.com/spotex/matchcore/internal/config"
	"github.com/spotex/matchcore/internal/gatewaystub"
	"github.com/spotex/matchcore/internal/logging"
	"github.com/spotex/matchcore/internal/metrics"
	"github.com/spotex/matchcore/internal/orders"
	"github.com/spotex/matchcore/internal/registry"
	"github.com/spotex/matchcore/internal/replay"
	"github.com/spotex/matchcore/internal/snapshot"
)

// Server wires a balanceservice.Service to its HTTP surface: the
// inbound lock/unlock/deposit/withdraw/settle API, the replay server
// for downstream catch-up, metrics, and health.
type Server struct {
	cfg      config.Config
	svc      *balanceservice.Service
	pub      *balanceservice.NatsPublisher
	reg      *registry.Static
	matching *resty.Client
	mx       *metrics.Registry
	log      *zap.Logger
	http     *http.Server

	snapshotStop chan struct{}
}

func newServer(cfg config.Config, log *zap.Logger) (*Server, error) {
	mx := metrics.New("balance")

	pub, err := balanceservice.NewNatsPublisher(cfg.NatsURL, log)
	if err != nil {
		return nil, fmt.Errorf("balanceservice: connect nats: %w", err)
	}

	reg := registry.New(cfg.Symbols)

	svcCfg := balanceservice.DefaultConfig(cfg.DataBaseDir + "/balance")
	svcCfg.RotationConfig.MaxFileSize = cfg.WAL.RotateMaxBytes
	svcCfg.RotationConfig.MaxDuration = cfg.WAL.RotateMaxAge
	svcCfg.BatchSize = cfg.WAL.FlushBatchSize
	svcCfg.FlushInterval = cfg.WAL.FlushInterval
	svcCfg.LockRequirement = func(o balanceservice.OrderIntent) (uint32, uint64) {
		info, ok := reg.Symbol(o.SymbolID)
		if !ok {
			return 0, 0
		}
		return lockRequirement(orders.Side(o.Side), info, o.Price, o.Qty)
	}

	// Recover always runs: it falls back to an empty ledger and a
	// fresh WAL when cfg.DataBaseDir has never been used before (spec
	// §4.3 "cold start" is just "hot start with nothing to load").
	svc, err := balanceservice.Recover(svcCfg, pub, mx, log)
	if err != nil {
		pub.Close()
		return nil, err
	}

	matchingClient := resty.New().SetBaseURL(cfg.MatchingBaseURL)

	router := mux.NewRouter()
	s := &Server{cfg: cfg, svc: svc, pub: pub, reg: reg, matching: matchingClient, mx: mx, log: log, snapshotStop: make(chan struct{})}
	s.registerRoutes(router)
	replay.NewServer(svcCfg.WALDir, log).Register(router)

	s.http = &http.Server{Addr: cfg.Balance.ListenAddr, Handler: router}
	return s, nil
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/v1/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	r.HandleFunc("/v1/lock", s.handleLock).Methods(http.MethodPost)
	r.HandleFunc("/v1/unlock", s.handleUnlock).Methods(http.MethodPost)
	r.HandleFunc("/v1/deposit", s.handleDeposit).Methods(http.MethodPost)
	r.HandleFunc("/v1/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	r.HandleFunc("/v1/settle", s.handleSettle).Methods(http.MethodPost)
	r.HandleFunc("/v1/balances/{user_id}/{asset_id}", s.handleGetBalance).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.mx.Handler())
}

// lockRequest is the wire shape for the direct /v1/lock endpoint — a
// thinner surface than orderSubmission for locking against an order
// whose shape the caller already knows is correctly sized; the order
// fields are still carried so the resulting WAL record is a complete
// ValidOrder, not just a fund movement.
type lockRequest struct {
	OrderID  uint64 `json:"order_id"`
	UserID   uint64 `json:"user_id"`
	AssetID  uint32 `json:"asset_id"`
	Amount   uint64 `json:"amount"`
	SymbolID uint32 `json:"symbol_id"`
	Side     uint8  `json:"side"`
	Type     uint8  `json:"order_type"`
	TIF      uint8  `json:"tif"`
	Price    uint64 `json:"price"`
	Qty      uint64 `json:"qty"`
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order := balanceservice.OrderIntent{
		SymbolID: req.SymbolID, Side: req.Side, OrderType: req.Type, TIF: req.TIF,
		Price: req.Price, Qty: req.Qty,
	}
	bal, err := s.svc.Submit(r.Context(), s.svc.NewLockCommand(req.OrderID, req.UserID, req.AssetID, req.Amount, order))
	writeResult(w, bal, err)
}

type unlockRequest struct {
	OrderID uint64 `json:"order_id"`
	UserID  uint64 `json:"user_id"`
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	bal, err := s.svc.Submit(r.Context(), s.svc.NewUnlockCommand(req.OrderID, req.UserID))
	writeResult(w, bal, err)
}

// orderSubmission is the wire shape gatewaystub.Gateway's HTTP
// Submitter adapter posts here (spec §4.4: "the gateway submits
// already-validated commands... into the balance core's inbound
// queue"). The order already carries its external id and IngestedAtNs
// — those are the gateway's responsibility, not this service's.
type orderSubmission struct {
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

// handleSubmitOrder locks the funds a new order requires, then
// forwards it to the matching service. If the matching service can't
// be reached the lock is rolled back, so a network partition never
// leaves funds stuck frozen against an order matching never saw (spec
// §7 "Partition BalanceCore from... MatchingCore": reject, do not
// strand funds).
func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req orderSubmission
	if !decodeJSON(w, r, &req) {
		return
	}
	info, ok := s.reg.Symbol(req.SymbolID)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown symbol id %d", req.SymbolID))
		return
	}

	lockAsset, lockAmount := lockRequirement(orders.Side(req.Side), info, req.Price, req.Qty)
	order := balanceservice.OrderIntent{
		SymbolID: req.SymbolID, Side: req.Side, OrderType: req.Type, TIF: req.TIF,
		Price: req.Price, Qty: req.Qty, IngestedAtNs: req.IngestedAtNs, ClientID: req.ClientID,
	}
	if _, err := s.svc.Submit(r.Context(), s.svc.NewLockCommand(req.OrderID, req.UserID, lockAsset, lockAmount, order)); err != nil {
		writeResult(w, nil, err)
		return
	}

	resp, err := s.matching.R().
		SetContext(r.Context()).
		SetBody(req).
		Post("/v1/orders/place")
	if err != nil || resp.IsError() {
		if _, unlockErr := s.svc.Submit(r.Context(), s.svc.NewUnlockCommand(req.OrderID, req.UserID)); unlockErr != nil {
			s.log.Error("balanceservice: rollback unlock failed", zap.Error(unlockErr))
		}
		if err == nil {
			err = fmt.Errorf("matchingservice: %s", resp.String())
		}
		writeError(w, http.StatusBadGateway, fmt.Errorf("forward to matching service: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body())
}

// lockRequirement returns which asset and how much of it a new order
// reserves: the full base quantity for a sell, or the notional
// (price*qty, descaled by the symbol's quantity scale) in the quote
// asset for a buy. Market buys have no price to size a lock from in
// this simplified gateway, so they lock nothing further than what the
// matching engine's IOC semantics already bound by qty.
func lockRequirement(side orders.Side, info gatewaystub.SymbolInfo, price, qty uint64) (asset uint32, amount uint64) {
	if side == orders.SideSell {
		return info.BaseAsset, qty
	}
	if price == 0 {
		return info.QuoteAsset, 0
	}
	notional := new(big.Int).Mul(new(big.Int).SetUint64(price), new(big.Int).SetUint64(qty))
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(info.QtyScale)), nil)
	notional.Quo(notional, scale)
	return info.QuoteAsset, notional.Uint64()
}

type depositWithdrawRequest struct {
	UserID    uint64 `json:"user_id"`
	AssetID   uint32 `json:"asset_id"`
	Amount    string `json:"amount"`
	Scale     int    `json:"scale"`
	RequestID uint64 `json:"request_id"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositWithdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd, err := s.svc.NewDepositCommand(req.UserID, req.AssetID, req.Amount, req.Scale, req.RequestID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bal, err := s.svc.Submit(r.Context(), cmd)
	writeResult(w, bal, err)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req depositWithdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd, err := s.svc.NewWithdrawCommand(req.UserID, req.AssetID, req.Amount, req.Scale, req.RequestID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bal, err := s.svc.Submit(r.Context(), cmd)
	writeResult(w, bal, err)
}

type settleRequest struct {
	TradeID     uint64 `json:"trade_id"`
	BuyerID     uint64 `json:"buyer_id"`
	SellerID    uint64 `json:"seller_id"`
	BaseAsset   uint32 `json:"base_asset"`
	QuoteAsset  uint32 `json:"quote_asset"`
	BaseQty     uint64 `json:"base_qty"`
	QuoteAmount uint64 `json:"quote_amount"`
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd := s.svc.NewSettleTradeCommand(req.TradeID, req.BuyerID, req.SellerID, req.BaseAsset, req.QuoteAsset, req.BaseQty, req.QuoteAmount)
	result, err := s.svc.Submit(r.Context(), cmd)
	writeResult(w, result, err)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var userID uint64
	var assetID uint32
	if _, err := fmt.Sscanf(vars["user_id"], "%d", &userID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := fmt.Sscanf(vars["asset_id"], "%d", &assetID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bal := s.svc.Ledger().Get(balance.Key{UserID: userID, AssetID: assetID})
	writeJSON(w, http.StatusOK, bal)
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

// writeResult maps a command outcome to an HTTP response.
// Insufficient-funds rejections (spec §7: "reject at gateway boundary;
// no WAL entry") are answered with 400; any other command error is
// answered with 422.
func writeResult(w http.ResponseWriter, v interface{}, err error) {
	if err != nil {
		code := http.StatusUnprocessableEntity
		if errors.Is(err, balance.ErrInsufficientAvailable) || errors.Is(err, balance.ErrInsufficientFrozen) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// runSnapshotLoop periodically snapshots the ledger per cfg.Snapshot,
// the same ticker shape matchingservice and settlementservice use.
func (s *Server) runSnapshotLoop() {
	ticker := time.NewTicker(s.cfg.Snapshot.Interval)
	defer ticker.Stop()
	snapCfg := snapshot.DefaultConfig()
	snapCfg.KeepLast = s.cfg.Snapshot.KeepLast

	for {
		select {
		case <-ticker.C:
			if _, err := s.svc.Snapshot(s.svc.WALSeqID(), snapCfg); err != nil {
				s.log.Error("balanceservice: snapshot failed", zap.Error(err))
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

// Shutdown stops accepting HTTP requests, then the snapshot loop, then
// drains the command queue and closes the WAL, in that order so
// nothing durable is lost (spec §7).
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}
	close(s.snapshotStop)
	if err := s.svc.Shutdown(); err != nil {
		return err
	}
	s.pub.Close()
	return nil
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Balance.Enabled {
		fmt.Println("balanceservice: disabled in config, exiting")
		return nil
	}

	log, err := logging.New(logging.Config{Level: "info", Production: true})
	if err != nil {
		return err
	}
	defer log.Sync()

	server, err := newServer(*cfg, log)
	if err != nil {
		return fmt.Errorf("balanceservice: %w", err)
	}

	go server.runSnapshotLoop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("balanceservice: received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("balanceservice: shutdown error", zap.Error(err))
		}
	}()

	log.Info("balanceservice: listening", zap.String("addr", cfg.Balance.ListenAddr))
	if err := server.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Info("balanceservice: stopped")
	return nil
}

func main() {
	var configPath string
	root := &cobra.Command{
		Use:   "balanceservice",
		Short: "Run BalanceCore: the available/frozen balance ledger service",
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
