package matchingservice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spotex/matchcore/internal/matching"
	"github.com/spotex/matchcore/internal/metrics"
	"github.com/spotex/matchcore/internal/orders"
	"github.com/spotex/matchcore/internal/replay"
	"github.com/spotex/matchcore/internal/snapshot"
	"github.com/spotex/matchcore/internal/wal"
)

// Recover rebuilds a Service from cfg's snapshot and WAL directories
// (spec §4.3 "Hot start"): load the latest complete snapshot (falling
// back to cold start if none exists or all are corrupt), then replay
// every WAL record with seq_id beyond the snapshot's wal_seq_id.
//
// balanceClient, when non-nil, is used for one synchronous catch-up
// pass against BalanceCore's own replay server after local replay
// finishes (spec §2, §6.4: "replay_orders(): balance → matching").
// This service keeps its own local WAL as the fast path for recovery —
// its seq_id is the matching priority clock for this symbol set, a
// different sequence space than BalanceCore's — but every order this
// service ever places first has to clear a Lock against BalanceCore,
// so BalanceCore's WAL is the complete, authoritative order history:
// the catch-up exists to pick up any order BalanceCore locked funds
// for that never made it into this service's own WAL (the admission
// crashed between the Lock and this service's local Append). Orders
// already known locally are skipped by order id so neither pass ever
// double-places the same order into engine.
func Recover(cfg Config, balanceClient *replay.Client, metricsReg *metrics.Registry, log *zap.Logger) (*Service, error) {
	engine := matching.NewEngine()
	for _, symbolID := range cfg.Symbols {
		engine.AddSymbol(symbolID)
	}

	var nextSeq uint64 = 1
	var epoch uint32

	loaded, err := snapshot.LoadLatest(cfg.SnapshotDir)
	switch {
	case err == nil:
		if loadErr := loadOrderBooks(engine, loaded); loadErr != nil {
			return nil, loadErr
		}
		f, openErr := loaded.OpenFile(counterFileName)
		if openErr != nil {
			return nil, fmt.Errorf("matchingservice: open trade counter: %w", openErr)
		}
		lastAssigned, readErr := readTradeCounter(f)
		f.Close()
		if readErr != nil {
			return nil, fmt.Errorf("matchingservice: decode trade counter: %w", readErr)
		}
		engine.RestoreTradeCounter(lastAssigned)
		nextSeq = loaded.Metadata.WalSeqID + 1
		log.Info("matchingservice: loaded snapshot", zap.Uint64("wal_seq_id", loaded.Metadata.WalSeqID))
	case errors.Is(err, snapshot.ErrNoSnapshot):
		log.Info("matchingservice: no snapshot found, cold start")
	default:
		return nil, fmt.Errorf("matchingservice: load snapshot: %w", err)
	}

	seen := make(map[uint64]struct{})
	fromSeq := nextSeq - 1
	result, replayErr := wal.Replay(cfg.WALDir, fromSeq, nil, func(rec wal.Record) bool {
		applyReplayedRecord(engine, seen, rec)
		return true
	})
	if replayErr != nil {
		return nil, fmt.Errorf("matchingservice: replay wal: %w", replayErr)
	}
	if result.HitBoundary {
		epoch++
		log.Warn("matchingservice: WAL CRC boundary during recovery, bumping epoch",
			zap.Uint64("last_seq", result.LastSeq), zap.Error(result.BoundaryErr))
	}

	if balanceClient != nil {
		if catchUpErr := catchUpFromBalance(engine, balanceClient, seen, log); catchUpErr != nil {
			log.Error("matchingservice: catch-up against balance core failed", zap.Error(catchUpErr))
		}
	}

	startSeq := result.LastSeq + 1
	if startSeq < nextSeq {
		startSeq = nextSeq
	}
	w, err := wal.Open(cfg.WALDir, epoch, startSeq, cfg.RotationConfig)
	if err != nil {
		return nil, fmt.Errorf("matchingservice: reopen wal: %w", err)
	}

	return newService(cfg, engine, w, metricsReg, log), nil
}

// catchUpFromBalance pulls BalanceCore's full Order/Cancel history via
// client and applies whichever of it this service's own WAL never saw
// (spec §6.4 replay_orders()). It runs once, synchronously, as the
// last step of Recover — unlike settlementservice.CatchUp (a live
// ticker pulling an ongoing trade stream, see
// internal/settlementservice/recovery.go), BalanceCore's order history
// only grows via admissions this service itself is always a party to,
// so one pass at startup is sufficient; there is no live gap to poll
// for afterwards.
func catchUpFromBalance(engine *matching.Engine, client *replay.Client, seen map[uint64]struct{}, log *zap.Logger) error {
	req := replay.Request{FromSeq: 0, ToSeq: math.MaxUint64}
	return client.Fetch(context.Background(), req, func(ev replay.Event) replay.ControlFlow {
		switch ev.EntryType {
		case wal.EntryOrder:
			p, err := wal.DecodeOrder(ev.Payload)
			if err != nil {
				log.Warn("matchingservice: malformed order record from balance core during catch-up", zap.Error(err))
				return replay.Continue
			}
			if _, ok := seen[p.OrderID]; ok {
				return replay.Continue
			}
			engine.Place(&orders.Order{
				OrderID:      p.OrderID,
				UserID:       p.UserID,
				SymbolID:     p.SymbolID,
				Side:         orders.Side(p.Side),
				Type:         orders.Type(p.OrderType),
				TIF:          orders.TIF(p.TIF),
				Price:        p.Price,
				Qty:          p.Qty,
				SeqID:        ev.SeqID,
				IngestedAtNs: p.IngestedAtNs,
				ClientID:     p.ClientID,
			})
			seen[p.OrderID] = struct{}{}
		case wal.EntryCancel:
			p, err := wal.DecodeCancel(ev.Payload)
			if err != nil {
				log.Warn("matchingservice: malformed cancel record from balance core during catch-up", zap.Error(err))
				return replay.Continue
			}
			for _, symbolID := range engine.Symbols() {
				if o := engine.GetOrder(symbolID, p.OrderID); o != nil {
					engine.Cancel(symbolID, p.OrderID)
					break
				}
			}
		}
		return replay.Continue
	})
}

// loadOrderBooks discovers every orderbook-{symbol_id}.bin file listed
// in the snapshot's metadata (not from cfg.Symbols — a snapshot is
// self-describing) and restores each symbol's resting orders.
func loadOrderBooks(engine *matching.Engine, loaded *snapshot.Loaded) error {
	for _, fm := range loaded.Metadata.Files {
		if !strings.HasPrefix(fm.Name, "orderbook-") || !strings.HasSuffix(fm.Name, ".bin") {
			continue
		}
		symbolStr := strings.TrimSuffix(strings.TrimPrefix(fm.Name, "orderbook-"), ".bin")
		symbolID, err := strconv.ParseUint(symbolStr, 10, 32)
		if err != nil {
			return fmt.Errorf("matchingservice: parse symbol from %q: %w", fm.Name, err)
		}

		f, err := loaded.OpenFile(fm.Name)
		if err != nil {
			return fmt.Errorf("matchingservice: open %s: %w", fm.Name, err)
		}
		restingOrders, err := readOrderBookFile(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("matchingservice: decode %s: %w", fm.Name, err)
		}

		engine.AddSymbol(uint32(symbolID))
		book := engine.GetOrderBook(uint32(symbolID))
		for _, o := range restingOrders {
			if err := book.AddOrder(o); err != nil {
				return fmt.Errorf("matchingservice: restore order %d: %w", o.OrderID, err)
			}
		}
	}
	return nil
}

// applyReplayedRecord reapplies one WAL record's deterministic effect
// to engine during recovery (spec §4.3: "every replayed record
// reapplies the same deterministic effect as the original
// application — ... assigning trade ids during matching"). Trade
// records are not replayed through Place: they are the byproduct
// matching already produced; replaying the causing Order record
// reproduces the same fills and the same trade ids via the engine's
// restored dense counter, so a Trade record on its own carries nothing
// left to apply.
//
// seen collects every OrderID this pass places, so the balance-core
// catch-up that follows local replay (catchUpFromBalance) never places
// the same order twice — engine.Place has no id-level guard of its
// own.
func applyReplayedRecord(engine *matching.Engine, seen map[uint64]struct{}, rec wal.Record) {
	switch rec.Header.EntryType {
	case wal.EntryOrder:
		p, err := wal.DecodeOrder(rec.Payload)
		if err != nil {
			return
		}
		order := &orders.Order{
			OrderID:      p.OrderID,
			UserID:       p.UserID,
			SymbolID:     p.SymbolID,
			Side:         orders.Side(p.Side),
			Type:         orders.Type(p.OrderType),
			TIF:          orders.TIF(p.TIF),
			Price:        p.Price,
			Qty:          p.Qty,
			SeqID:        rec.Header.SeqID,
			IngestedAtNs: p.IngestedAtNs,
			ClientID:     p.ClientID,
		}
		engine.Place(order)
		seen[p.OrderID] = struct{}{}
	case wal.EntryCancel:
		p, err := wal.DecodeCancel(rec.Payload)
		if err != nil {
			return
		}
		for _, symbolID := range engine.Symbols() {
			if order := engine.GetOrder(symbolID, p.OrderID); order != nil {
				engine.Cancel(symbolID, p.OrderID)
				return
			}
		}
	case wal.EntryReduce:
		p, err := wal.DecodeReduce(rec.Payload)
		if err != nil {
			return
		}
		for _, symbolID := range engine.Symbols() {
			if order := engine.GetOrder(symbolID, p.OrderID); order != nil {
				engine.Reduce(symbolID, p.OrderID, p.Delta)
				return
			}
		}
	case wal.EntryMove:
		p, err := wal.DecodeMove(rec.Payload)
		if err != nil {
			return
		}
		for _, symbolID := range engine.Symbols() {
			if order := engine.GetOrder(symbolID, p.OrderID); order != nil {
				engine.Move(symbolID, p.OrderID, p.NewPrice)
				return
			}
		}
	}
}
