package settlementservice

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spotex/matchcore/internal/balance"
	"github.com/spotex/matchcore/internal/wal"
)

// SettleTradeCommand applies one trade to the external store and, once
// enough trades have accumulated since the last checkpoint, appends a
// SettlementCheckpoint WAL record (spec §4.6). Legs carries the
// balance-event rows the trade produced on the balance side (one per
// user/asset affected) — settlement treats them as already-computed
// facts to persist, not something it recomputes.
type SettleTradeCommand struct {
	svc   *Service
	Trade wal.TradePayload
	Legs  []balance.Event
}

// NewSettleTradeCommand builds a SettleTradeCommand bound to svc.
func (s *Service) NewSettleTradeCommand(trade wal.TradePayload, legs []balance.Event) *SettleTradeCommand {
	return &SettleTradeCommand{svc: s, Trade: trade, Legs: legs}
}

func (c *SettleTradeCommand) Execute() (interface{}, error) {
	ctx := context.Background()
	s := c.svc

	inserted, err := s.store.WriteTrade(ctx, TradeRecord{
		TradeID:      c.Trade.TradeID,
		SymbolID:     c.Trade.SymbolID,
		Price:        c.Trade.Price,
		Qty:          c.Trade.Qty,
		MakerOrderID: c.Trade.MakerOrderID,
		TakerOrderID: c.Trade.TakerOrderID,
		MakerUser:    c.Trade.MakerUser,
		TakerUser:    c.Trade.TakerUser,
		TsNs:         c.Trade.TsNs,
	})
	if err != nil {
		return nil, fmt.Errorf("settlementservice: write trade %d: %w", c.Trade.TradeID, err)
	}
	if !inserted {
		// Already settled by an earlier pass over this range (spec §4.6
		// idempotent replay) — nothing further to do for this trade.
		return false, nil
	}

	for _, leg := range c.Legs {
		if _, err := s.store.WriteBalanceEvent(ctx, BalanceEventRecord{
			TradeID:   c.Trade.TradeID,
			UserID:    leg.Key.UserID,
			AssetID:   leg.Key.AssetID,
			Amount:    leg.Amount,
			Available: leg.Resulting.Available,
			Frozen:    leg.Resulting.Frozen,
		}); err != nil {
			return nil, fmt.Errorf("settlementservice: write balance event for trade %d: %w", c.Trade.TradeID, err)
		}
	}

	if c.Trade.TradeID > s.lastTradeID {
		s.lastTradeID = c.Trade.TradeID
	}
	s.tradesSinceCkpt++
	if s.metrics != nil {
		s.metrics.CommandsExecuted.Inc()
	}

	if s.tradesSinceCkpt >= s.cfg.CheckpointEvery || time.Since(s.lastCheckpointAt) >= s.cfg.CheckpointInterval {
		if err := s.appendCheckpoint(); err != nil {
			s.onFatal(err)
			return nil, err
		}
	}

	return true, nil
}

func (s *Service) appendCheckpoint() error {
	payload := wal.SettlementCheckpointPayload{LastTradeID: s.lastTradeID}
	if _, err := s.wal.Append(wal.EntrySettlementCheckpoint, 0, wal.EncodeSettlementCheckpoint(payload)); err != nil {
		return fmt.Errorf("settlementservice: append checkpoint record: %w", err)
	}
	s.tradesSinceCkpt = 0
	s.lastCheckpointAt = time.Now()
	if s.metrics != nil {
		s.metrics.WALAppends.Inc()
	}
	s.log.Debug("settlementservice: checkpointed", zap.Uint64("last_trade_id", s.lastTradeID))
	return nil
}
