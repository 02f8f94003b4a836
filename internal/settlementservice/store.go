// Package settlementservice implements SettlementCore (spec §2, §4.6):
// it consumes the trade stream produced by MatchingCore and writes
// trade/balance-event rows to an external relational store, using the
// trade id as an idempotency key so replaying the same range twice
// never double-applies a settlement.
//
// Structured like internal/balanceservice and internal/matchingservice
// (Config/DefaultConfig/Service/New/Recover, a WAL + eventqueue stage
// owned by the Service), trading a T+2 netting model for immediate
// per-trade idempotent writes.
package settlementservice

import (
	"context"
	"errors"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TradeRecord is one settled trade row, keyed by trade id so a second
// write for the same trade is a no-op rather than a duplicate.
type TradeRecord struct {
	TradeID      uint64 `gorm:"primaryKey"`
	SymbolID     uint32
	Price        uint64
	Qty          uint64
	MakerOrderID uint64
	TakerOrderID uint64
	MakerUser    uint64
	TakerUser    uint64
	TsNs         uint64
}

func (TradeRecord) TableName() string { return "settlement_trades" }

// BalanceEventRecord mirrors one balance.Event produced by the
// EventSettle mutation for a given trade — one row per (trade, user,
// asset) leg, so a two-sided trade writes two rows.
type BalanceEventRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	TradeID   uint64 `gorm:"uniqueIndex:idx_settlement_leg"`
	UserID    uint64 `gorm:"uniqueIndex:idx_settlement_leg"`
	AssetID   uint32 `gorm:"uniqueIndex:idx_settlement_leg"`
	Amount    uint64
	Available uint64
	Frozen    uint64
}

func (BalanceEventRecord) TableName() string { return "settlement_balance_events" }

// Store is the external settlement sink (spec §4.6 treats it as an
// opaque store reachable by trade id). Narrowed to an interface, the
// way internal/balance.EventSink narrows the NATS publisher, so tests
// exercise the idempotency contract against an in-memory fake instead
// of a live MySQL instance.
type Store interface {
	// WriteTrade inserts rec if no row with its TradeID exists yet.
	// inserted is false when the row was already present — the
	// idempotent-replay case (spec §4.6 "a replayed trade must not be
	// applied twice").
	WriteTrade(ctx context.Context, rec TradeRecord) (inserted bool, err error)
	// WriteBalanceEvent inserts rec if no row with its (TradeID, UserID,
	// AssetID) key exists yet.
	WriteBalanceEvent(ctx context.Context, rec BalanceEventRecord) (inserted bool, err error)
}

// GormStore is the production Store, backed by MySQL via gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a MySQL connection at dsn and migrates the
// settlement tables.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&TradeRecord{}, &BalanceEventRecord{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) WriteTrade(ctx context.Context, rec TradeRecord) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) WriteBalanceEvent(ctx context.Context, rec BalanceEventRecord) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ErrNotFound is a sentinel for store lookups that find nothing; no
// Store method returns it.
var ErrNotFound = errors.New("settlementservice: not found")
