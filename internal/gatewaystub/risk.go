package gatewaystub

import (
	"sync"

	"github.com/spotex/matchcore/internal/orders"
)

// RiskConfig configures the pre-trade risk checker: size, value, price
// band, position, and daily volume checks over uint32 symbol ids and
// scaled uint64 amounts.
type RiskConfig struct {
	MaxOrderQty      uint64
	MaxOrderValue    uint64
	MaxPositionSize  uint64
	MaxDailyVolume   uint64
	PriceBandBps     uint32 // max deviation from reference price, in bps
	SymbolPositionCap map[uint32]uint64
}

// DefaultRiskConfig returns permissive defaults suitable for a
// load-test or demo environment.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxOrderQty:     1_000_000_00000000,
		MaxOrderValue:   1_000_000_000000,
		MaxPositionSize: 10_000_000_00000000,
		MaxDailyVolume:  100_000_000_000000,
		PriceBandBps:    1000, // 10%
	}
}

// RiskChecker runs pre-trade checks on incoming orders before they
// reach a service's WAL (spec §7 validation boundary).
type RiskChecker struct {
	cfg RiskConfig

	mu              sync.Mutex
	positions       map[uint64]map[uint32]int64 // user -> symbol -> signed position
	dailyVolume     map[uint64]uint64
	referencePrices map[uint32]uint64
}

// NewRiskChecker creates a risk checker with the given configuration.
func NewRiskChecker(cfg RiskConfig) *RiskChecker {
	return &RiskChecker{
		cfg:             cfg,
		positions:       make(map[uint64]map[uint32]int64),
		dailyVolume:     make(map[uint64]uint64),
		referencePrices: make(map[uint32]uint64),
	}
}

// Check runs every configured risk check on order, stopping at the
// first failure.
func (c *RiskChecker) Check(o *orders.Order) error {
	if o.Qty > c.cfg.MaxOrderQty {
		return reject(CodeRiskRejected, "order qty %d exceeds max %d", o.Qty, c.cfg.MaxOrderQty)
	}

	if o.Price > 0 {
		orderValue := o.Price * o.Qty
		if orderValue > c.cfg.MaxOrderValue {
			return reject(CodeRiskRejected, "order value %d exceeds max %d", orderValue, c.cfg.MaxOrderValue)
		}
	}

	if o.Type == orders.TypeLimit && o.Price > 0 {
		if err := c.checkPriceBand(o); err != nil {
			return err
		}
	}

	if err := c.checkPositionLimit(o); err != nil {
		return err
	}

	if o.Price > 0 {
		orderValue := o.Price * o.Qty
		if err := c.checkDailyVolume(o.UserID, orderValue); err != nil {
			return err
		}
	}

	return nil
}

func (c *RiskChecker) checkPriceBand(o *orders.Order) error {
	c.mu.Lock()
	ref, exists := c.referencePrices[o.SymbolID]
	c.mu.Unlock()

	if !exists || ref == 0 || c.cfg.PriceBandBps == 0 {
		return nil
	}

	band := (ref * uint64(c.cfg.PriceBandBps)) / 10_000
	low, high := ref-band, ref+band
	if band > ref {
		low = 0
	}
	if o.Price < low || o.Price > high {
		return reject(CodeRiskRejected, "price %d outside band [%d, %d] of reference %d", o.Price, low, high, ref)
	}
	return nil
}

func (c *RiskChecker) checkPositionLimit(o *orders.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.positions[o.UserID][o.SymbolID]
	delta := int64(o.Qty)
	if o.Side == orders.SideSell {
		delta = -delta
	}
	projected := current + delta
	if projected < 0 {
		projected = -projected
	}

	limit := c.cfg.MaxPositionSize
	if symCap, ok := c.cfg.SymbolPositionCap[o.SymbolID]; ok {
		limit = symCap
	}
	if uint64(projected) > limit {
		return reject(CodeRiskRejected, "projected position %d exceeds limit %d", projected, limit)
	}
	return nil
}

func (c *RiskChecker) checkDailyVolume(userID uint64, orderValue uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dailyVolume[userID]+orderValue > c.cfg.MaxDailyVolume {
		return reject(CodeRiskRejected, "would exceed daily volume limit %d", c.cfg.MaxDailyVolume)
	}
	return nil
}

// RecordFill updates position and daily-volume bookkeeping for one
// fill. The pre-trade Check path does not call it, and no other code in
// this module does either; until it is called, the position-limit and
// daily-volume checks see zero for every user.
func (c *RiskChecker) RecordFill(userID uint64, symbolID uint32, side orders.Side, qty, price uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.positions[userID] == nil {
		c.positions[userID] = make(map[uint32]int64)
	}
	if side == orders.SideBuy {
		c.positions[userID][symbolID] += int64(qty)
	} else {
		c.positions[userID][symbolID] -= int64(qty)
	}
	c.dailyVolume[userID] += qty * price
}

// SetReferencePrice records the reference price for a symbol that the
// price-band check compares against. No code in this module calls it;
// while a symbol has no reference price, the band check is skipped.
func (c *RiskChecker) SetReferencePrice(symbolID uint32, price uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.referencePrices[symbolID] = price
}

// ResetDailyVolume clears every user's daily volume counter. Called
// once per trading day by an external scheduler.
func (c *RiskChecker) ResetDailyVolume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dailyVolume = make(map[uint64]uint64)
}
