package balance

import "github.com/spotex/matchcore/internal/amount"

// FeeBps computes floor((amount * rateBps) / 10_000) in scaled units
// (spec §4.5 "Determinism and fees"). Delegates to internal/amount so
// the overflow-safe big.Int arithmetic lives in one place.
func FeeBps(amt uint64, rateBps uint32) uint64 {
	return amount.FeeBps(amt, rateBps)
}

// Tier is a VIP fee tier, loaded at startup from configuration (spec
// §4.5: "Fee rates derive from a user's VIP tier (loaded at startup
// from configuration; hot-reload is a §6 concern)").
type Tier uint8

// Schedule maps a user's VIP tier to its maker/taker fee rates in
// basis points. Populated once at startup from internal/config and
// treated as read-only afterward — hot-reload is explicitly out of
// scope.
type Schedule struct {
	tiers map[Tier]TierRates
	byUser map[uint64]Tier
}

// TierRates holds the maker and taker rate for one tier.
type TierRates struct {
	MakerBps uint32
	TakerBps uint32
}

// NewSchedule builds a fee schedule from a tier->rates table and a
// user->tier assignment. Users absent from userTiers fall back to
// Tier 0.
func NewSchedule(tiers map[Tier]TierRates, userTiers map[uint64]Tier) *Schedule {
	return &Schedule{tiers: tiers, byUser: userTiers}
}

// RatesFor returns the maker/taker rates for a user's assigned tier,
// falling back to Tier 0's rates if the tier is unconfigured.
func (s *Schedule) RatesFor(userID uint64) TierRates {
	tier := s.byUser[userID]
	if rates, ok := s.tiers[tier]; ok {
		return rates
	}
	return s.tiers[0]
}
