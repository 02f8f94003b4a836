// Package registry builds a gatewaystub.Registry from config.Config's
// static symbol list — standing in for the out-of-scope configuration
// store (spec §1 Non-goals) the same way internal/gatewaystub stands
// in for the gateway itself.
package registry

import (
	"github.com/spotex/matchcore/internal/config"
	"github.com/spotex/matchcore/internal/gatewaystub"
)

// Static implements gatewaystub.Registry from a fixed symbol table
// loaded once at startup. Account activity is always true: there is
// no out-of-scope user/auth service here to ask.
type Static struct {
	symbols map[uint32]gatewaystub.SymbolInfo
	assets  map[uint32]bool
}

// New builds a Static registry from cfg.Symbols.
func New(symbols []config.SymbolConfig) *Static {
	r := &Static{
		symbols: make(map[uint32]gatewaystub.SymbolInfo, len(symbols)),
		assets:  make(map[uint32]bool),
	}
	for _, s := range symbols {
		r.symbols[s.SymbolID] = gatewaystub.SymbolInfo{
			SymbolID:   s.SymbolID,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
			PriceScale: s.PriceScale,
			QtyScale:   s.QtyScale,
		}
		r.assets[s.BaseAsset] = true
		r.assets[s.QuoteAsset] = true
	}
	return r
}

func (r *Static) Symbol(symbolID uint32) (gatewaystub.SymbolInfo, bool) {
	info, ok := r.symbols[symbolID]
	return info, ok
}

func (r *Static) AssetKnown(assetID uint32) bool {
	return r.assets[assetID]
}

func (r *Static) AccountActive(userID uint64) bool {
	return true
}
