package balanceservice

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/spotex/matchcore/internal/balance"
)

// settleTradeWire is this service's own WAL payload encoding for a
// SettleTradeCommand: the full balance.SettleTradeInput, so replay can
// recompute fees exactly as they were charged rather than needing a
// live fee schedule lookup (spec §4.3: every replayed record reapplies
// the same deterministic effect as the original application). It rides
// under wal.EntryTrade like the matching/settlement services' trade
// records, but its layout is private to this package.
func encodeSettleTrade(in balance.SettleTradeInput) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(64)
	var u64 [8]byte
	var u32 [4]byte
	put64 := func(v uint64) { binary.LittleEndian.PutUint64(u64[:], v); buf.Write(u64[:]) }
	put32 := func(v uint32) { binary.LittleEndian.PutUint32(u32[:], v); buf.Write(u32[:]) }

	put64(in.TradeID)
	put64(in.BuyerID)
	put64(in.SellerID)
	put32(in.BaseAsset)
	put32(in.QuoteAsset)
	put64(in.BaseQty)
	put64(in.QuoteAmount)
	put32(in.BuyerFeeBps)
	put32(in.SellerFeeBps)
	put64(in.FeeAccount)
	return buf.Bytes()
}

func decodeSettleTrade(b []byte) (balance.SettleTradeInput, error) {
	var in balance.SettleTradeInput
	if len(b) != 64 {
		return in, fmt.Errorf("balanceservice: settle-trade payload wrong size %d", len(b))
	}
	r := bytes.NewReader(b)
	var u64 [8]byte
	var u32 [4]byte
	read64 := func() uint64 { r.Read(u64[:]); return binary.LittleEndian.Uint64(u64[:]) }
	read32 := func() uint32 { r.Read(u32[:]); return binary.LittleEndian.Uint32(u32[:]) }

	in.TradeID = read64()
	in.BuyerID = read64()
	in.SellerID = read64()
	in.BaseAsset = read32()
	in.QuoteAsset = read32()
	in.BaseQty = read64()
	in.QuoteAmount = read64()
	in.BuyerFeeBps = read32()
	in.SellerFeeBps = read32()
	in.FeeAccount = read64()
	return in, nil
}
