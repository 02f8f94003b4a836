// Package balance implements the balance ledger described in spec
// §4.5: the authoritative available/frozen split for every
// (user_id, asset_id) pair, with lock/unlock/settle_trade/deposit/
// withdraw operations and a balance-event stream for downstream
// consumers (settlement, risk).
//
// Structured as one balance map keyed by (user id, asset id) with DVP
// settlement, built around available/frozen balances instead of cash
// plus share holdings, since this ledger covers every asset
// symmetrically rather than treating cash as special. It holds no lock
// of its own; see Ledger.
package balance

import (
	"errors"
	"fmt"
)

// Key identifies one (user, asset) balance row.
type Key struct {
	UserID  uint64
	AssetID uint32
}

// Balance is the available/frozen split for one Key (spec §3 Balance
// type). LockVersion/SettleVersion increase monotonically on every
// lock/unlock and every settle_trade touching this balance, giving
// callers a cheap optimistic-concurrency check.
type Balance struct {
	Available     uint64
	Frozen        uint64
	LockVersion   uint64
	SettleVersion uint64
}

var (
	ErrInsufficientAvailable = errors.New("balance: insufficient available funds")
	ErrInsufficientFrozen    = errors.New("balance: insufficient frozen funds")
)

// Ledger is the in-memory balance store for one balance-service
// instance. Not safe for concurrent use across goroutines — per spec
// §5, exactly one single-threaded worker ever touches live state; callers
// needing concurrent access must serialize through that worker's queue.
type Ledger struct {
	balances map[Key]*Balance
	sink     EventSink
}

// NewLedger creates an empty ledger. sink may be nil, in which case
// balance events are produced but discarded (useful in tests).
func NewLedger(sink EventSink) *Ledger {
	if sink == nil {
		sink = NoopSink
	}
	return &Ledger{balances: make(map[Key]*Balance), sink: sink}
}

func (l *Ledger) get(key Key) *Balance {
	b, ok := l.balances[key]
	if !ok {
		b = &Balance{}
		l.balances[key] = b
	}
	return b
}

// Get returns a copy of the current balance for key (zero value if the
// (user, asset) pair has never been touched).
func (l *Ledger) Get(key Key) Balance {
	if b, ok := l.balances[key]; ok {
		return *b
	}
	return Balance{}
}

// Row is one (Key, Balance) pair, as serialized into a snapshot.
type Row struct {
	Key     Key
	Balance Balance
}

// Export returns every non-zero-key balance row, for snapshotting.
// Order is unspecified; callers that need determinism sort the result.
func (l *Ledger) Export() []Row {
	rows := make([]Row, 0, len(l.balances))
	for k, b := range l.balances {
		rows = append(rows, Row{Key: k, Balance: *b})
	}
	return rows
}

// Import replaces the ledger's state with rows, as loaded from a
// snapshot (spec §4.3 hot start step 3). Must only be called before
// any command has been processed.
func (l *Ledger) Import(rows []Row) {
	l.balances = make(map[Key]*Balance, len(rows))
	for _, row := range rows {
		b := row.Balance
		l.balances[row.Key] = &b
	}
}

// Deposit credits amount to available, per spec §4.5 ("Deposit and
// withdrawal affect only available").
func (l *Ledger) Deposit(key Key, amount uint64) (Balance, error) {
	b := l.get(key)
	b.Available += amount
	l.sink.Emit(Event{Type: EventDeposit, Key: key, Amount: amount, Resulting: *b})
	return *b, nil
}

// Withdraw debits amount from available. Fails if available < amount.
func (l *Ledger) Withdraw(key Key, amount uint64) (Balance, error) {
	b := l.get(key)
	if b.Available < amount {
		return *b, ErrInsufficientAvailable
	}
	b.Available -= amount
	l.sink.Emit(Event{Type: EventWithdraw, Key: key, Amount: amount, Resulting: *b})
	return *b, nil
}

// Lock moves amount from available to frozen (spec §4.5 lock). Used
// when an order is accepted, to reserve the funds it could consume.
func (l *Ledger) Lock(key Key, amount uint64) (Balance, error) {
	b := l.get(key)
	if b.Available < amount {
		return *b, ErrInsufficientAvailable
	}
	b.Available -= amount
	b.Frozen += amount
	b.LockVersion++
	l.sink.Emit(Event{Type: EventLock, Key: key, Amount: amount, Resulting: *b})
	return *b, nil
}

// Unlock reverses a Lock: moves amount from frozen back to available
// (spec §4.5 unlock). Used on cancel/reduce/expire.
func (l *Ledger) Unlock(key Key, amount uint64) (Balance, error) {
	b := l.get(key)
	if b.Frozen < amount {
		return *b, ErrInsufficientFrozen
	}
	b.Frozen -= amount
	b.Available += amount
	b.LockVersion++
	l.sink.Emit(Event{Type: EventUnlock, Key: key, Amount: amount, Resulting: *b})
	return *b, nil
}

// SettleTradeInput describes one trade's economic effect, already
// computed by the caller (matching gives quantities/price; this ledger
// computes fees and applies the transfer).
type SettleTradeInput struct {
	TradeID     uint64
	BuyerID     uint64
	SellerID    uint64
	BaseAsset   uint32
	QuoteAsset  uint32
	BaseQty     uint64
	QuoteAmount uint64
	BuyerFeeBps uint32
	SellerFeeBps uint32
	FeeAccount  uint64
}

// SettleTradeResult reports the fee actually charged each side, for
// the settlement-service's trade record.
type SettleTradeResult struct {
	BuyerFee  uint64
	SellerFee uint64
}

// SettleTrade atomically applies one matched trade's transfer (spec
// §4.5 settle_trade): buyer loses quote_amount from frozen and gains
// base_qty minus its fee into available; seller loses base_qty from
// frozen and gains quote_amount minus its fee into available; the fee
// account gains both fees. Each side pays its fee in the asset it
// receives, per spec.
func (l *Ledger) SettleTrade(in SettleTradeInput) (SettleTradeResult, error) {
	buyerQuote := Key{UserID: in.BuyerID, AssetID: in.QuoteAsset}
	buyerBase := Key{UserID: in.BuyerID, AssetID: in.BaseAsset}
	sellerBase := Key{UserID: in.SellerID, AssetID: in.BaseAsset}
	sellerQuote := Key{UserID: in.SellerID, AssetID: in.QuoteAsset}

	bBuyerQuote := l.get(buyerQuote)
	if bBuyerQuote.Frozen < in.QuoteAmount {
		return SettleTradeResult{}, fmt.Errorf("%w: buyer %d quote asset %d", ErrInsufficientFrozen, in.BuyerID, in.QuoteAsset)
	}
	bSellerBase := l.get(sellerBase)
	if bSellerBase.Frozen < in.BaseQty {
		return SettleTradeResult{}, fmt.Errorf("%w: seller %d base asset %d", ErrInsufficientFrozen, in.SellerID, in.BaseAsset)
	}

	buyerFee := FeeBps(in.BaseQty, in.BuyerFeeBps)
	sellerFee := FeeBps(in.QuoteAmount, in.SellerFeeBps)

	// Buyer: -quote_amount frozen, +(base_qty - buyer_fee) available.
	bBuyerQuote.Frozen -= in.QuoteAmount
	bBuyerQuote.SettleVersion++

	bBuyerBase := l.get(buyerBase)
	bBuyerBase.Available += in.BaseQty - buyerFee
	bBuyerBase.SettleVersion++

	// Seller: -base_qty frozen, +(quote_amount - seller_fee) available.
	bSellerBase.Frozen -= in.BaseQty
	bSellerBase.SettleVersion++

	bSellerQuote := l.get(sellerQuote)
	bSellerQuote.Available += in.QuoteAmount - sellerFee
	bSellerQuote.SettleVersion++

	if buyerFee > 0 {
		feeBase := l.get(Key{UserID: in.FeeAccount, AssetID: in.BaseAsset})
		feeBase.Available += buyerFee
	}
	if sellerFee > 0 {
		feeQuote := l.get(Key{UserID: in.FeeAccount, AssetID: in.QuoteAsset})
		feeQuote.Available += sellerFee
	}

	l.sink.Emit(Event{Type: EventSettle, Key: buyerQuote, Amount: in.QuoteAmount, Resulting: *bBuyerQuote, TradeID: in.TradeID})
	l.sink.Emit(Event{Type: EventSettle, Key: buyerBase, Amount: in.BaseQty - buyerFee, Resulting: *bBuyerBase, TradeID: in.TradeID})
	l.sink.Emit(Event{Type: EventSettle, Key: sellerBase, Amount: in.BaseQty, Resulting: *bSellerBase, TradeID: in.TradeID})
	l.sink.Emit(Event{Type: EventSettle, Key: sellerQuote, Amount: in.QuoteAmount - sellerFee, Resulting: *bSellerQuote, TradeID: in.TradeID})

	return SettleTradeResult{BuyerFee: buyerFee, SellerFee: sellerFee}, nil
}
