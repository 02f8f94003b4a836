package balance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usdKey = 1
	btcKey = 2
)

func TestDepositCreditsAvailable(t *testing.T) {
	l := NewLedger(nil)
	b, err := l.Deposit(Key{UserID: 1, AssetID: usdKey}, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), b.Available)
	assert.Equal(t, uint64(0), b.Frozen)
}

func TestWithdrawDebitsAvailable(t *testing.T) {
	l := NewLedger(nil)
	key := Key{UserID: 1, AssetID: usdKey}
	l.Deposit(key, 1000)

	b, err := l.Withdraw(key, 400)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), b.Available)
}

func TestWithdrawInsufficientAvailable(t *testing.T) {
	l := NewLedger(nil)
	key := Key{UserID: 1, AssetID: usdKey}
	l.Deposit(key, 100)

	_, err := l.Withdraw(key, 200)
	assert.ErrorIs(t, err, ErrInsufficientAvailable)
}

func TestLockMovesAvailableToFrozen(t *testing.T) {
	l := NewLedger(nil)
	key := Key{UserID: 1, AssetID: usdKey}
	l.Deposit(key, 1000)

	b, err := l.Lock(key, 300)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), b.Available)
	assert.Equal(t, uint64(300), b.Frozen)
	assert.Equal(t, uint64(1), b.LockVersion)
}

func TestLockThenUnlockIsIdentity(t *testing.T) {
	l := NewLedger(nil)
	key := Key{UserID: 1, AssetID: usdKey}
	l.Deposit(key, 1000)

	b, err := l.Lock(key, 300)
	require.NoError(t, err)
	b, err = l.Unlock(key, 300)
	require.NoError(t, err)

	assert.Equal(t, uint64(1000), b.Available)
	assert.Equal(t, uint64(0), b.Frozen)
	assert.Equal(t, uint64(2), b.LockVersion, "both lock and unlock bump lock_version")
}

func TestLockInsufficientAvailable(t *testing.T) {
	l := NewLedger(nil)
	key := Key{UserID: 1, AssetID: usdKey}
	l.Deposit(key, 100)

	_, err := l.Lock(key, 200)
	assert.ErrorIs(t, err, ErrInsufficientAvailable)
}

func TestUnlockInsufficientFrozen(t *testing.T) {
	l := NewLedger(nil)
	key := Key{UserID: 1, AssetID: usdKey}
	l.Deposit(key, 100)
	l.Lock(key, 50)

	_, err := l.Unlock(key, 100)
	assert.ErrorIs(t, err, ErrInsufficientFrozen)
}

func TestSettleTradeConservesFunds(t *testing.T) {
	l := NewLedger(nil)
	buyer, seller, feeAcct := uint64(1), uint64(2), uint64(999)

	l.Deposit(Key{UserID: buyer, AssetID: usdKey}, 100_000)
	l.Deposit(Key{UserID: seller, AssetID: btcKey}, 10)

	l.Lock(Key{UserID: buyer, AssetID: usdKey}, 50_000)
	l.Lock(Key{UserID: seller, AssetID: btcKey}, 5)

	res, err := l.SettleTrade(SettleTradeInput{
		TradeID:      1,
		BuyerID:      buyer,
		SellerID:     seller,
		BaseAsset:    btcKey,
		QuoteAsset:   usdKey,
		BaseQty:      5,
		QuoteAmount:  50_000,
		BuyerFeeBps:  10, // 0.1%
		SellerFeeBps: 10,
		FeeAccount:   feeAcct,
	})
	require.NoError(t, err)

	buyerBase := l.Get(Key{UserID: buyer, AssetID: btcKey})
	buyerQuote := l.Get(Key{UserID: buyer, AssetID: usdKey})
	sellerBase := l.Get(Key{UserID: seller, AssetID: btcKey})
	sellerQuote := l.Get(Key{UserID: seller, AssetID: usdKey})
	feeBase := l.Get(Key{UserID: feeAcct, AssetID: btcKey})
	feeQuote := l.Get(Key{UserID: feeAcct, AssetID: usdKey})

	assert.Equal(t, uint64(5)-res.BuyerFee, buyerBase.Available)
	assert.Equal(t, uint64(0), buyerQuote.Frozen)
	assert.Equal(t, uint64(50_000)-res.SellerFee, sellerQuote.Available)
	assert.Equal(t, uint64(0), sellerBase.Frozen)
	assert.Equal(t, res.BuyerFee, feeBase.Available)
	assert.Equal(t, res.SellerFee, feeQuote.Available)

	// Conservation of funds (spec §4.5 invariant): total BTC and total
	// USD across buyer+seller+fee account is unchanged by settlement.
	totalBTC := buyerBase.Available + buyerBase.Frozen + sellerBase.Available + sellerBase.Frozen + feeBase.Available
	assert.Equal(t, uint64(10), totalBTC)
	totalUSD := buyerQuote.Available + buyerQuote.Frozen + sellerQuote.Available + sellerQuote.Frozen + feeQuote.Available
	assert.Equal(t, uint64(100_000), totalUSD)
}

func TestSettleTradeInsufficientFrozenRejected(t *testing.T) {
	l := NewLedger(nil)
	buyer, seller := uint64(1), uint64(2)
	l.Deposit(Key{UserID: buyer, AssetID: usdKey}, 100)

	_, err := l.SettleTrade(SettleTradeInput{
		BuyerID: buyer, SellerID: seller,
		BaseAsset: btcKey, QuoteAsset: usdKey,
		BaseQty: 1, QuoteAmount: 50_000,
	})
	assert.ErrorIs(t, err, ErrInsufficientFrozen)
}

func TestEventSinkReceivesEveryMutation(t *testing.T) {
	var events []Event
	l := NewLedger(EventSinkFunc(func(e Event) { events = append(events, e) }))
	key := Key{UserID: 1, AssetID: usdKey}

	l.Deposit(key, 100)
	l.Lock(key, 40)
	l.Unlock(key, 40)
	l.Withdraw(key, 20)

	require.Len(t, events, 4)
	assert.Equal(t, EventDeposit, events[0].Type)
	assert.Equal(t, EventLock, events[1].Type)
	assert.Equal(t, EventUnlock, events[2].Type)
	assert.Equal(t, EventWithdraw, events[3].Type)
}

func TestScheduleFallsBackToTierZero(t *testing.T) {
	s := NewSchedule(map[Tier]TierRates{
		0: {MakerBps: 10, TakerBps: 20},
		1: {MakerBps: 5, TakerBps: 10},
	}, map[uint64]Tier{42: 1})

	assert.Equal(t, TierRates{MakerBps: 5, TakerBps: 10}, s.RatesFor(42))
	assert.Equal(t, TierRates{MakerBps: 10, TakerBps: 20}, s.RatesFor(999), "unassigned user falls back to tier 0")
}
