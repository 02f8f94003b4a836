package gatewaystub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotex/matchcore/internal/orders"
)

type fakeRegistry struct {
	symbols map[uint32]SymbolInfo
	assets  map[uint32]bool
	active  map[uint64]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		symbols: map[uint32]SymbolInfo{1: {SymbolID: 1, BaseAsset: 10, QuoteAsset: 20, PriceScale: 2, QtyScale: 8}},
		assets:  map[uint32]bool{10: true, 20: true},
		active:  map[uint64]bool{1: true},
	}
}

func (r *fakeRegistry) Symbol(id uint32) (SymbolInfo, bool) { s, ok := r.symbols[id]; return s, ok }
func (r *fakeRegistry) AssetKnown(id uint32) bool            { return r.assets[id] }
func (r *fakeRegistry) AccountActive(userID uint64) bool     { return r.active[userID] }

type fakeSubmitter struct {
	orders  []*orders.Order
	cancels []uint64
}

func (s *fakeSubmitter) SubmitOrder(o *orders.Order) error {
	s.orders = append(s.orders, o)
	return nil
}
func (s *fakeSubmitter) SubmitCancel(symbolID uint32, orderID uint64) error {
	s.cancels = append(s.cancels, orderID)
	return nil
}
func (s *fakeSubmitter) SubmitReduce(symbolID uint32, orderID uint64, delta uint64) error { return nil }
func (s *fakeSubmitter) SubmitMove(symbolID uint32, orderID uint64, newPrice uint64) error {
	return nil
}

func newTestGateway(t *testing.T) (*Gateway, *fakeSubmitter) {
	t.Helper()
	ids, err := NewIDGenerator(1)
	require.NoError(t, err)
	sub := &fakeSubmitter{}
	gw := NewGateway(newFakeRegistry(), NewRiskChecker(DefaultRiskConfig()), ids, sub)
	return gw, sub
}

func TestPlaceOrderAssignsIDAndForwards(t *testing.T) {
	gw, sub := newTestGateway(t)
	o := &orders.Order{UserID: 1, SymbolID: 1, Side: orders.SideBuy, Type: orders.TypeLimit, TIF: orders.TIFGTC, Price: 100, Qty: 10}

	err := gw.PlaceOrder(o)
	require.NoError(t, err)
	require.Len(t, sub.orders, 1)
	assert.NotZero(t, o.OrderID)
	assert.NotZero(t, o.IngestedAtNs)
	assert.NotEmpty(t, o.ClientID)
}

func TestPlaceOrderRejectsZeroQty(t *testing.T) {
	gw, sub := newTestGateway(t)
	o := &orders.Order{UserID: 1, SymbolID: 1, Side: orders.SideBuy, Type: orders.TypeLimit, Price: 100, Qty: 0}

	err := gw.PlaceOrder(o)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeZeroQuantity, verr.Code)
	assert.Empty(t, sub.orders)
}

func TestPlaceOrderRejectsUnknownSymbol(t *testing.T) {
	gw, _ := newTestGateway(t)
	o := &orders.Order{UserID: 1, SymbolID: 999, Side: orders.SideBuy, Type: orders.TypeLimit, Price: 100, Qty: 10}

	err := gw.PlaceOrder(o)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeUnknownSymbol, verr.Code)
}

func TestPlaceOrderRejectsInactiveAccount(t *testing.T) {
	gw, _ := newTestGateway(t)
	o := &orders.Order{UserID: 999, SymbolID: 1, Side: orders.SideBuy, Type: orders.TypeLimit, Price: 100, Qty: 10}

	err := gw.PlaceOrder(o)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeAccountInactive, verr.Code)
}

func TestPlaceOrderRejectedByRiskCheck(t *testing.T) {
	ids, err := NewIDGenerator(1)
	require.NoError(t, err)
	sub := &fakeSubmitter{}
	cfg := DefaultRiskConfig()
	cfg.MaxOrderQty = 5
	gw := NewGateway(newFakeRegistry(), NewRiskChecker(cfg), ids, sub)

	o := &orders.Order{UserID: 1, SymbolID: 1, Side: orders.SideBuy, Type: orders.TypeLimit, Price: 100, Qty: 10}
	err = gw.PlaceOrder(o)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeRiskRejected, verr.Code)
}

func TestCancelForwardsWithoutValidation(t *testing.T) {
	gw, sub := newTestGateway(t)
	require.NoError(t, gw.CancelOrder(1, 42))
	assert.Equal(t, []uint64{42}, sub.cancels)
}

func TestValidateAmountRejectsOverflow(t *testing.T) {
	_, err := ValidateAmount("99999999999999999999999999", 8)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeAmountOverflow, verr.Code)
}

func TestValidateAmountAcceptsValid(t *testing.T) {
	v, err := ValidateAmount("1.5", 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(150_000_000), v)
}
