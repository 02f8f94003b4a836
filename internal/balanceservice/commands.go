package balanceservice

import (
	"fmt"

	"github.com/spotex/matchcore/internal/amount"
	"github.com/spotex/matchcore/internal/balance"
	"github.com/spotex/matchcore/internal/wal"
)

// Every command here implements eventqueue.Command: Execute mutates
// the ledger and appends its WAL record synchronously, before
// returning. Durability (fsync) is the Service's batched concern, not
// each command's.
//
// Lock writes a full EntryOrder record (not the narrower
// DepositWithdrawPayload deposit/withdraw reuses) and Unlock writes a
// full EntryCancel record — this WAL is the one spec §6.4's
// replay_orders() streams to matchingservice as ValidOrder/Cancel, so
// it has to carry the order's shape (symbol, side, price, qty, tif),
// not just the balance delta. See internal/matchingservice/recovery.go
// for the consuming side.
//
// Because the Cancel record itself carries no asset/amount, Lock also
// records the locked (asset, amount) against the order id in the
// Service's in-memory lock table (lockedFunds/locks), so Unlock can
// look it up by order id alone — including when it's rebuilt from a
// replayed Order/Cancel pair rather than called live.

// OrderIntent is the order shape a LockCommand durably records
// alongside the balance it freezes, so the resulting WAL record is a
// complete ValidOrder rather than just a fund movement.
type OrderIntent struct {
	SymbolID     uint32
	Side         uint8
	OrderType    uint8
	TIF          uint8
	Price        uint64
	Qty          uint64
	IngestedAtNs uint64
	ClientID     string
}

// LockCommand reserves funds for a newly-admitted order (spec §4.5
// lock). It is the balance-side effect of gatewaystub placing an
// order; the order itself is forwarded to matching only after this
// succeeds.
type LockCommand struct {
	svc     *Service
	OrderID uint64
	UserID  uint64
	AssetID uint32
	Amount  uint64
	Order   OrderIntent
}

// NewLockCommand builds a LockCommand bound to svc. order carries the
// full order shape the WAL record needs; callers that only care about
// the balance-mechanics side (tests, direct /v1/lock calls with no
// order of their own) may pass the zero value.
func (s *Service) NewLockCommand(orderID, userID uint64, assetID uint32, amount uint64, order OrderIntent) *LockCommand {
	return &LockCommand{svc: s, OrderID: orderID, UserID: userID, AssetID: assetID, Amount: amount, Order: order}
}

func (c *LockCommand) Execute() (interface{}, error) {
	key := balance.Key{UserID: c.UserID, AssetID: c.AssetID}
	before := c.svc.ledger.Get(key)
	if before.Available < c.Amount {
		// Insufficient balance on lock: reject with no WAL entry (spec §7).
		return nil, fmt.Errorf("%w: user %d asset %d", balance.ErrInsufficientAvailable, c.UserID, c.AssetID)
	}

	payload := wal.OrderPayload{
		OrderID:      c.OrderID,
		UserID:       c.UserID,
		SymbolID:     c.Order.SymbolID,
		Price:        c.Order.Price,
		Qty:          c.Order.Qty,
		Side:         c.Order.Side,
		OrderType:    c.Order.OrderType,
		TIF:          c.Order.TIF,
		IngestedAtNs: c.Order.IngestedAtNs,
		ClientID:     c.Order.ClientID,
	}
	if _, err := c.svc.wal.Append(wal.EntryOrder, 0, wal.EncodeOrder(payload)); err != nil {
		return nil, fmt.Errorf("balanceservice: append lock record: %w", err)
	}

	bal, err := c.svc.ledger.Lock(key, c.Amount)
	if err != nil {
		return nil, err
	}
	c.svc.locks[c.OrderID] = lockedFunds{UserID: c.UserID, AssetID: c.AssetID, Amount: c.Amount}
	if c.svc.metrics != nil {
		c.svc.metrics.WALAppends.Inc()
	}
	return bal, nil
}

// UnlockCommand releases previously-locked funds (cancel/reduce/expire).
// It looks up how much was frozen for OrderID from the Lock that
// admitted it, rather than taking asset/amount from the caller — spec
// §6.2's Cancel record is just {order_id, user_id}, so recovery, which
// sees nothing else for a replayed EntryCancel, reverses the lock from
// the same lock table (see applyReplayedRecord in recovery.go).
type UnlockCommand struct {
	svc     *Service
	OrderID uint64
	UserID  uint64
}

func (s *Service) NewUnlockCommand(orderID, userID uint64) *UnlockCommand {
	return &UnlockCommand{svc: s, OrderID: orderID, UserID: userID}
}

func (c *UnlockCommand) Execute() (interface{}, error) {
	lf, ok := c.svc.locks[c.OrderID]
	if !ok {
		return nil, fmt.Errorf("balanceservice: no locked funds recorded for order %d", c.OrderID)
	}

	payload := wal.CancelPayload{OrderID: c.OrderID, UserID: c.UserID}
	if _, err := c.svc.wal.Append(wal.EntryCancel, 0, wal.EncodeCancel(payload)); err != nil {
		return nil, fmt.Errorf("balanceservice: append unlock record: %w", err)
	}
	bal, err := c.svc.ledger.Unlock(balance.Key{UserID: lf.UserID, AssetID: lf.AssetID}, lf.Amount)
	if err != nil {
		return nil, err
	}
	delete(c.svc.locks, c.OrderID)
	if c.svc.metrics != nil {
		c.svc.metrics.WALAppends.Inc()
	}
	return bal, nil
}

// DepositCommand credits available funds from an external deposit.
type DepositCommand struct {
	svc       *Service
	UserID    uint64
	AssetID   uint32
	Amount    uint64
	RequestID uint64
}

func (s *Service) NewDepositCommand(userID uint64, assetID uint32, amt string, scale int, requestID uint64) (*DepositCommand, error) {
	v, err := amount.Parse(amt, scale)
	if err != nil {
		return nil, err
	}
	return &DepositCommand{svc: s, UserID: userID, AssetID: assetID, Amount: v, RequestID: requestID}, nil
}

func (c *DepositCommand) Execute() (interface{}, error) {
	payload := wal.DepositWithdrawPayload{UserID: c.UserID, AssetID: c.AssetID, Amount: c.Amount, RequestID: c.RequestID}
	if _, err := c.svc.wal.Append(wal.EntryDeposit, 0, wal.EncodeDepositWithdraw(payload)); err != nil {
		err = fmt.Errorf("balanceservice: append deposit record: %w", err)
		c.svc.onFatal(err)
		return nil, err
	}
	bal, err := c.svc.ledger.Deposit(balance.Key{UserID: c.UserID, AssetID: c.AssetID}, c.Amount)
	if err != nil {
		return nil, err
	}
	if c.svc.metrics != nil {
		c.svc.metrics.WALAppends.Inc()
	}
	return bal, nil
}

// WithdrawCommand debits available funds for an external withdrawal.
type WithdrawCommand struct {
	svc       *Service
	UserID    uint64
	AssetID   uint32
	Amount    uint64
	RequestID uint64
}

func (s *Service) NewWithdrawCommand(userID uint64, assetID uint32, amt string, scale int, requestID uint64) (*WithdrawCommand, error) {
	v, err := amount.Parse(amt, scale)
	if err != nil {
		return nil, err
	}
	return &WithdrawCommand{svc: s, UserID: userID, AssetID: assetID, Amount: v, RequestID: requestID}, nil
}

func (c *WithdrawCommand) Execute() (interface{}, error) {
	key := balance.Key{UserID: c.UserID, AssetID: c.AssetID}
	if c.svc.ledger.Get(key).Available < c.Amount {
		return nil, fmt.Errorf("%w: user %d asset %d", balance.ErrInsufficientAvailable, c.UserID, c.AssetID)
	}
	payload := wal.DepositWithdrawPayload{UserID: c.UserID, AssetID: c.AssetID, Amount: c.Amount, RequestID: c.RequestID}
	if _, err := c.svc.wal.Append(wal.EntryWithdraw, 0, wal.EncodeDepositWithdraw(payload)); err != nil {
		return nil, fmt.Errorf("balanceservice: append withdraw record: %w", err)
	}
	bal, err := c.svc.ledger.Withdraw(key, c.Amount)
	if err != nil {
		return nil, err
	}
	if c.svc.metrics != nil {
		c.svc.metrics.WALAppends.Inc()
	}
	return bal, nil
}

// SettleTradeCommand applies one matched trade's balance transfer
// (spec §4.5 settle_trade), driven by a Trade event the matching
// service publishes. FeeBps per side comes from each participant's
// VIP tier, looked up at command-build time from the service's fee
// schedule.
type SettleTradeCommand struct {
	svc *Service
	in  balance.SettleTradeInput
}

// NewSettleTradeCommand builds a settle command, resolving each
// side's fee rate from the configured VIP-tier schedule.
func (s *Service) NewSettleTradeCommand(tradeID, buyerID, sellerID uint64, baseAsset, quoteAsset uint32, baseQty, quoteAmount uint64) *SettleTradeCommand {
	buyerRates := s.cfg.FeeSchedule.RatesFor(buyerID)
	sellerRates := s.cfg.FeeSchedule.RatesFor(sellerID)
	return &SettleTradeCommand{svc: s, in: balance.SettleTradeInput{
		TradeID:      tradeID,
		BuyerID:      buyerID,
		SellerID:     sellerID,
		BaseAsset:    baseAsset,
		QuoteAsset:   quoteAsset,
		BaseQty:      baseQty,
		QuoteAmount:  quoteAmount,
		BuyerFeeBps:  buyerRates.TakerBps,
		SellerFeeBps: sellerRates.TakerBps,
		FeeAccount:   s.cfg.FeeAccount,
	}}
}

func (c *SettleTradeCommand) Execute() (interface{}, error) {
	if _, err := c.svc.wal.Append(wal.EntryTrade, 0, encodeSettleTrade(c.in)); err != nil {
		return nil, fmt.Errorf("balanceservice: append settle record: %w", err)
	}
	result, err := c.svc.ledger.SettleTrade(c.in)
	if err != nil {
		return nil, err
	}
	if c.svc.metrics != nil {
		c.svc.metrics.WALAppends.Inc()
	}
	return result, nil
}
