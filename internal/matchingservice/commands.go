package matchingservice

import (
	"fmt"

	"github.com/spotex/matchcore/internal/orders"
	"github.com/spotex/matchcore/internal/wal"
)

// Every command here implements eventqueue.Command: Execute mutates
// the engine and appends its WAL record synchronously, before
// returning. Durability (fsync) is the Service's batched concern, not
// each command's, matching internal/balanceservice's commands.

// PlaceCommand submits a new order to the engine (spec §4.4 Place).
// The order is assumed already admitted by BalanceCore (funds locked)
// by the time it reaches here — MatchingCore's WAL only needs the
// order fields themselves to replay deterministically.
type PlaceCommand struct {
	svc   *Service
	Order *orders.Order
}

// NewPlaceCommand builds a PlaceCommand bound to svc.
func (s *Service) NewPlaceCommand(order *orders.Order) *PlaceCommand {
	return &PlaceCommand{svc: s, Order: order}
}

func (c *PlaceCommand) Execute() (interface{}, error) {
	payload := wal.OrderPayload{
		OrderID:      c.Order.OrderID,
		UserID:       c.Order.UserID,
		SymbolID:     c.Order.SymbolID,
		Price:        c.Order.Price,
		Qty:          c.Order.Qty,
		Side:         uint8(c.Order.Side),
		OrderType:    uint8(c.Order.Type),
		TIF:          uint8(c.Order.TIF),
		IngestedAtNs: c.Order.IngestedAtNs,
		ClientID:     c.Order.ClientID,
	}
	seqID, err := c.svc.wal.Append(wal.EntryOrder, 0, wal.EncodeOrder(payload))
	if err != nil {
		err = fmt.Errorf("matchingservice: append order record: %w", err)
		c.svc.onFatal(err)
		return nil, err
	}
	c.Order.SeqID = seqID

	result := c.svc.engine.Place(c.Order)
	c.svc.publishPostTrade(result)
	if c.svc.metrics != nil {
		c.svc.metrics.WALAppends.Inc()
		c.svc.metrics.CommandsExecuted.Inc()
	}
	return result, nil
}

// CancelCommand removes a resting order (spec §4.4 Cancel).
type CancelCommand struct {
	svc      *Service
	SymbolID uint32
	OrderID  uint64
	UserID   uint64
}

// NewCancelCommand builds a CancelCommand bound to svc.
func (s *Service) NewCancelCommand(symbolID uint32, orderID, userID uint64) *CancelCommand {
	return &CancelCommand{svc: s, SymbolID: symbolID, OrderID: orderID, UserID: userID}
}

func (c *CancelCommand) Execute() (interface{}, error) {
	payload := wal.CancelPayload{OrderID: c.OrderID, UserID: c.UserID}
	if _, err := c.svc.wal.Append(wal.EntryCancel, 0, wal.EncodeCancel(payload)); err != nil {
		return nil, fmt.Errorf("matchingservice: append cancel record: %w", err)
	}
	order := c.svc.engine.Cancel(c.SymbolID, c.OrderID)
	c.svc.publishBookUpdate(c.SymbolID)
	if c.svc.metrics != nil {
		c.svc.metrics.WALAppends.Inc()
		c.svc.metrics.CommandsExecuted.Inc()
	}
	return order, nil
}

// ReduceCommand decreases a resting order's quantity (spec §4.4 Reduce).
type ReduceCommand struct {
	svc      *Service
	SymbolID uint32
	OrderID  uint64
	UserID   uint64
	Delta    uint64
}

// NewReduceCommand builds a ReduceCommand bound to svc.
func (s *Service) NewReduceCommand(symbolID uint32, orderID, userID, delta uint64) *ReduceCommand {
	return &ReduceCommand{svc: s, SymbolID: symbolID, OrderID: orderID, UserID: userID, Delta: delta}
}

func (c *ReduceCommand) Execute() (interface{}, error) {
	payload := wal.ReducePayload{OrderID: c.OrderID, UserID: c.UserID, Delta: c.Delta}
	if _, err := c.svc.wal.Append(wal.EntryReduce, 0, wal.EncodeReduce(payload)); err != nil {
		return nil, fmt.Errorf("matchingservice: append reduce record: %w", err)
	}
	order := c.svc.engine.Reduce(c.SymbolID, c.OrderID, c.Delta)
	c.svc.publishBookUpdate(c.SymbolID)
	if c.svc.metrics != nil {
		c.svc.metrics.WALAppends.Inc()
		c.svc.metrics.CommandsExecuted.Inc()
	}
	return order, nil
}

// MoveCommand atomically cancels and re-places a resting order at a
// new price (spec §4.4 Move).
type MoveCommand struct {
	svc      *Service
	SymbolID uint32
	OrderID  uint64
	UserID   uint64
	NewPrice uint64
}

// NewMoveCommand builds a MoveCommand bound to svc.
func (s *Service) NewMoveCommand(symbolID uint32, orderID, userID, newPrice uint64) *MoveCommand {
	return &MoveCommand{svc: s, SymbolID: symbolID, OrderID: orderID, UserID: userID, NewPrice: newPrice}
}

func (c *MoveCommand) Execute() (interface{}, error) {
	payload := wal.MovePayload{OrderID: c.OrderID, UserID: c.UserID, NewPrice: c.NewPrice}
	if _, err := c.svc.wal.Append(wal.EntryMove, 0, wal.EncodeMove(payload)); err != nil {
		return nil, fmt.Errorf("matchingservice: append move record: %w", err)
	}
	order, err := c.svc.engine.Move(c.SymbolID, c.OrderID, c.NewPrice)
	if err != nil {
		return nil, err
	}
	c.svc.publishBookUpdate(c.SymbolID)
	if c.svc.metrics != nil {
		c.svc.metrics.WALAppends.Inc()
		c.svc.metrics.CommandsExecuted.Inc()
	}
	return order, nil
}

// publishPostTrade appends a Trade WAL record for every fill a Place
// produced, then publishes the resulting book state and trade prints
// to the depth feed. Trade WAL records are written directly by the
// command (not via the engine, which never touches I/O) so that
// replay reconstructs the exact same trade_id sequence without
// needing its own bookkeeping beyond the engine's dense counter.
func (s *Service) publishPostTrade(result *orders.Result) {
	for _, fill := range result.Fills {
		payload := wal.TradePayload{
			TradeID:      fill.TradeID,
			SymbolID:     fill.SymbolID,
			Price:        fill.Price,
			Qty:          fill.Qty,
			MakerOrderID: fill.MakerOrderID,
			TakerOrderID: fill.TakerOrderID,
			MakerUser:    fill.MakerUser,
			TakerUser:    fill.TakerUser,
			TsNs:         fill.TsNs,
		}
		if _, err := s.wal.Append(wal.EntryTrade, 0, wal.EncodeTrade(payload)); err != nil {
			s.onFatal(fmt.Errorf("matchingservice: append trade record: %w", err))
			return
		}
		s.depth.PublishTrade(TradeReport{
			TradeID:       fill.TradeID,
			SymbolID:      fill.SymbolID,
			Price:         fill.Price,
			Quantity:      fill.Qty,
			AggressorSide: result.Order.Side,
			TsNs:          fill.TsNs,
		})
	}
	s.publishBookUpdate(result.Order.SymbolID)
}

func (s *Service) publishBookUpdate(symbolID uint32) {
	book := s.engine.GetOrderBook(symbolID)
	if book == nil {
		return
	}
	s.depth.PublishBookUpdate(book, 0, s.cfg.DepthLevels)
}
