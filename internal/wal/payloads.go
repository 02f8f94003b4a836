package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// OrderPayload is the type=1 (Order) record payload (spec §6.2).
type OrderPayload struct {
	OrderID      uint64
	UserID       uint64
	SymbolID     uint32
	Price        uint64
	Qty          uint64
	Side         uint8
	OrderType    uint8
	TIF          uint8
	IngestedAtNs uint64
	ClientID     string // optional; empty means "not present"
}

// CancelPayload is the type=2 (Cancel) record payload.
type CancelPayload struct {
	OrderID uint64
	UserID  uint64
}

// DepositWithdrawPayload is the type=3/4 (Deposit/Withdraw) record payload.
type DepositWithdrawPayload struct {
	UserID    uint64
	AssetID   uint32
	Amount    uint64
	RequestID uint64
}

// TradePayload is the type=5 (Trade) record payload.
type TradePayload struct {
	TradeID      uint64
	SymbolID     uint32
	Price        uint64
	Qty          uint64
	MakerOrderID uint64
	TakerOrderID uint64
	MakerUser    uint64
	TakerUser    uint64
	TsNs         uint64
}

// ReducePayload is the type=6 (Reduce) record payload.
type ReducePayload struct {
	OrderID uint64
	UserID  uint64
	Delta   uint64
}

// MovePayload is the type=7 (Move) record payload.
type MovePayload struct {
	OrderID  uint64
	UserID   uint64
	NewPrice uint64
}

// SettlementCheckpointPayload is the type=16 (SettlementCheckpoint) record payload.
type SettlementCheckpointPayload struct {
	LastTradeID uint64
}

// SnapshotMarkerPayload is the type=255 (SnapshotMarker) record payload,
// carrying the wal_seq_id a snapshot was taken at. No service in this
// module appends a SnapshotMarker record; snapshots are located through
// the snapshot directory alone.
type SnapshotMarkerPayload struct {
	WalSeqID uint64
}

var order = binary.LittleEndian

func EncodeOrder(p OrderPayload) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(64)
	writeU64(buf, p.OrderID)
	writeU64(buf, p.UserID)
	writeU32(buf, p.SymbolID)
	writeU64(buf, p.Price)
	writeU64(buf, p.Qty)
	buf.WriteByte(p.Side)
	buf.WriteByte(p.OrderType)
	buf.WriteByte(p.TIF)
	writeU64(buf, p.IngestedAtNs)
	if p.ClientID == "" {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		writeU16(buf, uint16(len(p.ClientID)))
		buf.WriteString(p.ClientID)
	}
	return buf.Bytes()
}

func DecodeOrder(b []byte) (OrderPayload, error) {
	var p OrderPayload
	r := bytes.NewReader(b)
	var err error
	if p.OrderID, err = readU64(r); err != nil {
		return p, err
	}
	if p.UserID, err = readU64(r); err != nil {
		return p, err
	}
	if p.SymbolID, err = readU32(r); err != nil {
		return p, err
	}
	if p.Price, err = readU64(r); err != nil {
		return p, err
	}
	if p.Qty, err = readU64(r); err != nil {
		return p, err
	}
	if p.Side, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.OrderType, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.TIF, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.IngestedAtNs, err = readU64(r); err != nil {
		return p, err
	}
	present, err := r.ReadByte()
	if err != nil {
		return p, err
	}
	if present == 1 {
		n, err := readU16(r)
		if err != nil {
			return p, err
		}
		buf := make([]byte, n)
		if _, err := r.Read(buf); err != nil {
			return p, err
		}
		p.ClientID = string(buf)
	}
	return p, nil
}

func EncodeCancel(p CancelPayload) []byte {
	buf := new(bytes.Buffer)
	writeU64(buf, p.OrderID)
	writeU64(buf, p.UserID)
	return buf.Bytes()
}

func DecodeCancel(b []byte) (CancelPayload, error) {
	var p CancelPayload
	r := bytes.NewReader(b)
	var err error
	if p.OrderID, err = readU64(r); err != nil {
		return p, err
	}
	if p.UserID, err = readU64(r); err != nil {
		return p, err
	}
	return p, nil
}

func EncodeDepositWithdraw(p DepositWithdrawPayload) []byte {
	buf := new(bytes.Buffer)
	writeU64(buf, p.UserID)
	writeU32(buf, p.AssetID)
	writeU64(buf, p.Amount)
	writeU64(buf, p.RequestID)
	return buf.Bytes()
}

func DecodeDepositWithdraw(b []byte) (DepositWithdrawPayload, error) {
	var p DepositWithdrawPayload
	r := bytes.NewReader(b)
	var err error
	if p.UserID, err = readU64(r); err != nil {
		return p, err
	}
	if p.AssetID, err = readU32(r); err != nil {
		return p, err
	}
	if p.Amount, err = readU64(r); err != nil {
		return p, err
	}
	if p.RequestID, err = readU64(r); err != nil {
		return p, err
	}
	return p, nil
}

func EncodeTrade(p TradePayload) []byte {
	buf := new(bytes.Buffer)
	writeU64(buf, p.TradeID)
	writeU32(buf, p.SymbolID)
	writeU64(buf, p.Price)
	writeU64(buf, p.Qty)
	writeU64(buf, p.MakerOrderID)
	writeU64(buf, p.TakerOrderID)
	writeU64(buf, p.MakerUser)
	writeU64(buf, p.TakerUser)
	writeU64(buf, p.TsNs)
	return buf.Bytes()
}

func DecodeTrade(b []byte) (TradePayload, error) {
	var p TradePayload
	r := bytes.NewReader(b)
	var err error
	if p.TradeID, err = readU64(r); err != nil {
		return p, err
	}
	if p.SymbolID, err = readU32(r); err != nil {
		return p, err
	}
	if p.Price, err = readU64(r); err != nil {
		return p, err
	}
	if p.Qty, err = readU64(r); err != nil {
		return p, err
	}
	if p.MakerOrderID, err = readU64(r); err != nil {
		return p, err
	}
	if p.TakerOrderID, err = readU64(r); err != nil {
		return p, err
	}
	if p.MakerUser, err = readU64(r); err != nil {
		return p, err
	}
	if p.TakerUser, err = readU64(r); err != nil {
		return p, err
	}
	if p.TsNs, err = readU64(r); err != nil {
		return p, err
	}
	return p, nil
}

func EncodeReduce(p ReducePayload) []byte {
	buf := new(bytes.Buffer)
	writeU64(buf, p.OrderID)
	writeU64(buf, p.UserID)
	writeU64(buf, p.Delta)
	return buf.Bytes()
}

func DecodeReduce(b []byte) (ReducePayload, error) {
	var p ReducePayload
	r := bytes.NewReader(b)
	var err error
	if p.OrderID, err = readU64(r); err != nil {
		return p, err
	}
	if p.UserID, err = readU64(r); err != nil {
		return p, err
	}
	if p.Delta, err = readU64(r); err != nil {
		return p, err
	}
	return p, nil
}

func EncodeMove(p MovePayload) []byte {
	buf := new(bytes.Buffer)
	writeU64(buf, p.OrderID)
	writeU64(buf, p.UserID)
	writeU64(buf, p.NewPrice)
	return buf.Bytes()
}

func DecodeMove(b []byte) (MovePayload, error) {
	var p MovePayload
	r := bytes.NewReader(b)
	var err error
	if p.OrderID, err = readU64(r); err != nil {
		return p, err
	}
	if p.UserID, err = readU64(r); err != nil {
		return p, err
	}
	if p.NewPrice, err = readU64(r); err != nil {
		return p, err
	}
	return p, nil
}

func EncodeSettlementCheckpoint(p SettlementCheckpointPayload) []byte {
	buf := new(bytes.Buffer)
	writeU64(buf, p.LastTradeID)
	return buf.Bytes()
}

func DecodeSettlementCheckpoint(b []byte) (SettlementCheckpointPayload, error) {
	var p SettlementCheckpointPayload
	r := bytes.NewReader(b)
	var err error
	if p.LastTradeID, err = readU64(r); err != nil {
		return p, err
	}
	return p, nil
}

func EncodeSnapshotMarker(p SnapshotMarkerPayload) []byte {
	buf := new(bytes.Buffer)
	writeU64(buf, p.WalSeqID)
	return buf.Bytes()
}

func DecodeSnapshotMarker(b []byte) (SnapshotMarkerPayload, error) {
	var p SnapshotMarkerPayload
	r := bytes.NewReader(b)
	var err error
	if p.WalSeqID, err = readU64(r); err != nil {
		return p, err
	}
	return p, nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	order.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	order.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	order.PutUint64(b[:], v)
	buf.Write(b[:])
}

type byteReader interface {
	Read(p []byte) (int, error)
}

func readU16(r byteReader) (uint16, error) {
	var b [2]byte
	if _, err := fillExact(r, b[:]); err != nil {
		return 0, err
	}
	return order.Uint16(b[:]), nil
}

func readU32(r byteReader) (uint32, error) {
	var b [4]byte
	if _, err := fillExact(r, b[:]); err != nil {
		return 0, err
	}
	return order.Uint32(b[:]), nil
}

func readU64(r byteReader) (uint64, error) {
	var b [8]byte
	if _, err := fillExact(r, b[:]); err != nil {
		return 0, err
	}
	return order.Uint64(b[:]), nil
}

func fillExact(r byteReader, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := r.Read(b[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("wal: short read")
		}
	}
	return total, nil
}
