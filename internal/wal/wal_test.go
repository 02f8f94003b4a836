package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0, 1, DefaultRotationConfig())
	require.NoError(t, err)

	var seqs []uint64
	for i := 0; i < 5; i++ {
		seq, err := w.Append(EntryCancel, 0, EncodeCancel(CancelPayload{OrderID: uint64(i), UserID: 7}))
		require.NoError(t, err)
		seqs = append(seqs, seq)
	}
	require.NoError(t, w.FlushAndSync())
	require.NoError(t, w.Close())

	var got []uint64
	result, err := Replay(dir, 0, nil, func(r Record) bool {
		got = append(got, r.Header.SeqID)
		p, err := DecodeCancel(r.Payload)
		require.NoError(t, err)
		assert.EqualValues(t, len(got)-1, p.OrderID)
		return true
	})
	require.NoError(t, err)
	assert.False(t, result.HitBoundary)
	assert.Equal(t, seqs, got)
	assert.Equal(t, uint64(5), result.LastSeq)
}

func TestSeqIDMonotonicWithinEpoch(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0, 1, DefaultRotationConfig())
	require.NoError(t, err)
	defer w.Close()

	var last uint64
	for i := 0; i < 100; i++ {
		seq, err := w.Append(EntryCancel, 0, EncodeCancel(CancelPayload{OrderID: 1}))
		require.NoError(t, err)
		if i > 0 {
			assert.Equal(t, last+1, seq)
		}
		last = seq
	}
}

func TestCRCMismatchStopsReplayAtBoundary(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0, 1, DefaultRotationConfig())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := w.Append(EntryCancel, 0, EncodeCancel(CancelPayload{OrderID: uint64(i)}))
		require.NoError(t, err)
	}
	require.NoError(t, w.FlushAndSync())
	require.NoError(t, w.Close())

	// Corrupt one payload byte in the second record. Each record here is
	// RecordHeaderSize + 16 bytes (CancelPayload: OrderID+UserID).
	const payloadSize = 16
	path := filepath.Join(dir, currentFileName)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	recordSize := int64(RecordHeaderSize + payloadSize)
	offset := int64(FileHeaderSize) + recordSize + int64(RecordHeaderSize) // start of record[1]'s payload
	_, err = f.WriteAt([]byte{0xFF}, offset)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var delivered int
	result, err := Replay(dir, 0, nil, func(r Record) bool {
		delivered++
		return true
	})
	require.NoError(t, err)
	assert.True(t, result.HitBoundary)
	assert.Equal(t, 1, delivered, "only the first intact record should be delivered")
}

func TestTruncatedTailIsBoundary(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0, 1, DefaultRotationConfig())
	require.NoError(t, err)
	_, err = w.Append(EntryCancel, 0, EncodeCancel(CancelPayload{OrderID: 1}))
	require.NoError(t, err)
	require.NoError(t, w.FlushAndSync())
	require.NoError(t, w.Close())

	path := filepath.Join(dir, currentFileName)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-2))

	result, err := Replay(dir, 0, nil, func(r Record) bool { return true })
	require.NoError(t, err)
	assert.True(t, result.HitBoundary)
	assert.ErrorIs(t, result.BoundaryErr, ErrTruncated)
}

func TestRotateByEntryCount(t *testing.T) {
	dir := t.TempDir()
	cfg := RotationConfig{MaxEntries: 3}
	w, err := Open(dir, 0, 1, cfg)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := w.Append(EntryCancel, 0, EncodeCancel(CancelPayload{OrderID: uint64(i)}))
		require.NoError(t, err)
	}
	require.True(t, w.ShouldRotate())
	require.NoError(t, w.Rotate())

	segments, err := ListSegments(dir)
	require.NoError(t, err)
	require.Len(t, segments, 2) // one historical + current.wal
	assert.False(t, segments[0].IsCurrent)
	assert.Equal(t, uint64(3), segments[0].LastSeq)
	assert.True(t, segments[1].IsCurrent)

	_, err = w.Append(EntryCancel, 0, EncodeCancel(CancelPayload{OrderID: 99}))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var all []uint64
	_, err = Replay(dir, 0, nil, func(r Record) bool {
		all = append(all, r.Header.SeqID)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4}, all)
}

func TestBumpEpochAfterBoundary(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0, 1, DefaultRotationConfig())
	require.NoError(t, err)
	newEpoch := w.BumpEpoch()
	assert.Equal(t, uint32(1), newEpoch)
	assert.Equal(t, uint32(1), w.Epoch())
	require.NoError(t, w.Close())
}

func TestBadMagicRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, currentFileName)
	require.NoError(t, os.WriteFile(path, []byte("NOTAWALFILEHEADER!!"), 0o644))

	_, err := OpenReader(path)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestPayloadRoundTrips(t *testing.T) {
	order := OrderPayload{
		OrderID: 1, UserID: 2, SymbolID: 3, Price: 100, Qty: 50,
		Side: 0, OrderType: 0, TIF: 0, IngestedAtNs: uint64(time.Now().UnixNano()),
		ClientID: "client-abc",
	}
	decodedOrder, err := DecodeOrder(EncodeOrder(order))
	require.NoError(t, err)
	assert.Equal(t, order, decodedOrder)

	order.ClientID = ""
	decodedOrder, err = DecodeOrder(EncodeOrder(order))
	require.NoError(t, err)
	assert.Equal(t, order, decodedOrder)

	trade := TradePayload{TradeID: 9, SymbolID: 1, Price: 10, Qty: 2, MakerOrderID: 3, TakerOrderID: 4, MakerUser: 5, TakerUser: 6, TsNs: 7}
	decodedTrade, err := DecodeTrade(EncodeTrade(trade))
	require.NoError(t, err)
	assert.Equal(t, trade, decodedTrade)
}

func TestAppendRejectsOversizedPayload(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0, 1, DefaultRotationConfig())
	require.NoError(t, err)
	defer w.Close()

	big := make([]byte, MaxPayloadSize+1)
	_, err = w.Append(EntryCancel, 0, big)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestCleanEmptyLogReplaysNothing(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0, 1, DefaultRotationConfig())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	result, err := Replay(dir, 0, nil, func(r Record) bool {
		t.Fatal("should not be called")
		return true
	})
	require.NoError(t, err)
	assert.False(t, result.HitBoundary)
	assert.Equal(t, uint64(0), result.LastSeq)
}
