// Package replay implements the service-internal replay protocol (spec
// §6.4): one service asks another to stream it a range of WAL records,
// so it can rebuild derived state (e.g. settlement replaying matching
// trades) without sharing a WAL directory on disk.
//
// Realized over plain HTTP rather than an RPC framework: gorilla/mux
// on the server side, go-resty on the client side, streaming
// newline-delimited JSON instead of a binary wire protocol.
package replay

import "github.com/spotex/matchcore/internal/wal"

// Request describes the range of records being asked for: seq_ids in
// (FromSeq, ToSeq]. The server requires to_seq; there is no open-ended
// request that keeps the connection open as a live tail.
type Request struct {
	FromSeq uint64 `json:"from_seq"`
	ToSeq   uint64 `json:"to_seq"`
}

// ControlFlow is returned by a ReplayCallback to tell the streaming
// client whether to keep requesting more records.
type ControlFlow int

const (
	Continue ControlFlow = iota
	Stop
)

// Event is one WAL record as sent over the wire. Payload carries the
// entry's raw encoded bytes (base64 in the JSON encoding); callers
// decode it with the wal payload codec matching EntryType.
type Event struct {
	SeqID     uint64        `json:"seq_id"`
	Epoch     uint32        `json:"epoch"`
	EntryType wal.EntryType `json:"entry_type"`
	Version   uint8         `json:"version"`
	Payload   []byte        `json:"payload"`
}

func recordToEvent(r wal.Record) Event {
	return Event{
		SeqID:     r.Header.SeqID,
		Epoch:     r.Header.Epoch,
		EntryType: r.Header.EntryType,
		Version:   r.Header.Version,
		Payload:   r.Payload,
	}
}

// Callback receives one replayed event at a time. Returning Stop ends
// the stream early, mirroring wal.Replay's cb-returns-false contract.
type Callback func(Event) ControlFlow
