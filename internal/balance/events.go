package balance

// EventType classifies a balance-ledger mutation for the downstream
// balance-event stream (spec §4.5 "produce a balance-event stream
// describing every change").
type EventType uint8

const (
	EventDeposit EventType = iota
	EventWithdraw
	EventLock
	EventUnlock
	EventSettle
)

// Event is one balance mutation, in the shape published over NATS by
// the balance service (see internal/balanceservice).
type Event struct {
	Type      EventType
	Key       Key
	Amount    uint64
	Resulting Balance
	TradeID   uint64 // only set for EventSettle
}

// EventSink receives every balance mutation as it happens. Kept as a
// narrow interface (rather than a concrete NATS publisher import) so
// the ledger has no transport dependency; internal/balanceservice
// supplies the real implementation.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a plain function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

// NoopSink discards every event; the default when no sink is supplied.
var NoopSink = EventSinkFunc(func(Event) {})
