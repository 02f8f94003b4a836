package balanceservice

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/spotex/matchcore/internal/balance"
)

// balanceEventWire is the JSON shape published for every balance.Event
// (spec §4.5 "produce a balance-event stream describing every
// change"). Kept separate from balance.Event so the wire format can
// evolve without touching the ledger's internal type.
type balanceEventWire struct {
	Type          balance.EventType `json:"type"`
	UserID        uint64            `json:"user_id"`
	AssetID       uint32            `json:"asset_id"`
	Amount        uint64            `json:"amount"`
	Available     uint64            `json:"available"`
	Frozen        uint64            `json:"frozen"`
	LockVersion   uint64            `json:"lock_version"`
	SettleVersion uint64            `json:"settle_version"`
	TradeID       uint64            `json:"trade_id,omitempty"`
}

// Subject is the NATS subject every balance event is published to.
const Subject = "balance.events"

// NatsPublisher implements balance.EventSink by publishing every
// mutation as a JSON message over NATS.
type NatsPublisher struct {
	nc  *nats.Conn
	log *zap.Logger
}

// NewNatsPublisher connects to a NATS server at url.
func NewNatsPublisher(url string, log *zap.Logger) (*NatsPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NatsPublisher{nc: nc, log: log}, nil
}

// Emit publishes e to Subject. A publish failure is logged but never
// propagated to the caller — the balance-event stream is a best-effort
// side channel for downstream consumers (risk, analytics), not part of
// the durability path the WAL already covers.
func (p *NatsPublisher) Emit(e balance.Event) {
	wire := balanceEventWire{
		Type:          e.Type,
		UserID:        e.Key.UserID,
		AssetID:       e.Key.AssetID,
		Amount:        e.Amount,
		Available:     e.Resulting.Available,
		Frozen:        e.Resulting.Frozen,
		LockVersion:   e.Resulting.LockVersion,
		SettleVersion: e.Resulting.SettleVersion,
		TradeID:       e.TradeID,
	}
	data, err := json.Marshal(wire)
	if err != nil {
		p.log.Error("balanceservice: marshal balance event", zap.Error(err))
		return
	}
	if err := p.nc.Publish(Subject, data); err != nil {
		p.log.Error("balanceservice: publish balance event", zap.Error(err))
	}
}

// Close closes the underlying NATS connection without draining it.
func (p *NatsPublisher) Close() {
	p.nc.Close()
}
