package gatewaystub

import (
	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// IDGenerator mints the external, non-deterministic identifiers the
// gateway is responsible for assigning before a command is admitted:
// order ids and idempotency keys for deposit/withdraw requests (both
// snowflake, so they fit the WAL's uint64 fields and sort roughly by
// time across gateway instances), and client-correlation ids (uuid
// strings).
//
// These ids are exactly the non-deterministic inputs spec §4.3 requires
// to be captured explicitly in the WAL payload rather than re-derived
// during replay.
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator builds a generator for one gateway instance. nodeID
// must be unique per concurrently-running gateway process (0-1023).
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &IDGenerator{node: node}, nil
}

// NextOrderID mints a new order id.
func (g *IDGenerator) NextOrderID() uint64 {
	return uint64(g.node.Generate().Int64())
}

// NextRequestID mints an idempotency key for a deposit/withdraw
// request.
func (g *IDGenerator) NextRequestID() uint64 {
	return uint64(g.node.Generate().Int64())
}

// NextClientID mints a client-correlation id for an order, carried in
// OrderPayload.ClientID so an operator can trace a WAL record back to
// the originating API call.
func (g *IDGenerator) NextClientID() string {
	return uuid.NewString()
}
