package eventqueue

import (
	"context"
	"fmt"
	"time"
)

// Queue ties a RingBuffer, Sequencer and Processor together into the
// single entry point a service's command producers use.
type Queue struct {
	rb  *RingBuffer
	seq *Sequencer
	p   *Processor
}

// New builds and starts a Queue. flush is called after each batch of
// successfully-executed commands; onFatal fires if flush ever fails.
func New(cfg Config, batchSize int, flushInterval time.Duration, flush FlushFunc, onFatal func(error)) *Queue {
	rb := NewRingBuffer(cfg)
	p := NewProcessor(rb, batchSize, flushInterval, flush, onFatal)
	p.Start()
	return &Queue{rb: rb, seq: NewSequencer(rb), p: p}
}

// Submit claims a slot, publishes cmd, and blocks until its outcome is
// known — either its batch durably flushed, or ctx was cancelled
// first. Retries claiming a slot on ErrBufferFull until ctx is done,
// providing the backpressure spec §5 describes ("fail-if-full policy
// that forces the producer to retry").
func (q *Queue) Submit(ctx context.Context, cmd Command) (interface{}, error) {
	done := make(chan Outcome, 1)

	for {
		seq, err := q.seq.Next()
		if err == nil {
			q.seq.Publish(seq, cmd, done)
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("eventqueue: submit cancelled while buffer full: %w", ctx.Err())
		default:
		}
	}

	select {
	case outcome := <-done:
		return outcome.Value, outcome.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops the queue's processor.
func (q *Queue) Shutdown() {
	q.p.Shutdown()
}
