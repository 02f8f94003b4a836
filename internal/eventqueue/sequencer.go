package eventqueue

import (
	"runtime"
	"sync/atomic"
)

// Sequencer coordinates multi-producer access to a RingBuffer using
// atomic CAS: Next claims a sequence number, Publish writes the slot
// and releases it to the consumer via an atomic store of its sequence
// number.
type Sequencer struct {
	rb *RingBuffer
}

// NewSequencer builds a sequencer over rb.
func NewSequencer(rb *RingBuffer) *Sequencer {
	return &Sequencer{rb: rb}
}

const maxSpins = 10000

// Next claims the next sequence number, spinning briefly while the
// buffer is full before giving up with ErrBufferFull — the caller is
// expected to retry, providing the backpressure spec §5 requires.
func (s *Sequencer) Next() (uint64, error) {
	for spins := 0; spins < maxSpins; spins++ {
		current := atomic.LoadUint64(&s.rb.cursor)
		next := current + 1

		gating := atomic.LoadUint64(&s.rb.gatingSequence)
		available := gating + s.rb.bufferSize
		if next > available {
			runtime.Gosched()
			continue
		}

		if atomic.CompareAndSwapUint64(&s.rb.cursor, current, next) {
			return next, nil
		}
	}
	return 0, ErrBufferFull
}

// Publish writes cmd and its outcome channel into the slot claimed by
// seq, then releases it to the consumer.
func (s *Sequencer) Publish(seq uint64, cmd Command, done chan Outcome) {
	sl := &s.rb.slots[seq&s.rb.indexMask]
	sl.cmd = cmd
	sl.done = done
	atomic.StoreUint64(&sl.sequenceNum, seq)
}
