package eventqueue

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// FlushFunc durably persists every WAL record appended by the
// commands executed since the last flush (normally wal.Writer.FlushAndSync).
// Per spec §5/§7, a FlushFunc error is fatal: the service must halt
// rather than acknowledge commands it cannot prove durable.
type FlushFunc func() error

// pending is one executed-but-not-yet-acknowledged command, held until
// its batch's flush completes.
type pending struct {
	done  chan Outcome
	value interface{}
}

// Processor is the single consumer goroutine of a RingBuffer: it
// drains commands in strict sequence order, executes each (which
// synchronously appends its WAL record), and batches the durability
// flush across up to BatchSize commands or FlushInterval, whichever
// comes first, trading a few milliseconds of added latency for far
// fewer fsync calls under load.
type Processor struct {
	rb            *RingBuffer
	batchSize     int
	flushInterval time.Duration
	flush         FlushFunc
	onFatal       func(error)

	running      atomic.Bool
	shutdownCh   chan struct{}
	shutdownDone chan struct{}
}

// NewProcessor builds a processor over rb. flush is called after each
// batch boundary; onFatal is invoked (and the processor stops) if
// flush ever returns an error — the caller is expected to halt the
// owning service's command acceptance when this fires.
func NewProcessor(rb *RingBuffer, batchSize int, flushInterval time.Duration, flush FlushFunc, onFatal func(error)) *Processor {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Millisecond
	}
	return &Processor{
		rb:            rb,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		flush:         flush,
		onFatal:       onFatal,
		shutdownCh:    make(chan struct{}),
		shutdownDone:  make(chan struct{}),
	}
}

// Start begins the processing loop in its own goroutine.
func (p *Processor) Start() {
	p.running.Store(true)
	go p.processLoop()
}

func (p *Processor) processLoop() {
	defer close(p.shutdownDone)

	nextSeq := uint64(1)
	batch := make([]pending, 0, p.batchSize)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for p.running.Load() {
		sl := &p.rb.slots[nextSeq&p.rb.indexMask]

		for {
			available := atomic.LoadUint64(&sl.sequenceNum)
			if available == nextSeq {
				break
			}
			select {
			case <-p.shutdownCh:
				p.drainBatch(batch)
				return
			case <-ticker.C:
				batch = p.flushBatch(batch)
			default:
				runtime.Gosched()
			}
		}

		value, err := p.executeSafely(sl.cmd)
		done := sl.done
		atomic.StoreUint64(&p.rb.gatingSequence, nextSeq)
		nextSeq++

		if err != nil {
			if done != nil {
				sendOutcome(done, Outcome{Err: err})
			}
			continue
		}

		batch = append(batch, pending{done: done, value: value})
		if len(batch) >= p.batchSize {
			batch = p.flushBatch(batch)
		}
	}

	p.drainBatch(batch)
}

func (p *Processor) executeSafely(cmd Command) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventqueue: command panicked: %v", r)
		}
	}()
	return cmd.Execute()
}

// flushBatch durably flushes every command executed since the last
// flush and delivers their outcomes. A flush error is fatal (spec §7):
// the processor stops accepting further commands, onFatal is invoked,
// and then every pending command in the batch is told so.
func (p *Processor) flushBatch(batch []pending) []pending {
	if len(batch) == 0 {
		return batch
	}

	err := p.flush()
	if err != nil {
		p.running.Store(false)
		if p.onFatal != nil {
			p.onFatal(err)
		}
	}

	for _, pe := range batch {
		if pe.done == nil {
			continue
		}
		if err != nil {
			sendOutcome(pe.done, Outcome{Err: err})
		} else {
			sendOutcome(pe.done, Outcome{Value: pe.value})
		}
	}

	return batch[:0]
}

func (p *Processor) drainBatch(batch []pending) {
	if len(batch) > 0 {
		p.flushBatch(batch)
	}
}

func sendOutcome(done chan Outcome, o Outcome) {
	select {
	case done <- o:
	default:
		// Submitter gave up waiting (e.g. context cancelled); drop.
	}
}

// Shutdown stops the processing loop after flushing any in-flight
// batch, and waits for the loop goroutine to exit.
func (p *Processor) Shutdown() {
	close(p.shutdownCh)
	<-p.shutdownDone
}
