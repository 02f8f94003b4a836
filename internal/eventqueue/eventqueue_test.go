package eventqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addCommand struct {
	counter *int64
	delta   int64
}

func (c *addCommand) Execute() (interface{}, error) {
	return atomic.AddInt64(c.counter, c.delta), nil
}

type failingCommand struct{}

func (failingCommand) Execute() (interface{}, error) {
	return nil, errors.New("boom")
}

type panickingCommand struct{}

func (panickingCommand) Execute() (interface{}, error) {
	panic("unexpected")
}

func TestSubmitExecutesAndFlushesEachCommand(t *testing.T) {
	var counter int64
	var flushCount int32
	q := New(Config{BufferSize: 16}, 1, time.Hour, func() error {
		atomic.AddInt32(&flushCount, 1)
		return nil
	}, nil)
	defer q.Shutdown()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		v, err := q.Submit(ctx, &addCommand{counter: &counter, delta: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), v)
	}
	assert.Equal(t, int64(5), counter)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&flushCount), int32(1))
}

func TestSubmitBatchesFlushAcrossCommands(t *testing.T) {
	var counter int64
	var flushCount int32
	q := New(Config{BufferSize: 16}, 4, time.Hour, func() error {
		atomic.AddInt32(&flushCount, 1)
		return nil
	}, nil)
	defer q.Shutdown()

	var wg sync.WaitGroup
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Submit(ctx, &addCommand{counter: &counter, delta: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(4), counter)
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushCount), "4 commands with batch size 4 flush exactly once")
}

func TestSubmitPropagatesExecuteError(t *testing.T) {
	q := New(Config{BufferSize: 16}, 1, time.Hour, func() error { return nil }, nil)
	defer q.Shutdown()

	_, err := q.Submit(context.Background(), failingCommand{})
	assert.EqualError(t, err, "boom")
}

func TestSubmitRecoversFromPanickingCommand(t *testing.T) {
	q := New(Config{BufferSize: 16}, 1, time.Hour, func() error { return nil }, nil)
	defer q.Shutdown()

	_, err := q.Submit(context.Background(), panickingCommand{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected")

	// The processor loop must survive the panic and keep serving commands.
	var counter int64
	v, err := q.Submit(context.Background(), &addCommand{counter: &counter, delta: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestFlushErrorIsFatalAndStopsProcessor(t *testing.T) {
	var fatalErr error
	q := New(Config{BufferSize: 16}, 1, time.Hour, func() error {
		return errors.New("disk full")
	}, func(err error) { fatalErr = err })

	var counter int64
	_, err := q.Submit(context.Background(), &addCommand{counter: &counter, delta: 1})
	require.Error(t, err)
	assert.EqualError(t, err, "disk full")
	require.Error(t, fatalErr)
	assert.EqualError(t, fatalErr, "disk full")
}

func TestSubmitFlushesOnTickerWhenIdle(t *testing.T) {
	var counter int64
	var flushCount int32
	q := New(Config{BufferSize: 16}, 1000, 20*time.Millisecond, func() error {
		atomic.AddInt32(&flushCount, 1)
		return nil
	}, nil)
	defer q.Shutdown()

	_, err := q.Submit(context.Background(), &addCommand{counter: &counter, delta: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushCount), "a single command flushes on the idle ticker, not waiting for a full batch")
}
