package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeReader hands out queued records and blocks once they run out.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func testConsumer(r *fakeReader) *Consumer {
	c := newConsumer(r, zap.NewNop().Sugar())
	c.redelivery = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return c
}

func run(t *testing.T, c *Consumer, handle func(context.Context, string, []byte) error) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Start(ctx, handle)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

func TestConsumer_RedeliversRetryableUntilSuccess(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 7, Key: []byte("k"), Value: []byte("v")}}}
	var calls atomic.Int32
	run(t, testConsumer(r), func(context.Context, string, []byte) error {
		if calls.Add(1) <= 5 {
			return fmt.Errorf("%w: store down", domain.ErrSendFailed)
		}
		return nil
	})

	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{7}, r.commits())
	assert.EqualValues(t, 6, calls.Load())
}

func TestConsumer_CommitsPermanentFailures(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}}}
	var calls atomic.Int32
	run(t, testConsumer(r), func(context.Context, string, []byte) error {
		calls.Add(1)
		return fmt.Errorf("%w: bad command", domain.ErrInvalidMessage)
	})

	require.Eventually(t, func() bool { return len(r.commits()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2}, r.commits())
	assert.EqualValues(t, 2, calls.Load(), "permanent failures are not retried")
}

func TestConsumer_OutageDoesNotCommit(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 3}}}
	var calls atomic.Int32
	cancel, done := run(t, testConsumer(r), func(context.Context, string, []byte) error {
		calls.Add(1)
		return errors.Join(domain.ErrSendFailed, errors.New("write concern timeout"))
	})

	require.Eventually(t, func() bool { return calls.Load() >= 10 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Empty(t, r.commits(), "the record stays uncommitted for the next run")
}
