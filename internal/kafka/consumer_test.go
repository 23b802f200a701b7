package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

// stubReader serves a fixed backlog, then blocks until the context ends.
type stubReader struct {
	mu        sync.Mutex
	backlog   []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *stubReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.backlog) > 0 {
		m := r.backlog[0]
		r.backlog = r.backlog[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *stubReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *stubReader) offsets(topic string, partition int) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, m := range r.committed {
		if m.Topic == topic && m.Partition == partition {
			out = append(out, m.Offset)
		}
	}
	return out
}

func msg(topic string, partition int, offset int64) kafka.Message {
	return kafka.Message{Topic: topic, Partition: partition, Offset: offset}
}

func TestConsumerCommitsEachPartitionInOrder(t *testing.T) {
	r := &stubReader{}
	for off := int64(0); off < 20; off++ {
		r.backlog = append(r.backlog, msg("orders.created", 0, off), msg("orders.created", 1, off), msg("orders.status_changed", 0, off))
	}
	c := newConsumer(r, 4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, func(context.Context, kafka.Message) error { return nil }) }()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.committed) == 60
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	want := make([]int64, 20)
	for i := range want {
		want[i] = int64(i)
	}
	require.Equal(t, want, r.offsets("orders.created", 0))
	require.Equal(t, want, r.offsets("orders.created", 1))
	require.Equal(t, want, r.offsets("orders.status_changed", 0))
	require.True(t, r.closed)
}

func TestConsumerStopsWithoutCommittingPastAFailure(t *testing.T) {
	r := &stubReader{backlog: []kafka.Message{
		msg("orders.status_changed", 0, 10),
		msg("orders.status_changed", 0, 11),
		msg("orders.status_changed", 0, 12),
	}}
	c := newConsumer(r, 3, nil)

	boom := errors.New("db down")
	var mu sync.Mutex
	attempts := map[int64]int{}
	err := c.Start(context.Background(), func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[m.Offset]++
		if m.Offset == 11 {
			return boom
		}
		return nil
	})

	require.ErrorIs(t, err, boom)
	require.Equal(t, []int64{10}, r.offsets("orders.status_changed", 0))
	require.Equal(t, handlerAttempts, attempts[11])
	require.Zero(t, attempts[12])
	require.True(t, r.closed)
}

func TestConsumerReturnsNilOnCancel(t *testing.T) {
	r := &stubReader{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, newConsumer(r, 2, nil).Start(ctx, func(context.Context, kafka.Message) error { return nil }))
}
