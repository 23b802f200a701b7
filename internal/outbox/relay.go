package outbox

import (
	"context"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
)

type Source interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, ids []int64) error
}

// Publisher must return only after the broker acknowledged every message.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// Relay moves pending outbox records to Kafka. Delivery is at-least-once: a record is
// marked sent only after a successful write, so a crash in between republishes it.
type Relay struct {
	Source    Source
	Publisher Publisher
	Interval  time.Duration
	BatchSize int
	Logger    *zap.Logger
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			for {
				n, err := r.Flush(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.logger().Warn("outbox flush failed", zap.Error(err))
					}
					break
				}
				// drain backlog without waiting for the next tick
				if n < r.batchSize() {
					break
				}
			}
		}
	}
}

// Flush publishes one batch and returns how many records were sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	recs, err := r.Source.FetchPending(ctx, r.batchSize())
	if err != nil || len(recs) == 0 {
		return 0, err
	}

	msgs := make([]kafkago.Message, 0, len(recs))
	ids := make([]int64, 0, len(recs))
	for _, rec := range recs {
		msgs = append(msgs, kafkago.Message{
			Topic: rec.Topic,
			Key:   []byte(rec.Key),
			Value: rec.Payload,
			Time:  rec.CreatedAt,
			Headers: []kafkago.Header{
				{Key: kafkax.HeaderEventType, Value: []byte(rec.EventType)},
				{Key: kafkax.HeaderEventID, Value: []byte(rec.EventID)},
			},
		})
		ids = append(ids, rec.ID)
	}

	if err := r.Publisher.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := r.Source.MarkSent(ctx, ids); err != nil {
		return 0, err
	}
	r.logger().Debug("outbox flushed", zap.Int("count", len(recs)))
	return len(recs), nil
}

func (r *Relay) batchSize() int {
	if r.BatchSize <= 0 {
		return 100
	}
	return r.BatchSize
}

func (r *Relay) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
