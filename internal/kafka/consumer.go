package kafka

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler must return nil only when processing succeeded and the offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

const handlerAttempts = 3

// reader is the part of *kafka.Reader the consumer drives.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	workers int
	logger  *zap.Logger
}

func NewConsumer(brokers []string, group string, topics []string, workers int, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // commit explicitly
	})
	return newConsumer(r, workers, logger)
}

func newConsumer(r reader, workers int, logger *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, logger: logger}
}

// Start blocks until ctx is cancelled or processing fails. A cancelled ctx is not an error.
//
// Messages of one topic partition always go to the same worker, so they are handled and
// committed in offset order. A message that still fails after its retries stops the consumer
// without a commit; the group redelivers it from the last committed offset.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	g, gctx := errgroup.WithContext(ctx)
	queues := make([]chan kafka.Message, c.workers)
	for i := range queues {
		queue := make(chan kafka.Message, 256)
		queues[i] = queue
		g.Go(func() error {
			for m := range queue {
				if err := c.handle(gctx, h, m); err != nil {
					return fmt.Errorf("%s/%d@%d: %w", m.Topic, m.Partition, m.Offset, err)
				}
				if err := c.r.CommitMessages(gctx, m); err != nil {
					return fmt.Errorf("commit %s/%d@%d: %w", m.Topic, m.Partition, m.Offset, err)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for {
			m, err := c.r.FetchMessage(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			select {
			case queues[c.route(m)] <- m:
			case <-gctx.Done():
				return nil
			}
		}
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		c.logger.Error("consumer stopped", zap.Error(err))
	}
	return err
}

// route pins a topic partition to one worker.
func (c *Consumer) route(m kafka.Message) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s/%d", m.Topic, m.Partition)
	return int(h.Sum32() % uint32(c.workers))
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	var err error
	for attempt := 1; attempt <= handlerAttempts; attempt++ {
		if err = h(ctx, m); err == nil {
			return nil
		}
		c.logger.Warn("handler failed",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == handlerAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return err
}
