// Package history projects order events into a per-order status history.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
)

const dedupScope = "history"

// Metrics receives one outcome per handled event. A nil Metrics is ignored.
type Metrics interface {
	HistoryEvent(outcome string)
}

type Service struct {
	Writer  orders.HistoryWriter
	Redis   redis.Cmdable // optional; the writer is idempotent on its own
	Logger  *zap.Logger
	Metrics Metrics
}

// Topics lists what the projector consumes.
func Topics() []string {
	return []string{orders.TopicOrderCreated, orders.TopicOrderStatusChanged}
}

// Handle is installed as the consumer handler. Unknown event types are skipped.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// a malformed message will never decode; commit past it
		s.logger().Error("undecodable event", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		s.record("malformed")
		return nil
	}

	entry, ok, err := entryFrom(env)
	if err != nil {
		s.logger().Error("undecodable payload", zap.String("event_id", env.EventID), zap.Error(err))
		s.record("malformed")
		return nil
	}
	if !ok {
		s.record("skipped")
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, dedupScope, env.EventID)
	if s.Redis != nil {
		if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
			s.record("duplicate")
			return nil
		}
	}

	if err := s.Writer.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("append history %s: %w", env.EventID, err)
	}
	if s.Redis != nil {
		if _, err := redisx.Claim(ctx, s.Redis, dkey, redisx.TTLDedup); err != nil {
			s.logger().Warn("dedup mark failed", zap.String("event_id", env.EventID), zap.Error(err))
		}
	}

	s.logger().Debug("history appended",
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("order_id", entry.OrderID),
		zap.String("header_event_type", kafkax.Header(m, kafkax.HeaderEventType)),
	)
	s.record("appended")
	return nil
}

func entryFrom(env orders.Envelope) (orders.HistoryEntry, bool, error) {
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return orders.HistoryEntry{}, false, err
		}
		to, err := orders.StatusFromPublic(p.Status)
		if err != nil {
			return orders.HistoryEntry{}, false, err
		}
		return orders.HistoryEntry{
			EventID:    env.EventID,
			OrderID:    p.OrderID,
			To:         to,
			ActorID:    p.BuyerAuthID,
			OccurredAt: env.OccurredAt,
		}, true, nil

	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return orders.HistoryEntry{}, false, err
		}
		from, errFrom := orders.StatusFromPublic(p.FromStatus)
		to, errTo := orders.StatusFromPublic(p.ToStatus)
		if err := errors.Join(errFrom, errTo); err != nil {
			return orders.HistoryEntry{}, false, err
		}
		return orders.HistoryEntry{
			EventID:    env.EventID,
			OrderID:    p.OrderID,
			From:       &from,
			To:         to,
			ActorID:    p.ActorID,
			OccurredAt: env.OccurredAt,
		}, true, nil
	}
	return orders.HistoryEntry{}, false, nil
}

func (s *Service) record(outcome string) {
	if s.Metrics != nil {
		s.Metrics.HistoryEvent(outcome)
	}
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
