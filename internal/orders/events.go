package orders

import (
	"encoding/json"
	"time"

	"github.com/ariefcatur/marketplace-orders/internal/outbox"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"

	eventVersion = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// Status values in payloads use the 1-indexed wire ordinal.

type OrderCreatedPayload struct {
	OrderID     string    `json:"order_id"`
	BuyerAuthID string    `json:"buyer_id"`
	ProductID   string    `json:"product_id"`
	Status      int       `json:"status"`
	OrderTime   time.Time `json:"order_time"`
	Source      string    `json:"source"` // "now" | "cart"
}

type OrderStatusChangedPayload struct {
	OrderID    string `json:"order_id"`
	FromStatus int    `json:"from_status"`
	ToStatus   int    `json:"to_status"`
	ActorID    string `json:"actor_id"`
	ActorRole  string `json:"actor_role"`
}

type eventMeta struct {
	id       string
	producer string
	traceID  string
	at       time.Time
}

func newOutboxMessage(meta eventMeta, eventType, topic, orderID string, payload any) (outbox.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return outbox.Message{}, err
	}
	env, err := json.Marshal(Envelope{
		EventID:       meta.id,
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    meta.at.UTC(),
		Producer:      meta.producer,
		TraceID:       meta.traceID,
		CorrelationID: orderID,
		Payload:       body,
	})
	if err != nil {
		return outbox.Message{}, err
	}
	return outbox.Message{
		EventID:   meta.id,
		EventType: eventType,
		Topic:     topic,
		Key:       string(PartitionKey(orderID)),
		Payload:   env,
	}, nil
}
