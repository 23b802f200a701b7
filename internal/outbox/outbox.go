package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/marketplace-orders/internal/postgres"
)

// Message is an event waiting to be published, written in the same transaction as the change it describes.
type Message struct {
	EventID   string
	EventType string
	Topic     string
	Key       string
	Payload   json.RawMessage
}

type Record struct {
	ID int64
	Message
	CreatedAt time.Time
}

// Insert appends messages through q, usually an open transaction.
func Insert(ctx context.Context, q postgres.Execer, msgs ...Message) error {
	for _, m := range msgs {
		_, err := q.Exec(ctx, `
			INSERT INTO outbox(event_id, event_type, topic, key, payload)
			VALUES ($1, $2, $3, $4, $5)`,
			m.EventID, m.EventType, m.Topic, m.Key, []byte(m.Payload))
		if err != nil {
			return err
		}
	}
	return nil
}

type Repo struct{ DB postgres.DB }

func (r *Repo) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, event_id, event_type, topic, key, payload, created_at
		FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.EventType, &rec.Topic, &rec.Key, &payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Payload = payload
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repo) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.DB.Exec(ctx, `UPDATE outbox SET sent_at = now() WHERE id = ANY($1)`, ids)
	return err
}
