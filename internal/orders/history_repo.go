package orders

import (
	"context"

	"github.com/ariefcatur/marketplace-orders/internal/postgres"
)

// HistoryRepo stores the status history projected from order events.
type HistoryRepo struct{ DB postgres.DB }

var _ HistoryWriter = (*HistoryRepo)(nil)

// AppendHistory is idempotent per event id.
func (r *HistoryRepo) AppendHistory(ctx context.Context, e HistoryEntry) error {
	var from *int16
	if e.From != nil {
		v := int16(*e.From)
		from = &v
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO order_status_history(event_id, order_id, from_status, to_status, actor_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.OrderID, from, int16(e.To), e.ActorID, e.OccurredAt)
	return err
}

// List returns the entries of one order, oldest first; equal times keep insertion order.
func (r *HistoryRepo) List(ctx context.Context, orderID string) ([]HistoryEntry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT event_id::text, order_id::text, from_status, to_status, actor_id, occurred_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY occurred_at, seq`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var from *int16
		var to int16
		if err := rows.Scan(&e.EventID, &e.OrderID, &from, &to, &e.ActorID, &e.OccurredAt); err != nil {
			return nil, err
		}
		if from != nil {
			s := Status(*from)
			e.From = &s
		}
		e.To = Status(to)
		out = append(out, e)
	}
	return out, rows.Err()
}
