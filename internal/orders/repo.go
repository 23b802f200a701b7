package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/marketplace-orders/internal/outbox"
	"github.com/ariefcatur/marketplace-orders/internal/postgres"
)

// Repo is the Postgres Store.
type Repo struct{ DB postgres.DB }

var _ Store = (*Repo)(nil)

func (r *Repo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) FindOrder(ctx context.Context, orderID string) (OrderRef, error) {
	if !isUUID(orderID) {
		return OrderRef{}, ErrNotFound
	}
	var ref OrderRef
	var status int16
	err := r.DB.QueryRow(ctx, `
		SELECT o.id::text, p.auth_id, s.auth_id, o.status
		FROM orders o
		JOIN profiles p ON p.id = o.profile_id
		JOIN products pr ON pr.id = o.product_id
		JOIN sellers s ON s.id = pr.seller_id
		WHERE o.id = $1`, orderID).Scan(&ref.ID, &ref.BuyerAuthID, &ref.SellerAuthID, &status)
	if err != nil {
		return OrderRef{}, notFound(err)
	}
	ref.Status = Status(status)
	return ref, nil
}

const listColumns = `
	SELECT o.id::text, o.profile_id::text, o.product_id::text, pr.name, pr.price::text, pr.in_stock,
	       o.address_copy, o.order_time, o.status
	FROM orders o
	JOIN profiles p ON p.id = o.profile_id
	JOIN products pr ON pr.id = o.product_id
	JOIN sellers s ON s.id = pr.seller_id`

func (r *Repo) ListOrders(ctx context.Context, q ListQuery) ([]OrderRow, int, error) {
	filter, arg := `p.auth_id = $1`, q.BuyerAuthID
	if q.SellerAuthID != "" {
		filter, arg = `s.auth_id = $1`, q.SellerAuthID
	}

	var total int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM orders o
		JOIN profiles p ON p.id = o.profile_id
		JOIN products pr ON pr.id = o.product_id
		JOIN sellers s ON s.id = pr.seller_id
		WHERE `+filter, arg).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.DB.Query(ctx, listColumns+`
		WHERE `+filter+`
		ORDER BY o.order_time DESC, o.seq ASC
		LIMIT $2 OFFSET $3`, arg, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var row OrderRow
		var price string
		var status int16
		if err := rows.Scan(&row.ID, &row.BuyerID, &row.ProductID, &row.ProductName, &price, &row.InStock,
			&row.AddressCopy, &row.OrderTime, &status); err != nil {
			return nil, 0, err
		}
		if row.Price, err = decimal.NewFromString(price); err != nil {
			return nil, 0, fmt.Errorf("order %s: price %q: %w", row.ID, price, err)
		}
		row.Status = Status(status)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *Repo) ListHistory(ctx context.Context, orderID string) ([]HistoryEntry, error) {
	return (&HistoryRepo{DB: r.DB}).List(ctx, orderID)
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) FindProfile(ctx context.Context, authID string) (Profile, error) {
	var p Profile
	err := t.tx.QueryRow(ctx, `SELECT id::text, auth_id, phone_number FROM profiles WHERE auth_id = $1`, authID).
		Scan(&p.ID, &p.AuthID, &p.PhoneNumber)
	if err != nil {
		return Profile{}, notFound(err)
	}
	return p, nil
}

func (t *pgTx) FindAddress(ctx context.Context, addressID string) (Address, error) {
	if !isUUID(addressID) {
		return Address{}, ErrNotFound
	}
	var a Address
	var line2 *string
	err := t.tx.QueryRow(ctx, `
		SELECT a.id::text, a.profile_id::text, a.line1, a.line2, ci.name, co.name, a.zip
		FROM addresses a
		JOIN cities ci ON ci.id = a.city_id
		JOIN countries co ON co.id = ci.country_id
		WHERE a.id = $1`, addressID).Scan(&a.ID, &a.OwnerID, &a.Line1, &line2, &a.City, &a.Country, &a.Zip)
	if err != nil {
		return Address{}, notFound(err)
	}
	if line2 != nil {
		a.Line2 = *line2
	}
	return a, nil
}

func (t *pgTx) FindProduct(ctx context.Context, productID string) (Product, error) {
	if !isUUID(productID) {
		return Product{}, ErrNotFound
	}
	var p Product
	var price string
	err := t.tx.QueryRow(ctx, `
		SELECT pr.id::text, s.auth_id, pr.name, pr.price::text, pr.in_stock
		FROM products pr
		JOIN sellers s ON s.id = pr.seller_id
		WHERE pr.id = $1`, productID).Scan(&p.ID, &p.SellerAuthID, &p.Name, &price, &p.InStock)
	if err != nil {
		return Product{}, notFound(err)
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return Product{}, fmt.Errorf("product %s: price %q: %w", p.ID, price, err)
	}
	return p, nil
}

func (t *pgTx) ListCartLines(ctx context.Context, profileID string) ([]CartLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT c.id::text, c.product_id::text, pr.in_stock
		FROM cart_items c
		JOIN products pr ON pr.id = c.product_id
		WHERE c.profile_id = $1
		ORDER BY c.added_at, c.id
		FOR UPDATE OF c`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CartLine
	for rows.Next() {
		var l CartLine
		if err := rows.Scan(&l.ID, &l.ProductID, &l.InStock); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertOrders(ctx context.Context, orders []Order) error {
	for _, o := range orders {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO orders(id, profile_id, product_id, address_copy, order_time, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, o.BuyerID, o.ProductID, o.AddressCopy, o.OrderTime, int16(o.Status))
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) DeleteCartLines(ctx context.Context, lineIDs []string) error {
	if len(lineIDs) == 0 {
		return nil
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM cart_items WHERE id = ANY($1::uuid[])`, lineIDs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != int64(len(lineIDs)) {
		return fmt.Errorf("%w: removed %d of %d lines", ErrCartChanged, tag.RowsAffected(), len(lineIDs))
	}
	return nil
}

func (t *pgTx) CompareAndSetStatus(ctx context.Context, orderID string, from, to Status) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`,
		orderID, int16(from), int16(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) AppendOutbox(ctx context.Context, msgs ...outbox.Message) error {
	return outbox.Insert(ctx, t.tx, msgs...)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
