package orders

import (
	"context"

	"github.com/ariefcatur/marketplace-orders/internal/outbox"
)

// Store is the persistent side of the order ledger. Lookups that return nothing
// report ErrNotFound.
type Store interface {
	// RunInTx runs fn in one transaction. Any error from fn rolls back every write made through tx.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	FindOrder(ctx context.Context, orderID string) (OrderRef, error)
	// ListOrders returns one page ordered by order time descending, ties in insertion order,
	// together with the total number of matching orders.
	ListOrders(ctx context.Context, q ListQuery) ([]OrderRow, int, error)
	ListHistory(ctx context.Context, orderID string) ([]HistoryEntry, error)
}

type Tx interface {
	FindProfile(ctx context.Context, authID string) (Profile, error)
	FindAddress(ctx context.Context, addressID string) (Address, error)
	FindProduct(ctx context.Context, productID string) (Product, error)
	ListCartLines(ctx context.Context, profileID string) ([]CartLine, error)

	InsertOrders(ctx context.Context, orders []Order) error
	DeleteCartLines(ctx context.Context, lineIDs []string) error
	// CompareAndSetStatus moves the order to `to` only if it is still in `from`.
	// It reports false when the order was not in `from`.
	CompareAndSetStatus(ctx context.Context, orderID string, from, to Status) (bool, error)

	AppendOutbox(ctx context.Context, msgs ...outbox.Message) error
}

// HistoryWriter persists projected history entries. Duplicates by event id are ignored.
type HistoryWriter interface {
	AppendHistory(ctx context.Context, e HistoryEntry) error
}
