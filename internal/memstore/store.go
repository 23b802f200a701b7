// Package memstore is an in-process implementation of the order ledger's storage,
// used by tests and by the api when STORE_DRIVER=memory.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/outbox"
)

type cartItem struct {
	id        string
	profileID string
	productID string
}

type storedOrder struct {
	orders.Order
	seq int64
}

type outboxRow struct {
	outbox.Record
	sent bool
}

type state struct {
	profiles  map[string]orders.Profile // by id
	addresses map[string]orders.Address
	products  map[string]orders.Product
	cart      []cartItem
	orders    []storedOrder
	outbox    []outboxRow
	history   []orders.HistoryEntry
	seq       int64
	outboxSeq int64
}

func (s *state) clone() *state {
	c := &state{
		profiles:  make(map[string]orders.Profile, len(s.profiles)),
		addresses: make(map[string]orders.Address, len(s.addresses)),
		products:  make(map[string]orders.Product, len(s.products)),
		cart:      slices.Clone(s.cart),
		orders:    slices.Clone(s.orders),
		outbox:    slices.Clone(s.outbox),
		history:   slices.Clone(s.history),
		seq:       s.seq,
		outboxSeq: s.outboxSeq,
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	for k, v := range s.addresses {
		c.addresses[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	return c
}

// Store keeps everything in memory. Transactions are serialised and work on a copy
// that replaces the live state only on success.
type Store struct {
	mu    sync.Mutex
	data  *state
	clock func() time.Time
}

var (
	_ orders.Store         = (*Store)(nil)
	_ orders.HistoryWriter = (*Store)(nil)
	_ outbox.Source        = (*Store)(nil)
)

func New() *Store {
	return &Store{
		data: &state{
			profiles:  map[string]orders.Profile{},
			addresses: map[string]orders.Address{},
			products:  map[string]orders.Product{},
		},
		clock: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(ctx, &memTx{st: work, clock: s.clock}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) FindOrder(_ context.Context, orderID string) (orders.OrderRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.data.orders {
		if o.ID != orderID {
			continue
		}
		return orders.OrderRef{
			ID:           o.ID,
			BuyerAuthID:  s.data.profiles[o.BuyerID].AuthID,
			SellerAuthID: s.data.products[o.ProductID].SellerAuthID,
			Status:       o.Status,
		}, nil
	}
	return orders.OrderRef{}, orders.ErrNotFound
}

func (s *Store) ListOrders(_ context.Context, q orders.ListQuery) ([]orders.OrderRow, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []storedOrder
	for _, o := range s.data.orders {
		product := s.data.products[o.ProductID]
		switch {
		case q.SellerAuthID != "":
			if product.SellerAuthID != q.SellerAuthID {
				continue
			}
		default:
			if s.data.profiles[o.BuyerID].AuthID != q.BuyerAuthID {
				continue
			}
		}
		matched = append(matched, o)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].OrderTime.Equal(matched[j].OrderTime) {
			return matched[i].OrderTime.After(matched[j].OrderTime)
		}
		return matched[i].seq < matched[j].seq
	})

	total := len(matched)
	start := min(max(q.Offset, 0), total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}

	rows := make([]orders.OrderRow, 0, end-start)
	for _, o := range matched[start:end] {
		product := s.data.products[o.ProductID]
		rows = append(rows, orders.OrderRow{
			ID:          o.ID,
			BuyerID:     o.BuyerID,
			ProductID:   o.ProductID,
			ProductName: product.Name,
			Price:       product.Price,
			InStock:     product.InStock,
			AddressCopy: o.AddressCopy,
			OrderTime:   o.OrderTime,
			Status:      o.Status,
		})
	}
	return rows, total, nil
}

func (s *Store) ListHistory(_ context.Context, orderID string) ([]orders.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []orders.HistoryEntry
	for _, e := range s.data.history {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (s *Store) AppendHistory(_ context.Context, e orders.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.history {
		if existing.EventID == e.EventID {
			return nil
		}
	}
	s.data.history = append(s.data.history, e)
	return nil
}

func (s *Store) FetchPending(_ context.Context, limit int) ([]outbox.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []outbox.Record
	for _, r := range s.data.outbox {
		if r.sent {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, r.Record)
	}
	return out, nil
}

func (s *Store) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.outbox {
		if slices.Contains(ids, s.data.outbox[i].ID) {
			s.data.outbox[i].sent = true
		}
	}
	return nil
}

// PutProfile registers a buyer profile and returns its id.
func (s *Store) PutProfile(authID, phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.data.profiles[id] = orders.Profile{ID: id, AuthID: authID, PhoneNumber: phone}
	return id
}

// PutAddress stores a; an empty a.ID is assigned. It returns the id.
func (s *Store) PutAddress(a orders.Address) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.data.addresses[a.ID] = a
	return a.ID
}

// PutProduct stores p; an empty p.ID is assigned. It returns the id.
func (s *Store) PutProduct(p orders.Product) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.data.products[p.ID] = p
	return p.ID
}

// AddCartLine puts one unit of a product into a buyer's cart and returns the line id.
func (s *Store) AddCartLine(profileID, productID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.data.cart = append(s.data.cart, cartItem{id: id, profileID: profileID, productID: productID})
	return id
}

// CartSize counts the lines in a buyer's cart.
func (s *Store) CartSize(profileID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.data.cart {
		if c.profileID == profileID {
			n++
		}
	}
	return n
}

// Orders returns every stored order in insertion order.
func (s *Store) Orders() []orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]orders.Order, 0, len(s.data.orders))
	for _, o := range s.data.orders {
		out = append(out, o.Order)
	}
	return out
}

// Outbox returns every outbox record, sent or not.
func (s *Store) Outbox() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]outbox.Record, 0, len(s.data.outbox))
	for _, r := range s.data.outbox {
		out = append(out, r.Record)
	}
	return out
}

type memTx struct {
	st    *state
	clock func() time.Time
}

func (t *memTx) FindProfile(_ context.Context, authID string) (orders.Profile, error) {
	for _, p := range t.st.profiles {
		if p.AuthID == authID {
			return p, nil
		}
	}
	return orders.Profile{}, orders.ErrNotFound
}

func (t *memTx) FindAddress(_ context.Context, addressID string) (orders.Address, error) {
	a, ok := t.st.addresses[addressID]
	if !ok {
		return orders.Address{}, orders.ErrNotFound
	}
	return a, nil
}

func (t *memTx) FindProduct(_ context.Context, productID string) (orders.Product, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return orders.Product{}, orders.ErrNotFound
	}
	return p, nil
}

func (t *memTx) ListCartLines(_ context.Context, profileID string) ([]orders.CartLine, error) {
	var out []orders.CartLine
	for _, c := range t.st.cart {
		if c.profileID != profileID {
			continue
		}
		out = append(out, orders.CartLine{
			ID:        c.id,
			ProductID: c.productID,
			InStock:   t.st.products[c.productID].InStock,
		})
	}
	return out, nil
}

func (t *memTx) InsertOrders(_ context.Context, batch []orders.Order) error {
	for _, o := range batch {
		t.st.seq++
		t.st.orders = append(t.st.orders, storedOrder{Order: o, seq: t.st.seq})
	}
	return nil
}

func (t *memTx) DeleteCartLines(_ context.Context, lineIDs []string) error {
	before := len(t.st.cart)
	t.st.cart = slices.DeleteFunc(t.st.cart, func(c cartItem) bool {
		return slices.Contains(lineIDs, c.id)
	})
	if removed := before - len(t.st.cart); removed != len(lineIDs) {
		return fmt.Errorf("%w: removed %d of %d lines", orders.ErrCartChanged, removed, len(lineIDs))
	}
	return nil
}

func (t *memTx) CompareAndSetStatus(_ context.Context, orderID string, from, to orders.Status) (bool, error) {
	for i := range t.st.orders {
		if t.st.orders[i].ID != orderID {
			continue
		}
		if t.st.orders[i].Status != from {
			return false, nil
		}
		t.st.orders[i].Status = to
		return true, nil
	}
	return false, nil
}

func (t *memTx) AppendOutbox(_ context.Context, msgs ...outbox.Message) error {
	for _, m := range msgs {
		t.st.outboxSeq++
		t.st.outbox = append(t.st.outbox, outboxRow{
			Record: outbox.Record{ID: t.st.outboxSeq, Message: m, CreatedAt: t.clock()},
		})
	}
	return nil
}
