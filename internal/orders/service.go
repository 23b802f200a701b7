package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-orders/internal/logging"
	"github.com/ariefcatur/marketplace-orders/internal/outbox"
)

const (
	// PageSize is the fixed number of orders per listing page.
	PageSize = 20
	// DefaultMaxQuantity bounds a single buy-now request.
	DefaultMaxQuantity = 100

	SourceNow  = "now"
	SourceCart = "cart"
)

// Metrics receives ledger outcomes. A nil Metrics is ignored.
type Metrics interface {
	OrdersCreated(source string, n int)
	Transition(result string)
}

type ServiceDeps struct {
	Store       Store
	Clock       func() time.Time
	IDGenerator func() string
	// Producer names this service in event envelopes.
	Producer    string
	MaxQuantity int
	Metrics     Metrics
}

// Service is the order ledger: the only writer of orders.
type Service struct {
	store       Store
	clock       func() time.Time
	newID       func() string
	producer    string
	maxQuantity int
	metrics     Metrics
}

func NewService(deps ServiceDeps) *Service {
	s := &Service{
		store:       deps.Store,
		clock:       deps.Clock,
		newID:       deps.IDGenerator,
		producer:    deps.Producer,
		maxQuantity: deps.MaxQuantity,
		metrics:     deps.Metrics,
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.maxQuantity <= 0 {
		s.maxQuantity = DefaultMaxQuantity
	}
	return s
}

type PlaceNowCommand struct {
	BuyerAuthID string
	ProductID   string
	AddressID   string
	Quantity    int
	TraceID     string
}

type CheckoutCommand struct {
	BuyerAuthID string
	AddressID   string
	TraceID     string
}

type ChangeStatusCommand struct {
	ActorID string
	OrderID string
	// Status is the 1-indexed wire ordinal.
	Status  int
	TraceID string
}

type StatusChange struct {
	OrderID string
	From    Status
	To      Status
	Role    Role
}

// PlaceNow creates Quantity orders for one product. Either every row is written or none.
func (s *Service) PlaceNow(ctx context.Context, cmd PlaceNowCommand) ([]string, error) {
	if cmd.Quantity < 1 || cmd.Quantity > s.maxQuantity {
		return nil, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidQuantity, s.maxQuantity)
	}

	var ids []string
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		profile, address, err := s.buyerAndAddress(ctx, tx, cmd.BuyerAuthID, cmd.AddressID)
		if err != nil {
			return err
		}
		product, err := tx.FindProduct(ctx, strings.TrimSpace(cmd.ProductID))
		if err != nil {
			return lookupError("product", err)
		}
		if !product.Purchasable() {
			return fmt.Errorf("%w: %s", ErrOutOfStock, product.ID)
		}

		productIDs := make([]string, cmd.Quantity)
		for i := range productIDs {
			productIDs[i] = product.ID
		}
		ids, err = s.insert(ctx, tx, profile, address, productIDs, SourceNow, cmd.BuyerAuthID, cmd.TraceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recordCreated(SourceNow, len(ids))
	logging.FromContext(ctx).Info("orders placed",
		zap.String("source", SourceNow),
		zap.String("product_id", cmd.ProductID),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// Checkout turns every cart line of the buyer into an order and empties the cart, atomically.
// A single out-of-stock line aborts the whole checkout.
func (s *Service) Checkout(ctx context.Context, cmd CheckoutCommand) ([]string, error) {
	var ids []string
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		profile, address, err := s.buyerAndAddress(ctx, tx, cmd.BuyerAuthID, cmd.AddressID)
		if err != nil {
			return err
		}
		lines, err := tx.ListCartLines(ctx, profile.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		productIDs := make([]string, 0, len(lines))
		lineIDs := make([]string, 0, len(lines))
		for _, l := range lines {
			if !l.Purchasable() {
				return fmt.Errorf("%w: one of the products (%s)", ErrOutOfStock, l.ProductID)
			}
			productIDs = append(productIDs, l.ProductID)
			lineIDs = append(lineIDs, l.ID)
		}

		ids, err = s.insert(ctx, tx, profile, address, productIDs, SourceCart, cmd.BuyerAuthID, cmd.TraceID)
		if err != nil {
			return err
		}
		return tx.DeleteCartLines(ctx, lineIDs)
	})
	if err != nil {
		return nil, err
	}

	s.recordCreated(SourceCart, len(ids))
	logging.FromContext(ctx).Info("orders placed",
		zap.String("source", SourceCart),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

func (s *Service) buyerAndAddress(ctx context.Context, tx Tx, authID, addressID string) (Profile, Address, error) {
	profile, err := tx.FindProfile(ctx, strings.TrimSpace(authID))
	if err != nil {
		return Profile{}, Address{}, lookupError("profile", err)
	}
	address, err := tx.FindAddress(ctx, strings.TrimSpace(addressID))
	if err != nil {
		return Profile{}, Address{}, lookupError("address", err)
	}
	if address.OwnerID != profile.ID {
		return Profile{}, Address{}, fmt.Errorf("%w: address belongs to another buyer", ErrNotAuthorized)
	}
	return profile, address, nil
}

// insert writes one Unverified order per product id, plus their OrderCreated events.
func (s *Service) insert(ctx context.Context, tx Tx, profile Profile, address Address, productIDs []string, source, buyerAuthID, traceID string) ([]string, error) {
	now := s.clock()
	addressCopy := RenderAddressCopy(address, profile.PhoneNumber)

	batch := make([]Order, 0, len(productIDs))
	msgs := make([]outbox.Message, 0, len(productIDs))
	for _, productID := range productIDs {
		o := Order{
			ID:          s.newID(),
			BuyerID:     profile.ID,
			ProductID:   productID,
			AddressCopy: addressCopy,
			OrderTime:   now,
			Status:      StatusUnverified,
		}
		batch = append(batch, o)

		msg, err := newOutboxMessage(s.eventMeta(traceID, now), EventOrderCreated, TopicOrderCreated, o.ID, OrderCreatedPayload{
			OrderID:     o.ID,
			BuyerAuthID: buyerAuthID,
			ProductID:   o.ProductID,
			Status:      o.Status.Public(),
			OrderTime:   o.OrderTime,
			Source:      source,
		})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	if err := tx.InsertOrders(ctx, batch); err != nil {
		return nil, err
	}
	if err := tx.AppendOutbox(ctx, msgs...); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(batch))
	for _, o := range batch {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

// ListForBuyer pages through the orders the actor bought.
func (s *Service) ListForBuyer(ctx context.Context, buyerAuthID string, page int) (Page, error) {
	return s.list(ctx, ListQuery{BuyerAuthID: buyerAuthID}, page)
}

// ListForSeller pages through the orders of products the actor sells.
func (s *Service) ListForSeller(ctx context.Context, sellerAuthID string, page int) (Page, error) {
	return s.list(ctx, ListQuery{SellerAuthID: sellerAuthID}, page)
}

func (s *Service) list(ctx context.Context, q ListQuery, page int) (Page, error) {
	if page < 1 {
		return Page{}, fmt.Errorf("%w: got %d", ErrInvalidPage, page)
	}
	q.Limit = PageSize
	q.Offset = (page - 1) * PageSize

	rows, total, err := s.store.ListOrders(ctx, q)
	if err != nil {
		return Page{}, err
	}

	views := make([]OrderView, 0, len(rows))
	for _, r := range rows {
		views = append(views, newOrderView(r))
	}
	return Page{
		Orders:             views,
		TotalProductCount:  total,
		OnPageProductCount: len(views),
		TotalPageCount:     (total + PageSize - 1) / PageSize,
		CurrentPage:        page,
	}, nil
}

// ChangeStatus applies a status transition requested by the order's buyer or owning seller.
// The write is conditioned on the status that was checked, so of two racing requests at most one succeeds.
func (s *Service) ChangeStatus(ctx context.Context, cmd ChangeStatusCommand) (StatusChange, error) {
	change, err := s.changeStatus(ctx, cmd)
	s.recordTransition(err)
	if err != nil {
		return StatusChange{}, err
	}

	logging.FromContext(ctx).Info("order status changed",
		zap.String("order_id", change.OrderID),
		zap.Stringer("from", change.From),
		zap.Stringer("to", change.To),
		zap.Stringer("role", change.Role),
	)
	return change, nil
}

func (s *Service) changeStatus(ctx context.Context, cmd ChangeStatusCommand) (StatusChange, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	ref, err := s.store.FindOrder(ctx, orderID)
	if err != nil {
		return StatusChange{}, lookupError("order", err)
	}

	role := ResolveRole(cmd.ActorID, ref.BuyerAuthID, ref.SellerAuthID)
	if role == RoleUnrelated {
		return StatusChange{}, ErrNotAuthorized
	}

	target, err := StatusFromPublic(cmd.Status)
	if err != nil {
		return StatusChange{}, err
	}
	if err := CheckTransition(ref.Status, role, target); err != nil {
		return StatusChange{}, err
	}

	now := s.clock()
	msg, err := newOutboxMessage(s.eventMeta(cmd.TraceID, now), EventOrderStatusChanged, TopicOrderStatusChanged, ref.ID, OrderStatusChangedPayload{
		OrderID:    ref.ID,
		FromStatus: ref.Status.Public(),
		ToStatus:   target.Public(),
		ActorID:    cmd.ActorID,
		ActorRole:  role.String(),
	})
	if err != nil {
		return StatusChange{}, err
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		ok, err := tx.CompareAndSetStatus(ctx, ref.ID, ref.Status, target)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: expected %s", ErrStatusConflict, ref.Status)
		}
		return tx.AppendOutbox(ctx, msg)
	})
	if err != nil {
		return StatusChange{}, err
	}
	return StatusChange{OrderID: ref.ID, From: ref.Status, To: target, Role: role}, nil
}

// History lists the recorded statuses of an order, oldest first, to its buyer or owning seller.
func (s *Service) History(ctx context.Context, actorID, orderID string) ([]HistoryView, error) {
	ref, err := s.store.FindOrder(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return nil, lookupError("order", err)
	}
	if ResolveRole(actorID, ref.BuyerAuthID, ref.SellerAuthID) == RoleUnrelated {
		return nil, fmt.Errorf("%w: not your order", ErrNotAuthorized)
	}

	entries, err := s.store.ListHistory(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, newHistoryView(e))
	}
	return out, nil
}

func (s *Service) eventMeta(traceID string, at time.Time) eventMeta {
	return eventMeta{id: uuid.NewString(), producer: s.producer, traceID: traceID, at: at}
}

func (s *Service) recordCreated(source string, n int) {
	if s.metrics != nil {
		s.metrics.OrdersCreated(source, n)
	}
}

func (s *Service) recordTransition(err error) {
	if s.metrics == nil {
		return
	}
	result := "applied"
	switch {
	case err == nil:
	case errors.Is(err, ErrStatusConflict):
		result = "conflict"
	case IsClientError(err):
		result = "denied"
	default:
		result = "error"
	}
	s.metrics.Transition(result)
}

func lookupError(what string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: no such %s", ErrNotFound, what)
	}
	return err
}
