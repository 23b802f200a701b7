package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-orders/internal/auth"
	"github.com/ariefcatur/marketplace-orders/internal/logging"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

const idempotencyHeader = "Idempotency-Key"

// OrderService is the ledger as the HTTP layer uses it.
type OrderService interface {
	PlaceNow(ctx context.Context, cmd orders.PlaceNowCommand) ([]string, error)
	Checkout(ctx context.Context, cmd orders.CheckoutCommand) ([]string, error)
	ListForBuyer(ctx context.Context, buyerAuthID string, page int) (orders.Page, error)
	ListForSeller(ctx context.Context, sellerAuthID string, page int) (orders.Page, error)
	ChangeStatus(ctx context.Context, cmd orders.ChangeStatusCommand) (orders.StatusChange, error)
	History(ctx context.Context, actorID, orderID string) ([]orders.HistoryView, error)
}

// IdempotencyStore remembers the ids created under a client-chosen key.
type IdempotencyStore interface {
	Get(ctx context.Context, source, buyer, key string) ([]string, bool, error)
	Put(ctx context.Context, source, buyer, key string, ids []string) error
}

type OrdersHandler struct {
	Service     OrderService
	Auth        *auth.Authenticator
	Idempotency IdempotencyStore // optional
}

type CreateOrdersResp struct {
	IDs        []string `json:"ids"`
	Idempotent bool     `json:"idempotent"`
}

type ChangeStatusResp struct {
	ID              string `json:"id"`
	OrderStatus     int    `json:"orderStatus"`
	OrderStatusName string `json:"orderStatusName"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders/statuses", h.listStatuses)

	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Middleware, withActorLogger)

		r.With(auth.RequireRole(auth.RoleBuyer)).Post("/orders/now", h.placeNow)
		r.With(auth.RequireRole(auth.RoleBuyer)).Post("/orders/from-cart", h.checkout)
		r.With(auth.RequireRole(auth.RoleBuyer)).Get("/orders/mine", h.listMine)
		r.With(auth.RequireRole(auth.RoleSeller)).Get("/orders/selling", h.listSelling)

		r.With(auth.RequireRole(auth.RoleBuyer, auth.RoleSeller)).Patch("/orders/status", h.changeStatus)
		r.With(auth.RequireRole(auth.RoleBuyer, auth.RoleSeller)).Get("/orders/{orderId}/history", h.history)
	})
}

func (h *OrdersHandler) listStatuses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, orders.Statuses())
}

func (h *OrdersHandler) placeNow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	quantity, err := intParam(q.Get("quantity"), 1)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: quantity %q", orders.ErrInvalidQuantity, q.Get("quantity")))
		return
	}
	actor := actorID(r)

	h.create(w, r, orders.SourceNow, func(ctx context.Context) ([]string, error) {
		return h.Service.PlaceNow(ctx, orders.PlaceNowCommand{
			BuyerAuthID: actor,
			ProductID:   q.Get("productId"),
			AddressID:   q.Get("addressId"),
			Quantity:    quantity,
			TraceID:     middleware.GetReqID(r.Context()),
		})
	})
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	h.create(w, r, orders.SourceCart, func(ctx context.Context) ([]string, error) {
		return h.Service.Checkout(ctx, orders.CheckoutCommand{
			BuyerAuthID: actor,
			AddressID:   r.URL.Query().Get("addressId"),
			TraceID:     middleware.GetReqID(r.Context()),
		})
	})
}

// create runs fn once per Idempotency-Key and source; a replay answers with the ids of the first run.
func (h *OrdersHandler) create(w http.ResponseWriter, r *http.Request, source string, fn func(ctx context.Context) ([]string, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	buyer := actorID(r)
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	useIdem := key != "" && h.Idempotency != nil

	if useIdem {
		ids, ok, err := h.Idempotency.Get(ctx, source, buyer, key)
		if err != nil {
			logging.FromContext(ctx).Warn("idempotency lookup failed", zap.Error(err))
		} else if ok {
			writeJSON(w, http.StatusOK, CreateOrdersResp{IDs: ids, Idempotent: true})
			return
		}
	}

	ids, err := fn(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if useIdem {
		if err := h.Idempotency.Put(ctx, source, buyer, key, ids); err != nil {
			logging.FromContext(ctx).Warn("idempotency store failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, CreateOrdersResp{IDs: ids})
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.Service.ListForBuyer)
}

func (h *OrdersHandler) listSelling(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.Service.ListForSeller)
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, int) (orders.Page, error)) {
	raw := r.URL.Query().Get("page")
	page, err := intParam(raw, 1)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: got %q", orders.ErrInvalidPage, raw))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out, err := fn(ctx, actorID(r), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := strconv.Atoi(strings.TrimSpace(q.Get("status")))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %q", orders.ErrInvalidStatus, q.Get("status")))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	change, err := h.Service.ChangeStatus(ctx, orders.ChangeStatusCommand{
		ActorID: actorID(r),
		OrderID: q.Get("orderId"),
		Status:  status,
		TraceID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChangeStatusResp{
		ID:              change.OrderID,
		OrderStatus:     change.To.Public(),
		OrderStatusName: change.To.String(),
	})
}

func (h *OrdersHandler) history(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	views, err := h.Service.History(ctx, actorID(r), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": views})
}

func actorID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.Subject
	}
	return ""
}

// intParam parses an optional integer query value.
func intParam(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func withActorLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context()).With(zap.String("user_id", actorID(r)))
		next.ServeHTTP(w, r.WithContext(logging.WithLogger(r.Context(), logger)))
	})
}
