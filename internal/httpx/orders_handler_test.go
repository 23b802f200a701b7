package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/marketplace-orders/internal/auth"
	"github.com/ariefcatur/marketplace-orders/internal/memstore"
	"github.com/ariefcatur/marketplace-orders/internal/metrics"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
)

const secret = "handler-test-secret"

type fixture struct {
	router  http.Handler
	store   *memstore.Store
	authn   *auth.Authenticator
	buyer   string // profile id
	address string
	product string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	buyer := store.PutProfile("buyer-1", "+1 555 0100")
	address := store.PutAddress(orders.Address{
		OwnerID: buyer, Line1: "1 Main St", City: "Springfield", Country: "US", Zip: "12345",
	})
	product := store.PutProduct(orders.Product{SellerAuthID: "seller-1", Name: "Desk Lamp"})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	m := metrics.New("test")
	authn := auth.NewAuthenticator(secret)
	router := NewRouter(nil, m)
	(&OrdersHandler{
		Service:     orders.NewService(orders.ServiceDeps{Store: store, Producer: "test", Metrics: m}),
		Auth:        authn,
		Idempotency: &redisx.Idempotency{RDB: rdb, TTL: time.Hour},
	}).Register(router)

	return &fixture{router: router, store: store, authn: authn, buyer: buyer, address: address, product: product}
}

func (f *fixture) token(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	tok, err := f.authn.Sign(auth.Identity{Subject: subject, Roles: roles}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, target, token string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestStatusesListing(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/orders/statuses", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[[]orders.StatusEntry](t, rec)
	require.Len(t, got, 7)
	require.Equal(t, orders.StatusEntry{Key: 1, Value: "Unverified"}, got[0])
	require.Equal(t, orders.StatusEntry{Key: 7, Value: "Delivered"}, got[6])
}

func TestPlaceNowAndListMine(t *testing.T) {
	f := newFixture(t)
	buyer := f.token(t, "buyer-1", auth.RoleBuyer)

	rec := f.do(t, http.MethodPost, "/orders/now?productId="+f.product+"&addressId="+f.address+"&quantity=3", buyer)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[CreateOrdersResp](t, rec)
	require.Len(t, created.IDs, 3)
	require.False(t, created.Idempotent)

	rec = f.do(t, http.MethodGet, "/orders/mine", buyer)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[orders.Page](t, rec)
	require.Equal(t, 3, page.TotalProductCount)
	require.Equal(t, 1, page.TotalPageCount)
	require.Equal(t, 1, page.CurrentPage)
	require.Equal(t, "Desk Lamp", page.Orders[0].ProductName)
	require.Equal(t, 1, page.Orders[0].OrderStatus)
	require.Equal(t, "1 Main St\nSpringfield, US\n12345\n+1 555 0100", page.Orders[0].AddressCopy)
}

func TestPlaceNowIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	buyer := f.token(t, "buyer-1", auth.RoleBuyer)
	target := "/orders/now?productId=" + f.product + "&addressId=" + f.address + "&quantity=2"

	first := f.do(t, http.MethodPost, target, buyer, idempotencyHeader, "abc")
	require.Equal(t, http.StatusCreated, first.Code)
	second := f.do(t, http.MethodPost, target, buyer, idempotencyHeader, "abc")
	require.Equal(t, http.StatusOK, second.Code)

	a, b := decode[CreateOrdersResp](t, first), decode[CreateOrdersResp](t, second)
	require.Equal(t, a.IDs, b.IDs)
	require.True(t, b.Idempotent)
	require.Len(t, f.store.Orders(), 2)
}

func TestIdempotencyKeyIsScopedPerEndpoint(t *testing.T) {
	f := newFixture(t)
	buyer := f.token(t, "buyer-1", auth.RoleBuyer)
	f.store.AddCartLine(f.buyer, f.product)

	rec := f.do(t, http.MethodPost, "/orders/now?productId="+f.product+"&addressId="+f.address, buyer, idempotencyHeader, "same")
	require.Equal(t, http.StatusCreated, rec.Code)
	now := decode[CreateOrdersResp](t, rec)

	rec = f.do(t, http.MethodPost, "/orders/from-cart?addressId="+f.address, buyer, idempotencyHeader, "same")
	require.Equal(t, http.StatusCreated, rec.Code)
	cart := decode[CreateOrdersResp](t, rec)
	require.False(t, cart.Idempotent)
	require.NotEqual(t, now.IDs, cart.IDs)
	require.Zero(t, f.store.CartSize(f.buyer))
	require.Len(t, f.store.Orders(), 2)
}

func TestCheckoutEndpoint(t *testing.T) {
	f := newFixture(t)
	buyer := f.token(t, "buyer-1", auth.RoleBuyer)

	rec := f.do(t, http.MethodPost, "/orders/from-cart?addressId="+f.address, buyer)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error_message":"cart is empty"}`, rec.Body.String())

	f.store.AddCartLine(f.buyer, f.product)
	f.store.AddCartLine(f.buyer, f.product)
	rec = f.do(t, http.MethodPost, "/orders/from-cart?addressId="+f.address, buyer)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, decode[CreateOrdersResp](t, rec).IDs, 2)
	require.Zero(t, f.store.CartSize(f.buyer))
}

func TestRoleGuards(t *testing.T) {
	f := newFixture(t)
	buyer := f.token(t, "buyer-1", auth.RoleBuyer)
	seller := f.token(t, "seller-1", auth.RoleSeller)

	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/orders/mine", "").Code)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/orders/selling", buyer).Code)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/orders/from-cart?addressId="+f.address, seller).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/orders/selling", seller).Code)
}

func TestChangeStatusFlow(t *testing.T) {
	f := newFixture(t)
	buyer := f.token(t, "buyer-1", auth.RoleBuyer)
	seller := f.token(t, "seller-1", auth.RoleSeller)
	stranger := f.token(t, "someone", auth.RoleBuyer, auth.RoleSeller)

	rec := f.do(t, http.MethodPost, "/orders/now?productId="+f.product+"&addressId="+f.address, buyer)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[CreateOrdersResp](t, rec).IDs[0]
	patch := func(token string, status int) *httptest.ResponseRecorder {
		return f.do(t, http.MethodPatch, "/orders/status?orderId="+id+"&status="+strconv.Itoa(status), token)
	}

	require.Equal(t, http.StatusForbidden, patch(stranger, 6).Code)
	require.Equal(t, http.StatusBadRequest, patch(buyer, 4).Code)
	require.Equal(t, http.StatusBadRequest, patch(seller, 9).Code)

	rec = patch(seller, 6)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ChangeStatusResp{ID: id, OrderStatus: 6, OrderStatusName: "Delivering"}, decode[ChangeStatusResp](t, rec))

	rec = patch(buyer, 4)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Returning", decode[ChangeStatusResp](t, rec).OrderStatusName)

	require.Equal(t, http.StatusOK, patch(seller, 5).Code)
	rec = patch(seller, 5)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "final status")

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPatch, "/orders/status?orderId=missing&status=6", seller).Code)
}

func TestMalformedQueryParameters(t *testing.T) {
	f := newFixture(t)
	buyer := f.token(t, "buyer-1", auth.RoleBuyer)

	rec := f.do(t, http.MethodGet, "/orders/mine?page=abc", buyer)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/orders/mine?page=0", buyer)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/orders/now?productId="+f.product+"&addressId="+f.address+"&quantity=x", buyer)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPatch, "/orders/status?orderId=x&status=", buyer)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryEndpointGuardsAccess(t *testing.T) {
	f := newFixture(t)
	buyer := f.token(t, "buyer-1", auth.RoleBuyer)
	stranger := f.token(t, "buyer-2", auth.RoleBuyer)

	rec := f.do(t, http.MethodPost, "/orders/now?productId="+f.product+"&addressId="+f.address, buyer)
	id := decode[CreateOrdersResp](t, rec).IDs[0]

	rec = f.do(t, http.MethodGet, "/orders/"+id+"/history", buyer)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"history":[]}`, rec.Body.String())

	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/orders/"+id+"/history", stranger).Code)
}

type failingService struct{ OrderService }

func (failingService) ListForBuyer(context.Context, string, int) (orders.Page, error) {
	return orders.Page{}, errors.New("connection reset by peer")
}

func TestUnexpectedErrorsAreHidden(t *testing.T) {
	authn := auth.NewAuthenticator(secret)
	router := NewRouter(nil, nil)
	(&OrdersHandler{Service: failingService{}, Auth: authn}).Register(router)

	tok, err := authn.Sign(auth.Identity{Subject: "buyer-1", Roles: []string{auth.RoleBuyer}}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/orders/mine", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error_message":"internal server error"}`, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "marketplace_test_http_requests_total")
}
