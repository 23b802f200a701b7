package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func serve(t *testing.T, h http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareStoresIdentity(t *testing.T) {
	a := NewAuthenticator(testSecret)
	token, err := a.Sign(Identity{Subject: "auth-1", Roles: []string{"Seller"}}, time.Hour)
	require.NoError(t, err)

	var got *Identity
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))

	rec := serve(t, h, token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	require.Equal(t, "auth-1", got.Subject)
	require.True(t, got.HasRole(RoleSeller))
	require.False(t, got.HasRole(RoleBuyer))
}

func TestMiddlewareRejectsMissingAndInvalidTokens(t *testing.T) {
	a := NewAuthenticator(testSecret)
	h := a.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := serve(t, h, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error_message":"authorization header missing or invalid"}`, rec.Body.String())

	other, err := NewAuthenticator("another-secret").Sign(Identity{Subject: "auth-1"}, time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, serve(t, h, other).Code)

	require.Equal(t, http.StatusUnauthorized, serve(t, h, "not-a-jwt").Code)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	past := func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := NewAuthenticator(testSecret, WithClock(past)).Sign(Identity{Subject: "auth-1"}, time.Minute)
	require.NoError(t, err)

	_, err = NewAuthenticator(testSecret).Verify(token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsOtherSigningMethods(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "auth-1"},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewAuthenticator(testSecret).Verify(token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRequiresSubject(t *testing.T) {
	a := NewAuthenticator(testSecret)
	token, err := a.Sign(Identity{Roles: []string{RoleBuyer}}, time.Hour)
	require.NoError(t, err)

	_, err = a.Verify(token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyAcceptsSingleRoleClaim(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             " USER ",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "auth-2"},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	identity, err := NewAuthenticator(testSecret).Verify(token)
	require.NoError(t, err)
	require.Equal(t, []string{RoleBuyer}, identity.Roles)
}

func TestRequireRole(t *testing.T) {
	a := NewAuthenticator(testSecret)
	h := a.Middleware(RequireRole(RoleSeller)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	buyer, err := a.Sign(Identity{Subject: "b", Roles: []string{RoleBuyer}}, time.Hour)
	require.NoError(t, err)
	seller, err := a.Sign(Identity{Subject: "s", Roles: []string{RoleBuyer, RoleSeller}}, time.Hour)
	require.NoError(t, err)

	require.Equal(t, http.StatusForbidden, serve(t, h, buyer).Code)
	require.Equal(t, http.StatusNoContent, serve(t, h, seller).Code)
}

func TestRequireRoleWithoutIdentity(t *testing.T) {
	h := RequireRole(RoleBuyer)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	require.Equal(t, http.StatusUnauthorized, serve(t, h, "").Code)
}
