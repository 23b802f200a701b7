package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrTokenMissing signals an absent or malformed Authorization header.
	ErrTokenMissing = errors.New("auth: bearer token missing")
	// ErrTokenInvalid signals a token that failed signature or claim validation.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims is the JWT payload accepted by the API. Either Roles or Role may carry the roles.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	Role  string   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens signed with a shared secret.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithClock injects a custom time source for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAuthenticator(secret string, opts ...Option) *Authenticator {
	a := &Authenticator{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Verify parses tokenStr and returns the identity it carries.
func (a *Authenticator) Verify(tokenStr string) (*Identity, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return nil, ErrTokenMissing
	}
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || !claims.VerifyExpiresAt(a.now(), false) {
		return nil, ErrTokenInvalid
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}

	roles := make([]string, 0, len(claims.Roles)+1)
	for _, r := range append(claims.Roles, claims.Role) {
		if r = normaliseRole(r); r != "" {
			roles = append(roles, r)
		}
	}
	return &Identity{Subject: subject, Roles: roles}, nil
}

// Sign issues a token for identity. The api does not issue tokens itself; this serves tooling and tests.
func (a *Authenticator) Sign(identity Identity, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Roles: identity.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity.Subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware authenticates the request and stores the identity in the context.
// A missing or invalid token is rejected with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
		if !ok {
			respondAuthError(w, http.StatusUnauthorized, "authorization header missing or invalid")
			return
		}
		identity, err := a.Verify(tokenStr)
		if err != nil {
			respondAuthError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// RequireRole admits authenticated identities holding any of roles and rejects the rest with 403.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "authorization header missing or invalid")
				return
			}
			if !identity.HasAnyRole(roles...) {
				respondAuthError(w, http.StatusForbidden, "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error_message": message})
}
