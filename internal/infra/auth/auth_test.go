package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var hmacSecret = []byte("operator-secret")

func hsToken(t *testing.T, claims domain.OperatorClaims, secret []byte) string {
	t.Helper()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Minute))
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return "Bearer " + s
}

func newGuard(t *testing.T, v TokenValidator) *OperatorGuard {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("bob-key"), bcrypt.MinCost)
	require.NoError(t, err)
	ops := []Operator{{ID: "alice"}, {ID: "bob", KeyHash: string(hash)}, {ID: ""}}
	return NewOperatorGuard(ops, v, zap.NewNop())
}

func TestOperatorGuard_Headers(t *testing.T) {
	g := newGuard(t, nil)

	cases := []struct {
		name    string
		headers map[string]string
		want    string
		ok      bool
	}{
		{"allow-listed without key", map[string]string{HeaderOperatorID: "alice"}, "alice", true},
		{"key required and valid", map[string]string{HeaderOperatorID: "bob", HeaderOperatorKey: "bob-key"}, "bob", true},
		{"key required and wrong", map[string]string{HeaderOperatorID: "bob", HeaderOperatorKey: "nope"}, "", false},
		{"key required and missing", map[string]string{HeaderOperatorID: "bob"}, "", false},
		{"unknown operator", map[string]string{HeaderOperatorID: "mallory"}, "", false},
		{"nothing", nil, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/kill-switch/global", nil)
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			got, ok := g.Authorize(r)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestOperatorGuard_BearerRoles(t *testing.T) {
	g := newGuard(t, NewBaseValidator(nil, hmacSecret))

	cases := []struct {
		name   string
		claims domain.OperatorClaims
		want   string
		ok     bool
	}{
		{"role field", domain.OperatorClaims{Role: "ops", RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}}, "u1", true},
		{"roles list", domain.OperatorClaims{Roles: []string{"viewer", "admin"}, UserID: "u2"}, "u2", true},
		{"scopes map", domain.OperatorClaims{Scopes: map[string]bool{"operator": true}, UserID: "u3"}, "u3", true},
		{"no operator role", domain.OperatorClaims{Role: "viewer", UserID: "u4"}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/kill-switch/global", nil)
			r.Header.Set("Authorization", hsToken(t, tc.claims, hmacSecret))
			got, ok := g.Authorize(r)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("wrong secret", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("Authorization", hsToken(t, domain.OperatorClaims{Role: "admin"}, []byte("other")))
		_, ok := g.Authorize(r)
		assert.False(t, ok)
	})
}

func TestOperatorGuard_Middleware(t *testing.T) {
	g := newGuard(t, nil)
	var seen string
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = OperatorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, seen)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set(HeaderOperatorID, "alice")
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "alice", seen)
}

func TestBaseValidator_RS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pub, err := ParseRSAPublicKey(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	require.NoError(t, err)

	v := NewBaseValidator(pub, nil)
	assert.True(t, v.Enabled())

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, domain.OperatorClaims{Role: "admin", UserID: "root"}).SignedString(key)
	require.NoError(t, err)
	claims, err := v.VerifyToken("Bearer " + signed)
	require.NoError(t, err)
	assert.Equal(t, "root", claims.Identity())

	// HS256 не принимается, если секрет не настроен
	_, err = v.VerifyToken(hsToken(t, domain.OperatorClaims{Role: "admin"}, hmacSecret))
	assert.Error(t, err)
}

func TestBaseValidator_Edges(t *testing.T) {
	var nilValidator *BaseValidator
	assert.False(t, nilValidator.Enabled())
	assert.False(t, NewBaseValidator(nil, nil).Enabled())

	v := NewBaseValidator(nil, hmacSecret)
	_, err := v.VerifyToken("Bearer ")
	assert.Error(t, err)
	_, err = v.VerifyToken("garbage")
	assert.Error(t, err)

	_, err = ParseRSAPublicKey(nil)
	assert.Error(t, err)
	_, err = ParseRSAPublicKey([]byte("not pem"))
	assert.Error(t, err)
}
