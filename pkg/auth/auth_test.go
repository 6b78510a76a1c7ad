package auth_test

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/auth"
)

func setupValidator(t *testing.T) (*auth.InMemoryKeySet, *auth.JWTValidator) {
	t.Helper()
	ks, err := auth.NewInMemoryKeySet()
	require.NoError(t, err)
	return ks, auth.NewJWTValidator(ks)
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestMiddleware_ValidJWT(t *testing.T) {
	ks, validator := setupValidator(t)

	var captured auth.Principal
	h := auth.NewMiddleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.GetPrincipal(r.Context())
		require.NoError(t, err)
		captured = p
	}))

	token, err := auth.IssueToken(context.Background(), ks, "op-main", []string{auth.RoleOperator}, time.Hour)
	require.NoError(t, err)

	w := serve(h, token)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "op-main", captured.GetID())
	assert.True(t, captured.HasRole(auth.RoleOperator))
	assert.False(t, captured.HasRole(auth.RoleAdministrator))
}

func TestMiddleware_Rejections(t *testing.T) {
	ks, validator := setupValidator(t)
	other, _ := setupValidator(t)
	h := auth.NewMiddleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	expired, err := auth.IssueToken(context.Background(), ks, "op", []string{auth.RoleOperator}, -time.Minute)
	require.NoError(t, err)
	foreign, err := auth.IssueToken(context.Background(), other, "op", []string{auth.RoleOperator}, time.Hour)
	require.NoError(t, err)
	noExpiry, err := ks.Sign(context.Background(), auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "op", Issuer: auth.TokenIssuer}})
	require.NoError(t, err)

	for name, token := range map[string]string{"missing": "", "expired": expired, "foreign key": foreign, "no expiry": noExpiry, "garbage": "abc.def.ghi"} {
		t.Run(name, func(t *testing.T) {
			w := serve(h, token)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}
}

func TestMiddleware_NilValidatorFailsClosed(t *testing.T) {
	ks, _ := setupValidator(t)
	token, _ := auth.IssueToken(context.Background(), ks, "op", nil, time.Hour)
	h := auth.NewMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	assert.Equal(t, http.StatusUnauthorized, serve(h, token).Code)
}

func TestMiddleware_PublicPaths(t *testing.T) {
	h := auth.NewMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := auth.RequireRole(auth.RoleOperator)(ok)

	call := func(ctx context.Context) int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx))
		return w.Code
	}

	admin := auth.WithPrincipal(context.Background(), &auth.BasePrincipal{ID: "a", Roles: []string{auth.RoleAdministrator}})
	op := auth.WithPrincipal(context.Background(), &auth.BasePrincipal{ID: "o", Roles: []string{auth.RoleOperator}})

	assert.Equal(t, http.StatusUnauthorized, call(context.Background()))
	assert.Equal(t, http.StatusForbidden, call(admin))
	assert.Equal(t, http.StatusOK, call(op))
}

func TestIssueToken_RejectsUnknownRole(t *testing.T) {
	ks, _ := setupValidator(t)
	_, err := auth.IssueToken(context.Background(), ks, "x", []string{"superuser"}, time.Hour)
	assert.Error(t, err)
	_, err = auth.IssueToken(context.Background(), ks, "", nil, time.Hour)
	assert.Error(t, err)
	_, err = auth.IssueToken(context.Background(), ks, "checkout-svc", []string{auth.RolePipeline}, time.Hour)
	assert.NoError(t, err)
}

func TestKeySetFromSeed_Deterministic(t *testing.T) {
	seed := hex.EncodeToString([]byte(strings.Repeat("k", 32)))
	a, err := auth.NewKeySetFromSeed(seed)
	require.NoError(t, err)
	b, err := auth.NewKeySetFromSeed(seed)
	require.NoError(t, err)

	token, err := auth.IssueToken(context.Background(), a, "op", []string{auth.RoleOperator}, time.Hour)
	require.NoError(t, err)
	claims, err := auth.NewJWTValidator(b).Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "op", claims.Subject)

	other, err := auth.NewKeySetFromSeed(hex.EncodeToString([]byte(strings.Repeat("j", 32))))
	require.NoError(t, err)
	_, err = auth.NewJWTValidator(other).Validate(token)
	assert.Error(t, err, "a different master seed derives a different key")

	_, err = auth.NewKeySetFromSeed("abcd")
	assert.Error(t, err)
	_, err = auth.NewKeySetFromSeed("not-hex")
	assert.Error(t, err)
}

func TestKeySet_RotateKeepsOldTokensValid(t *testing.T) {
	ks, validator := setupValidator(t)
	old, err := auth.IssueToken(context.Background(), ks, "op", nil, time.Hour)
	require.NoError(t, err)
	require.NoError(t, ks.Rotate())

	_, err = validator.Validate(old)
	assert.NoError(t, err)
}

func TestOperatorAuthorizer(t *testing.T) {
	a := auth.NewOperatorAuthorizer([]string{"op-main", " "}, []string{"ops-"})
	bg := context.Background()

	assert.True(t, a.IsOperator(bg, "op-main"))
	assert.True(t, a.IsOperator(bg, "ops-night-shift"))
	assert.False(t, a.IsOperator(bg, "random-user-42"))
	assert.False(t, a.IsOperator(bg, "op-main-impostor"))
	assert.False(t, a.IsOperator(bg, ""))

	asOperator := auth.WithPrincipal(bg, &auth.BasePrincipal{ID: "op-main", Roles: []string{auth.RoleOperator}})
	asAdmin := auth.WithPrincipal(bg, &auth.BasePrincipal{ID: "op-main", Roles: []string{auth.RoleAdministrator}})
	asOther := auth.WithPrincipal(bg, &auth.BasePrincipal{ID: "ops-other", Roles: []string{auth.RoleOperator}})

	assert.True(t, a.IsOperator(asOperator, "op-main"))
	assert.False(t, a.IsOperator(asAdmin, "op-main"), "role claim is required")
	assert.False(t, a.IsOperator(asOther, "op-main"), "principal must be the acting operator")

	var nilAuth *auth.OperatorAuthorizer
	assert.False(t, nilAuth.IsOperator(bg, "op-main"))
}

func TestActorID(t *testing.T) {
	assert.Equal(t, "system", auth.ActorID(context.Background()))
	ctx := auth.WithPrincipal(context.Background(), &auth.BasePrincipal{ID: "op"})
	assert.Equal(t, "op", auth.ActorID(ctx))
}
