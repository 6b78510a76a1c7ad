package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/api"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/audit"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/auth"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/config"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/controlplane"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/problem"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/store"
)

type fixture struct {
	handler http.Handler
	keys    *auth.InMemoryKeySet
	svc     *controlplane.Service
}

func newFixture(t *testing.T, opts api.Options) *fixture {
	t.Helper()
	ks, err := auth.NewInMemoryKeySet()
	require.NoError(t, err)
	svc, err := controlplane.New(config.DefaultPolicy().WithOperators([]string{"op-main"}), audit.NewLog(store.NewAuditStore()), nil)
	require.NoError(t, err)
	srv := api.NewServer(svc, auth.NewJWTValidator(ks), opts)
	return &fixture{handler: srv.Handler(), keys: ks, svc: svc}
}

func (f *fixture) token(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	tok, err := auth.IssueToken(context.Background(), f.keys, subject, roles, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problem.Detail {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p problem.Detail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t, api.Options{})
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = f.do(t, http.MethodGet, "/readiness", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequiresToken(t *testing.T) {
	f := newFixture(t, api.Options{})
	rec := f.do(t, http.MethodGet, "/v1/stats", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, 401, p.Status)
	assert.Equal(t, "/v1/stats", p.Instance)

	rec = f.do(t, http.MethodGet, "/v1/stats", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdministratorCanReadButNotAct(t *testing.T) {
	f := newFixture(t, api.Options{})
	admin := f.token(t, "auditor-1", auth.RoleAdministrator)

	rec := f.do(t, http.MethodGet, "/v1/stats", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats controlplane.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 5.0, stats.CommissionRate)

	rec = f.do(t, http.MethodGet, "/v1/audit/verify", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/killswitch/activate", admin, map[string]any{"reason": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestKillSwitchLifecycle(t *testing.T) {
	f := newFixture(t, api.Options{})
	op := f.token(t, "op-main", auth.RoleOperator)

	rec := f.do(t, http.MethodPost, "/v1/killswitch/activate", op, map[string]any{
		"reason":     "suspected breach",
		"components": []string{"payments"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/killswitch", op, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, true, st["active"])
	assert.Equal(t, "op-main", st["activated_by"])

	rec = f.do(t, http.MethodPost, "/v1/killswitch/allow", op, map[string]any{"party_id": "creator-1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/killswitch/deactivate", op, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/killswitch/deactivate", op, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/killswitch/activate", op, map[string]any{
		"reason":     "typo",
		"components": []string{"paymnets"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeProblem(t, rec).Detail, `unknown component "paymnets"`)
}

func TestOperatorRoleWithUnlistedSubjectIsRefused(t *testing.T) {
	f := newFixture(t, api.Options{})
	tok := f.token(t, "random-user-42", auth.RoleOperator)

	rec := f.do(t, http.MethodPost, "/v1/killswitch/activate", tok, map[string]any{"reason": "x"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, decodeProblem(t, rec).Detail, "UNAUTHORIZED")

	st, err := f.svc.KillSwitch().State(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Active)
}

func TestOperatorIDIsNeverReadFromBody(t *testing.T) {
	f := newFixture(t, api.Options{})
	tok := f.token(t, "random-user-42", auth.RoleOperator)

	rec := f.do(t, http.MethodPost, "/v1/killswitch/activate", tok, map[string]any{"reason": "x", "operator_id": "op-main"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOverrides(t *testing.T) {
	f := newFixture(t, api.Options{})
	op := f.token(t, "op-main", auth.RoleOperator)

	rec := f.do(t, http.MethodPost, "/v1/overrides/split", op, map[string]any{
		"transaction_id": "tx-1",
		"original":       map[string]float64{"creator": 70, "platform": 30},
		"new":            map[string]float64{"creator": 60, "platform": 45},
		"reason":         "typo",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeProblem(t, rec).Detail, "total is 105%, must be 100%")

	rec = f.do(t, http.MethodPost, "/v1/overrides/payout", op, map[string]any{
		"party_id": "creator-1", "original": 5000, "new": 4500, "reason": "duplicate",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/operator/commission-rate", op, map[string]any{"rate": 12})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/operator/commission-rate", op, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/operator/commission-rate", op, map[string]any{"rate": 7.5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7.5, f.svc.Overrides().CommissionRate())

	rec = f.do(t, http.MethodPost, "/v1/check/commission", op, map[string]any{"total": 1000})
	require.Equal(t, http.StatusOK, rec.Code)
	var c map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, float64(75), c["operator_amount"])
}

func TestChecks(t *testing.T) {
	f := newFixture(t, api.Options{})
	pipeline := f.token(t, "checkout-svc", auth.RolePipeline)
	admin := f.token(t, "auditor-1", auth.RoleAdministrator)

	rec := f.do(t, http.MethodPost, "/v1/check/charge", pipeline, map[string]any{
		"subject_id": "creator-1", "amount": 999, "reason": "hosting fee",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var screen controlplane.Screen
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &screen))
	assert.False(t, screen.Allowed)

	rec = f.do(t, http.MethodPost, "/v1/check/revenue", pipeline, map[string]any{
		"earning_party_id": "creator-1", "amount": -10, "origin_region": "US", "source_transaction_id": "tx-9",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var rv map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rv))
	assert.Equal(t, false, rv["valid"])

	rec = f.do(t, http.MethodPost, "/v1/check/split", pipeline, map[string]any{
		"recipient_percentages": map[string]float64{"CREATOR": 65},
		"platform_percent":      35,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var sr map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sr))
	assert.Equal(t, false, sr["valid"])

	rec = f.do(t, http.MethodGet, "/v1/audit/failsafe?kind=corrupted_split", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fe map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fe))
	assert.Equal(t, float64(1), fe["count"])

	rec = f.do(t, http.MethodPost, "/v1/check/charge", pipeline, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdministratorCannotWriteAuditTrail(t *testing.T) {
	f := newFixture(t, api.Options{})
	admin := f.token(t, "auditor-1", auth.RoleAdministrator)

	bodies := map[string]any{
		"/v1/check/charge":     map[string]any{"subject_id": "creator-1", "amount": 1000000, "reason": "platform_fee"},
		"/v1/check/revenue":    map[string]any{"earning_party_id": "creator-1", "amount": -10, "origin_region": "US", "source_transaction_id": "tx-9"},
		"/v1/check/multiplier": map[string]any{},
		"/v1/check/split":      map[string]any{"recipient_percentages": map[string]float64{"CREATOR": 65}, "platform_percent": 35},
		"/v1/check/breakdown":  map[string]any{},
		"/v1/check/payout":     map[string]any{},
	}
	for path, body := range bodies {
		rec := f.do(t, http.MethodPost, path, admin, body)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
	assert.Equal(t, 0, f.svc.Log().Store().Size())

	rec := f.do(t, http.MethodPost, "/v1/check/floor", admin, map[string]any{
		"total_amount": 1000, "platform_margin": 1000, "recipients": []any{},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/check/commission", admin, map[string]any{"total": 1000})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPipelineCannotOperate(t *testing.T) {
	f := newFixture(t, api.Options{})
	pipeline := f.token(t, "op-main", auth.RolePipeline)

	rec := f.do(t, http.MethodPost, "/v1/killswitch/activate", pipeline, map[string]any{"reason": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/stats", pipeline, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimitPerPrincipal(t *testing.T) {
	f := newFixture(t, api.Options{RateLimitRPS: 0.001, RateLimitBurst: 2})
	a := f.token(t, "auditor-1", auth.RoleAdministrator)
	b := f.token(t, "auditor-2", auth.RoleAdministrator)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/killswitch", a, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/killswitch", a, nil).Code)
	rec := f.do(t, http.MethodGet, "/v1/killswitch", a, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/killswitch", b, nil).Code)
}

func TestUnknownRouteIsProblem(t *testing.T) {
	f := newFixture(t, api.Options{})
	rec := f.do(t, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 404, decodeProblem(t, rec).Status)
}
