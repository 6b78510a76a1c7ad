package problem_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/problem"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) problem.Detail {
	t.Helper()
	var p problem.Detail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	return p
}

func TestWrite_ContentTypeAndInstance(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-Id", "req-1")
	r := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)

	problem.BadRequest(w, r, "field is missing")

	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	p := decode(t, w)
	assert.Equal(t, 400, p.Status)
	assert.Equal(t, "field is missing", p.Detail)
	assert.Equal(t, "/v1/stats", p.Instance)
	assert.Equal(t, "req-1", p.TraceID)
}

func TestInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	problem.Internal(w, nil, errors.New("pq: connection refused to host=10.0.0.1"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, decode(t, w).Detail, "10.0.0.1")
}

func TestTooManyRequests_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	problem.TooManyRequests(w, nil, 30)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestDefaults(t *testing.T) {
	w := httptest.NewRecorder()
	problem.Unauthorized(w, nil, "")
	assert.Equal(t, "Authentication required", decode(t, w).Detail)

	w = httptest.NewRecorder()
	problem.Forbidden(w, nil, "")
	assert.Equal(t, "Insufficient permissions", decode(t, w).Detail)
}
