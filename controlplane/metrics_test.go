package controlplane

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inoueakimitsu/cline/authentication"
	"github.com/inoueakimitsu/cline/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, h http.Handler, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestMetricsHandlerRequiresBearer(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, true, WithMetricsRegisterer(reg))
	assertOK(t, f.authed(http.MethodPost, "/v1/mode/plan", ""))

	log := logger.NewTestLogger()
	h := MetricsHandler(log, reg, "scrape-secret")

	assert.Equal(t, http.StatusUnauthorized, scrape(t, h, "").Code)

	forged, err := authentication.NewBearerToken("other-secret")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, scrape(t, h, "Bearer "+forged).Code)
	assert.True(t, log.Contains("WARN", "rejected metrics scrape"))

	token, err := authentication.NewBearerToken("scrape-secret", authentication.WithExpiration(time.Now().Add(time.Hour)))
	require.NoError(t, err)
	w := scrape(t, h, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cline_control_requests_total")
}

func TestMetricsHandlerOpen(t *testing.T) {
	reg := prometheus.NewRegistry()
	newFixture(t, true, WithMetricsRegisterer(reg)).authed(http.MethodGet, "/v1/messages", "")
	w := scrape(t, MetricsHandler(logger.NewTestLogger(), reg, ""), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cline_control_request_duration_seconds")
}
