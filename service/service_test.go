package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-caserunner/metrics"
)

func TestHealthz_ReportsStatus(t *testing.T) {
	h := &HealthzServer{
		log: log.NewLogger(log.DiscardHandler()),
		status: func() Status {
			return Status{Running: true, Runs: 2, LastRunID: "abc", LastResult: "failed"}
		},
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, Status{Running: true, Runs: 2, LastRunID: "abc", LastResult: "failed"}, got)
}

func TestMetricsServer_ServesRegistry(t *testing.T) {
	metrics.RecordError("service_test")

	m := &MetricsServer{}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `caserunner_errors_total{error="service_test"}`)
}

func TestShutdown_BeforeStart(t *testing.T) {
	s := New(Config{Log: log.NewLogger(log.DiscardHandler())})
	assert.NoError(t, s.Healthz.Shutdown(t.Context()))
	assert.NoError(t, s.Metrics.Shutdown(t.Context()))
}
