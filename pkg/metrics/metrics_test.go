package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "conflict", Outcome(fmt.Errorf("write: %w", types.ErrConflict)))
	assert.Equal(t, "rate_limited", Outcome(types.ErrRateLimited))
	assert.Equal(t, "denied", Outcome(types.ErrUnauthorized))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordIndexUpdate("upsert", nil)
	m.RecordIndexUpdate("upsert", types.ErrConflict)
	m.RecordRebuild(time.Now(), 3, 1, nil)

	body := scrape(t, m)
	assert.Contains(t, body, `conceptstore_index_updates_total{op="upsert",result="ok"} 1`)
	assert.Contains(t, body, `conceptstore_index_updates_total{op="upsert",result="conflict"} 1`)
	assert.Contains(t, body, `conceptstore_store_errors_total{kind="conflict"} 1`)
	assert.Contains(t, body, `conceptstore_index_rebuilds_total{result="ok"} 1`)
	assert.Contains(t, body, `conceptstore_index_rebuild_file_errors_total 1`)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordIndexUpdate("remove", nil)
		m.RecordRebuild(time.Now(), 0, 0, nil)
		m.RecordRequest("GET", "/", 200, time.Millisecond)
	})
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest(http.MethodGet, "/api/v1/health", http.StatusOK, 5*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `conceptstore_http_requests_total{method="GET",route="/api/v1/health",status="OK"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
