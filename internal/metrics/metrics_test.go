package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	// two instances must not collide on registration
	a := New()
	b := New()
	a.PricesInserted.Add(3)

	assert.Equal(t, float64(3), testutil.ToFloat64(a.PricesInserted))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.PricesInserted))
}

func TestObserveJobAndChunk(t *testing.T) {
	m := New()
	m.ObserveJob("monthly_aggregation", "COMPLETED", 2*time.Second)
	m.ObserveChunk("import", "committed")
	m.ObserveChunk("import", "committed")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsTotal.WithLabelValues("monthly_aggregation", "COMPLETED")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ChunksTotal.WithLabelValues("import", "committed")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.ObserveJob("x", "y", time.Second)
		nilMetrics.ObserveChunk("x", "y")
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.DuplicateRuns.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "stockbatch_job_duplicate_runs_total 1"))
}
