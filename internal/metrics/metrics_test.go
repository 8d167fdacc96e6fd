package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCountsAndServes(t *testing.T) {
	r := New()
	r.SaleProcessed("committed", 0.02)
	r.SaleProcessed("rolled_back", 0.05)
	r.DeductionClamped(2)
	r.Rollback(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.sales.WithLabelValues("committed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.clamped))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rollbacks.WithLabelValues("partial")))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "dapurstok_sales_total"))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.SaleProcessed("committed", 1)
	r.IngredientDeducted("base")
	r.HealthDetected("negative_stock", 1)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
