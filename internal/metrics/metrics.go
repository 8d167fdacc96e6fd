// Package metrics holds the Prometheus collectors for sale processing and
// recipe maintenance.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dapurstok"

// Recorder is nil-safe: a nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	sales         *prometheus.CounterVec
	saleDuration  prometheus.Histogram
	deducted      *prometheus.CounterVec
	clamped       prometheus.Counter
	auditWarnings prometheus.Counter
	rollbacks     *prometheus.CounterVec
	syncedRecipes *prometheus.CounterVec
	healthFound   *prometheus.GaugeVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		sales: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sales_total", Help: "Sales processed by outcome.",
		}, []string{"outcome"}),
		saleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sale_duration_seconds", Help: "Time spent processing a sale.",
			Buckets: prometheus.DefBuckets,
		}),
		deducted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingredient_deductions_total", Help: "Inventory rows deducted by ingredient group.",
		}, []string{"group"}),
		clamped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deductions_clamped_total", Help: "Deductions floored at zero stock.",
		}),
		auditWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "audit_write_warnings_total", Help: "Ledger or movement rows that failed to write.",
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rollbacks_total", Help: "Rollbacks by result.",
		}, []string{"result"}),
		syncedRecipes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "recipe_syncs_total", Help: "Deployed recipe syncs by result.",
		}, []string{"result"}),
		healthFound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "health_issues_detected", Help: "Issues found by the last health check.",
		}, []string{"category"}),
	}
	r.registry.MustRegister(
		r.sales, r.saleDuration, r.deducted, r.clamped, r.auditWarnings,
		r.rollbacks, r.syncedRecipes, r.healthFound,
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

func (r *Recorder) SaleProcessed(outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.sales.WithLabelValues(outcome).Inc()
	r.saleDuration.Observe(seconds)
}

func (r *Recorder) IngredientDeducted(group string) {
	if r == nil {
		return
	}
	r.deducted.WithLabelValues(group).Inc()
}

func (r *Recorder) DeductionClamped(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.clamped.Add(float64(n))
}

func (r *Recorder) AuditWarnings(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.auditWarnings.Add(float64(n))
}

func (r *Recorder) Rollback(complete bool) {
	if r == nil {
		return
	}
	result := "complete"
	if !complete {
		result = "partial"
	}
	r.rollbacks.WithLabelValues(result).Inc()
}

func (r *Recorder) RecipesSynced(ok, failed int) {
	if r == nil {
		return
	}
	r.syncedRecipes.WithLabelValues("ok").Add(float64(ok))
	r.syncedRecipes.WithLabelValues("failed").Add(float64(failed))
}

func (r *Recorder) HealthDetected(category string, detected int) {
	if r == nil {
		return
	}
	r.healthFound.WithLabelValues(category).Set(float64(detected))
}
