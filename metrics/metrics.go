// Package metrics holds the Prometheus collectors shared by the pipeline.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry every fraudpipe collector is registered with.
var Registry = prometheus.NewRegistry()

var (
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fraudpipe_stage_duration_seconds",
		Help:    "Stage attempt latency distribution",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"stage"})
	StageAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudpipe_stage_attempts_total",
		Help: "Stage attempts by outcome",
	}, []string{"stage", "outcome"})
	ArtifactRows = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fraudpipe_artifact_rows",
		Help: "Rows in the most recently written artifact",
	}, []string{"artifact"})
	DuplicatesRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fraudpipe_duplicates_removed_total",
		Help: "Exact-duplicate rows dropped by the transformer",
	})
	CellsFilled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fraudpipe_cells_filled_total",
		Help: "Missing cells replaced with zero by the transformer",
	})
	PredictedFraud = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fraudpipe_predicted_fraud",
		Help: "Rows predicted as fraud in the latest scoring run",
	}, []string{"amount_category"})
	HoldoutScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fraudpipe_holdout_score",
		Help: "Validation metrics on the held-out split",
	}, []string{"metric"})
	RowsLoaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudpipe_rows_loaded_total",
		Help: "Rows committed to the sink",
	}, []string{"table"})
	SinkBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fraudpipe_sink_breaker_state",
		Help: "Sink circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"sink"})
)

func init() {
	Registry.MustRegister(
		StageDuration,
		StageAttempts,
		ArtifactRows,
		DuplicatesRemoved,
		CellsFilled,
		PredictedFraud,
		HoldoutScore,
		RowsLoaded,
		SinkBreakerState,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// WriteTextfile dumps the registry for the node exporter textfile collector.
// Batch invocations use it instead of a scrape endpoint.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile %q: %w", path, err)
	}
	return nil
}
