package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Control plane
	StageRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bds_stage_runs_total",
		Help: "Stage invocations by stage and outcome (success, failure, skipped)",
	}, []string{"stage", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bds_stage_duration_seconds",
		Help:    "Wall time of stage invocations that found a batch",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"stage"})

	// Warehouse
	VersionOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bds_versioner_outcomes_total",
		Help: "Listings applied to the fact table by outcome (inserted, unchanged, superseded)",
	}, []string{"outcome"})

	DimensionRowsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bds_dimension_rows_created_total",
		Help: "Dimension rows appended by table",
	}, []string{"table"})

	// Crawler
	PagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bds_crawler_pages_fetched_total",
		Help: "Listing pages fetched by result (ok, error, empty)",
	}, []string{"result"})
)
