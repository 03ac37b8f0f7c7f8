package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExternalFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverating_external_fetches_total",
			Help: "Total number of requests made to external rating and results sources",
		},
		[]string{"operation", "status"},
	)

	ExternalFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liverating_external_fetch_duration_seconds",
			Help:    "Duration of external source requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverating_cache_hits_total",
			Help: "Total number of coalescer cache hits",
		},
		[]string{"cache"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverating_cache_misses_total",
			Help: "Total number of coalescer cache misses",
		},
		[]string{"cache"},
	)

	AggregationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverating_aggregations_total",
			Help: "Total number of live rating aggregations",
		},
		[]string{"status"},
	)

	AggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "liverating_aggregation_duration_seconds",
			Help:    "Duration of a full player aggregation in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	PlayerViewsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverating_player_views_served_total",
			Help: "Player views served by freshness source",
		},
		[]string{"source"},
	)

	BackgroundRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverating_background_refreshes_total",
			Help: "Background player refreshes by outcome",
		},
		[]string{"status"},
	)

	SyncOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverating_area_syncs_total",
			Help: "Area tournament syncs by outcome",
		},
		[]string{"status"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "liverating_area_sync_duration_seconds",
			Help:    "Duration of area tournament syncs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	TournamentsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "liverating_tournaments_upserted_total",
			Help: "Tournament documents written by area syncs",
		},
	)

	LastSuccessfulSync = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "liverating_last_successful_sync_timestamp",
			Help: "Timestamp of the last successful area sync",
		},
	)
)

func RecordExternalFetch(operation, status string, duration float64) {
	ExternalFetchesTotal.WithLabelValues(operation, status).Inc()
	ExternalFetchDuration.WithLabelValues(operation).Observe(duration)
}

func RecordCacheHit(cache string) {
	CacheHitsTotal.WithLabelValues(cache).Inc()
}

func RecordCacheMiss(cache string) {
	CacheMissesTotal.WithLabelValues(cache).Inc()
}

func RecordAggregation(status string, duration float64) {
	AggregationsTotal.WithLabelValues(status).Inc()
	AggregationDuration.Observe(duration)
}

func RecordPlayerView(source string) {
	PlayerViewsServed.WithLabelValues(source).Inc()
}

func RecordBackgroundRefresh(status string) {
	BackgroundRefreshesTotal.WithLabelValues(status).Inc()
}

func RecordSync(status string, duration float64) {
	SyncOperationsTotal.WithLabelValues(status).Inc()
	SyncDuration.Observe(duration)

	if status == "success" {
		LastSuccessfulSync.SetToCurrentTime()
	}
}

func RecordTournamentUpsert() {
	TournamentsUpserted.Inc()
}
