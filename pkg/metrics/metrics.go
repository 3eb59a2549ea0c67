package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Account metrics
	AccountsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatvault_accounts_total",
			Help: "Total number of registered accounts by gateway state",
		},
		[]string{"state"},
	)

	AccountActiveRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatvault_account_active_requests",
			Help: "REST requests currently in flight per account",
		},
		[]string{"account_id"},
	)

	// Ingestion metrics
	ObjectsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatvault_objects_written_total",
			Help: "Total number of entity snapshots written by kind",
		},
		[]string{"kind"},
	)

	WriteQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatvault_write_queue_depth",
			Help: "Number of pending write requests queued to the store writer",
		},
	)

	WriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatvault_write_duration_seconds",
			Help:    "Time taken to apply a write request to the snapshot store",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// REST client metrics
	RESTRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatvault_rest_requests_total",
			Help: "Total number of REST requests by route bucket and status",
		},
		[]string{"bucket", "status"},
	)

	RESTRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatvault_rest_request_duration_seconds",
			Help:    "REST request duration in seconds by route bucket",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"bucket"},
	)

	RESTRateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatvault_rest_rate_limited_total",
			Help: "Total number of 429 responses observed by route bucket",
		},
		[]string{"bucket"},
	)

	// Gateway metrics
	GatewayReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatvault_gateway_reconnects_total",
			Help: "Total number of gateway reconnects by reason",
		},
		[]string{"account_id", "reason"},
	)

	GatewayEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatvault_gateway_events_total",
			Help: "Total number of dispatch events received by event type",
		},
		[]string{"event_type"},
	)

	GatewayHeartbeatLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatvault_gateway_heartbeat_latency_seconds",
			Help:    "Round trip time between heartbeat and its ack",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"account_id"},
	)

	// Blob store metrics
	BlobsFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatvault_blobs_fetched_total",
			Help: "Total number of blob fetch attempts by outcome",
		},
		[]string{"outcome"},
	)

	BlobBytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatvault_blob_bytes_written_total",
			Help: "Total number of bytes committed to the blob store",
		},
	)

	// Reconciliation metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatvault_reconciliation_duration_seconds",
			Help:    "Time taken for a controller reconciliation pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatvault_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	InitialSyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatvault_initial_sync_duration_seconds",
			Help:    "Time taken to complete the initial-sync pass of a guild",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"guild_id"},
	)

	MessageSyncProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatvault_message_sync_progress",
			Help: "Fractional backfill progress per channel: (current-first)/(upstream_last-first)",
		},
		[]string{"channel_id"},
	)
)

func init() {
	prometheus.MustRegister(AccountsTotal)
	prometheus.MustRegister(AccountActiveRequests)
	prometheus.MustRegister(ObjectsWrittenTotal)
	prometheus.MustRegister(WriteQueueDepth)
	prometheus.MustRegister(WriteDuration)
	prometheus.MustRegister(RESTRequestsTotal)
	prometheus.MustRegister(RESTRequestDuration)
	prometheus.MustRegister(RESTRateLimitedTotal)
	prometheus.MustRegister(GatewayReconnectsTotal)
	prometheus.MustRegister(GatewayEventsTotal)
	prometheus.MustRegister(GatewayHeartbeatLatency)
	prometheus.MustRegister(BlobsFetchedTotal)
	prometheus.MustRegister(BlobBytesWrittenTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(InitialSyncDuration)
	prometheus.MustRegister(MessageSyncProgress)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
