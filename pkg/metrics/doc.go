/*
Package metrics provides Prometheus metrics collection and exposition for
chatvault.

All metrics are registered at package init against the default Prometheus
registry and exposed over HTTP via Handler(), wired to --metrics-addr in the
archive command.

# Metric families

Accounts:
  - chatvault_accounts_total{state}: registered accounts by gateway state
  - chatvault_account_active_requests{account_id}: REST requests in flight

Ingestion:
  - chatvault_objects_written_total{kind}: entity snapshots written by kind
  - chatvault_write_queue_depth: pending writes queued to the store writer
  - chatvault_write_duration_seconds{kind}: time to apply one write request

REST client:
  - chatvault_rest_requests_total{bucket,status}
  - chatvault_rest_request_duration_seconds{bucket}
  - chatvault_rest_rate_limited_total{bucket}: observed 429s

Gateway:
  - chatvault_gateway_reconnects_total{account_id,reason}
  - chatvault_gateway_events_total{event_type}
  - chatvault_gateway_heartbeat_latency_seconds{account_id}

Blob store:
  - chatvault_blobs_fetched_total{outcome}
  - chatvault_blob_bytes_written_total

Reconciliation and sync:
  - chatvault_reconciliation_duration_seconds / _cycles_total
  - chatvault_initial_sync_duration_seconds{guild_id}
  - chatvault_message_sync_progress{channel_id}: fractional backfill progress

# Usage

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDurationVec(metrics.WriteDuration, kind)

	metrics.ObjectsWrittenTotal.WithLabelValues(kind).Inc()

# Health

This package also exposes a lightweight component health registry
(HealthStatus/RegisterComponent) separate from Prometheus, served for
liveness checks rather than scraped metrics.
*/
package metrics
