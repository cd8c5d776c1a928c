// Package metrics documents the Prometheus metrics exported by the service.
// Metrics are defined in the packages that own them (transport, batch) to
// keep registration next to the instrumented code; this package provides the
// registry reference and an overview.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the Prometheus registry used by the service. All metrics are
// registered automatically via promauto in their owning packages.
var Registry = prometheus.DefaultRegisterer

// Outbound call metrics (pkg/transport):
//   - standing_orders_remote_calls_total{endpoint, status} (Counter)
//   - standing_orders_remote_call_duration_seconds{endpoint} (Histogram)
//   - standing_orders_remote_retries_total{reason} (Counter): reason is one
//     of rate_limit, server_error, network
//   - standing_orders_remote_retry_backoff_seconds (Histogram)
//   - standing_orders_remote_retry_exhausted_total (Counter)
//
// Batch run metrics (pkg/batch):
//   - standing_orders_batch_runs_total{outcome} (Counter): outcome is one of
//     completed, failed, aborted
//   - standing_orders_batch_run_duration_seconds (Histogram)
//   - standing_orders_batch_drafts_created_total (Counter)
//   - standing_orders_batch_customer_failures_total (Counter)
//
// Example queries:
//
//	# Remote error rate
//	rate(standing_orders_remote_retries_total[5m])
//
//	# P95 remote call latency
//	histogram_quantile(0.95, rate(standing_orders_remote_call_duration_seconds_bucket[5m]))
//
//	# Customers failing per run
//	increase(standing_orders_batch_customer_failures_total[1d])
