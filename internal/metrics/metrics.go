// Package metrics wires up the Prometheus collectors mounted at /metrics
// on the main HTTP server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps every Prometheus collector the server exposes.
type Registry struct {
	Connections gauges
	Events      counters
	System      systemGauges
}

type gauges struct {
	ProducerConnections prometheus.Gauge
	WsSessions           prometheus.Gauge
}

type counters struct {
	EventsIngested    prometheus.Counter
	RangeRequests     prometheus.Counter
	PermitExhausted   prometheus.Counter
	FramesSent        prometheus.Counter
	DecimatorPanics   prometheus.Counter
	DiscoveryChanges  prometheus.Counter
}

type systemGauges struct {
	CPUPercent prometheus.Gauge
	MemHeapMB  prometheus.Gauge
	Goroutines prometheus.Gauge
}

// NewRegistry creates and registers every collector.
func NewRegistry() *Registry {
	return &Registry{
		System: systemGauges{
			CPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "sparklesd_process_cpu_percent",
				Help: "Host CPU usage percent, sampled periodically",
			}),
			MemHeapMB: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "sparklesd_process_heap_mb",
				Help: "Process heap memory in megabytes",
			}),
			Goroutines: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "sparklesd_goroutines",
				Help: "Number of live goroutines",
			}),
		},
		Connections: gauges{
			ProducerConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "sparklesd_producer_connections_active",
				Help: "Number of producer connections currently online",
			}),
			WsSessions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "sparklesd_ws_sessions_active",
				Help: "Number of open browser WebSocket sessions",
			}),
		},
		Events: counters{
			EventsIngested: promauto.NewCounter(prometheus.CounterOpts{
				Name: "sparklesd_events_ingested_total",
				Help: "Total number of instant and range events ingested across all producers",
			}),
			RangeRequests: promauto.NewCounter(prometheus.CounterOpts{
				Name: "sparklesd_range_requests_total",
				Help: "Total number of RequestNewRange queries dispatched",
			}),
			PermitExhausted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "sparklesd_range_requests_retried_total",
				Help: "Total number of range requests re-queued due to insufficient reply channel capacity",
			}),
			FramesSent: promauto.NewCounter(prometheus.CounterOpts{
				Name: "sparklesd_frames_sent_total",
				Help: "Total number of decimated binary frames sent to browser sessions",
			}),
			DecimatorPanics: promauto.NewCounter(prometheus.CounterOpts{
				Name: "sparklesd_decimator_invariant_violations_total",
				Help: "Total number of per-channel decimation passes aborted by a merge order violation",
			}),
			DiscoveryChanges: promauto.NewCounter(prometheus.CounterOpts{
				Name: "sparklesd_discovery_snapshot_changes_total",
				Help: "Total number of discovery polls that found a change since the last snapshot",
			}),
		},
	}
}

// Handler returns the HTTP handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
