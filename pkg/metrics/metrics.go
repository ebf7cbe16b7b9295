package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Container metrics
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portod_containers_total",
			Help: "Total number of containers by lifecycle state",
		},
		[]string{"state"},
	)

	ContainersOOM = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "portod_containers_oom_total",
			Help: "Total number of containers killed by the OOM killer",
		},
	)

	ContainerCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portod_container_create_duration_seconds",
			Help:    "Time taken to create a container",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portod_container_start_duration_seconds",
			Help:    "Time taken to start a container, including cgroup and namespace setup",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portod_container_stop_duration_seconds",
			Help:    "Time taken to stop a container, from SIGTERM to reaped",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Volume metrics
	VolumesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portod_volumes_total",
			Help: "Total number of volumes by backend",
		},
		[]string{"backend"},
	)

	// Client/waiter metrics
	ClientsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portod_clients_active",
			Help: "Number of currently connected RPC clients",
		},
	)

	WaitersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portod_waiters_active",
			Help: "Number of outstanding WaitContainers calls",
		},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portod_rpc_requests_total",
			Help: "Total number of RPC requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portod_rpc_request_duration_seconds",
			Help:    "RPC request duration by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Event queue metrics
	EventQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portod_event_queue_depth",
			Help: "Number of events currently pending in the event queue",
		},
	)
)

func init() {
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(ContainersOOM)
	prometheus.MustRegister(ContainerCreateDuration)
	prometheus.MustRegister(ContainerStartDuration)
	prometheus.MustRegister(ContainerStopDuration)
	prometheus.MustRegister(VolumesTotal)
	prometheus.MustRegister(ClientsActive)
	prometheus.MustRegister(WaitersActive)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(EventQueueDepth)
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
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
