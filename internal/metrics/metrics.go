package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the agent's Prometheus metrics
type Collector struct {
	tripsEnqueued prometheus.Counter
	tripsSent     prometheus.Counter
	tripsFailed   prometheus.Counter
	flushes       *prometheus.CounterVec
	flushLatency  prometheus.Histogram

	queuePending   prometheus.Gauge
	queueFailed    prometheus.Gauge
	queueExhausted prometheus.Gauge

	staleLoads    prometheus.Counter
	logouts       *prometheus.CounterVec
	online        prometheus.Gauge
	trackedPoints prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewCollector creates the metrics and registers them on reg
func NewCollector(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	c := &Collector{
		tripsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driver_trips_enqueued_total",
			Help: "Total number of trips added to the offline queue",
		}),
		tripsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driver_trips_sent_total",
			Help: "Total number of trips confirmed by the server",
		}),
		tripsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driver_trips_failed_total",
			Help: "Total number of trip submission attempts that failed",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driver_queue_flushes_total",
			Help: "Queue flushes by result",
		}, []string{"result"}),
		flushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "driver_queue_flush_seconds",
			Help:    "Duration of flushes that reached the network",
			Buckets: prometheus.DefBuckets,
		}),
		queuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driver_queue_pending",
			Help: "Current number of pending queue items",
		}),
		queueFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driver_queue_failed",
			Help: "Current number of failed queue items",
		}),
		queueExhausted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driver_queue_exhausted",
			Help: "Current number of failed queue items past the retry ceiling",
		}),
		staleLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driver_trip_list_stale_responses_total",
			Help: "Trip list responses dropped because a newer request superseded them",
		}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driver_session_logouts_total",
			Help: "Session logouts by reason",
		}, []string{"reason"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driver_connectivity_online",
			Help: "1 when the backend is reachable",
		}),
		trackedPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driver_tracking_points_total",
			Help: "GPS fixes accepted by the trip recorder",
		}),
		gatherer: gatherer,
	}

	reg.MustRegister(
		c.tripsEnqueued,
		c.tripsSent,
		c.tripsFailed,
		c.flushes,
		c.flushLatency,
		c.queuePending,
		c.queueFailed,
		c.queueExhausted,
		c.staleLoads,
		c.logouts,
		c.online,
		c.trackedPoints,
	)
	c.online.Set(1)
	return c
}

func (c *Collector) RecordEnqueued(n int) {
	c.tripsEnqueued.Add(float64(n))
}

// RecordFlush records a flush outcome. result is "ok", "partial", "error" or a skip reason.
func (c *Collector) RecordFlush(result string, sent, failed int, seconds float64) {
	c.flushes.WithLabelValues(result).Inc()
	c.tripsSent.Add(float64(sent))
	c.tripsFailed.Add(float64(failed))
	if seconds > 0 {
		c.flushLatency.Observe(seconds)
	}
}

func (c *Collector) SetQueue(pending, failed, exhausted int) {
	c.queuePending.Set(float64(pending))
	c.queueFailed.Set(float64(failed))
	c.queueExhausted.Set(float64(exhausted))
}

func (c *Collector) RecordStaleLoad() {
	c.staleLoads.Inc()
}

func (c *Collector) RecordLogout(reason string) {
	c.logouts.WithLabelValues(reason).Inc()
}

func (c *Collector) SetOnline(online bool) {
	if online {
		c.online.Set(1)
		return
	}
	c.online.Set(0)
}

func (c *Collector) RecordPoints(n int) {
	c.trackedPoints.Add(float64(n))
}

// Handler serves the registered metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
