// Package metrics holds the Prometheus collectors of the ingestion pipeline.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame results used as the "result" label of FramesTotal.
const (
	ResultOK         = "ok"
	ResultCorrupt    = "corrupt"
	ResultMalformed  = "malformed"
	ResultIncomplete = "incomplete"
)

// Drop reasons used as the "reason" label of ReadingsDroppedTotal.
const (
	ReasonQueueFull = "queue_full"
	ReasonSinkError = "sink_error"
)

var (
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sml_frames_total",
		Help: "Frames read from the meter by outcome",
	}, []string{"result"})
	FramesDiscardedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sml_frames_discarded_total",
		Help: "Incomplete or oversized frames dropped by the framer",
	})
	ReadingsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sml_readings_dropped_total",
		Help: "Readings that were not delivered to storage",
	}, []string{"reason"})
	SinkDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sml_sink_duration_seconds",
		Help:    "Time spent forwarding one reading to the sinks",
		Buckets: prometheus.DefBuckets,
	})
	LastReadingTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sml_last_reading_timestamp_seconds",
		Help: "Capture time of the most recent reading",
	})
	TotalEnergyWattHours = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sml_total_energy_watt_hours",
		Help: "Cumulative energy register of the most recent reading",
	})
	LinePowerWatts = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sml_line_power_watts",
		Help: "Active power per phase of the most recent reading",
	}, []string{"line"})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sml_http_requests_total",
		Help: "HTTP requests served by route and status code",
	}, []string{"route", "code"})
	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sml_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	registerOnce sync.Once
)

func init() {
	InitMetrics()
}

// InitMetrics registers all collectors with the default registry.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			FramesTotal,
			FramesDiscardedTotal,
			ReadingsDroppedTotal,
			SinkDurationSeconds,
			LastReadingTimestamp,
			TotalEnergyWattHours,
			LinePowerWatts,
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
		)
		// export zero counters before the first frame arrives
		for _, result := range []string{ResultOK, ResultCorrupt, ResultMalformed, ResultIncomplete} {
			FramesTotal.WithLabelValues(result)
		}
		for _, reason := range []string{ReasonQueueFull, ReasonSinkError} {
			ReadingsDroppedTotal.WithLabelValues(reason)
		}
	})
}

// Handler exposes the registered collectors.
func Handler() http.Handler {
	InitMetrics()
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the wrapped writer for websocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// HTTPMiddleware counts requests and their latency. route resolves the label
// after the request was served so routers can report their matched pattern.
func HTTPMiddleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	InitMetrics()
	if route == nil {
		route = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			label := route(r)
			HTTPRequestDurationSeconds.WithLabelValues(label).Observe(time.Since(start).Seconds())
			HTTPRequestsTotal.WithLabelValues(label, strconv.Itoa(rec.status)).Inc()
		})
	}
}
