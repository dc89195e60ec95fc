package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/dronexam-api/internal/models"
)

// MetricsService owns the Prometheus registry. HTTP and cache metrics are
// observed directly; engine metrics are fed from core events.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	events          *prometheus.CounterVec
	lateness        prometheus.Histogram
	scheduled       prometheus.Counter
	laneRowsUpdated prometheus.Counter
	accessDenied    *prometheus.CounterVec
	eventsDropped   prometheus.Counter

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "board_cache_latency_seconds",
		Help:    "Latency of board cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "board_cache_write_seconds",
		Help:    "Latency of board cache writes",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "board_cache_hit_ratio",
		Help: "Ratio of board cache hits to lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "board_cache_hits_total",
		Help: "Total board cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "board_cache_misses_total",
		Help: "Total board cache misses",
	})

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_events_total",
		Help: "Core events by type",
	}, []string{"type"})

	lateness := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "exam_checkin_lateness_seconds",
		Help:    "How late candidates check in relative to their slot start",
		Buckets: []float64{0, 60, 300, 600, 900, 1800, 3600},
	})

	scheduled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exam_schedules_created_total",
		Help: "Schedules created by batch placement",
	})

	laneRowsUpdated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exam_lane_rows_updated_total",
		Help: "Queue rows rewritten by lane recomputes",
	})

	accessDenied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_access_denied_total",
		Help: "Denied authorization checks by action",
	}, []string{"action"})

	eventsDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exam_events_dropped_total",
		Help: "Events dropped because the dispatch queue was full",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal,
		cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		events, lateness, scheduled, laneRowsUpdated, accessDenied, eventsDropped,
		goroutines,
	)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		events:          events,
		lateness:        lateness,
		scheduled:       scheduled,
		laneRowsUpdated: laneRowsUpdated,
		accessDenied:    accessDenied,
		eventsDropped:   eventsDropped,
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup and updates the hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration of cache writes.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordDroppedEvent counts an event the dispatcher could not queue.
func (m *MetricsService) RecordDroppedEvent() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// HandleEvent folds a core event into the engine collectors.
func (m *MetricsService) HandleEvent(event models.Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case models.EventCheckedIn:
		m.lateness.Observe(event.Lateness.Seconds())
	case models.EventBatchScheduled:
		m.scheduled.Add(float64(event.Count))
	case models.EventLaneRecomputed:
		m.laneRowsUpdated.Add(float64(event.Count))
	case models.EventAccessDenied:
		m.accessDenied.WithLabelValues(event.Action).Inc()
	}
}
