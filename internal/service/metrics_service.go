package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the admission
// and delivery pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	admissions      *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	sendAttempts    *prometheus.CounterVec
	offlineDepth    prometheus.Gauge
	dbQueryDuration *prometheus.HistogramVec
}

// NewMetricsService registers core Prometheus collectors on a private
// registry.
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

	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_admission_decisions_total",
		Help: "Admission verdicts by outcome and reason",
	}, []string{"allowed", "reason"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_delivery_transitions_total",
		Help: "Delivery state machine transitions by target state",
	}, []string{"state"})

	sendAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_send_attempts_total",
		Help: "Transport send attempts by channel and outcome",
	}, []string{"channel", "outcome"})

	offlineDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notify_offline_queue_depth",
		Help: "Number of deliveries parked in the offline queue",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, admissions, transitions, sendAttempts, offlineDepth, dbQueryDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		admissions:      admissions,
		transitions:     transitions,
		sendAttempts:    sendAttempts,
		offlineDepth:    offlineDepth,
		dbQueryDuration: dbQueryDuration,
	}
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

// ObserveAdmission counts one admission verdict.
func (m *MetricsService) ObserveAdmission(allowed bool, reason string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(fmt.Sprintf("%t", allowed), reason).Inc()
}

// ObserveTransition counts one delivery state transition. Implements the
// orchestrator's Observer interface.
func (m *MetricsService) ObserveTransition(state models.DeliveryState) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(state)).Inc()
}

// SetOfflineDepth pins the offline queue gauge to an absolute value.
func (m *MetricsService) SetOfflineDepth(depth int) {
	if m == nil {
		return
	}
	m.offlineDepth.Set(float64(depth))
}

// ObserveAttempt counts one transport send attempt. Implements the
// orchestrator's Observer interface.
func (m *MetricsService) ObserveAttempt(channel models.Channel, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.sendAttempts.WithLabelValues(string(channel), outcome).Inc()
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}
