package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	chatMessagesSent          *prometheus.CounterVec
	chatLifecycleTotal        *prometheus.CounterVec
	notificationsPublished    *prometheus.CounterVec
	realtimeConnectionsActive prometheus.Gauge
	realtimeEventsTotal       *prometheus.CounterVec
	realtimeDroppedTotal      *prometheus.CounterVec
	relayFailuresTotal        *prometheus.CounterVec
	sseClientsActive          prometheus.Gauge
	attachmentPurgeFailures   prometheus.Counter

	uploadRequestsTotal *prometheus.CounterVec
	uploadRejectedTotal *prometheus.CounterVec
	uploadLatency       prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors used by the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		chatMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted, by kind (user, system, forward).",
		}, []string{"kind"})

		chatLifecycleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_lifecycle_events_total",
			Help: "Chat lifecycle transitions, by action.",
		}, []string{"action"})

		notificationsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_published_total",
			Help: "Notifications persisted, by type.",
		}, []string{"type"})

		realtimeConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Open websocket connections on this node.",
		})

		realtimeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_inbound_events_total",
			Help: "Inbound websocket events, by event name and outcome.",
		}, []string{"event", "outcome"})

		realtimeDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_dropped_frames_total",
			Help: "Outbound frames dropped because a consumer was too slow.",
		}, []string{"room_kind"})

		relayFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_relay_failures_total",
			Help: "Failed cross-node relay publishes, by transport.",
		}, []string{"transport"})

		sseClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sse_clients_active",
			Help: "Open server-sent event streams.",
		})

		attachmentPurgeFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attachment_purge_failures_total",
			Help: "Attachment deletions that failed at the storage provider.",
		})

		uploadRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_requests_total",
			Help: "Stored uploads, by mime type.",
		}, []string{"mime"})

		uploadRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_rejected_total",
			Help: "Rejected uploads, by reason.",
		}, []string{"reason"})

		uploadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_latency_seconds",
			Help:    "Upload handling latency.",
			Buckets: prometheus.DefBuckets,
		})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			chatMessagesSent, chatLifecycleTotal, notificationsPublished,
			realtimeConnectionsActive, realtimeEventsTotal, realtimeDroppedTotal, relayFailuresTotal,
			sseClientsActive, attachmentPurgeFailures,
			uploadRequestsTotal, uploadRejectedTotal, uploadLatency,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// ChatMessagesSent counts persisted messages.
func ChatMessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesSent
}

// ChatLifecycle counts chat lifecycle transitions.
func ChatLifecycle() *prometheus.CounterVec {
	RegisterMetrics()
	return chatLifecycleTotal
}

// NotificationsPublishedTotal counts persisted notifications.
func NotificationsPublishedTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPublished
}

// RealtimeConnections tracks open websocket connections.
func RealtimeConnections() prometheus.Gauge {
	RegisterMetrics()
	return realtimeConnectionsActive
}

// RealtimeEvents counts inbound websocket events.
func RealtimeEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeEventsTotal
}

// RealtimeDropped counts frames dropped for slow consumers.
func RealtimeDropped() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeDroppedTotal
}

// RelayFailures counts failed cross-node publishes.
func RelayFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return relayFailuresTotal
}

// SSEClientsActive tracks open SSE streams.
func SSEClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return sseClientsActive
}

// AttachmentPurgeFailures counts failed attachment deletions.
func AttachmentPurgeFailures() prometheus.Counter {
	RegisterMetrics()
	return attachmentPurgeFailures
}

// UploadRequests counts stored uploads.
func UploadRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRequestsTotal
}

// UploadRejected counts rejected uploads.
func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejectedTotal
}

// UploadLatency observes upload latency.
func UploadLatency() prometheus.Histogram {
	RegisterMetrics()
	return uploadLatency
}
