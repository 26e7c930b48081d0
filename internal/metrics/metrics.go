package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 进程级指标，经 /metrics 暴露
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "path", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_transcription_jobs_active",
		Help: "Transcription jobs currently running.",
	})

	QueuedJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_transcription_jobs_queued",
		Help: "Transcription jobs waiting in the dispatch queue.",
	})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_transcription_jobs_total",
		Help: "Finished transcription jobs by outcome.",
	}, []string{"outcome"})

	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_websocket_connections",
		Help: "Currently attached websocket sessions.",
	})
)
