package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "care_match", Name: "matches_total", Help: "Total provider match queries served"})
	MatchLatency      = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "care_match", Name: "match_latency_seconds", Help: "Match latency seconds"})
	ProvidersOnline   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "care_match", Name: "providers_online", Help: "Number of providers with a live location"})
	EscalationsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "care_match", Name: "escalations_total", Help: "Total emergency escalations triggered"})
	WebhookRejections = promauto.NewCounter(prometheus.CounterOpts{Namespace: "care_match", Name: "webhook_rejections_total", Help: "Payment webhooks rejected for bad signatures"})

	EscrowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "care_match", Name: "escrow_transitions_total", Help: "Escrow ledger transitions by target state"},
		[]string{"state"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "care_match", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "care_match",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
