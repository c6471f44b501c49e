// Package metrics exposes prometheus collectors for the API server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EvaluationsTotal counts evaluation pipeline runs by terminal outcome
	// (ok, cache_hit, user_not_found, no_repositories, no_analyzable, rate_limited, llm_unavailable, internal).
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talentlane_evaluations_total",
		Help: "Evaluation pipeline runs by outcome.",
	}, []string{"outcome"})

	// EvaluationDuration observes wall time of full pipeline runs.
	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "talentlane_evaluation_duration_seconds",
		Help:    "End-to-end evaluation latency.",
		Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
	})

	// PaymentWebhooksTotal counts gateway webhook deliveries by event type and result.
	PaymentWebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talentlane_payment_webhooks_total",
		Help: "Payment gateway webhook deliveries.",
	}, []string{"event_type", "result"})

	// NotificationsPushed counts realtime pushes attempted over the websocket hub.
	NotificationsPushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talentlane_notifications_pushed_total",
		Help: "Realtime notification pushes by delivery result.",
	}, []string{"result"})

	// HTTPDuration observes request latency by route and status class.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "talentlane_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler { return promhttp.Handler() }
