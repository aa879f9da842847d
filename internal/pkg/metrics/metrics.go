package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Total number of billing webhook deliveries by event type, response class and action",
		},
		[]string{"type", "class", "action"},
	)

	WebhookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_webhook_duration_seconds",
			Help:    "Duration of billing webhook processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	WebhookRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_rejections_total",
			Help: "Total number of billing webhook deliveries rejected before processing",
		},
		[]string{"reason"},
	)
)
