package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_http_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reservations_store_op_seconds",
			Help:    "Duration of reservation store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	StoreOpErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_store_op_errors_total",
			Help: "Failed reservation store operations by kind",
		},
		[]string{"op", "kind"},
	)

	FeedDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reservations_feed_deliveries_total",
			Help: "Snapshots delivered to the live reservation feed",
		},
	)

	FeedSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reservations_feed_size",
			Help: "Reservations in the latest live feed snapshot",
		},
	)

	EventPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reservations_event_publish_failures_total",
			Help: "Reservation events that could not be published",
		},
	)
)
