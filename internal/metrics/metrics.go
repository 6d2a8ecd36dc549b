package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Booking state transitions by resulting status",
		},
		[]string{"status"},
	)

	InventoryHolds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_holds_total",
			Help: "Inventory hold attempts by result",
		},
		[]string{"result"},
	)

	CheckIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkins_total",
			Help: "Check-in attempts by result",
		},
		[]string{"result"},
	)

	PaymentSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_sessions_total",
			Help: "Payment session requests by method and result",
		},
		[]string{"method", "result"},
	)

	HoldsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inventory_holds_expired_total",
			Help: "Holds released by the expiry sweep",
		},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
