package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locatealert_alerts_sent_total",
			Help: "Alerts delivered to a channel sender without error.",
		},
		[]string{"channel"},
	)
	alertsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locatealert_alerts_failed_total",
			Help: "Alerts whose record write or channel send failed.",
		},
		[]string{"channel"},
	)
	ticketsCheckedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "locatealert_tickets_checked_total",
			Help: "Trigger-feed rows processed by the dispatcher.",
		},
	)
)
