package lib

import (
	"github.com/fiffu/eventpush/lib/models"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DispatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpush_dispatches_total",
			Help: "Total number of notification dispatches that reached fan-out",
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpush_deliveries_total",
			Help: "Per-endpoint delivery outcomes",
		},
		[]string{"outcome"},
	)

	SubscriptionsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpush_subscriptions_pruned_total",
			Help: "Subscriptions removed because the push service reported them gone",
		},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventpush_dispatch_duration_seconds",
			Help:    "Wall-clock time of a dispatch fan-out",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		DispatchesTotal,
		DeliveriesTotal,
		SubscriptionsPrunedTotal,
		DispatchDuration,
	)
}

type dispatchMetrics struct {
	totalSelected int
	succeeded     int
	permanent     int
	transient     int
	undeliverable int
	pruned        int
}

func (m *dispatchMetrics) Record(o models.DeliveryOutcome) {
	switch o.Status {
	case models.DeliverySucceeded:
		m.succeeded++
	case models.DeliveryFailedPermanent:
		m.permanent++
	case models.DeliveryFailedTransient:
		m.transient++
	}
	if o.Pruned {
		m.pruned++
	}
	DeliveriesTotal.WithLabelValues(string(o.Status)).Inc()
}

func (m *dispatchMetrics) logArgs() []any {
	args := make([]any, 0)
	if m.succeeded != 0 {
		args = append(args, "succeeded", m.succeeded)
	}
	if m.permanent != 0 {
		args = append(args, "failed_permanent", m.permanent)
	}
	if m.transient != 0 {
		args = append(args, "failed_transient", m.transient)
	}
	if m.undeliverable != 0 {
		args = append(args, "undeliverable", m.undeliverable)
	}
	if m.pruned != 0 {
		args = append(args, "pruned", m.pruned)
	}
	return args
}
