// Package metrics registers the prometheus instruments the service exports.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	OrdersCreated       *prometheus.CounterVec
	OrdersPaid          *prometheus.CounterVec
	OrdersCompleted     prometheus.Counter
	OrdersExpired       prometheus.Counter
	DeliveryFailures    *prometheus.CounterVec
	ReconcileRejections *prometheus.CounterVec
	ProvisionDuration   prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_orders_created_total",
			Help: "Orders created, by payment rail.",
		}, []string{"rail"}),
		OrdersPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_orders_paid_total",
			Help: "Orders settled as paid, by payment rail.",
		}, []string{"rail"}),
		OrdersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_orders_completed_total",
			Help: "Orders delivered and completed.",
		}),
		OrdersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_orders_expired_total",
			Help: "Pending orders expired by timeout.",
		}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_delivery_failures_total",
			Help: "Delivery attempts that failed, by reason.",
		}, []string{"reason"}),
		ReconcileRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_reconcile_rejections_total",
			Help: "Payment evidence rejected during reconciliation, by reason.",
		}, []string{"reason"}),
		ProvisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shop_provision_duration_seconds",
			Help:    "Latency of upstream provisioning calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.OrdersCreated, m.OrdersPaid, m.OrdersCompleted, m.OrdersExpired,
		m.DeliveryFailures, m.ReconcileRejections, m.ProvisionDuration,
	)
	return m
}
