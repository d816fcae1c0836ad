package cart

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Upserts     *prometheus.CounterVec // result: created|updated|removed|rejected
	Releases    *prometheus.CounterVec // reason: EXPIRED|REMOVED
	Commits     prometheus.Counter
	ArmedTimers prometheus.Gauge
}

// NewMetrics registers the cart collectors on reg. A nil reg builds unregistered
// collectors, handy for tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Upserts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cart",
			Name:      "reservation_upserts_total",
			Help:      "Reservation writes by result.",
		}, []string{"result"}),
		Releases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cart",
			Name:      "reservation_releases_total",
			Help:      "Reservations whose held stock went back to availability.",
		}, []string{"reason"}),
		Commits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cart",
			Name:      "orders_committed_total",
			Help:      "Carts committed into orders.",
		}),
		ArmedTimers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "cart",
			Name:      "expiry_timers_armed",
			Help:      "Reservation expiry timers currently armed.",
		}),
	}
}
