package limiter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors updated by every check. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	decisions     *prometheus.CounterVec
	storeFailures *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turnstile",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by algorithm and outcome.",
		}, []string{"algorithm", "outcome"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turnstile",
			Name:      "store_failures_total",
			Help:      "Checks whose store round trip failed and were resolved by the failure policy.",
		}, []string{"algorithm"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "turnstile",
			Name:      "check_duration_seconds",
			Help:      "Latency of rate limit checks including the store round trip.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"algorithm"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.decisions, m.storeFailures, m.duration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observe(algo Algorithm, res Result, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "denied"
	if res.Success {
		outcome = "allowed"
	}
	m.decisions.WithLabelValues(string(algo), outcome).Inc()
	m.duration.WithLabelValues(string(algo)).Observe(took.Seconds())
}

func (m *Metrics) storeFailure(algo Algorithm) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(string(algo)).Inc()
}
