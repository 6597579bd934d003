package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"callme-notifier/types"
)

// Metrics holds the service counters. A nil *Metrics is valid and records
// nothing, which keeps component tests free of registry setup.
type Metrics struct {
	deliveries *prometheus.CounterVec
	dedupSkips *prometheus.CounterVec
	expired    prometheus.Counter
	jobTime    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callme_push_deliveries_total",
			Help: "APNs deliveries by final outcome.",
		}, []string{"result"}),
		dedupSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callme_dedup_skips_total",
			Help: "Triggers skipped because the dedup claim was already taken.",
		}, []string{"kind"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callme_availability_expired_total",
			Help: "Profiles switched offline by the expiry sweeper.",
		}),
		jobTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callme_job_duration_seconds",
			Help:    "Duration of scheduled job runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
	if reg != nil {
		reg.MustRegister(m.deliveries, m.dedupSkips, m.expired, m.jobTime)
	}
	return m
}

func (m *Metrics) Delivery(outcome types.DeliveryOutcome) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) DedupSkip(kind string) {
	if m == nil {
		return
	}
	m.dedupSkips.WithLabelValues(kind).Inc()
}

func (m *Metrics) Expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}

func (m *Metrics) ObserveJob(job string, started time.Time) {
	if m == nil {
		return
	}
	m.jobTime.WithLabelValues(job).Observe(time.Since(started).Seconds())
}
