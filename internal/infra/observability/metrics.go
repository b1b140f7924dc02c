package observability

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"event_reminder_bot/internal/domain/reminder"
)

// degradedThreshold is how many consecutive failed ticks flip the health
// endpoint to unhealthy.
const degradedThreshold = 3

// Metrics exposes the engine's Prometheus instrumentation. It implements
// both the reminder.Observer and the scheduler loop's Metrics interfaces.
type Metrics struct {
	deliveryOutcomes *prometheus.CounterVec
	ticksTotal       prometheus.Counter
	tickFailures     prometheus.Counter
	tickDuration     prometheus.Histogram
	jobsDispatched   prometheus.Counter
	degradedGauge    prometheus.Gauge

	consecutiveFailures atomic.Int64
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminders_delivery_outcomes_total",
			Help: "Dispatch attempt outcomes by reminder kind",
		}, []string{"kind", "outcome"}),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_scheduler_ticks_total",
			Help: "Scheduler loop ticks processed",
		}),
		tickFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_scheduler_tick_failures_total",
			Help: "Ticks aborted due to an unavailable backing store",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reminders_scheduler_tick_duration_seconds",
			Help:    "Wall time of a scheduler tick",
			Buckets: prometheus.DefBuckets,
		}),
		jobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_jobs_dispatched_total",
			Help: "Jobs fully dispatched and cleared from the job store",
		}),
		degradedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reminders_scheduler_consecutive_tick_failures",
			Help: "Consecutive failed ticks; the degraded-health signal",
		}),
	}
	reg.MustRegister(
		m.deliveryOutcomes,
		m.ticksTotal,
		m.tickFailures,
		m.tickDuration,
		m.jobsDispatched,
		m.degradedGauge,
	)
	return m
}

// Record implements reminder.Observer.
func (m *Metrics) Record(_, _ int64, kind reminder.Kind, outcome reminder.Outcome) {
	m.deliveryOutcomes.WithLabelValues(string(kind), string(outcome)).Inc()
}

// TickCompleted implements the scheduler loop's Metrics interface.
func (m *Metrics) TickCompleted(duration time.Duration, dispatched int, err error) {
	m.ticksTotal.Inc()
	m.tickDuration.Observe(duration.Seconds())
	m.jobsDispatched.Add(float64(dispatched))
	if err != nil {
		m.tickFailures.Inc()
	}
}

func (m *Metrics) ConsecutiveTickFailures(n int) {
	m.degradedGauge.Set(float64(n))
	m.consecutiveFailures.Store(int64(n))
}

// Healthy reports whether the loop has been completing ticks recently.
func (m *Metrics) Healthy() bool {
	return m.consecutiveFailures.Load() < degradedThreshold
}
