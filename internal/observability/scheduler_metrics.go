package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes event-scheduler Prometheus metrics. It
// implements scheduler.Metrics.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	EventsExecuted  prometheus.Counter
	EventsCancelled prometheus.Counter
	EventsDiscarded prometheus.Counter
	PendingEvents   prometheus.Gauge
	RunDuration     prometheus.Histogram
}

// NewSchedulerCollector registers scheduler metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	executed, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_scheduler_events_executed_total",
		Help: "Events executed by the discrete-event scheduler.",
	}), "sim_scheduler_events_executed_total")
	if err != nil {
		return nil, err
	}

	cancelled, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_scheduler_events_cancelled_total",
		Help: "Pending events cancelled before they ran.",
	}), "sim_scheduler_events_cancelled_total")
	if err != nil {
		return nil, err
	}

	discarded, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_scheduler_events_discarded_total",
		Help: "Pending events dropped unexecuted when the run reached its stop time.",
	}), "sim_scheduler_events_discarded_total")
	if err != nil {
		return nil, err
	}

	pending, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_scheduler_pending_events",
		Help: "Number of events currently waiting to run.",
	}), "sim_scheduler_pending_events")
	if err != nil {
		return nil, err
	}

	runHistogram, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_scheduler_run_duration_seconds",
		Help:    "Wall-clock duration of complete scheduler runs.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}), "sim_scheduler_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:        gatherer,
		EventsExecuted:  executed,
		EventsCancelled: cancelled,
		EventsDiscarded: discarded,
		PendingEvents:   pending,
		RunDuration:     runHistogram,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// IncExecuted increments the executed-events counter.
func (c *SchedulerCollector) IncExecuted() {
	if c == nil || c.EventsExecuted == nil {
		return
	}
	c.EventsExecuted.Inc()
}

// IncCancelled increments the cancelled-events counter.
func (c *SchedulerCollector) IncCancelled() {
	if c == nil || c.EventsCancelled == nil {
		return
	}
	c.EventsCancelled.Inc()
}

// AddDiscarded adds n to the discarded-events counter.
func (c *SchedulerCollector) AddDiscarded(n int) {
	if c == nil || c.EventsDiscarded == nil || n <= 0 {
		return
	}
	c.EventsDiscarded.Add(float64(n))
}

// SetPending updates the pending-events gauge.
func (c *SchedulerCollector) SetPending(n int) {
	if c == nil || c.PendingEvents == nil {
		return
	}
	c.PendingEvents.Set(float64(n))
}

// ObserveRun records the wall-clock duration of a complete run.
func (c *SchedulerCollector) ObserveRun(d time.Duration) {
	if c == nil || c.RunDuration == nil {
		return
	}
	c.RunDuration.Observe(d.Seconds())
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
