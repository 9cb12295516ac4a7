package coreact

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "coreact"
	metricsSubsystem = "scheduler"
)

// Metrics holds the scheduler's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	Spawned       prometheus.Counter
	Resumed       prometheus.Counter
	Completed     prometheus.Counter
	Failed        prometheus.Counter
	Registrations prometheus.Counter
	Polls         prometheus.Counter
	ReadyTasks    prometheus.Gauge
	WaitingTasks  prometheus.Gauge
}

// NewMetrics creates the scheduler collectors and registers them with
// reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		Spawned:       counter("tasks_spawned_total", "Tasks created with Spawn."),
		Resumed:       counter("task_resumes_total", "Resumptions of tasks taken off the ready queue."),
		Completed:     counter("tasks_completed_total", "Tasks whose body returned nil."),
		Failed:        counter("tasks_failed_total", "Tasks that returned an error, panicked or were terminated."),
		Registrations: counter("registrations_total", "Waits registered with the reactor."),
		Polls:         counter("polls_total", "Reactor polls."),
		ReadyTasks:    gauge("ready_tasks", "Tasks in the ready queue."),
		WaitingTasks:  gauge("waiting_tasks", "Tasks registered with the reactor."),
	}

	if reg != nil {
		reg.MustRegister(
			m.Spawned,
			m.Resumed,
			m.Completed,
			m.Failed,
			m.Registrations,
			m.Polls,
			m.ReadyTasks,
			m.WaitingTasks,
		)
	}
	return m
}

func (m *Metrics) spawned() {
	if m != nil {
		m.Spawned.Inc()
	}
}

func (m *Metrics) resumed() {
	if m != nil {
		m.Resumed.Inc()
	}
}

func (m *Metrics) completed() {
	if m != nil {
		m.Completed.Inc()
	}
}

func (m *Metrics) failed() {
	if m != nil {
		m.Failed.Inc()
	}
}

func (m *Metrics) registered() {
	if m != nil {
		m.Registrations.Inc()
	}
}

func (m *Metrics) polled() {
	if m != nil {
		m.Polls.Inc()
	}
}

func (m *Metrics) observe(s *Scheduler) {
	if m != nil {
		m.ReadyTasks.Set(float64(s.ready.Len()))
		m.WaitingTasks.Set(float64(s.reactor.Len()))
	}
}
