package prometheus

import (
	"time"

	"github.com/fluxorio/parallel/pkg/concurrency"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "parallel"

// StatsSource provides pool stats snapshots. *concurrency.WorkerPool
// satisfies it.
type StatsSource interface {
	Stats() concurrency.PoolStats
}

// LenSource reports a current length, such as a queue depth.
type LenSource interface {
	Len() int
}

var (
	_ StatsSource = (*concurrency.WorkerPool)(nil)
	_ LenSource   = (*concurrency.WorkerPool)(nil)
	_ LenSource   = (*concurrency.Queue[int])(nil)
)

// PoolCollector reads a pool's Stats on every scrape. No polling goroutine
// is needed, so the exported values are always current.
type PoolCollector struct {
	source StatsSource

	submitted *prometheus.Desc
	completed *prometheus.Desc
	failed    *prometheus.Desc
	discarded *prometheus.Desc
	rejected  *prometheus.Desc
	queued    *prometheus.Desc
	workers   *prometheus.Desc
	state     *prometheus.Desc
}

var _ prometheus.Collector = (*PoolCollector)(nil)

// NewPoolCollector builds a collector for one pool. Register it with a
// prometheus.Registerer.
func NewPoolCollector(source StatsSource) *PoolCollector {
	labels := []string{"pool_id"}
	desc := func(name, help string, extra ...string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", name),
			help,
			append(labels, extra...),
			nil,
		)
	}

	return &PoolCollector{
		source:    source,
		submitted: desc("tasks_submitted_total", "Tasks accepted by Submit."),
		completed: desc("tasks_completed_total", "Tasks that returned normally."),
		failed:    desc("tasks_failed_total", "Tasks that panicked."),
		discarded: desc("tasks_discarded_total", "Queued tasks dropped by a discarding shutdown."),
		rejected:  desc("tasks_rejected_total", "Submissions refused because the pool was stopping."),
		queued:    desc("queued_tasks", "Tasks waiting in the queue."),
		workers:   desc("workers", "Worker goroutines owned by the pool."),
		state:     desc("state", "Lifecycle state (1 for the current state).", "state"),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.submitted
	ch <- c.completed
	ch <- c.failed
	ch <- c.discarded
	ch <- c.rejected
	ch <- c.queued
	ch <- c.workers
	ch <- c.state
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	id := s.ID

	ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(s.Submitted), id)
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(s.Completed), id)
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(s.Failed), id)
	ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(s.Discarded), id)
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(s.Rejected), id)
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(s.Queued), id)
	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(s.Workers), id)

	for _, st := range []concurrency.PoolState{
		concurrency.StateConstructing,
		concurrency.StateRunning,
		concurrency.StateDraining,
		concurrency.StateStopped,
	} {
		v := 0.0
		if st == s.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, id, st.String())
	}
}

// NewQueueDepthGauge exports source.Len() as parallel_<name>_depth, labelled
// with the owning pool's ID.
func NewQueueDepthGauge(name, poolID string, source LenSource) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        name + "_depth",
		Help:        "Items currently held by the " + name + " queue.",
		ConstLabels: prometheus.Labels{"pool_id": poolID},
	}, func() float64 {
		return float64(source.Len())
	})
}

// NewRegistry returns a registry with the Go runtime and process collectors
// already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// TaskMetrics times individual tasks.
type TaskMetrics struct {
	Duration *prometheus.HistogramVec
}

// NewTaskMetrics registers the task duration histogram with registerer.
func NewTaskMetrics(registerer prometheus.Registerer) *TaskMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &TaskMetrics{
		Duration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Task execution time in seconds.",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"kind"},
		),
	}
}

// Instrument wraps task so each run is observed under kind.
func (m *TaskMetrics) Instrument(kind string, task concurrency.Task) concurrency.Task {
	observer := m.Duration.WithLabelValues(kind)
	return func() {
		start := time.Now()
		defer func() {
			observer.Observe(time.Since(start).Seconds())
		}()
		task()
	}
}
