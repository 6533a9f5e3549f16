// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"InboxRPA/internal/domain"
	"InboxRPA/internal/ports"
)

// Recorder implements ports.Recorder on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	units    prometheus.Counter
	outcomes *prometheus.CounterVec
	retries  *prometheus.CounterVec
	dropped  prometheus.Counter
	duration prometheus.Histogram

	mu      sync.RWMutex
	lastRun time.Time
	runs    int
}

var _ ports.Recorder = (*Recorder)(nil)

// NewRecorder registers the collectors plus the Go and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		units: factory.NewCounter(prometheus.CounterOpts{
			Name: "inboxrpa_units_total",
			Help: "Total number of processing units handled",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inboxrpa_outcomes_total",
			Help: "Outcome records by status",
		}, []string{"status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inboxrpa_retries_total",
			Help: "Retries performed by operation",
		}, []string{"operation"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "inboxrpa_dropped_records_total",
			Help: "Outcome records that could not be persisted",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "inboxrpa_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}
}

func (r *Recorder) UnitProcessed() { r.units.Inc() }

func (r *Recorder) OutcomeRecorded(status domain.Status) {
	r.outcomes.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) RecordDropped() { r.dropped.Inc() }

func (r *Recorder) Retried(operation string) {
	r.retries.WithLabelValues(operation).Inc()
}

func (r *Recorder) RunFinished(elapsed time.Duration) {
	r.duration.Observe(elapsed.Seconds())

	r.mu.Lock()
	r.lastRun = time.Now()
	r.runs++
	r.mu.Unlock()
}

// LastRun returns when the most recent run finished and how many runs completed.
func (r *Recorder) LastRun() (time.Time, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRun, r.runs
}

// Gatherer exposes the registry to the HTTP handler and tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}
