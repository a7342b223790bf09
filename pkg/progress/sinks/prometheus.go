package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/jobcrawl/pkg/progress"
)

// PrometheusSink exports crawl progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   prometheus.Histogram

	jobsQueued     *prometheus.CounterVec
	jobsDispatched *prometheus.CounterVec
	jobsInFlight   prometheus.Gauge

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	errors *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against reg, falling back to the
// default registerer.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobcrawl_runs_started_total",
			Help: "Total crawl runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobcrawl_runs_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobcrawl_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		jobsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobcrawl_jobs_queued_total",
			Help: "Jobs queued partitioned by kind.",
		}, []string{"kind"}),
		jobsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobcrawl_jobs_dispatched_total",
			Help: "Pages handed to handlers partitioned by kind.",
		}, []string{"kind"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobcrawl_fetches_in_flight",
			Help: "Fetches started but not yet finished.",
		}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobcrawl_fetch_requests_total",
			Help: "Fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobcrawl_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobcrawl_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by site.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobcrawl_errors_total",
			Help: "Failed jobs partitioned by stage and kind.",
		}, []string{"stage", "kind"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runDuration,
		s.jobsQueued,
		s.jobsDispatched,
		s.jobsInFlight,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.errors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRun(evt)
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRun(evt)
	case progress.StageJobQueued:
		s.jobsQueued.WithLabelValues(evt.Kind).Inc()
	case progress.StageFetchStart:
		s.jobsInFlight.Inc()
	case progress.StageFetchDone:
		s.jobsInFlight.Dec()
		s.handleFetchDone(evt)
	case progress.StageFetchError:
		s.jobsInFlight.Dec()
		s.errors.WithLabelValues(string(evt.Stage), evt.Kind).Inc()
	case progress.StageDispatch:
		s.jobsDispatched.WithLabelValues(evt.Kind).Inc()
	case progress.StageHandlerError:
		s.errors.WithLabelValues(string(evt.Stage), evt.Kind).Inc()
	}
}

func (s *PrometheusSink) observeRun(evt progress.Event) {
	if evt.Dur > 0 {
		s.runDuration.Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchDone(evt progress.Event) {
	s.fetchRequests.WithLabelValues(evt.Site, string(evt.StatusClass)).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(evt.Site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(evt.Site).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
