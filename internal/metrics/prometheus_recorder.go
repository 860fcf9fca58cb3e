package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
)

const namespace = "ghbackup"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	reg              *prom.Registry
	runDuration      prom.Histogram
	runOutcome       *prom.CounterVec
	fetchDuration    *prom.HistogramVec
	fetchConcurrency prom.Gauge
	actions          *prom.CounterVec
	ancestryFailures prom.Counter
	entities         *prom.GaugeVec
	lastRun          prom.Gauge
}

// NewPrometheusRecorder constructs and registers the run metrics. A nil
// registry gets a fresh one.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{reg: reg}
	pr.once.Do(func() {
		pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete backup run",
			Buckets:   prom.ExponentialBuckets(1, 2, 14),
		})
		pr.runOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "run_outcomes_total",
			Help:      "Backup runs by final status",
		}, []string{"outcome"})
		pr.fetchDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of individual repository fetches",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.fetchConcurrency = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "fetch_concurrency",
			Help:      "Configured fetch worker count of the last run",
		})
		pr.actions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Executed plan actions by kind and result",
		}, []string{"kind", "result"})
		pr.ancestryFailures = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "ancestry_failures_total",
			Help:      "Ancestry checks that failed and were treated as rewrites",
		})
		pr.entities = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_entities",
			Help:      "Tracked entities by kind and status at the end of the run",
		}, []string{"kind", "status"})
		pr.lastRun = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		})
		reg.MustRegister(pr.runDuration, pr.runOutcome, pr.fetchDuration, pr.fetchConcurrency,
			pr.actions, pr.ancestryFailures, pr.entities, pr.lastRun)
	})
	return pr
}

// Registry returns the registry the metrics are registered with.
func (p *PrometheusRecorder) Registry() *prom.Registry { return p.reg }

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRunOutcome(outcome OutcomeLabel) {
	if p == nil || p.runOutcome == nil {
		return
	}
	p.runOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveFetchDuration(d time.Duration, success bool) {
	if p == nil || p.fetchDuration == nil {
		return
	}
	res := ResultFailed
	if success {
		res = ResultSuccess
	}
	p.fetchDuration.WithLabelValues(string(res)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetFetchConcurrency(n int) {
	if p == nil || p.fetchConcurrency == nil {
		return
	}
	p.fetchConcurrency.Set(float64(n))
}

func (p *PrometheusRecorder) IncAction(kind string, result ResultLabel) {
	if p == nil || p.actions == nil {
		return
	}
	p.actions.WithLabelValues(kind, string(result)).Inc()
}

func (p *PrometheusRecorder) IncAncestryFailures(n int) {
	if p == nil || p.ancestryFailures == nil || n <= 0 {
		return
	}
	p.ancestryFailures.Add(float64(n))
}

func (p *PrometheusRecorder) SetEntities(kind, status string, n int) {
	if p == nil || p.entities == nil {
		return
	}
	p.entities.WithLabelValues(kind, status).Set(float64(n))
}

func (p *PrometheusRecorder) SetLastRun(t time.Time) {
	if p == nil || p.lastRun == nil {
		return
	}
	p.lastRun.Set(float64(t.Unix()))
}

// WriteTextfile writes the registry atomically in the text exposition format.
// An empty path is a no-op.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if p == nil || path == "" {
		return nil
	}
	if err := prom.WriteToTextfile(path, p.reg); err != nil {
		return errors.WrapError(err, errors.CategoryRuntime, "failed to write metrics textfile").
			WithContext("path", path).
			Build()
	}
	return nil
}
