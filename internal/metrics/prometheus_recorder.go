package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "mcgalaxy"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	taskDuration   *prom.HistogramVec
	taskResults    *prom.CounterVec
	queueDepth     *prom.GaugeVec
	stepDuration   *prom.HistogramVec
	extensionLoads *prom.CounterVec
	updateOutcomes *prom.CounterVec
	sessions       prom.Gauge
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
// A nil reg gets a private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		taskDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Execution time of scheduled tasks",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .5, 1, 5},
		}, []string{"domain", "task"}),
		taskResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_results_total",
			Help:      "Scheduled task executions by outcome",
		}, []string{"domain", "result"}),
		queueDepth: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "domain_queue_depth",
			Help:      "Pending tasks per scheduling domain",
		}, []string{"domain"}),
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "bootstrap_step_duration_seconds",
			Help:      "Duration of bootstrap steps",
			Buckets:   prom.DefBuckets,
		}, []string{"step", "result"}),
		extensionLoads: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "extension_loads_total",
			Help:      "Extension module loads by capability and outcome",
		}, []string{"capability", "result"}),
		updateOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "update_outcomes_total",
			Help:      "Update checks and installs by stage and outcome",
		}, []string{"stage", "result"}),
		sessions: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Connected sessions",
		}),
	}
	reg.MustRegister(pr.taskDuration, pr.taskResults, pr.queueDepth, pr.stepDuration,
		pr.extensionLoads, pr.updateOutcomes, pr.sessions)
	return pr
}

func (p *PrometheusRecorder) ObserveTaskDuration(domain, task string, d time.Duration) {
	if p == nil {
		return
	}
	p.taskDuration.WithLabelValues(domain, task).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTaskResult(domain string, result ResultLabel) {
	if p == nil {
		return
	}
	p.taskResults.WithLabelValues(domain, string(result)).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(domain string, n int) {
	if p == nil {
		return
	}
	p.queueDepth.WithLabelValues(domain).Set(float64(n))
}

func (p *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration, result ResultLabel) {
	if p == nil {
		return
	}
	p.stepDuration.WithLabelValues(step, string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncExtensionLoad(capability string, result ResultLabel) {
	if p == nil {
		return
	}
	p.extensionLoads.WithLabelValues(capability, string(result)).Inc()
}

func (p *PrometheusRecorder) IncUpdateOutcome(stage string, result ResultLabel) {
	if p == nil {
		return
	}
	p.updateOutcomes.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) SetSessions(n int) {
	if p == nil {
		return
	}
	p.sessions.Set(float64(n))
}
