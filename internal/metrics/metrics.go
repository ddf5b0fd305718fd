// Package metrics exposes workflow run statistics to Prometheus.
//
// Metrics exposed (namespace "taskflow"):
//
//	runs_total{workflow,status}            finished runs
//	run_duration_seconds{workflow,status}  run wall time
//	tasks_inflight{workflow}               tasks currently executing
//	tasks_total{workflow,task,status}      finished task executions
//	task_duration_seconds{workflow,task,status}
//	task_retries_total{workflow,task}      retry attempts scheduled
//	task_skipped_total{workflow,task,reason}
//	task_errors_handled_total{workflow,task,strategy}
//	task_routes_total{workflow,task,kind}
//	circuit_open_total{workflow,task}
//
// Run ids are not used as labels.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/pkg/schema"
)

const namespace = "taskflow"

// Collector holds the registered metrics. It is safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	inflight      *prometheus.GaugeVec
	tasksTotal    *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	errorsHandled *prometheus.CounterVec
	routes        *prometheus.CounterVec
	circuitOpened *prometheus.CounterVec
}

// NewCollector registers the metrics on registry. A nil registry gets a
// fresh one.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished workflow runs",
		}, []string{"workflow", "status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"workflow", "status"}),
		inflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_inflight",
			Help:      "Tasks currently executing",
		}, []string{"workflow"}),
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Finished task executions",
		}, []string{"workflow", "task", "status"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution duration in seconds, retries included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow", "task", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Retry attempts scheduled after a failed attempt",
		}, []string{"workflow", "task"}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_skipped_total",
			Help:      "Dispatches that did not execute the task",
		}, []string{"workflow", "task", "reason"}),
		errorsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_errors_handled_total",
			Help:      "Task failures absorbed by an on-error strategy",
		}, []string{"workflow", "task", "strategy"}),
		routes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_routes_total",
			Help:      "Routing decisions by route kind",
		}, []string{"workflow", "task", "kind"}),
		circuitOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_open_total",
			Help:      "Circuit breaker trips",
		}, []string{"workflow", "task"}),
	}
}

// Registry returns the registry the collector is registered on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Observer returns an engine observer recording runs of workflow.
func (c *Collector) Observer(workflow string) engine.Observer {
	return engine.ObserverFunc(func(_ context.Context, ev engine.LifecycleEvent) {
		c.observe(workflow, ev)
	})
}

func (c *Collector) observe(workflow string, ev engine.LifecycleEvent) {
	switch ev.Type {
	case schema.EventRunCompleted:
		status, _ := ev.Data["status"].(string)
		if status == "" {
			status = string(schema.RunStatusCompleted)
		}
		c.runsTotal.WithLabelValues(workflow, status).Inc()
		c.runDuration.WithLabelValues(workflow, status).Observe(ev.Duration.Seconds())
	case schema.EventRunAborted:
		status := string(schema.RunStatusAborted)
		c.runsTotal.WithLabelValues(workflow, status).Inc()
		c.runDuration.WithLabelValues(workflow, status).Observe(ev.Duration.Seconds())
	case schema.EventTaskStarted:
		c.inflight.WithLabelValues(workflow).Inc()
	case schema.EventTaskCompleted, schema.EventTaskFailed:
		status := string(ev.Status)
		c.inflight.WithLabelValues(workflow).Dec()
		c.tasksTotal.WithLabelValues(workflow, ev.Task, status).Inc()
		c.taskDuration.WithLabelValues(workflow, ev.Task, status).Observe(ev.Duration.Seconds())
	case schema.EventTaskRetrying:
		c.retries.WithLabelValues(workflow, ev.Task).Inc()
	case schema.EventTaskSkipped:
		reason, _ := ev.Data["reason"].(string)
		c.skipped.WithLabelValues(workflow, ev.Task, reason).Inc()
	case schema.EventTaskIgnored:
		c.errorsHandled.WithLabelValues(workflow, ev.Task, string(schema.ErrorStrategyIgnore)).Inc()
	case schema.EventTaskFallback:
		c.errorsHandled.WithLabelValues(workflow, ev.Task, string(schema.ErrorStrategyFallback)).Inc()
	case schema.EventTaskRouted:
		kind, _ := ev.Data["kind"].(string)
		c.routes.WithLabelValues(workflow, ev.Task, kind).Inc()
	case schema.EventCircuitBreakerOpen:
		c.circuitOpened.WithLabelValues(workflow, ev.Task).Inc()
	}
}
