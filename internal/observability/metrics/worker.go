package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

const namespace = "cdr"

// PipelineMetrics covers the worker side: queued tasks, per-ICCID reconciliation,
// document outcomes and upstream billing calls.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	taskTotal    *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	taskInFlight prometheus.Gauge
	queueLag     *prometheus.HistogramVec

	iccidTotal      *prometheus.CounterVec
	iccidDuration   prometheus.Histogram
	documentOutcome *prometheus.CounterVec

	billingCalls    *prometheus.CounterVec
	billingDuration *prometheus.HistogramVec
	billingRetries  *prometheus.CounterVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()
	serviceLabel := prometheus.Labels{"service": service}

	taskTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "task_total",
			Help:      "Total executed tasks by type and status.",
		},
		[]string{"service", "type", "status"},
	)
	taskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Task execution duration in seconds by type and status.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		},
		[]string{"service", "type", "status"},
	)
	taskInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "task_in_flight",
			Help:        "Number of in-flight tasks.",
			ConstLabels: serviceLabel,
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between task publish and execution start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "type"},
	)
	iccidTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "iccid_reconciled_total",
			Help:        "Total reconciled ICCIDs by outcome.",
			ConstLabels: serviceLabel,
		},
		[]string{"outcome"},
	)
	iccidDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "iccid_reconcile_duration_seconds",
			Help:        "Duration of one ICCID reconciliation including billing lookups.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: serviceLabel,
		},
	)
	documentOutcome := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "documents_settled_total",
			Help:        "Total documents reaching a terminal status.",
			ConstLabels: serviceLabel,
		},
		[]string{"status"},
	)
	billingCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "billing",
			Name:        "calls_total",
			Help:        "Total billing API calls by endpoint and outcome.",
			ConstLabels: serviceLabel,
		},
		[]string{"endpoint", "outcome"},
	)
	billingDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "billing",
			Name:        "call_duration_seconds",
			Help:        "Billing API call duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: serviceLabel,
		},
		[]string{"endpoint"},
	)
	billingRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "billing",
			Name:        "retries_total",
			Help:        "Total billing call retries by operation.",
			ConstLabels: serviceLabel,
		},
		[]string{"operation"},
	)

	registry.MustRegister(
		taskTotal,
		taskDuration,
		taskInFlight,
		queueLag,
		iccidTotal,
		iccidDuration,
		documentOutcome,
		billingCalls,
		billingDuration,
		billingRetries,
	)

	return &PipelineMetrics{
		registry:        registry,
		service:         service,
		taskTotal:       taskTotal,
		taskDuration:    taskDuration,
		taskInFlight:    taskInFlight,
		queueLag:        queueLag,
		iccidTotal:      iccidTotal,
		iccidDuration:   iccidDuration,
		documentOutcome: documentOutcome,
		billingCalls:    billingCalls,
		billingDuration: billingDuration,
		billingRetries:  billingRetries,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StartTask() {
	m.taskInFlight.Inc()
}

func (m *PipelineMetrics) FinishTask(taskType string, duration time.Duration, err error) {
	m.taskInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.taskTotal.WithLabelValues(m.service, taskType, status).Inc()
	m.taskDuration.WithLabelValues(m.service, taskType, status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveQueueLag(taskType string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service, taskType).Observe(lag.Seconds())
}

func (m *PipelineMetrics) ObserveICCID(success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failed"
	}
	m.iccidTotal.WithLabelValues(outcome).Inc()
	m.iccidDuration.Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveDocumentOutcome(status domain.DocumentStatus) {
	m.documentOutcome.WithLabelValues(string(status)).Inc()
}

func (m *PipelineMetrics) ObserveBillingCall(endpoint, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.billingCalls.WithLabelValues(endpoint, outcome).Inc()
	m.billingDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordBillingRetry matches resilience.RetryHook.
func (m *PipelineMetrics) RecordBillingRetry(operation string, _ int, _ error) {
	m.billingRetries.WithLabelValues(operation).Inc()
}
