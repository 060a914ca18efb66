package controller

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	tasksv1alpha1 "github.com/praefect-ai/Praefect/api/v1alpha1"
)

// Prometheus metrics
var (
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "praefect_tasks_total",
			Help: "Total number of tasks by kind, phase and namespace",
		},
		[]string{"kind", "phase", "namespace"},
	)
	tasksActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "praefect_tasks_active",
			Help: "Number of currently Running tasks by kind and namespace",
		},
		[]string{"kind", "namespace"},
	)
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "praefect_attempts_total",
			Help: "Total number of execution attempts launched by kind",
		},
		[]string{"kind"},
	)
	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "praefect_task_duration_seconds",
			Help:    "Duration of completed task attempts in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~16384s
		},
		[]string{"kind"},
	)
)

var tracer = otel.Tracer("praefect.dev/operator")

func init() {
	metrics.Registry.MustRegister(tasksTotal, tasksActive, attemptsTotal, taskDuration)
}

func taskEventAttrs(task tasksv1alpha1.TaskObject) []attribute.KeyValue {
	status := task.TaskStatus()
	return []attribute.KeyValue{
		attribute.String("praefect.task.name", task.GetName()),
		attribute.String("praefect.task.namespace", task.GetNamespace()),
		attribute.String("praefect.task.kind", string(task.TaskKind())),
		attribute.String("praefect.task.phase", string(status.Phase)),
		attribute.Int("praefect.task.attempt", status.Attempts),
		attribute.String("praefect.task.session", status.SessionID),
	}
}

// emitTaskEvent starts a span and records a named event with task attributes.
func emitTaskEvent(ctx context.Context, eventName string, task tasksv1alpha1.TaskObject) {
	_, span := tracer.Start(ctx, eventName)
	defer span.End()
	span.AddEvent(eventName, trace.WithAttributes(taskEventAttrs(task)...))
}
