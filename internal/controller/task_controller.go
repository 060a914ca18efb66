/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package controller

import (
	"context"
	"fmt"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	"k8s.io/client-go/util/retry"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	tasksv1alpha1 "github.com/praefect-ai/Praefect/api/v1alpha1"
)

const (
	finalizerName  = "tasks.praefect.dev/finalizer"
	resyncInterval = 30 * time.Second
)

// TaskReconciler reconciles one task kind. The logic is written entirely
// against the TaskObject interface; the operator runs two instances, one
// per kind, differing only in NewTask.
type TaskReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	// Recorder emits K8s Events on task objects, visible via kubectl describe.
	Recorder record.EventRecorder

	// Loader serves the current operator configuration.
	Loader *ConfigLoader

	// Templates resolves artifact template sources.
	Templates *TemplateRepo

	// NewTask returns an empty object of the reconciled kind.
	NewTask func() tasksv1alpha1.TaskObject
}

// +kubebuilder:rbac:groups=tasks.praefect.dev,resources=doctasks;codetasks,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=tasks.praefect.dev,resources=doctasks/status;codetasks/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=tasks.praefect.dev,resources=doctasks/finalizers;codetasks/finalizers,verbs=update
// +kubebuilder:rbac:groups=batch,resources=jobs,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=persistentvolumeclaims,verbs=get;list;watch;create;delete
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Reconcile drives one task through its phase machine.
func (r *TaskReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	task := r.NewTask()
	if err := r.Get(ctx, req.NamespacedName, task); err != nil {
		if errors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if !task.GetDeletionTimestamp().IsZero() {
		return r.handleDeletion(ctx, task)
	}

	if !controllerutil.ContainsFinalizer(task, finalizerName) {
		controllerutil.AddFinalizer(task, finalizerName)
		if err := r.Update(ctx, task); err != nil {
			return ctrl.Result{}, err
		}
		return ctrl.Result{Requeue: true}, nil
	}

	status := task.TaskStatus()
	logger.V(1).Info("Reconciling task", "kind", task.TaskKind(), "task", task.GetName(), "phase", status.Phase)

	switch status.Phase {
	case "", tasksv1alpha1.TaskPhasePending:
		return r.handlePending(ctx, task)
	case tasksv1alpha1.TaskPhaseRunning:
		return r.handleRunning(ctx, task)
	case tasksv1alpha1.TaskPhaseSucceeded, tasksv1alpha1.TaskPhaseFailed:
		return r.handleTerminal(ctx, task)
	case tasksv1alpha1.TaskPhaseTerminating:
		// Deletion in flight; nothing to do until the finalizer path runs.
		return ctrl.Result{}, nil
	default:
		logger.Info("Unknown phase", "phase", status.Phase)
		return ctrl.Result{}, nil
	}
}

// handlePending launches the next attempt: bundle first, then job. Build
// failures carry a reason kind and move the task to Failed; anything else
// is returned for requeue.
func (r *TaskReconciler) handlePending(ctx context.Context, task tasksv1alpha1.TaskObject) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	status := task.TaskStatus()
	cfg := r.Loader.Config()

	taskCtx, err := NewTaskContext(task)
	if err != nil {
		return r.failTask(ctx, task, err)
	}

	attempt := ComputeAttemptState(taskCtx, status)

	if taskCtx.IsCode() {
		if err := ensureWorkspacePVC(ctx, r.Client, taskCtx, cfg.Storage); err != nil {
			logger.Error(err, "Failed to ensure workspace PVC")
			return ctrl.Result{}, err
		}
	}

	engine := NewTemplateEngine(r.Templates, cfg)
	artifacts, err := engine.RenderArtifacts(taskCtx, attempt)
	if err != nil {
		return r.failTask(ctx, task, err)
	}

	// Bundle before job: the job mounts the bundle by name, so the bundle
	// must exist when the pod schedules.
	bundle := BuildBundle(taskCtx, attempt, artifacts)
	if err := controllerutil.SetControllerReference(task, bundle, r.Scheme); err != nil {
		return ctrl.Result{}, err
	}
	if err := EnsureBundle(ctx, r.Client, bundle); err != nil {
		if reasonOf(err) != "" {
			return r.failTask(ctx, task, err)
		}
		return ctrl.Result{}, err
	}

	builder := NewJobBuilder(cfg, engine)
	job, err := builder.Build(taskCtx, attempt)
	if err != nil {
		return r.failTask(ctx, task, err)
	}
	if err := controllerutil.SetControllerReference(task, job, r.Scheme); err != nil {
		return ctrl.Result{}, err
	}

	if err := r.Create(ctx, job); err != nil && !errors.IsAlreadyExists(err) {
		return ctrl.Result{}, err
	}

	logger.Info("Launched attempt", "task", task.GetName(), "attempt", attempt.Number, "job", job.Name)
	emitTaskEvent(ctx, "praefect.task.attempt_started", task)
	r.Recorder.Eventf(task, corev1.EventTypeNormal, "AttemptStarted",
		"Attempt %d launched as job %s", attempt.Number, job.Name)
	attemptsTotal.WithLabelValues(string(taskCtx.Kind)).Inc()

	// Superseded attempts' resources are garbage-collected once the new
	// attempt is in flight.
	if err := r.cleanupSupersededAttempts(ctx, taskCtx, attempt.Number); err != nil {
		logger.Error(err, "Failed to clean up superseded attempts")
	}

	now := metav1.Now()
	rec := attempt.record(task.GetName())
	rec.StartTime = &now

	err = r.updateStatusWithRetry(ctx, task, func(s *tasksv1alpha1.TaskStatus) {
		s.Phase = tasksv1alpha1.TaskPhaseRunning
		s.Attempts = attempt.Number
		s.JobName = job.Name
		s.BundleName = bundle.Name
		s.SessionID = attempt.SessionID
		s.ContextVersion = attempt.ContextVersion
		s.StartedAt = &now
		s.CompletedAt = nil
		s.Reason = ""
		s.Message = fmt.Sprintf("Attempt %d running", attempt.Number)
		s.History = append(s.History, rec)
		setCondition(s, "Launched", metav1.ConditionTrue, "AttemptStarted",
			fmt.Sprintf("attempt %d", attempt.Number))
	})
	if err != nil {
		return ctrl.Result{}, err
	}

	tasksTotal.WithLabelValues(string(taskCtx.Kind), string(tasksv1alpha1.TaskPhaseRunning), taskCtx.Namespace).Inc()
	tasksActive.WithLabelValues(string(taskCtx.Kind), taskCtx.Namespace).Inc()

	return ctrl.Result{RequeueAfter: resyncInterval}, nil
}

// handleRunning polls the attempt's job. Transient poll errors never flip
// the phase; they are logged and retried at the resync interval.
func (r *TaskReconciler) handleRunning(ctx context.Context, task tasksv1alpha1.TaskObject) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	status := task.TaskStatus()

	if status.JobName == "" {
		return r.failTask(ctx, task, reconcileErrorf(ReasonJobBuildError, "job name missing from status"))
	}

	job := &batchv1.Job{}
	if err := r.Get(ctx, client.ObjectKey{Namespace: task.GetNamespace(), Name: status.JobName}, job); err != nil {
		if errors.IsNotFound(err) {
			return r.failTask(ctx, task, reconcileErrorf(ReasonJobBuildError,
				"job %s was deleted while running", status.JobName))
		}
		logger.Error(err, "Failed to poll job, will retry", "job", status.JobName)
		return ctrl.Result{RequeueAfter: resyncInterval}, nil
	}

	outcome, reason, message := analyzeJobStatus(job)
	switch outcome {
	case jobSucceeded:
		return r.completeTask(ctx, task)
	case jobFailed:
		return r.failTask(ctx, task, reconcileErrorf(reason, "%s", message))
	default:
		return ctrl.Result{RequeueAfter: resyncInterval}, nil
	}
}

// handleTerminal re-arms a Failed task when the submitter bumped the
// context version, and otherwise drives delayed cleanup of the attempt's
// resources.
func (r *TaskReconciler) handleTerminal(ctx context.Context, task tasksv1alpha1.TaskObject) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	status := task.TaskStatus()
	spec := task.Common()

	if status.Phase == tasksv1alpha1.TaskPhaseFailed && spec.ContextVersion > status.ContextVersion {
		logger.Info("Context version bumped, re-arming task",
			"task", task.GetName(), "from", status.ContextVersion, "to", spec.ContextVersion)
		r.Recorder.Eventf(task, corev1.EventTypeNormal, "Retrying",
			"New context version %d, scheduling attempt %d", spec.ContextVersion, status.Attempts+1)
		err := r.updateStatusWithRetry(ctx, task, func(s *tasksv1alpha1.TaskStatus) {
			s.Phase = tasksv1alpha1.TaskPhasePending
			s.Reason = ""
			s.Message = fmt.Sprintf("Retry requested with context version %d", spec.ContextVersion)
		})
		if err != nil {
			return ctrl.Result{}, err
		}
		return ctrl.Result{Requeue: true}, nil
	}

	return r.handleDelayedCleanup(ctx, task)
}

// completeTask moves a running task to Succeeded.
func (r *TaskReconciler) completeTask(ctx context.Context, task tasksv1alpha1.TaskObject) (ctrl.Result, error) {
	kind := string(task.TaskKind())
	ns := task.GetNamespace()

	err := r.updateStatusWithRetry(ctx, task, func(s *tasksv1alpha1.TaskStatus) {
		s.Phase = tasksv1alpha1.TaskPhaseSucceeded
		s.Message = "Task completed successfully"
		markCompleted(s, "Succeeded")
		setCondition(s, "Completed", metav1.ConditionTrue, "Succeeded", "agent job completed")
	})
	if err != nil {
		return ctrl.Result{}, err
	}

	status := task.TaskStatus()
	emitTaskEvent(ctx, "praefect.task.succeeded", task)
	r.Recorder.Event(task, corev1.EventTypeNormal, "TaskSucceeded", "Task completed successfully")
	tasksTotal.WithLabelValues(kind, string(tasksv1alpha1.TaskPhaseSucceeded), ns).Inc()
	tasksActive.WithLabelValues(kind, ns).Dec()
	if status.StartedAt != nil && status.CompletedAt != nil {
		taskDuration.WithLabelValues(kind).Observe(status.CompletedAt.Sub(status.StartedAt.Time).Seconds())
	}

	return ctrl.Result{RequeueAfter: r.Loader.Config().Cleanup.SucceededAfter.Duration}, nil
}

// failTask moves the task to Failed with the error's reason kind.
func (r *TaskReconciler) failTask(ctx context.Context, task tasksv1alpha1.TaskObject, cause error) (ctrl.Result, error) {
	kind := string(task.TaskKind())
	ns := task.GetNamespace()
	wasRunning := task.TaskStatus().Phase == tasksv1alpha1.TaskPhaseRunning

	reason := reasonOf(cause)
	if reason == "" {
		reason = "Failed"
	}

	err := r.updateStatusWithRetry(ctx, task, func(s *tasksv1alpha1.TaskStatus) {
		s.Phase = tasksv1alpha1.TaskPhaseFailed
		s.Message = cause.Error()
		markCompleted(s, reason)
		setCondition(s, "Completed", metav1.ConditionFalse, reason, cause.Error())
	})
	if err != nil {
		return ctrl.Result{}, err
	}

	log.FromContext(ctx).Info("Task failed", "task", task.GetName(), "reason", reason, "error", cause.Error())
	emitTaskEvent(ctx, "praefect.task.failed", task)
	r.Recorder.Event(task, corev1.EventTypeWarning, "TaskFailed", cause.Error())
	tasksTotal.WithLabelValues(kind, string(tasksv1alpha1.TaskPhaseFailed), ns).Inc()
	if wasRunning {
		tasksActive.WithLabelValues(kind, ns).Dec()
	}

	return ctrl.Result{}, nil
}

// updateStatusWithRetry applies mutate to a freshly fetched copy and
// updates the status subresource, retrying on conflicts. task itself is
// refreshed with the winning state.
func (r *TaskReconciler) updateStatusWithRetry(ctx context.Context, task tasksv1alpha1.TaskObject, mutate func(*tasksv1alpha1.TaskStatus)) error {
	key := client.ObjectKey{Namespace: task.GetNamespace(), Name: task.GetName()}
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		latest := r.NewTask()
		if err := r.Get(ctx, key, latest); err != nil {
			return err
		}
		mutate(latest.TaskStatus())
		if err := r.Status().Update(ctx, latest); err != nil {
			return err
		}
		*task.TaskStatus() = *latest.TaskStatus()
		return nil
	})
}

// SetupWithManager registers the reconciler for its kind.
func (r *TaskReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(r.NewTask()).
		Owns(&batchv1.Job{}).
		Owns(&corev1.ConfigMap{}).
		Complete(r)
}

type jobOutcome int

const (
	jobPending jobOutcome = iota
	jobSucceeded
	jobFailed
)

// analyzeJobStatus classifies a job by its Complete/Failed conditions. A
// job with neither condition is still in flight, whatever its pod counts
// momentarily say.
func analyzeJobStatus(job *batchv1.Job) (jobOutcome, string, string) {
	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return jobSucceeded, "Succeeded", "job completed"
		case batchv1.JobFailed:
			reason := "JobFailed"
			if cond.Reason == "DeadlineExceeded" {
				reason = "DeadlineExceeded"
			}
			msg := cond.Message
			if msg == "" {
				msg = "agent job failed"
			}
			return jobFailed, reason, msg
		}
	}
	return jobPending, "", ""
}
