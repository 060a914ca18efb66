/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package controller

import (
	"context"
	"strconv"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	tasksv1alpha1 "github.com/praefect-ai/Praefect/api/v1alpha1"
)

// cleanupSupersededAttempts deletes jobs and bundles of attempts below
// currentAttempt. The current attempt's resources are never touched.
func (r *TaskReconciler) cleanupSupersededAttempts(ctx context.Context, taskCtx *TaskContext, currentAttempt int) error {
	logger := log.FromContext(ctx)
	selector := client.MatchingLabels{LabelTask: taskCtx.Name}
	inNS := client.InNamespace(taskCtx.Namespace)

	jobs := &batchv1.JobList{}
	if err := r.List(ctx, jobs, inNS, selector); err != nil {
		return err
	}
	for i := range jobs.Items {
		job := &jobs.Items[i]
		if attemptOfResource(job.Labels) >= currentAttempt {
			continue
		}
		policy := metav1.DeletePropagationBackground
		if err := r.Delete(ctx, job, &client.DeleteOptions{PropagationPolicy: &policy}); err != nil && !errors.IsNotFound(err) {
			logger.Error(err, "Failed to delete superseded job", "job", job.Name)
		} else {
			logger.V(1).Info("Deleted superseded job", "job", job.Name)
		}
	}

	bundles := &corev1.ConfigMapList{}
	if err := r.List(ctx, bundles, inNS, selector); err != nil {
		return err
	}
	for i := range bundles.Items {
		cm := &bundles.Items[i]
		if cm.Labels[LabelComponent] != ComponentBundle {
			continue
		}
		if attemptOfResource(cm.Labels) >= currentAttempt {
			continue
		}
		if err := r.Delete(ctx, cm); err != nil && !errors.IsNotFound(err) {
			logger.Error(err, "Failed to delete superseded bundle", "bundle", cm.Name)
		} else {
			logger.V(1).Info("Deleted superseded bundle", "bundle", cm.Name)
		}
	}

	return nil
}

func attemptOfResource(labels map[string]string) int {
	n, err := strconv.Atoi(labels[LabelAttempt])
	if err != nil {
		return 0
	}
	return n
}

// handleDelayedCleanup removes the terminal attempt's job and bundle once
// the configured retention has elapsed. The task resource itself stays as
// the record of what ran; the per-service workspace claim is untouched.
func (r *TaskReconciler) handleDelayedCleanup(ctx context.Context, task tasksv1alpha1.TaskObject) (ctrl.Result, error) {
	cfg := r.Loader.Config()
	if !cfg.Cleanup.Enabled {
		return ctrl.Result{}, nil
	}

	status := task.TaskStatus()
	if status.CompletedAt == nil {
		return ctrl.Result{}, nil
	}

	retention := cfg.Cleanup.SucceededAfter.Duration
	if status.Phase == tasksv1alpha1.TaskPhaseFailed {
		retention = cfg.Cleanup.FailedAfter.Duration
	}

	elapsed := time.Since(status.CompletedAt.Time)
	if elapsed < retention {
		return ctrl.Result{RequeueAfter: retention - elapsed}, nil
	}

	logger := log.FromContext(ctx)
	logger.Info("Retention expired, removing attempt resources",
		"task", task.GetName(), "job", status.JobName, "bundle", status.BundleName)

	if status.JobName != "" {
		job := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{
			Namespace: task.GetNamespace(), Name: status.JobName,
		}}
		policy := metav1.DeletePropagationBackground
		if err := r.Delete(ctx, job, &client.DeleteOptions{PropagationPolicy: &policy}); err != nil && !errors.IsNotFound(err) {
			return ctrl.Result{}, err
		}
	}
	if status.BundleName != "" {
		cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{
			Namespace: task.GetNamespace(), Name: status.BundleName,
		}}
		if err := r.Delete(ctx, cm); err != nil && !errors.IsNotFound(err) {
			return ctrl.Result{}, err
		}
	}

	emitTaskEvent(ctx, "praefect.task.resources_collected", task)
	return ctrl.Result{}, nil
}

// handleDeletion tears down everything the task owns and releases the
// finalizer. Owner references cascade the jobs and bundles; they are
// deleted explicitly as well so teardown does not race the GC. The
// workspace claim survives unless the spec asked for cleanup.
func (r *TaskReconciler) handleDeletion(ctx context.Context, task tasksv1alpha1.TaskObject) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	if !controllerutil.ContainsFinalizer(task, finalizerName) {
		return ctrl.Result{}, nil
	}

	wasRunning := task.TaskStatus().Phase == tasksv1alpha1.TaskPhaseRunning

	// Teardown is observable: the phase flips before dependents go away,
	// so a deletion blocked on slow cleanup shows as Terminating.
	if task.TaskStatus().Phase != tasksv1alpha1.TaskPhaseTerminating {
		err := r.updateStatusWithRetry(ctx, task, func(s *tasksv1alpha1.TaskStatus) {
			s.Phase = tasksv1alpha1.TaskPhaseTerminating
			s.Message = "Deletion in progress"
		})
		if err != nil && !errors.IsNotFound(err) {
			return ctrl.Result{}, err
		}
	}

	emitTaskEvent(ctx, "praefect.task.deleted", task)

	selector := client.MatchingLabels{LabelTask: task.GetName()}
	inNS := client.InNamespace(task.GetNamespace())

	jobs := &batchv1.JobList{}
	if err := r.List(ctx, jobs, inNS, selector); err != nil {
		return ctrl.Result{}, err
	}
	for i := range jobs.Items {
		policy := metav1.DeletePropagationBackground
		if err := r.Delete(ctx, &jobs.Items[i], &client.DeleteOptions{PropagationPolicy: &policy}); err != nil && !errors.IsNotFound(err) {
			return ctrl.Result{}, err
		}
	}

	bundles := &corev1.ConfigMapList{}
	if err := r.List(ctx, bundles, inNS, selector); err != nil {
		return ctrl.Result{}, err
	}
	for i := range bundles.Items {
		if bundles.Items[i].Labels[LabelComponent] != ComponentBundle {
			continue
		}
		if err := r.Delete(ctx, &bundles.Items[i]); err != nil && !errors.IsNotFound(err) {
			return ctrl.Result{}, err
		}
	}

	if ws := task.WorkspaceConfig(); ws != nil && ws.CleanupOnDelete {
		pvc := &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{
			Namespace: task.GetNamespace(),
			Name:      WorkspacePVCName(task.Common().Service),
		}}
		if err := r.Delete(ctx, pvc); err != nil && !errors.IsNotFound(err) {
			return ctrl.Result{}, err
		}
		logger.Info("Deleted workspace claim", "pvc", pvc.Name)
	}

	if wasRunning {
		tasksActive.WithLabelValues(string(task.TaskKind()), task.GetNamespace()).Dec()
	}

	controllerutil.RemoveFinalizer(task, finalizerName)
	if err := r.Update(ctx, task); err != nil {
		return ctrl.Result{}, err
	}

	logger.Info("Task deleted", "task", task.GetName())
	return ctrl.Result{}, nil
}
