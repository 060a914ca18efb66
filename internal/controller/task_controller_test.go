/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package controller

import (
	"context"
	"testing"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	tasksv1alpha1 "github.com/praefect-ai/Praefect/api/v1alpha1"
)

func newCodeTaskReconciler(t *testing.T, cfg *ControllerConfig, objs ...client.Object) (*TaskReconciler, client.Client) {
	t.Helper()
	scheme := newTestScheme(t)
	c := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(objs...).
		WithStatusSubresource(&tasksv1alpha1.CodeTask{}, &tasksv1alpha1.DocTask{}).
		Build()
	r := &TaskReconciler{
		Client:    c,
		Scheme:    scheme,
		Recorder:  record.NewFakeRecorder(32),
		Loader:    &ConfigLoader{current: cfg},
		Templates: NewTemplateRepo(""),
		NewTask:   func() tasksv1alpha1.TaskObject { return &tasksv1alpha1.CodeTask{} },
	}
	return r, c
}

func requestFor(task tasksv1alpha1.TaskObject) ctrl.Request {
	return ctrl.Request{NamespacedName: types.NamespacedName{
		Namespace: task.GetNamespace(), Name: task.GetName(),
	}}
}

func TestReconcileAddsFinalizer(t *testing.T) {
	task := validCodeTask()
	r, c := newCodeTaskReconciler(t, testConfig(), task)

	res, err := r.Reconcile(context.Background(), requestFor(task))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Requeue {
		t.Error("expected requeue after adding the finalizer")
	}

	stored := &tasksv1alpha1.CodeTask{}
	if err := c.Get(context.Background(), requestFor(task).NamespacedName, stored); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range stored.Finalizers {
		if f == finalizerName {
			found = true
		}
	}
	if !found {
		t.Errorf("finalizers = %v, want %s", stored.Finalizers, finalizerName)
	}
}

func TestReconcilePendingLaunchesAttempt(t *testing.T) {
	ctx := context.Background()
	task := validCodeTask()
	task.Finalizers = []string{finalizerName}
	r, c := newCodeTaskReconciler(t, testConfig(), task)

	res, err := r.Reconcile(ctx, requestFor(task))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RequeueAfter != resyncInterval {
		t.Errorf("RequeueAfter = %v, want %v", res.RequeueAfter, resyncInterval)
	}

	bundle := &corev1.ConfigMap{}
	if err := c.Get(ctx, types.NamespacedName{Namespace: "agents", Name: "fix-timeouts-a1-bundle"}, bundle); err != nil {
		t.Fatalf("bundle not created: %v", err)
	}
	if len(bundle.OwnerReferences) == 0 {
		t.Error("bundle has no owner reference")
	}

	job := &batchv1.Job{}
	if err := c.Get(ctx, types.NamespacedName{Namespace: "agents", Name: "fix-timeouts-a1"}, job); err != nil {
		t.Fatalf("job not created: %v", err)
	}

	pvc := &corev1.PersistentVolumeClaim{}
	if err := c.Get(ctx, types.NamespacedName{Namespace: "agents", Name: "workspace-billing"}, pvc); err != nil {
		t.Fatalf("workspace claim not created: %v", err)
	}
	if len(pvc.OwnerReferences) != 0 {
		t.Error("workspace claim must not be owned by the task: it outlives it")
	}

	stored := &tasksv1alpha1.CodeTask{}
	if err := c.Get(ctx, requestFor(task).NamespacedName, stored); err != nil {
		t.Fatal(err)
	}
	if stored.Status.Phase != tasksv1alpha1.TaskPhaseRunning {
		t.Errorf("phase = %s, want Running", stored.Status.Phase)
	}
	if stored.Status.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", stored.Status.Attempts)
	}
	if stored.Status.JobName != "fix-timeouts-a1" || stored.Status.BundleName != "fix-timeouts-a1-bundle" {
		t.Errorf("resource names = %q/%q", stored.Status.JobName, stored.Status.BundleName)
	}
	if stored.Status.SessionID == "" {
		t.Error("no session id recorded")
	}
	if len(stored.Status.History) != 1 || stored.Status.History[0].Attempt != 1 {
		t.Errorf("history = %+v, want one record for attempt 1", stored.Status.History)
	}
}

func TestReconcileInvalidSpecFails(t *testing.T) {
	ctx := context.Background()
	task := validCodeTask()
	task.Spec.GitUser = ""
	task.Finalizers = []string{finalizerName}
	r, c := newCodeTaskReconciler(t, testConfig(), task)

	if _, err := r.Reconcile(ctx, requestFor(task)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := &tasksv1alpha1.CodeTask{}
	if err := c.Get(ctx, requestFor(task).NamespacedName, stored); err != nil {
		t.Fatal(err)
	}
	if stored.Status.Phase != tasksv1alpha1.TaskPhaseFailed {
		t.Errorf("phase = %s, want Failed", stored.Status.Phase)
	}
	if stored.Status.Reason != ReasonInvalidSpec {
		t.Errorf("reason = %q, want InvalidSpec", stored.Status.Reason)
	}
}

func runningCodeTask(jobName string) *tasksv1alpha1.CodeTask {
	task := validCodeTask()
	task.Finalizers = []string{finalizerName}
	started := metav1.NewTime(time.Now().Add(-5 * time.Minute))
	task.Status = tasksv1alpha1.TaskStatus{
		Phase:          tasksv1alpha1.TaskPhaseRunning,
		Attempts:       1,
		JobName:        jobName,
		BundleName:     jobName + "-bundle",
		SessionID:      "s1",
		ContextVersion: 1,
		StartedAt:      &started,
		History: []tasksv1alpha1.AttemptRecord{
			{Attempt: 1, ContextVersion: 1, JobName: jobName, BundleName: jobName + "-bundle", StartTime: &started},
		},
	}
	return task
}

func jobWithCondition(name string, condType batchv1.JobConditionType, reason string) *batchv1.Job {
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Namespace: "agents", Name: name},
		Status: batchv1.JobStatus{
			Conditions: []batchv1.JobCondition{
				{Type: condType, Status: corev1.ConditionTrue, Reason: reason},
			},
		},
	}
}

func TestReconcileRunning(t *testing.T) {
	ctx := context.Background()

	t.Run("job still in flight requeues", func(t *testing.T) {
		task := runningCodeTask("fix-timeouts-a1")
		job := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Namespace: "agents", Name: "fix-timeouts-a1"}}
		r, _ := newCodeTaskReconciler(t, testConfig(), task, job)

		res, err := r.Reconcile(ctx, requestFor(task))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.RequeueAfter != resyncInterval {
			t.Errorf("RequeueAfter = %v, want %v", res.RequeueAfter, resyncInterval)
		}
	})

	t.Run("complete job succeeds the task", func(t *testing.T) {
		task := runningCodeTask("fix-timeouts-a1")
		job := jobWithCondition("fix-timeouts-a1", batchv1.JobComplete, "")
		r, c := newCodeTaskReconciler(t, testConfig(), task, job)

		if _, err := r.Reconcile(ctx, requestFor(task)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		stored := &tasksv1alpha1.CodeTask{}
		if err := c.Get(ctx, requestFor(task).NamespacedName, stored); err != nil {
			t.Fatal(err)
		}
		if stored.Status.Phase != tasksv1alpha1.TaskPhaseSucceeded {
			t.Errorf("phase = %s, want Succeeded", stored.Status.Phase)
		}
		if stored.Status.CompletedAt == nil {
			t.Error("CompletedAt not stamped")
		}
		if stored.Status.History[0].EndTime == nil {
			t.Error("history record not closed")
		}
	})

	t.Run("failed job fails the task with the job reason", func(t *testing.T) {
		task := runningCodeTask("fix-timeouts-a1")
		job := jobWithCondition("fix-timeouts-a1", batchv1.JobFailed, "DeadlineExceeded")
		r, c := newCodeTaskReconciler(t, testConfig(), task, job)

		if _, err := r.Reconcile(ctx, requestFor(task)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		stored := &tasksv1alpha1.CodeTask{}
		if err := c.Get(ctx, requestFor(task).NamespacedName, stored); err != nil {
			t.Fatal(err)
		}
		if stored.Status.Phase != tasksv1alpha1.TaskPhaseFailed {
			t.Errorf("phase = %s, want Failed", stored.Status.Phase)
		}
		if stored.Status.Reason != "DeadlineExceeded" {
			t.Errorf("reason = %q, want DeadlineExceeded", stored.Status.Reason)
		}
	})

	t.Run("deleted job fails the task", func(t *testing.T) {
		task := runningCodeTask("fix-timeouts-a1")
		r, c := newCodeTaskReconciler(t, testConfig(), task)

		if _, err := r.Reconcile(ctx, requestFor(task)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		stored := &tasksv1alpha1.CodeTask{}
		if err := c.Get(ctx, requestFor(task).NamespacedName, stored); err != nil {
			t.Fatal(err)
		}
		if stored.Status.Phase != tasksv1alpha1.TaskPhaseFailed {
			t.Errorf("phase = %s, want Failed", stored.Status.Phase)
		}
	})
}

func TestReconcileRetryOnContextBump(t *testing.T) {
	ctx := context.Background()
	task := validCodeTask()
	task.Finalizers = []string{finalizerName}
	task.Spec.ContextVersion = 2
	completed := metav1.NewTime(time.Now().Add(-time.Minute))
	task.Status = tasksv1alpha1.TaskStatus{
		Phase:          tasksv1alpha1.TaskPhaseFailed,
		Attempts:       1,
		SessionID:      "s1",
		ContextVersion: 1,
		Reason:         "DeadlineExceeded",
		CompletedAt:    &completed,
	}
	r, c := newCodeTaskReconciler(t, testConfig(), task)

	res, err := r.Reconcile(ctx, requestFor(task))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Requeue {
		t.Error("expected immediate requeue into Pending handling")
	}

	stored := &tasksv1alpha1.CodeTask{}
	if err := c.Get(ctx, requestFor(task).NamespacedName, stored); err != nil {
		t.Fatal(err)
	}
	if stored.Status.Phase != tasksv1alpha1.TaskPhasePending {
		t.Errorf("phase = %s, want Pending", stored.Status.Phase)
	}
	if stored.Status.Attempts != 1 {
		t.Errorf("attempts = %d, re-arm must not reset the counter", stored.Status.Attempts)
	}
}

func TestReconcileSucceededWithoutBumpStaysTerminal(t *testing.T) {
	ctx := context.Background()
	task := validCodeTask()
	task.Finalizers = []string{finalizerName}
	completed := metav1.NewTime(time.Now().Add(-time.Minute))
	task.Status = tasksv1alpha1.TaskStatus{
		Phase:          tasksv1alpha1.TaskPhaseSucceeded,
		Attempts:       1,
		ContextVersion: 1,
		CompletedAt:    &completed,
	}
	r, c := newCodeTaskReconciler(t, testConfig(), task)

	if _, err := r.Reconcile(ctx, requestFor(task)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := &tasksv1alpha1.CodeTask{}
	if err := c.Get(ctx, requestFor(task).NamespacedName, stored); err != nil {
		t.Fatal(err)
	}
	if stored.Status.Phase != tasksv1alpha1.TaskPhaseSucceeded {
		t.Errorf("phase = %s, want Succeeded", stored.Status.Phase)
	}

	// No new resources: the task is done.
	if err := c.Get(ctx, types.NamespacedName{Namespace: "agents", Name: "fix-timeouts-a2"}, &batchv1.Job{}); !errors.IsNotFound(err) {
		t.Errorf("unexpected second attempt job: %v", err)
	}
}

func TestReconcileSecondAttemptSupersedesFirst(t *testing.T) {
	ctx := context.Background()
	task := validCodeTask()
	task.Finalizers = []string{finalizerName}
	task.Spec.ContextVersion = 2
	task.Status = tasksv1alpha1.TaskStatus{
		Phase:          tasksv1alpha1.TaskPhasePending,
		Attempts:       1,
		SessionID:      "s1",
		ContextVersion: 1,
	}

	firstCtx := testTaskContext(tasksv1alpha1.TaskKindCode)
	firstAttempt := AttemptState{Number: 1, ContextVersion: 1, SessionID: "s1"}
	oldBundle := BuildBundle(firstCtx, firstAttempt, map[string]string{KeyPrompt: "old"})
	oldJob := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{
		Namespace: "agents",
		Name:      "fix-timeouts-a1",
		Labels:    resourceLabels(firstCtx, firstAttempt.Number, ComponentJob),
	}}

	r, c := newCodeTaskReconciler(t, testConfig(), task, oldBundle, oldJob)

	if _, err := r.Reconcile(ctx, requestFor(task)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.Get(ctx, types.NamespacedName{Namespace: "agents", Name: "fix-timeouts-a2"}, &batchv1.Job{}); err != nil {
		t.Fatalf("second attempt job not created: %v", err)
	}
	if err := c.Get(ctx, types.NamespacedName{Namespace: "agents", Name: "fix-timeouts-a1"}, &batchv1.Job{}); !errors.IsNotFound(err) {
		t.Errorf("superseded job still present: %v", err)
	}
	if err := c.Get(ctx, types.NamespacedName{Namespace: "agents", Name: "fix-timeouts-a1-bundle"}, &corev1.ConfigMap{}); !errors.IsNotFound(err) {
		t.Errorf("superseded bundle still present: %v", err)
	}
}
