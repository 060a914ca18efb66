/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package controller

import (
	"context"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Labels stamped on every owned resource. GC and cleanup select on these.
const (
	LabelTask      = "praefect.dev/task"
	LabelKind      = "praefect.dev/kind"
	LabelAttempt   = "praefect.dev/attempt"
	LabelComponent = "praefect.dev/component"
	LabelManagedBy = "app.kubernetes.io/managed-by"

	ComponentBundle = "bundle"
	ComponentJob    = "job"
	ManagerName     = "praefect"
)

func resourceLabels(taskCtx *TaskContext, attempt int, component string) map[string]string {
	return map[string]string{
		LabelTask:      taskCtx.Name,
		LabelKind:      string(taskCtx.Kind),
		LabelAttempt:   strconv.Itoa(attempt),
		LabelComponent: component,
		LabelManagedBy: ManagerName,
	}
}

// BuildBundle assembles the attempt-scoped configuration ConfigMap. The
// caller sets the owner reference before creating it.
func BuildBundle(taskCtx *TaskContext, attempt AttemptState, artifacts map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      attempt.bundleName(taskCtx.Name),
			Namespace: taskCtx.Namespace,
			Labels:    resourceLabels(taskCtx, attempt.Number, ComponentBundle),
		},
		Data:      artifacts,
		Immutable: ptrTo(true),
	}
}

// EnsureBundle creates the bundle, treating a byte-equal existing ConfigMap
// as an idempotent re-create. A same-name ConfigMap with different content
// is a BundleConflict: bundles are immutable, and silently overwriting one
// would desynchronize a running job from its recorded inputs.
func EnsureBundle(ctx context.Context, c client.Client, bundle *corev1.ConfigMap) error {
	existing := &corev1.ConfigMap{}
	err := c.Get(ctx, types.NamespacedName{Namespace: bundle.Namespace, Name: bundle.Name}, existing)
	if err == nil {
		if !equalStringMaps(existing.Data, bundle.Data) {
			return reconcileErrorf(ReasonBundleConflict,
				"bundle %s exists with different content", bundle.Name)
		}
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return err
	}

	if err := c.Create(ctx, bundle); err != nil {
		if apierrors.IsAlreadyExists(err) {
			// Lost a create race; re-check content on the next pass.
			return nil
		}
		return err
	}
	return nil
}

func equalStringMaps(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func ptrTo[T any](v T) *T { return &v }
