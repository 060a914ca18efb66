package controller

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	tasksv1alpha1 "github.com/praefect-ai/Praefect/api/v1alpha1"
)

func itoa(n int) string { return strconv.Itoa(n) }

var labelValueRe = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// sanitizeLabelValue makes s safe as a Kubernetes label value.
func sanitizeLabelValue(s string) string {
	s = labelValueRe.ReplaceAllString(s, "-")
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}

// parseQuantity parses a resource quantity, falling back when invalid.
func parseQuantity(value, fallback string) resource.Quantity {
	q, err := resource.ParseQuantity(value)
	if err != nil {
		return resource.MustParse(fallback)
	}
	return q
}

// parseDurationString parses durations like "45m", "24h" or "7d".
func parseDurationString(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}
	re := regexp.MustCompile(`^(\d+)d$`)
	m := re.FindStringSubmatch(s)
	if len(m) == 2 {
		days, _ := strconv.Atoi(m[1])
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid duration: %s", s)
}

// ensureWorkspacePVC creates the per-service workspace claim when missing.
// The claim is deliberately not owned by any single task: it outlives tasks
// and carries agent memory across attempts.
func ensureWorkspacePVC(ctx context.Context, c client.Client, taskCtx *TaskContext, storage StorageConfig) error {
	name := WorkspacePVCName(taskCtx.Service)

	existing := &corev1.PersistentVolumeClaim{}
	err := c.Get(ctx, types.NamespacedName{Namespace: taskCtx.Namespace, Name: name}, existing)
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return err
	}

	size := storage.WorkspaceSize
	class := storage.StorageClass
	if ws := taskCtx.Workspace; ws != nil {
		if ws.Size != "" {
			size = ws.Size
		}
		if ws.StorageClass != "" {
			class = ws.StorageClass
		}
	}

	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: taskCtx.Namespace,
			Labels: map[string]string{
				LabelManagedBy:         ManagerName,
				"praefect.dev/service": sanitizeLabelValue(taskCtx.Service),
			},
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: parseQuantity(size, "10Gi"),
				},
			},
		},
	}
	if class != "" {
		pvc.Spec.StorageClassName = &class
	}

	if err := c.Create(ctx, pvc); err != nil && !apierrors.IsAlreadyExists(err) {
		return err
	}
	return nil
}

// markCompleted stamps the terminal timestamp on the status and closes the
// current history record.
func markCompleted(status *tasksv1alpha1.TaskStatus, reason string) {
	now := metav1.Now()
	status.CompletedAt = &now
	status.Reason = reason
	for i := range status.History {
		if status.History[i].Attempt == status.Attempts {
			status.History[i].EndTime = &now
			status.History[i].Reason = reason
		}
	}
}

// setCondition upserts a status condition in the metav1 style.
func setCondition(status *tasksv1alpha1.TaskStatus, condType string, condStatus metav1.ConditionStatus, reason, message string) {
	now := metav1.Now()
	for i := range status.Conditions {
		if status.Conditions[i].Type == condType {
			if status.Conditions[i].Status != condStatus {
				status.Conditions[i].LastTransitionTime = now
			}
			status.Conditions[i].Status = condStatus
			status.Conditions[i].Reason = reason
			status.Conditions[i].Message = message
			return
		}
	}
	status.Conditions = append(status.Conditions, metav1.Condition{
		Type:               condType,
		Status:             condStatus,
		Reason:             reason,
		Message:            message,
		LastTransitionTime: now,
	})
}
