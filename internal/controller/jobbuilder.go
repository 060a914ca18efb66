/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package controller

import (
	"sort"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	bundleMountPath    = "/task-files"
	workspaceMountPath = "/workspace"
	sshMountPath       = "/home/agent/.ssh"

	agentUID = 1000
	agentGID = 1000
)

// JobBuilder turns a task context plus an attempt state into a batchv1.Job.
// It never reads secret values; credentials are attached by reference only.
type JobBuilder struct {
	cfg    *ControllerConfig
	engine *TemplateEngine
}

func NewJobBuilder(cfg *ControllerConfig, engine *TemplateEngine) *JobBuilder {
	return &JobBuilder{cfg: cfg, engine: engine}
}

// WorkspacePVCName is the per-service claim shared by every attempt and
// every task targeting the service.
func WorkspacePVCName(service string) string {
	return "workspace-" + service
}

// Build assembles the attempt's Job. The caller sets the owner reference.
func (b *JobBuilder) Build(taskCtx *TaskContext, attempt AttemptState) (*batchv1.Job, error) {
	script, err := b.engine.RenderStartupScript(taskCtx, attempt)
	if err != nil {
		return nil, err
	}

	volumes, mounts, credEnv, err := b.credentialAttachments(taskCtx)
	if err != nil {
		return nil, err
	}

	volumes = append(volumes,
		corev1.Volume{
			Name: "task-files",
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{
						Name: attempt.bundleName(taskCtx.Name),
					},
					// Hooks are executed directly from the mount.
					DefaultMode: ptrTo(int32(0o755)),
				},
			},
		},
		b.workspaceVolume(taskCtx),
	)
	mounts = append(mounts,
		corev1.VolumeMount{Name: "task-files", MountPath: bundleMountPath, ReadOnly: true},
		corev1.VolumeMount{Name: "workspace", MountPath: workspaceMountPath},
	)

	deadline := b.cfg.Job.CodeDeadline.Duration
	if !taskCtx.IsCode() {
		deadline = b.cfg.Job.DocsDeadline.Duration
	}

	container := corev1.Container{
		Name:            "agent",
		Image:           b.cfg.Agent.Image,
		ImagePullPolicy: corev1.PullPolicy(b.cfg.Agent.ImagePullPolicy),
		Command:         []string{"/bin/bash", "-ec", script},
		Env:             append(b.taskEnv(taskCtx, attempt), credEnv...),
		Resources:       b.containerResources(),
		VolumeMounts:    mounts,
		SecurityContext: &corev1.SecurityContext{
			AllowPrivilegeEscalation: ptrTo(false),
			ReadOnlyRootFilesystem:   ptrTo(false),
			Capabilities: &corev1.Capabilities{
				Drop: []corev1.Capability{"ALL"},
			},
		},
	}

	var pullSecrets []corev1.LocalObjectReference
	for _, name := range b.cfg.Agent.ImagePullSecrets {
		pullSecrets = append(pullSecrets, corev1.LocalObjectReference{Name: name})
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      attempt.jobName(taskCtx.Name),
			Namespace: taskCtx.Namespace,
			Labels:    resourceLabels(taskCtx, attempt.Number, ComponentJob),
		},
		Spec: batchv1.JobSpec{
			// One shot per attempt; retry is a new attempt with a new bundle.
			BackoffLimit:          ptrTo(int32(0)),
			ActiveDeadlineSeconds: ptrTo(int64(deadline.Seconds())),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: resourceLabels(taskCtx, attempt.Number, ComponentJob),
				},
				Spec: corev1.PodSpec{
					RestartPolicy:    corev1.RestartPolicyNever,
					ImagePullSecrets: pullSecrets,
					SecurityContext: &corev1.PodSecurityContext{
						RunAsNonRoot: ptrTo(true),
						RunAsUser:    ptrTo(int64(agentUID)),
						RunAsGroup:   ptrTo(int64(agentGID)),
						FSGroup:      ptrTo(int64(agentGID)),
					},
					Containers: []corev1.Container{container},
					Volumes:    volumes,
				},
			},
		},
	}

	return job, nil
}

// containerResources builds the requests/limits envelope from config,
// falling back to working values when a quantity does not parse.
func (b *JobBuilder) containerResources() corev1.ResourceRequirements {
	res := b.cfg.Job.Resources
	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    parseQuantity(res.RequestsCPU, "100m"),
			corev1.ResourceMemory: parseQuantity(res.RequestsMemory, "256Mi"),
		},
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    parseQuantity(res.LimitsCPU, "2"),
			corev1.ResourceMemory: parseQuantity(res.LimitsMemory, "4Gi"),
		},
	}
}

func (b *JobBuilder) workspaceVolume(taskCtx *TaskContext) corev1.Volume {
	if taskCtx.IsCode() {
		return corev1.Volume{
			Name: "workspace",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
					ClaimName: WorkspacePVCName(taskCtx.Service),
				},
			},
		}
	}
	return corev1.Volume{
		Name:         "workspace",
		VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
	}
}

// credentialAttachments selects git credentials by repository URL scheme.
// SSH URLs mount the user's key secret; HTTP(S) URLs inject a token env
// var by secret reference. Anything else cannot be cloned.
func (b *JobBuilder) credentialAttachments(taskCtx *TaskContext) ([]corev1.Volume, []corev1.VolumeMount, []corev1.EnvVar, error) {
	url := taskCtx.RepositoryURL
	switch {
	case strings.HasPrefix(url, "ssh://") || strings.HasPrefix(url, "git@"):
		secretName := taskCtx.GitUser + "-ssh"
		volumes := []corev1.Volume{{
			Name: "git-ssh",
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{
					SecretName:  secretName,
					DefaultMode: ptrTo(int32(0o400)),
				},
			},
		}}
		mounts := []corev1.VolumeMount{{
			Name: "git-ssh", MountPath: sshMountPath, ReadOnly: true,
		}}
		env := []corev1.EnvVar{{
			Name:  "GIT_SSH_COMMAND",
			Value: "ssh -i " + sshMountPath + "/id_rsa -o StrictHostKeyChecking=accept-new",
		}}
		return volumes, mounts, env, nil

	case strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://"):
		secretName := taskCtx.GitUser + "-git-token"
		env := []corev1.EnvVar{{
			Name: "GIT_TOKEN",
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: secretName},
					Key:                  "token",
				},
			},
		}}
		return nil, nil, env, nil

	default:
		return nil, nil, nil, reconcileErrorf(ReasonJobBuildError,
			"unsupported repository URL scheme: %s", url)
	}
}

// taskEnv builds the container environment: well-known task vars, the API
// key reference, user-supplied vars (sorted for determinism) and secret
// references.
func (b *JobBuilder) taskEnv(taskCtx *TaskContext, attempt AttemptState) []corev1.EnvVar {
	env := []corev1.EnvVar{
		{Name: "PRAEFECT_TASK_NAME", Value: taskCtx.Name},
		{Name: "PRAEFECT_TASK_KIND", Value: string(taskCtx.Kind)},
		{Name: "PRAEFECT_SERVICE", Value: taskCtx.Service},
		{Name: "PRAEFECT_ATTEMPT", Value: itoa(attempt.Number)},
		{Name: "PRAEFECT_SESSION_ID", Value: attempt.SessionID},
	}

	if b.cfg.Agent.APIKeySecret.Name != "" {
		env = append(env, corev1.EnvVar{
			Name: "AGENT_API_KEY",
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{
						Name: b.cfg.Agent.APIKeySecret.Name,
					},
					Key: b.cfg.Agent.APIKeySecret.Key,
				},
			},
		})
	}

	keys := make([]string, 0, len(taskCtx.Env))
	for k := range taskCtx.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, corev1.EnvVar{Name: k, Value: taskCtx.Env[k]})
	}

	for _, ref := range taskCtx.EnvFromSecrets {
		env = append(env, corev1.EnvVar{
			Name: ref.Name,
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: ref.SecretName},
					Key:                  ref.SecretKey,
				},
			},
		})
	}

	return env
}
