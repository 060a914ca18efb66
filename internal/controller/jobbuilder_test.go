/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package controller

import (
	"strings"
	"testing"

	corev1 "k8s.io/api/core/v1"

	tasksv1alpha1 "github.com/praefect-ai/Praefect/api/v1alpha1"
)

func newTestBuilder(t *testing.T) *JobBuilder {
	t.Helper()
	cfg := testConfig()
	return NewJobBuilder(cfg, NewTemplateEngine(NewTemplateRepo(""), cfg))
}

func TestBuildJobShape(t *testing.T) {
	builder := newTestBuilder(t)
	taskCtx := testTaskContext(tasksv1alpha1.TaskKindCode)
	attempt := AttemptState{Number: 1, ContextVersion: 1, FreshSession: true, SessionID: "s1", RenderMemory: true}

	job, err := builder.Build(taskCtx, attempt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Name != "fix-timeouts-a1" {
		t.Errorf("job name = %q", job.Name)
	}
	if job.Spec.BackoffLimit == nil || *job.Spec.BackoffLimit != 0 {
		t.Error("backoffLimit must be 0: retries are new attempts, not pod restarts")
	}
	if job.Spec.Template.Spec.RestartPolicy != corev1.RestartPolicyNever {
		t.Errorf("restartPolicy = %v", job.Spec.Template.Spec.RestartPolicy)
	}

	sc := job.Spec.Template.Spec.SecurityContext
	if sc == nil || sc.RunAsNonRoot == nil || !*sc.RunAsNonRoot {
		t.Error("pod must run as non-root")
	}

	container := job.Spec.Template.Spec.Containers[0]
	if container.Image != "registry.example.com/agent:1.0" {
		t.Errorf("image = %q", container.Image)
	}
	if len(container.Command) != 3 || container.Command[0] != "/bin/bash" || container.Command[1] != "-ec" {
		t.Errorf("command = %v, want bash -ec <script>", container.Command[:2])
	}
	if !strings.Contains(container.Command[2], "task/fix-timeouts") {
		t.Error("startup script does not create the task branch")
	}
}

func TestBuildJobResources(t *testing.T) {
	attempt := AttemptState{Number: 1, ContextVersion: 1, FreshSession: true, SessionID: "s1", RenderMemory: true}

	t.Run("defaults apply", func(t *testing.T) {
		builder := newTestBuilder(t)
		job, err := builder.Build(testTaskContext(tasksv1alpha1.TaskKindCode), attempt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		res := job.Spec.Template.Spec.Containers[0].Resources
		if cpu := res.Requests[corev1.ResourceCPU]; cpu.String() != "100m" {
			t.Errorf("cpu request = %s, want 100m", cpu.String())
		}
		if mem := res.Requests[corev1.ResourceMemory]; mem.String() != "256Mi" {
			t.Errorf("memory request = %s, want 256Mi", mem.String())
		}
		if cpu := res.Limits[corev1.ResourceCPU]; cpu.String() != "2" {
			t.Errorf("cpu limit = %s, want 2", cpu.String())
		}
		if mem := res.Limits[corev1.ResourceMemory]; mem.String() != "4Gi" {
			t.Errorf("memory limit = %s, want 4Gi", mem.String())
		}
	})

	t.Run("configured bounds win", func(t *testing.T) {
		cfg := testConfig()
		cfg.Job.Resources.RequestsCPU = "500m"
		cfg.Job.Resources.LimitsMemory = "8Gi"
		builder := NewJobBuilder(cfg, NewTemplateEngine(NewTemplateRepo(""), cfg))

		job, err := builder.Build(testTaskContext(tasksv1alpha1.TaskKindCode), attempt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		res := job.Spec.Template.Spec.Containers[0].Resources
		if cpu := res.Requests[corev1.ResourceCPU]; cpu.String() != "500m" {
			t.Errorf("cpu request = %s, want 500m", cpu.String())
		}
		if mem := res.Limits[corev1.ResourceMemory]; mem.String() != "8Gi" {
			t.Errorf("memory limit = %s, want 8Gi", mem.String())
		}
	})
}

func TestBuildJobWorkspaceVolume(t *testing.T) {
	builder := newTestBuilder(t)
	attempt := AttemptState{Number: 1, ContextVersion: 1, FreshSession: true, SessionID: "s1", RenderMemory: true}

	t.Run("code task mounts the service claim", func(t *testing.T) {
		job, err := builder.Build(testTaskContext(tasksv1alpha1.TaskKindCode), attempt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var found bool
		for _, v := range job.Spec.Template.Spec.Volumes {
			if v.Name == "workspace" {
				found = true
				if v.PersistentVolumeClaim == nil || v.PersistentVolumeClaim.ClaimName != "workspace-billing" {
					t.Errorf("workspace volume = %+v, want PVC workspace-billing", v.VolumeSource)
				}
			}
		}
		if !found {
			t.Fatal("no workspace volume")
		}
	})

	t.Run("doc task gets an emptyDir", func(t *testing.T) {
		job, err := builder.Build(testTaskContext(tasksv1alpha1.TaskKindDoc), attempt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, v := range job.Spec.Template.Spec.Volumes {
			if v.Name == "workspace" && v.EmptyDir == nil {
				t.Errorf("doc task workspace = %+v, want emptyDir", v.VolumeSource)
			}
		}
	})
}

func TestBuildJobDeadlines(t *testing.T) {
	builder := newTestBuilder(t)
	attempt := AttemptState{Number: 1, ContextVersion: 1, FreshSession: true, SessionID: "s1", RenderMemory: true}

	codeJob, err := builder.Build(testTaskContext(tasksv1alpha1.TaskKindCode), attempt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	docJob, err := builder.Build(testTaskContext(tasksv1alpha1.TaskKindDoc), attempt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if *docJob.Spec.ActiveDeadlineSeconds <= *codeJob.Spec.ActiveDeadlineSeconds {
		t.Errorf("docs deadline (%d) must exceed code deadline (%d)",
			*docJob.Spec.ActiveDeadlineSeconds, *codeJob.Spec.ActiveDeadlineSeconds)
	}
}

func TestCredentialSelection(t *testing.T) {
	builder := newTestBuilder(t)
	attempt := AttemptState{Number: 1, ContextVersion: 1, FreshSession: true, SessionID: "s1", RenderMemory: true}

	t.Run("https gets a token env ref", func(t *testing.T) {
		taskCtx := testTaskContext(tasksv1alpha1.TaskKindCode)
		job, err := builder.Build(taskCtx, attempt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var tokenVar *corev1.EnvVar
		for i, e := range job.Spec.Template.Spec.Containers[0].Env {
			if e.Name == "GIT_TOKEN" {
				tokenVar = &job.Spec.Template.Spec.Containers[0].Env[i]
			}
		}
		if tokenVar == nil {
			t.Fatal("no GIT_TOKEN env var")
		}
		if tokenVar.Value != "" {
			t.Error("token injected by value: secrets must stay references")
		}
		ref := tokenVar.ValueFrom.SecretKeyRef
		if ref.Name != "agent-bot-git-token" || ref.Key != "token" {
			t.Errorf("secret ref = %s/%s", ref.Name, ref.Key)
		}
		for _, v := range job.Spec.Template.Spec.Volumes {
			if v.Name == "git-ssh" {
				t.Error("https URL must not mount the ssh secret")
			}
		}
	})

	t.Run("ssh gets the key mount", func(t *testing.T) {
		taskCtx := testTaskContext(tasksv1alpha1.TaskKindCode)
		taskCtx.RepositoryURL = "git@git.example.com:org/billing.git"
		job, err := builder.Build(taskCtx, attempt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var found bool
		for _, v := range job.Spec.Template.Spec.Volumes {
			if v.Name == "git-ssh" {
				found = true
				if v.Secret == nil || v.Secret.SecretName != "agent-bot-ssh" {
					t.Errorf("ssh volume = %+v", v.VolumeSource)
				}
			}
		}
		if !found {
			t.Fatal("no ssh volume for git@ URL")
		}
	})

	t.Run("unsupported scheme is a JobBuildError", func(t *testing.T) {
		taskCtx := testTaskContext(tasksv1alpha1.TaskKindCode)
		taskCtx.RepositoryURL = "ftp://git.example.com/org/billing"
		_, err := builder.Build(taskCtx, attempt)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if reasonOf(err) != ReasonJobBuildError {
			t.Errorf("reason = %q, want JobBuildError", reasonOf(err))
		}
	})
}

func TestTaskEnv(t *testing.T) {
	cfg := testConfig()
	cfg.Agent.APIKeySecret = SecretRef{Name: "agent-api-key", Key: "key"}
	builder := NewJobBuilder(cfg, NewTemplateEngine(NewTemplateRepo(""), cfg))

	taskCtx := testTaskContext(tasksv1alpha1.TaskKindCode)
	taskCtx.Env = map[string]string{"B_VAR": "2", "A_VAR": "1"}
	taskCtx.EnvFromSecrets = []tasksv1alpha1.SecretEnvVar{
		{Name: "EXTRA_TOKEN", SecretName: "extra", SecretKey: "token"},
	}

	job, err := builder.Build(taskCtx, AttemptState{Number: 3, ContextVersion: 2, SessionID: "s3", FreshSession: true, RenderMemory: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env := job.Spec.Template.Spec.Containers[0].Env

	byName := map[string]corev1.EnvVar{}
	var order []string
	for _, e := range env {
		byName[e.Name] = e
		order = append(order, e.Name)
	}

	if byName["PRAEFECT_ATTEMPT"].Value != "3" {
		t.Errorf("PRAEFECT_ATTEMPT = %q", byName["PRAEFECT_ATTEMPT"].Value)
	}
	if byName["PRAEFECT_SESSION_ID"].Value != "s3" {
		t.Errorf("PRAEFECT_SESSION_ID = %q", byName["PRAEFECT_SESSION_ID"].Value)
	}
	if byName["AGENT_API_KEY"].ValueFrom == nil {
		t.Error("API key must be a secret reference")
	}
	if byName["EXTRA_TOKEN"].ValueFrom.SecretKeyRef.Name != "extra" {
		t.Errorf("EXTRA_TOKEN ref = %+v", byName["EXTRA_TOKEN"].ValueFrom)
	}

	// User vars are sorted so the job spec is stable across reconciles.
	aIdx, bIdx := -1, -1
	for i, name := range order {
		if name == "A_VAR" {
			aIdx = i
		}
		if name == "B_VAR" {
			bIdx = i
		}
	}
	if aIdx == -1 || bIdx == -1 || aIdx > bIdx {
		t.Errorf("user env not sorted: %v", order)
	}
}
