/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package controller

import (
	tasksv1alpha1 "github.com/praefect-ai/Praefect/api/v1alpha1"
)

// TaskContext is the normalized, read-only view of a task that the
// template engine, bundle builder and job builder consume. It is built
// once per reconcile pass; defaults are resolved here so downstream code
// never re-checks for empty fields.
type TaskContext struct {
	Kind      tasksv1alpha1.TaskKind
	Name      string
	Namespace string
	UID       string

	Service          string
	RepositoryURL    string
	Branch           string
	WorkingDirectory string
	GitUser          string
	Model            string

	ToolPreset tasksv1alpha1.ToolPreset
	Tools      []string

	ContextVersion     int
	PromptModification string
	PromptMode         tasksv1alpha1.PromptMode
	ResumeSession      bool
	OverwriteMemory    bool
	TemplatesRef       string

	Env            map[string]string
	EnvFromSecrets []tasksv1alpha1.SecretEnvVar

	// Workspace is nil for kinds running on ephemeral storage.
	Workspace *tasksv1alpha1.WorkspaceSpec

	// DocsProjectDirectory is "" for code tasks.
	DocsProjectDirectory string
}

// IsCode reports whether the context belongs to a code task.
func (c *TaskContext) IsCode() bool { return c.Kind == tasksv1alpha1.TaskKindCode }

// NewTaskContext normalizes either task kind into a TaskContext. Missing
// required fields return an InvalidSpec error; the caller moves the task
// to Failed rather than requeueing.
func NewTaskContext(task tasksv1alpha1.TaskObject) (*TaskContext, error) {
	spec := task.Common()

	if spec.Service == "" {
		return nil, reconcileErrorf(ReasonInvalidSpec, "spec.service is required")
	}
	if spec.RepositoryURL == "" {
		return nil, reconcileErrorf(ReasonInvalidSpec, "spec.repositoryUrl is required")
	}
	if spec.GitUser == "" {
		return nil, reconcileErrorf(ReasonInvalidSpec, "spec.gitUser is required")
	}

	ctx := &TaskContext{
		Kind:      task.TaskKind(),
		Name:      task.GetName(),
		Namespace: task.GetNamespace(),
		UID:       string(task.GetUID()),

		Service:          spec.Service,
		RepositoryURL:    spec.RepositoryURL,
		Branch:           spec.Branch,
		WorkingDirectory: spec.WorkingDirectory,
		GitUser:          spec.GitUser,
		Model:            spec.Model,

		ToolPreset: spec.ToolPreset,
		Tools:      spec.Tools,

		ContextVersion:     spec.ContextVersion,
		PromptModification: spec.PromptModification,
		PromptMode:         spec.PromptMode,
		ResumeSession:      spec.ResumeSession,
		OverwriteMemory:    spec.OverwriteMemory,
		TemplatesRef:       spec.TemplatesRef,

		Env:            spec.Env,
		EnvFromSecrets: spec.EnvFromSecrets,

		Workspace:            task.WorkspaceConfig(),
		DocsProjectDirectory: task.ProjectDirectory(),
	}

	// Defaults normally applied by the API server; resolved again here so
	// contexts built from bare objects (tests, CLI dry-runs) behave the same.
	if ctx.Branch == "" {
		ctx.Branch = "main"
	}
	if ctx.WorkingDirectory == "" {
		ctx.WorkingDirectory = ctx.Service
	}
	if ctx.ToolPreset == "" {
		ctx.ToolPreset = tasksv1alpha1.ToolPresetDefault
	}
	if ctx.ContextVersion < 1 {
		ctx.ContextVersion = 1
	}
	if ctx.PromptMode == "" {
		ctx.PromptMode = tasksv1alpha1.PromptModeAppend
	}
	if ctx.TemplatesRef == "" {
		ctx.TemplatesRef = "main"
	}

	return ctx, nil
}
