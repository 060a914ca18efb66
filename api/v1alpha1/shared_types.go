/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// TaskPhase represents the current phase of a task resource.
type TaskPhase string

const (
	TaskPhasePending     TaskPhase = "Pending"
	TaskPhaseRunning     TaskPhase = "Running"
	TaskPhaseSucceeded   TaskPhase = "Succeeded"
	TaskPhaseFailed      TaskPhase = "Failed"
	TaskPhaseTerminating TaskPhase = "Terminating"
)

// TaskKind identifies which of the two task variants a resource is.
type TaskKind string

const (
	TaskKindDoc  TaskKind = "doc-task"
	TaskKindCode TaskKind = "code-task"
)

// PromptMode controls how promptModification is combined with the base prompt.
type PromptMode string

const (
	PromptModeAppend  PromptMode = "append"
	PromptModeReplace PromptMode = "replace"
)

// ToolPreset names a configured tool allow-list preset.
type ToolPreset string

const (
	ToolPresetMinimal  ToolPreset = "minimal"
	ToolPresetDefault  ToolPreset = "default"
	ToolPresetAdvanced ToolPreset = "advanced"
)

// SecretEnvVar injects an environment variable from a Kubernetes Secret.
// The operator never resolves the value; only the reference is placed on
// the launched job.
type SecretEnvVar struct {
	// Name of the environment variable.
	// +kubebuilder:validation:Required
	Name string `json:"name"`

	// SecretName is the name of the secret.
	// +kubebuilder:validation:Required
	SecretName string `json:"secretName"`

	// SecretKey is the key within the secret.
	// +kubebuilder:validation:Required
	SecretKey string `json:"secretKey"`
}

// WorkspaceSpec configures the persistent workspace claim for code tasks.
type WorkspaceSpec struct {
	// Size is the workspace PVC size (e.g. "10Gi").
	// +kubebuilder:default="10Gi"
	// +optional
	Size string `json:"size,omitempty"`

	// StorageClass is the Kubernetes storage class name.
	// +optional
	StorageClass string `json:"storageClass,omitempty"`

	// CleanupOnDelete removes the workspace PVC when the task is deleted.
	// Default is to retain it, since the claim is shared per service and
	// carries agent memory across attempts.
	// +kubebuilder:default=false
	// +optional
	CleanupOnDelete bool `json:"cleanupOnDelete,omitempty"`
}

// TaskSpecCommon is the field set shared by both task kinds. Downstream
// code never touches the concrete kinds directly; it goes through the
// TaskObject interface and the normalized task context.
type TaskSpecCommon struct {
	// Service is the target service name.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Service string `json:"service"`

	// RepositoryURL is the source repository the agent works against.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	RepositoryURL string `json:"repositoryUrl"`

	// Branch is the base branch to start from.
	// +kubebuilder:default="main"
	// +optional
	Branch string `json:"branch,omitempty"`

	// WorkingDirectory within the repository. Defaults to the service name.
	// +optional
	WorkingDirectory string `json:"workingDirectory,omitempty"`

	// GitUser is the committing identity; it also selects the credential
	// secrets mounted into the job.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	GitUser string `json:"gitUser"`

	// Model selects the agent behavior model.
	// +optional
	Model string `json:"model,omitempty"`

	// ToolPreset selects a configured tool allow-list.
	// +kubebuilder:validation:Enum=minimal;default;advanced
	// +kubebuilder:default=default
	// +optional
	ToolPreset ToolPreset `json:"toolPreset,omitempty"`

	// Tools is an explicit tool allow-list merged on top of the preset.
	// +optional
	Tools []string `json:"tools,omitempty"`

	// ContextVersion is bumped by the submitter to signal new instructions
	// and trigger a new attempt after a failure.
	// +kubebuilder:default=1
	// +kubebuilder:validation:Minimum=1
	// +optional
	ContextVersion int `json:"contextVersion,omitempty"`

	// PromptModification is free text combined with the base prompt
	// according to PromptMode.
	// +optional
	PromptModification string `json:"promptModification,omitempty"`

	// PromptMode is how PromptModification is applied: appended to the
	// base prompt, or replacing it entirely.
	// +kubebuilder:validation:Enum=append;replace
	// +kubebuilder:default=append
	// +optional
	PromptMode PromptMode `json:"promptMode,omitempty"`

	// ResumeSession resumes the previous agent session on attempts after
	// the first. Attempt 1 always starts fresh.
	// +kubebuilder:default=false
	// +optional
	ResumeSession bool `json:"resumeSession,omitempty"`

	// OverwriteMemory regenerates the agent memory file instead of
	// carrying it forward from workspace storage.
	// +kubebuilder:default=false
	// +optional
	OverwriteMemory bool `json:"overwriteMemory,omitempty"`

	// TemplatesRef is the branch/ref of the shared template repository.
	// +kubebuilder:default="main"
	// +optional
	TemplatesRef string `json:"templatesRef,omitempty"`

	// Env is extra environment variables for the agent container.
	// +optional
	Env map[string]string `json:"env,omitempty"`

	// EnvFromSecrets is extra environment variables sourced from secrets.
	// +optional
	EnvFromSecrets []SecretEnvVar `json:"envFromSecrets,omitempty"`
}

// AttemptRecord tracks one execution attempt. Records are append-only and
// keyed by attempt number.
type AttemptRecord struct {
	// Attempt number (1-indexed).
	Attempt int `json:"attempt"`

	// ContextVersion in effect for this attempt.
	ContextVersion int `json:"contextVersion"`

	// JobName of the attempt's job.
	// +optional
	JobName string `json:"jobName,omitempty"`

	// BundleName of the attempt's configuration bundle.
	// +optional
	BundleName string `json:"bundleName,omitempty"`

	// StartTime of this attempt.
	// +optional
	StartTime *metav1.Time `json:"startTime,omitempty"`

	// EndTime of this attempt.
	// +optional
	EndTime *metav1.Time `json:"endTime,omitempty"`

	// Reason for the attempt outcome.
	// +optional
	Reason string `json:"reason,omitempty"`
}

// TaskStatus is the observed state shared by both task kinds. It is
// mutated only by the operator.
type TaskStatus struct {
	// Phase is the current lifecycle phase.
	// +kubebuilder:validation:Enum=Pending;Running;Succeeded;Failed;Terminating
	// +optional
	Phase TaskPhase `json:"phase,omitempty"`

	// Attempts is the number of execution attempts so far.
	// +optional
	Attempts int `json:"attempts,omitempty"`

	// JobName is the job of the current attempt.
	// +optional
	JobName string `json:"jobName,omitempty"`

	// BundleName is the configuration bundle of the current attempt.
	// +optional
	BundleName string `json:"bundleName,omitempty"`

	// SessionID identifies the agent session carried across resumed attempts.
	// +optional
	SessionID string `json:"sessionId,omitempty"`

	// ContextVersion last reconciled into an attempt. A spec contextVersion
	// above this value re-arms a Failed task.
	// +optional
	ContextVersion int `json:"contextVersion,omitempty"`

	// Reason is the machine-readable error kind when Phase is Failed.
	// +optional
	Reason string `json:"reason,omitempty"`

	// Message provides human-readable status information.
	// +optional
	Message string `json:"message,omitempty"`

	// StartedAt is when the current attempt's job was submitted.
	// +optional
	StartedAt *metav1.Time `json:"startedAt,omitempty"`

	// CompletedAt is when the task reached a terminal phase.
	// +optional
	CompletedAt *metav1.Time `json:"completedAt,omitempty"`

	// History records each execution attempt, append-only.
	// +optional
	History []AttemptRecord `json:"history,omitempty"`

	// Conditions represent the latest available observations.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// TaskObject is the capability set both task kinds expose. The reconciler,
// builders and CLI are written once against this interface; kind-specific
// choices flow through TaskKind and the normalized task context, never
// through type switches.
type TaskObject interface {
	metav1.Object
	runtime.Object

	// TaskKind reports which variant this resource is.
	TaskKind() TaskKind

	// Common returns the shared spec field set.
	Common() *TaskSpecCommon

	// TaskStatus returns the mutable status block.
	TaskStatus() *TaskStatus

	// WorkspaceConfig returns the persistent workspace configuration, or
	// nil for kinds that run on ephemeral storage.
	WorkspaceConfig() *WorkspaceSpec

	// ProjectDirectory returns the docs project directory, or "" for
	// kinds without one.
	ProjectDirectory() string
}
