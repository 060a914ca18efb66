/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// CodeTaskSpec defines the desired state of a code implementation task.
type CodeTaskSpec struct {
	TaskSpecCommon `json:",inline"`

	// Workspace configures the persistent per-service workspace claim.
	// +optional
	Workspace *WorkspaceSpec `json:"workspace,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=ct
// +kubebuilder:printcolumn:name="Service",type=string,JSONPath=`.spec.service`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Attempts",type=integer,JSONPath=`.status.attempts`
// +kubebuilder:printcolumn:name="Session",type=string,JSONPath=`.status.sessionId`,priority=1
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// CodeTask is the Schema for the codetasks API.
type CodeTask struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   CodeTaskSpec `json:"spec,omitempty"`
	Status TaskStatus   `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// CodeTaskList contains a list of CodeTask.
type CodeTaskList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []CodeTask `json:"items"`
}

func (t *CodeTask) TaskKind() TaskKind { return TaskKindCode }
func (t *CodeTask) Common() *TaskSpecCommon { return &t.Spec.TaskSpecCommon }
func (t *CodeTask) TaskStatus() *TaskStatus { return &t.Status }
func (t *CodeTask) WorkspaceConfig() *WorkspaceSpec { return t.Spec.Workspace }
func (t *CodeTask) ProjectDirectory() string { return "" }

func init() {
	SchemeBuilder.Register(&CodeTask{}, &CodeTaskList{})
}
