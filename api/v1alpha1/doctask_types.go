/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DocTaskSpec defines the desired state of a documentation task.
type DocTaskSpec struct {
	TaskSpecCommon `json:",inline"`

	// DocsProjectDirectory is the directory of the documentation project
	// within the repository.
	// +optional
	DocsProjectDirectory string `json:"docsProjectDirectory,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=dt
// +kubebuilder:printcolumn:name="Service",type=string,JSONPath=`.spec.service`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Attempts",type=integer,JSONPath=`.status.attempts`
// +kubebuilder:printcolumn:name="Job",type=string,JSONPath=`.status.jobName`,priority=1
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// DocTask is the Schema for the doctasks API.
type DocTask struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   DocTaskSpec `json:"spec,omitempty"`
	Status TaskStatus  `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// DocTaskList contains a list of DocTask.
type DocTaskList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []DocTask `json:"items"`
}

func (t *DocTask) TaskKind() TaskKind { return TaskKindDoc }
func (t *DocTask) Common() *TaskSpecCommon { return &t.Spec.TaskSpecCommon }
func (t *DocTask) TaskStatus() *TaskStatus { return &t.Status }
func (t *DocTask) WorkspaceConfig() *WorkspaceSpec { return nil }
func (t *DocTask) ProjectDirectory() string { return t.Spec.DocsProjectDirectory }

func init() {
	SchemeBuilder.Register(&DocTask{}, &DocTaskList{})
}
