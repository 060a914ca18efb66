/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

// Package v1alpha1 contains API Schema definitions for the tasks v1alpha1 API group.
// +kubebuilder:object:generate=true
// +groupName=tasks.praefect.dev
package v1alpha1

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/scheme"
)

var (
	// GroupVersion is group version used to register these objects.
	GroupVersion = schema.GroupVersion{Group: "tasks.praefect.dev", Version: "v1alpha1"}

	// SchemeBuilder is used to add go types to the GroupVersionKind scheme.
	SchemeBuilder = &scheme.Builder{GroupVersion: GroupVersion}

	// AddToScheme adds the types in this group-version to the given scheme.
	AddToScheme = SchemeBuilder.AddToScheme
)
