/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package controller

import (
	"errors"
	"fmt"
)

// Reason strings recorded on status and events when an attempt cannot be
// launched. Errors carrying one of these are fatal for the attempt: the
// task moves to Failed instead of being requeued.
const (
	ReasonInvalidSpec    = "InvalidSpec"
	ReasonTemplateError  = "TemplateError"
	ReasonBundleConflict = "BundleConflict"
	ReasonJobBuildError  = "JobBuildError"
)

// ReconcileError is a build-stage failure with a machine-readable reason.
type ReconcileError struct {
	Reason string
	Err    error
}

func (e *ReconcileError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

// reconcileErrorf wraps err (or a formatted message) with a reason kind.
func reconcileErrorf(reason, format string, args ...any) *ReconcileError {
	return &ReconcileError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// reasonOf extracts the reason kind from err, or "" when err is not a
// build-stage failure.
func reasonOf(err error) string {
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}
