/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package controller

import (
	"fmt"

	"github.com/google/uuid"

	tasksv1alpha1 "github.com/praefect-ai/Praefect/api/v1alpha1"
)

// AttemptState captures every launch-time decision for one execution
// attempt. It is computed once, before any resource is created, so the
// bundle and the job always agree on session and memory handling.
type AttemptState struct {
	// Number is the 1-indexed attempt number.
	Number int

	// ContextVersion in effect for this attempt.
	ContextVersion int

	// FreshSession means the agent starts without resuming a prior
	// session. Attempt 1 is always fresh regardless of spec.resumeSession.
	FreshSession bool

	// SessionID identifies the agent session. Minted on fresh launches,
	// carried from status on resumed ones.
	SessionID string

	// RenderMemory means the bundle ships a freshly rendered memory file.
	// When false the key is omitted and the startup script preserves the
	// copy already in workspace storage.
	RenderMemory bool
}

// ComputeAttemptState derives the next attempt's state from the task
// context and the recorded status.
func ComputeAttemptState(taskCtx *TaskContext, status *tasksv1alpha1.TaskStatus) AttemptState {
	n := status.Attempts + 1

	fresh := true
	if n > 1 && taskCtx.ResumeSession {
		fresh = false
	}

	sessionID := status.SessionID
	if fresh || sessionID == "" {
		sessionID = uuid.NewString()
	}

	return AttemptState{
		Number:         n,
		ContextVersion: taskCtx.ContextVersion,
		FreshSession:   fresh,
		SessionID:      sessionID,
		RenderMemory:   n == 1 || taskCtx.OverwriteMemory,
	}
}

// bundleName is the attempt-scoped ConfigMap name.
func (a AttemptState) bundleName(task string) string {
	return fmt.Sprintf("%s-a%d-bundle", task, a.Number)
}

// jobName is the attempt-scoped Job name.
func (a AttemptState) jobName(task string) string {
	return fmt.Sprintf("%s-a%d", task, a.Number)
}

// record returns the append-only history entry for this attempt.
func (a AttemptState) record(task string) tasksv1alpha1.AttemptRecord {
	return tasksv1alpha1.AttemptRecord{
		Attempt:        a.Number,
		ContextVersion: a.ContextVersion,
		JobName:        a.jobName(task),
		BundleName:     a.bundleName(task),
	}
}
