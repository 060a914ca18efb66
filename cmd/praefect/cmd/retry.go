/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	tasksv1alpha1 "github.com/praefect-ai/Praefect/api/v1alpha1"
)

var (
	retryPrompt     string
	retryPromptMode string
	retryResume     bool
	retryOverwrite  bool
)

var retryCmd = &cobra.Command{
	Use:   "retry <task-name>",
	Short: "Retry a failed task",
	Long: `Retry a failed task by bumping its context version. The operator
launches a new attempt with a fresh configuration bundle.

Examples:
  praefect retry my-task
  praefect retry my-task --prompt "Also handle the empty-input case" --resume
  praefect retry my-task --overwrite-memory`,
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

func init() {
	retryCmd.Flags().StringVarP(&retryPrompt, "prompt", "p", "", "New prompt modification text")
	retryCmd.Flags().StringVar(&retryPromptMode, "prompt-mode", "", "How to apply --prompt: append or replace")
	retryCmd.Flags().BoolVar(&retryResume, "resume", false, "Resume the previous agent session")
	retryCmd.Flags().BoolVar(&retryOverwrite, "overwrite-memory", false, "Regenerate agent memory instead of carrying it forward")
	rootCmd.AddCommand(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	task, err := fetchTask(ctx, args[0])
	if err != nil {
		return err
	}

	if task.TaskStatus().Phase != tasksv1alpha1.TaskPhaseFailed {
		return fmt.Errorf("task %q is %s; only Failed tasks can be retried",
			task.GetName(), task.TaskStatus().Phase)
	}

	spec := task.Common()
	spec.ContextVersion++
	if cmd.Flags().Changed("prompt") {
		spec.PromptModification = retryPrompt
	}
	if cmd.Flags().Changed("prompt-mode") {
		spec.PromptMode = tasksv1alpha1.PromptMode(retryPromptMode)
	}
	if cmd.Flags().Changed("resume") {
		spec.ResumeSession = retryResume
	}
	if cmd.Flags().Changed("overwrite-memory") {
		spec.OverwriteMemory = retryOverwrite
	}

	if err := k8sClient.Update(ctx, task); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	fmt.Printf("Task '%s' re-armed with context version %d (attempt %d will follow)\n",
		task.GetName(), spec.ContextVersion, task.TaskStatus().Attempts+1)
	return nil
}
