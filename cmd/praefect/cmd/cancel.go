/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-name>",
	Short: "Cancel a task",
	Long: `Cancel a task by deleting it. The operator tears down the attempt's
job and bundle; the per-service workspace claim is preserved unless the
task's workspace spec asked for cleanup.

Examples:
  praefect cancel my-task`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	task, err := fetchTask(ctx, args[0])
	if err != nil {
		return err
	}

	if err := k8sClient.Delete(ctx, task); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	fmt.Printf("Task '%s' deleted\n", task.GetName())
	return nil
}
