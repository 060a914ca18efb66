/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <task-name>",
	Short: "Get status of a task",
	Long: `Get the current status of a task (either kind).

Examples:
  praefect status my-task
  praefect status my-task -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	task, err := fetchTask(ctx, args[0])
	if err != nil {
		return err
	}
	status := task.TaskStatus()
	spec := task.Common()

	if outputFormat == "json" {
		result := map[string]interface{}{
			"name":           task.GetName(),
			"namespace":      task.GetNamespace(),
			"kind":           task.TaskKind(),
			"phase":          status.Phase,
			"attempts":       status.Attempts,
			"contextVersion": status.ContextVersion,
			"job":            status.JobName,
			"bundle":         status.BundleName,
			"sessionId":      status.SessionID,
			"message":        status.Message,
			"service":        spec.Service,
		}
		if status.Reason != "" {
			result["reason"] = status.Reason
		}
		if status.StartedAt != nil {
			result["startedAt"] = status.StartedAt.Time
		}
		if status.CompletedAt != nil {
			result["completedAt"] = status.CompletedAt.Time
		}
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Name:       %s\n", task.GetName())
	fmt.Printf("Namespace:  %s\n", task.GetNamespace())
	fmt.Printf("Kind:       %s\n", task.TaskKind())
	fmt.Printf("Phase:      %s\n", status.Phase)
	fmt.Printf("Attempts:   %d\n", status.Attempts)
	fmt.Printf("Message:    %s\n", status.Message)
	if status.Reason != "" {
		fmt.Printf("Reason:     %s\n", status.Reason)
	}
	fmt.Printf("Job:        %s\n", status.JobName)
	fmt.Printf("Bundle:     %s\n", status.BundleName)
	if status.SessionID != "" {
		fmt.Printf("Session:    %s\n", status.SessionID)
	}
	if status.StartedAt != nil {
		fmt.Printf("Started:    %s\n", status.StartedAt.Format(time.RFC3339))
	}
	if status.CompletedAt != nil {
		fmt.Printf("Completed:  %s\n", status.CompletedAt.Format(time.RFC3339))
	}

	fmt.Println("\nSpec:")
	fmt.Printf("  Service:        %s\n", spec.Service)
	fmt.Printf("  Repository:     %s\n", spec.RepositoryURL)
	fmt.Printf("  Git user:       %s\n", spec.GitUser)
	fmt.Printf("  Context ver:    %d\n", spec.ContextVersion)
	if spec.PromptModification != "" {
		fmt.Printf("  Prompt (%s): %s\n", spec.PromptMode, truncate(spec.PromptModification, 60))
	}

	if len(status.History) > 0 {
		fmt.Println("\nAttempts:")
		for _, rec := range status.History {
			line := fmt.Sprintf("  #%d ctx=%d job=%s", rec.Attempt, rec.ContextVersion, rec.JobName)
			if rec.Reason != "" {
				line += " (" + rec.Reason + ")"
			}
			fmt.Println(line)
		}
	}

	return nil
}
