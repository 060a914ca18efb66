/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	tasksv1alpha1 "github.com/praefect-ai/Praefect/api/v1alpha1"
)

var (
	submitService    string
	submitRepo       string
	submitBranch     string
	submitWorkdir    string
	submitGitUser    string
	submitModel      string
	submitToolPreset string
	submitTools      []string
	submitPrompt     string
	submitPromptMode string
	submitDocsDir    string
	submitWait       bool
)

var submitCmd = &cobra.Command{
	Use:   "submit {doc|code} [task-name]",
	Short: "Submit a new task",
	Long: `Submit a documentation or code task.

Examples:
  praefect submit code fix-timeouts --service billing --repo https://git.example.com/org/billing --git-user agent-bot
  praefect submit doc document-api --service billing --repo git@git.example.com:org/billing.git --git-user agent-bot --docs-dir docs
  praefect submit code refactor --service billing --repo https://git.example.com/org/billing --git-user agent-bot --prompt "Focus on the retry layer" --wait`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitService, "service", "", "Target service name (required)")
	submitCmd.Flags().StringVar(&submitRepo, "repo", "", "Repository URL (required)")
	submitCmd.Flags().StringVar(&submitBranch, "branch", "", "Base branch (default main)")
	submitCmd.Flags().StringVar(&submitWorkdir, "workdir", "", "Working directory within the repository (defaults to service)")
	submitCmd.Flags().StringVar(&submitGitUser, "git-user", "", "Committing git identity (required)")
	submitCmd.Flags().StringVarP(&submitModel, "model", "m", "", "Agent model")
	submitCmd.Flags().StringVar(&submitToolPreset, "tool-preset", "", "Tool preset: minimal, default, advanced")
	submitCmd.Flags().StringSliceVar(&submitTools, "tools", nil, "Explicit tool allow-list")
	submitCmd.Flags().StringVarP(&submitPrompt, "prompt", "p", "", "Prompt modification text")
	submitCmd.Flags().StringVar(&submitPromptMode, "prompt-mode", "", "How to apply --prompt: append or replace")
	submitCmd.Flags().StringVar(&submitDocsDir, "docs-dir", "", "Documentation project directory (doc tasks)")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "Wait for the task to reach a terminal phase")
	_ = submitCmd.MarkFlagRequired("service")
	_ = submitCmd.MarkFlagRequired("repo")
	_ = submitCmd.MarkFlagRequired("git-user")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	kind := args[0]
	name := ""
	if len(args) > 1 {
		name = args[1]
	}
	if name == "" {
		name = fmt.Sprintf("%s-%s-%d", kind, submitService, time.Now().Unix())
	}

	common := tasksv1alpha1.TaskSpecCommon{
		Service:            submitService,
		RepositoryURL:      submitRepo,
		Branch:             submitBranch,
		WorkingDirectory:   submitWorkdir,
		GitUser:            submitGitUser,
		Model:              submitModel,
		ToolPreset:         tasksv1alpha1.ToolPreset(submitToolPreset),
		Tools:              submitTools,
		ContextVersion:     1,
		PromptModification: submitPrompt,
		PromptMode:         tasksv1alpha1.PromptMode(submitPromptMode),
	}
	meta := metav1.ObjectMeta{Name: name, Namespace: getNamespace()}

	var task tasksv1alpha1.TaskObject
	switch kind {
	case "code":
		task = &tasksv1alpha1.CodeTask{ObjectMeta: meta, Spec: tasksv1alpha1.CodeTaskSpec{TaskSpecCommon: common}}
	case "doc":
		task = &tasksv1alpha1.DocTask{ObjectMeta: meta, Spec: tasksv1alpha1.DocTaskSpec{
			TaskSpecCommon:       common,
			DocsProjectDirectory: submitDocsDir,
		}}
	default:
		return fmt.Errorf("unknown task kind %q: use doc or code", kind)
	}

	if err := k8sClient.Create(ctx, task); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	fmt.Printf("Task '%s' created in namespace '%s'\n", name, getNamespace())

	if !submitWait {
		fmt.Printf("\nUse 'praefect status %s' to check progress\n", name)
		return nil
	}

	fmt.Println("\nWaiting for task to finish...")
	return waitForTask(ctx, name)
}

func waitForTask(ctx context.Context, name string) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			task, err := fetchTask(ctx, name)
			if err != nil {
				return err
			}
			status := task.TaskStatus()
			switch status.Phase {
			case tasksv1alpha1.TaskPhaseSucceeded:
				fmt.Println("Task succeeded")
				return nil
			case tasksv1alpha1.TaskPhaseFailed:
				return fmt.Errorf("task failed: %s: %s", status.Reason, status.Message)
			case tasksv1alpha1.TaskPhaseRunning:
				fmt.Printf("  Running... (attempt %d, job %s)\n", status.Attempts, status.JobName)
			default:
				fmt.Println("  Pending...")
			}
		}
	}
}
