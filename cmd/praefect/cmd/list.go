/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/client"

	tasksv1alpha1 "github.com/praefect-ai/Praefect/api/v1alpha1"
)

var listPhase string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long: `List tasks of both kinds in the current namespace.

Examples:
  praefect list
  praefect list --phase Running`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listPhase, "phase", "", "Filter by phase")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	inNS := client.InNamespace(getNamespace())

	var tasks []tasksv1alpha1.TaskObject

	docList := &tasksv1alpha1.DocTaskList{}
	if err := k8sClient.List(ctx, docList, inNS); err != nil {
		return fmt.Errorf("failed to list doc tasks: %w", err)
	}
	for i := range docList.Items {
		tasks = append(tasks, &docList.Items[i])
	}

	codeList := &tasksv1alpha1.CodeTaskList{}
	if err := k8sClient.List(ctx, codeList, inNS); err != nil {
		return fmt.Errorf("failed to list code tasks: %w", err)
	}
	for i := range codeList.Items {
		tasks = append(tasks, &codeList.Items[i])
	}

	if listPhase != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if string(t.TaskStatus().Phase) == listPhase {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	if outputFormat == "json" {
		var items []map[string]interface{}
		for _, t := range tasks {
			items = append(items, map[string]interface{}{
				"name":     t.GetName(),
				"kind":     t.TaskKind(),
				"service":  t.Common().Service,
				"phase":    t.TaskStatus().Phase,
				"attempts": t.TaskStatus().Attempts,
				"age":      time.Since(t.GetCreationTimestamp().Time).Round(time.Second).String(),
			})
		}
		data, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(tasks) == 0 {
		fmt.Printf("No tasks found in namespace '%s'\n", getNamespace())
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tKIND\tSERVICE\tPHASE\tATTEMPTS\tAGE")
	for _, t := range tasks {
		status := t.TaskStatus()
		phase := status.Phase
		if phase == "" {
			phase = "Unknown"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			t.GetName(), t.TaskKind(), t.Common().Service, phase, status.Attempts,
			formatTaskAge(t.GetCreationTimestamp().Time))
	}
	return w.Flush()
}

func formatTaskAge(t time.Time) string {
	d := time.Since(t)
	if d.Hours() >= 24 {
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
	if d.Hours() >= 1 {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	if d.Minutes() >= 1 {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
