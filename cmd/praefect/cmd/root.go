/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	tasksv1alpha1 "github.com/praefect-ai/Praefect/api/v1alpha1"
)

var (
	// kubeconfig is the path to the kubeconfig file
	kubeconfig string
	// namespace is the target namespace
	namespace string
	// outputFormat is the output format (json, table)
	outputFormat string

	k8sClient client.Client
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "praefect",
	Short: "CLI for Praefect - declarative agent tasks on Kubernetes",
	Long: `Praefect runs documentation and code tasks as agent jobs in the cluster.

Examples:
  # Submit a code task
  praefect submit code my-task --service billing --repo https://git.example.com/org/billing --git-user agent-bot

  # Check status
  praefect status my-task

  # Retry a failed task with new instructions
  praefect retry my-task --prompt "Also cover the error paths"

  # List tasks
  praefect list`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: initClient,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&kubeconfig, "kubeconfig", "", "Path to kubeconfig file (defaults to $KUBECONFIG or ~/.kube/config)")
	rootCmd.PersistentFlags().StringVarP(&namespace, "namespace", "n", "", "Target namespace (defaults to current context namespace)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json")
}

func initClient(cmd *cobra.Command, args []string) error {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})

	config, err := kubeConfig.ClientConfig()
	if err != nil {
		return fmt.Errorf("failed to build kubeconfig: %w", err)
	}

	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return err
	}
	if err := tasksv1alpha1.AddToScheme(scheme); err != nil {
		return err
	}

	k8sClient, err = client.New(config, client.Options{Scheme: scheme})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// getNamespace returns the namespace to use, falling back to default
func getNamespace() string {
	if namespace != "" {
		return namespace
	}
	if ns := os.Getenv("PRAEFECT_NAMESPACE"); ns != "" {
		return ns
	}
	return "default"
}

// fetchTask resolves a task by name, trying both kinds.
func fetchTask(ctx context.Context, name string) (tasksv1alpha1.TaskObject, error) {
	key := client.ObjectKey{Namespace: getNamespace(), Name: name}

	code := &tasksv1alpha1.CodeTask{}
	err := k8sClient.Get(ctx, key, code)
	if err == nil {
		return code, nil
	}
	if !errors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	doc := &tasksv1alpha1.DocTask{}
	if err := k8sClient.Get(ctx, key, doc); err != nil {
		if errors.IsNotFound(err) {
			return nil, fmt.Errorf("task %q not found in namespace %q", name, getNamespace())
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return doc, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
