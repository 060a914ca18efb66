/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

// Praefect operator — turns DocTask and CodeTask resources into agent Jobs.
package main

import (
	"flag"
	"os"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	tasksv1alpha1 "github.com/praefect-ai/Praefect/api/v1alpha1"
	"github.com/praefect-ai/Praefect/internal/controller"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(tasksv1alpha1.AddToScheme(scheme))
}

func main() {
	var (
		metricsAddr          = flag.String("metrics-bind-address", ":8080", "Metrics endpoint bind address")
		probeAddr            = flag.String("health-probe-bind-address", ":8081", "Health probe bind address")
		enableLeaderElection = flag.Bool("leader-elect", false, "Enable leader election for controller manager")
		configPath           = flag.String("config", controller.DefaultConfigPath, "Path to the mounted operator config file")
	)
	opts := zap.Options{}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	loader, err := controller.NewConfigLoader(*configPath)
	if err != nil {
		setupLog.Error(err, "unable to load operator config", "path", *configPath)
		os.Exit(1)
	}
	templates := controller.NewTemplateRepo(loader.Config().Templates.Dir)

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: *metricsAddr},
		HealthProbeBindAddress: *probeAddr,
		LeaderElection:         *enableLeaderElection,
		LeaderElectionID:       "operator.tasks.praefect.dev",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	if err := mgr.Add(loader); err != nil {
		setupLog.Error(err, "unable to add config loader")
		os.Exit(1)
	}
	if err := mgr.Add(templates); err != nil {
		setupLog.Error(err, "unable to add template watcher")
		os.Exit(1)
	}

	docReconciler := &controller.TaskReconciler{
		Client:    mgr.GetClient(),
		Scheme:    mgr.GetScheme(),
		Recorder:  mgr.GetEventRecorderFor("praefect-doctask"),
		Loader:    loader,
		Templates: templates,
		NewTask:   func() tasksv1alpha1.TaskObject { return &tasksv1alpha1.DocTask{} },
	}
	if err := docReconciler.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "DocTask")
		os.Exit(1)
	}

	codeReconciler := &controller.TaskReconciler{
		Client:    mgr.GetClient(),
		Scheme:    mgr.GetScheme(),
		Recorder:  mgr.GetEventRecorderFor("praefect-codetask"),
		Loader:    loader,
		Templates: templates,
		NewTask:   func() tasksv1alpha1.TaskObject { return &tasksv1alpha1.CodeTask{} },
	}
	if err := codeReconciler.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "CodeTask")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
