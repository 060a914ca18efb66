/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// DefaultConfigPath is where the operator deployment mounts its ConfigMap.
const DefaultConfigPath = "/config/config.yaml"

// Duration is a time.Duration that unmarshals from YAML strings like
// "45m" or "7d".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := parseDurationString(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// SecretRef points at one key of a Kubernetes secret.
type SecretRef struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// AgentConfig configures the agent container launched per attempt.
type AgentConfig struct {
	Image            string    `yaml:"image"`
	ImagePullPolicy  string    `yaml:"imagePullPolicy"`
	ImagePullSecrets []string  `yaml:"imagePullSecrets"`
	APIKeySecret     SecretRef `yaml:"apiKeySecret"`
	DefaultModel     string    `yaml:"defaultModel"`
}

// ResourceBounds is the agent container's compute envelope.
type ResourceBounds struct {
	RequestsCPU    string `yaml:"requestsCpu"`
	RequestsMemory string `yaml:"requestsMemory"`
	LimitsCPU      string `yaml:"limitsCpu"`
	LimitsMemory   string `yaml:"limitsMemory"`
}

// JobConfig sets per-kind execution deadlines and container resources.
// Docs tasks get a longer deadline since they walk the whole repository.
type JobConfig struct {
	CodeDeadline Duration       `yaml:"codeDeadline"`
	DocsDeadline Duration       `yaml:"docsDeadline"`
	Resources    ResourceBounds `yaml:"resources"`
}

// ToolsConfig maps presets to concrete tool allow-lists and holds the
// cluster-wide deny list applied after any allow-list.
type ToolsConfig struct {
	Presets map[string][]string `yaml:"presets"`
	Deny    []string            `yaml:"deny"`
}

// StorageConfig is the fallback workspace sizing when a task does not
// carry its own workspace block.
type StorageConfig struct {
	WorkspaceSize string `yaml:"workspaceSize"`
	StorageClass  string `yaml:"storageClass"`
}

// CleanupConfig controls delayed garbage collection of terminal attempts.
type CleanupConfig struct {
	Enabled        bool     `yaml:"enabled"`
	SucceededAfter Duration `yaml:"succeededAfter"`
	FailedAfter    Duration `yaml:"failedAfter"`
}

// ControllerConfig is the operator configuration, parsed from a mounted
// YAML file.
type ControllerConfig struct {
	Agent     AgentConfig   `yaml:"agent"`
	Job       JobConfig     `yaml:"job"`
	Tools     ToolsConfig   `yaml:"tools"`
	Storage   StorageConfig `yaml:"storage"`
	Cleanup   CleanupConfig `yaml:"cleanup"`
	Templates struct {
		Dir string `yaml:"dir"`
	} `yaml:"templates"`
}

// Default fills unset fields with working values.
func (c *ControllerConfig) Default() {
	if c.Agent.ImagePullPolicy == "" {
		c.Agent.ImagePullPolicy = "IfNotPresent"
	}
	if c.Job.CodeDeadline.Duration == 0 {
		c.Job.CodeDeadline.Duration = 45 * time.Minute
	}
	if c.Job.DocsDeadline.Duration == 0 {
		c.Job.DocsDeadline.Duration = 90 * time.Minute
	}
	if c.Job.Resources.RequestsCPU == "" {
		c.Job.Resources.RequestsCPU = "100m"
	}
	if c.Job.Resources.RequestsMemory == "" {
		c.Job.Resources.RequestsMemory = "256Mi"
	}
	if c.Job.Resources.LimitsCPU == "" {
		c.Job.Resources.LimitsCPU = "2"
	}
	if c.Job.Resources.LimitsMemory == "" {
		c.Job.Resources.LimitsMemory = "4Gi"
	}
	if c.Tools.Presets == nil {
		c.Tools.Presets = map[string][]string{}
	}
	if _, ok := c.Tools.Presets["minimal"]; !ok {
		c.Tools.Presets["minimal"] = []string{"read", "grep"}
	}
	if _, ok := c.Tools.Presets["default"]; !ok {
		c.Tools.Presets["default"] = []string{"read", "grep", "edit", "bash"}
	}
	if _, ok := c.Tools.Presets["advanced"]; !ok {
		c.Tools.Presets["advanced"] = []string{"read", "grep", "edit", "bash", "web", "mcp"}
	}
	if c.Storage.WorkspaceSize == "" {
		c.Storage.WorkspaceSize = "10Gi"
	}
	if c.Cleanup.SucceededAfter.Duration == 0 {
		c.Cleanup.SucceededAfter.Duration = time.Hour
	}
	if c.Cleanup.FailedAfter.Duration == 0 {
		c.Cleanup.FailedAfter.Duration = 24 * time.Hour
	}
}

// Validate rejects configurations the operator cannot run with.
func (c *ControllerConfig) Validate() error {
	if c.Agent.Image == "" {
		return fmt.Errorf("agent.image is required")
	}
	if c.Job.CodeDeadline.Duration <= 0 || c.Job.DocsDeadline.Duration <= 0 {
		return fmt.Errorf("job deadlines must be positive")
	}
	return nil
}

// LoadConfig parses, defaults and validates the config file at path.
func LoadConfig(path string) (*ControllerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &ControllerConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigLoader serves the current configuration and reloads it when the
// kubelet swaps the mounted ConfigMap.
type ConfigLoader struct {
	path string

	mu      sync.RWMutex
	current *ControllerConfig
}

// NewConfigLoader loads the file once; a failed initial load is fatal.
func NewConfigLoader(path string) (*ConfigLoader, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &ConfigLoader{path: path, current: cfg}, nil
}

// Config returns the currently loaded configuration.
func (l *ConfigLoader) Config() *ControllerConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Start watches the config directory until the context is cancelled.
// Invalid reloads are logged and the previous configuration stays active.
// Implements manager.Runnable.
func (l *ConfigLoader) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: ConfigMap mounts update via symlink swap, which
	// never fires an event on the file path itself.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	logger := log.Log.WithName("config")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			cfg, err := LoadConfig(l.path)
			if err != nil {
				logger.Error(err, "config reload failed, keeping previous")
				continue
			}
			l.mu.Lock()
			l.current = cfg
			l.mu.Unlock()
			logger.Info("configuration reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error(err, "config watcher error")
		}
	}
}
