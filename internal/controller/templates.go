/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package controller

import (
	"bytes"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	tasksv1alpha1 "github.com/praefect-ai/Praefect/api/v1alpha1"
)

// Bundle artifact keys. The set is fixed; consumers mount the bundle and
// address files by these names.
const (
	KeyMemory             = "memory"
	KeyPermissionSettings = "permission-settings"
	KeyToolServerManifest = "tool-server-manifest"
	KeyCodingGuidelines   = "coding-guidelines"
	KeyWorkflowGuidelines = "workflow-guidelines"
	KeyHookPreCheck       = "hook-pre-check"
	KeyHookPostCompletion = "hook-post-completion"
	KeyPrompt             = "prompt"
)

// verificationDirective closes every prompt, including replaced ones.
const verificationDirective = "Before declaring the task complete, verify your work: " +
	"run the project's build and tests where they exist, confirm the requested " +
	"changes are actually present in the working tree, and state anything you " +
	"could not verify."

// TemplateData is the single input shape for all artifact templates.
// Fields are resolved, never empty-with-meaning: templates render with
// missingkey=error, so an unknown field is a TemplateError, not silence.
type TemplateData struct {
	Kind      string
	IsCode    bool
	TaskName  string
	Namespace string

	Service              string
	RepositoryURL        string
	Branch               string
	TaskBranch           string
	WorkingDirectory     string
	DocsProjectDirectory string
	GitUser              string
	Model                string

	Attempt        int
	ContextVersion int
	SessionID      string
	FreshSession   bool
	RenderMemory   bool

	Tools              []string
	PromptModification string
	TemplatesRef       string
}

// TemplateEngine renders the bundle artifacts and the startup script.
// Rendering is deterministic: same data, same output bytes.
type TemplateEngine struct {
	repo *TemplateRepo
	cfg  *ControllerConfig
}

func NewTemplateEngine(repo *TemplateRepo, cfg *ControllerConfig) *TemplateEngine {
	return &TemplateEngine{repo: repo, cfg: cfg}
}

// BuildTemplateData resolves the template input from a task context and an
// attempt state. Tool resolution merges the preset list with the explicit
// allow-list, applies the cluster deny list and sorts the result.
func (e *TemplateEngine) BuildTemplateData(taskCtx *TaskContext, attempt AttemptState) TemplateData {
	model := taskCtx.Model
	if model == "" {
		model = e.cfg.Agent.DefaultModel
	}

	return TemplateData{
		Kind:      string(taskCtx.Kind),
		IsCode:    taskCtx.IsCode(),
		TaskName:  taskCtx.Name,
		Namespace: taskCtx.Namespace,

		Service:              taskCtx.Service,
		RepositoryURL:        taskCtx.RepositoryURL,
		Branch:               taskCtx.Branch,
		TaskBranch:           "task/" + taskCtx.Name,
		WorkingDirectory:     taskCtx.WorkingDirectory,
		DocsProjectDirectory: taskCtx.DocsProjectDirectory,
		GitUser:              taskCtx.GitUser,
		Model:                model,

		Attempt:        attempt.Number,
		ContextVersion: attempt.ContextVersion,
		SessionID:      attempt.SessionID,
		FreshSession:   attempt.FreshSession,
		RenderMemory:   attempt.RenderMemory,

		Tools:              e.resolveTools(taskCtx),
		PromptModification: taskCtx.PromptModification,
		TemplatesRef:       taskCtx.TemplatesRef,
	}
}

func (e *TemplateEngine) resolveTools(taskCtx *TaskContext) []string {
	allowed := map[string]bool{}
	for _, t := range e.cfg.Tools.Presets[string(taskCtx.ToolPreset)] {
		allowed[t] = true
	}
	for _, t := range taskCtx.Tools {
		allowed[t] = true
	}
	for _, t := range e.cfg.Tools.Deny {
		delete(allowed, t)
	}

	tools := make([]string, 0, len(allowed))
	for t := range allowed {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	return tools
}

// Render executes one named template against data.
func (e *TemplateEngine) Render(name string, data TemplateData) (string, error) {
	src, err := e.repo.Lookup(name)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(src)
	if err != nil {
		return "", reconcileErrorf(ReasonTemplateError, "parse %s: %v", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", reconcileErrorf(ReasonTemplateError, "render %s: %v", name, err)
	}
	return buf.String(), nil
}

// RenderPrompt composes the effective prompt, always closed with the
// verification directive. In replace mode the modification is the entire
// body and the base template is never rendered, so a broken base template
// cannot fail a replace-mode attempt.
func (e *TemplateEngine) RenderPrompt(data TemplateData, mode tasksv1alpha1.PromptMode) (string, error) {
	var prompt string
	if mode == tasksv1alpha1.PromptModeReplace {
		prompt = data.PromptModification
	} else {
		name := "docs/prompt.md.tmpl"
		if data.IsCode {
			name = "code/prompt.md.tmpl"
		}
		base, err := e.Render(name, data)
		if err != nil {
			return "", err
		}
		prompt = base
		if data.PromptModification != "" {
			prompt = strings.TrimRight(base, "\n") + "\n\n" + data.PromptModification
		}
	}

	return strings.TrimRight(prompt, "\n") + "\n\n" + verificationDirective + "\n", nil
}

// RenderArtifacts renders the full bundle key set for one attempt. The
// memory key is present only when the attempt state says to render it.
func (e *TemplateEngine) RenderArtifacts(taskCtx *TaskContext, attempt AttemptState) (map[string]string, error) {
	data := e.BuildTemplateData(taskCtx, attempt)

	artifacts := map[string]string{}
	for key, name := range map[string]string{
		KeyPermissionSettings: "permission-settings.json.tmpl",
		KeyToolServerManifest: "tool-server-manifest.json.tmpl",
		KeyCodingGuidelines:   "coding-guidelines.md.tmpl",
		KeyWorkflowGuidelines: "workflow-guidelines.md.tmpl",
		KeyHookPreCheck:       "hook-pre-check.sh.tmpl",
		KeyHookPostCompletion: "hook-post-completion.sh.tmpl",
	} {
		out, err := e.Render(name, data)
		if err != nil {
			return nil, err
		}
		artifacts[key] = out
	}

	if attempt.RenderMemory {
		out, err := e.Render("memory.md.tmpl", data)
		if err != nil {
			return nil, err
		}
		artifacts[KeyMemory] = out
	}

	prompt, err := e.RenderPrompt(data, taskCtx.PromptMode)
	if err != nil {
		return nil, err
	}
	artifacts[KeyPrompt] = prompt

	return artifacts, nil
}

// RenderStartupScript renders the container entry script for one attempt.
func (e *TemplateEngine) RenderStartupScript(taskCtx *TaskContext, attempt AttemptState) (string, error) {
	return e.Render("startup.sh.tmpl", e.BuildTemplateData(taskCtx, attempt))
}
