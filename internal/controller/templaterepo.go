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
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/praefect-ai/Praefect/internal/templates"
)

// TemplateRepo resolves template source text by logical name, e.g.
// "code/prompt.md.tmpl". A mounted override directory is consulted first;
// ConfigMap mounts flatten paths, so "code/prompt.md.tmpl" is looked up as
// "code_prompt.md.tmpl" there. The compiled-in defaults are the fallback.
type TemplateRepo struct {
	dir string

	mu    sync.RWMutex
	cache map[string]string
}

// NewTemplateRepo creates a repo. dir may be "" to use only the embedded
// defaults.
func NewTemplateRepo(dir string) *TemplateRepo {
	return &TemplateRepo{dir: dir, cache: map[string]string{}}
}

// flattenKey maps a logical template name to its ConfigMap key.
func flattenKey(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}

// Lookup returns the template source for name.
func (r *TemplateRepo) Lookup(name string) (string, error) {
	r.mu.RLock()
	if src, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return src, nil
	}
	r.mu.RUnlock()

	src, err := r.load(name)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[name] = src
	r.mu.Unlock()
	return src, nil
}

func (r *TemplateRepo) load(name string) (string, error) {
	if r.dir != "" {
		data, err := os.ReadFile(filepath.Join(r.dir, flattenKey(name)))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read template override %s: %w", name, err)
		}
	}
	data, err := templates.FS.ReadFile(templates.Root + "/" + name)
	if err != nil {
		return "", reconcileErrorf(ReasonTemplateError, "unknown template %s", name)
	}
	return string(data), nil
}

// Invalidate drops the cache; the next Lookup re-reads sources.
func (r *TemplateRepo) Invalidate() {
	r.mu.Lock()
	r.cache = map[string]string{}
	r.mu.Unlock()
}

// Start watches the override directory and invalidates the cache when the
// kubelet swaps the mount. No-op when no directory is configured.
// Implements manager.Runnable.
func (r *TemplateRepo) Start(ctx context.Context) error {
	if r.dir == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("template watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("watch template dir: %w", err)
	}

	logger := log.Log.WithName("templates")
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			r.Invalidate()
			logger.V(1).Info("template cache invalidated")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error(err, "template watcher error")
		}
	}
}
