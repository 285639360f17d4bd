// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package ctxengine

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// configSchema enforces the bound table for context_management. Bounds
// are part of the on-disk contract, not tunables.
const configSchema = `{
  "type": "object",
  "required": ["context_management"],
  "properties": {
    "context_management": {
      "type": "object",
      "properties": {
        "optimization_interval": {"type": "number", "minimum": 5, "maximum": 300},
        "embedding": {
          "type": "object",
          "properties": {
            "chunk_size": {"type": "number", "minimum": 100, "maximum": 3000},
            "chunk_overlap": {"type": "number", "minimum": 0, "maximum": 1000}
          }
        },
        "search": {
          "type": "object",
          "properties": {
            "bm25": {
              "type": "object",
              "properties": {
                "k1": {"type": "number", "minimum": 0.1, "maximum": 5.0},
                "b": {"type": "number", "minimum": 0.1, "maximum": 1.0}
              }
            }
          }
        },
        "summarization": {
          "type": "object",
          "properties": {
            "threshold": {"type": "number", "minimum": 500, "maximum": 5000},
            "compression_ratio": {"type": "number", "minimum": 0.1, "maximum": 0.9}
          }
        },
        "importance_scoring": {
          "type": "object",
          "properties": {
            "code_weight": {"type": "number", "minimum": 0.1, "maximum": 2.0},
            "comment_weight": {"type": "number", "minimum": 0.1, "maximum": 2.0},
            "metadata_weight": {"type": "number", "minimum": 0.1, "maximum": 2.0},
            "framework_weight": {"type": "number", "minimum": 0.1, "maximum": 2.0}
          }
        }
      }
    }
  }
}`

// defaultTemplate builds the baseline configuration every merge starts
// from.
func defaultTemplate() map[string]any {
	return map[string]any{
		"context_management": map[string]any{
			"enabled":               true,
			"background_enabled":    true,
			"optimization_interval": 60,
			"embedding": map[string]any{
				"chunk_size":    1000,
				"chunk_overlap": 200,
			},
			"search": map[string]any{
				"bm25": map[string]any{"k1": 1.2, "b": 0.75},
			},
			"summarization": map[string]any{
				"threshold":         2000,
				"compression_ratio": 0.5,
			},
			"importance_scoring": map[string]any{
				"code_weight":      1.0,
				"comment_weight":   0.8,
				"metadata_weight":  0.7,
				"framework_weight": 0.9,
			},
		},
	}
}

// builtinTemplates is the closed named template set. Each entry is a
// partial overlay deep-merged over default.
func builtinTemplates() map[string]map[string]any {
	cm := func(inner map[string]any) map[string]any {
		return map[string]any{"context_management": inner}
	}
	return map[string]map[string]any{
		"default": defaultTemplate(),
		"small": cm(map[string]any{
			"optimization_interval": 120,
			"embedding":             map[string]any{"chunk_size": 800, "chunk_overlap": 150},
			"summarization":         map[string]any{"threshold": 1500},
		}),
		"large": cm(map[string]any{
			"optimization_interval": 30,
			"embedding":             map[string]any{"chunk_size": 1200, "chunk_overlap": 250},
			"summarization":         map[string]any{"threshold": 2500, "compression_ratio": 0.4},
		}),
		"web_frontend": cm(map[string]any{
			"embedding":          map[string]any{"chunk_size": 800, "chunk_overlap": 250},
			"importance_scoring": map[string]any{"code_weight": 1.1, "framework_weight": 1.2},
		}),
		"web_backend": cm(map[string]any{
			"embedding":          map[string]any{"chunk_size": 1200},
			"search":             map[string]any{"bm25": map[string]any{"k1": 1.5}},
			"importance_scoring": map[string]any{"code_weight": 1.2},
		}),
		"data_science": cm(map[string]any{
			"embedding":     map[string]any{"chunk_size": 1500, "chunk_overlap": 300},
			"summarization": map[string]any{"threshold": 2500},
		}),
		"cli_tool": cm(map[string]any{
			"embedding":          map[string]any{"chunk_size": 900},
			"importance_scoring": map[string]any{"code_weight": 1.1},
		}),
		"library": cm(map[string]any{
			"embedding":          map[string]any{"chunk_size": 1100},
			"importance_scoring": map[string]any{"comment_weight": 1.0},
		}),
		"python": cm(map[string]any{
			"embedding": map[string]any{"chunk_size": 900},
		}),
		"javascript": cm(map[string]any{
			"embedding": map[string]any{"chunk_size": 950},
		}),
		"typescript": cm(map[string]any{
			"embedding": map[string]any{"chunk_size": 950},
			"search":    map[string]any{"bm25": map[string]any{"k1": 1.3}},
		}),
		"java": cm(map[string]any{
			"embedding":     map[string]any{"chunk_size": 1200},
			"summarization": map[string]any{"threshold": 2500},
		}),
		"csharp": cm(map[string]any{
			"embedding":     map[string]any{"chunk_size": 1200},
			"summarization": map[string]any{"threshold": 2500},
		}),
	}
}

// ConfigTemplateManager holds the closed set of named configuration
// templates and validates any configuration against the bound
// schema.
type ConfigTemplateManager struct {
	mu        sync.RWMutex
	templates map[string]map[string]any
	schema    *gojsonschema.Schema
	log       *zap.Logger
}

// NewConfigTemplateManager constructs the manager with the built-in
// template set loaded.
func NewConfigTemplateManager(log *zap.Logger) *ConfigTemplateManager {
	if log == nil {
		log = zap.NewNop()
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(configSchema))
	if err != nil {
		// The schema is a compile-time constant; a parse failure is a
		// programming error, not a runtime condition.
		panic(fmt.Sprintf("ctxengine: invalid config schema: %v", err))
	}
	return &ConfigTemplateManager{
		templates: builtinTemplates(),
		schema:    schema,
		log:       log,
	}
}

// GetDefault returns a deep copy of the default template.
func (c *ConfigTemplateManager) GetDefault() map[string]any {
	return defaultTemplate()
}

// Get returns a deep copy of the named template, or
// ErrTemplateNotFound.
func (c *ConfigTemplateManager) Get(name string) (map[string]any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tpl, ok := c.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return deepCopyMap(tpl), nil
}

// TemplateNames lists the registered template names, sorted.
func (c *ConfigTemplateManager) TemplateNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks config against the bound schema, returning
// (ok, messages). Validation failures surface as data, never panics.
func (c *ConfigTemplateManager) Validate(config map[string]any) (bool, []string) {
	b, err := json.Marshal(config)
	if err != nil {
		return false, []string{fmt.Sprintf("config not serializable: %v", err)}
	}
	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return false, []string{fmt.Sprintf("schema validation error: %v", err)}
	}
	if result.Valid() {
		return true, nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return false, errs
}

// Merge deep-merges the named templates in order on top of default.
// Later templates win on scalar conflicts.
func (c *ConfigTemplateManager) Merge(names []string) (map[string]any, error) {
	merged := defaultTemplate()
	for _, name := range names {
		if name == "default" {
			continue
		}
		overlay, err := c.Get(name)
		if err != nil {
			return nil, err
		}
		merged = deepMerge(merged, overlay)
	}
	return merged, nil
}

// CreateForProject composes ["default", size?, type?, language?] via
// Merge, skipping names with no registered template, and falls back to
// the default template when the composition fails validation.
func (c *ConfigTemplateManager) CreateForProject(size, projectType, language string) map[string]any {
	names := []string{}
	for _, candidate := range []string{size, projectType, language} {
		c.mu.RLock()
		_, ok := c.templates[candidate]
		c.mu.RUnlock()
		if ok {
			names = append(names, candidate)
		}
	}
	merged, err := c.Merge(names)
	if err != nil {
		return c.GetDefault()
	}
	if ok, errs := c.Validate(merged); !ok {
		c.log.Warn("composed project template failed validation, using default",
			zap.Strings("templates", names), zap.Strings("errors", errs))
		return c.GetDefault()
	}
	return merged
}

// RegisterTemplate validates and stores a custom template under name.
func (c *ConfigTemplateManager) RegisterTemplate(name string, template map[string]any) error {
	if ok, errs := c.Validate(template); !ok {
		return fmt.Errorf("%w: template %q: %v", ErrValidationFailed, name, errs)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[name] = deepCopyMap(template)
	return nil
}

// LoadTemplatesFromFile reads a JSON map of named templates and
// registers each valid entry, returning the names loaded.
func (c *ConfigTemplateManager) LoadTemplatesFromFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	loaded := make([]string, 0, len(raw))
	for name, tpl := range raw {
		if err := c.RegisterTemplate(name, tpl); err != nil {
			c.log.Warn("skipping invalid template from file",
				zap.String("name", name), zap.Error(err))
			continue
		}
		loaded = append(loaded, name)
	}
	sort.Strings(loaded)
	return loaded, nil
}

// SaveTemplatesToFile writes all registered templates as a JSON map.
func (c *ConfigTemplateManager) SaveTemplatesToFile(path string) error {
	c.mu.RLock()
	snapshot := make(map[string]map[string]any, len(c.templates))
	for name, tpl := range c.templates {
		snapshot[name] = deepCopyMap(tpl)
	}
	c.mu.RUnlock()

	b, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	return nil
}

// deepMerge recursively merges overlay into base; non-mapping values
// overwrite. Neither input is mutated.
func deepMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if bm, ok := out[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				out[k] = deepMerge(bm, om)
				continue
			}
		}
		out[k] = v
	}
	return out
}
