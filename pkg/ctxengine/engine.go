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
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// EngineOptions configures a new Engine. Zero values pick the
// defaults noted per field.
type EngineOptions struct {
	RepoPath   string // workspace root; defaults to "."
	ConfigDir  string // defaults to <RepoPath>/.agent_s3/config
	MetricsDir string // defaults to <RepoPath>/.agent_s3/metrics

	MaxTokens        int // total context budget; default 16000
	ReservedTokens   int // held back for the prompt; default 1000
	BackgroundTarget int // background-cycle target; default 80% of MaxTokens

	OptimizationInterval time.Duration // background tick period; default 60s

	Logger *zap.Logger
}

func (o *EngineOptions) applyDefaults() {
	if o.RepoPath == "" {
		o.RepoPath = "."
	}
	if o.ConfigDir == "" {
		o.ConfigDir = filepath.Join(o.RepoPath, ".agent_s3", "config")
	}
	if o.MetricsDir == "" {
		o.MetricsDir = filepath.Join(o.RepoPath, ".agent_s3", "metrics")
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 16000
	}
	if o.ReservedTokens <= 0 {
		o.ReservedTokens = 1000
	}
	if o.BackgroundTarget <= 0 {
		o.BackgroundTarget = o.MaxTokens * 8 / 10
	}
	if o.OptimizationInterval <= 0 {
		o.OptimizationInterval = 60 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Engine is the host-facing facade wiring the component graph behind
// a single in-process API. Hosts construct one Engine per
// workspace and keep it for the process lifetime.
type Engine struct {
	opts EngineOptions

	store      *ContextStore
	estimator  *TokenEstimator
	scorer     *ImportanceScorer
	allocator  *BudgetAllocator
	monitor    *SizeMonitor
	pruner     *PruningEngine
	compressor *CompressionManager
	background *BackgroundOptimizer
	templates  *ConfigTemplateManager
	metrics    *MetricsCollector
	adaptive   *AdaptiveConfigManager

	providers *ProviderRegistry

	log *zap.Logger
}

// NewEngine wires the full component graph. The background optimizer
// is constructed but not started; call StartBackgroundOptimization.
func NewEngine(opts EngineOptions) *Engine {
	opts.applyDefaults()
	log := opts.Logger

	estimator := NewTokenEstimator(log)
	scorer := NewImportanceScorer()
	allocator := NewBudgetAllocator(estimator, scorer)
	store := NewContextStore()
	monitor := NewSizeMonitor(estimator, opts.MaxTokens, log)
	pruner := NewPruningEngine(estimator)
	templates := NewConfigTemplateManager(log)
	metrics := NewMetricsCollector(opts.MetricsDir, log)
	adaptive := NewAdaptiveConfigManager(opts.RepoPath, opts.ConfigDir, templates, metrics, log)

	config := adaptive.GetCurrentConfig()
	threshold := int(configNumberAt(config, "context_management", "summarization", "threshold"))
	compressor := NewCompressionManager(threshold, log)
	if ratio := configNumberAt(config, "context_management", "summarization", "compression_ratio"); ratio > 0 {
		compressor.SetCompressionRatio(ratio)
	}

	background := NewBackgroundOptimizer(
		store, allocator, pruner, monitor,
		opts.MaxTokens, opts.BackgroundTarget,
		opts.OptimizationInterval, 5*time.Second, log,
	)

	return &Engine{
		opts:       opts,
		store:      store,
		estimator:  estimator,
		scorer:     scorer,
		allocator:  allocator,
		monitor:    monitor,
		pruner:     pruner,
		compressor: compressor,
		background: background,
		templates:  templates,
		metrics:    metrics,
		adaptive:   adaptive,
		providers:  NewProviderRegistry(),
		log:        log,
	}
}

// Providers exposes the collaborator registry for host wiring.
func (e *Engine) Providers() *ProviderRegistry { return e.providers }

// Store exposes the context store, primarily for tests and advanced
// hosts; normal callers go through UpdateContext/GetContext.
func (e *Engine) Store() *ContextStore { return e.store }

// Metrics exposes the metrics collector's log_* surface.
func (e *Engine) Metrics() *MetricsCollector { return e.metrics }

// Templates exposes the config template manager.
func (e *Engine) Templates() *ConfigTemplateManager { return e.templates }

// StartBackgroundOptimization launches the periodic optimization loop.
func (e *Engine) StartBackgroundOptimization() { e.background.Start() }

// StopBackgroundOptimization stops the loop, joining with a bounded
// timeout.
func (e *Engine) StopBackgroundOptimization() { e.background.Stop() }

// GatherContext assembles the optimized context for one downstream
// model call: merge requested files into a snapshot of the stored tree
// (the store itself is not modified), mark the current files' paths
// recently used, then run the estimate → score → allocate → compress
// pipeline against the budget.
func (e *Engine) GatherContext(
	taskDescription, taskType string,
	taskKeywords, currentFiles, relatedFiles []string,
	maxTokens int,
) map[string]any {
	if maxTokens <= 0 {
		maxTokens = e.opts.MaxTokens
	}
	available := maxTokens - e.opts.ReservedTokens

	context := e.store.GetSnapshot()

	if fp := e.providers.fileProvider(); fp != nil {
		code, _ := context["code_context"].(map[string]any)
		if code == nil {
			code = map[string]any{}
		}
		for _, path := range append(append([]string{}, currentFiles...), relatedFiles...) {
			if _, have := code[path]; have {
				continue
			}
			if content, ok := fp.ReadFile(path); ok {
				code[path] = content
			}
		}
		if len(code) > 0 {
			context["code_context"] = code
		}
	}

	if mp := e.providers.memoryProvider(); mp != nil && taskDescription != "" {
		if memories := mp.RetrieveMemories(taskDescription, 5); len(memories) > 0 {
			retrieved := make(map[string]any, len(memories))
			for i, record := range memories {
				retrieved[keyForMemory(i, record)] = record
			}
			context["retrieved_memories"] = retrieved
		}
	}

	now := float64(time.Now().Unix())
	for _, path := range currentFiles {
		e.pruner.RecordAccess("code_context."+path, now)
	}

	start := time.Now()
	result := e.allocator.Allocate(context, taskType, taskKeywords, available, false)
	optimized := result.OptimizedContext

	for path, score := range result.Importance.CodeContext {
		e.pruner.SetImportance("code_context."+path, score)
	}

	if e.compressor.NeedCompression(optimized, nil) {
		optimized = e.compressor.Compress(optimized, nil)
	}

	e.monitor.Update(optimized, now)
	e.metrics.LogTokenUsage(e.monitor.CurrentUsage(), maxTokens, sectionTokens(e.monitor))
	e.metrics.LogOptimizationDuration(time.Since(start).Seconds(),
		result.Report.OriginalTokens-result.Report.AllocatedTokens)

	return optimized
}

func keyForMemory(i int, record map[string]any) string {
	if id, ok := record["id"].(string); ok && id != "" {
		return id
	}
	return "memory_" + strconv.Itoa(i)
}

func sectionTokens(m *SizeMonitor) map[string]int {
	breakdown := m.GetSectionBreakdown()
	out := make(map[string]int, len(breakdown))
	for section, b := range breakdown {
		out[section] = b.Tokens
	}
	return out
}

// UpdateContext applies patch to the store under dotted-path
// semantics.
func (e *Engine) UpdateContext(patch map[string]any) error {
	return e.store.Update(patch)
}

// GetContext returns a deep-copy snapshot of the current context.
func (e *Engine) GetContext() map[string]any {
	return e.store.GetSnapshot()
}

// ClearContext empties the store.
func (e *Engine) ClearContext() {
	e.store.Clear()
}

// OptimizeContext runs the allocation pipeline over an arbitrary
// caller-supplied context without touching the store.
func (e *Engine) OptimizeContext(context map[string]any) map[string]any {
	available := e.opts.MaxTokens - e.opts.ReservedTokens
	result := e.allocator.Allocate(context, "", nil, available, false)
	optimized := result.OptimizedContext
	if e.compressor.NeedCompression(optimized, nil) {
		optimized = e.compressor.Compress(optimized, nil)
	}
	return optimized
}

// OptimizeContextImmediately runs one full background-style cycle on
// the live store, synchronously.
func (e *Engine) OptimizeContextImmediately() {
	if err := e.background.safeTick(time.Now()); err != nil {
		e.log.Warn("immediate optimization failed", zap.Error(err))
	}
}

// SetAllocationStrategy overrides the allocator's ordering strategy.
func (e *Engine) SetAllocationStrategy(s AllocationStrategy) {
	e.allocator.SetStrategy(s)
}

// SetAdaptiveConfigManager replaces the adaptive manager (hosts that
// construct their own, e.g. with a shared config directory) and
// re-applies its active configuration to the tunable components.
func (e *Engine) SetAdaptiveConfigManager(mgr *AdaptiveConfigManager) {
	if mgr == nil {
		return
	}
	e.adaptive = mgr
	e.applyActiveConfig()
}

// applyActiveConfig pushes the active configuration's tunables into
// the components they drive.
func (e *Engine) applyActiveConfig() {
	config := e.adaptive.GetCurrentConfig()
	if threshold := configNumberAt(config, "context_management", "summarization", "threshold"); threshold > 0 {
		e.compressor.SetSummarizationThreshold(int(threshold))
	}
	if ratio := configNumberAt(config, "context_management", "summarization", "compression_ratio"); ratio > 0 {
		e.compressor.SetCompressionRatio(ratio)
	}
}

// GetDependencyGraph delegates to the registered code analyzer.
func (e *Engine) GetDependencyGraph() map[string]any {
	if analyzer := e.providers.codeAnalyzer(); analyzer != nil {
		return analyzer.GetDependencyGraph()
	}
	return map[string]any{"nodes": []any{}, "edges": []any{}}
}

// GetFileContent delegates to the registered file provider.
func (e *Engine) GetFileContent(path string) (string, bool) {
	if fp := e.providers.fileProvider(); fp != nil {
		return fp.ReadFile(path)
	}
	return "", false
}

// GetRelevantFiles delegates to the registered code analyzer.
func (e *Engine) GetRelevantFiles(query string) []string {
	if analyzer := e.providers.codeAnalyzer(); analyzer != nil {
		return analyzer.FindRelevantFiles(query)
	}
	return nil
}

// GetCurrentConfig returns the active configuration.
func (e *Engine) GetCurrentConfig() map[string]any {
	return e.adaptive.GetCurrentConfig()
}

// GetConfigVersion returns the active configuration's version.
func (e *Engine) GetConfigVersion() int {
	return e.adaptive.GetConfigVersion()
}

// UpdateConfiguration validates and applies a new configuration, then
// re-applies its tunables to the components.
func (e *Engine) UpdateConfiguration(config map[string]any, reason string) error {
	if err := e.adaptive.UpdateConfiguration(config, reason); err != nil {
		return err
	}
	e.applyActiveConfig()
	return nil
}

// ResetToVersion re-applies a stored configuration version.
func (e *Engine) ResetToVersion(version int) error {
	if err := e.adaptive.ResetToVersion(version); err != nil {
		return err
	}
	e.applyActiveConfig()
	return nil
}

// ResetToDefault reprofiles the workspace and applies the result.
func (e *Engine) ResetToDefault() error {
	if err := e.adaptive.ResetToDefault(); err != nil {
		return err
	}
	e.applyActiveConfig()
	return nil
}

// GetConfigHistory returns the persisted version metadata.
func (e *Engine) GetConfigHistory() []ConfigMetadata {
	return e.adaptive.GetConfigHistory()
}

// GetPerformanceSummary aggregates the metrics summary with the active
// config's per-config relevance analysis.
func (e *Engine) GetPerformanceSummary() map[string]any {
	return map[string]any{
		"metrics":            e.metrics.GetMetricsSummary(),
		"config_performance": e.metrics.AnalyzeConfigPerformance(e.adaptive.GetCurrentConfig()),
		"config_version":     e.adaptive.GetConfigVersion(),
	}
}

// GetMetricsSummary returns per-kind metric aggregates.
func (e *Engine) GetMetricsSummary() map[string]any {
	return e.metrics.GetMetricsSummary()
}

// RecommendConfigImprovements returns metrics-driven config
// suggestions against cfg.
func (e *Engine) RecommendConfigImprovements(cfg map[string]any) []Recommendation {
	return e.metrics.RecommendConfigImprovements(cfg)
}

// AnalyzeConfigPerformance aggregates relevance samples for cfg.
func (e *Engine) AnalyzeConfigPerformance(cfg map[string]any) map[string]any {
	return e.metrics.AnalyzeConfigPerformance(cfg)
}

// CalculateTrend reports the direction of a metric field over the
// buffered window.
func (e *Engine) CalculateTrend(kind, field string) Trend {
	return e.metrics.CalculateTrend(kind, field)
}
