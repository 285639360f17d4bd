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
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type stubFileProvider struct {
	files map[string]string
	root  string
}

func (s *stubFileProvider) ReadFile(path string) (string, bool) {
	content, ok := s.files[path]
	return content, ok
}

func (s *stubFileProvider) ListFiles(pattern string, recursive bool) []string {
	out := make([]string, 0, len(s.files))
	for path := range s.files {
		out = append(out, path)
	}
	return out
}

func (s *stubFileProvider) GetWorkspaceRoot() string { return s.root }

type stubAnalyzer struct {
	relevant []string
}

func (s *stubAnalyzer) AnalyzeFile(path string, techStack map[string]any, root string) map[string]any {
	return map[string]any{"nodes": []any{}, "edges": []any{}}
}

func (s *stubAnalyzer) FindRelevantFiles(query string) []string { return s.relevant }

func (s *stubAnalyzer) GetDependencyGraph() map[string]any {
	return map[string]any{"nodes": []any{"a"}, "edges": []any{}}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	repo := t.TempDir()
	require.NoError(t, writeTestFile(t, filepath.Join(repo, "main.py"), "def main():\n    pass\n"))
	return NewEngine(EngineOptions{
		RepoPath:       repo,
		MaxTokens:      4000,
		ReservedTokens: 200,
	})
}

func TestEngine_ContextLifecycle(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.UpdateContext(map[string]any{"metadata.task": "demo"}))
	context := e.GetContext()
	meta := context["metadata"].(map[string]any)
	require.Equal(t, "demo", meta["task"])

	e.ClearContext()
	require.Empty(t, e.GetContext())
}

func TestEngine_GatherContextMergesProvidedFiles(t *testing.T) {
	e := newTestEngine(t)
	e.Providers().Register(CapabilityFileProvider, &stubFileProvider{
		files: map[string]string{
			"app.py":  "def handler():\n    return 'ok'\n",
			"util.py": "def helper():\n    return 1\n",
		},
	}, 0)

	context := e.GatherContext("wire the handler", "implementation", nil,
		[]string{"app.py"}, []string{"util.py"}, 0)

	code, ok := context["code_context"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, code, "app.py")
	require.Contains(t, code, "util.py")
}

func TestEngine_GatherContextRespectsBudget(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.UpdateContext(map[string]any{
		"code_context": map[string]any{
			"big.py": repeatLines("value = compute(1, 2, 3)", 400),
		},
	}))

	context := e.GatherContext("", "", nil, nil, nil, 500)

	estimator := NewTokenEstimator(nil)
	require.LessOrEqual(t, estimator.TotalTokenCount(context), 500)
}

func TestEngine_CollaboratorDelegation(t *testing.T) {
	e := newTestEngine(t)

	// No providers: safe empty results.
	require.Equal(t, map[string]any{"nodes": []any{}, "edges": []any{}}, e.GetDependencyGraph())
	_, ok := e.GetFileContent("anything.py")
	require.False(t, ok)
	require.Nil(t, e.GetRelevantFiles("query"))

	e.Providers().Register(CapabilityCodeAnalyzer, &stubAnalyzer{relevant: []string{"a.py"}}, 0)
	require.Equal(t, []string{"a.py"}, e.GetRelevantFiles("query"))
	require.NotEmpty(t, e.GetDependencyGraph()["nodes"])
}

func TestProviderRegistry_PriorityWins(t *testing.T) {
	r := NewProviderRegistry()
	low := &stubAnalyzer{relevant: []string{"low"}}
	high := &stubAnalyzer{relevant: []string{"high"}}

	r.Register(CapabilityCodeAnalyzer, low, 1)
	r.Register(CapabilityCodeAnalyzer, high, 10)

	got := r.codeAnalyzer()
	require.Equal(t, []string{"high"}, got.FindRelevantFiles(""))

	require.Nil(t, r.Get(CapabilityMemoryProvider))
}

func TestEngine_ConfigSurface(t *testing.T) {
	e := newTestEngine(t)

	require.GreaterOrEqual(t, e.GetConfigVersion(), 1)
	config := e.GetCurrentConfig()
	require.Contains(t, config, "context_management")

	updated := e.GetCurrentConfig()
	updated["context_management"].(map[string]any)["summarization"].(map[string]any)["threshold"] = 1500
	require.NoError(t, e.UpdateConfiguration(updated, "tighter summaries"))
	require.Equal(t, 1500, e.compressor.Strategies[0].(*SemanticSummarizer).Threshold,
		"config updates must reach the summarizer")

	require.NotEmpty(t, e.GetConfigHistory())
}

func TestEngine_PerformanceSummary(t *testing.T) {
	e := newTestEngine(t)
	e.Metrics().LogResponseLatency(0.8)

	summary := e.GetPerformanceSummary()
	require.Contains(t, summary, "metrics")
	require.Contains(t, summary, "config_performance")
	require.Contains(t, summary, "config_version")
}

func TestEngine_OptimizeContextImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := newTestEngine(t)
	require.NoError(t, e.UpdateContext(map[string]any{
		"code_context": map[string]any{
			"big.py": repeatLines("value = compute(1, 2, 3)", 800),
		},
	}))

	estimator := NewTokenEstimator(nil)
	before := estimator.TotalTokenCount(e.GetContext())
	require.Greater(t, before, 4000)

	e.OptimizeContextImmediately()
	after := estimator.TotalTokenCount(e.GetContext())
	require.Less(t, after, before)
}

func TestEngine_SetAllocationStrategy(t *testing.T) {
	e := newTestEngine(t)
	e.SetAllocationStrategy(TaskAdaptiveStrategy{})
	require.IsType(t, TaskAdaptiveStrategy{}, e.allocator.strategy)
}
