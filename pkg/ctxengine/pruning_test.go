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
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPruner() *PruningEngine {
	return NewPruningEngine(NewTokenEstimator(nil))
}

func TestValueScore_CriticalAndOverride(t *testing.T) {
	p := newTestPruner()
	now := 1000.0

	p.MarkCritical("code_context.core.py")
	p.SetImportance("code_context.util.py", 0.25)
	p.SetImportance("code_context.clamped.py", 7.0)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Equal(t, 1.0, p.valueScore("code_context.core.py", now))
	require.Equal(t, 0.25, p.valueScore("code_context.util.py", now))
	require.Equal(t, 1.0, p.valueScore("code_context.clamped.py", now),
		"overrides are clamped to [0,1]")
}

func TestValueScore_RecencyDecays(t *testing.T) {
	p := newTestPruner()

	p.RecordAccess("fresh", 1000)
	p.RecordAccess("stale", 1000)

	p.mu.Lock()
	defer p.mu.Unlock()
	fresh := p.valueScore("fresh", 1000)
	stale := p.valueScore("stale", 1000+secondsPerDay)
	require.Greater(t, fresh, stale)
}

func TestIdentifyPruningCandidates_SortedAndFiltered(t *testing.T) {
	p := newTestPruner()
	p.MarkCritical("memory")
	p.SetImportance("recent_logs.entry", 0.1)

	context := map[string]any{
		"recent_logs": map[string]any{"entry": strings.Repeat("log line ", 50)},
		"memory":      map[string]any{"fact": "must never appear"},
		"metadata":    map[string]any{"note": "short"},
	}

	candidates := p.IdentifyPruningCandidates(context, 1000, 100, 0)
	require.NotEmpty(t, candidates)

	for _, c := range candidates {
		require.NotEqual(t, "memory", c.Path)
		require.False(t, strings.HasPrefix(c.Path, "memory."),
			"critical subtree must be skipped: %s", c.Path)
	}

	sorted := sort.SliceIsSorted(candidates, func(i, j int) bool {
		if candidates[i].ValueScore != candidates[j].ValueScore {
			return candidates[i].ValueScore < candidates[j].ValueScore
		}
		return candidates[i].Tokens > candidates[j].Tokens
	})
	require.True(t, sorted, "candidates must sort ascending by value score, ties by descending tokens")
}

func TestIdentifyPruningCandidates_NilWhenWithinTarget(t *testing.T) {
	p := newTestPruner()
	context := map[string]any{"metadata": map[string]any{"k": "v"}}
	require.Nil(t, p.IdentifyPruningCandidates(context, 50, 100, 0))
}

func TestPrune_FreesTokensAndTruncates(t *testing.T) {
	p := newTestPruner()
	long := strings.Repeat("every token counts in this entry ", 40)
	context := map[string]any{
		"recent_logs": map[string]any{"entry": long},
		"metadata":    map[string]any{"note": "tiny"},
	}
	p.SetImportance("recent_logs.entry", 0.1)
	p.SetImportance("metadata.note", 0.1)

	estimator := NewTokenEstimator(nil)
	current := estimator.TotalTokenCount(context)
	target := current / 4

	candidates := p.IdentifyPruningCandidates(context, current, target, 0)
	pruned, freed := p.Prune(context, candidates, current-target)

	require.Positive(t, freed)

	entry, _ := getDotted(pruned, "recent_logs.entry")
	content, _ := entry.(string)
	require.Contains(t, content, truncationMarker)
	require.LessOrEqual(t, len(content), truncationCharLimit+len(truncationMarker))

	// The input context is never mutated.
	original, _ := getDotted(context, "recent_logs.entry")
	require.Equal(t, long, original)
}

func TestPrune_SkipsProtectedCandidates(t *testing.T) {
	p := newTestPruner()
	long := strings.Repeat("protected content ", 50)
	context := map[string]any{
		"recent_logs": map[string]any{"entry": long},
	}
	p.SetImportance("recent_logs.entry", 0.9)
	p.SetImportance("recent_logs", 0.9)

	candidates := p.IdentifyPruningCandidates(context, 1000, 100, 0)
	pruned, freed := p.Prune(context, candidates, 900)

	require.Zero(t, freed)
	entry, _ := getDotted(pruned, "recent_logs.entry")
	require.Equal(t, long, entry)
}

func TestPrune_CriticalPathsPreserved(t *testing.T) {
	p := newTestPruner()
	p.MarkCritical("memory.fact")

	context := map[string]any{
		"memory": map[string]any{"fact": strings.Repeat("critical ", 100)},
		"other":  map[string]any{"blob": strings.Repeat("droppable ", 100)},
	}
	p.SetImportance("other.blob", 0.1)
	p.SetImportance("other", 0.1)
	p.SetImportance("memory", 0.1)

	candidates := p.IdentifyPruningCandidates(context, 2000, 100, 0)
	pruned, _ := p.Prune(context, candidates, 1900)

	fact, ok := getDotted(pruned, "memory.fact")
	require.True(t, ok)
	require.Equal(t, strings.Repeat("critical ", 100), fact)
}

func TestRecordAccess_BoundsHistory(t *testing.T) {
	p := newTestPruner()
	for i := 0; i < 50; i++ {
		p.RecordAccess("path", float64(i))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.accessHistory["path"], maxHistoryPerKey)
	require.Equal(t, 50, p.accessCounts["path"])
}
