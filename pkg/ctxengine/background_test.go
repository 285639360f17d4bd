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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestBackground(store *ContextStore, maxTokens, target int, interval time.Duration) *BackgroundOptimizer {
	estimator := NewTokenEstimator(nil)
	scorer := NewImportanceScorer()
	return NewBackgroundOptimizer(
		store,
		NewBudgetAllocator(estimator, scorer),
		NewPruningEngine(estimator),
		NewSizeMonitor(estimator, maxTokens, nil),
		maxTokens, target,
		interval, 10*time.Millisecond, nil,
	)
}

func TestBackgroundTick_ReducesOverBudgetContext(t *testing.T) {
	store := NewContextStore()
	store.Swap(map[string]any{
		"code_context": map[string]any{
			"a.py": repeatLines("alpha = compute(1)", 120),
			"b.py": repeatLines("beta = compute(2)", 120),
		},
	})

	estimator := NewTokenEstimator(nil)
	initial := estimator.TotalTokenCount(store.GetSnapshot())
	require.Greater(t, initial, 900, "fixture must start over budget")

	b := newTestBackground(store, 500, 400, time.Second)
	require.NoError(t, b.tick(time.Now()))

	final := estimator.TotalTokenCount(store.GetSnapshot())
	require.Less(t, final, initial, "a tick must shrink an over-budget context")
	require.LessOrEqual(t, final, 500, "post-tick usage must fit the allocation budget")
}

func TestBackgroundTick_EmptyContextIsNoOp(t *testing.T) {
	store := NewContextStore()
	b := newTestBackground(store, 500, 400, time.Second)
	require.NoError(t, b.tick(time.Now()))
	require.Empty(t, store.GetSnapshot())
}

func TestBackgroundTick_PropagatesImportanceToPruner(t *testing.T) {
	store := NewContextStore()
	store.Swap(map[string]any{
		"code_context": map[string]any{"main.py": "def main(): pass"},
	})

	b := newTestBackground(store, 100000, 80000, time.Second)
	require.NoError(t, b.tick(time.Now()))

	b.pruner.mu.Lock()
	defer b.pruner.mu.Unlock()
	_, ok := b.pruner.importanceOverride["code_context.main.py"]
	require.True(t, ok, "allocation importance must flow into pruning overrides")
}

// Oversized string leaves outside code_context are compressed too.
func TestCompressLargeLeaves_CoversTopLevelSections(t *testing.T) {
	store := NewContextStore()
	b := newTestBackground(store, 100000, 80000, time.Second)

	repetitive := repeatLines("the release checklist repeats this exact sentence verbatim", 120)
	context := map[string]any{
		"documentation": repetitive,
		"metadata":      map[string]any{"branch": "main"},
		"code_context": map[string]any{
			"big.py": repeatLines("shared_helper = normalize(records, strict=True)", 120),
			"tiny.py": "x = 1\n",
		},
	}

	out := b.compressLargeLeaves(context)

	doc, _ := out["documentation"].(string)
	require.Less(t, len(doc), len(repetitive), "top-level string leaf must be compressed")
	require.Contains(t, doc, "@REF1@")

	code := out["code_context"].(map[string]any)
	big, _ := code["big.py"].(string)
	require.Less(t, len(big), len(repeatLines("shared_helper = normalize(records, strict=True)", 120)))
	require.Equal(t, "x = 1\n", code["tiny.py"], "small leaves stay untouched")
	require.Equal(t, map[string]any{"branch": "main"}, out["metadata"])

	// The input is not mutated in place.
	require.Equal(t, repetitive, context["documentation"])
}

// A panicking collaborator must not kill the loop; the tick reports an
// error instead.
func TestSafeTick_RecoversPanics(t *testing.T) {
	store := NewContextStore()
	store.Swap(map[string]any{"metadata": map[string]any{"k": "v"}})

	b := newTestBackground(store, 500, 400, time.Second)
	b.monitor = nil // force a nil-dereference panic inside tick

	err := b.safeTick(time.Now())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInternal)
}

// With a tight interval, the loop brings an over-budget store within
// max_tokens without leaking its goroutine on Stop.
func TestBackgroundLoop_ProgressAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewContextStore()
	store.Swap(map[string]any{
		"code_context": map[string]any{
			"a.py": repeatLines("alpha = compute(1)", 120),
			"b.py": repeatLines("beta = compute(2)", 120),
		},
	})

	b := newTestBackground(store, 500, 400, 500*time.Millisecond)
	b.Start()
	defer b.Stop()

	estimator := NewTokenEstimator(nil)
	require.Eventually(t, func() bool {
		return estimator.TotalTokenCount(store.GetSnapshot()) <= 500
	}, 5*time.Second, 100*time.Millisecond)
}

func TestBackground_StartTwiceAndStopTwice(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := newTestBackground(NewContextStore(), 500, 400, time.Second)
	b.Start()
	b.Start()
	b.Stop()
	b.Stop()
}
