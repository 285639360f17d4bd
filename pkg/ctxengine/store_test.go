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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_UpdateAndSnapshot(t *testing.T) {
	s := NewContextStore()

	require.NoError(t, s.Update(map[string]any{
		"metadata.task":        "refactor",
		"code_context.main\\.py": "def main(): pass",
	}))

	v, ok := s.Get("metadata.task")
	require.True(t, ok)
	require.Equal(t, "refactor", v)

	snapshot := s.GetSnapshot()
	meta, ok := snapshot["metadata"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "refactor", meta["task"])
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	s := NewContextStore()
	require.NoError(t, s.Update(map[string]any{"metadata.task": "original"}))

	snapshot := s.GetSnapshot()
	snapshot["metadata"].(map[string]any)["task"] = "mutated"

	v, ok := s.Get("metadata.task")
	require.True(t, ok)
	require.Equal(t, "original", v, "mutating a snapshot must not affect the store")
}

func TestStore_DottedWriteCreatesIntermediates(t *testing.T) {
	s := NewContextStore()
	require.NoError(t, s.Update(map[string]any{"a.b.c": 42}))

	v, ok := s.Get("a.b.c")
	require.True(t, ok)
	require.EqualValues(t, 42, v)

	_, ok = s.Get("a.missing.c")
	require.False(t, ok)
}

func TestStore_ClearAndSwap(t *testing.T) {
	s := NewContextStore()
	require.NoError(t, s.Update(map[string]any{"metadata.k": "v"}))

	s.Clear()
	require.Empty(t, s.GetSnapshot())

	s.Swap(map[string]any{"files": map[string]any{"a.txt": "content"}})
	v, ok := s.Get("files")
	require.True(t, ok)
	require.NotNil(t, v)
}

// A snapshot taken after an update observes that update.
func TestStore_UpdateVisibility(t *testing.T) {
	s := NewContextStore()
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("memory.k%d", i)
		require.NoError(t, s.Update(map[string]any{key: i}))
		_, ok := s.GetSnapshot()["memory"].(map[string]any)[fmt.Sprintf("k%d", i)]
		require.True(t, ok, "snapshot after update must observe the patch")
	}
}

// Concurrent writers and readers must never observe a torn tree and
// must not deadlock. Run with -race.
func TestStore_ConcurrentReadersWriters(t *testing.T) {
	s := NewContextStore()
	const workers = 16
	deadline := time.Now().Add(500 * time.Millisecond)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			i := 0
			for time.Now().Before(deadline) {
				err := s.Update(map[string]any{
					fmt.Sprintf("section%d.key%d", w, i%8): fmt.Sprintf("value-%d-%d", w, i),
				})
				if err != nil {
					t.Errorf("update failed: %v", err)
					return
				}
				i++
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				snapshot := s.GetSnapshot()
				for section, v := range snapshot {
					if _, ok := v.(map[string]any); !ok {
						t.Errorf("torn read: section %s is %T", section, v)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}
