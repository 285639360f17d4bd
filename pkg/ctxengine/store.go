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
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ContextStore holds the single mutable context tree behind a write
// lock, handing out deep-copy snapshots to readers. The background
// optimizer snapshots, computes off-lock, and only reacquires the
// lock to install its result; Swap implements that.
type ContextStore struct {
	mu   sync.RWMutex
	tree map[string]any
}

// NewContextStore constructs an empty store.
func NewContextStore() *ContextStore {
	return &ContextStore{tree: map[string]any{}}
}

// GetSnapshot returns a deep copy of the current tree. Never mutates
// the store.
func (s *ContextStore) GetSnapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopyMap(s.tree)
}

// Get reads a single dotted path from the current tree without
// mutating it, returning (nil, false) if absent.
func (s *ContextStore) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDottedGJSON(s.tree, path)
}

// Update applies patch under dotted-path semantics: for each
// (key, value) pair, writes value at that path, creating missing
// intermediate mappings as needed.
func (s *ContextStore) Update(patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree := s.tree
	for path, value := range patch {
		updated, err := setDottedGJSON(tree, path, value)
		if err != nil {
			return err
		}
		tree = updated
	}
	s.tree = tree
	return nil
}

// Clear replaces the tree with an empty one.
func (s *ContextStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = map[string]any{}
}

// Swap installs newTree as the store's content. Callers (the
// Background Optimizer) compute newTree off-lock from a prior
// GetSnapshot and only reacquire the lock for this call.
func (s *ContextStore) Swap(newTree map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = newTree
}

// getDottedGJSON reads a dotted path via gjson, round-tripping through
// JSON so nested map[string]any values come back in Go-native form.
func getDottedGJSON(tree map[string]any, path string) (any, bool) {
	b, err := json.Marshal(tree)
	if err != nil {
		return nil, false
	}
	result := gjson.GetBytes(b, path)
	if !result.Exists() {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(result.Raw), &v); err != nil {
		return result.Value(), true
	}
	return v, true
}

// setDottedGJSON writes value at a dotted path via sjson, creating
// intermediate mappings as needed, and returns the updated tree.
func setDottedGJSON(tree map[string]any, path string, value any) (map[string]any, error) {
	b, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	updated, err := sjson.SetBytes(b, path, value)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(updated, &out); err != nil {
		return nil, err
	}
	return out, nil
}
