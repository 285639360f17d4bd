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
	"sort"
	"strings"
	"sync"
)

const (
	maxLRUEntries        = 1000
	maxHistoryPerKey     = 10
	pruneProtectionScore = 0.7
	truncationCharLimit  = 100
	truncationMarker     = "... [truncated during optimization]"
	secondsPerDay        = 24 * 60 * 60
)

// PruningCandidate is a single (path, value score, tokens) entry in
// the pruning ranking.
type PruningCandidate struct {
	Path       string
	ValueScore float64
	Tokens     int
}

// PruningEngine tracks access recency/frequency per context path and
// ranks candidates for eviction when the context exceeds its target
// size.
type PruningEngine struct {
	mu sync.Mutex

	estimator *TokenEstimator

	accessHistory      map[string][]float64
	accessCounts       map[string]int
	importanceOverride map[string]float64
	criticalPaths      map[string]bool

	lruOrder []string
	lruTime  map[string]float64

	recencyWeight    float64
	frequencyWeight  float64
	importanceWeight float64
}

// NewPruningEngine constructs an engine with the default weights
// (0.5 recency, 0.3 frequency, 0.2 importance).
func NewPruningEngine(estimator *TokenEstimator) *PruningEngine {
	return &PruningEngine{
		estimator:          estimator,
		accessHistory:      map[string][]float64{},
		accessCounts:       map[string]int{},
		importanceOverride: map[string]float64{},
		criticalPaths:      map[string]bool{},
		lruTime:            map[string]float64{},
		recencyWeight:      0.5,
		frequencyWeight:    0.3,
		importanceWeight:   0.2,
	}
}

// RecordAccess notes a read of keyPath at time now (caller-supplied
// monotonic wall-clock seconds, keeping behavior deterministic),
// updating the bounded access history, access count, and LRU order.
func (p *PruningEngine) RecordAccess(keyPath string, now float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	history := append(p.accessHistory[keyPath], now)
	if len(history) > maxHistoryPerKey {
		history = history[len(history)-maxHistoryPerKey:]
	}
	p.accessHistory[keyPath] = history
	p.accessCounts[keyPath]++

	if _, exists := p.lruTime[keyPath]; !exists {
		p.lruOrder = append(p.lruOrder, keyPath)
	}
	p.lruTime[keyPath] = now

	if len(p.lruOrder) > maxLRUEntries {
		oldest := p.lruOrder[0]
		p.lruOrder = p.lruOrder[1:]
		delete(p.lruTime, oldest)
	}
}

// SetImportance records an explicit override for keyPath, clamped to
// [0,1]. Used to propagate the Importance Scorer's output into
// pruning decisions.
func (p *PruningEngine) SetImportance(keyPath string, importance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.importanceOverride[keyPath] = clamp(importance, 0, 1)
}

// MarkCritical exempts keyPath from pruning entirely.
func (p *PruningEngine) MarkCritical(keyPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.criticalPaths[keyPath] = true
}

// valueScore computes the weighted recency/frequency/importance
// blend; callers must hold mu.
func (p *PruningEngine) valueScore(keyPath string, now float64) float64 {
	if p.criticalPaths[keyPath] {
		return 1.0
	}
	if v, ok := p.importanceOverride[keyPath]; ok {
		return v
	}

	recency := 0.0
	if t, ok := p.lruTime[keyPath]; ok {
		age := now - t
		recency = clamp(1.0-age/secondsPerDay, 0, 1)
	}

	freq := 0.0
	maxCount := 0
	for _, c := range p.accessCounts {
		if c > maxCount {
			maxCount = c
		}
	}
	if maxCount > 0 {
		freq = float64(p.accessCounts[keyPath]) / float64(maxCount)
	}

	importance := 0.5
	return recency*p.recencyWeight + freq*p.frequencyWeight + importance*p.importanceWeight
}

// IdentifyPruningCandidates returns every prunable path in context
// (skipping critical_paths) sorted ascending by value_score and, among
// ties, descending by token count. Returns nil when
// currentTokens is already within targetTokens.
func (p *PruningEngine) IdentifyPruningCandidates(context map[string]any, currentTokens, targetTokens int, now float64) []PruningCandidate {
	if currentTokens <= targetTokens {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var raw []PruningCandidate
	p.collect(context, "", &raw)

	for i := range raw {
		raw[i].ValueScore = p.valueScore(raw[i].Path, now)
	}

	sort.SliceStable(raw, func(i, j int) bool {
		if raw[i].ValueScore != raw[j].ValueScore {
			return raw[i].ValueScore < raw[j].ValueScore
		}
		return raw[i].Tokens > raw[j].Tokens
	})
	return raw
}

// collect recursively walks context, emitting a candidate per string
// leaf and per mapping node (aggregated via its stringified token
// count).
func (p *PruningEngine) collect(context map[string]any, prefix string, result *[]PruningCandidate) {
	for key, value := range context {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if p.criticalPaths[path] {
			continue
		}
		switch v := value.(type) {
		case string:
			if n := p.estimator.EstimateText(v, defaultLanguage); n > 0 {
				*result = append(*result, PruningCandidate{Path: path, Tokens: n})
			}
		case map[string]any:
			b, err := json.Marshal(v)
			if err == nil {
				if n := p.estimator.EstimateText(string(b), "json"); n > 0 {
					*result = append(*result, PruningCandidate{Path: path, Tokens: n})
				}
			}
			p.collect(v, path, result)
		}
	}
}

// Prune walks candidates ascending by value_score, skipping any with
// value_score above the protection threshold, and truncates (or
// deletes empty/short) string leaves in place on a copy of context
// until at least tokensToFree tokens have been freed. Mapping-node
// aggregate candidates are not separately mutated: pruning a leaf
// shrinks its ancestor aggregates implicitly on the next estimate.
func (p *PruningEngine) Prune(context map[string]any, candidates []PruningCandidate, tokensToFree int) (map[string]any, int) {
	pruned := deepCopyMap(context)
	freed := 0

	for _, c := range candidates {
		if freed >= tokensToFree {
			break
		}
		if c.ValueScore > pruneProtectionScore {
			continue
		}
		before, ok := getDotted(pruned, c.Path)
		if !ok {
			continue
		}
		str, isString := before.(string)
		if !isString {
			continue
		}

		var after string
		if len(str) > truncationCharLimit {
			after = str[:truncationCharLimit] + truncationMarker
		} else {
			after = ""
		}

		beforeTokens := p.estimator.EstimateText(str, defaultLanguage)
		afterTokens := p.estimator.EstimateText(after, defaultLanguage)
		if after != "" {
			setDotted(pruned, c.Path, after)
		} else if i := strings.LastIndex(c.Path, "."); i < 0 {
			delete(pruned, c.Path)
		} else if parent, ok := getDotted(pruned, c.Path[:i]); ok {
			if m, isMap := parent.(map[string]any); isMap {
				delete(m, c.Path[i+1:])
			}
		}
		freed += beforeTokens - afterTokens
	}

	return pruned, freed
}

// getDotted reads a value at a dotted path without mutating tree.
func getDotted(tree map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = tree
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setDotted writes value at a dotted path, creating intermediate
// mappings as needed (the same update semantics the store uses,
// reused here for in-place pruning edits).
func setDotted(tree map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := tree
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return
		}
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
}

// deepCopyMap returns a structural copy of tree via JSON round-trip,
// matching the Context Store's get_snapshot deep-copy guarantee.
func deepCopyMap(tree map[string]any) map[string]any {
	b, err := json.Marshal(tree)
	if err != nil {
		out := make(map[string]any, len(tree))
		for k, v := range tree {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("ctxengine: deep copy of context tree failed: %v", err))
	}
	return out
}
