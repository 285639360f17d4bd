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
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BackgroundOptimizer runs a single periodic tick that snapshots the
// Context Store, reallocates and prunes it, and swaps the result back
// in. A one-second ticker drives the loop; stopCh plus a WaitGroup
// keeps shutdown cooperative and bounded.
type BackgroundOptimizer struct {
	store      *ContextStore
	allocator  *BudgetAllocator
	pruner     *PruningEngine
	monitor    *SizeMonitor
	compressor *ReferenceDeduplicator

	interval         time.Duration
	backoff          time.Duration
	maxTokens        int
	backgroundTarget int

	lastRun time.Time
	running bool
	mu      sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup

	log *zap.Logger
}

// NewBackgroundOptimizer wires the optimizer to its collaborators.
// interval is the fixed tick period (default 60s); backoff is
// the error sleep (default 5s).
func NewBackgroundOptimizer(
	store *ContextStore,
	allocator *BudgetAllocator,
	pruner *PruningEngine,
	monitor *SizeMonitor,
	maxTokens, backgroundTarget int,
	interval, backoff time.Duration,
	log *zap.Logger,
) *BackgroundOptimizer {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &BackgroundOptimizer{
		store:            store,
		allocator:        allocator,
		pruner:           pruner,
		monitor:          monitor,
		compressor:       NewReferenceDeduplicator(),
		interval:         interval,
		backoff:          backoff,
		maxTokens:        maxTokens,
		backgroundTarget: backgroundTarget,
		stopCh:           make(chan struct{}),
		log:              log,
	}
}

// Start launches the background loop. Safe to call once; a second
// call is a no-op.
func (b *BackgroundOptimizer) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.loop()
}

// Stop signals the loop to exit and joins it with a 5s timeout.
func (b *BackgroundOptimizer) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopCh)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		b.log.Warn("background optimizer did not stop within timeout")
	}
}

func (b *BackgroundOptimizer) loop() {
	defer b.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.maybeTick()
		case <-b.stopCh:
			return
		}
	}
}

func (b *BackgroundOptimizer) maybeTick() {
	now := time.Now()
	if !b.lastRun.IsZero() && now.Sub(b.lastRun) < b.interval {
		return
	}

	if err := b.safeTick(now); err != nil {
		b.log.Warn("background optimization tick failed",
			zap.Error(err), zap.NamedError("class", ErrInternal))
		time.Sleep(b.backoff)
		return
	}
	b.lastRun = now
}

// safeTick converts a tick panic into an error so the loop never
// dies; it is logged and the loop backs off.
func (b *BackgroundOptimizer) safeTick(now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()
	return b.tick(now)
}

// tick runs one optimization cycle: snapshot, allocate, propagate
// importance into the pruner, prune to the background target,
// compress large leaves, publish.
func (b *BackgroundOptimizer) tick(now time.Time) error {
	snapshot := b.store.GetSnapshot()
	if len(snapshot) == 0 {
		return nil
	}

	nowSeconds := float64(now.Unix())

	result := b.allocator.Allocate(snapshot, "", nil, b.maxTokens, false)
	for path, score := range result.Importance.CodeContext {
		b.pruner.SetImportance("code_context."+path, score)
	}
	for section, score := range result.Importance.Sections {
		b.pruner.SetImportance(section, score)
	}

	optimized := result.OptimizedContext
	b.monitor.Update(optimized, nowSeconds)

	currentTokens := b.monitor.CurrentUsage()
	if currentTokens > b.backgroundTarget {
		needed := currentTokens - b.backgroundTarget
		candidates := b.pruner.IdentifyPruningCandidates(optimized, currentTokens, b.backgroundTarget, nowSeconds)
		pruned, freed := b.pruner.Prune(optimized, candidates, needed)
		optimized = pruned
		if freed < needed {
			// Remaining candidates are protected or exhausted; the
			// context stays over target and the monitor keeps alerting.
			b.log.Warn("pruning blocked before reaching target",
				zap.Int("tokens_needed", needed),
				zap.Int("tokens_freed", freed),
				zap.NamedError("class", ErrPruningBlocked))
		}
	}

	optimized = b.compressLargeLeaves(optimized)

	b.store.Swap(optimized)
	return nil
}

// compressLargeLeaves applies the reference deduplicator to every
// string leaf exceeding 1000 characters: top-level section strings and
// code_context file entries alike. Each leaf is compressed in
// isolation as a single-entry code_context, fanned out via errgroup.
func (b *BackgroundOptimizer) compressLargeLeaves(optimizedContext map[string]any) map[string]any {
	type leaf struct {
		section string
		file    string // empty for a top-level string section
		content string
	}

	var leaves []leaf
	for key, value := range optimizedContext {
		switch key {
		case "compression_metadata", "decompression_metadata":
			continue
		}
		switch v := value.(type) {
		case string:
			if len(v) > 1000 {
				leaves = append(leaves, leaf{section: key, content: v})
			}
		case map[string]any:
			if key != "code_context" {
				continue
			}
			for path, raw := range v {
				if s, ok := raw.(string); ok && len(s) > 1000 {
					leaves = append(leaves, leaf{section: key, file: path, content: s})
				}
			}
		}
	}
	if len(leaves) == 0 {
		return optimizedContext
	}

	type result struct {
		leaf    leaf
		content string
	}
	results := make(chan result, len(leaves))

	g, _ := errgroup.WithContext(context.Background())
	for _, l := range leaves {
		l := l
		key := l.file
		if key == "" {
			key = l.section
		}
		g.Go(func() error {
			compressed := b.compressor.Compress(map[string]any{
				"code_context": map[string]any{key: l.content},
			})
			out := codeContextOf(compressed)
			if s, ok := out[key].(string); ok {
				results <- result{leaf: l, content: s}
			}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	out := shallowCopyContext(optimizedContext)
	var updatedFiles map[string]any
	for r := range results {
		if r.leaf.file == "" {
			out[r.leaf.section] = r.content
			continue
		}
		if updatedFiles == nil {
			if files := codeContextOf(out); files != nil {
				updatedFiles = shallowCopyContext(files)
				out["code_context"] = updatedFiles
			}
		}
		if updatedFiles != nil {
			updatedFiles[r.leaf.file] = r.content
		}
	}
	return out
}
