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
	"sort"
	"strings"
)

// FileAllocation reports what a single file received in an allocation
// pass: its allocated token count and the importance score that drove
// the decision.
type FileAllocation struct {
	AllocatedTokens int     `json:"allocated_tokens"`
	ImportanceScore float64 `json:"importance_score"`
}

// AllocationReport is the accounting returned alongside an optimized
// context by the Budget Allocator.
type AllocationReport struct {
	OriginalTokens      int                       `json:"original_tokens"`
	AvailableTokens     int                       `json:"available_tokens"`
	AllocatedTokens     int                       `json:"allocated_tokens"`
	CodeContextTokens   int                       `json:"code_context_tokens"`
	OtherTokens         int                       `json:"other_tokens"`
	OptimizationApplied bool                      `json:"optimization_applied"`
	FileAllocations     map[string]FileAllocation `json:"file_allocations,omitempty"`
}

// AllocationResult bundles the optimized context, its report, and the
// importance map computed along the way (callers need the map to
// propagate overrides into the Pruning Engine).
type AllocationResult struct {
	OptimizedContext map[string]any
	Report           AllocationReport
	Importance       ImportanceMap
}

// candidateFile is an intermediate sort key for allocation ordering.
type candidateFile struct {
	path       string
	tokens     int
	importance float64
}

// AllocationStrategy orders code_context files for inclusion and may
// adjust their effective priority before the allocator walks them in
// order. The default, PriorityBasedStrategy, orders strictly by
// importance; TaskAdaptiveStrategy reorders using task-priority
// tables.
type AllocationStrategy interface {
	// Order returns candidates sorted by descending priority for
	// inclusion in the code budget.
	Order(candidates []candidateFile, taskType string) []candidateFile
}

// PriorityBasedStrategy is the default: sort strictly by
// importance score, descending.
type PriorityBasedStrategy struct{}

func (PriorityBasedStrategy) Order(candidates []candidateFile, _ string) []candidateFile {
	sorted := make([]candidateFile, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].importance > sorted[j].importance
	})
	return sorted
}

// taskPriorities assigns an extra ordering weight to files matching a
// path substring, keyed by task type.
var taskPriorities = map[string]map[string]float64{
	"debugging": {
		"test": 0.4, "spec": 0.4, "error": 0.5, "exception": 0.5, "log": 0.2,
	},
	"implementation": {
		"component": 0.4, "model": 0.4, "service": 0.3, "controller": 0.3,
	},
	"documentation": {
		"readme": 0.5, "doc": 0.4, "example": 0.3,
	},
	"refactoring": {
		"util": 0.3, "helper": 0.3, "legacy": 0.4,
	},
}

// TaskAdaptiveStrategy reorders candidates by importance plus a task
// priority bonus accrued from path substrings.
type TaskAdaptiveStrategy struct{}

func (TaskAdaptiveStrategy) Order(candidates []candidateFile, taskType string) []candidateFile {
	bonuses := taskPriorities[strings.ToLower(taskType)]
	sorted := make([]candidateFile, len(candidates))
	copy(sorted, candidates)
	weight := func(c candidateFile) float64 {
		w := c.importance
		lower := strings.ToLower(c.path)
		for substr, bonus := range bonuses {
			if strings.Contains(lower, substr) {
				w += bonus
			}
		}
		return w
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return weight(sorted[i]) > weight(sorted[j])
	})
	return sorted
}

// BudgetAllocator implements C3: given token estimates, importance
// scores, and a budget, it produces an optimized context and an
// allocation report.
type BudgetAllocator struct {
	estimator *TokenEstimator
	scorer    *ImportanceScorer
	strategy  AllocationStrategy
}

// NewBudgetAllocator wires the allocator to its estimator and scorer
// collaborators, defaulting to the priority-based strategy.
func NewBudgetAllocator(estimator *TokenEstimator, scorer *ImportanceScorer) *BudgetAllocator {
	return &BudgetAllocator{estimator: estimator, scorer: scorer, strategy: PriorityBasedStrategy{}}
}

// SetStrategy overrides the default allocation strategy.
func (a *BudgetAllocator) SetStrategy(s AllocationStrategy) {
	if s != nil {
		a.strategy = s
	}
}

// Allocate computes a proportional code budget capped at
// 80% of available tokens, importance-ordered inclusion, and real
// per-line-token truncation for high-importance overflow files.
func (a *BudgetAllocator) Allocate(context map[string]any, taskType string, taskKeywords []string, available int, force bool) AllocationResult {
	estimate := a.estimator.EstimateContext(context)
	importance := a.scorer.Score(context, taskType, taskKeywords)

	if estimate.Total <= available && !force {
		return AllocationResult{
			OptimizedContext: context,
			Report: AllocationReport{
				OriginalTokens:      estimate.Total,
				AvailableTokens:     available,
				AllocatedTokens:     estimate.Total,
				OptimizationApplied: false,
			},
			Importance: importance,
		}
	}

	optimized := make(map[string]any, len(context))
	for k, v := range context {
		optimized[k] = v
	}

	codeCtxRaw, hasCode := context["code_context"].(map[string]any)
	otherTokens := 0
	for _, n := range estimate.Sections {
		otherTokens += n
	}

	if !hasCode || estimate.CodeContext == nil {
		return AllocationResult{
			OptimizedContext: optimized,
			Report: AllocationReport{
				OriginalTokens:      estimate.Total,
				AvailableTokens:     available,
				AllocatedTokens:     otherTokens,
				OtherTokens:         otherTokens,
				OptimizationApplied: true,
			},
			Importance: importance,
		}
	}

	codeBudget := 0
	if estimate.Total > 0 {
		codeBudget = int(float64(available) * float64(estimate.CodeContext.Total) / float64(estimate.Total))
	}
	if cap := int(float64(available) * 0.8); codeBudget > cap {
		codeBudget = cap
	}

	candidates := make([]candidateFile, 0, len(codeCtxRaw))
	for path := range codeCtxRaw {
		candidates = append(candidates, candidateFile{
			path:       path,
			tokens:     estimate.CodeContext.Files[path],
			importance: importance.CodeContext[path],
		})
	}
	ordered := a.strategy.Order(candidates, taskType)

	optimizedCode := map[string]any{}
	allocatedCodeTokens := 0
	fileAllocations := map[string]FileAllocation{}

	for _, cand := range ordered {
		content, _ := codeCtxRaw[cand.path].(string)
		if allocatedCodeTokens+cand.tokens > codeBudget {
			if cand.importance > 1.5 && allocatedCodeTokens < codeBudget {
				remaining := codeBudget - allocatedCodeTokens
				language, _ := languageOf(cand.path)
				truncated, tokensUsed := a.truncate(content, language, remaining)
				optimizedCode[cand.path] = truncated
				allocatedCodeTokens += tokensUsed
				fileAllocations[cand.path] = FileAllocation{AllocatedTokens: tokensUsed, ImportanceScore: cand.importance}
			}
			continue
		}
		optimizedCode[cand.path] = content
		allocatedCodeTokens += cand.tokens
		fileAllocations[cand.path] = FileAllocation{AllocatedTokens: cand.tokens, ImportanceScore: cand.importance}
	}

	optimized["code_context"] = optimizedCode

	return AllocationResult{
		OptimizedContext: optimized,
		Report: AllocationReport{
			OriginalTokens:      estimate.Total,
			AvailableTokens:     available,
			AllocatedTokens:     allocatedCodeTokens + otherTokens,
			CodeContextTokens:   allocatedCodeTokens,
			OtherTokens:         otherTokens,
			OptimizationApplied: true,
			FileAllocations:     fileAllocations,
		},
		Importance: importance,
	}
}

// truncate splits content to fit within remaining tokens using real
// per-line token counts, never a character heuristic.
// Returns the truncated content and the tokens actually consumed.
func (a *BudgetAllocator) truncate(content, language string, remaining int) (string, int) {
	lines := strings.Split(content, "\n")
	perLine := a.estimator.LineTokenCounts(content, language)

	linesToInclude := 0
	tokensUsed := 0
	for _, n := range perLine {
		if tokensUsed+n > remaining {
			break
		}
		tokensUsed += n
		linesToInclude++
	}

	if linesToInclude < len(lines) && linesToInclude > 10 {
		half := linesToInclude / 2
		marker := fmt.Sprintf("... [truncated %d lines] ...", len(lines)-linesToInclude)
		out := append(append([]string{}, lines[:half]...), marker)
		out = append(out, lines[len(lines)-half:]...)
		return strings.Join(out, "\n"), tokensUsed
	}

	marker := fmt.Sprintf("... [truncated %d lines]", len(lines)-linesToInclude)
	out := append(append([]string{}, lines[:linesToInclude]...), marker)
	return strings.Join(out, "\n"), tokensUsed
}
