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

	"github.com/stretchr/testify/require"
)

func newTestMonitor(maxTokens int) *SizeMonitor {
	return NewSizeMonitor(NewTokenEstimator(nil), maxTokens, nil)
}

func TestMonitorUpdate_TracksUsage(t *testing.T) {
	m := newTestMonitor(10000)
	context := map[string]any{
		"code_context": map[string]any{"a.py": "def f(): pass"},
		"metadata":     map[string]any{"task": "demo"},
	}

	m.Update(context, 100)
	require.Positive(t, m.CurrentUsage())

	breakdown := m.GetSectionBreakdown()
	require.Contains(t, breakdown, "code_context")
	require.Contains(t, breakdown, "metadata")
	for section, b := range breakdown {
		require.Positive(t, b.Tokens, section)
		require.GreaterOrEqual(t, b.Percentage, 0.0)
	}
}

func TestMonitor_GrowthRate(t *testing.T) {
	m := newTestMonitor(100000)

	grow := func(lines int, at float64) {
		m.Update(map[string]any{
			"code_context": map[string]any{"a.py": repeatLines("value = 1", lines)},
		}, at)
	}

	grow(10, 0)
	grow(50, 10)
	grow(100, 20)

	require.Positive(t, m.GetGrowthRate(), "usage grew, rate must be positive")
}

func TestMonitor_TimeToThreshold(t *testing.T) {
	m := newTestMonitor(100000)

	grow := func(lines int, at float64) {
		m.Update(map[string]any{
			"code_context": map[string]any{"a.py": repeatLines("value = 1", lines)},
		}, at)
	}

	// Flat usage: no estimate possible.
	grow(10, 0)
	grow(10, 10)
	require.Nil(t, m.EstimateTimeToThreshold(0.7))

	// Rising usage: a finite, non-negative estimate.
	grow(200, 20)
	grow(400, 30)
	eta := m.EstimateTimeToThreshold(0.7)
	require.NotNil(t, eta)
	require.GreaterOrEqual(t, *eta, 0.0)
}

func TestMonitor_HistoryBounded(t *testing.T) {
	m := newTestMonitor(10000)
	context := map[string]any{"metadata": map[string]any{"k": "v"}}

	for i := 0; i < 150; i++ {
		m.Update(context, float64(i))
	}
	require.LessOrEqual(t, len(m.history), 100)
}
