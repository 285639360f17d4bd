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
	"sync"

	"go.uber.org/zap"
)

// usagePoint is a single (timestamp, usage) sample in the monitor's
// bounded growth-rate history.
type usagePoint struct {
	at    float64
	usage int
}

// SectionBreakdown reports a single top-level section's share of the
// current context.
type SectionBreakdown struct {
	Tokens     int     `json:"tokens"`
	Percentage float64 `json:"percentage"`
	IsLarge    bool    `json:"is_large"`
}

// SizeMonitor tracks current and historical token usage against a
// fixed budget, raising threshold alerts as usage crosses 70/80/90%.
type SizeMonitor struct {
	mu sync.Mutex

	estimator *TokenEstimator
	maxTokens int

	currentUsage      int
	sectionUsage      map[string]int
	history           []usagePoint
	alertThresholds   []float64
	exceededThreshold map[float64]bool

	log *zap.Logger
}

// NewSizeMonitor constructs a monitor bounded by maxTokens, logging
// threshold crossings through log (a no-op logger if nil).
func NewSizeMonitor(estimator *TokenEstimator, maxTokens int, log *zap.Logger) *SizeMonitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &SizeMonitor{
		estimator:         estimator,
		maxTokens:         maxTokens,
		sectionUsage:      map[string]int{},
		alertThresholds:   []float64{0.7, 0.8, 0.9},
		exceededThreshold: map[float64]bool{},
		log:               log,
	}
}

// Update recomputes current usage and the per-section breakdown from
// context, appends a history sample (capped at 100), and checks
// thresholds. now is the caller-supplied clock reading, keeping the
// monitor deterministic under test.
func (m *SizeMonitor) Update(context map[string]any, now float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.currentUsage = m.estimator.TotalTokenCount(context)
	m.history = append(m.history, usagePoint{at: now, usage: m.currentUsage})
	if len(m.history) > 100 {
		m.history = m.history[len(m.history)-100:]
	}

	m.sectionUsage = make(map[string]int, len(context))
	for section, value := range context {
		switch v := value.(type) {
		case map[string]any:
			tokens := 0
			for _, inner := range v {
				if s, ok := inner.(string); ok {
					tokens += m.estimator.EstimateText(s, defaultLanguage)
				}
			}
			m.sectionUsage[section] = tokens
		case string:
			m.sectionUsage[section] = m.estimator.EstimateText(v, defaultLanguage)
		}
	}

	m.checkThresholds()
}

func (m *SizeMonitor) checkThresholds() {
	if m.maxTokens <= 0 {
		return
	}
	ratio := float64(m.currentUsage) / float64(m.maxTokens)
	for _, threshold := range m.alertThresholds {
		switch {
		case ratio >= threshold && !m.exceededThreshold[threshold]:
			m.log.Warn("context size alert",
				zap.Int("threshold_percent", int(threshold*100)),
				zap.Int("current_usage", m.currentUsage),
				zap.Int("max_tokens", m.maxTokens))
			m.exceededThreshold[threshold] = true
		case ratio < threshold && m.exceededThreshold[threshold]:
			delete(m.exceededThreshold, threshold)
		}
	}
}

// CurrentUsage returns the most recently computed total token count.
func (m *SizeMonitor) CurrentUsage() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentUsage
}

// GetSectionBreakdown returns the per-section token share of the
// current usage.
func (m *SizeMonitor) GetSectionBreakdown() map[string]SectionBreakdown {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.currentUsage
	if total < 1 {
		total = 1
	}
	out := make(map[string]SectionBreakdown, len(m.sectionUsage))
	for section, tokens := range m.sectionUsage {
		out[section] = SectionBreakdown{
			Tokens:     tokens,
			Percentage: float64(tokens) / float64(total) * 100,
			IsLarge:    float64(tokens) > float64(m.maxTokens)*0.2,
		}
	}
	return out
}

// GetGrowthRate returns tokens-per-second over the last min(5, len)
// history samples, or 0 if fewer than two samples exist or the window
// spans no time.
func (m *SizeMonitor) GetGrowthRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.growthRateLocked()
}

func (m *SizeMonitor) growthRateLocked() float64 {
	if len(m.history) < 2 {
		return 0
	}
	points := 5
	if len(m.history) < points {
		points = len(m.history)
	}
	recent := m.history[len(m.history)-points:]
	first, last := recent[0], recent[len(recent)-1]
	if last.at == first.at {
		return 0
	}
	return float64(last.usage-first.usage) / (last.at - first.at)
}

// EstimateTimeToThreshold returns seconds until usage reaches
// thresholdRatio of max_tokens at the current growth rate, nil if
// growth has stopped or reversed (whatever the current usage), and 0
// if usage is still growing and already at or past the threshold.
func (m *SizeMonitor) EstimateTimeToThreshold(thresholdRatio float64) *float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	rate := m.growthRateLocked()
	if rate <= 0 {
		return nil
	}
	thresholdTokens := float64(m.maxTokens) * thresholdRatio
	remaining := thresholdTokens - float64(m.currentUsage)
	if remaining <= 0 {
		zero := 0.0
		return &zero
	}
	seconds := remaining / rate
	return &seconds
}
