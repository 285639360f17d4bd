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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Metric kinds. Each kind has its own bounded ring buffer.
const (
	MetricTokenUsage           = "token_usage"
	MetricSearchRelevance      = "search_relevance"
	MetricSummarizationQuality = "summarization_quality"
	MetricResponseLatency      = "response_latency"
	MetricEmbeddingLatency     = "embedding_latency"
	MetricOptimizationDuration = "optimization_duration"
	MetricContextRelevance     = "context_relevance"
)

var metricKinds = []string{
	MetricTokenUsage,
	MetricSearchRelevance,
	MetricSummarizationQuality,
	MetricResponseLatency,
	MetricEmbeddingLatency,
	MetricOptimizationDuration,
	MetricContextRelevance,
}

const (
	defaultMetricsWindow = 50
	metricsFlushInterval = 300.0 // seconds
	metricsRetention     = 7 * 24 * time.Hour
)

// MetricEvent is one tagged sample in a kind's ring buffer.
type MetricEvent struct {
	ID        string         `json:"id"`
	Timestamp float64        `json:"timestamp"`
	Fields    map[string]any `json:"fields"`
}

// Recommendation is one bounded, confidence-tagged config suggestion
// from RecommendConfigImprovements. Confidence is one of low, medium,
// high; only medium/high may be auto-applied by the Adaptive Config
// Manager.
type Recommendation struct {
	Path       string  `json:"path"`
	Current    float64 `json:"current"`
	Suggested  float64 `json:"suggested"`
	Confidence string  `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Trend reports the direction of a metric field over the buffered
// window, comparing the first half against the second.
type Trend struct {
	Direction     string  `json:"direction"` // improving, stable, declining
	PercentChange float64 `json:"percent_change"`
	Samples       int     `json:"samples"`
}

// MetricsCollector keeps bounded in-memory metric streams and
// periodically persists them to timestamped JSON files.
type MetricsCollector struct {
	mu        sync.Mutex
	buffers   map[string][]MetricEvent
	window    int
	dir       string
	lastFlush float64
	now       func() time.Time
	log       *zap.Logger
}

// NewMetricsCollector creates a collector persisting under dir. An
// empty dir disables disk persistence; in-memory operation is always
// authoritative.
func NewMetricsCollector(dir string, log *zap.Logger) *MetricsCollector {
	if log == nil {
		log = zap.NewNop()
	}
	buffers := make(map[string][]MetricEvent, len(metricKinds))
	for _, kind := range metricKinds {
		buffers[kind] = nil
	}
	return &MetricsCollector{
		buffers: buffers,
		window:  defaultMetricsWindow,
		dir:     dir,
		now:     time.Now,
		log:     log,
	}
}

// SetWindow overrides the per-kind buffer size (default 50).
func (m *MetricsCollector) SetWindow(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = n
}

// setClock pins time for tests.
func (m *MetricsCollector) setClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// LogTokenUsage records total/section token counts for one context.
// maxTokens, when positive, also yields a utilization_ratio field that
// feeds the token-utilization recommendation rules.
func (m *MetricsCollector) LogTokenUsage(totalTokens, maxTokens int, sections map[string]int) {
	fields := map[string]any{"total_tokens": totalTokens}
	if maxTokens > 0 {
		fields["max_tokens"] = maxTokens
		fields["utilization_ratio"] = float64(totalTokens) / float64(maxTokens)
	}
	if sections != nil {
		fields["sections"] = sections
	}
	m.addMetric(MetricTokenUsage, fields)
}

// LogSearchRelevance records a relevance score for one search result
// set.
func (m *MetricsCollector) LogSearchRelevance(query string, relevance float64, resultCount int) {
	m.addMetric(MetricSearchRelevance, map[string]any{
		"query":        query,
		"relevance":    relevance,
		"result_count": resultCount,
	})
}

// LogSummarizationQuality records a quality score for one
// summarization pass.
func (m *MetricsCollector) LogSummarizationQuality(quality, compressionRatio float64) {
	m.addMetric(MetricSummarizationQuality, map[string]any{
		"quality":           quality,
		"compression_ratio": compressionRatio,
	})
}

// LogResponseLatency records one model-response latency in seconds.
func (m *MetricsCollector) LogResponseLatency(seconds float64) {
	m.addMetric(MetricResponseLatency, map[string]any{"latency_seconds": seconds})
}

// LogEmbeddingLatency records one embedding-call latency in seconds.
func (m *MetricsCollector) LogEmbeddingLatency(seconds float64, chunkCount int) {
	m.addMetric(MetricEmbeddingLatency, map[string]any{
		"latency_seconds": seconds,
		"chunk_count":     chunkCount,
	})
}

// LogOptimizationDuration records one background-cycle duration.
func (m *MetricsCollector) LogOptimizationDuration(seconds float64, tokensFreed int) {
	m.addMetric(MetricOptimizationDuration, map[string]any{
		"duration_seconds": seconds,
		"tokens_freed":     tokensFreed,
	})
}

// LogContextRelevance records how relevant a gathered context proved
// for a task, tagged with the hash of the configuration that produced
// it so AnalyzeConfigPerformance can aggregate per config.
func (m *MetricsCollector) LogContextRelevance(relevance float64, config map[string]any) {
	fields := map[string]any{"relevance": relevance}
	if config != nil {
		fields["config_hash"] = ConfigHash(config)
	}
	m.addMetric(MetricContextRelevance, fields)
}

// addMetric appends an event under kind, enforces the window, and
// flushes to disk when the flush interval has elapsed.
func (m *MetricsCollector) addMetric(kind string, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	ts := float64(now.UnixNano()) / 1e9
	event := MetricEvent{ID: uuid.NewString(), Timestamp: ts, Fields: fields}

	buf := append(m.buffers[kind], event)
	if len(buf) > m.window {
		buf = buf[len(buf)-m.window:]
	}
	m.buffers[kind] = buf

	if m.dir != "" && ts-m.lastFlush >= metricsFlushInterval {
		m.flushLocked(now)
		m.lastFlush = ts
	}
}

// Flush persists the current buffers immediately.
func (m *MetricsCollector) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dir == "" {
		return
	}
	now := m.now()
	m.flushLocked(now)
	m.lastFlush = float64(now.UnixNano()) / 1e9
}

func (m *MetricsCollector) flushLocked(now time.Time) {
	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		m.log.Warn("metrics dir unavailable", zap.Error(err))
		return
	}
	path := filepath.Join(m.dir, fmt.Sprintf("metrics_%s.json", now.Format("20060102_150405")))
	b, err := json.MarshalIndent(m.buffers, "", "  ")
	if err != nil {
		m.log.Warn("metrics not serializable", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		m.log.Warn("metrics flush failed", zap.Error(err))
		return
	}
	m.pruneOldFilesLocked(now)
}

// pruneOldFilesLocked deletes metrics files older than the retention
// window.
func (m *MetricsCollector) pruneOldFilesLocked(now time.Time) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	cutoff := now.Add(-metricsRetention)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "metrics_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
				m.log.Warn("stale metrics file not removed",
					zap.String("file", name), zap.Error(err))
			}
		}
	}
}

// Events returns a copy of the buffered events for kind.
func (m *MetricsCollector) Events(kind string) []MetricEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := m.buffers[kind]
	out := make([]MetricEvent, len(buf))
	copy(out, buf)
	return out
}

// GetMetricsSummary returns per-kind aggregates: count plus
// avg/min/max/median for every numeric field observed in that kind's
// buffer.
func (m *MetricsCollector) GetMetricsSummary() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := map[string]any{}
	for _, kind := range metricKinds {
		buf := m.buffers[kind]
		kindSummary := map[string]any{"count": len(buf)}
		for field, values := range numericFieldValues(buf) {
			kindSummary[field] = map[string]any{
				"avg":    mean(values),
				"min":    minOf(values),
				"max":    maxOf(values),
				"median": median(values),
			}
		}
		summary[kind] = kindSummary
	}
	return summary
}

// AnalyzeConfigPerformance aggregates context-relevance samples tagged
// with the given configuration's hash.
func (m *MetricsCollector) AnalyzeConfigPerformance(config map[string]any) map[string]any {
	hash := ConfigHash(config)

	m.mu.Lock()
	defer m.mu.Unlock()

	var relevances []float64
	for _, event := range m.buffers[MetricContextRelevance] {
		if h, _ := event.Fields["config_hash"].(string); h != hash {
			continue
		}
		if r, ok := toNumber(event.Fields["relevance"]); ok {
			relevances = append(relevances, r)
		}
	}

	result := map[string]any{
		"config_hash":  hash,
		"sample_count": len(relevances),
	}
	if len(relevances) > 0 {
		result["avg_relevance"] = mean(relevances)
		result["min_relevance"] = minOf(relevances)
		result["max_relevance"] = maxOf(relevances)
	}
	return result
}

// RecommendConfigImprovements inspects recent samples and returns
// bounded suggestions against current. Each rule carries a fixed
// confidence label; suggested values stay inside the schema bounds.
func (m *MetricsCollector) RecommendConfigImprovements(current map[string]any) []Recommendation {
	m.mu.Lock()
	relevance := numericFieldValues(m.buffers[MetricContextRelevance])["relevance"]
	utilization := numericFieldValues(m.buffers[MetricTokenUsage])["utilization_ratio"]
	searchRelevance := numericFieldValues(m.buffers[MetricSearchRelevance])["relevance"]
	m.mu.Unlock()

	var recs []Recommendation

	// Low context relevance: raise chunk overlap for continuity.
	if len(relevance) > 0 && mean(relevance) < 0.7 {
		overlap := configNumberAt(current, "context_management", "embedding", "chunk_overlap")
		suggested := clamp(overlap*1.2, 0, 1000)
		if suggested != overlap {
			recs = append(recs, Recommendation{
				Path:       "context_management.embedding.chunk_overlap",
				Current:    overlap,
				Suggested:  suggested,
				Confidence: "medium",
				Reason: fmt.Sprintf("increase chunk_overlap to improve context continuity: overall context relevance %.2f < 0.7",
					mean(relevance)),
			})
		}
	}

	// Token utilization: near-saturated budgets summarize earlier;
	// heavily under-used budgets shrink chunks.
	if len(utilization) > 0 {
		avgUtilization := mean(utilization)
		switch {
		case avgUtilization > 0.95:
			threshold := configNumberAt(current, "context_management", "summarization", "threshold")
			suggested := clamp(threshold*1.2, 500, 5000)
			if suggested != threshold {
				recs = append(recs, Recommendation{
					Path:       "context_management.summarization.threshold",
					Current:    threshold,
					Suggested:  suggested,
					Confidence: "high",
					Reason: fmt.Sprintf("increase summarization threshold to reduce context pressure: token utilization %.2f > 0.95",
						avgUtilization),
				})
			}
		case avgUtilization < 0.6:
			size := configNumberAt(current, "context_management", "embedding", "chunk_size")
			suggested := clamp(size*0.9, 100, 3000)
			if suggested != size {
				recs = append(recs, Recommendation{
					Path:       "context_management.embedding.chunk_size",
					Current:    size,
					Suggested:  suggested,
					Confidence: "medium",
					Reason: fmt.Sprintf("decrease chunk_size to optimize token usage: token utilization %.2f < 0.6",
						avgUtilization),
				})
			}
		}
	}

	// Low search relevance: nudge BM25 term saturation.
	if len(searchRelevance) > 0 && mean(searchRelevance) < 0.7 {
		k1 := configNumberAt(current, "context_management", "search", "bm25", "k1")
		suggested := clamp(k1+0.2, 0.1, 5.0)
		if suggested != k1 {
			recs = append(recs, Recommendation{
				Path:       "context_management.search.bm25.k1",
				Current:    k1,
				Suggested:  suggested,
				Confidence: "medium",
				Reason: fmt.Sprintf("adjust BM25 parameters to improve search relevance: mean top relevance %.2f < 0.7",
					mean(searchRelevance)),
			})
		}
	}

	return recs
}

// CalculateTrend splits kind's buffered samples of field into halves
// and reports the direction with percent change. Fewer than 4 samples
// yields a stable trend with zero change.
func (m *MetricsCollector) CalculateTrend(kind, field string) Trend {
	m.mu.Lock()
	values := numericFieldValues(m.buffers[kind])[field]
	m.mu.Unlock()

	if len(values) < 4 {
		return Trend{Direction: "stable", Samples: len(values)}
	}

	mid := len(values) / 2
	first, second := mean(values[:mid]), mean(values[mid:])

	var pct float64
	if first != 0 {
		pct = (second - first) / math.Abs(first) * 100
	} else if second != 0 {
		pct = 100
	}

	direction := "stable"
	switch {
	case pct > 5:
		direction = "improving"
	case pct < -5:
		direction = "declining"
	}
	return Trend{Direction: direction, PercentChange: pct, Samples: len(values)}
}

// ConfigHash returns a short stable hash of a configuration. JSON
// marshaling sorts map keys, so identical configs hash identically.
func ConfigHash(config map[string]any) string {
	b, err := json.Marshal(config)
	if err != nil {
		return "unhashable"
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// numericFieldValues collects, per field name, every numeric value in
// the buffer, in order.
func numericFieldValues(events []MetricEvent) map[string][]float64 {
	out := map[string][]float64{}
	for _, event := range events {
		for field, raw := range event.Fields {
			if v, ok := toNumber(raw); ok {
				out[field] = append(out[field], v)
			}
		}
	}
	return out
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// configNumberAt reads a nested numeric config value, returning 0 when
// absent.
func configNumberAt(config map[string]any, path ...string) float64 {
	var cur any = config
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0
		}
		cur = m[key]
	}
	v, _ := toNumber(cur)
	return v
}
