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
	"strings"
	"time"

	"go.uber.org/zap"
)

// CompressionManager runs a registered set of CompressionStrategy
// implementations and picks the smallest compression ratio that clears
// the minimum acceptable ratio, or the forced candidate regardless.
type CompressionManager struct {
	CompressionThreshold int
	MinCompressionRatio  float64
	Strategies           []CompressionStrategy

	log *zap.Logger
}

// NewCompressionManager wires the three built-in strategies:
// semantic, key-info, reference.
func NewCompressionManager(summarizationThreshold int, log *zap.Logger) *CompressionManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &CompressionManager{
		CompressionThreshold: 32000,
		MinCompressionRatio:  0.7,
		Strategies: []CompressionStrategy{
			NewSemanticSummarizer(summarizationThreshold),
			NewKeyInfoExtractor(),
			NewReferenceDeduplicator(),
		},
		log: log,
	}
}

// SetSummarizationThreshold updates the compression threshold and
// propagates the line-count threshold to any strategy that has one.
func (m *CompressionManager) SetSummarizationThreshold(threshold int) {
	m.CompressionThreshold = threshold
	for _, s := range m.Strategies {
		if sem, ok := s.(*SemanticSummarizer); ok {
			sem.Threshold = threshold
		}
	}
}

// SetCompressionRatio updates the minimum acceptable ratio.
func (m *CompressionManager) SetCompressionRatio(ratio float64) {
	m.MinCompressionRatio = ratio
}

// NeedCompression reports whether context should be compressed. If
// tokenCount is non-nil it is compared directly against the threshold;
// otherwise a coarse chars/4 estimate is used, a deliberately cheap
// gate rather than the real tokenizer.
func (m *CompressionManager) NeedCompression(context map[string]any, tokenCount *int) bool {
	if tokenCount != nil {
		return *tokenCount > m.CompressionThreshold
	}

	charCount := 0
	if files := codeContextOf(context); files != nil {
		for _, v := range files {
			if s, ok := v.(string); ok {
				charCount += len(s)
			}
		}
	}
	for key, value := range context {
		if key == "code_context" || key == "compression_metadata" {
			continue
		}
		charCount += len(stringify(value))
	}
	return float64(charCount)/4 > float64(m.CompressionThreshold)
}

// Compress tries each named (or, if none named, every registered)
// strategy and returns the best (smallest-ratio) result.
// When strategyNames is non-empty, compression is forced regardless
// of NeedCompression.
func (m *CompressionManager) Compress(context map[string]any, strategyNames []string) map[string]any {
	force := len(strategyNames) > 0

	if !force && !m.NeedCompression(context, nil) {
		return shallowCopyContext(context)
	}

	active := m.selectStrategies(strategyNames)

	var best map[string]any
	bestRatio := 1.0

	for _, strategy := range active {
		compressed := m.tryCompress(strategy, context)
		if compressed == nil {
			continue
		}
		ratio := m.ensureOverallMetadata(strategy, context, compressed)
		if ratio < bestRatio {
			best = compressed
			bestRatio = ratio
		}
	}

	if best != nil && (force || bestRatio <= m.MinCompressionRatio) {
		return best
	}

	if force && best == nil && len(active) > 0 {
		strategy := active[0]
		if compressed := m.tryCompress(strategy, context); compressed != nil {
			m.ensureOverallMetadata(strategy, context, compressed)
			return compressed
		}

		fallback := shallowCopyContext(context)
		fallback["compression_metadata"] = map[string]any{
			"overall": OverallMetadata{
				Strategy:         strategy.Name(),
				OriginalSize:     len(stringify(context)),
				CompressedSize:   len(stringify(fallback)),
				CompressionRatio: 0.95,
			},
			"status": "minimal_metadata_only",
		}
		return fallback
	}

	return shallowCopyContext(context)
}

func (m *CompressionManager) selectStrategies(names []string) []CompressionStrategy {
	if len(names) == 0 {
		return m.Strategies
	}
	var active []CompressionStrategy
	for _, name := range names {
		for _, s := range m.Strategies {
			if strings.EqualFold(s.Name(), name) {
				active = append(active, s)
			}
		}
	}
	return active
}

func (m *CompressionManager) tryCompress(strategy CompressionStrategy, context map[string]any) (result map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("compression strategy panicked",
				zap.String("strategy", strategy.Name()),
				zap.Any("recovered", r),
				zap.NamedError("class", ErrStrategyFailed))
			result = nil
		}
	}()
	return strategy.Compress(context)
}

// ensureOverallMetadata fills in compression_metadata.overall when a
// strategy omitted it, recomputing sizes from the actual output, and
// returns the resulting ratio.
func (m *CompressionManager) ensureOverallMetadata(strategy CompressionStrategy, original, compressed map[string]any) float64 {
	meta, ok := compressed["compression_metadata"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		compressed["compression_metadata"] = meta
	}

	if overall, ok := meta["overall"].(OverallMetadata); ok {
		return overall.CompressionRatio
	}

	originalSize, compressedSize := 0, 0
	if origFiles := codeContextOf(original); origFiles != nil {
		if compFiles := codeContextOf(compressed); compFiles != nil {
			for _, v := range origFiles {
				if s, ok := v.(string); ok {
					originalSize += len(s)
				}
			}
			for _, v := range compFiles {
				if s, ok := v.(string); ok {
					compressedSize += len(s)
				}
			}
		}
	}
	for key, v := range original {
		if key == "code_context" || key == "compression_metadata" {
			continue
		}
		originalSize += len(stringify(v))
	}
	for key, v := range compressed {
		if key == "code_context" || key == "compression_metadata" {
			continue
		}
		compressedSize += len(stringify(v))
	}

	ratio := compressionRatio(originalSize, compressedSize)
	meta["overall"] = OverallMetadata{
		Strategy:         strategy.Name(),
		OriginalSize:     originalSize,
		CompressedSize:   compressedSize,
		CompressionRatio: ratio,
	}
	return ratio
}

// Decompress dispatches to the strategy named in
// compression_metadata.overall.strategy, matched case-insensitively.
func (m *CompressionManager) Decompress(context map[string]any) map[string]any {
	result := shallowCopyContext(context)

	cm, hasMeta := context["compression_metadata"].(map[string]any)
	overall, hasOverall := cm["overall"].(OverallMetadata)
	if !hasMeta || !hasOverall {
		meta := decompressionMetadataSection(result)
		meta["decompression_skipped"] = map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"reason":    "content was not compressed or missing compression metadata",
		}
		return result
	}

	for _, strategy := range m.Strategies {
		if !strings.EqualFold(strategy.Name(), overall.Strategy) {
			continue
		}
		result = strategy.Decompress(context)
		meta := decompressionMetadataSection(result)
		meta[strings.ToLower(strategy.Name())+"_decompression"] = map[string]any{
			"timestamp":         time.Now().UTC().Format(time.RFC3339),
			"strategy_used":     strategy.Name(),
			"compression_ratio": overall.CompressionRatio,
		}
		return result
	}

	meta := decompressionMetadataSection(result)
	meta["decompression_error"] = map[string]any{
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
		"error":                fmt.Sprintf("strategy %q not found in available strategies", overall.Strategy),
		"available_strategies": m.GetAvailableStrategies(),
	}
	return result
}

// GetAvailableStrategies lists every registered strategy's name.
func (m *CompressionManager) GetAvailableStrategies() []string {
	names := make([]string, 0, len(m.Strategies))
	for _, s := range m.Strategies {
		names = append(names, s.Name())
	}
	return names
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
