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
	"fmt"
	"sort"
	"strings"
)

const referenceHeaderText = "// Reference-Compressed Content\n" +
	"// This file contains references to repeated patterns\n" +
	"// References are marked with @REFn@ tags\n"

// ReferenceDeduplicator replaces repeated N-line windows across all
// files with shared `@REFk@` reference ids. Lossless for
// collision-free hashes.
type ReferenceDeduplicator struct {
	MinPatternLength int
}

// NewReferenceDeduplicator constructs a deduplicator with the default
// 10-line window (adaptively reduced to 2-5 lines for small corpora).
func NewReferenceDeduplicator() *ReferenceDeduplicator {
	return &ReferenceDeduplicator{MinPatternLength: 10}
}

func (r *ReferenceDeduplicator) Name() string { return "reference_compressor" }

// hashContent hashes a candidate window with SHA-256, hex-encoded.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

type patternInfo struct {
	content string
	count   int
}

func (r *ReferenceDeduplicator) Compress(context map[string]any) map[string]any {
	compressed := shallowCopyContext(context)
	files := codeContextOf(context)
	if files == nil {
		return compressed
	}

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	referenceMap, refOrder := r.identifyPatterns(files, paths)

	compressedFiles := map[string]any{}
	var originalSize, compressedSize int
	for _, path := range paths {
		content, _ := files[path].(string)
		originalSize += len(content)
		out := r.applyReferences(content, referenceMap, refOrder)
		compressedFiles[path] = out
		compressedSize += len(out)
	}
	compressed["code_context"] = compressedFiles

	meta := compressionMetadataSection(compressed)
	meta["reference_map"] = referenceMap
	meta["overall"] = OverallMetadata{
		Strategy:         r.Name(),
		OriginalSize:     originalSize,
		CompressedSize:   compressedSize,
		CompressionRatio: compressionRatio(originalSize, compressedSize),
	}
	return compressed
}

func (r *ReferenceDeduplicator) Decompress(context map[string]any) map[string]any {
	decompressed := shallowCopyContext(context)

	cm, _ := context["compression_metadata"].(map[string]any)
	refMapRaw, ok := cm["reference_map"]
	if !ok {
		return decompressed
	}
	referenceMap, _ := refMapRaw.(map[string]any)

	files := codeContextOf(context)
	if files != nil {
		expanded := map[string]any{}
		for path, raw := range files {
			content, _ := raw.(string)
			expanded[path] = r.expandReferences(content, referenceMap)
		}
		decompressed["code_context"] = expanded

		meta := decompressionMetadataSection(decompressed)
		meta["reference_decompression"] = map[string]any{
			"references_expanded": len(referenceMap),
		}
	}

	return decompressed
}

// identifyPatterns implements the two-stage (fixed, then adaptive)
// window-hashing pass. refOrder preserves discovery order so ref ids
// are assigned deterministically despite map iteration order.
func (r *ReferenceDeduplicator) identifyPatterns(files map[string]any, orderedPaths []string) (map[string]any, []string) {
	var allLines []string
	for _, path := range orderedPaths {
		content, _ := files[path].(string)
		if content == "" {
			continue
		}
		allLines = append(allLines, strings.Split(content, "\n")...)
	}

	windowLen := r.MinPatternLength
	if windowLen <= 0 {
		windowLen = 10
	}

	patterns, order := r.scanWindows(allLines, windowLen, windowLen*5)

	anyRepeating := false
	for _, h := range order {
		if patterns[h].count > 1 {
			anyRepeating = true
			break
		}
	}
	if !anyRepeating {
		adaptive := len(allLines) / 10
		if adaptive > 5 {
			adaptive = 5
		}
		if adaptive < 2 {
			adaptive = 2
		}
		patterns, order = r.scanWindows(allLines, adaptive, 10)
	}

	referenceMap := map[string]any{}
	var refOrder []string
	refID := 1
	for _, h := range order {
		p := patterns[h]
		if p.count > 1 && len(p.content) > 10 {
			key := fmt.Sprintf("@REF%d@", refID)
			referenceMap[key] = p.content
			refOrder = append(refOrder, key)
			refID++
		}
	}
	return referenceMap, refOrder
}

// scanWindows hashes every windowLen-line sliding window, skipping
// windows shorter than minChars, returning discovery-ordered hashes
// alongside the pattern table.
func (r *ReferenceDeduplicator) scanWindows(lines []string, windowLen, minChars int) (map[string]*patternInfo, []string) {
	patterns := map[string]*patternInfo{}
	var order []string
	if windowLen <= 0 || len(lines) < windowLen {
		return patterns, order
	}
	for i := 0; i <= len(lines)-windowLen; i++ {
		chunk := strings.Join(lines[i:i+windowLen], "\n")
		if len(chunk) < minChars {
			continue
		}
		h := hashContent(chunk)
		if p, ok := patterns[h]; ok {
			p.count++
		} else {
			patterns[h] = &patternInfo{content: chunk, count: 1}
			order = append(order, h)
		}
	}
	return patterns, order
}

func (r *ReferenceDeduplicator) applyReferences(content string, referenceMap map[string]any, refOrder []string) string {
	if len(referenceMap) == 0 || content == "" {
		return content
	}

	compressed := content
	changed := false
	for _, refKey := range refOrder {
		pattern, _ := referenceMap[refKey].(string)
		if pattern != "" && strings.Contains(compressed, pattern) {
			replacement := fmt.Sprintf("\n// %s - Reference to a repeated pattern\n", refKey)
			compressed = strings.ReplaceAll(compressed, pattern, replacement)
			changed = true
		}
	}

	if changed {
		compressed = referenceHeaderText + "\n" + compressed
	}
	return compressed
}

func (r *ReferenceDeduplicator) expandReferences(content string, referenceMap map[string]any) string {
	if len(referenceMap) == 0 || content == "" {
		return content
	}

	decompressed := content
	for refKey, raw := range referenceMap {
		pattern, _ := raw.(string)
		marker := fmt.Sprintf("// %s - Reference to a repeated pattern", refKey)
		decompressed = strings.ReplaceAll(decompressed, marker, pattern)
	}

	if strings.HasPrefix(decompressed, referenceHeaderText+"\n") {
		decompressed = strings.TrimPrefix(decompressed, referenceHeaderText+"\n")
	}
	return decompressed
}
