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

// CompressionStrategy is the pluggable interface behind C6: each
// strategy compresses code_context in place and attaches its own
// compression_metadata.overall block, and provides a best-effort
// (possibly lossy) decompress. Strategies are a closed set.
type CompressionStrategy interface {
	// Name identifies the strategy for compression_metadata.overall.strategy
	// and for decompress dispatch; matched case-insensitively.
	Name() string
	Compress(context map[string]any) map[string]any
	Decompress(context map[string]any) map[string]any
}

// OverallMetadata is the compression_metadata.overall block every
// strategy must attach.
type OverallMetadata struct {
	Strategy         string  `json:"strategy"`
	OriginalSize     int     `json:"original_size"`
	CompressedSize   int     `json:"compressed_size"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// compressionRatio computes compressed/original, defined as 1.0 when
// original is zero.
func compressionRatio(original, compressed int) float64 {
	if original <= 0 {
		return 1.0
	}
	return float64(compressed) / float64(original)
}

// compressionMetadataSection returns (and lazily creates) the
// compression_metadata map nested in context.
func compressionMetadataSection(context map[string]any) map[string]any {
	meta, ok := context["compression_metadata"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		context["compression_metadata"] = meta
	}
	return meta
}

// decompressionMetadataSection returns (and lazily creates) the
// decompression_metadata map nested in context.
func decompressionMetadataSection(context map[string]any) map[string]any {
	meta, ok := context["decompression_metadata"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		context["decompression_metadata"] = meta
	}
	return meta
}

func shallowCopyContext(context map[string]any) map[string]any {
	out := make(map[string]any, len(context))
	for k, v := range context {
		out[k] = v
	}
	return out
}

func codeContextOf(context map[string]any) map[string]any {
	files, _ := context["code_context"].(map[string]any)
	return files
}

func languageForPath(path string) string {
	lang, ok := languageOf(path)
	if !ok {
		return "unknown"
	}
	return lang
}
