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
	"testing"

	"github.com/stretchr/testify/require"
)

// pythonFixture builds a Python file with imports, one class with
// methods, and top-level functions, totaling well over `lines` lines.
func pythonFixture(lines int) string {
	var sb strings.Builder
	sb.WriteString("import os\nimport sys\nfrom typing import Any\n\n")
	sb.WriteString("class Processor:\n")
	sb.WriteString("    @staticmethod\n")
	sb.WriteString("    def configure(options):\n")
	sb.WriteString("        return dict(options)\n\n")
	sb.WriteString("    def run(self, batch):\n")
	sb.WriteString("        total = 0\n")
	sb.WriteString("        for item in batch:\n")
	sb.WriteString("            total += item\n")
	sb.WriteString("        return total\n\n")
	sb.WriteString("def main():\n")
	for i := 0; sb.Len() < lines*30; i++ {
		sb.WriteString(fmt.Sprintf("    step_%d = prepare(%d)\n", i, i))
	}
	sb.WriteString("\nRESULT = main()\n")
	return sb.String()
}

func TestSemanticSummarizer_SummarizesLongPython(t *testing.T) {
	s := NewSemanticSummarizer(200)
	original := pythonFixture(300)
	require.Greater(t, len(strings.Split(original, "\n")), 200)

	context := map[string]any{"code_context": map[string]any{"proc.py": original}}
	compressed := s.Compress(context)

	code := compressed["code_context"].(map[string]any)
	summary := code["proc.py"].(string)

	require.Contains(t, summary, "import os")
	require.Contains(t, summary, "import sys")
	require.Contains(t, summary, "from typing import Any")
	require.Contains(t, summary, "class Processor:")
	require.Contains(t, summary, "def configure(options):")
	require.Contains(t, summary, "@staticmethod")
	require.Contains(t, summary, "# Summarized")
	require.Less(t, len(summary), len(original))

	meta := compressed["compression_metadata"].(map[string]any)
	summarized := meta["summarized_files"].(map[string]any)
	stats := summarized["proc.py"].(map[string]any)
	require.Less(t, stats["compression_ratio"].(float64), 1.0)

	overall := meta["overall"].(OverallMetadata)
	require.Equal(t, "semantic_summarizer", overall.Strategy)
	require.Equal(t, len(original), overall.OriginalSize)
	require.Equal(t, len(summary), overall.CompressedSize)
}

func TestSemanticSummarizer_ShortFilesUntouched(t *testing.T) {
	s := NewSemanticSummarizer(200)
	context := map[string]any{"code_context": map[string]any{"tiny.py": "x = 1\n"}}

	compressed := s.Compress(context)
	code := compressed["code_context"].(map[string]any)
	require.Equal(t, "x = 1\n", code["tiny.py"])
}

func TestSemanticSummarizer_DecompressIsLossy(t *testing.T) {
	s := NewSemanticSummarizer(200)
	compressed := s.Compress(map[string]any{
		"code_context": map[string]any{"proc.py": pythonFixture(300)},
	})

	decompressed := s.Decompress(compressed)

	dm := decompressed["decompression_metadata"].(map[string]any)
	info := dm["semantic_summarization"].(map[string]any)
	require.Contains(t, info["note"], "lossy")
	require.Contains(t, info["note"], "cannot be fully restored")

	// Content itself is returned unchanged.
	require.Equal(t,
		compressed["code_context"].(map[string]any)["proc.py"],
		decompressed["code_context"].(map[string]any)["proc.py"])
}

func TestKeyInfoExtractor_KeepsDeclarations(t *testing.T) {
	k := NewKeyInfoExtractor()
	original := pythonFixture(300)
	context := map[string]any{"code_context": map[string]any{"proc.py": original}}

	compressed := k.Compress(context)
	code := compressed["code_context"].(map[string]any)
	extracted := code["proc.py"].(string)

	require.Contains(t, extracted, "import os")
	require.Contains(t, extracted, "class Processor")
	require.Contains(t, extracted, "def run")
	require.Contains(t, extracted, "proc.py", "header must record the source path")
	require.Less(t, len(extracted), len(original))
}

func TestKeyInfoExtractor_DecompressNotesIrreversibility(t *testing.T) {
	k := NewKeyInfoExtractor()
	compressed := k.Compress(map[string]any{
		"code_context": map[string]any{"proc.py": pythonFixture(300)},
	})

	decompressed := k.Decompress(compressed)
	dm := decompressed["decompression_metadata"].(map[string]any)
	info := dm["key_info_extraction"].(map[string]any)
	require.Contains(t, info["note"], "lossy")
}

// helperBlock is a 12-line block long enough to clear the minimum
// pattern length for the default 10-line window.
func helperBlock() string {
	lines := make([]string, 12)
	for i := range lines {
		lines[i] = fmt.Sprintf("    shared_helper_step_%02d = normalize(records[%d], strict=True)", i, i)
	}
	return strings.Join(lines, "\n")
}

func TestReferenceDeduplicator_SharedBlockAcrossFiles(t *testing.T) {
	r := NewReferenceDeduplicator()

	files := map[string]any{}
	for i := 0; i < 4; i++ {
		files[fmt.Sprintf("mod%d.py", i)] = fmt.Sprintf(
			"def entry_%d():\n%s\n    return finish_%d()\n", i, helperBlock(), i)
	}
	context := map[string]any{"code_context": files}

	compressed := r.Compress(context)
	code := compressed["code_context"].(map[string]any)

	for path, raw := range code {
		content := raw.(string)
		require.Contains(t, content, "@REF1@", "every file must reference the shared block: %s", path)
		require.Contains(t, content, referenceHeaderText)
	}

	meta := compressed["compression_metadata"].(map[string]any)
	refMap := meta["reference_map"].(map[string]any)
	require.NotEmpty(t, refMap)

	overall := meta["overall"].(OverallMetadata)
	require.Equal(t, "reference_compressor", overall.Strategy)
	require.Less(t, overall.CompressionRatio, 1.0)
}

// Round trip: expanding references restores all original lines, with
// only header/blank-line framing added.
func TestReferenceDeduplicator_RoundTrip(t *testing.T) {
	r := NewReferenceDeduplicator()

	files := map[string]any{}
	for i := 0; i < 4; i++ {
		files[fmt.Sprintf("mod%d.py", i)] = fmt.Sprintf(
			"def entry_%d():\n%s\n    return finish_%d()\n", i, helperBlock(), i)
	}
	context := map[string]any{"code_context": files}

	decompressed := r.Decompress(r.Compress(context))
	restored := decompressed["code_context"].(map[string]any)

	normalize := func(s string) string {
		var kept []string
		for _, line := range strings.Split(s, "\n") {
			if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "// Reference") ||
				strings.HasPrefix(line, "// This file") || strings.HasPrefix(line, "// References") {
				continue
			}
			kept = append(kept, line)
		}
		return strings.Join(kept, "\n")
	}

	for path, raw := range files {
		require.Equal(t, normalize(raw.(string)), normalize(restored[path].(string)),
			"round trip must restore %s", path)
	}
}

func TestReferenceDeduplicator_NoRepeatsNoChange(t *testing.T) {
	r := NewReferenceDeduplicator()
	context := map[string]any{
		"code_context": map[string]any{"only.py": "unique_value = 1\n"},
	}

	compressed := r.Compress(context)
	code := compressed["code_context"].(map[string]any)
	require.Equal(t, "unique_value = 1\n", code["only.py"])
}
