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
	"regexp"
	"sort"
	"strings"
	"time"
)

// keyInfoPatterns is the closed per-language regex set behind
// extraction; "generic" is the fallback for unrecognized
// languages.
var keyInfoPatterns = map[string][]*regexp.Regexp{
	"python": {
		regexp.MustCompile(`^\s*import\s+.*$`),
		regexp.MustCompile(`^\s*from\s+.*\s+import\s+.*$`),
		regexp.MustCompile(`^\s*class\s+\w+.*:$`),
		regexp.MustCompile(`^\s*def\s+\w+\s*\(.*\):$`),
		regexp.MustCompile(`^\s*@.*$`),
		regexp.MustCompile(`(?s)^\s*""".*?"""$`),
	},
	"javascript": {
		regexp.MustCompile(`^\s*import\s+.*$`),
		regexp.MustCompile(`^\s*export\s+.*$`),
		regexp.MustCompile(`^\s*class\s+\w+.*\{$`),
		regexp.MustCompile(`^\s*function\s+\w+\s*\(.*\)\s*\{$`),
		regexp.MustCompile(`^\s*const\s+\w+\s*=\s*\(.*\)\s*=>.*$`),
		regexp.MustCompile(`(?s)^\s*/\*\*.*?\*/$`),
	},
	"generic": {
		regexp.MustCompile(`^\s*function\s+\w+`),
		regexp.MustCompile(`^\s*class\s+\w+`),
		regexp.MustCompile(`^\s*\w+\s*\(`),
		regexp.MustCompile(`^\s*//\s*\w+`),
	},
}

// KeyInfoExtractor selects structurally significant lines (imports,
// class/function headers, decorators, docstrings) per a closed
// per-language regex set, interpolating indentation markers to retain
// nesting cues. Lossy.
type KeyInfoExtractor struct {
	PreserveStructure bool
}

// NewKeyInfoExtractor constructs an extractor with structure
// preservation enabled, matching the Python default.
func NewKeyInfoExtractor() *KeyInfoExtractor {
	return &KeyInfoExtractor{PreserveStructure: true}
}

func (k *KeyInfoExtractor) Name() string { return "key_info_extractor" }

func (k *KeyInfoExtractor) Compress(context map[string]any) map[string]any {
	compressed := shallowCopyContext(context)
	files := codeContextOf(context)
	if files == nil {
		return compressed
	}

	compressedFiles := map[string]any{}
	var originalSize, compressedSize int
	for path, raw := range files {
		content, _ := raw.(string)
		originalSize += len(content)
		extracted := k.extractKeyInfo(content, path)
		compressedFiles[path] = extracted
		compressedSize += len(extracted)
	}
	compressed["code_context"] = compressedFiles

	meta := compressionMetadataSection(compressed)
	meta["overall"] = OverallMetadata{
		Strategy:         k.Name(),
		OriginalSize:     originalSize,
		CompressedSize:   compressedSize,
		CompressionRatio: compressionRatio(originalSize, compressedSize),
	}
	return compressed
}

func (k *KeyInfoExtractor) Decompress(context map[string]any) map[string]any {
	decompressed := shallowCopyContext(context)
	meta := decompressionMetadataSection(decompressed)

	var extractedFiles []string
	if files := codeContextOf(context); files != nil {
		for path := range files {
			extractedFiles = append(extractedFiles, path)
		}
		sort.Strings(extractedFiles)
	}

	overall := OverallMetadata{CompressionRatio: 1.0}
	if cm, ok := context["compression_metadata"].(map[string]any); ok {
		if o, ok := cm["overall"].(OverallMetadata); ok {
			overall = o
		}
	}

	var patternsUsed []string
	for lang, patterns := range keyInfoPatterns {
		for _, p := range patterns {
			patternsUsed = append(patternsUsed, lang+": "+p.String())
		}
	}

	meta["key_info_extraction"] = map[string]any{
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"status":             "completed",
		"decompression_type": k.Name(),
		"note":               "key information extraction is lossy; original content cannot be fully restored",
		"extracted_files":    extractedFiles,
		"extraction_info": map[string]any{
			"files_processed":  len(extractedFiles),
			"original_size":    overall.OriginalSize,
			"compressed_size":  overall.CompressedSize,
			"compression_ratio": overall.CompressionRatio,
			"patterns_used":    patternsUsed,
		},
	}
	return decompressed
}

type extractedLine struct {
	index int
	text  string
}

func (k *KeyInfoExtractor) extractKeyInfo(content, path string) string {
	lines := strings.Split(content, "\n")
	language := "generic"
	switch languageForPath(path) {
	case "python":
		language = "python"
	case "javascript", "typescript":
		language = "javascript"
	}
	patterns := keyInfoPatterns[language]

	var extracted []extractedLine
	structureByIndent := map[int][]int{}

	for i, line := range lines {
		matched := false
		for _, p := range patterns {
			if p.MatchString(line) {
				matched = true
				break
			}
		}
		if matched {
			extracted = append(extracted, extractedLine{index: i, text: line})
		} else if strings.TrimSpace(line) != "" && k.PreserveStructure {
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			if indent > 0 {
				structureByIndent[indent] = append(structureByIndent[indent], i)
			}
		}
	}

	if k.PreserveStructure {
		indents := make([]int, 0, len(structureByIndent))
		for indent := range structureByIndent {
			indents = append(indents, indent)
		}
		sort.Ints(indents)
		for _, indent := range indents {
			for _, group := range groupConsecutive(structureByIndent[indent]) {
				if len(group) > 2 {
					mid := group[len(group)/2]
					extracted = append(extracted, extractedLine{index: mid, text: strings.Repeat(" ", indent) + "// ..."})
				}
			}
		}
	}

	sort.SliceStable(extracted, func(i, j int) bool { return extracted[i].index < extracted[j].index })

	var body []string
	lastLine := -1
	for _, e := range extracted {
		if lastLine >= 0 && e.index-lastLine > 1 {
			body = append(body, "// ...")
		}
		body = append(body, e.text)
		lastLine = e.index
	}

	header := []string{
		"// Key Information Extract",
		fmt.Sprintf("// Original file: %s", path),
		fmt.Sprintf("// Extraction patterns: %s", language),
		fmt.Sprintf("// Original size: %d lines", len(lines)),
		fmt.Sprintf("// Extracted size: %d elements", len(body)),
		"// Note: this is a compressed representation with only key elements",
		"",
	}
	return strings.Join(append(header, body...), "\n")
}

// groupConsecutive groups a sorted slice of ints into runs of
// consecutive values.
func groupConsecutive(numbers []int) [][]int {
	if len(numbers) == 0 {
		return nil
	}
	sorted := append([]int{}, numbers...)
	sort.Ints(sorted)

	var groups [][]int
	current := []int{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1]+1 {
			current = append(current, sorted[i])
		} else {
			groups = append(groups, current)
			current = []int{sorted[i]}
		}
	}
	groups = append(groups, current)
	return groups
}
