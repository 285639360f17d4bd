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
	"strings"
	"time"
)

// SemanticSummarizer replaces function/method bodies with a sentinel
// while preserving imports, class headers, signatures, decorators,
// and doc comments. Lossy.
type SemanticSummarizer struct {
	Threshold       int
	PreserveImports bool
	PreserveClasses bool
}

// NewSemanticSummarizer constructs a summarizer. The line-count
// threshold comes from summarization.threshold (default 2000);
// imports and class headers are preserved.
func NewSemanticSummarizer(threshold int) *SemanticSummarizer {
	if threshold <= 0 {
		threshold = 2000
	}
	return &SemanticSummarizer{Threshold: threshold, PreserveImports: true, PreserveClasses: true}
}

func (s *SemanticSummarizer) Name() string { return "semantic_summarizer" }

func (s *SemanticSummarizer) Compress(context map[string]any) map[string]any {
	compressed := shallowCopyContext(context)
	files := codeContextOf(context)
	if files == nil {
		return compressed
	}

	compressedFiles := map[string]any{}
	summarizedFiles := map[string]any{}
	var originalSize, compressedSize int

	for path, raw := range files {
		content, _ := raw.(string)
		originalSize += len(content)
		lines := strings.Split(content, "\n")
		if len(lines) > s.Threshold {
			summary := s.summarize(content, path)
			compressedFiles[path] = summary
			compressedSize += len(summary)

			ratio := 1.0
			if len(content) > 0 {
				ratio = float64(len(summary)) / float64(len(content))
			}
			summarizedFiles[path] = map[string]any{
				"original_lines":    len(lines),
				"summarized_lines":  len(strings.Split(summary, "\n")),
				"compression_ratio": ratio,
			}
		} else {
			compressedFiles[path] = content
			compressedSize += len(content)
		}
	}

	compressed["code_context"] = compressedFiles

	meta := compressionMetadataSection(compressed)
	if len(summarizedFiles) > 0 {
		meta["summarized_files"] = summarizedFiles
	}
	meta["overall"] = OverallMetadata{
		Strategy:         s.Name(),
		OriginalSize:     originalSize,
		CompressedSize:   compressedSize,
		CompressionRatio: compressionRatio(originalSize, compressedSize),
	}
	return compressed
}

func (s *SemanticSummarizer) Decompress(context map[string]any) map[string]any {
	decompressed := shallowCopyContext(context)
	meta := decompressionMetadataSection(decompressed)

	var summarizedFiles map[string]any
	if cm, ok := context["compression_metadata"].(map[string]any); ok {
		summarizedFiles, _ = cm["summarized_files"].(map[string]any)
	}

	names := make([]string, 0, len(summarizedFiles))
	totalRatio := 0.0
	for name, v := range summarizedFiles {
		names = append(names, name)
		if m, ok := v.(map[string]any); ok {
			if r, ok := m["compression_ratio"].(float64); ok {
				totalRatio += r
			}
		}
	}
	avg := 0.0
	if len(summarizedFiles) > 0 {
		avg = totalRatio / float64(len(summarizedFiles))
	}

	meta["semantic_summarization"] = map[string]any{
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"status":             "completed",
		"decompression_type": s.Name(),
		"note":               "semantic summarization is lossy; original content cannot be fully restored",
		"summarized_files":   names,
		"summarization_statistics": map[string]any{
			"files_summarized":        len(summarizedFiles),
			"average_compression_ratio": avg,
		},
	}
	return decompressed
}

var (
	rePyImport    = regexp.MustCompile(`^import\s+|^from\s+`)
	rePyClass     = regexp.MustCompile(`^\s*class\s+`)
	rePyClassName = regexp.MustCompile(`class\s+(\w+)`)
	rePyDef       = regexp.MustCompile(`^\s*def\s+`)
	rePyDefSig    = regexp.MustCompile(`def\s+(\w+)\s*\((.*?)\)`)
	rePyDecorator = regexp.MustCompile(`^\s*@`)
	rePyDocOrHash = regexp.MustCompile(`^\s*"""|^\s*'''|^\s*#`)

	reJsImport    = regexp.MustCompile(`^import\s+|^const\s+.*\s*=\s*require\(`)
	reJsClass     = regexp.MustCompile(`class\s+\w+`)
	reJsClassName = regexp.MustCompile(`class\s+(\w+)`)
	reJsFunc      = regexp.MustCompile(`function\s+\w+\s*\(|^\s*\w+\s*\([^)]*\)\s*{|^\s*\w+\s*:\s*function`)
	reJsArrow     = regexp.MustCompile(`const\s+\w+\s*=\s*\([^)]*\)\s*=>|^\s*\w+\s*=\s*\([^)]*\)\s*=>`)
	reJsFuncName  = regexp.MustCompile(`function\s+(\w+)`)
	reJsCallName  = regexp.MustCompile(`(\w+)\s*\(`)
	reJsDoc       = regexp.MustCompile(`^\s*/\*\*|^\s*//`)

	reJavaImport  = regexp.MustCompile(`^import\s+`)
	reJavaPackage = regexp.MustCompile(`^package\s+`)
	reJavaClass   = regexp.MustCompile(`(public|private|protected)?\s*class\s+\w+`)
	reJavaMethod  = regexp.MustCompile(`(public|private|protected)?\s+\w+\s+\w+\s*\([^)]*\)`)
	reJavaDoc     = regexp.MustCompile(`^\s*/\*\*|^\s*//`)

	reCsUsing     = regexp.MustCompile(`^using\s+`)
	reCsNamespace = regexp.MustCompile(`^namespace\s+`)
	reCsClass     = regexp.MustCompile(`(public|private|protected|internal)?\s*class\s+\w+`)
	reCsMethod    = regexp.MustCompile(`(public|private|protected|internal)?\s+\w+\s+\w+\s*\([^)]*\)`)
	reCsDoc       = regexp.MustCompile(`^\s*///\s*<|^\s*//`)
)

func (s *SemanticSummarizer) summarize(content, path string) string {
	lines := strings.Split(content, "\n")
	switch languageForPath(path) {
	case "python":
		return s.summarizePython(lines)
	case "javascript", "typescript":
		return s.summarizeBraceLang(lines, reJsImport, nil, reJsClass, reJsClassName, reJsFunc, reJsArrow, reJsDoc, "//")
	case "java":
		return s.summarizeBraceLang(lines, reJavaImport, reJavaPackage, reJavaClass, nil, reJavaMethod, nil, reJavaDoc, "//")
	case "csharp":
		return s.summarizeBraceLang(lines, reCsUsing, reCsNamespace, reCsClass, nil, reCsMethod, nil, reCsDoc, "//")
	default:
		return s.summarizeGeneric(lines)
	}
}

func (s *SemanticSummarizer) summarizePython(lines []string) string {
	var summary []string
	currentIndent := 0
	skipping := false

	var imports []string
	if s.PreserveImports {
		for _, line := range lines {
			if rePyImport.MatchString(line) {
				imports = append(imports, line)
			}
		}
	}

	for i, line := range lines {
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		if indent <= currentIndent && skipping {
			skipping = false
		}

		if rePyClass.MatchString(line) {
			currentIndent = indent
			if s.PreserveClasses {
				summary = append(summary, line)
			} else if m := rePyClassName.FindStringSubmatch(line); m != nil {
				summary = append(summary, strings.Repeat(" ", indent)+"class "+m[1]+": # Summarized")
			}
			continue
		}

		if rePyDef.MatchString(line) {
			currentIndent = indent
			if m := rePyDefSig.FindStringSubmatch(line); m != nil {
				isMethod := indent > 0
				if isMethod {
					if i > 0 && rePyDecorator.MatchString(lines[i-1]) {
						summary = append(summary, lines[i-1])
					}
					summary = append(summary, line)
				} else {
					summary = append(summary, strings.Repeat(" ", indent)+"def "+m[1]+"(...): # Summarized")
				}
				skipping = true
			}
			continue
		}

		if rePyDocOrHash.MatchString(line) {
			if !skipping {
				summary = append(summary, line)
			}
			continue
		}

		if !skipping {
			summary = append(summary, line)
		}
	}

	if len(imports) > 0 {
		out := append(append([]string{}, imports...), "", "# Summarized Content:")
		out = append(out, summary...)
		return strings.Join(out, "\n")
	}
	return strings.Join(append([]string{"# Summarized Content:"}, summary...), "\n")
}

// summarizeBraceLang implements the shared brace-depth-tracked
// summarization used for JS/TS, Java, and C#, parameterized by their
// import/class/method regexes.
func (s *SemanticSummarizer) summarizeBraceLang(
	lines []string,
	importRe, secondaryImportRe, classRe, classNameRe, methodOrFuncRe, arrowRe, docRe *regexp.Regexp,
	marker string,
) string {
	var summary []string
	braceDepth := 0
	skipping := false

	var imports []string
	if s.PreserveImports {
		for _, line := range lines {
			if importRe != nil && importRe.MatchString(line) {
				imports = append(imports, line)
			} else if secondaryImportRe != nil && secondaryImportRe.MatchString(line) {
				imports = append(imports, line)
			}
		}
	}

	for _, line := range lines {
		braceDepth += strings.Count(line, "{") - strings.Count(line, "}")
		if braceDepth == 0 {
			skipping = false
		}

		if classRe != nil && classRe.MatchString(line) {
			if s.PreserveClasses {
				summary = append(summary, line)
			} else if classNameRe != nil {
				if m := classNameRe.FindStringSubmatch(line); m != nil {
					summary = append(summary, "class "+m[1]+" { "+marker+" Summarized")
				}
			}
			if !s.PreserveClasses && strings.Contains(line, "{") {
				skipping = true
			}
			continue
		}

		matchesFunc := methodOrFuncRe != nil && methodOrFuncRe.MatchString(line)
		matchesArrow := arrowRe != nil && arrowRe.MatchString(line)
		if matchesFunc || matchesArrow {
			trimmed := strings.TrimRight(line, " \t\r")
			summary = append(summary, trimmed)
			if strings.Contains(line, "{") {
				last := len(summary) - 1
				summary[last] = strings.Replace(summary[last], "{", "{ "+marker+" Summarized", 1)
				skipping = true
			}
			continue
		}

		if docRe != nil && docRe.MatchString(line) {
			if !skipping {
				summary = append(summary, line)
			}
			continue
		}

		if !skipping {
			summary = append(summary, line)
		}
	}

	if len(imports) > 0 {
		out := append(append([]string{}, imports...), "", marker+" Summarized Content:")
		out = append(out, summary...)
		return strings.Join(out, "\n")
	}
	return strings.Join(append([]string{marker + " Summarized Content:"}, summary...), "\n")
}

func (s *SemanticSummarizer) summarizeGeneric(lines []string) string {
	if len(lines) <= s.Threshold {
		return strings.Join(lines, "\n")
	}
	headerSize := len(lines) / 10
	if headerSize < 10 {
		headerSize = 10
	}
	footerSize := headerSize
	if headerSize+footerSize > len(lines) {
		headerSize = len(lines) / 2
		footerSize = len(lines) / 2
	}

	header := lines[:headerSize]
	footer := lines[len(lines)-footerSize:]
	omitted := len(lines) - headerSize - footerSize

	out := append([]string{}, header...)
	out = append(out, "", "// ...", fmt.Sprintf("// [Content summarized: %d lines omitted]", omitted), "// ...", "")
	out = append(out, footer...)
	return strings.Join(out, "\n")
}
