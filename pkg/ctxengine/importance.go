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
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"regexp"
	"strings"
)

// patternWeight pairs a regex with the importance weight applied when
// it matches.
type patternWeight struct {
	pattern *regexp.Regexp
	weight  float64
}

// importantPatterns is the closed per-language pattern table behind
// the pattern bonus. Unlisted languages fall back to python's.
var importantPatterns = map[string][]patternWeight{
	"python": {
		{regexp.MustCompile(`class\s+(\w+)`), 1.5},
		{regexp.MustCompile(`def\s+(\w+)\s*\(`), 1.3},
		{regexp.MustCompile(`(?m)^\s+def\s+(\w+)`), 1.2},
		{regexp.MustCompile(`import\s+(.+)`), 1.2},
		{regexp.MustCompile(`from\s+(.+)\s+import`), 1.2},
		{regexp.MustCompile(`@(\w+)`), 1.4},
		{regexp.MustCompile(`except|raise\s+\w+`), 1.3},
		{regexp.MustCompile(`(?s)"""(.+?)"""`), 1.4},
		{regexp.MustCompile(`(?m)#\s*(.+)$`), 1.2},
	},
	"javascript": {
		{regexp.MustCompile(`function\s+(\w+)`), 1.3},
		{regexp.MustCompile(`const\s+(\w+)\s*=\s*\(.*?\)\s*=>`), 1.3},
		{regexp.MustCompile(`class\s+(\w+)`), 1.5},
		{regexp.MustCompile(`(\w+)\s*\(.*?\)\s*\{`), 1.2},
		{regexp.MustCompile(`import\s+(.+)\s+from`), 1.2},
		{regexp.MustCompile(`(?m)export\s+(.+)$`), 1.4},
		{regexp.MustCompile(`try\s*\{|catch\s*\(`), 1.3},
		{regexp.MustCompile(`(?s)/\*\*(.+?)\*/`), 1.4},
	},
	"typescript": {
		{regexp.MustCompile(`interface\s+(\w+)`), 1.6},
		{regexp.MustCompile(`type\s+(\w+)`), 1.5},
		{regexp.MustCompile(`function\s+(\w+)`), 1.3},
		{regexp.MustCompile(`class\s+(\w+)`), 1.5},
		{regexp.MustCompile(`(\w+)\s*\(.*?\)\s*:\s*\w+`), 1.3},
		{regexp.MustCompile(`import\s+(.+)\s+from`), 1.2},
		{regexp.MustCompile(`(?m)export\s+(.+)$`), 1.4},
	},
}

// entityPatterns extract defined-function/class names for the
// complexity factor. Only Go source has a stdlib parser, so .go files
// go through go/parser first and every other language uses regexes.
var entityPatterns = map[string]*regexp.Regexp{
	"python":     regexp.MustCompile(`(?m)^\s*(?:def|class)\s+(\w+)`),
	"javascript": regexp.MustCompile(`(?m)(?:function\s+(\w+)|class\s+(\w+))`),
	"typescript": regexp.MustCompile(`(?m)(?:function\s+(\w+)|class\s+(\w+)|interface\s+(\w+))`),
	"java":       regexp.MustCompile(`(?m)(?:class|interface)\s+(\w+)|(?:public|private|protected)\s+[\w<>\[\]]+\s+(\w+)\s*\(`),
	"csharp":     regexp.MustCompile(`(?m)(?:class|interface)\s+(\w+)|(?:public|private|protected)\s+[\w<>\[\]]+\s+(\w+)\s*\(`),
	"go":         regexp.MustCompile(`(?m)func\s+(?:\([^)]*\)\s*)?(\w+)\s*\(|type\s+(\w+)\s+struct`),
}

// importPatterns count import statements per language for the
// complexity factor, which weighs functions, classes, and imports
// together.
var importPatterns = map[string]*regexp.Regexp{
	"python":     regexp.MustCompile(`(?m)^\s*(?:import\s+\w|from\s+\S+\s+import\b)`),
	"javascript": regexp.MustCompile(`(?m)^\s*import\s+|require\s*\(`),
	"typescript": regexp.MustCompile(`(?m)^\s*import\s+`),
	"java":       regexp.MustCompile(`(?m)^\s*import\s+[\w.]+`),
	"csharp":     regexp.MustCompile(`(?m)^\s*using\s+[\w.]+\s*;`),
	"go":         regexp.MustCompile(`(?m)^\s*import\s|^\t"[^"]+"$`),
	"ruby":       regexp.MustCompile(`(?m)^\s*require(?:_relative)?\s`),
	"php":        regexp.MustCompile(`(?m)^\s*(?:use\s+[\w\\]+|require(?:_once)?\b|include(?:_once)?\b)`),
	"cpp":        regexp.MustCompile(`(?m)^\s*#include\s`),
}

// importantIdentifiers is the closed set of entity/keyword names that
// earn the important-name bonus across every language.
var importantIdentifiers = map[string]bool{}

func init() {
	for _, name := range []string{
		"main", "init", "start", "run", "process", "handle", "create",
		"build", "setup", "configure", "get", "set", "update", "delete",
		"add", "remove", "find", "search", "validate", "execute", "parse",
		"convert", "transform", "generate", "load", "save", "read", "write",
		"open", "close", "connect", "disconnect", "send", "receive",
		"route", "controller", "service", "repository", "manager", "helper",
		"util", "store", "reducer", "action", "component", "model", "view",
	} {
		importantIdentifiers[name] = true
	}
}

var filenameRoleKeywords = []string{"main", "app", "index", "core", "base", "config", "util"}

// ImportanceScorer assigns a scalar importance per context element
// from static code analysis, task type, and task keywords.
type ImportanceScorer struct{}

// NewImportanceScorer constructs a scorer. The scorer is stateless and
// deterministic given identical inputs.
func NewImportanceScorer() *ImportanceScorer {
	return &ImportanceScorer{}
}

// ImportanceMap mirrors the context tree shape: per-file scores under
// code_context, and a flat score per other top-level section.
type ImportanceMap struct {
	CodeContext map[string]float64
	Sections    map[string]float64
}

// Score computes the importance map for context under an optional task
// type and set of task keywords. It never mutates context.
func (s *ImportanceScorer) Score(context map[string]any, taskType string, taskKeywords []string) ImportanceMap {
	result := ImportanceMap{CodeContext: map[string]float64{}, Sections: map[string]float64{}}

	if raw, ok := context["code_context"]; ok {
		files, _ := raw.(map[string]any)
		for path, v := range files {
			content, _ := v.(string)
			score := s.complexityScore(path, content)
			score = s.applyTaskType(score, taskType, path)
			score = s.applyKeywordBonus(score, taskKeywords, content)
			result.CodeContext[path] = clamp(score, 0.5, 3.0)
		}
	}

	for section := range context {
		switch section {
		case "code_context", "compression_metadata", "decompression_metadata":
			continue
		}
		result.Sections[section] = s.sectionWeight(section, taskType)
	}

	return result
}

func (s *ImportanceScorer) sectionWeight(section, taskType string) float64 {
	taskType = strings.ToLower(taskType)
	switch section {
	case "framework_structures":
		switch taskType {
		case "implementation":
			return 1.4
		case "debugging":
			return 1.2
		}
	case "metadata":
		if taskType == "documentation" {
			return 1.5
		}
	}
	return 1.0
}

// complexityScore builds the base score: complexity
// factor, important-name bonus, language factor, pattern bonus, and
// filename-role bonus, clamped last by the caller to [0.5, 3.0].
func (s *ImportanceScorer) complexityScore(path, content string) float64 {
	language, _ := languageOf(path)
	if language == "" {
		language = "python"
	}

	score := 1.0

	entities, importCount := extractEntities(content, language)
	if defined := len(entities) + importCount; defined > 0 {
		score *= 1 + min64(1.0, float64(defined)/20)
	}

	nameBonus := 0.0
	for _, name := range entities {
		lower := strings.ToLower(name)
		if importantIdentifiers[lower] {
			nameBonus += 0.2
		}
		if strings.HasPrefix(lower, "main") || strings.HasSuffix(name, "Controller") || strings.HasSuffix(name, "Service") {
			nameBonus += 0.3
		}
	}
	score *= 1 + min64(1.0, nameBonus)

	switch language {
	case "python", "ruby":
		score *= 1.1
	case "java", "csharp":
		score *= 1.2
	}

	patterns, ok := importantPatterns[language]
	if !ok {
		patterns = importantPatterns["python"]
	}
	patternImportance := 0.0
	for _, pw := range patterns {
		matches := pw.pattern.FindAllStringSubmatch(content, -1)
		if len(matches) == 0 {
			continue
		}
		patternImportance += pw.weight * min64(3, float64(len(matches))/3)
		for _, m := range matches {
			if len(m) > 1 && importantIdentifiers[strings.ToLower(m[1])] {
				patternImportance += 0.1
			}
		}
	}
	score *= 1 + min64(2.0, patternImportance/10)

	filename := strings.ToLower(filepath.Base(path))
	for _, kw := range filenameRoleKeywords {
		if strings.Contains(filename, kw) {
			score *= 1.3
			break
		}
	}

	return score
}

// extractEntities returns defined function/class/interface names plus
// the import-statement count. Go source is parsed with go/parser; every
// other language (no stdlib parser exists for them) uses the regex
// tables, as does Go source that fails to parse.
func extractEntities(content, language string) ([]string, int) {
	if language == "go" {
		if names, imports, ok := goEntities(content); ok {
			return names, imports
		}
	}

	var names []string
	if re, ok := entityPatterns[language]; ok {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			for _, g := range m[1:] {
				if g != "" {
					names = append(names, g)
				}
			}
		}
	}

	importCount := 0
	if re, ok := importPatterns[language]; ok {
		importCount = len(re.FindAllString(content, -1))
	}
	return names, importCount
}

// goEntities parses Go source with the stdlib AST, returning declared
// function and type names plus the import count. ok is false when the
// source does not parse (the caller degrades to regexes).
func goEntities(content string) (names []string, importCount int, ok bool) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "src.go", content, parser.SkipObjectResolution)
	if err != nil {
		return nil, 0, false
	}
	importCount = len(file.Imports)
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			names = append(names, d.Name.Name)
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				if ts, isType := spec.(*ast.TypeSpec); isType {
					names = append(names, ts.Name.Name)
				}
			}
		}
	}
	return names, importCount, true
}

func (s *ImportanceScorer) applyTaskType(score float64, taskType, path string) float64 {
	lowerPath := strings.ToLower(path)
	switch strings.ToLower(taskType) {
	case "debugging":
		if strings.Contains(lowerPath, "test") || strings.Contains(lowerPath, "spec") {
			score *= 1.3
		}
		if strings.Contains(lowerPath, "error") || strings.Contains(lowerPath, "exception") {
			score *= 1.4
		}
	case "implementation":
		if strings.Contains(lowerPath, "component") || strings.Contains(lowerPath, "model") {
			score *= 1.3
		}
	case "refactoring":
		if strings.Contains(lowerPath, "util") || strings.Contains(lowerPath, "helper") {
			score *= 1.2
		}
	}
	return score
}

func (s *ImportanceScorer) applyKeywordBonus(score float64, taskKeywords []string, content string) float64 {
	if len(taskKeywords) == 0 {
		return score
	}
	lower := strings.ToLower(content)
	bonus := 0.0
	for _, kw := range taskKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			bonus += 0.2
		}
	}
	if bonus == 0 {
		return score
	}
	return score * (1 + min64(bonus, 1.0))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
