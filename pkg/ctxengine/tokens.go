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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// extensionToLanguage is the closed extension-to-language table:
// anything not listed here has no recognized language.
var extensionToLanguage = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".cs":   "csharp",
	".go":   "go",
	".cpp":  "cpp",
	".cc":   "cpp",
	".rb":   "ruby",
	".php":  "php",
	".html": "html",
	".htm":  "html",
	".css":  "css",
	".md":   "markdown",
	".json": "json",
	".yml":  "yaml",
	".yaml": "yaml",
}

// languageDensityModifiers scales the raw cl100k token count per
// language, reflecting how densely each language's syntax packs
// semantically meaningful tokens.
var languageDensityModifiers = map[string]float64{
	"python":     1.00,
	"javascript": 1.10,
	"typescript": 1.15,
	"java":       1.25,
	"csharp":     1.20,
	"go":         1.10,
	"cpp":        1.20,
	"ruby":       1.05,
	"php":        1.05,
	"html":       1.00,
	"css":        1.00,
	"text":       1.00,
	"markdown":   0.90,
	"json":       1.10,
	"yaml":       0.95,
}

// typicalFileTokenDefaults is the per-language fallback used when
// neither file content nor a readable path is available.
var typicalFileTokenDefaults = map[string]int{
	"python":     350,
	"javascript": 300,
	"typescript": 320,
	"java":       400,
	"csharp":     380,
	"go":         300,
	"cpp":        380,
	"ruby":       280,
	"php":        320,
	"html":       250,
	"css":        200,
	"text":       200,
	"markdown":   250,
	"json":       150,
	"yaml":       150,
}

const defaultLanguage = "text"

// TokenEstimate is the per-context-tree token breakdown.
type TokenEstimate struct {
	Total       int                   `json:"total"`
	CodeContext *CodeContextEstimate  `json:"code_context,omitempty"`
	Sections    map[string]int        `json:"-"`
}

// CodeContextEstimate holds the per-file breakdown nested under the
// code_context key of a TokenEstimate.
type CodeContextEstimate struct {
	Total int            `json:"total"`
	Files map[string]int `json:"files"`
}

// MarshalJSON flattens Sections alongside the fixed fields, matching
// the context tree's "any top-level section" shape.
func (e TokenEstimate) MarshalJSON() ([]byte, error) {
	out := map[string]any{"total": e.Total}
	if e.CodeContext != nil {
		out["code_context"] = e.CodeContext
	}
	for k, v := range e.Sections {
		out[k] = v
	}
	return json.Marshal(out)
}

// TokenEstimator counts tokens for strings, files, and nested context
// trees using the cl100k_base subword tokenizer. When that encoding
// cannot be loaded, every count is a character-count/4 estimate; no
// error is returned to callers.
type TokenEstimator struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
	log     *zap.Logger
}

// NewTokenEstimator loads the cl100k_base encoding (the same
// Claude/GPT-4-compatible family the host agent's LLM client targets).
// If log is nil, a no-op logger is used.
func NewTokenEstimator(log *zap.Logger) *TokenEstimator {
	if log == nil {
		log = zap.NewNop()
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn("token encoding unavailable, falling back to character-count/4 estimates",
			zap.Error(err), zap.NamedError("class", ErrEncodingUnavailable))
		return &TokenEstimator{encoder: nil, log: log}
	}
	return &TokenEstimator{encoder: enc, log: log}
}

// languageOf resolves a language name from a file extension via the
// closed table. Returns ("", false) for unrecognized extensions.
func languageOf(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := extensionToLanguage[ext]
	return lang, ok
}

func densityModifier(language string) float64 {
	if m, ok := languageDensityModifiers[language]; ok {
		return m
	}
	return languageDensityModifiers[defaultLanguage]
}

// rawTokenCount returns the unmodified subword count, falling back to
// a coarse character-count/4 estimate only when the encoder itself is
// unavailable (never as a substitute for a loaded encoder).
func (e *TokenEstimator) rawTokenCount(text string) int {
	if text == "" {
		return 0
	}
	if e.encoder == nil {
		return len(text) / 4
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.encoder.Encode(text, nil, nil))
}

// EstimateText counts tokens in text under the given language's
// density modifier. An empty or unrecognized language uses the
// default (text) modifier.
func (e *TokenEstimator) EstimateText(text, language string) int {
	if language == "" {
		language = defaultLanguage
	}
	raw := e.rawTokenCount(text)
	return int(float64(raw)*densityModifier(language) + 0.5)
}

// EstimateFile estimates tokens for a file. If content is non-empty it
// is used directly; otherwise the file at path is read. When neither
// is available, the per-language typical-file default is returned.
func (e *TokenEstimator) EstimateFile(path, content string) (int, error) {
	language, _ := languageOf(path)
	if language == "" {
		language = defaultLanguage
	}

	if content != "" {
		return e.EstimateText(content, language), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		e.log.Warn("estimate_file: read failed, using typical-file default",
			zap.String("path", path), zap.Error(err))
		if def, ok := typicalFileTokenDefaults[language]; ok {
			return def, fmt.Errorf("%w: %s: %v", ErrReadFailed, path, err)
		}
		return typicalFileTokenDefaults[defaultLanguage], fmt.Errorf("%w: %s: %v", ErrReadFailed, path, err)
	}
	return e.EstimateText(string(data), language), nil
}

// LineTokenCounts returns the real per-line token count for content,
// used by the Budget Allocator to truncate by actual tokens rather
// than a character heuristic.
func (e *TokenEstimator) LineTokenCounts(content, language string) []int {
	lines := strings.Split(content, "\n")
	counts := make([]int, len(lines))
	for i, line := range lines {
		counts[i] = e.EstimateText(line, language)
	}
	return counts
}

// EstimateContext produces the full token estimate tree for a context,
// recursing through code_context and every other top-level section.
func (e *TokenEstimator) EstimateContext(context map[string]any) TokenEstimate {
	estimate := TokenEstimate{Sections: map[string]int{}}

	if raw, ok := context["code_context"]; ok {
		files, _ := raw.(map[string]any)
		cc := &CodeContextEstimate{Files: map[string]int{}}
		for path, v := range files {
			content, _ := v.(string)
			n, _ := e.EstimateFile(path, content)
			cc.Files[path] = n
			cc.Total += n
		}
		estimate.CodeContext = cc
		estimate.Total += cc.Total
	}

	for key, value := range context {
		switch key {
		case "code_context", "compression_metadata", "decompression_metadata":
			continue
		}
		n := e.estimateSectionValue(value)
		estimate.Sections[key] = n
		estimate.Total += n
	}

	return estimate
}

func (e *TokenEstimator) estimateSectionValue(value any) int {
	switch v := value.(type) {
	case string:
		return e.EstimateText(v, defaultLanguage)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return 0
		}
		return e.EstimateText(string(b), "json")
	}
}

// TotalTokenCount is a convenience for callers that only need the
// aggregate, not the per-section tree.
func (e *TokenEstimator) TotalTokenCount(context map[string]any) int {
	return e.EstimateContext(context).Total
}
