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
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var ignoredDirs = map[string]bool{
	".git": true, "__pycache__": true, "node_modules": true, "venv": true,
	"build": true, "dist": true, ".vscode": true, ".idea": true,
}

const maxProfiledFileSize = 10 * 1024 * 1024 // 10 MiB
const maxFrameworkSampleBytes = 50 * 1024    // 50 KiB
const maxFrameworkSamplesPerLanguage = 10

// frameworkPatterns is the closed per-language framework detection
// table.
var frameworkPatterns = map[string]map[string][]*regexp.Regexp{
	"python": {
		"django":  compileAll(`django`, `urls\.py`, `views\.py`, `models\.py`, `apps\.py`),
		"flask":   compileAll(`flask`, `@app\.route`, `Flask\s*\(`),
		"fastapi": compileAll(`fastapi`, `@app\.get`, `@app\.post`),
		"pytorch": compileAll(`torch\.nn`, `torch\.optim`),
		"tensorflow": compileAll(`tensorflow`, `tf\.keras`, `tf\.data`),
		"pytest":  compileAll(`pytest`, `@pytest`, `test_.*\.py`),
	},
	"javascript": {
		"react":   compileAll(`react`, `React`, `useState`, `useEffect`),
		"vue":     compileAll(`vue`, `Vue`, `createApp`, `setup\(\)`),
		"angular": compileAll(`angular`, `@Component`, `NgModule`),
		"express": compileAll(`express`, `app\.get`, `app\.post`, `app\.use`),
		"next.js": compileAll(`next/router`, `getServerSideProps`, `getStaticProps`),
	},
	"typescript": {
		"react":   compileAll(`React`, `useState`, `useEffect`),
		"angular": compileAll(`@Component`, `NgModule`, `Injectable`),
		"nest":    compileAll(`@nestjs`, `@Controller`, `@Module`),
		"next.js": compileAll(`next/router`, `GetServerSideProps`, `GetStaticProps`),
	},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}

// projectTypeCriterion is one entry of the closed project-type
// signal table.
type projectTypeCriterion struct {
	filePatterns     []string
	frameworks       []string
	directoryPatterns []string
}

var projectTypeCriteria = map[string]projectTypeCriterion{
	"web_frontend": {
		filePatterns:      []string{"index.html", "styles.css", "style.css", "package.json"},
		frameworks:        []string{"react", "vue", "angular", "next.js"},
		directoryPatterns: []string{"components", "pages", "views", "public", "static"},
	},
	"web_backend": {
		filePatterns:      []string{"server.js", "app.py", "urls.py", "routes"},
		frameworks:        []string{"django", "flask", "express", "fastapi", "nest"},
		directoryPatterns: []string{"routes", "controllers", "models", "api"},
	},
	"data_science": {
		filePatterns:      []string{".ipynb", "data_processing", "model.py", "train.py"},
		frameworks:        []string{"pytorch", "tensorflow", "pandas", "scikit-learn"},
		directoryPatterns: []string{"data", "models", "notebooks", "experiments"},
	},
	"cli_tool": {
		filePatterns:      []string{"cli.py", "main.py", "bin", "command"},
		frameworks:        []string{"click", "argparse", "commander"},
		directoryPatterns: []string{"commands", "cli"},
	},
	"library": {
		filePatterns:      []string{"setup.py", "package.json", "Cargo.toml", "README.md"},
		frameworks:        []string{},
		directoryPatterns: []string{"src", "lib", "test", "docs", "examples"},
	},
}

var commentPatterns = map[string]*regexp.Regexp{
	"python":     regexp.MustCompile(`^\s*#.*$`),
	"javascript": regexp.MustCompile(`^\s*//.*$|^\s*/\*`),
	"typescript": regexp.MustCompile(`^\s*//.*$|^\s*/\*`),
	"java":       regexp.MustCompile(`^\s*//.*$|^\s*/\*`),
	"csharp":     regexp.MustCompile(`^\s*//.*$|^\s*/\*`),
}

// FileStatistics summarizes the repository's file population.
type FileStatistics struct {
	FileCount          int                           `json:"file_count"`
	TotalSize          int64                         `json:"total_size"`
	AvgFileSize        float64                       `json:"avg_file_size"`
	ExtensionCounts    map[string]int                `json:"extension_counts"`
	AvgSizeByExtension map[string]float64            `json:"avg_size_by_extension"`
	CodeDensity        map[string]LanguageDensity     `json:"code_density"`
}

// LanguageDensity is the per-language code-density metric block.
type LanguageDensity struct {
	AvgLineLength    float64 `json:"avg_line_length"`
	EmptyLineRatio   float64 `json:"empty_line_ratio"`
	CommentRatio     float64 `json:"comment_ratio"`
	CodeDensityScore float64 `json:"code_density_score"`
}

// LanguageStatistics is the repository's per-language breakdown.
type LanguageStatistics struct {
	LanguageCounts          map[string]int     `json:"language_counts"`
	LanguagePercentages     map[string]float64 `json:"language_percentages"`
	LanguageSizePercentages map[string]float64 `json:"language_size_percentages"`
	PrimaryLanguage         string             `json:"primary_language"`
}

// DirectoryStructure reports walk-derived directory shape.
type DirectoryStructure struct {
	CommonDirectories map[string]int `json:"common_directories"`
	MaxDepth          int            `json:"max_depth"`
	AvgDepth          float64        `json:"avg_depth"`
}

// FrameworkStatistics reports detected frameworks and their relative
// weight.
type FrameworkStatistics struct {
	DetectedFrameworks   map[string]float64 `json:"detected_frameworks"`
	FrameworkPercentages map[string]float64 `json:"framework_percentages"`
}

// RepoProfile is the single profile dict emitted by analyze_repository.
type RepoProfile struct {
	FileStats          FileStatistics      `json:"file_stats"`
	LanguageStats      LanguageStatistics  `json:"language_stats"`
	FrameworkStats     FrameworkStatistics `json:"framework_stats"`
	ProjectType        string              `json:"project_type"`
	ProjectSize        string              `json:"project_size"`
	DirectoryStructure DirectoryStructure  `json:"directory_structure"`
}

// ProjectProfiler walks a repository once and derives the
// characteristics used to seed an adaptive configuration.
type ProjectProfiler struct {
	repoPath string

	fileStats      FileStatistics
	languageStats  LanguageStatistics
	frameworkStats FrameworkStatistics
	dirStructure   DirectoryStructure
	projectType    string
	projectSize    string

	contentSamples map[string][]string
	profile        *RepoProfile
}

// NewProjectProfiler constructs a profiler rooted at repoPath.
func NewProjectProfiler(repoPath string) *ProjectProfiler {
	return &ProjectProfiler{repoPath: repoPath, contentSamples: map[string][]string{}}
}

// AnalyzeRepository walks the repository and returns the compiled
// profile, deterministic for a given filesystem state.
func (p *ProjectProfiler) AnalyzeRepository() RepoProfile {
	p.gatherFileStatistics()
	p.detectLanguages()
	p.analyzeDirectoryStructure()
	p.detectFrameworks()
	p.determineProjectType()
	p.calculateCodeDensity()

	profile := RepoProfile{
		FileStats:          p.fileStats,
		LanguageStats:      p.languageStats,
		FrameworkStats:     p.frameworkStats,
		ProjectType:        p.projectType,
		ProjectSize:        p.projectSize,
		DirectoryStructure: p.dirStructure,
	}
	p.profile = &profile
	return profile
}

func (p *ProjectProfiler) gatherFileStatistics() {
	extensionCounts := map[string]int{}
	sizeByExtension := map[string]int64{}
	fileCount := 0
	var totalSize int64

	_ = filepath.Walk(p.repoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if ignoredDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Size() > maxProfiledFileSize {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		fileCount++
		totalSize += info.Size()
		extensionCounts[ext]++
		sizeByExtension[ext] += info.Size()
		return nil
	})

	avgSizeByExtension := map[string]float64{}
	for ext, count := range extensionCounts {
		if count > 0 {
			avgSizeByExtension[ext] = float64(sizeByExtension[ext]) / float64(count)
		}
	}

	projectSize := "large"
	switch {
	case fileCount < 100:
		projectSize = "small"
	case fileCount < 1000:
		projectSize = "medium"
	}

	avgFileSize := 0.0
	if fileCount > 0 {
		avgFileSize = float64(totalSize) / float64(fileCount)
	}

	p.fileStats = FileStatistics{
		FileCount:          fileCount,
		TotalSize:          totalSize,
		AvgFileSize:        avgFileSize,
		ExtensionCounts:    extensionCounts,
		AvgSizeByExtension: avgSizeByExtension,
	}
	p.projectSize = projectSize
}

func (p *ProjectProfiler) detectLanguages() {
	languageCounts := map[string]int{}
	languageSizes := map[string]float64{}

	for ext, count := range p.fileStats.ExtensionCounts {
		lang, ok := extensionToLanguage[ext]
		if !ok {
			continue
		}
		languageCounts[lang] += count
		languageSizes[lang] += p.fileStats.AvgSizeByExtension[ext] * float64(count)
	}

	totalFiles := 0
	for _, c := range languageCounts {
		totalFiles += c
	}
	languagePercentages := map[string]float64{}
	if totalFiles > 0 {
		for lang, c := range languageCounts {
			languagePercentages[lang] = float64(c) / float64(totalFiles) * 100
		}
	}

	totalSize := 0.0
	for _, s := range languageSizes {
		totalSize += s
	}
	languageSizePercentages := map[string]float64{}
	if totalSize > 0 {
		for lang, s := range languageSizes {
			languageSizePercentages[lang] = s / totalSize * 100
		}
	}

	primary := "unknown"
	bestCount := 0
	langsSorted := make([]string, 0, len(languageCounts))
	for lang := range languageCounts {
		langsSorted = append(langsSorted, lang)
	}
	sort.Strings(langsSorted)
	for _, lang := range langsSorted {
		if languageCounts[lang] > bestCount {
			bestCount = languageCounts[lang]
			primary = lang
		}
	}

	p.languageStats = LanguageStatistics{
		LanguageCounts:          languageCounts,
		LanguagePercentages:     languagePercentages,
		LanguageSizePercentages: languageSizePercentages,
		PrimaryLanguage:         primary,
	}
}

// getContentSample returns up to 10 samples of at-most-50KiB content
// for language, caching the result.
func (p *ProjectProfiler) getContentSample(language string) []string {
	if s, ok := p.contentSamples[language]; ok {
		return s
	}

	var samples []string
	for ext, lang := range extensionToLanguage {
		if lang != language {
			continue
		}
		_ = filepath.Walk(p.repoPath, func(path string, info os.FileInfo, err error) error {
			if err != nil || info == nil {
				return nil
			}
			if info.IsDir() {
				if ignoredDirs[info.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if len(samples) >= maxFrameworkSamplesPerLanguage {
				return filepath.SkipAll
			}
			if !strings.HasSuffix(path, ext) {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			if len(data) > maxFrameworkSampleBytes {
				data = data[:maxFrameworkSampleBytes]
			}
			samples = append(samples, string(data))
			return nil
		})
	}

	p.contentSamples[language] = samples
	return samples
}

func (p *ProjectProfiler) detectFrameworks() {
	scores := map[string]float64{}

	for language, percentage := range p.languageStats.LanguagePercentages {
		if percentage < 5 {
			continue
		}
		patterns, ok := frameworkPatterns[language]
		if !ok {
			continue
		}
		samples := p.getContentSample(language)
		if len(samples) == 0 {
			continue
		}
		for framework, regexes := range patterns {
			key := language + "." + framework
			score := 0.0
			for _, sample := range samples {
				for _, re := range regexes {
					score += float64(len(re.FindAllString(sample, -1))) * 0.5
				}
			}
			if score > 0 {
				scores[key] = score
			}
		}
	}

	total := 0.0
	for _, s := range scores {
		total += s
	}
	if total == 0 {
		total = 1
	}
	percentages := map[string]float64{}
	for k, s := range scores {
		percentages[k] = s / total * 100
	}

	p.frameworkStats = FrameworkStatistics{
		DetectedFrameworks:   scores,
		FrameworkPercentages: percentages,
	}
}

func (p *ProjectProfiler) analyzeDirectoryStructure() {
	dirCounts := map[string]int{}
	var depths []int

	_ = filepath.Walk(p.repoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || !info.IsDir() {
			return nil
		}
		if path != p.repoPath && ignoredDirs[info.Name()] {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(p.repoPath, path)
		if err != nil {
			return nil
		}
		depth := 0
		if rel != "." {
			depth = strings.Count(rel, string(filepath.Separator)) + 1
		}
		depths = append(depths, depth)
		dirCounts[strings.ToLower(info.Name())]++
		return nil
	})

	type kv struct {
		k string
		v int
	}
	sorted := make([]kv, 0, len(dirCounts))
	for k, v := range dirCounts {
		sorted = append(sorted, kv{k, v})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].v != sorted[j].v {
			return sorted[i].v > sorted[j].v
		}
		return sorted[i].k < sorted[j].k
	})
	if len(sorted) > 20 {
		sorted = sorted[:20]
	}
	common := map[string]int{}
	for _, e := range sorted {
		common[e.k] = e.v
	}

	maxDepth := 0
	sumDepth := 0
	for _, d := range depths {
		if d > maxDepth {
			maxDepth = d
		}
		sumDepth += d
	}
	avgDepth := 0.0
	if len(depths) > 0 {
		avgDepth = float64(sumDepth) / float64(len(depths))
	}

	p.dirStructure = DirectoryStructure{
		CommonDirectories: common,
		MaxDepth:          maxDepth,
		AvgDepth:          avgDepth,
	}
}

func (p *ProjectProfiler) determineProjectType() {
	scores := map[string]float64{}

	detectedFrameworks := map[string]bool{}
	for k := range p.frameworkStats.DetectedFrameworks {
		detectedFrameworks[strings.ToLower(k)] = true
	}
	commonDirs := p.dirStructure.CommonDirectories

	types := make([]string, 0, len(projectTypeCriteria))
	for t := range projectTypeCriteria {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, projectType := range types {
		criteria := projectTypeCriteria[projectType]

		for _, pattern := range criteria.filePatterns {
			scores[projectType] += float64(p.countMatchingFiles(pattern)) * 2
		}

		for _, framework := range criteria.frameworks {
			for detected := range detectedFrameworks {
				if strings.Contains(detected, framework) {
					scores[projectType] += 5
				}
			}
		}

		for _, dirPattern := range criteria.directoryPatterns {
			for commonDir := range commonDirs {
				if strings.Contains(commonDir, dirPattern) {
					scores[projectType] += 3
				}
			}
		}
	}

	best := "unknown"
	bestScore := 0.0
	for _, t := range types {
		if scores[t] > bestScore {
			bestScore = scores[t]
			best = t
		}
	}
	p.projectType = best
}

func (p *ProjectProfiler) countMatchingFiles(pattern string) int {
	count := 0
	_ = filepath.Walk(p.repoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil {
			return nil
		}
		if info.IsDir() {
			if path != p.repoPath && ignoredDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.Contains(path, pattern) {
			count++
		}
		return nil
	})
	return count
}

func (p *ProjectProfiler) calculateCodeDensity() {
	density := map[string]LanguageDensity{}

	for language, percentage := range p.languageStats.LanguagePercentages {
		if percentage < 5 {
			continue
		}
		samples := p.getContentSample(language)
		if len(samples) == 0 {
			continue
		}

		commentRe, ok := commentPatterns[language]
		if !ok {
			commentRe = commentPatterns["python"]
		}

		var totalLines, totalEmpty, totalComment int
		var totalChars int

		for _, sample := range samples {
			lines := strings.Split(sample, "\n")
			totalLines += len(lines)
			totalChars += len(sample)
			for _, line := range lines {
				if strings.TrimSpace(line) == "" {
					totalEmpty++
				} else if commentRe.MatchString(line) {
					totalComment++
				}
			}
		}

		if totalLines > 0 {
			density[language] = LanguageDensity{
				AvgLineLength:    float64(totalChars) / float64(totalLines),
				EmptyLineRatio:   float64(totalEmpty) / float64(totalLines),
				CommentRatio:     float64(totalComment) / float64(totalLines),
				CodeDensityScore: float64(totalLines-totalEmpty-totalComment) / float64(totalLines),
			}
		}
	}

	p.fileStats.CodeDensity = density
}

// GetPrimaryLanguage returns the repository's dominant language by
// file count, analyzing on first use if needed.
func (p *ProjectProfiler) GetPrimaryLanguage() string {
	if p.languageStats.PrimaryLanguage == "" {
		p.detectLanguages()
	}
	return p.languageStats.PrimaryLanguage
}

// GetRecommendedConfig builds a base configuration matching the
// "default" template and applies project-type, project-size,
// primary-language, and code-density adjustments within fixed bounds
// within fixed bounds.
func (p *ProjectProfiler) GetRecommendedConfig() map[string]any {
	if p.profile == nil {
		p.AnalyzeRepository()
	}

	cm := map[string]any{
		"enabled":             true,
		"background_enabled":  true,
		"optimization_interval": 60,
		"embedding": map[string]any{
			"chunk_size":    1000,
			"chunk_overlap": 200,
		},
		"search": map[string]any{
			"bm25": map[string]any{"k1": 1.2, "b": 0.75},
		},
		"summarization": map[string]any{
			"threshold":          2000,
			"compression_ratio":  0.5,
		},
		"importance_scoring": map[string]any{
			"code_weight":      1.0,
			"comment_weight":   0.8,
			"metadata_weight":  0.7,
			"framework_weight": 0.9,
		},
	}

	p.adjustForProjectType(cm)
	p.adjustForProjectSize(cm)
	p.adjustForLanguage(cm)
	p.adjustForCodeDensity(cm)

	return map[string]any{"context_management": cm}
}

func embeddingOf(cm map[string]any) map[string]any  { return cm["embedding"].(map[string]any) }
func searchOf(cm map[string]any) map[string]any     { return cm["search"].(map[string]any) }
func bm25Of(cm map[string]any) map[string]any        { return searchOf(cm)["bm25"].(map[string]any) }
func summarizationOf(cm map[string]any) map[string]any { return cm["summarization"].(map[string]any) }
func importanceOf(cm map[string]any) map[string]any  { return cm["importance_scoring"].(map[string]any) }

func (p *ProjectProfiler) adjustForProjectType(cm map[string]any) {
	switch p.projectType {
	case "web_frontend":
		embeddingOf(cm)["chunk_size"] = 800
		embeddingOf(cm)["chunk_overlap"] = 250
		importanceOf(cm)["code_weight"] = 1.1
		importanceOf(cm)["framework_weight"] = 1.2
	case "web_backend":
		embeddingOf(cm)["chunk_size"] = 1200
		bm25Of(cm)["k1"] = 1.5
		importanceOf(cm)["code_weight"] = 1.2
	case "data_science":
		embeddingOf(cm)["chunk_size"] = 1500
		embeddingOf(cm)["chunk_overlap"] = 300
		importanceOf(cm)["comment_weight"] = 1.0
	case "cli_tool":
		embeddingOf(cm)["chunk_size"] = 900
		importanceOf(cm)["code_weight"] = 1.3
	case "library":
		embeddingOf(cm)["chunk_size"] = 1100
		importanceOf(cm)["code_weight"] = 1.1
		importanceOf(cm)["comment_weight"] = 1.0
	}
}

func (p *ProjectProfiler) adjustForProjectSize(cm map[string]any) {
	switch p.projectSize {
	case "small":
		cm["optimization_interval"] = 30
		summarizationOf(cm)["threshold"] = 1500
	case "large":
		cm["optimization_interval"] = 90
		summarizationOf(cm)["threshold"] = 2500
		summarizationOf(cm)["compression_ratio"] = 0.4
	}
}

func (p *ProjectProfiler) adjustForLanguage(cm map[string]any) {
	primary := p.GetPrimaryLanguage()
	chunkSize := toFloat(embeddingOf(cm)["chunk_size"])
	switch primary {
	case "python":
		embeddingOf(cm)["chunk_size"] = int(chunkSize * 0.9)
	case "java", "csharp":
		embeddingOf(cm)["chunk_size"] = int(chunkSize * 1.2)
		bm25Of(cm)["b"] = 0.8
	case "javascript", "typescript":
		embeddingOf(cm)["chunk_size"] = int(chunkSize * 0.95)
		bm25Of(cm)["k1"] = 1.3
	}
}

func (p *ProjectProfiler) adjustForCodeDensity(cm map[string]any) {
	primary := p.GetPrimaryLanguage()
	density, ok := p.fileStats.CodeDensity[primary]
	if !ok {
		return
	}

	chunkSize := toFloat(embeddingOf(cm)["chunk_size"])
	switch {
	case density.CodeDensityScore > 0.8:
		embeddingOf(cm)["chunk_size"] = int(chunkSize * 0.9)
		chunkOverlap := toFloat(embeddingOf(cm)["chunk_overlap"])
		embeddingOf(cm)["chunk_overlap"] = int(chunkOverlap * 1.1)
	case density.CodeDensityScore < 0.5:
		embeddingOf(cm)["chunk_size"] = int(chunkSize * 1.1)
	}

	commentWeight := toFloat(importanceOf(cm)["comment_weight"])
	switch {
	case density.CommentRatio > 0.3:
		importanceOf(cm)["comment_weight"] = minFloat(1.2, commentWeight*1.2)
	case density.CommentRatio < 0.1:
		importanceOf(cm)["comment_weight"] = maxFloat(0.5, commentWeight*0.8)
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
