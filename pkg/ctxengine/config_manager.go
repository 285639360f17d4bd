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
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"
)

const (
	defaultOptimizationInterval = 3600.0 // seconds
	maxRetainedConfigVersions   = 10
	activeConfigFilename        = "active_config.json"
)

var versionedConfigPattern = regexp.MustCompile(`^config_v(\d+)_(\d{8}_\d{6})\.json$`)

// VersionedConfig is the on-disk record for one configuration version.
type VersionedConfig struct {
	Config   map[string]any `json:"config"`
	Metadata ConfigMetadata `json:"metadata"`
}

// ConfigMetadata describes one version of the configuration.
type ConfigMetadata struct {
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason"`
}

// AdaptiveConfigManager owns the active configuration, versions it on
// disk, and runs metrics-driven optimization cycles.
type AdaptiveConfigManager struct {
	mu sync.Mutex

	repoPath  string
	configDir string

	activeConfig  map[string]any
	configVersion int

	templates *ConfigTemplateManager
	metrics   *MetricsCollector

	optimizationInProgress bool
	lastOptimization       time.Time

	now func() time.Time
	log *zap.Logger
}

// NewAdaptiveConfigManager loads active_config.json from configDir if
// present; otherwise it profiles repoPath, builds an initial
// configuration, validates it, and persists it as version 1. An empty
// configDir defaults to <repoPath>/.agent_s3/config.
func NewAdaptiveConfigManager(
	repoPath, configDir string,
	templates *ConfigTemplateManager,
	metrics *MetricsCollector,
	log *zap.Logger,
) *AdaptiveConfigManager {
	if log == nil {
		log = zap.NewNop()
	}
	if templates == nil {
		templates = NewConfigTemplateManager(log)
	}
	if configDir == "" {
		configDir = filepath.Join(repoPath, ".agent_s3", "config")
	}

	m := &AdaptiveConfigManager{
		repoPath:  repoPath,
		configDir: configDir,
		templates: templates,
		metrics:   metrics,
		now:       time.Now,
		log:       log,
	}
	m.initialize()
	return m
}

// setClock pins time for tests.
func (m *AdaptiveConfigManager) setClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *AdaptiveConfigManager) initialize() {
	if config, version, ok := m.loadActiveConfig(); ok {
		m.activeConfig = config
		m.configVersion = version
		m.log.Info("loaded active configuration",
			zap.Int("version", version), zap.String("dir", m.configDir))
		return
	}

	profiler := NewProjectProfiler(m.repoPath)
	config := profiler.GetRecommendedConfig()
	if ok, errs := m.templates.Validate(config); !ok {
		m.log.Warn("profiled configuration invalid, using default template",
			zap.Strings("errors", errs))
		config = m.templates.GetDefault()
	}

	m.activeConfig = config
	m.configVersion = 1
	m.persistLocked("Initial configuration from project profile")
}

// loadActiveConfig reads active_config.json and the highest persisted
// version number.
func (m *AdaptiveConfigManager) loadActiveConfig() (map[string]any, int, bool) {
	b, err := os.ReadFile(filepath.Join(m.configDir, activeConfigFilename))
	if err != nil {
		return nil, 0, false
	}
	var config map[string]any
	if err := json.Unmarshal(b, &config); err != nil {
		m.log.Warn("active config unreadable, reprofiling", zap.Error(err))
		return nil, 0, false
	}
	if ok, errs := m.templates.Validate(config); !ok {
		m.log.Warn("active config fails validation, reprofiling", zap.Strings("errors", errs))
		return nil, 0, false
	}

	version := 1
	for _, record := range m.readVersionedConfigs() {
		if record.Metadata.Version > version {
			version = record.Metadata.Version
		}
	}
	return config, version, true
}

// GetCurrentConfig returns a deep copy of the active configuration.
func (m *AdaptiveConfigManager) GetCurrentConfig() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deepCopyMap(m.activeConfig)
}

// GetConfigVersion returns the current version number.
func (m *AdaptiveConfigManager) GetConfigVersion() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configVersion
}

// OptimizationInterval reads adaptive_config.optimization_interval
// (seconds) from the active config, falling back to the 3600s default
// when unset.
func (m *AdaptiveConfigManager) OptimizationInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v := configNumberAt(m.activeConfig, "adaptive_config", "optimization_interval"); v > 0 {
		return time.Duration(v * float64(time.Second))
	}
	return time.Duration(defaultOptimizationInterval * float64(time.Second))
}

// UpdateConfiguration validates newConfig, swaps it in, increments the
// version, and persists a versioned record. A validation failure
// leaves the previous configuration active and returns
// ErrValidationFailed.
func (m *AdaptiveConfigManager) UpdateConfiguration(newConfig map[string]any, reason string) error {
	if ok, errs := m.templates.Validate(newConfig); !ok {
		return fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(errs, "; "))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	diff := configDiff(m.activeConfig, newConfig)
	m.activeConfig = deepCopyMap(newConfig)
	m.configVersion++
	m.persistLocked(reason)

	m.log.Info("configuration updated",
		zap.Int("version", m.configVersion),
		zap.String("reason", reason),
		zap.String("diff", diff))
	return nil
}

// configDiff renders a compact line diff of two configs for the update
// log line.
func configDiff(oldConfig, newConfig map[string]any) string {
	oldJSON, err1 := json.MarshalIndent(oldConfig, "", "  ")
	newJSON, err2 := json.MarshalIndent(newConfig, "", "  ")
	if err1 != nil || err2 != nil {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(oldJSON), string(newJSON), true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var sb strings.Builder
	for _, d := range diffs {
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			sb.WriteString("+" + text + " ")
		case diffmatchpatch.DiffDelete:
			sb.WriteString("-" + text + " ")
		}
	}
	return strings.TrimSpace(sb.String())
}

// persistLocked writes the versioned record and mirrors the active
// config; disk failures log and continue, in-memory state stays
// authoritative.
func (m *AdaptiveConfigManager) persistLocked(reason string) {
	if err := os.MkdirAll(m.configDir, 0o750); err != nil {
		m.log.Warn("config dir unavailable", zap.Error(err))
		return
	}

	ts := m.now().Format("20060102_150405")
	record := VersionedConfig{
		Config: deepCopyMap(m.activeConfig),
		Metadata: ConfigMetadata{
			Version:   m.configVersion,
			Timestamp: ts,
			Reason:    reason,
		},
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		m.log.Warn("config not serializable", zap.Error(err))
		return
	}
	name := fmt.Sprintf("config_v%d_%s.json", m.configVersion, ts)
	if err := os.WriteFile(filepath.Join(m.configDir, name), b, 0o600); err != nil {
		m.log.Warn("versioned config write failed", zap.Error(err))
	}

	active, err := json.MarshalIndent(m.activeConfig, "", "  ")
	if err == nil {
		if err := os.WriteFile(filepath.Join(m.configDir, activeConfigFilename), active, 0o600); err != nil {
			m.log.Warn("active config write failed", zap.Error(err))
		}
	}

	m.enforceRetentionLocked()
}

// enforceRetentionLocked keeps only the newest versioned config files.
func (m *AdaptiveConfigManager) enforceRetentionLocked() {
	entries, err := os.ReadDir(m.configDir)
	if err != nil {
		return
	}
	type versionedFile struct {
		name    string
		version int
	}
	var files []versionedFile
	for _, entry := range entries {
		match := versionedConfigPattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		v, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		files = append(files, versionedFile{name: entry.Name(), version: v})
	}
	if len(files) <= maxRetainedConfigVersions {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version > files[j].version })
	for _, f := range files[maxRetainedConfigVersions:] {
		if err := os.Remove(filepath.Join(m.configDir, f.name)); err != nil {
			m.log.Warn("old config version not removed",
				zap.String("file", f.name), zap.Error(err))
		}
	}
}

// readVersionedConfigs loads every parseable versioned record from the
// config directory.
func (m *AdaptiveConfigManager) readVersionedConfigs() []VersionedConfig {
	entries, err := os.ReadDir(m.configDir)
	if err != nil {
		return nil
	}
	var records []VersionedConfig
	for _, entry := range entries {
		if versionedConfigPattern.FindStringSubmatch(entry.Name()) == nil {
			continue
		}
		b, err := os.ReadFile(filepath.Join(m.configDir, entry.Name()))
		if err != nil {
			continue
		}
		var record VersionedConfig
		if err := json.Unmarshal(b, &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Metadata.Version < records[j].Metadata.Version
	})
	return records
}

// GetConfigHistory returns the persisted version metadata, oldest
// first.
func (m *AdaptiveConfigManager) GetConfigHistory() []ConfigMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.readVersionedConfigs()
	history := make([]ConfigMetadata, 0, len(records))
	for _, r := range records {
		history = append(history, r.Metadata)
	}
	return history
}

// CheckOptimizationNeeded reports whether an optimization cycle should
// run now: none in progress and at least the configured interval since
// the last one.
func (m *AdaptiveConfigManager) CheckOptimizationNeeded() bool {
	interval := m.OptimizationInterval()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.optimizationInProgress {
		return false
	}
	return m.lastOptimization.IsZero() || m.now().Sub(m.lastOptimization) >= interval
}

// OptimizeConfiguration runs one adaptive cycle: fetch recommendations
// from the metrics collector, apply the medium/high-confidence ones to
// a deep copy via dotted-path writes, and swap the result in through
// UpdateConfiguration. Declined (low-confidence) recommendations are
// logged. Returns false when busy or when nothing was applied.
func (m *AdaptiveConfigManager) OptimizeConfiguration() (bool, error) {
	m.mu.Lock()
	if m.optimizationInProgress {
		m.mu.Unlock()
		return false, ErrOptimizationBusy
	}
	m.optimizationInProgress = true
	current := deepCopyMap(m.activeConfig)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.optimizationInProgress = false
		m.lastOptimization = m.now()
		m.mu.Unlock()
	}()

	if m.metrics == nil {
		return false, nil
	}

	recommendations := m.metrics.RecommendConfigImprovements(current)
	if len(recommendations) == 0 {
		return false, nil
	}

	updated := deepCopyMap(current)
	var applied []string
	for _, rec := range recommendations {
		if rec.Confidence != "high" && rec.Confidence != "medium" {
			m.log.Info("declining low-confidence recommendation",
				zap.String("path", rec.Path), zap.String("reason", rec.Reason))
			continue
		}
		setDotted(updated, rec.Path, rec.Suggested)
		applied = append(applied, fmt.Sprintf("%s: %.4g -> %.4g (%s)",
			rec.Path, rec.Current, rec.Suggested, rec.Reason))
	}
	if len(applied) == 0 {
		return false, nil
	}

	reason := "Automatic optimization: " + strings.Join(applied, "; ")
	if err := m.UpdateConfiguration(updated, reason); err != nil {
		// Validation declined the edit; the previous version stays
		// active.
		m.log.Warn("optimized configuration rejected, keeping current", zap.Error(err))
		return false, err
	}
	return true, nil
}

// ResetToVersion re-applies a stored configuration version.
func (m *AdaptiveConfigManager) ResetToVersion(version int) error {
	m.mu.Lock()
	records := m.readVersionedConfigs()
	m.mu.Unlock()

	for _, record := range records {
		if record.Metadata.Version == version {
			return m.UpdateConfiguration(record.Config,
				fmt.Sprintf("Reset to version %d", version))
		}
	}
	return fmt.Errorf("%w: v%d", ErrVersionNotFound, version)
}

// ResetToDefault reprofiles the repository and applies the resulting
// configuration.
func (m *AdaptiveConfigManager) ResetToDefault() error {
	profiler := NewProjectProfiler(m.repoPath)
	config := profiler.GetRecommendedConfig()
	if ok, _ := m.templates.Validate(config); !ok {
		config = m.templates.GetDefault()
	}
	return m.UpdateConfiguration(config, "Reset to default configuration")
}
