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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestConfigManager(t *testing.T) (*AdaptiveConfigManager, string) {
	t.Helper()
	repo := t.TempDir()
	require.NoError(t, writeTestFile(t, filepath.Join(repo, "main.py"), "def main():\n    pass\n"))
	configDir := filepath.Join(repo, ".agent_s3", "config")
	m := NewAdaptiveConfigManager(repo, configDir, nil, nil, nil)
	return m, configDir
}

func TestConfigManager_InitializesFromProfile(t *testing.T) {
	m, configDir := newTestConfigManager(t)

	require.Equal(t, 1, m.GetConfigVersion())
	config := m.GetCurrentConfig()
	require.Contains(t, config, "context_management")

	_, err := os.Stat(filepath.Join(configDir, "active_config.json"))
	require.NoError(t, err, "initial config must be mirrored to active_config.json")
}

func TestConfigManager_ReloadsPersistedConfig(t *testing.T) {
	m, configDir := newTestConfigManager(t)
	require.NoError(t, m.UpdateConfiguration(m.GetCurrentConfig(), "bump"))
	wantVersion := m.GetConfigVersion()

	reloaded := NewAdaptiveConfigManager(m.repoPath, configDir, nil, nil, nil)
	require.Equal(t, wantVersion, reloaded.GetConfigVersion(),
		"a restart must resume from the persisted version")
}

// Each successful update strictly increments the version; a rejected
// one leaves everything untouched.
func TestConfigManager_UpdateAndValidation(t *testing.T) {
	m, _ := newTestConfigManager(t)

	valid := m.GetCurrentConfig()
	valid["context_management"].(map[string]any)["optimization_interval"] = 120
	require.NoError(t, m.UpdateConfiguration(valid, "tune interval"))
	require.Equal(t, 2, m.GetConfigVersion())

	invalid := m.GetCurrentConfig()
	invalid["context_management"].(map[string]any)["embedding"].(map[string]any)["chunk_size"] = 99999
	err := m.UpdateConfiguration(invalid, "should fail")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrValidationFailed))

	require.Equal(t, 2, m.GetConfigVersion(), "failed update must not bump the version")
	cm := m.GetCurrentConfig()["context_management"].(map[string]any)
	require.EqualValues(t, 120, cm["optimization_interval"])
}

func TestConfigManager_RetentionKeepsTenNewest(t *testing.T) {
	m, configDir := newTestConfigManager(t)

	// Pin distinct timestamps so each version gets its own file name.
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	m.setClock(func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	})

	for i := 0; i < 14; i++ {
		config := m.GetCurrentConfig()
		config["context_management"].(map[string]any)["optimization_interval"] = 60 + i
		require.NoError(t, m.UpdateConfiguration(config, "iterate"))
	}

	entries, err := os.ReadDir(configDir)
	require.NoError(t, err)

	versioned := 0
	for _, entry := range entries {
		if versionedConfigPattern.MatchString(entry.Name()) {
			versioned++
		}
	}
	require.LessOrEqual(t, versioned, maxRetainedConfigVersions)

	history := m.GetConfigHistory()
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	require.Equal(t, m.GetConfigVersion(), last.Version, "newest version must survive retention")
}

func TestConfigManager_ResetToVersion(t *testing.T) {
	m, _ := newTestConfigManager(t)

	v1Interval := configNumberAt(m.GetCurrentConfig(), "context_management", "optimization_interval")

	changed := m.GetCurrentConfig()
	changed["context_management"].(map[string]any)["optimization_interval"] = 240
	require.NoError(t, m.UpdateConfiguration(changed, "change interval"))

	require.NoError(t, m.ResetToVersion(1))
	restored := configNumberAt(m.GetCurrentConfig(), "context_management", "optimization_interval")
	require.Equal(t, v1Interval, restored)
	require.Equal(t, 3, m.GetConfigVersion(), "reset is itself a new version")

	err := m.ResetToVersion(999)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrVersionNotFound))
}

// Adaptive cycle: 20 low-relevance samples drive a chunk_overlap
// increase under an "Automatic optimization" reason, retaining the
// previous version on disk.
func TestConfigManager_OptimizeConfiguration(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, writeTestFile(t, filepath.Join(repo, "main.py"), "def main():\n    pass\n"))
	configDir := filepath.Join(repo, ".agent_s3", "config")

	metrics := NewMetricsCollector("", nil)
	m := NewAdaptiveConfigManager(repo, configDir, nil, metrics, nil)

	current := m.GetCurrentConfig()
	overlapBefore := configNumberAt(current, "context_management", "embedding", "chunk_overlap")
	require.Positive(t, overlapBefore)

	for i := 0; i < 20; i++ {
		metrics.LogContextRelevance(0.55, current)
	}

	versionBefore := m.GetConfigVersion()
	applied, err := m.OptimizeConfiguration()
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, versionBefore+1, m.GetConfigVersion())

	overlapAfter := configNumberAt(m.GetCurrentConfig(), "context_management", "embedding", "chunk_overlap")
	require.InDelta(t, overlapBefore*1.2, overlapAfter, 1.0)

	history := m.GetConfigHistory()
	found := false
	for _, record := range history {
		if strings.Contains(record.Reason, "Automatic optimization") {
			found = true
		}
	}
	require.True(t, found)

	// Previous version remains on disk.
	versions := map[int]bool{}
	for _, record := range history {
		versions[record.Version] = true
	}
	require.True(t, versions[versionBefore])
}

func TestConfigManager_OptimizeNoopWithoutSignals(t *testing.T) {
	metricsDirless := NewMetricsCollector("", nil)
	repo := t.TempDir()
	m := NewAdaptiveConfigManager(repo, filepath.Join(repo, "cfg"), nil, metricsDirless, nil)

	applied, err := m.OptimizeConfiguration()
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, 1, m.GetConfigVersion())
}

func TestConfigManager_CheckOptimizationNeeded(t *testing.T) {
	m, _ := newTestConfigManager(t)

	require.True(t, m.CheckOptimizationNeeded(), "never optimized yet")

	_, err := m.OptimizeConfiguration()
	require.NoError(t, err)
	require.False(t, m.CheckOptimizationNeeded(), "interval has not elapsed")

	m.setClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	require.True(t, m.CheckOptimizationNeeded())
}
