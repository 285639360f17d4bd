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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestConfigWatcher_PicksUpExternalEdit(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := t.TempDir()
	configDir := filepath.Join(repo, ".agent_s3", "config")
	m := NewAdaptiveConfigManager(repo, configDir, nil, nil, nil)
	versionBefore := m.GetConfigVersion()

	w, err := NewConfigWatcher(m, 50*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	edited := m.GetCurrentConfig()
	edited["context_management"].(map[string]any)["optimization_interval"] = 240
	b, err := json.MarshalIndent(edited, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(configDir, activeConfigFilename), b, 0o600))

	require.Eventually(t, func() bool {
		return m.GetConfigVersion() > versionBefore
	}, 3*time.Second, 50*time.Millisecond, "external edit must bump the config version")

	interval := configNumberAt(m.GetCurrentConfig(), "context_management", "optimization_interval")
	require.EqualValues(t, 240, interval)
}

func TestConfigWatcher_RejectsInvalidEdit(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := t.TempDir()
	configDir := filepath.Join(repo, ".agent_s3", "config")
	m := NewAdaptiveConfigManager(repo, configDir, nil, nil, nil)
	before := m.GetCurrentConfig()

	w, err := NewConfigWatcher(m, 50*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	invalid := m.GetCurrentConfig()
	invalid["context_management"].(map[string]any)["embedding"].(map[string]any)["chunk_size"] = 99999
	b, err := json.MarshalIndent(invalid, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(configDir, activeConfigFilename), b, 0o600))

	// Give the debounce time to fire, then confirm nothing changed.
	time.Sleep(500 * time.Millisecond)
	require.Equal(t, before, m.GetCurrentConfig())
}

func TestConfigWatcher_StopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := t.TempDir()
	m := NewAdaptiveConfigManager(repo, filepath.Join(repo, "cfg"), nil, nil, nil)

	w, err := NewConfigWatcher(m, 0, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}
