package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chordforge/engine/internal/mapping"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileYieldsEmptyDefaultConfig(t *testing.T) {
	m := NewManagerAtPath(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, m.Load())
	cfg := m.Current()
	require.Empty(t, cfg.Mappings)
	require.Equal(t, autoWorkerCount(), cfg.WorkerCount)
	require.NotZero(t, cfg.WorkerCount)
}

func TestLoadParsesTopLevelAndMappingFields(t *testing.T) {
	path := writeConfig(t, `
show_tray_icon = true
show_notifications = false
interval = 30
event_duration = 8
worker_count = 2
switch_key = "F13"
process_whitelist = ["notepad.exe"]

[[mappings]]
trigger_key = "LCTRL+A"
target_key = "B"
target_mode = 0
turbo_enabled = true
move_speed = 50
`)
	m := NewManagerAtPath(path)
	require.NoError(t, m.Load())

	cfg := m.Current()
	require.Len(t, cfg.Mappings, 1)
	require.Equal(t, uint16(2), cfg.WorkerCount)
	_, allowed := cfg.ProcessWhitelist["notepad.exe"]
	require.True(t, allowed)

	mm := cfg.Mappings[0]
	require.Equal(t, uint16(30), mm.IntervalMS)
	require.Equal(t, uint16(8), mm.EventDurationMS)
	require.True(t, mm.TurboEnabled)
	require.Equal(t, uint8(50), mm.MoveSpeed)

	ui := m.UI()
	require.True(t, ui.ShowTrayIcon)
	require.False(t, ui.ShowNotifications)
}

func TestLoadParsesSequenceTriggerAndMultiTarget(t *testing.T) {
	path := writeConfig(t, `
[[mappings]]
trigger_sequence = ["A", "B", "C"]
sequence_window_ms = 500
target_keys = ["X", "Y"]
target_mode = 1
`)
	m := NewManagerAtPath(path)
	require.NoError(t, m.Load())

	mm := m.Current().Mappings[0]
	require.Equal(t, uint16(500), mm.Trigger.WindowMS)
	require.Len(t, mm.Trigger.Sequence, 3)
	require.Len(t, mm.Target.Chords, 2)
}

func TestLoadDefaultsTrayIconOnWhenFieldOmitted(t *testing.T) {
	path := writeConfig(t, `
[[mappings]]
trigger_key = "A"
target_key = "B"
`)
	m := NewManagerAtPath(path)
	require.NoError(t, m.Load())
	require.True(t, m.UI().ShowTrayIcon)
	require.True(t, m.UI().ShowNotifications)
}

func TestLoadRejectsMalformedTriggerToken(t *testing.T) {
	path := writeConfig(t, `
[[mappings]]
trigger_key = "NOT_A_REAL_TOKEN"
target_key = "B"
`)
	m := NewManagerAtPath(path)
	require.Error(t, m.Load())
}

func TestLoadRejectsDuplicateTriggers(t *testing.T) {
	path := writeConfig(t, `
[[mappings]]
trigger_key = "A"
target_key = "B"

[[mappings]]
trigger_key = "A"
target_key = "C"
`)
	m := NewManagerAtPath(path)
	require.Error(t, m.Load())
}

func TestLoadParsesHIDBaselines(t *testing.T) {
	path := writeConfig(t, `
[[hid_baselines]]
device_id = "046D:C21D:ABC123"
baseline_data = [1, 2, 3]
`)
	m := NewManagerAtPath(path)
	require.NoError(t, m.Load())
	data, ok := m.Current().HIDBaselines["046D:C21D:ABC123"]
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3}, data)
}

func TestOnReloadFiresAfterWatchedChange(t *testing.T) {
	path := writeConfig(t, `
[[mappings]]
trigger_key = "A"
target_key = "B"
`)
	m := NewManagerAtPath(path)
	require.NoError(t, m.Load())

	var gotMappings int
	done := make(chan struct{}, 1)
	m.OnReload(func(cfg *mapping.Config) {
		gotMappings = len(cfg.Mappings)
		done <- struct{}{}
	})
	errs := m.Watch()

	require.NoError(t, os.WriteFile(path, []byte(`
[[mappings]]
trigger_key = "A"
target_key = "B"

[[mappings]]
trigger_key = "C"
target_key = "D"
`), 0o644))

	select {
	case <-done:
		require.Equal(t, 2, gotMappings)
	case err := <-errs:
		t.Fatalf("reload failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
