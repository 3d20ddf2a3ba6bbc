// Package config loads and validates the engine's TOML configuration file
// into a mapping.Config snapshot, and watches it for changes so the running
// engine can reload without a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/chordforge/engine/internal/canonical"
	"github.com/chordforge/engine/internal/hidbaseline"
	"github.com/chordforge/engine/internal/mapping"
)

// rawMapping mirrors one [[mappings]] table. Missing optional fields decode
// to zero values and fall back to the top-level defaults below.
type rawMapping struct {
	TriggerKey       string   `mapstructure:"trigger_key"`
	TriggerSequence  []string `mapstructure:"trigger_sequence"`
	SequenceWindowMS uint16   `mapstructure:"sequence_window_ms"`
	TargetKey        string   `mapstructure:"target_key"`
	TargetKeys       []string `mapstructure:"target_keys"`
	TargetMode       uint8    `mapstructure:"target_mode"`
	Interval         uint16   `mapstructure:"interval"`
	EventDuration    uint16   `mapstructure:"event_duration"`
	MoveSpeed        uint8    `mapstructure:"move_speed"`
	TurboEnabled     bool     `mapstructure:"turbo_enabled"`
}

type rawHIDBaseline struct {
	DeviceID     string `mapstructure:"device_id"`
	BaselineData []byte `mapstructure:"baseline_data"`
}

// rawFile is the full top-level TOML shape, decoded by viper.Unmarshal.
type rawFile struct {
	ShowTrayIcon      bool             `mapstructure:"show_tray_icon"`
	ShowNotifications bool             `mapstructure:"show_notifications"`
	AlwaysOnTop       bool             `mapstructure:"always_on_top"`
	DarkMode          bool             `mapstructure:"dark_mode"`
	Language          string           `mapstructure:"language"`
	InputTimeout      uint16           `mapstructure:"input_timeout"`
	Interval          uint16           `mapstructure:"interval"`
	EventDuration     uint16           `mapstructure:"event_duration"`
	WorkerCount       uint16           `mapstructure:"worker_count"`
	SwitchKey         string           `mapstructure:"switch_key"`
	ProcessWhitelist  []string         `mapstructure:"process_whitelist"`
	Mappings          []rawMapping     `mapstructure:"mappings"`
	HIDBaselines      []rawHIDBaseline `mapstructure:"hid_baselines"`
}

// UIDefaults carries the tray/notification settings the engine core never
// consults itself but still parses so cmd/chordforged can hand them to the
// tray icon unchanged.
type UIDefaults struct {
	ShowTrayIcon      bool
	ShowNotifications bool
	AlwaysOnTop       bool
	DarkMode          bool
}

// defaultInterval/defaultEventDuration backstop the top-level
// [interval]/[event_duration] fields used as per-mapping defaults when a
// [[mappings]] entry omits them.
const (
	defaultInterval      = 50
	defaultEventDuration = 10
)

// autoWorkerCount resolves worker_count = 0 to min(hardware parallelism, 8).
func autoWorkerCount() uint16 {
	n := goruntime.NumCPU()
	if n > 8 {
		n = 8
	}
	return uint16(n)
}

// Manager owns the viper instance backing the configuration file, the last
// successfully validated snapshot, and an optional reload callback invoked
// after every successful re-parse.
type Manager struct {
	mu         sync.Mutex
	v          *viper.Viper
	configPath string
	current    *mapping.Config
	ui         UIDefaults
	onReload   func(*mapping.Config)
}

// NewManager builds a Manager reading from the OS-conventional config
// directory.
func NewManager() (*Manager, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "config.toml")
	return NewManagerAtPath(path), nil
}

// NewManagerAtPath builds a Manager reading from an explicit file path,
// used by tests and by a --config CLI override.
func NewManagerAtPath(path string) *Manager {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetDefault("show_tray_icon", true)
	v.SetDefault("show_notifications", true)
	return &Manager{v: v, configPath: path}
}

func configDir() (string, error) {
	switch goruntime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "chordforge"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "chordforge"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "AppData", "Roaming", "chordforge"), nil
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "chordforge"), nil
	}
}

// Load reads and validates the configuration file, storing the resulting
// snapshot. A missing file is not an error: it is treated as an empty
// configuration (no mappings, an automatic worker count, tray icon and
// notifications on) so a first run starts cleanly before any file has been
// written.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

func (m *Manager) load() error {
	if err := m.v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound || os.IsNotExist(err) {
			cfg, ui := defaultSnapshot()
			m.current = cfg
			m.ui = ui
			return nil
		}
		return fmt.Errorf("config: %w", err)
	}

	var raw rawFile
	if err := m.v.Unmarshal(&raw); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	cfg, ui, err := toMappingConfig(&raw)
	if err != nil {
		return err
	}
	if err := mapping.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	m.current = cfg
	m.ui = ui
	return nil
}

func defaultSnapshot() (*mapping.Config, UIDefaults) {
	return &mapping.Config{
		WorkerCount: autoWorkerCount(),
	}, UIDefaults{ShowTrayIcon: true, ShowNotifications: true}
}

// Current returns the last successfully validated snapshot. Never nil after
// a successful Load.
func (m *Manager) Current() *mapping.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// UI returns the last-loaded tray/notification defaults.
func (m *Manager) UI() UIDefaults {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ui
}

// OnReload registers the callback invoked, with the new validated
// snapshot, after every successful Watch-triggered re-parse. Only one
// callback is kept; a later registration replaces the previous one.
func (m *Manager) OnReload(fn func(*mapping.Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = fn
}

// Watch starts viper's fsnotify-backed file watch, driving OnReload on every
// write. A reload that fails validation is surfaced on the returned error
// channel and leaves the previous snapshot and UI defaults active.
func (m *Manager) Watch() <-chan error {
	errs := make(chan error, 1)
	m.v.OnConfigChange(func(fsnotify.Event) {
		m.mu.Lock()
		err := m.load()
		cfg := m.current
		cb := m.onReload
		m.mu.Unlock()

		if err != nil {
			select {
			case errs <- err:
			default:
			}
			return
		}
		if cb != nil {
			cb(cfg)
		}
	})
	m.v.WatchConfig()
	return errs
}

// toMappingConfig converts a decoded rawFile into a validated
// mapping.Config, parsing every token-bearing field through canonical's
// total parser so a malformed trigger/target chord fails the whole reload
// rather than silently producing a broken mapping.
func toMappingConfig(raw *rawFile) (*mapping.Config, UIDefaults, error) {
	cfg := &mapping.Config{
		ProcessWhitelist: make(map[string]struct{}, len(raw.ProcessWhitelist)),
		WorkerCount:      raw.WorkerCount,
		InputTimeoutMS:   raw.InputTimeout,
		Language:         raw.Language,
		HIDBaselines:     map[string][]byte{},
	}
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = autoWorkerCount()
	}
	for _, exe := range raw.ProcessWhitelist {
		cfg.ProcessWhitelist[exe] = struct{}{}
	}

	if raw.SwitchKey != "" {
		tok, err := canonical.ParseToken(raw.SwitchKey)
		if err != nil {
			return nil, UIDefaults{}, fmt.Errorf("config: switch_key: %w", err)
		}
		vk, ok := tok.VK()
		if !ok {
			return nil, UIDefaults{}, fmt.Errorf("config: switch_key %q is not a keyboard token", raw.SwitchKey)
		}
		cfg.SwitchVK = vk
	}

	for i, rm := range raw.Mappings {
		m, err := toMapping(uint32(i+1), rm, raw)
		if err != nil {
			return nil, UIDefaults{}, err
		}
		cfg.Mappings = append(cfg.Mappings, m)
	}

	for _, hb := range raw.HIDBaselines {
		if _, err := hidbaseline.ParseDeviceID(hb.DeviceID); err != nil {
			return nil, UIDefaults{}, fmt.Errorf("config: hid_baselines: %w", err)
		}
		cfg.HIDBaselines[hb.DeviceID] = hb.BaselineData
	}

	ui := UIDefaults{
		ShowTrayIcon:      raw.ShowTrayIcon,
		ShowNotifications: raw.ShowNotifications,
		AlwaysOnTop:       raw.AlwaysOnTop,
		DarkMode:          raw.DarkMode,
	}
	return cfg, ui, nil
}

func toMapping(id uint32, rm rawMapping, raw *rawFile) (*mapping.Mapping, error) {
	trigger, err := toTrigger(rm)
	if err != nil {
		return nil, fmt.Errorf("config: mapping %d: %w", id, err)
	}
	target, err := toTarget(rm)
	if err != nil {
		return nil, fmt.Errorf("config: mapping %d: %w", id, err)
	}

	interval := rm.Interval
	if interval == 0 {
		interval = orDefault(raw.Interval, defaultInterval)
	}
	duration := rm.EventDuration
	if duration == 0 {
		duration = orDefault(raw.EventDuration, defaultEventDuration)
	}

	return &mapping.Mapping{
		ID:              id,
		Trigger:         trigger,
		Target:          target,
		IntervalMS:      interval,
		EventDurationMS: duration,
		MoveSpeed:       rm.MoveSpeed,
		TurboEnabled:    rm.TurboEnabled,
	}, nil
}

func orDefault(v, def uint16) uint16 {
	if v == 0 {
		return def
	}
	return v
}

func toTrigger(rm rawMapping) (mapping.TriggerSpec, error) {
	if len(rm.TriggerSequence) > 0 {
		tokens := make([]canonical.Token, len(rm.TriggerSequence))
		for i, raw := range rm.TriggerSequence {
			tok, err := canonical.ParseToken(raw)
			if err != nil {
				return mapping.TriggerSpec{}, err
			}
			tokens[i] = tok
		}
		return mapping.TriggerSpec{
			Kind:     mapping.TriggerSequence,
			Sequence: tokens,
			WindowMS: rm.SequenceWindowMS,
		}, nil
	}
	chord, err := canonical.ParseChord(rm.TriggerKey)
	if err != nil {
		return mapping.TriggerSpec{}, err
	}
	return mapping.TriggerSpec{Kind: mapping.TriggerSingle, Chord: chord}, nil
}

func toTarget(rm rawMapping) (mapping.TargetSpec, error) {
	raws := rm.TargetKeys
	if len(raws) == 0 && rm.TargetKey != "" {
		raws = []string{rm.TargetKey}
	}
	chords := make([]canonical.Chord, len(raws))
	for i, raw := range raws {
		c, err := canonical.ParseChord(raw)
		if err != nil {
			return mapping.TargetSpec{}, err
		}
		chords[i] = c
	}
	return mapping.TargetSpec{Mode: mapping.TargetMode(rm.TargetMode), Chords: chords}, nil
}
