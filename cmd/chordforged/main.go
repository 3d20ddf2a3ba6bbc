// Command chordforged runs the chord/sequence trigger engine: it loads the
// configuration file, installs the platform input hook, and dispatches
// matched triggers through the turbo worker pool until stopped.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"github.com/chordforge/engine/internal/config"
	"github.com/chordforge/engine/internal/hidbaseline"
	"github.com/chordforge/engine/internal/hook"
	"github.com/chordforge/engine/internal/mapping"
	"github.com/chordforge/engine/internal/ring"
	"github.com/chordforge/engine/internal/runtime"
	"github.com/chordforge/engine/internal/synth"
	"github.com/chordforge/engine/internal/telemetry"
	"github.com/chordforge/engine/internal/tray"
	"github.com/chordforge/engine/internal/worker"
)

// version is stamped at build time via -ldflags.
var version = "0.1.0"

const (
	exitClean            = 0
	exitConfigParseError = 2
	exitHookInstallError = 3
)

func main() {
	var (
		configPath string
		logLevel   string
		feedAddr   string
	)

	root := &cobra.Command{
		Use:   "chordforged",
		Short: "Chord and sequence trigger engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath, logLevel, feedAddr)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (defaults to the OS config directory)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&feedAddr, "feed-addr", "127.0.0.1:8765", "listen address for the diagnostic event feed")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the engine version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chordforged %s\n", version)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "reload",
		Short: "ask a running chordforged instance to reload its config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return signalRunningInstance(configPath)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigParseError)
	}
}

func runDaemon(configPath, logLevel, feedAddr string) error {
	telemetry.SetLevel(logLevel)

	cfgMgr, err := newConfigManager(configPath)
	if err != nil {
		telemetry.Log.WithError(err).Error("failed to initialize config manager")
		os.Exit(exitConfigParseError)
	}
	if err := cfgMgr.Load(); err != nil {
		telemetry.Log.WithError(err).Error("config parse error")
		os.Exit(exitConfigParseError)
	}
	if err := writePIDFile(configPath); err != nil {
		telemetry.Log.WithError(err).Warn("failed to write pid file, reload subcommand will not find this instance")
	}

	cfg := cfgMgr.Current()

	res := mapping.NewResolver()
	if err := res.Swap(cfg); err != nil {
		telemetry.Log.WithError(err).Error("initial mapping set failed validation")
		os.Exit(exitConfigParseError)
	}

	hid := hidbaseline.NewStore()
	hid.Load(cfg.HIDBaselines)

	injector := synth.NewWindowsInjector()
	sy := synth.New(injector)

	workerCount := int(cfg.WorkerCount)
	pool := worker.New(workerCount, sy, res)
	defer pool.Stop()

	rt := runtime.New(res, pool, runtime.ForegroundExeName)

	buf := ring.New(ring.DefaultCapacity, ring.DefaultDedupWindowUS)
	dispatcher := hook.New(buf, res, pool, rt, hid)
	dispatcher.SetConfig(cfg)

	capture := hook.NewCapture()
	if err := capture.Start(dispatcher); err != nil {
		telemetry.Log.WithError(err).Error("failed to install input hook")
		os.Exit(exitHookInstallError)
	}
	defer capture.Close()

	cfgMgr.OnReload(func(newCfg *mapping.Config) {
		hid.Load(newCfg.HIDBaselines)
		if err := rt.Reload(newCfg); err != nil {
			telemetry.Log.WithError(err).Warn("config reload rejected, keeping previous mapping set")
			return
		}
		dispatcher.SetConfig(newCfg)
		telemetry.Log.Info("config reloaded")
	})
	watchErrs := cfgMgr.Watch()
	go func() {
		for err := range watchErrs {
			telemetry.Log.WithError(err).Warn("config watch reload failed")
		}
	}()

	feed := telemetry.NewFeed()
	go feed.Run()
	telemetry.SetFeed(feed)
	defer telemetry.SetFeed(nil)
	defer feed.Stop()
	feedServer := &http.Server{Addr: feedAddr, Handler: feed}
	go func() {
		if err := feedServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Log.WithError(err).Warn("diagnostic feed server stopped")
		}
	}()
	defer feedServer.Close()

	quit := make(chan struct{})
	var quitOnce sync.Once
	requestQuit := func() { quitOnce.Do(func() { close(quit) }) }
	manualReload := func() {
		if err := cfgMgr.Load(); err != nil {
			telemetry.Log.WithError(err).Warn("manual reload failed")
			return
		}
		cfg := cfgMgr.Current()
		if err := rt.Reload(cfg); err != nil {
			telemetry.Log.WithError(err).Warn("manual reload rejected")
			return
		}
		hid.Load(cfg.HIDBaselines)
		dispatcher.SetConfig(cfg)
	}

	var t *tray.Tray
	if cfgMgr.UI().ShowTrayIcon {
		t = tray.New("Chordforge engine", rt, manualReload, requestQuit)
		go t.Run()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, termSignal(), hupSignal())
	go func() {
		for s := range sig {
			if s == hupSignal() {
				manualReload()
				continue
			}
			requestQuit()
			return
		}
	}()

	<-quit
	if t != nil {
		t.Stop()
	}
	removePIDFile(configPath)
	return nil
}

func newConfigManager(configPath string) (*config.Manager, error) {
	if configPath != "" {
		return config.NewManagerAtPath(configPath), nil
	}
	return config.NewManager()
}

func pidFilePath(configPath string) string {
	if configPath != "" {
		return configPath + ".pid"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "chordforge", "chordforged.pid")
}

func writePIDFile(configPath string) error {
	path := pidFilePath(configPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(configPath string) {
	_ = os.Remove(pidFilePath(configPath))
}

// signalRunningInstance reads the pid file a running daemon wrote at
// startup and sends it SIGHUP, asking it to reload its config without a
// restart. Best-effort: SIGHUP delivery from os.Process.Signal is not
// supported on Windows, so this degrades to an error there; operators on
// Windows reload via the tray icon's "Reload config" item instead.
func signalRunningInstance(configPath string) error {
	path := pidFilePath(configPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reload: no running instance found at %s: %w", path, err)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("reload: malformed pid file: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(hupSignal())
}
