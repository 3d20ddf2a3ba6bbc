// Package telemetry centralizes the engine's structured logging and the
// push-only WebSocket feed a local diagnostics UI can subscribe to.
package telemetry

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide structured logger. Every component logs through
// this instance instead of constructing its own, so the single --log-level
// flag in cmd/chordforged controls the whole engine's output.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel parses level ("debug", "info", "warn", "error") and applies it
// to Log, falling back to info on an unrecognized value.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)
}

// activeFeed, when set, receives a push Event alongside every structured
// log line below except MatchCooldownSuppressed's, so a connected
// diagnostic client sees the same stream.
var activeFeed atomic.Pointer[Feed]

// SetFeed attaches the WebSocket feed the event helpers broadcast to.
// Pass nil to detach.
func SetFeed(f *Feed) {
	activeFeed.Store(f)
}

func publish(ev Event) {
	if f := activeFeed.Load(); f != nil {
		ev.Timestamp = time.Now().UnixMilli()
		f.Publish(ev)
	}
}

// TriggerActivated logs a mapping firing its target, tagged with the
// worker that owns it so a turbo-rate problem can be traced to one shard.
func TriggerActivated(mappingID uint32, workerID int) {
	Log.WithFields(logrus.Fields{"mapping_id": mappingID, "worker_id": workerID}).Info("trigger activated")
	publish(Event{Kind: "trigger_activated", MappingID: mappingID, WorkerID: workerID})
}

// SequenceMatched logs a sequence trigger's backward-scan match.
func SequenceMatched(mappingID uint32, deviceTag uint32) {
	Log.WithFields(logrus.Fields{"mapping_id": mappingID, "device_id": deviceTag}).Info("sequence matched")
	publish(Event{Kind: "sequence_matched", MappingID: mappingID})
}

// InboxFull logs an activation dropped because a worker's bounded inbox
// was saturated; the sender continues, this is diagnostic only.
func InboxFull(mappingID uint32, workerID int) {
	Log.WithFields(logrus.Fields{"mapping_id": mappingID, "worker_id": workerID}).Warn("worker inbox full, activation dropped")
	publish(Event{Kind: "inbox_full", MappingID: mappingID, WorkerID: workerID})
}

// StuckKeyCorrected logs a mapping whose turbo state was dropped because a
// config reload removed it while it was still active; no key-up is injected.
func StuckKeyCorrected(mappingID uint32) {
	Log.WithFields(logrus.Fields{"mapping_id": mappingID}).Warn("stuck key corrected across reload")
	publish(Event{Kind: "stuck_key_corrected", MappingID: mappingID})
}

// MatchCooldownSuppressed logs a sequence match that fired within its own
// mapping's cooldown window and was suppressed rather than activated.
func MatchCooldownSuppressed(mappingID uint32) {
	Log.WithFields(logrus.Fields{"mapping_id": mappingID}).Debug("sequence match suppressed by cooldown")
}

// DeviceNotActivated logs a HID report arriving for a device with no
// recorded baseline.
func DeviceNotActivated(deviceID string) {
	Log.WithFields(logrus.Fields{"device_id": deviceID}).Warn("HID device has no baseline")
	publish(Event{Kind: "device_not_activated", DeviceID: deviceID})
}
