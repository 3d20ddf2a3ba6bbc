//go:build windows

package main

import "os"

// inertSignal implements os.Signal but is never actually raised by the
// Windows process model; Windows has no SIGHUP equivalent, so the reload
// subcommand's signal-based path is inert here and operators reload via
// the tray icon's "Reload config" item or the config file watch instead.
type inertSignal struct{}

func (inertSignal) String() string { return "inert" }
func (inertSignal) Signal()        {}

func hupSignal() os.Signal {
	return inertSignal{}
}

func termSignal() os.Signal {
	return inertSignal{}
}
