//go:build !windows

package main

import (
	"os"
	"syscall"
)

func hupSignal() os.Signal {
	return syscall.SIGHUP
}

func termSignal() os.Signal {
	return syscall.SIGTERM
}
