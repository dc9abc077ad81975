//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifySignals delivers the signals that stop a launch from starting more
// processes. Running processes keep going.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
}
