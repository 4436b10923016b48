package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/vecocoin/vecominer/log"
)

// interruptSignals defines the default signals to catch in order to do a
// proper shutdown.
var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// interruptListener returns a channel that will be closed once an interrupt
// signal is received.  Repeated signals while a shutdown is already in
// progress are logged and otherwise ignored rather than escalated, so the
// teardown logic runs exactly once in ordinary control flow.
func interruptListener() <-chan struct{} {
	c := make(chan struct{})
	go func() {
		interruptChannel := make(chan os.Signal, 1)
		signal.Notify(interruptChannel, interruptSignals...)

		sig := <-interruptChannel
		log.VecoLog.Infof("Received signal (%s).  Shutting down...", sig)
		close(c)

		// Listen for any more shutdown signals and display a message
		// for each one.
		for {
			sig := <-interruptChannel
			log.VecoLog.Infof("Received signal (%s).  Already "+
				"shutting down...", sig)
		}
	}()

	return c
}

// interruptRequested returns true when the channel returned by
// interruptListener was closed.  This simplifies early shutdown slightly
// since the caller can just use an if statement instead of a select.
func interruptRequested(interrupted <-chan struct{}) bool {
	select {
	case <-interrupted:
		return true
	default:
	}

	return false
}
