package main

import (
	"os"

	"github.com/golang/glog"
)

// The hardware watchdog is serviced once per tick from the main loop. A
// tick that fails to complete within the watchdog period resets the
// controller; that is the intended response to a wedged loop.

var watchdogFile *os.File

func openWatchdog() {
	if watchdogDevice == "" {
		return
	}
	f, err := os.OpenFile(watchdogDevice, os.O_WRONLY, 0)
	if err != nil {
		glog.Errorf("Cannot open the watchdog %s - %s", watchdogDevice, err)
		return
	}
	watchdogFile = f
	glog.Infof("Watchdog enabled on %s", watchdogDevice)
}

func feedWatchdog() {
	if watchdogFile == nil {
		return
	}
	if _, err := watchdogFile.Write([]byte("1")); err != nil {
		glog.Errorf("Failed to feed the watchdog - %s", err)
	}
}

func closeWatchdog() {
	if watchdogFile == nil {
		return
	}
	// The magic close tells the driver this is an orderly shutdown, not a
	// hang.
	_, _ = watchdogFile.Write([]byte("V"))
	_ = watchdogFile.Close()
	watchdogFile = nil
}
