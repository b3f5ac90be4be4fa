package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/stianeikeland/go-rpio"
)

const CpuTempFile = "/sys/class/thermal/thermal_zone0/temp"
const FanPin = 17

// The enclosure fan is wired through an inverting driver, low = running.
const fanOnTemp = 48.0
const fanOffTemp = 47.0

// GetCpuTemp returns the controller CPU temperature in Celcius
func GetCpuTemp() (float64, error) {
	data, err := os.ReadFile(CpuTempFile)
	if err != nil {
		return -1, err
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return -1, err
	}
	return value / 1000, nil
}

// ManageCpuTemp runs the enclosure fan whenever the CPU gets warm. If the
// temperature cannot be read the fan runs; that is the safe side.
func ManageCpuTemp() {
	if !gpioOK {
		return
	}
	t := time.NewTicker(time.Second)

	for range t.C {
		pin := rpio.Pin(FanPin)
		pin.Mode(rpio.Output)
		if temp, err := GetCpuTemp(); err != nil || temp > fanOnTemp {
			if pin.Read() != 0 {
				glog.Infof("CPU temp %0.1f, turning the fan on", temp)
				pin.Low()
			}
		} else if temp < fanOffTemp && pin.Read() == 0 {
			glog.Infof("CPU temp %0.1f, turning the fan off", temp)
			pin.High()
		}
	}
}
