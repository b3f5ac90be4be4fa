package bmsValues

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
)

// BmsValues /**
// Cache of the battery side of the input snapshot: what the BMS reports on
// the vehicle CAN bus plus the locally measured rail voltage and connector
// thermistors. The CAN handler and the optional sensor-box poller write it,
// the tick loop reads it.
type BmsValues struct {
	packVoltageV        int16
	mainContactorClosed bool
	maxChargeCurrentA   uint8
	socPercent          uint8
	railVoltageV        int16
	ntc1Celsius         int8
	ntc2Celsius         int8
	mu                  sync.Mutex
}

func New() *BmsValues {
	v := new(BmsValues)
	// Thermistors are optional equipment; -128 marks them unavailable.
	v.ntc1Celsius = -128
	v.ntc2Celsius = -128
	return v
}

// Vehicle bus frame layout (battery pack controller):
//
//  0x100  b0 bit2 = main contactor closed
//         b1|b2   = pack voltage, big endian, 0.1V/bit
//         b5      = maximum allowed charge current (A, 0 = do not charge)
//  0x102  b6      = state of charge, 0..255 = 0..100%

// HandleCanFrame /**
// Decode one vehicle-bus frame into the cache. Returns true if the frame
// was a BMS frame so the caller can reset the liveness of the bms module.
func (v *BmsValues) HandleCanFrame(id uint16, bytes []byte) bool {
	if len(bytes) < 8 {
		return false
	}
	switch id {
	case 0x100:
		v.mu.Lock()
		defer v.mu.Unlock()
		v.mainContactorClosed = bytes[0]&0x04 != 0
		v.packVoltageV = int16((uint16(bytes[1])<<8 | uint16(bytes[2])) / 10)
		v.maxChargeCurrentA = bytes[5]
		return true
	case 0x102:
		v.mu.Lock()
		defer v.mu.Unlock()
		v.socPercent = uint8((uint16(bytes[6])*100 + 127) / 255)
		return true
	}
	return false
}

// GetValues /**
// Return the whole battery snapshot for the tick loop.
func (v *BmsValues) GetValues() (packVoltageV int16, mainContactorClosed bool, maxChargeCurrentA uint8, socPercent uint8) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.packVoltageV, v.mainContactorClosed, v.maxChargeCurrentA, v.socPercent
}

func (v *BmsValues) GetRailVoltage() int16 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.railVoltageV
}

func (v *BmsValues) GetTemperatures() (ntc1 int8, ntc2 int8) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ntc1Celsius, v.ntc2Celsius
}

func (v *BmsValues) SetRailVoltage(railVoltageV int16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.railVoltageV = railVoltageV
}

func (v *BmsValues) SetTemperatures(ntc1 int8, ntc2 int8) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ntc1Celsius = ntc1
	v.ntc2Celsius = ntc2
}

// The sensor box returns the inlet measurements as JSON, one reading per
// divider channel and thermistor.
type sensorReadings struct {
	RailVoltage float32    `json:"railVoltage"`
	Ntc         [2]float32 `json:"ntc"`
}

// Poll /**
// Read the rail voltage and connector thermistors from the sensor box.
// Errors leave the previous values in place; the session tolerates a stale
// snapshot for a tick and the deviation supervisors catch anything worse.
func (v *BmsValues) Poll(url string) error {
	resp, err := http.Get(url + "/ajax/inlet")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var readings sensorReadings
	if err := json.Unmarshal(body, &readings); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.railVoltageV = int16(readings.RailVoltage)
	v.ntc1Celsius = clampCelsius(readings.Ntc[0])
	v.ntc2Celsius = clampCelsius(readings.Ntc[1])
	return nil
}

func clampCelsius(t float32) int8 {
	if t < -127 {
		return -128
	}
	if t > 127 {
		return 127
	}
	return int8(t)
}

// Run /**
// Poll the sensor box once a second until the program exits.
func (v *BmsValues) Run(url string) {
	for {
		if err := v.Poll(url); err != nil {
			glog.Errorf("Failed to read the inlet sensor box - %s", err)
		}
		time.Sleep(time.Second)
	}
}
