package ioPorts

import (
	"github.com/golang/glog"
	"github.com/stianeikeland/go-rpio"
)

/****************************************************************************************
* Inlet pilot wiring:-
*
* Pin	Function
*-------------------
*  d1			Charge sequence 1 (active high, 1k pull-down)
*  d2			Charge sequence 2 (active low, 1k pull-up)
*  conn_check	Connector presence (active low, 1k pull-up)
*  charging_enable	Charge permission relay
*  contactor		HV contactor driver
****************************************************************************************/

type PinConfig struct {
	D1             uint8
	D2             uint8
	ConnCheck      uint8
	ChargingEnable uint8
	Contactor      uint8
}

// DefaultPins are the BCM numbers the controller board routes the inlet
// harness to.
var DefaultPins = PinConfig{
	D1:             5,
	D2:             6,
	ConnCheck:      13,
	ChargingEnable: 19,
	Contactor:      26,
}

type IoPorts struct {
	pins   PinConfig
	opened bool
}

func New(pins PinConfig) *IoPorts {
	io := new(IoPorts)
	io.pins = pins
	return io
}

// Open /*
// Claim the GPIO ports and set up directions. Both outputs start inactive
// so that a restart never closes the contactor on its own.
func (io *IoPorts) Open() error {
	if err := rpio.Open(); err != nil {
		glog.Errorf("Failed to open the GPIO ports. - %s\n", err)
		return err
	}
	io.opened = true

	for _, p := range []uint8{io.pins.D1, io.pins.D2, io.pins.ConnCheck} {
		pin := rpio.Pin(p)
		pin.Mode(rpio.Input)
	}
	for _, p := range []uint8{io.pins.ChargingEnable, io.pins.Contactor} {
		pin := rpio.Pin(p)
		pin.Mode(rpio.Output)
		pin.Low()
	}
	return nil
}

func (io *IoPorts) Close() {
	if !io.opened {
		return
	}
	// Drop both actuators before letting go of the ports.
	io.SetChargingEnable(false)
	io.SetContactor(false)
	_ = rpio.Close()
	io.opened = false
}

// ReadInputs /*
// Sample the three pilot lines. The raw levels are returned; the session
// handles the active-low polarity of d2 and conn_check itself.
func (io *IoPorts) ReadInputs() (d1High bool, d2High bool, connCheckHigh bool) {
	d1High = rpio.Pin(io.pins.D1).Read() != 0
	d2High = rpio.Pin(io.pins.D2).Read() != 0
	connCheckHigh = rpio.Pin(io.pins.ConnCheck).Read() != 0
	return d1High, d2High, connCheckHigh
}

func (io *IoPorts) SetChargingEnable(on bool) {
	setPin(io.pins.ChargingEnable, on)
}

func (io *IoPorts) SetContactor(on bool) {
	setPin(io.pins.Contactor, on)
}

func setPin(p uint8, on bool) {
	pin := rpio.Pin(p)
	pin.Mode(rpio.Output)
	if on {
		pin.High()
	} else {
		pin.Low()
	}
}

// GetOutputs /*
// Read back the two actuator lines for the diagnostic page.
func (io *IoPorts) GetOutputs() (chargingEnable bool, contactor bool) {
	chargingEnable = rpio.Pin(io.pins.ChargingEnable).Read() != 0
	contactor = rpio.Pin(io.pins.Contactor).Read() != 0
	return chargingEnable, contactor
}
