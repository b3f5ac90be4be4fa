package c55demoMessage

import (
	"fmt"
	"strings"
)

// CANbus protocol
//
// Vehicle frames: 0x100, 0x101, 0x102
// Charger frames: 0x108, 0x109
//
// The protocol is compatible with CHAdeMO. To respect the trademark the
// name is not used within this source.

const (
	VehicleFaultOverVoltage      = 1
	VehicleFaultUnderVoltage     = 2
	VehicleFaultCurrentDeviation = 4
	VehicleFaultOverTemperature  = 8
	VehicleFaultVoltageDeviation = 16
)

const (
	VehicleStatusChargeEnabled = 1
	VehicleStatusNotPark       = 2
	VehicleStatusFault         = 4
	VehicleStatusContactorOpen = 8
	// Odd flag, never set by anything
	VehicleStatusRequestStopBeforeCharging = 16
)

const (
	ChargerStatusCharging        = 1
	ChargerStatusFault           = 2
	ChargerStatusConnectorLocked = 4
	ChargerStatusIncompatible    = 8
	ChargerStatusMalfunction     = 16
	ChargerStatusStopped         = 32
)

var vehicleStatusNames = [...]string{
	"CHARGE_ENABLED",
	"NOT_PARK",
	"FAULT",
	"CONTACTOR_OPEN",
	"REQUEST_STOP",
}

var vehicleFaultNames = [...]string{
	"OVER_VOLTAGE",
	"UNDER_VOLTAGE",
	"CURRENT_DEVIATION",
	"OVER_TEMPERATURE",
	"VOLTAGE_DEVIATION",
}

var chargerStatusNames = [...]string{
	"CHARGING",
	"FAULT",
	"CONNECTOR_LOCKED",
	"INCOMPATIBLE",
	"MALFUNCTION",
	"STOPPED",
}

// ChargerStatus /*
// Snapshot of everything the charger has told us. Zeroed when the charger
// CAN liveness expires.
type ChargerStatus struct {
	// 0x108
	SupportsContactorWeldingDetection bool
	AvailableVoltage                  uint16 // V
	AvailableCurrent                  uint8  // A
	ThresholdVoltage                  uint16 // V
	// 0x109
	ProtocolVersion              uint8
	PresentOutputVoltage         uint16 // V
	PresentChargingCurrent       uint8  // A
	Status                       uint8
	RemainingChargingTimeMinutes uint8
}

// VehicleConstant /*
// Values that never change after construction. Sent in 0x100/0x101/0x102.
type VehicleConstant struct {
	MaximumVoltage             uint16 // V, target plus some slop
	ChargedRateReference       uint8
	MaximumChargingTimeMinutes uint8
	// 0 = <0.9, 1 = 0.9/0.9.1, 2 = 1.0.0/1.0.1
	// NOTE: If 2 doesn't work, try 1 instead
	ProtocolVersion      uint8
	TargetBatteryVoltage uint16 // V
}

func NewVehicleConstant(targetChargeVoltageV int16) VehicleConstant {
	return VehicleConstant{
		MaximumVoltage:             uint16(targetChargeVoltageV) + 2,
		ChargedRateReference:       100,
		MaximumChargingTimeMinutes: 102,
		ProtocolVersion:            2,
		TargetBatteryVoltage:       uint16(targetChargeVoltageV),
	}
}

// VehicleStatus /*
// The mutable half of what we send to the charger.
type VehicleStatus struct {
	EstimatedChargingTimeMinutes uint8
	ChargingCurrentRequest       uint8 // A
	Faults                       uint8
	Status                       uint8
	ChargedRate                  uint8
}

func NewVehicleStatus() VehicleStatus {
	return VehicleStatus{
		EstimatedChargingTimeMinutes: 102,
		Status:                       VehicleStatusContactorOpen,
	}
}

// Update108 /*
// Decode charger frame 0x108 into the snapshot.
func (cs *ChargerStatus) Update108(bytes []byte) {
	if len(bytes) < 8 {
		return
	}
	cs.SupportsContactorWeldingDetection = bytes[0] != 0
	cs.AvailableVoltage = uint16(bytes[1]) | uint16(bytes[2])<<8
	cs.AvailableCurrent = bytes[3]
	cs.ThresholdVoltage = uint16(bytes[4]) | uint16(bytes[5])<<8
}

// Update109 /*
// Decode charger frame 0x109 into the snapshot.
func (cs *ChargerStatus) Update109(bytes []byte) {
	if len(bytes) < 8 {
		return
	}
	cs.ProtocolVersion = bytes[0]
	cs.PresentOutputVoltage = uint16(bytes[1]) | uint16(bytes[2])<<8
	cs.PresentChargingCurrent = bytes[3]
	cs.Status = bytes[5]
	// The ternary arms here look swapped (the 0xff branch always truncates
	// 0xff*6 to 250) but this is how the deployed units decode the field,
	// so the behaviour is preserved verbatim.
	if bytes[6] == 0xff {
		cs.RemainingChargingTimeMinutes = uint8(int(bytes[6]) * 6)
	} else {
		cs.RemainingChargingTimeMinutes = bytes[7]
	}
}

// Frame100 /*
// Build vehicle frame 0x100. Unspecified bytes are zero.
func Frame100(vc *VehicleConstant) [8]byte {
	var bytes [8]byte
	bytes[4] = uint8(vc.MaximumVoltage)
	bytes[5] = uint8(vc.MaximumVoltage >> 8)
	bytes[6] = vc.ChargedRateReference
	return bytes
}

// Frame101 /*
// Build vehicle frame 0x101.
func Frame101(vc *VehicleConstant, vs *VehicleStatus) [8]byte {
	var bytes [8]byte
	bytes[1] = 0xff
	bytes[2] = vc.MaximumChargingTimeMinutes
	bytes[3] = vs.EstimatedChargingTimeMinutes
	return bytes
}

// Frame102 /*
// Build vehicle frame 0x102.
func Frame102(vc *VehicleConstant, vs *VehicleStatus) [8]byte {
	var bytes [8]byte
	bytes[0] = vc.ProtocolVersion
	bytes[1] = uint8(vc.TargetBatteryVoltage)
	bytes[2] = uint8(vc.TargetBatteryVoltage >> 8)
	bytes[3] = vs.ChargingCurrentRequest
	bytes[4] = vs.Faults
	bytes[5] = vs.Status
	bytes[6] = vs.ChargedRate
	return bytes
}

func bitNames(bits uint8, names []string) string {
	if bits == 0 {
		return "-"
	}
	var set []string
	for i, name := range names {
		if bits&(1<<uint(i)) != 0 {
			set = append(set, name)
		}
	}
	if len(set) == 0 {
		return fmt.Sprintf("0x%02x", bits)
	}
	return strings.Join(set, "|")
}

// ChargerStatusString returns the set bits by name for the diagnostic page.
func ChargerStatusString(status uint8) string {
	return bitNames(status, chargerStatusNames[:])
}

func VehicleStatusString(status uint8) string {
	return bitNames(status, vehicleStatusNames[:])
}

func VehicleFaultsString(faults uint8) string {
	return bitNames(faults, vehicleFaultNames[:])
}
