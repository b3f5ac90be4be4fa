package c55demoMessage

import "testing"

func TestUpdate108(t *testing.T) {
	var cs ChargerStatus
	cs.Update108([]byte{1, 0xf4, 0x01, 125, 0xc2, 0x01, 0, 0})
	if !cs.SupportsContactorWeldingDetection {
		t.Error("welding detection flag not decoded")
	}
	if cs.AvailableVoltage != 500 {
		t.Errorf("available voltage: got %d, want 500", cs.AvailableVoltage)
	}
	if cs.AvailableCurrent != 125 {
		t.Errorf("available current: got %d, want 125", cs.AvailableCurrent)
	}
	if cs.ThresholdVoltage != 450 {
		t.Errorf("threshold voltage: got %d, want 450", cs.ThresholdVoltage)
	}
}

func TestUpdate109(t *testing.T) {
	var cs ChargerStatus
	cs.Update109([]byte{2, 0x8e, 0x01, 42, 0, ChargerStatusCharging | ChargerStatusConnectorLocked, 0, 55})
	if cs.ProtocolVersion != 2 {
		t.Errorf("protocol version: got %d", cs.ProtocolVersion)
	}
	if cs.PresentOutputVoltage != 398 {
		t.Errorf("present output voltage: got %d, want 398", cs.PresentOutputVoltage)
	}
	if cs.PresentChargingCurrent != 42 {
		t.Errorf("present charging current: got %d, want 42", cs.PresentChargingCurrent)
	}
	if cs.Status != ChargerStatusCharging|ChargerStatusConnectorLocked {
		t.Errorf("status: got 0x%02x", cs.Status)
	}
	if cs.RemainingChargingTimeMinutes != 55 {
		t.Errorf("remaining time: got %d, want 55", cs.RemainingChargingTimeMinutes)
	}
}

func TestUpdate109RemainingTimeMarker(t *testing.T) {
	var cs ChargerStatus
	// The 0xff marker branch truncates 0xff*6 to a byte. Preserved as
	// deployed; see the decode comment.
	cs.Update109([]byte{2, 0, 0, 0, 0, 0, 0xff, 90})
	if cs.RemainingChargingTimeMinutes != 250 {
		t.Errorf("marker decode: got %d, want 250", cs.RemainingChargingTimeMinutes)
	}
}

func TestShortFrameIgnored(t *testing.T) {
	var cs ChargerStatus
	cs.Update108([]byte{1, 0xf4, 0x01, 125})
	if cs.AvailableVoltage != 0 || cs.AvailableCurrent != 0 {
		t.Error("short frame should be ignored")
	}
}

func TestFrame100(t *testing.T) {
	vc := NewVehicleConstant(398)
	bytes := Frame100(&vc)
	if bytes[4] != 0x90 || bytes[5] != 0x01 { // 400 = target + 2 slop
		t.Errorf("maximum voltage bytes: %02x %02x", bytes[4], bytes[5])
	}
	if bytes[6] != 100 {
		t.Errorf("charged rate reference: got %d", bytes[6])
	}
	for _, i := range []int{0, 1, 2, 3, 7} {
		if bytes[i] != 0 {
			t.Errorf("byte %d should be zero, got %02x", i, bytes[i])
		}
	}
}

func TestFrame101(t *testing.T) {
	vc := NewVehicleConstant(398)
	vs := NewVehicleStatus()
	bytes := Frame101(&vc, &vs)
	if bytes[1] != 0xff {
		t.Errorf("byte 1 should be 0xff, got %02x", bytes[1])
	}
	if bytes[2] != 102 || bytes[3] != 102 {
		t.Errorf("charging time bytes: %d %d", bytes[2], bytes[3])
	}
}

func TestFrame102(t *testing.T) {
	vc := NewVehicleConstant(398)
	vs := NewVehicleStatus()
	vs.ChargingCurrentRequest = 17
	vs.Faults = VehicleFaultOverTemperature
	vs.ChargedRate = 64
	bytes := Frame102(&vc, &vs)
	if bytes[0] != 2 {
		t.Errorf("protocol version byte: got %d", bytes[0])
	}
	if bytes[1] != 0x8e || bytes[2] != 0x01 { // 398 LE
		t.Errorf("target voltage bytes: %02x %02x", bytes[1], bytes[2])
	}
	if bytes[3] != 17 || bytes[4] != VehicleFaultOverTemperature ||
		bytes[5] != VehicleStatusContactorOpen || bytes[6] != 64 {
		t.Errorf("payload: % 02x", bytes)
	}
}

func TestNewVehicleStatus(t *testing.T) {
	vs := NewVehicleStatus()
	if vs.Status != VehicleStatusContactorOpen {
		t.Errorf("initial status should be CONTACTOR_OPEN, got 0x%02x", vs.Status)
	}
	if vs.ChargingCurrentRequest != 0 {
		t.Error("initial current request should be zero")
	}
}

func TestBitNames(t *testing.T) {
	if got := ChargerStatusString(ChargerStatusCharging | ChargerStatusStopped); got != "CHARGING|STOPPED" {
		t.Errorf("charger status names: %q", got)
	}
	if got := VehicleStatusString(0); got != "-" {
		t.Errorf("empty status: %q", got)
	}
	if got := VehicleFaultsString(VehicleFaultVoltageDeviation); got != "VOLTAGE_DEVIATION" {
		t.Errorf("fault names: %q", got)
	}
}
