package c55demoSession

import (
	"fmt"
	"io"

	"C55demoController/c55demoMessage"
	"C55demoController/longTime"
)

// The vehicle-side charge session automaton. One Session is constructed per
// power-up and driven three ways, all from the same loop:
//
//   - Update() every 100ms with a fresh input snapshot
//   - HandleCanFrame() for every charger frame as it is drained
//   - SendCanFrames() every 100ms after Update()
//
// Recoverable protocol errors are handled by moving the state machine, never
// by returning errors.

const (
	requestingStopNicelyTimeoutMs        = 40000
	requestingStopOpenContactorTimeoutMs = 20000
	voltageSlop                          = 2
)

type State int

const (
	WaitingSeq1 State = iota // Until d1 (seq 1 input) activates
	WaitingParameters        // Until we have valid parameters from the charger
	WaitingBmsContactor      // Until the BMS reports its main contactor closed
	PermittingCharge         // 0.5s delay, then next state (IEEE 2030.1.1 A.6)
	PermittingChargePhase2   // Until d2 (seq 2) and connector lock activate after the insulation test; then close contactor
	WaitingChargerToStartCharging
	Charging
	RequestingStopNicely // Until the current request has been lowered to 0
	RequestingStop       // 1.75s delay, then next state (IEEE 2030.1.1 A.6)
	RequestingStopPhase2 // Until the charger reports <5A; then open contactor
	WaitingConnectorUnlock
	Ended
)

var stateNames = [...]string{
	"WAITING_SEQ1",
	"WAITING_PARAMETERS",
	"WAITING_BMS_CONTACTOR",
	"PERMITTING_CHARGE",
	"PERMITTING_CHARGE_PHASE2",
	"WAITING_CHARGER_TO_START_CHARGING",
	"CHARGING",
	"REQUESTING_STOP_NICELY",
	"REQUESTING_STOP",
	"REQUESTING_STOP_PHASE2",
	"WAITING_CONNECTOR_UNLOCK",
	"ENDED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("UNKNOWN[%d]", int(s))
	}
	return stateNames[s]
}

// Input /*
// Snapshot of the pilot wires, analog readings and BMS values. Built fresh
// by the caller every tick and read only here.
type Input struct {
	D1High        bool // High = 12V (active)
	D2High        bool // High = 12V, low = 0V (active)
	ConnCheckHigh bool // false = plugged in
	Ntc1Celsius   int8 // -128 = unknown
	Ntc2Celsius   int8
	RailVoltageV  int16 // Measured by the vehicle outside of the battery

	BmsPackVoltageV        int16
	BmsMainContactorClosed bool
	BmsMaxChargeCurrentA   uint8 // 0 = charging not allowed
	BmsSocPercent          uint8
	VehicleParked          bool
}

// Output /*
// The digital actuator requests. Read only to the caller.
type Output struct {
	DisableInverter       bool
	ChargingEnable        bool
	CloseC55demoContactor bool
	CloseBmsContactor     bool
}

type Session struct {
	targetChargeVoltageV int16
	chargeEndA           uint8

	Output          Output
	VehicleConstant c55demoMessage.VehicleConstant
	VehicleStatus   c55demoMessage.VehicleStatus
	ChargerStatus   c55demoMessage.ChargerStatus

	state State

	// Timestamps in longTime milliseconds; 0 = never
	startTimestamp                     uint32
	permitChargeTimestamp              uint32
	contactorCloseTimestamp            uint32
	requestingStopTimestamp            uint32
	chargerLastCorrectVoltageTimestamp uint32
	bmsLastCorrectVoltageTimestamp     uint32
	lastReceivedFromChargerTimestamp   uint32
	currentRequestAdjustedTimestamp    uint32

	// Throttle cells for the repeating console lines
	logDiscrepancy      uint32
	logWaitingSeq1      uint32
	logWaitingParams    uint32
	logWaitingContactor uint32
	logWaitingLock      uint32
	logWaitingStart     uint32
	logEnded            uint32

	console io.Writer
	now     func() uint32
}

// New /*
// Construct a session for one target voltage. chargeEndA is the current
// request level below which the charge is considered finished.
func New(targetChargeVoltageV int16, chargeEndA uint8) *Session {
	s := &Session{
		targetChargeVoltageV: targetChargeVoltageV,
		chargeEndA:           chargeEndA,
		state:                WaitingSeq1,
		now:                  longTime.Now,
	}
	s.VehicleConstant = c55demoMessage.NewVehicleConstant(targetChargeVoltageV)
	s.VehicleStatus = c55demoMessage.NewVehicleStatus()
	s.Output.DisableInverter = true
	return s
}

// SetConsole sets the sink for the protocol log lines. A nil console is
// fine; the session then runs silently.
func (s *Session) SetConsole(console io.Writer) {
	s.console = console
}

// SetNow replaces the clock. Used by the tests to step time by hand.
func (s *Session) SetNow(now func() uint32) {
	s.now = now
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) StateName() string {
	return s.state.String()
}

func (s *Session) logln(line string) {
	if s.console == nil {
		return
	}
	_, _ = fmt.Fprintln(s.console, "-!- "+line)
}

func (s *Session) age(ts uint32) uint32 {
	return s.now() - ts
}

// Same contract as longTime.Every but on the session clock, so the
// throttled lines stay deterministic under test.
func (s *Session) every(cell *uint32, interval uint32) bool {
	if s.age(*cell) < interval {
		return false
	}
	*cell = s.now()
	return true
}

func (s *Session) chargerCanAlive() bool {
	return s.lastReceivedFromChargerTimestamp != 0 &&
		s.age(s.lastReceivedFromChargerTimestamp) < 5000
}

// requestMainContactor /*
// The BMS contactor is wanted closed through the whole contactor-closed part
// of the sequence, and additionally whenever the charger still reports more
// than 5A flowing (contactor-saving failsafe).
func (s *Session) requestMainContactor() bool {
	if s.ChargerStatus.PresentChargingCurrent > 5 {
		return true
	}
	if s.state >= WaitingBmsContactor && s.state != Ended {
		return true
	}
	return false
}

func (s *Session) requestInverterDisable(input *Input) bool {
	return !input.ConnCheckHigh || s.requestMainContactor()
}

// stopChargeIfNeeded /*
// The cross-cutting safety checks. Run from every charging-adjacent state.
func (s *Session) stopChargeIfNeeded(input *Input) {
	if s.state == Charging || s.state == PermittingCharge ||
		s.state == WaitingChargerToStartCharging {
		if input.Ntc1Celsius > 50 || input.Ntc2Celsius > 50 {
			s.logln("Connector over temperature")
			s.stopCharging()
		}
		if input.BmsMaxChargeCurrentA == 0 || !input.BmsMainContactorClosed {
			s.logln("BMS does not allow charging")
			s.stopCharging()
		}
	}

	if s.state == Charging || s.state == RequestingStopNicely {
		// Check CHARGING and STOPPED only once the contactor has been
		// closed for 5000ms; the charger sets CHARGING and clears STOPPED
		// after the vehicle closes its contactor.
		if s.age(s.contactorCloseTimestamp) > 5000 {
			if s.ChargerStatus.Status&c55demoMessage.ChargerStatusStopped != 0 {
				s.logln("Charger status switched to \"stopped\"")
				s.stopCharging()
			}
			if s.ChargerStatus.Status&c55demoMessage.ChargerStatusCharging == 0 {
				s.logln("Charger status switched to \"not charging\"")
				s.stopCharging()
			}
		}
	}

	if s.ChargerStatus.Status&c55demoMessage.ChargerStatusMalfunction != 0 {
		s.logln("Charger reports malfunction")
		s.stopCharging()
	}

	if !input.D1High {
		if s.state == WaitingParameters {
			s.logln("d1 (seq1) deactivation detected, waiting for it again")
			s.state = WaitingSeq1
		} else {
			s.logln("d1 (seq1) deactivation detected, stopping charging")
			s.stopCharging()
		}
	}
}

func (s *Session) permitCharge() {
	s.logln("permit_charge()")

	s.Output.ChargingEnable = true
	s.permitChargeTimestamp = s.now()

	s.state = PermittingCharge
}

func (s *Session) closeContactorAndStartCharging() {
	s.logln("close_contactor_and_start_charging()")

	s.Output.CloseC55demoContactor = true
	s.VehicleStatus.Status &^= c55demoMessage.VehicleStatusContactorOpen

	s.contactorCloseTimestamp = s.now()
	s.chargerLastCorrectVoltageTimestamp = s.now()
	s.bmsLastCorrectVoltageTimestamp = s.now()

	s.state = WaitingChargerToStartCharging
}

func (s *Session) stopChargingNicely() {
	s.logln("stop_charging_nicely()")

	s.state = RequestingStopNicely
	s.requestingStopTimestamp = s.now()
}

func (s *Session) stopCharging() {
	s.logln("stop_charging()")

	s.VehicleStatus.ChargingCurrentRequest = 0
	s.VehicleStatus.Status &^= c55demoMessage.VehicleStatusChargeEnabled

	s.state = RequestingStop
	s.requestingStopTimestamp = s.now()
}

func (s *Session) openContactorAndStartWaitingForConnectorUnlock() {
	s.logln("open_contactor_and_start_waiting_for_connector_unlock()")

	s.Output.CloseC55demoContactor = false
	s.VehicleStatus.Status |= c55demoMessage.VehicleStatusContactorOpen
	s.VehicleStatus.Status &^= c55demoMessage.VehicleStatusChargeEnabled

	s.state = WaitingConnectorUnlock
}

// Update /*
// Advance the session by one 100ms tick.
func (s *Session) Update(input *Input) {
	if !s.chargerCanAlive() {
		s.ChargerStatus = c55demoMessage.ChargerStatus{}

		if input.ConnCheckHigh {
			if s.state != WaitingSeq1 {
				s.logln("CAN and conn_check are inactive; resetting state")
				s.state = WaitingSeq1
				s.VehicleStatus = c55demoMessage.NewVehicleStatus()
				s.Output.ChargingEnable = false
				s.Output.CloseC55demoContactor = false
			}
		}
	}

	switch s.state {
	case WaitingSeq1:
		if input.D1High {
			if !input.D2High {
				if s.every(&s.logDiscrepancy, 1000) {
					s.logln("d1 (seq1) activation detected")
					s.logln("* but (seq2) also is. Logical discrepancy, not starting")
				}
			} else {
				s.logln("d1 (seq1) activation detected")

				s.state = WaitingParameters
				s.startTimestamp = s.now()
				break
			}
		}

		if s.every(&s.logWaitingSeq1, 5000) {
			s.logln("... Waiting for d1 (seq1) activation")
		}

	case WaitingParameters:
		if !input.D1High {
			s.logln("d1 (seq1) deactivation detected, waiting for it again")

			s.state = WaitingSeq1
			break
		}

		// The efacec charger can report 0A available while alive; accept a
		// nonzero protocol version or charging time as proof of life too.
		chargerAlive := s.ChargerStatus.AvailableCurrent >= 10 ||
			s.ChargerStatus.ProtocolVersion != 0 ||
			s.ChargerStatus.RemainingChargingTimeMinutes > 0
		if chargerAlive && input.BmsMaxChargeCurrentA != 0 {
			s.state = WaitingBmsContactor
			break
		}

		if s.every(&s.logWaitingParams, 5000) {
			if s.ChargerStatus.AvailableCurrent < 10 {
				s.logln("... Waiting for charger available current >= 10A or some other indication of charger being alive")
			}
			if input.BmsMaxChargeCurrentA == 0 {
				s.logln("... Waiting for BMS to permit charge")
			}
		}

	case WaitingBmsContactor:
		if !input.D1High {
			s.logln("d1 (seq1) deactivation detected, waiting for it again")

			s.state = WaitingSeq1
			break
		}

		if input.BmsMainContactorClosed {
			s.permitCharge()
		}

		if s.every(&s.logWaitingContactor, 5000) {
			if !input.BmsMainContactorClosed {
				s.logln("... Waiting for BMS main contactor to close")
			}
		}

	case PermittingCharge:
		s.stopChargeIfNeeded(input)
		if s.state != PermittingCharge {
			break
		}

		if s.now()-s.permitChargeTimestamp >= 500 {
			// IEEE 2030.1.1 A.6: the vehicle charging enabled flag is set
			// 0.0...1.0s after the charge permission line is activated
			s.VehicleStatus.Status |= c55demoMessage.VehicleStatusChargeEnabled

			s.state = PermittingChargePhase2

			s.logln("NOTE: Connector lock and insulation test should occur now.")
			s.logln("NOTE: Then the charger should pull down seq2.")
		}

	case PermittingChargePhase2:
		s.stopChargeIfNeeded(input)
		if s.state != PermittingChargePhase2 {
			break
		}

		// When the seq 2 input (active low) and the connector lock
		// activate, close the contactor and start requesting current. The
		// charger does an insulation test before activating seq 2.
		if !input.D2High &&
			s.ChargerStatus.Status&c55demoMessage.ChargerStatusConnectorLocked != 0 {
			s.closeContactorAndStartCharging()
			break
		}

		if s.every(&s.logWaitingLock, 5000) {
			if s.ChargerStatus.Status&c55demoMessage.ChargerStatusConnectorLocked == 0 {
				s.logln("... Waiting for connector lock")
			}
			if input.D2High {
				s.logln("... Waiting for seq2 to be pulled low")
			}
		}

	case WaitingChargerToStartCharging:
		s.stopChargeIfNeeded(input)
		if s.state != WaitingChargerToStartCharging {
			break
		}

		// Request some current initially
		s.VehicleStatus.ChargingCurrentRequest = 5

		// When the charger is not STOPPED and reports a charging time, we
		// are charging and can start requesting current for real.
		if s.ChargerStatus.Status&c55demoMessage.ChargerStatusStopped == 0 &&
			s.ChargerStatus.RemainingChargingTimeMinutes > 0 {
			s.state = Charging
			break
		}

		// A non-zero charge current together with a STOPPED status is
		// implausible; abort.
		if s.ChargerStatus.Status&c55demoMessage.ChargerStatusStopped != 0 &&
			s.ChargerStatus.PresentChargingCurrent > 0 {
			s.logln("Charger reports charging current and being STOPPED at the same time")
			s.stopCharging()
			break
		}

		if s.every(&s.logWaitingStart, 5000) {
			if s.ChargerStatus.Status&c55demoMessage.ChargerStatusStopped != 0 {
				s.logln("... Waiting for charger status to not be STOPPED")
			}
			if s.ChargerStatus.RemainingChargingTimeMinutes == 0 {
				s.logln("... Waiting for charger to report a non-zero charging time")
			}
		}

	case Charging:
		s.stopChargeIfNeeded(input)
		if s.state != Charging {
			break
		}
		s.adjustCurrentRequest(input)

	case RequestingStopNicely:
		s.stopChargeIfNeeded(input)
		if s.state != RequestingStopNicely {
			break
		}

		if s.now()-s.requestingStopTimestamp > requestingStopNicelyTimeoutMs {
			s.logln("Timed out requesting stop nicely. Requesting not nicely")
			s.stopCharging()
			break
		}

		// Ramp the current request down every 100ms = every call
		if s.VehicleStatus.ChargingCurrentRequest > 0 {
			s.VehicleStatus.ChargingCurrentRequest--
		}
		if s.VehicleStatus.ChargingCurrentRequest == 0 {
			s.stopCharging()
		}

	case RequestingStop:
		if s.now()-s.requestingStopTimestamp > 1750 {
			// IEEE 2030.1.1 A.6: charge permission deactivates 1.5...2.0s
			// measured from the CANbus charging stop flag
			s.Output.ChargingEnable = false

			s.state = RequestingStopPhase2
			s.requestingStopTimestamp = s.now()
		}

	case RequestingStopPhase2:
		if s.now()-s.requestingStopTimestamp > requestingStopOpenContactorTimeoutMs {
			s.logln("Timed out requesting stop. Opening contactor")
			s.openContactorAndStartWaitingForConnectorUnlock()
			s.VehicleStatus.Status |= c55demoMessage.VehicleStatusFault
			break
		}
		// When the charger reports <5A current after 7s, open the contactor
		if s.ChargerStatus.PresentChargingCurrent < 5 &&
			s.age(s.requestingStopTimestamp) > 7000 {
			s.openContactorAndStartWaitingForConnectorUnlock()
		}

	case WaitingConnectorUnlock:
		if s.ChargerStatus.Status&c55demoMessage.ChargerStatusConnectorLocked == 0 {
			s.logln("Connector lock is inactive. Charging has ended.")
			s.state = Ended
			// Needed with the long liveness timeout in case of problems
			s.lastReceivedFromChargerTimestamp = 0
		}

	case Ended:
		if s.every(&s.logEnded, 60000) {
			s.logln("Charging has ended")
		}
	}

	s.VehicleStatus.ChargedRate = input.BmsSocPercent

	s.Output.DisableInverter = s.requestInverterDisable(input)
	s.Output.CloseBmsContactor = s.requestMainContactor()
}

// adjustCurrentRequest /*
// The current servo plus the voltage-deviation supervisors. Runs inside the
// CHARGING state on a 300ms cadence (the protocol allows 20A/s).
func (s *Session) adjustCurrentRequest(input *Input) {
	if s.now()-s.currentRequestAdjustedTimestamp < 300 {
		return
	}
	s.currentRequestAdjustedTimestamp = s.now()

	maxCurrentRequest := input.BmsMaxChargeCurrentA

	// Don't believe the charger if it reports 0A available (written for
	// efacec)
	chargerAvailableCurrent := s.ChargerStatus.AvailableCurrent
	if chargerAvailableCurrent == 0 {
		chargerAvailableCurrent = 120
	}
	if maxCurrentRequest > chargerAvailableCurrent {
		maxCurrentRequest = chargerAvailableCurrent
	}

	// Main feedback
	measuredVoltage := input.RailVoltageV

	if s.VehicleStatus.ChargingCurrentRequest > maxCurrentRequest {
		// Decrement twice
		if s.VehicleStatus.ChargingCurrentRequest > 0 {
			s.VehicleStatus.ChargingCurrentRequest--
		}
		if s.VehicleStatus.ChargingCurrentRequest > 0 {
			s.VehicleStatus.ChargingCurrentRequest--
		}
	} else if measuredVoltage < s.targetChargeVoltageV-voltageSlop {
		// Increment once
		if s.VehicleStatus.ChargingCurrentRequest < maxCurrentRequest {
			s.VehicleStatus.ChargingCurrentRequest++
		}
	} else if measuredVoltage > s.targetChargeVoltageV {
		// Decrement twice
		if s.VehicleStatus.ChargingCurrentRequest > 0 {
			s.VehicleStatus.ChargingCurrentRequest--
		}
		if s.VehicleStatus.ChargingCurrentRequest > 0 {
			s.VehicleStatus.ChargingCurrentRequest--
		}
	}

	// Stop charging at some point
	if s.VehicleStatus.ChargingCurrentRequest < s.chargeEndA &&
		s.age(s.contactorCloseTimestamp) > 180000 {
		s.logln("Charge looks finished")
		s.stopChargingNicely()
		return
	}

	// Voltage deviation, vehicle measurement against the charger. The 10V
	// deviation limit comes from IEEE 2030.1.1 table A.22.
	if abs16(measuredVoltage-int16(s.ChargerStatus.PresentOutputVoltage)) <= 10 {
		s.chargerLastCorrectVoltageTimestamp = s.now()
	}
	if s.age(s.chargerLastCorrectVoltageTimestamp) > 5000 {
		s.logln("Charger correct voltage timeout")
		s.stopCharging()
		return
	}

	// Vehicle measurement against the BMS. The pack voltage updates too
	// slowly for direct feedback, hence the 5s grace.
	if abs16(measuredVoltage-input.BmsPackVoltageV) < 5 {
		s.bmsLastCorrectVoltageTimestamp = s.now()
	}
	if s.age(s.bmsLastCorrectVoltageTimestamp) > 5000 {
		s.logln("BMS correct voltage timeout")
		s.stopCharging()
	}
}

func abs16(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}

// HandleCanFrame /*
// Ingest one charger frame. Any other id is ignored; hardware filters only
// pass 0x108 and 0x109 anyway.
func (s *Session) HandleCanFrame(id uint16, bytes []byte) {
	switch id {
	case 0x108:
		s.lastReceivedFromChargerTimestamp = s.now()
		s.ChargerStatus.Update108(bytes)
	case 0x109:
		s.lastReceivedFromChargerTimestamp = s.now()
		s.ChargerStatus.Update109(bytes)
	}
}

// SendCanFrames /*
// Emit the three vehicle frames. Nothing is sent while still waiting for
// seq 1.
func (s *Session) SendCanFrames(send func(id uint16, bytes [8]byte)) {
	if s.state == WaitingSeq1 {
		return
	}

	send(0x100, c55demoMessage.Frame100(&s.VehicleConstant))
	send(0x101, c55demoMessage.Frame101(&s.VehicleConstant, &s.VehicleStatus))
	send(0x102, c55demoMessage.Frame102(&s.VehicleConstant, &s.VehicleStatus))
}
