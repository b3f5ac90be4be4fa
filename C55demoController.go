package main

import (
	"flag"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"C55demoController/Params"
	"C55demoController/bmsValues"
	"C55demoController/c55demoSession"
	"C55demoController/ioPorts"
	"C55demoController/longTime"

	"github.com/brutella/can"
	"github.com/goburrow/serial"
	"github.com/golang/glog"
)

// Vehicle-side fast charge controller. One loop ticks the session state
// machine every 100ms; everything the session needs is sampled into an
// input snapshot first, and everything it decides is pushed to the GPIO
// outputs and the charger CAN bus afterwards.

var (
	targetVoltage    int
	chargeEndCurrent int
	chargerCanName   string
	vehicleCanName   string
	apiPort          uint
	consoleAddress   string
	consoleBaud      int
	sensorBoxURL     string
	watchdogDevice   string
	databaseServer   string
	databasePort     string
	databaseName     string
	databaseLogin    string
	databasePassword string
	verbose          bool

	session     *c55demoSession.Session
	paramsTable *Params.Table
	bms         *bmsValues.BmsValues
	ports       *ioPorts.IoPorts
	console     io.Writer
	chargerBus  *can.Bus
	vehicleBus  *can.Bus

	// stateMu covers the session and the parameter table: held for the
	// duration of a tick and by the diagnostic web handlers.
	stateMu sync.Mutex

	// Inbound frames are queued here by the bus goroutines and drained at
	// the top of each tick, so every decode happens in loop context.
	chargerFrames = make(chan can.Frame, 32)
	vehicleFrames = make(chan can.Frame, 32)
	framesDropped uint32

	// True while the inlet is occupied and the charger-bus transceivers
	// should be powered.
	switched5v bool

	gpioOK bool
)

func handleChargerFrame(frm can.Frame) {
	select {
	case chargerFrames <- frm:
	default:
		atomic.AddUint32(&framesDropped, 1)
	}
}

func handleVehicleFrame(frm can.Frame) {
	select {
	case vehicleFrames <- frm:
	default:
		atomic.AddUint32(&framesDropped, 1)
	}
}

func processCANFrames(bus *can.Bus, handler func(can.Frame), name string) {
	bus.SubscribeFunc(handler)
	err := bus.ConnectAndPublish()
	if err != nil {
		// Not fatal: the session simply never sees charger liveness and
		// stays parked in WAITING_PARAMETERS.
		glog.Errorf("ConnectAndPublish failed on %s - %s", name, err)
		glog.Flush()
	}
}

func paramsConfig() Params.Config {
	return Params.Config{
		Modules: []Params.ModuleDef{
			{Name: "charger", TimeoutMs: 5000},
			{Name: "bms", TimeoutMs: 5000},
			{Name: "obc", TimeoutMs: 0},
		},
		Params: []Params.ParamDef{
			{Module: "charger", Name: "available_voltage", Type: Params.TypeUint16, Hysteresis: 2},
			{Module: "charger", Name: "available_current", Type: Params.TypeUint8, Hysteresis: 5},
			{Module: "charger", Name: "threshold_voltage", Type: Params.TypeUint16, Hysteresis: 2},
			{Module: "charger", Name: "present_output_voltage", Type: Params.TypeUint16, Hysteresis: 2},
			{Module: "charger", Name: "present_charging_current", Type: Params.TypeUint8, Hysteresis: 5},
			{Module: "charger", Name: "status", Type: Params.TypeUint8, Hysteresis: 1},
			{Module: "charger", Name: "remaining_time", Type: Params.TypeUint8, Hysteresis: 1},
			{Module: "bms", Name: "pack_voltage", Type: Params.TypeUint16, Hysteresis: 2},
			{Module: "bms", Name: "max_charge_current", Type: Params.TypeUint8, Hysteresis: 5},
			{Module: "bms", Name: "main_contactor_closed", Type: Params.TypeBool, Hysteresis: 1},
			{Module: "bms", Name: "soc", Type: Params.TypeUint8, Hysteresis: 1},
			{Module: "obc", Name: "rail_voltage", Type: Params.TypeUint16, Hysteresis: 2},
			{Module: "obc", Name: "ntc1", Type: Params.TypeInt8, Default: -128, Hysteresis: 2},
			{Module: "obc", Name: "ntc2", Type: Params.TypeInt8, Default: -128, Hysteresis: 2},
			{Module: "obc", Name: "d1", Type: Params.TypeBool, Hysteresis: 1},
			{Module: "obc", Name: "d2", Type: Params.TypeBool, Hysteresis: 1},
			{Module: "obc", Name: "conn_check", Type: Params.TypeBool, Hysteresis: 1},
		},
	}
}

func init() {
	flag.IntVar(&targetVoltage, "t", 398, "Target charge voltage (V)")
	flag.IntVar(&chargeEndCurrent, "e", 10, "Current request level below which the charge is finished (A)")
	flag.StringVar(&chargerCanName, "c", "can0", "Charger CAN interface")
	flag.StringVar(&vehicleCanName, "m", "can1", "Vehicle CAN interface (BMS), empty to disable")
	flag.UintVar(&apiPort, "i", 8080, "WEB port to listen on for API connections")
	flag.StringVar(&consoleAddress, "a", "", "Serial device for the protocol console, empty for stdout")
	flag.IntVar(&consoleBaud, "b", 115200, "Console serial baud rate")
	flag.StringVar(&sensorBoxURL, "s", "", "Inlet sensor box URL, empty to disable")
	flag.StringVar(&watchdogDevice, "g", "", "Watchdog device, empty to disable")
	flag.StringVar(&databaseServer, "q", "", "MySQL server, empty to disable trend logging")
	flag.StringVar(&databasePort, "o", "3306", "Database port")
	flag.StringVar(&databaseName, "n", "logging", "Database name")
	flag.StringVar(&databaseLogin, "u", "logger", "Database login user name")
	flag.StringVar(&databasePassword, "w", "logger", "Database user password")
	flag.BoolVar(&verbose, "l", false, "Log every state change to stderr as well")
	_ = flag.Set("stderrthreshold", "INFO")
	flag.Parse()

	// Protocol console: a serial line on the bench, stdout everywhere else
	if consoleAddress != "" {
		config := serial.Config{
			Address:  consoleAddress,
			BaudRate: consoleBaud,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
			Timeout:  time.Second,
		}
		port, err := serial.Open(&config)
		if err != nil {
			glog.Fatalf("ERROR - %s - Cannot open the console serial port.\nSorry. I am giving up!", err)
		}
		console = longTime.NewConsole(port)
	} else {
		console = longTime.NewConsole(os.Stdout)
	}

	session = c55demoSession.New(int16(targetVoltage), uint8(chargeEndCurrent))
	session.SetConsole(console)
	bms = bmsValues.New()

	var err error
	paramsTable, err = Params.New(paramsConfig())
	if err != nil {
		glog.Fatalf("Bad parameter table - %s", err)
	}

	ports = ioPorts.New(ioPorts.DefaultPins)
	if err := ports.Open(); err != nil {
		// Keep ticking; with dead inputs the session never leaves
		// WAITING_SEQ1.
		glog.Errorf("GPIO unavailable, running with inactive inputs - %s", err)
	} else {
		gpioOK = true
	}
	glog.Flush()

	chargerBus, err = can.NewBusForInterfaceWithName(chargerCanName)
	if err != nil {
		glog.Errorf("Error starting charger CAN interface - %s", err)
		chargerBus = nil
	} else {
		glog.Info("Connected to the charger CAN bus.")
		go processCANFrames(chargerBus, handleChargerFrame, chargerCanName)
	}
	if vehicleCanName != "" {
		vehicleBus, err = can.NewBusForInterfaceWithName(vehicleCanName)
		if err != nil {
			glog.Errorf("Error starting vehicle CAN interface - %s", err)
			vehicleBus = nil
		} else {
			glog.Info("Connected to the vehicle CAN bus - monitoring the BMS.")
			go processCANFrames(vehicleBus, handleVehicleFrame, vehicleCanName)
		}
	}
	glog.Flush()

	openWatchdog()

	if sensorBoxURL != "" {
		go bms.Run(sensorBoxURL)
	}
	if databaseServer != "" {
		go logToDatabase()
	}
	go ManageCpuTemp()
	go setUpWebSite()
}

// drainCanFrames moves every queued frame into the decoders. Hardware
// filters narrow the charger bus to 0x108/0x109 already; the id switch in
// the session covers the pull-model case where they don't.
func drainCanFrames() {
	for {
		select {
		case frm := <-chargerFrames:
			session.HandleCanFrame(uint16(frm.ID), frm.Data[:])
			paramsTable.ResetLiveness("charger")
		case frm := <-vehicleFrames:
			if bms.HandleCanFrame(uint16(frm.ID), frm.Data[:]) {
				paramsTable.ResetLiveness("bms")
			}
		default:
			return
		}
	}
}

func buildInput() c55demoSession.Input {
	var in c55demoSession.Input
	if gpioOK {
		in.D1High, in.D2High, in.ConnCheckHigh = ports.ReadInputs()
	} else {
		// No GPIO: report the connector absent so the session stays idle.
		in.ConnCheckHigh = true
		in.D2High = true
	}
	in.RailVoltageV = bms.GetRailVoltage()
	in.Ntc1Celsius, in.Ntc2Celsius = bms.GetTemperatures()
	in.BmsPackVoltageV, in.BmsMainContactorClosed, in.BmsMaxChargeCurrentA, in.BmsSocPercent = bms.GetValues()
	in.VehicleParked = true
	return in
}

func updateParams(in *c55demoSession.Input) {
	cs := &session.ChargerStatus
	paramsTable.Set("charger", "available_voltage", int32(cs.AvailableVoltage))
	paramsTable.Set("charger", "available_current", int32(cs.AvailableCurrent))
	paramsTable.Set("charger", "threshold_voltage", int32(cs.ThresholdVoltage))
	paramsTable.Set("charger", "present_output_voltage", int32(cs.PresentOutputVoltage))
	paramsTable.Set("charger", "present_charging_current", int32(cs.PresentChargingCurrent))
	paramsTable.Set("charger", "status", int32(cs.Status))
	paramsTable.Set("charger", "remaining_time", int32(cs.RemainingChargingTimeMinutes))

	paramsTable.Set("bms", "pack_voltage", int32(in.BmsPackVoltageV))
	paramsTable.Set("bms", "max_charge_current", int32(in.BmsMaxChargeCurrentA))
	paramsTable.SetBool("bms", "main_contactor_closed", in.BmsMainContactorClosed)
	paramsTable.Set("bms", "soc", int32(in.BmsSocPercent))

	paramsTable.Set("obc", "rail_voltage", int32(in.RailVoltageV))
	paramsTable.Set("obc", "ntc1", int32(in.Ntc1Celsius))
	paramsTable.Set("obc", "ntc2", int32(in.Ntc2Celsius))
	paramsTable.SetBool("obc", "d1", in.D1High)
	paramsTable.SetBool("obc", "d2", in.D2High)
	paramsTable.SetBool("obc", "conn_check", in.ConnCheckHigh)
	// Locally measured, so always fresh
	paramsTable.ResetLiveness("obc")
}

func sendCanFrames() {
	session.SendCanFrames(func(id uint16, bytes [8]byte) {
		if chargerBus == nil {
			return
		}
		frm := can.Frame{ID: uint32(id), Length: 8}
		copy(frm.Data[:], bytes[:])
		if err := chargerBus.Publish(frm); err != nil {
			glog.Errorf("Failed to send CAN frame %03x - %s", id, err)
		}
	})
}

func tick() {
	stateMu.Lock()
	defer stateMu.Unlock()

	drainCanFrames()
	in := buildInput()
	lastState := session.State()

	session.Update(&in)

	if gpioOK {
		ports.SetChargingEnable(session.Output.ChargingEnable)
		ports.SetContactor(session.Output.CloseC55demoContactor)
	}
	// Power the charger-bus transceivers only while the inlet is occupied
	switched5v = !in.ConnCheckHigh || in.D1High

	sendCanFrames()

	updateParams(&in)
	paramsTable.Tick100ms(console)
	paramsTable.ReportIfChanged(console)

	if verbose && session.State() != lastState {
		glog.Infof("Session state %s -> %s", lastState, session.State())
	}
}

func main() {
	defer func() {
		if ports != nil {
			ports.Close()
		}
		closeWatchdog()
		glog.Flush()
	}()

	glog.Infof("C55demo controller starting, target %dV, charge end %dA", targetVoltage, chargeEndCurrent)
	glog.Flush()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		feedWatchdog()
		tick()
	}
}
