package main

import (
	"bytes"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"C55demoController/c55demoMessage"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
)

// Read-only diagnostic endpoints. Nothing here controls the session; the
// only user interface remains the console log.

const controllerVersion = "1.2"

func setUpWebSite() {
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/", getValues).Methods("GET")
	router.HandleFunc("/params", getParams).Methods("GET")
	router.HandleFunc("/version", getVersion).Methods("GET")
	glog.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", apiPort), router))
}

func getValues(w http.ResponseWriter, _ *http.Request) {
	stateMu.Lock()
	stateName := session.StateName()
	output := session.Output
	cs := session.ChargerStatus
	vs := session.VehicleStatus
	powered := switched5v
	stateMu.Unlock()
	packV, contactorClosed, maxA, soc := bms.GetValues()
	ntc1, ntc2 := bms.GetTemperatures()

	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = fmt.Fprintf(w, `{
	"time":"%s",
	"session":{
		"state":"%s",
		"chargingEnable":%t,
		"closeContactor":%t,
		"closeBmsContactor":%t,
		"disableInverter":%t,
		"switched5v":%t
	},
	"charger":{
		"availableVoltage":%d,
		"availableCurrent":%d,
		"presentOutputVoltage":%d,
		"presentChargingCurrent":%d,
		"remainingMinutes":%d,
		"status":"%s"
	},
	"vehicle":{
		"currentRequest":%d,
		"chargedRate":%d,
		"status":"%s",
		"faults":"%s"
	},
	"battery":{
		"packVoltage":%d,
		"railVoltage":%d,
		"mainContactorClosed":%t,
		"maxChargeCurrent":%d,
		"soc":%d,
		"ntc1":%d,
		"ntc2":%d
	},
	"framesDropped":%d
}`, time.Now().String(),
		stateName, output.ChargingEnable, output.CloseC55demoContactor,
		output.CloseBmsContactor, output.DisableInverter, powered,
		cs.AvailableVoltage, cs.AvailableCurrent, cs.PresentOutputVoltage,
		cs.PresentChargingCurrent, cs.RemainingChargingTimeMinutes,
		c55demoMessage.ChargerStatusString(cs.Status),
		vs.ChargingCurrentRequest, vs.ChargedRate,
		c55demoMessage.VehicleStatusString(vs.Status),
		c55demoMessage.VehicleFaultsString(vs.Faults),
		packV, bms.GetRailVoltage(), contactorClosed, maxA, soc, ntc1, ntc2,
		atomic.LoadUint32(&framesDropped))
}

func getParams(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	stateMu.Lock()
	paramsTable.ReportAll(&buf)
	stateMu.Unlock()

	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write(buf.Bytes()); err != nil {
		glog.Error(err)
	}
}

func getVersion(w http.ResponseWriter, _ *http.Request) {
	_, _ = fmt.Fprintf(w, `{"version":"%s","target":%d,"chargeEnd":%d}`,
		controllerVersion, targetVoltage, chargeEndCurrent)
}
