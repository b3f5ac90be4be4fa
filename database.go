package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/golang/glog"

	_ "github.com/go-sql-driver/mysql"
)

var pDB *sql.DB

func connectToDatabase() (*sql.DB, error) {
	if pDB != nil {
		_ = pDB.Close()
		pDB = nil
	}
	var sConnectionString = databaseLogin + ":" + databasePassword + "@tcp(" + databaseServer + ":" + databasePort + ")/" + databaseName

	fmt.Println("Connecting to [", sConnectionString, "]")
	db, err := sql.Open("mysql", sConnectionString)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, err
}

func CloseDB() {
	if pDB != nil {
		_ = pDB.Close()
	}
}

// logToDatabase /*
// Record the session trend once a second, but only the rows that actually
// changed. The procs keep their own timestamps.
func logToDatabase() {
	defer CloseDB()

	var lastState string
	var lastRequest uint8
	var lastChargerVolts uint16
	var lastChargerAmps uint8
	var lastRailVolts int16
	var lastSoc uint8
	var err error

	for {
		stateMu.Lock()
		newState := session.StateName()
		newRequest := session.VehicleStatus.ChargingCurrentRequest
		newChargerVolts := session.ChargerStatus.PresentOutputVoltage
		newChargerAmps := session.ChargerStatus.PresentChargingCurrent
		newSoc := session.VehicleStatus.ChargedRate
		stateMu.Unlock()
		newRailVolts := bms.GetRailVoltage()

		if pDB == nil {
			pDB, err = connectToDatabase()
			if err != nil {
				glog.Errorf("Error opening the database - %s", err)
				glog.Flush()
				pDB = nil
				time.Sleep(time.Second)
				continue
			}
		}

		if newState != lastState {
			lastState = newState
			if _, err := pDB.Exec("call log_session_state(?)", newState); err != nil {
				glog.Errorf("Error writing the session state to the database - %s", err)
				glog.Flush()
				_ = pDB.Close()
				pDB = nil
				time.Sleep(time.Second)
				continue
			}
		}
		if (newRequest != lastRequest) || (newChargerVolts != lastChargerVolts) ||
			(newChargerAmps != lastChargerAmps) || (newRailVolts != lastRailVolts) || (newSoc != lastSoc) {
			lastRequest = newRequest
			lastChargerVolts = newChargerVolts
			lastChargerAmps = newChargerAmps
			lastRailVolts = newRailVolts
			lastSoc = newSoc
			_, err := pDB.Exec("call log_charge_values(?, ?, ?, ?, ?)",
				newRequest, newChargerVolts, newChargerAmps, newRailVolts, newSoc)
			if err != nil {
				glog.Errorf("Error writing charge values to the database - %s", err)
				glog.Flush()
				_ = pDB.Close()
				pDB = nil
				time.Sleep(time.Second)
				continue
			}
		}
		time.Sleep(time.Second)
	}
}
