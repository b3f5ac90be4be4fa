package Params

import (
	"bytes"
	"strings"
	"testing"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	table, err := New(Config{
		Modules: []ModuleDef{
			{Name: "bms", TimeoutMs: 500},
			{Name: "charger", TimeoutMs: 1000},
		},
		Params: []ParamDef{
			{Module: "bms", Name: "pack_voltage", Type: TypeUint16, Default: 0, Hysteresis: 2},
			{Module: "bms", Name: "main_contactor_closed", Type: TypeBool, Default: 0, Hysteresis: 1},
			{Module: "charger", Name: "available_current", Type: TypeUint8, Default: 0, Hysteresis: 5},
			{Module: "charger", Name: "threshold_voltage", Type: TypeUint16, Default: 0, Hysteresis: 0},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestUnknownModuleRejected(t *testing.T) {
	_, err := New(Config{
		Params: []ParamDef{{Module: "nope", Name: "x", Type: TypeUint8}},
	})
	if err == nil {
		t.Fatal("parameter with unknown module should be rejected")
	}
}

func TestModulesStartDead(t *testing.T) {
	table := testTable(t)
	if table.Alive("bms") {
		t.Fatal("modules should start dead until first heard from")
	}
	table.ResetLiveness("bms")
	if !table.Alive("bms") {
		t.Fatal("reset should revive the module")
	}
}

func TestTimeoutRevertsToDefaults(t *testing.T) {
	table := testTable(t)
	var console bytes.Buffer

	table.ResetLiveness("bms")
	table.Set("bms", "pack_voltage", 398)
	if got := table.Get("bms", "pack_voltage"); got != 398 {
		t.Fatalf("set value lost: %d", got)
	}

	// 500ms timeout = counter may reach 5; the 6th tick kills it.
	for i := 0; i < 5; i++ {
		table.Tick100ms(&console)
		if !table.Alive("bms") {
			t.Fatalf("module died after %d ticks", i+1)
		}
	}
	table.Tick100ms(&console)
	if table.Alive("bms") {
		t.Fatal("module should be dead after the timeout")
	}
	if got := table.Get("bms", "pack_voltage"); got != 0 {
		t.Fatalf("dead module value should revert to default, got %d", got)
	}
	if !strings.Contains(console.String(), "-!- bms timed out") {
		t.Fatalf("missing timeout line, console: %q", console.String())
	}

	// The timeout line is one-shot.
	console.Reset()
	for i := 0; i < 20; i++ {
		table.Tick100ms(&console)
	}
	if console.Len() != 0 {
		t.Fatalf("timeout line repeated: %q", console.String())
	}
}

func TestSetDoesNotRevive(t *testing.T) {
	table := testTable(t)
	var console bytes.Buffer
	table.Set("bms", "pack_voltage", 398)
	table.Tick100ms(&console)
	if got := table.Get("bms", "pack_voltage"); got != 0 {
		t.Fatalf("set on a dead module should not stick past a tick, got %d", got)
	}
}

func TestHysteresisReporting(t *testing.T) {
	table := testTable(t)
	var console bytes.Buffer
	table.ResetLiveness("bms")
	table.ResetLiveness("charger")

	// Below hysteresis: silent.
	table.Set("bms", "pack_voltage", 1)
	table.ReportIfChanged(&console)
	if console.Len() != 0 {
		t.Fatalf("1V move should be under the 2V hysteresis: %q", console.String())
	}

	// At hysteresis: reported once.
	table.Set("bms", "pack_voltage", 2)
	table.ReportIfChanged(&console)
	if !strings.Contains(console.String(), ">> bms_pack_voltage = 2") {
		t.Fatalf("missing report: %q", console.String())
	}
	console.Reset()
	table.ReportIfChanged(&console)
	if console.Len() != 0 {
		t.Fatalf("unchanged value reported again: %q", console.String())
	}

	// Booleans report on any change.
	table.SetBool("bms", "main_contactor_closed", true)
	table.ReportIfChanged(&console)
	if !strings.Contains(console.String(), ">> bms_main_contactor_closed = true") {
		t.Fatalf("missing bool report: %q", console.String())
	}

	// Zero hysteresis is never reported.
	console.Reset()
	table.Set("charger", "threshold_voltage", 435)
	table.ReportIfChanged(&console)
	if console.Len() != 0 {
		t.Fatalf("hysteresis 0 parameter reported: %q", console.String())
	}
}

func TestReportAll(t *testing.T) {
	table := testTable(t)
	var console bytes.Buffer
	table.ReportAll(&console)
	for _, want := range []string{
		">> bms_pack_voltage = 0",
		">> bms_main_contactor_closed = false",
		">> charger_available_current = 0",
		">> charger_threshold_voltage = 0",
	} {
		if !strings.Contains(console.String(), want) {
			t.Errorf("ReportAll missing %q in %q", want, console.String())
		}
	}
}
