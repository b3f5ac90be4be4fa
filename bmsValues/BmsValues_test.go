package bmsValues

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleCanFrame100(t *testing.T) {
	v := New()
	// Contactor closed, 298.1V pack, 149A allowed.
	if !v.HandleCanFrame(0x100, []byte{0x07, 0x0b, 0xa5, 0x00, 0x00, 0x95, 0x00, 0x00}) {
		t.Fatal("0x100 should be recognised as a BMS frame")
	}
	packV, closed, maxA, _ := v.GetValues()
	if !closed {
		t.Error("contactor bit not decoded")
	}
	if packV != 298 {
		t.Errorf("pack voltage: got %d, want 298", packV)
	}
	if maxA != 149 {
		t.Errorf("max charge current: got %d, want 149", maxA)
	}

	v.HandleCanFrame(0x100, []byte{0x00, 0x0b, 0xa5, 0x00, 0x00, 0x00, 0x00, 0x00})
	_, closed, maxA, _ = v.GetValues()
	if closed || maxA != 0 {
		t.Error("contactor open / 0A not decoded")
	}
}

func TestHandleCanFrame102Soc(t *testing.T) {
	v := New()
	if !v.HandleCanFrame(0x102, []byte{0, 0, 0, 0, 0, 0, 0xff, 0}) {
		t.Fatal("0x102 should be recognised as a BMS frame")
	}
	if _, _, _, soc := v.GetValues(); soc != 100 {
		t.Errorf("SoC: got %d, want 100", soc)
	}
	v.HandleCanFrame(0x102, []byte{0, 0, 0, 0, 0, 0, 0x80, 0})
	if _, _, _, soc := v.GetValues(); soc != 50 {
		t.Errorf("SoC: got %d, want 50", soc)
	}
}

func TestUnknownFrameIgnored(t *testing.T) {
	v := New()
	if v.HandleCanFrame(0x398, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Error("0x398 is not a BMS frame")
	}
	if v.HandleCanFrame(0x100, []byte{1, 2, 3}) {
		t.Error("short frames should be ignored")
	}
}

func TestDefaultsMarkThermistorsUnavailable(t *testing.T) {
	v := New()
	ntc1, ntc2 := v.GetTemperatures()
	if ntc1 != -128 || ntc2 != -128 {
		t.Errorf("thermistors should default to unavailable, got %d %d", ntc1, ntc2)
	}
}

func TestPoll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ajax/inlet" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprint(w, `{"railVoltage":397.6,"ntc":[24.0,26.5]}`)
	}))
	defer server.Close()

	v := New()
	if err := v.Poll(server.URL); err != nil {
		t.Fatal(err)
	}
	if got := v.GetRailVoltage(); got != 397 {
		t.Errorf("rail voltage: got %d, want 397", got)
	}
	ntc1, ntc2 := v.GetTemperatures()
	if ntc1 != 24 || ntc2 != 26 {
		t.Errorf("thermistors: got %d %d", ntc1, ntc2)
	}
}
