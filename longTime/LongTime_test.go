package longTime

import "testing"

func withFakeClock(t *testing.T, f func(set func(uint32))) {
	t.Helper()
	var raw uint32
	SetSource(func() uint32 { return raw })
	defer SetSource(nil)
	defer SetClockDivider(1)
	f(func(v uint32) { raw = v })
}

func TestAgeAcrossWrap(t *testing.T) {
	withFakeClock(t, func(set func(uint32)) {
		set(0xfffffffe)
		ts := Now()
		// Two ms later the counter has wrapped; the age must still be 2.
		set(0)
		if got := Age(ts); got != 2 {
			t.Fatalf("age across wrap: got %d, want 2", got)
		}
	})
}

func TestYoungerThanZeroIsInfinitelyOld(t *testing.T) {
	withFakeClock(t, func(set func(uint32)) {
		set(100)
		if YoungerThan(0, 0xffffffff) {
			t.Fatal("timestamp 0 must never be young")
		}
		if !YoungerThan(50, 100) {
			t.Fatal("50ms old timestamp should be younger than 100ms")
		}
		if YoungerThan(50, 50) {
			t.Fatal("50ms old timestamp is not younger than 50ms")
		}
	})
}

func TestEvery(t *testing.T) {
	withFakeClock(t, func(set func(uint32)) {
		var cell uint32
		set(1000)
		if !Every(&cell, 100) {
			t.Fatal("zero cell should fire once the counter has passed the interval")
		}
		if cell != 1000 {
			t.Fatalf("cell should hold the fire time, got %d", cell)
		}
		set(1099)
		if Every(&cell, 100) {
			t.Fatal("99ms is too early for a 100ms interval")
		}
		set(1100)
		if !Every(&cell, 100) {
			t.Fatal("100ms should fire")
		}
	})
}

func TestClockDividerScalesSource(t *testing.T) {
	withFakeClock(t, func(set func(uint32)) {
		SetClockDivider(4)
		// The prescaled tick source has only counted 250 raw ms.
		set(250)
		if got := Now(); got != 1000 {
			t.Fatalf("prescaled source: got %d, want 1000", got)
		}
	})
}

func TestTimestampFormat(t *testing.T) {
	for _, tc := range []struct {
		t    uint32
		want string
	}{
		{0, "00:00:00.000"},
		{1234, "00:00:01.234"},
		{3723456, "01:02:03.456"},
	} {
		if got := Timestamp(tc.t); got != tc.want {
			t.Errorf("Timestamp(%d) = %q, want %q", tc.t, got, tc.want)
		}
	}
}
