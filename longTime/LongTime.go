package longTime

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// All of the charge protocol timing is expressed as uint32 millisecond
// counters that wrap at 2^32, the same arithmetic the controller board runs
// on. Ages are taken with unsigned subtraction so the wrap is transparent.
// A timestamp of 0 means "never".
//
// The underlying tick source may be prescaled for power saving. Setting the
// clock divider compensates for that here so everything else in the system
// reasons purely in wall milliseconds.

var (
	mu      sync.Mutex
	start   = time.Now()
	source  = defaultSource
	divider = uint32(1)
)

func defaultSource() uint32 {
	return uint32(time.Since(start).Milliseconds())
}

// Now /*
// Return the millisecond counter. Wraps at 4294967296ms (about 49 days).
func Now() uint32 {
	mu.Lock()
	defer mu.Unlock()
	return source() * divider
}

// Age /*
// Return the age in milliseconds of a timestamp taken from Now().
func Age(ts uint32) uint32 {
	return Now() - ts
}

// YoungerThan /*
// Timestamps are assumed to be initialised to 0. This means that a
// timestamp of 0 is infinitely old.
func YoungerThan(ts uint32, maxAge uint32) bool {
	if ts == 0 {
		return false
	}
	return Age(ts) < maxAge
}

// Every /*
// Periodic trigger keyed by a caller owned timestamp cell. Returns true if
// at least interval milliseconds have passed since the cell was last
// written and, when it does, writes Now() back into the cell. A zero cell
// fires on the first call once the counter has passed the interval.
func Every(cell *uint32, interval uint32) bool {
	if Age(*cell) < interval {
		return false
	}
	*cell = Now()
	return true
}

// SetClockDivider /*
// Record the active CPU clock divider so that timestamps keep counting
// wall milliseconds while the tick source is prescaled.
func SetClockDivider(d uint32) {
	mu.Lock()
	defer mu.Unlock()
	if d == 0 {
		d = 1
	}
	divider = d
}

func ClockDivider() uint32 {
	mu.Lock()
	defer mu.Unlock()
	return divider
}

// SetSource /*
// Replace the raw tick source. Used by the tests to run the clock by hand.
func SetSource(f func() uint32) {
	mu.Lock()
	defer mu.Unlock()
	if f == nil {
		f = defaultSource
	}
	source = f
}

// Timestamp /*
// Format a counter value as HH:mm:SS.mmm for the console log.
func Timestamp(t uint32) string {
	ms := t % 1000
	t /= 1000
	s := t % 60
	t /= 60
	m := t % 60
	t /= 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", t, m, s, ms)
}

type consoleWriter struct {
	w io.Writer
}

// NewConsole /*
// Wrap a writer so that every Write gets the timestamp prefix. The session
// and the parameter table write whole lines per call so the prefix lands at
// the start of each line.
func NewConsole(w io.Writer) io.Writer {
	return &consoleWriter{w: w}
}

func (c *consoleWriter) Write(p []byte) (int, error) {
	if _, err := fmt.Fprintf(c.w, "%s ", Timestamp(Now())); err != nil {
		return 0, err
	}
	return c.w.Write(p)
}
