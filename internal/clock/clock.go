package clock

import "time"

// Clock lets ledger timestamps be pinned in tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant.
type Fixed struct {
	At time.Time
}

func (f Fixed) Now() time.Time {
	return f.At
}

// Millis returns the clock's current time in unix milliseconds.
func Millis(c Clock) int64 {
	if c == nil {
		return time.Now().UTC().UnixMilli()
	}
	return c.Now().UnixMilli()
}
