package scheduler

import "time"

// Clock supplies the current instant. Injectable so tests can simulate time
// advancement without real delays.
type Clock func() time.Time

// SystemClock returns the real wall-clock time in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}
