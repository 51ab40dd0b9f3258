package brigade

import "time"

// Clock abstracts wall-clock time and timers so the orchestrator's
// scheduling can be unit-tested by advancing a virtual clock instead of
// sleeping against a real one.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that fires once after d.
	After(d time.Duration) <-chan time.Time

	// Ticker returns a channel that fires every d and a stop function.
	Ticker(d time.Duration) (<-chan time.Time, func())
}

// systemClock is the production Clock backed by package time.
type systemClock struct{}

// SystemClock returns the real wall-clock implementation.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (systemClock) Ticker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}
