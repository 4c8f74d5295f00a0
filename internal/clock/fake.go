package clock

import "time"

// FakeClock is a manually advanced Clock for tests that exercise
// authorization deadlines and offer validity windows.
type FakeClock struct {
	current time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start.UTC()}
}

func (f *FakeClock) Now() time.Time {
	return f.current
}

// Advance moves the clock forward without sleeping.
func (f *FakeClock) Advance(d time.Duration) {
	f.current = f.current.Add(d)
}
