package credit

import "time"

// Clock supplies timestamps for ledger entries and payment records.
// Injected rather than read from the ambient environment so tests can
// pin time and assert exact entry ordering.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the production clock (UTC).
func SystemClock() Clock { return systemClock{} }

// FixedClock is a controllable clock for tests. Each call to Now returns
// the current fixed time; Advance moves it forward.
type FixedClock struct {
	t time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t.UTC()}
}

func (c *FixedClock) Now() time.Time { return c.t }

func (c *FixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
