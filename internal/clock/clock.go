package clock

import "time"

// Clock is the simulation time cursor shared by a trader and its strategy.
// It only moves forward between resets; callers must not hand SetNow a time
// behind the current cursor.
type Clock struct {
	start    time.Time
	interval time.Duration
	now      time.Time
	limit    time.Time
}

// New creates a Clock positioned at start that ticks by interval.
func New(start time.Time, interval time.Duration) *Clock {
	c := &Clock{
		start:    start.UTC(),
		interval: interval,
	}
	c.Reset()
	return c
}

// Reset rewinds the cursor to the configured start.
func (c *Clock) Reset() {
	c.now = c.start
}

// Now returns the current cursor.
func (c *Clock) Now() time.Time {
	return c.now
}

// Next previews the cursor one interval ahead without moving it.
func (c *Clock) Next() time.Time {
	return c.now.Add(c.interval)
}

// Tick advances the cursor by exactly one interval, stopping at the limit.
func (c *Clock) Tick() {
	c.move(c.now.Add(c.interval))
}

// SetNow snaps the cursor to t rounded up to the next interval boundary,
// stopping at the limit.
func (c *Clock) SetNow(t time.Time) {
	c.move(RoundUp(t.UTC(), c.interval))
}

// SetLimit caps every later move of the cursor at t. A zero t removes the
// cap. The limit need not sit on an interval boundary.
func (c *Clock) SetLimit(t time.Time) {
	c.limit = t.UTC()
}

// Limit returns the cap set by SetLimit.
func (c *Clock) Limit() time.Time {
	return c.limit
}

func (c *Clock) move(t time.Time) {
	if !c.limit.IsZero() && t.After(c.limit) {
		t = c.limit
	}
	c.now = t
}

// Start returns the time the clock rewinds to.
func (c *Clock) Start() time.Time {
	return c.start
}

// Interval returns the base interval of a tick.
func (c *Clock) Interval() time.Duration {
	return c.interval
}

// RoundUp returns t rounded up to a multiple of d. Times already on a
// boundary are returned unchanged.
func RoundUp(t time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return t
	}
	r := t.Truncate(d)
	if r.Before(t) {
		r = r.Add(d)
	}
	return r
}

// RoundDown returns t truncated to a multiple of d.
func RoundDown(t time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return t
	}
	return t.Truncate(d)
}
