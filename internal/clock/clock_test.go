package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_TickAndNext(t *testing.T) {
	start := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(start, time.Minute)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Minute), c.Next())
	assert.Equal(t, start, c.Now(), "Next must not move the cursor")

	c.Tick()
	c.Tick()
	assert.Equal(t, start.Add(2*time.Minute), c.Now())

	c.Reset()
	assert.Equal(t, start, c.Now())
}

func TestClock_SetNow(t *testing.T) {
	start := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name     string
		interval time.Duration
		target   time.Time
		expected time.Time
	}{
		{
			name:     "On boundary",
			interval: time.Minute,
			target:   start.Add(5 * time.Minute),
			expected: start.Add(5 * time.Minute),
		},
		{
			name:     "Between boundaries",
			interval: time.Minute,
			target:   start.Add(5*time.Minute + 10*time.Second),
			expected: start.Add(6 * time.Minute),
		},
		{
			name:     "Hourly interval",
			interval: time.Hour,
			target:   start.Add(90 * time.Minute),
			expected: start.Add(2 * time.Hour),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(start, tc.interval)
			c.SetNow(tc.target)
			assert.Equal(t, tc.expected, c.Now())
		})
	}
}

func TestClock_Limit(t *testing.T) {
	start := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	limit := start.Add(150 * time.Minute)
	c := New(start, time.Hour)
	c.SetLimit(limit)
	assert.Equal(t, limit, c.Limit())

	c.Tick()
	c.Tick()
	assert.Equal(t, start.Add(2*time.Hour), c.Now())
	assert.Equal(t, start.Add(3*time.Hour), c.Next(), "Next previews past the limit")

	c.Tick()
	assert.Equal(t, limit, c.Now())

	c.Reset()
	c.SetNow(start.Add(10 * time.Hour))
	assert.Equal(t, limit, c.Now())

	c.Reset()
	c.SetLimit(time.Time{})
	c.SetNow(start.Add(10 * time.Hour))
	assert.Equal(t, start.Add(10*time.Hour), c.Now(), "a zero limit lifts the cap")
}

func TestRoundDown(t *testing.T) {
	ts := time.Date(2018, 1, 1, 10, 3, 20, 0, time.UTC)
	assert.Equal(t, time.Date(2018, 1, 1, 10, 0, 0, 0, time.UTC), RoundDown(ts, 5*time.Minute))
	assert.Equal(t, ts, RoundDown(ts, 0))
}
