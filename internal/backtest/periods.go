package backtest

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrInvalidPeriod is returned for a period that does not start before it ends.
var ErrInvalidPeriod = errors.New("invalid period")

const day = 24 * time.Hour

// Period is one backtest window [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days is the whole number of days covered.
func (p Period) Days() int { return days(p.Start, p.End) }

func (p Period) String() string {
	return p.Start.Format(time.RFC3339) + "->" + p.End.Format(time.RFC3339)
}

// CheckPeriods fails on the first period whose start is not before its end.
func CheckPeriods(periods []Period) error {
	if len(periods) == 0 {
		return fmt.Errorf("%w: no periods", ErrInvalidPeriod)
	}
	for i, p := range periods {
		if !p.Start.Before(p.End) {
			return fmt.Errorf("%w: #%d %s", ErrInvalidPeriod, i, p)
		}
	}
	return nil
}

// GenerateRandomPeriods draws n distinct periods inside [start, end) whose
// sizes are between minDays and maxDays. The span must be at least 1.5
// times maxDays.
func GenerateRandomPeriods(start, end time.Time, minDays, maxDays, n int, rng *rand.Rand) ([]Period, error) {
	if minDays < 1 || minDays > maxDays {
		return nil, fmt.Errorf("%w: size range %d..%d", ErrInvalidPeriod, minDays, maxDays)
	}
	span := days(start, end)
	if float64(span)/1.5 < float64(maxDays) {
		return nil, fmt.Errorf("%w: %d days is too large for %s to %s, try size <= %d",
			ErrInvalidPeriod, maxDays, start.Format(time.DateOnly), end.Format(time.DateOnly), int(float64(span)/1.5))
	}
	var distinct int
	for size := minDays; size <= maxDays; size++ {
		distinct += span - size
	}
	if n > distinct {
		return nil, fmt.Errorf("%w: only %d distinct periods fit, %d requested", ErrInvalidPeriod, distinct, n)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	seen := make(map[Period]bool, n)
	out := make([]Period, 0, n)
	for len(out) < n {
		size := minDays + rng.Intn(maxDays-minDays+1)
		shift := 1 + rng.Intn(span-size)
		p := Period{Start: start.Add(time.Duration(shift) * day)}
		p.End = p.Start.Add(time.Duration(size) * day)
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

// GeneratePeriodsWithShiftStep slides a window of sizeDays across
// [start, end] by shiftDays.
func GeneratePeriodsWithShiftStep(start, end time.Time, sizeDays, shiftDays int) ([]Period, error) {
	if sizeDays < 1 || shiftDays < 1 {
		return nil, fmt.Errorf("%w: size %d shift %d", ErrInvalidPeriod, sizeDays, shiftDays)
	}
	size := time.Duration(sizeDays) * day
	shift := time.Duration(shiftDays) * day

	var out []Period
	for s := start; !s.Add(size).After(end); s = s.Add(shift) {
		out = append(out, Period{Start: s, End: s.Add(size)})
	}
	return out, nil
}
