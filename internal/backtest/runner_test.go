package backtest

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"crypto-backtester-go/internal/config"
	"crypto-backtester-go/internal/trader"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dayPeriods(n int) []Period {
	out := make([]Period, n)
	for i := range out {
		out[i] = Period{Start: hour(i), End: hour(24 + i)}
	}
	return out
}

func TestRunner_BoundedConcurrency(t *testing.T) {
	testCases := []struct {
		name     string
		parallel bool
		maxPeak  int
	}{
		{name: "parallel", parallel: true, maxPeak: 2},
		{name: "sequential", parallel: false, maxPeak: 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			cfg := testConfig(true)
			cfg.Runner.Parallel = tc.parallel
			tk := &tracker{}
			factory := func(*config.Config) (trader.Strategy, error) {
				return &scripted{req: spotBuy(), onFast: func(time.Time) error {
					tk.hold(20 * time.Millisecond)
					return nil
				}}, nil
			}
			periods := dayPeriods(5)

			// Act
			results, summary, err := NewRunner(zap.NewNop(), cfg, factory, testFeed()).RunPeriods(context.Background(), periods)

			// Assert
			require.NoError(t, err)
			require.Len(t, results, 5)
			seen := make(map[Period]bool)
			for i, res := range results {
				require.NoError(t, res.Err)
				require.NotNil(t, res.Report)
				assert.Equal(t, periods[i], res.Period, "results keep submission order")
				seen[res.Period] = true
			}
			assert.Len(t, seen, 5)
			assert.Len(t, summary, 5)
			assert.LessOrEqual(t, tk.peak, tc.maxPeak)
			assert.GreaterOrEqual(t, tk.peak, 1)
		})
	}
}

func TestRunner_IsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	factory := func(*config.Config) (trader.Strategy, error) {
		return &scripted{req: spotBuy(), onFast: func(start time.Time) error {
			switch {
			case start.Equal(hour(1)):
				return boom
			case start.Equal(hour(3)):
				panic("strategy bug")
			}
			return nil
		}}, nil
	}

	results, summary, err := NewRunner(zap.NewNop(), testConfig(true), factory, testFeed()).RunPeriods(context.Background(), dayPeriods(5))

	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.ErrorContains(t, results[3].Err, "panicked")
	assert.Nil(t, results[3].Report)
	for _, i := range []int{0, 2, 4} {
		assert.NoError(t, results[i].Err)
	}
	require.Len(t, summary, 3)
	assert.Equal(t, hour(0), summary[0].Start)
	assert.Equal(t, hour(4), summary[2].Start)
}

func TestRunner_FactoryError(t *testing.T) {
	factory := func(*config.Config) (trader.Strategy, error) { return nil, errors.New("bad params") }

	results, summary, err := NewRunner(zap.NewNop(), testConfig(false), factory, testFeed()).RunPeriods(context.Background(), dayPeriods(2))

	require.NoError(t, err)
	for _, res := range results {
		assert.ErrorContains(t, res.Err, "bad params")
	}
	assert.Empty(t, summary)
}

func TestRunner_WorkersGetIsolatedConfig(t *testing.T) {
	cfg := testConfig(false)
	factory := func(c *config.Config) (trader.Strategy, error) {
		c.Funds[testExchange]["USD"] = 0
		return &scripted{}, nil
	}

	_, _, err := NewRunner(zap.NewNop(), cfg, factory, testFeed()).RunPeriods(context.Background(), dayPeriods(2))

	require.NoError(t, err)
	assert.Equal(t, 1000.0, cfg.Funds[testExchange]["USD"])
}

func TestRunner_InvalidPeriods(t *testing.T) {
	r := NewRunner(zap.NewNop(), testConfig(false), nil, testFeed())

	_, _, err := r.RunPeriods(context.Background(), []Period{{Start: hour(2), End: hour(1)}})
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, _, err = r.RunPeriods(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestRunner_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	factory := func(*config.Config) (trader.Strategy, error) { return &scripted{}, nil }

	results, summary, err := NewRunner(zap.NewNop(), testConfig(false), factory, testFeed()).RunPeriods(ctx, dayPeriods(3))

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 3)
	for _, res := range results {
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
	assert.Empty(t, summary)
}

func TestCheckPeriods(t *testing.T) {
	testCases := []struct {
		name    string
		periods []Period
		wantErr bool
	}{
		{name: "valid", periods: dayPeriods(3)},
		{name: "empty", wantErr: true},
		{name: "equal bounds", periods: []Period{{Start: hour(1), End: hour(1)}}, wantErr: true},
		{name: "one reversed", periods: append(dayPeriods(2), Period{Start: hour(5), End: hour(4)}), wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckPeriods(tc.periods)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPeriod)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestGeneratePeriodsWithShiftStep(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	periods, err := GeneratePeriodsWithShiftStep(start, end, 10, 7)

	require.NoError(t, err)
	require.Len(t, periods, 3)
	assert.Equal(t, start, periods[0].Start)
	assert.Equal(t, start.AddDate(0, 0, 10), periods[0].End)
	assert.Equal(t, start.AddDate(0, 0, 14), periods[2].Start)
	assert.Equal(t, 10, periods[2].Days())

	_, err = GeneratePeriodsWithShiftStep(start, end, 10, 0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestGenerateRandomPeriods(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(7))

	periods, err := GenerateRandomPeriods(start, end, 5, 20, 10, rng)

	require.NoError(t, err)
	require.Len(t, periods, 10)
	seen := make(map[Period]bool)
	for _, p := range periods {
		assert.False(t, seen[p], "periods are distinct")
		seen[p] = true
		assert.True(t, p.Start.After(start))
		assert.False(t, p.End.After(end))
		assert.GreaterOrEqual(t, p.Days(), 5)
		assert.LessOrEqual(t, p.Days(), 20)
	}

	testCases := []struct {
		name             string
		minDays, maxDays int
		n                int
	}{
		{name: "reversed range", minDays: 10, maxDays: 5, n: 1},
		{name: "too large", minDays: 5, maxDays: 45, n: 1},
		{name: "not enough distinct periods", minDays: 40, maxDays: 40, n: 21},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := GenerateRandomPeriods(start, end, tc.minDays, tc.maxDays, tc.n, rng)
			assert.ErrorIs(t, err, ErrInvalidPeriod)
		})
	}
}

func TestSummary(t *testing.T) {
	results := []Result{
		{Period: Period{Start: hour(24), End: hour(48)}, Report: &Report{Days: 1, Wins: 2, Losses: 1, PLPercent: -1.5, PLEff: -0.45}},
		{Period: Period{Start: hour(0), End: hour(48)}, Report: &Report{Days: 2, Wins: 1, PLPercent: 3, PLEff: 0.45}},
		{Period: Period{Start: hour(12), End: hour(36)}, Err: errors.New("failed")},
	}

	s := Summarize(results)

	require.Len(t, s, 2)
	assert.Equal(t, hour(0), s[0].Start)
	assert.InDelta(t, 0.75, s.MeanPLPercent(), 1e-12)
	assert.InDelta(t, 0, s.MeanPLEff(), 1e-12)
	assert.Zero(t, Summary{}.MeanPLPercent())

	var buf bytes.Buffer
	require.NoError(t, s.WriteCSV(&buf))
	want := "start,end,days,#P,#L,PL(%),PL_Eff\n" +
		"2024-01-01T00:00:00Z,2024-01-03T00:00:00Z,2,1,0,3.0000,0.4500\n" +
		"2024-01-02T00:00:00Z,2024-01-03T00:00:00Z,1,2,1,-1.5000,-0.4500\n"
	assert.Equal(t, want, buf.String())
}
