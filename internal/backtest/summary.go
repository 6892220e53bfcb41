package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Row is one window of a Summary.
type Row struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Days      int       `json:"days"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	PLPercent float64   `json:"pl_percent"`
	PLEff     float64   `json:"pl_eff"`
}

// Summary tabulates the successful windows of a run, ordered by start.
type Summary []Row

var summaryHeader = []string{"start", "end", "days", "#P", "#L", "PL(%)", "PL_Eff"}

// Summarize builds the table from the results that carry a report.
func Summarize(results []Result) Summary {
	out := make(Summary, 0, len(results))
	for _, r := range results {
		if r.Err != nil || r.Report == nil {
			continue
		}
		out = append(out, Row{
			Start:     r.Period.Start,
			End:       r.Period.End,
			Days:      r.Report.Days,
			Wins:      r.Report.Wins,
			Losses:    r.Report.Losses,
			PLPercent: r.Report.PLPercent,
			PLEff:     r.Report.PLEff,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].End.Before(out[j].End)
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// MeanPLPercent averages PL% over the rows.
func (s Summary) MeanPLPercent() float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, r := range s {
		sum += r.PLPercent
	}
	return sum / float64(len(s))
}

// MeanPLEff averages PL_Eff over the rows.
func (s Summary) MeanPLEff() float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, r := range s {
		sum += r.PLEff
	}
	return sum / float64(len(s))
}

// WriteCSV writes the table with a header line.
func (s Summary) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return err
	}
	for _, r := range s {
		rec := []string{
			r.Start.Format(time.RFC3339),
			r.End.Format(time.RFC3339),
			strconv.Itoa(r.Days),
			strconv.Itoa(r.Wins),
			strconv.Itoa(r.Losses),
			FormatFloat(r.PLPercent),
			FormatFloat(r.PLEff),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatFloat renders a ratio with four fixed decimals.
func FormatFloat(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(4)
}
