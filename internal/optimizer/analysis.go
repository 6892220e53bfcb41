package optimizer

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"crypto-backtester-go/internal/backtest"

	"github.com/spf13/cast"
)

// Analysis modes accepted by AnalyzeSummary.
const (
	BestParams = "best_params"
	Mean       = "mean"
)

// Row is one line of an analysis table.
type Row struct {
	Index     int                    `json:"index"`
	Params    map[string]interface{} `json:"params"`
	Start     time.Time              `json:"start,omitempty"`
	End       time.Time              `json:"end,omitempty"`
	Days      float64                `json:"days"`
	Wins      int                    `json:"wins"`
	Losses    int                    `json:"losses"`
	PLPercent float64                `json:"pl_percent"`
	PLEff     float64                `json:"pl_eff"`
}

// AnalyzeSummary tabulates optimization results, best PL_Eff first.
// best_params lists every window of every combination; mean averages the
// windows of each combination into one row.
func AnalyzeSummary(results []Result, mode string) ([]Row, error) {
	var rows []Row
	switch mode {
	case BestParams:
		for _, r := range results {
			params := r.Params.Map()
			for _, w := range r.Summary {
				rows = append(rows, Row{
					Index:     r.Index,
					Params:    params,
					Start:     w.Start,
					End:       w.End,
					Days:      float64(w.Days),
					Wins:      w.Wins,
					Losses:    w.Losses,
					PLPercent: w.PLPercent,
					PLEff:     w.PLEff,
				})
			}
		}
	case Mean:
		for _, r := range results {
			if len(r.Summary) == 0 {
				continue
			}
			row := Row{Index: r.Index, Params: r.Params.Map()}
			for _, w := range r.Summary {
				row.Days += float64(w.Days)
				row.Wins += w.Wins
				row.Losses += w.Losses
			}
			row.Days /= float64(len(r.Summary))
			row.PLPercent = r.MeanPLPercent()
			row.PLEff = r.MeanPLEff()
			rows = append(rows, row)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAnalysis, mode)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].PLEff > rows[j].PLEff })
	return rows, nil
}

// WriteRows writes an analysis table as CSV with one column per parameter
// in names. Window bounds are left empty for mean rows.
func WriteRows(w io.Writer, names []string, rows []Row) error {
	cw := csv.NewWriter(w)
	header := append([]string{"idx"}, names...)
	header = append(header, "start", "end", "days", "#P", "#L", "PL(%)", "PL_Eff")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{strconv.Itoa(r.Index)}
		for _, n := range names {
			rec = append(rec, cast.ToString(r.Params[n]))
		}
		var start, end string
		if !r.Start.IsZero() {
			start, end = r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339)
		}
		rec = append(rec, start, end,
			backtest.FormatFloat(r.Days),
			strconv.Itoa(r.Wins),
			strconv.Itoa(r.Losses),
			backtest.FormatFloat(r.PLPercent),
			backtest.FormatFloat(r.PLEff))
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
