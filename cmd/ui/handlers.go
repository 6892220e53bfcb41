package main

import (
	"encoding/json"
	"net/http"

	"crypto-backtester-go/internal/database"
	"crypto-backtester-go/internal/models"

	"github.com/spf13/cast"
	"go.uber.org/zap"
)

const defaultLimit = 500

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log   *zap.Logger
	store *database.ResultStore
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, store *database.ResultStore) *APIHandler {
	return &APIHandler{log: log, store: store}
}

// Routes registers every endpoint on mux.
func (h *APIHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/runs", h.RunsHandler)
	mux.HandleFunc("/api/trades", h.TradesHandler)
	mux.HandleFunc("/api/optimizations", h.OptimizationsHandler)
	mux.HandleFunc("/api/optimizations/results", h.OptimizationResultsHandler)
	mux.HandleFunc("/api/statistics", h.StatisticsHandler)
}

func limit(r *http.Request) int {
	if n := cast.ToInt(r.URL.Query().Get("limit")); n > 0 {
		return n
	}
	return defaultLimit
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}

func (h *APIHandler) fail(w http.ResponseWriter, msg string, err error) {
	h.log.Error(msg, zap.Error(err))
	http.Error(w, msg, http.StatusInternalServerError)
}

// RunsHandler returns stored window summaries, optionally of one run.
func (h *APIHandler) RunsHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.RunSummaries(r.Context(), r.URL.Query().Get("run_id"), limit(r))
	if err != nil {
		h.fail(w, "Failed to get runs", err)
		return
	}
	h.writeJSON(w, rows)
}

// TradesHandler returns stored trades, most recent first.
func (h *APIHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	trades, err := h.store.Trades(r.Context(), r.URL.Query().Get("run_id"), limit(r))
	if err != nil {
		h.fail(w, "Failed to get trades", err)
		return
	}
	h.writeJSON(w, trades)
}

// OptimizationsHandler returns the checkpoint of every optimization.
func (h *APIHandler) OptimizationsHandler(w http.ResponseWriter, r *http.Request) {
	metas, err := h.store.Optimizations(r.Context())
	if err != nil {
		h.fail(w, "Failed to get optimizations", err)
		return
	}
	h.writeJSON(w, metas)
}

// OptimizationResultsHandler returns saved combinations, best first.
func (h *APIHandler) OptimizationResultsHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.OptimizationResults(r.Context(), r.URL.Query().Get("name"), limit(r))
	if err != nil {
		h.fail(w, "Failed to get optimization results", err)
		return
	}
	h.writeJSON(w, rows)
}

// StatsDetail holds closed position statistics.
type StatsDetail struct {
	TotalTrades      int64   `json:"total_trades"`
	ProfitableTrades int64   `json:"profitable_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalProfit      float64 `json:"total_profit"`
	TotalFees        float64 `json:"total_fees"`
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Trades        StatsDetail `json:"trades"`
	Windows       int         `json:"windows"`
	MeanPLPercent float64     `json:"mean_pl_percent"`
	MeanPLEff     float64     `json:"mean_pl_eff"`
}

func tradeStats(trades []models.Trade) StatsDetail {
	var s StatsDetail
	for _, t := range trades {
		s.TotalFees += t.Fee
		if !t.Margin {
			continue
		}
		s.TotalTrades++
		if t.Profit >= 0 {
			s.ProfitableTrades++
		}
		s.TotalProfit += t.Profit
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.ProfitableTrades) / float64(s.TotalTrades)
	}
	return s
}

// StatisticsHandler aggregates the trades and windows of a run, or of every
// run when run_id is empty.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	trades, err := h.store.Trades(r.Context(), runID, 0)
	if err != nil {
		h.fail(w, "Failed to calculate statistics", err)
		return
	}
	rows, err := h.store.RunSummaries(r.Context(), runID, 0)
	if err != nil {
		h.fail(w, "Failed to calculate statistics", err)
		return
	}

	resp := StatisticsResponse{Trades: tradeStats(trades), Windows: len(rows)}
	for _, row := range rows {
		resp.MeanPLPercent += row.PLPercent
		resp.MeanPLEff += row.PLEff
	}
	if len(rows) > 0 {
		resp.MeanPLPercent /= float64(len(rows))
		resp.MeanPLEff /= float64(len(rows))
	}
	h.writeJSON(w, resp)
}
