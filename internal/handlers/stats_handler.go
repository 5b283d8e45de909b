package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/malgorath/cyberbrain/internal/config"
	"github.com/malgorath/cyberbrain/internal/store"
)

// StatsHandler serves token aggregation and the derived cost report. Both
// expose counts and money only; prompts never exist in the store to leak.
type StatsHandler struct {
	BaseHandler
	store store.Store
}

// NewStatsHandler creates a stats handler
func NewStatsHandler(s store.Store) *StatsHandler {
	return &StatsHandler{store: s}
}

// TokenStats handles GET /api/v1/token-stats
func (h *StatsHandler) TokenStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.TokenStatsByModel(r.Context())
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	var totalPrompt, totalCompletion, totalTokens int64
	for _, s := range stats {
		totalPrompt += s.PromptTokens
		totalCompletion += s.CompletionTokens
		totalTokens += s.TotalTokens
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"models": stats,
		"totals": map[string]int64{
			"prompt_tokens":     totalPrompt,
			"completion_tokens": totalCompletion,
			"total_tokens":      totalTokens,
		},
	})
}

// modelRate is a per-model cost override.
type modelRate struct {
	PromptPer1K     float64 `json:"prompt_per_1k"`
	CompletionPer1K float64 `json:"completion_per_1k"`
}

// CostReportRow is one model's derived spend.
type CostReportRow struct {
	ModelID          string  `json:"model_id"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	PromptCost       float64 `json:"prompt_cost"`
	CompletionCost   float64 `json:"completion_cost"`
	TotalCost        float64 `json:"total_cost"`
}

// CostReport handles GET /api/v1/cost-report: token counts times the
// configured per-model multipliers.
func (h *StatsHandler) CostReport(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.TokenStatsByModel(r.Context())
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	defaultPrompt, _ := strconv.ParseFloat(config.CostPer1KPromptTokens, 64)
	defaultCompletion, _ := strconv.ParseFloat(config.CostPer1KCompletionTokens, 64)

	overrides := map[string]modelRate{}
	if config.ModelCostRates != "" {
		if err := json.Unmarshal([]byte(config.ModelCostRates), &overrides); err != nil {
			h.respondWithKind(w, store.KindValidation, "MODEL_COST_RATES is not valid JSON")
			return
		}
	}

	rows := make([]CostReportRow, 0, len(stats))
	var grandTotal float64
	for _, s := range stats {
		promptRate, completionRate := defaultPrompt, defaultCompletion
		if rate, ok := overrides[s.ModelID]; ok {
			promptRate = rate.PromptPer1K
			completionRate = rate.CompletionPer1K
		}

		row := CostReportRow{
			ModelID:          s.ModelID,
			PromptTokens:     s.PromptTokens,
			CompletionTokens: s.CompletionTokens,
			PromptCost:       float64(s.PromptTokens) / 1000 * promptRate,
			CompletionCost:   float64(s.CompletionTokens) / 1000 * completionRate,
		}
		row.TotalCost = row.PromptCost + row.CompletionCost
		grandTotal += row.TotalCost
		rows = append(rows, row)
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"models":     rows,
		"total_cost": grandTotal,
	})
}
