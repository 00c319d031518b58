package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"stayguard/internal/repo"
	"stayguard/internal/takeaway"
)

// TakeawayService is what the handler needs from the pipeline.
type TakeawayService interface {
	ForListing(ctx context.Context, listingID string) (*takeaway.Result, error)
	Configured() bool
}

type TakeawayHandler struct {
	svc TakeawayService
}

func NewTakeawayHandler(svc TakeawayService) *TakeawayHandler {
	return &TakeawayHandler{svc: svc}
}

func (h *TakeawayHandler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/listings/{id}/takeaways", h.Takeaways)
}

type takeawaysBody struct {
	Positive *string `json:"positive_takeaway"`
	Negative *string `json:"negative_takeaway"`
}

type takeawaysResponse struct {
	Success          bool          `json:"success"`
	Takeaways        takeawaysBody `json:"takeaways"`
	Source           string        `json:"source"`
	OpinionsAnalyzed *int          `json:"opinions_analyzed,omitempty"`
	CachedAt         *time.Time    `json:"cached_at,omitempty"`
}

func (h *TakeawayHandler) Takeaways(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "listing id is required")
		return
	}

	if !h.svc.Configured() {
		writeError(w, http.StatusServiceUnavailable, "takeaway generation is not configured")
		return
	}

	result, err := h.svc.ForListing(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			writeError(w, http.StatusNotFound, "listing not found")
		case errors.Is(err, repo.ErrStoreUnavailable):
			log.Error().Err(err).Str("listing_id", id).Msg("Opinion store unavailable")
			writeError(w, http.StatusServiceUnavailable, "opinion store unavailable")
		default:
			log.Error().Err(err).Str("listing_id", id).Msg("Takeaway request failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	resp := takeawaysResponse{
		Success: true,
		Takeaways: takeawaysBody{
			Positive: result.Summary.Positive,
			Negative: result.Summary.Negative,
		},
		Source:           result.Source,
		OpinionsAnalyzed: &result.OpinionCount,
		CachedAt:         result.CachedAt,
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}
