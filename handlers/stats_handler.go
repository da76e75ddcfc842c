package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/playhive/session-engine/middleware"
	"github.com/playhive/session-engine/models"
	"github.com/playhive/session-engine/services"
)

type StatsHandler struct {
	rating services.RatingService
}

func NewStatsHandler(rating services.RatingService) *StatsHandler {
	return &StatsHandler{rating: rating}
}

// GetMyStats handles GET /stats/{gameID}?mode=. Players who never played get
// a fresh default-rated record rather than a 404.
func (h *StatsHandler) GetMyStats(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	mode, ok := modeFromQuery(w, r)
	if !ok {
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	stats, err := h.rating.GetOrCreateStats(r.Context(), userID, gameID, mode)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	rank, err := h.rating.GetPlayerRank(r.Context(), userID, gameID, mode)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	env := jsonResponse{"stats": stats, "rank": rank}
	if mode.Ranked() {
		env["tier"] = services.GetEloTier(stats.EloRating)
	}
	if err := writeJSON(w, http.StatusOK, env, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Leaderboard handles GET /games/{gameID}/leaderboard?mode=&limit=.
func (h *StatsHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	mode, ok := modeFromQuery(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			errorResponse(w, r, http.StatusBadRequest, "invalid limit query parameter")
			return
		}
		limit = parsed
	}

	entries, err := h.rating.Leaderboard(r.Context(), gameID, mode, limit)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"leaderboard": entries}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func modeFromQuery(w http.ResponseWriter, r *http.Request) (models.RoomMode, bool) {
	raw := r.URL.Query().Get("mode")
	if raw == "" {
		raw = string(models.ModeRanked)
	}
	mode := models.RoomMode(raw)
	if !mode.Valid() {
		errorResponse(w, r, http.StatusBadRequest, "invalid mode query parameter")
		return "", false
	}
	return mode, true
}
