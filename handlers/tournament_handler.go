package handlers

import (
	"net/http"

	"github.com/playhive/session-engine/services"
)

type TournamentHandler struct {
	brackets services.BracketService
}

func NewTournamentHandler(brackets services.BracketService) *TournamentHandler {
	return &TournamentHandler{brackets: brackets}
}

// GenerateBracket handles POST /tournaments/{tournamentID}/bracket.
// Participants are listed in seed order, best first.
func (h *TournamentHandler) GenerateBracket(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input struct {
		Participants []int `json:"participants"`
		MaxPlayers   int   `json:"max_players"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	matches, err := h.brackets.GenerateBracket(r.Context(), tournamentID, input.Participants, input.MaxPlayers)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"matches": matches}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetBracket handles GET /tournaments/{tournamentID}/bracket.
func (h *TournamentHandler) GetBracket(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	matches, err := h.brackets.GetBracket(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"matches": matches}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// AdvanceWinner handles POST /tournaments/matches/{matchID}/advance.
func (h *TournamentHandler) AdvanceWinner(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input struct {
		WinnerID int `json:"winner_id"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.brackets.AdvanceWinner(r.Context(), matchID, input.WinnerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// BindRoom handles POST /tournaments/matches/{matchID}/room: links the match
// to the room it is being played in.
func (h *TournamentHandler) BindRoom(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input struct {
		RoomID int `json:"room_id"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.RoomID <= 0 {
		errorResponse(w, r, http.StatusBadRequest, "room_id is required")
		return
	}

	if err := h.brackets.BindRoom(r.Context(), matchID, input.RoomID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"message": "room bound to match"}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
