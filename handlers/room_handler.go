package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/playhive/session-engine/middleware"
	"github.com/playhive/session-engine/models"
	"github.com/playhive/session-engine/services"
)

type RoomHandler struct {
	matchmaking services.MatchmakingService
	lifecycle   services.RoomLifecycleService
}

func NewRoomHandler(matchmaking services.MatchmakingService, lifecycle services.RoomLifecycleService) *RoomHandler {
	return &RoomHandler{matchmaking: matchmaking, lifecycle: lifecycle}
}

// FindMatch handles POST /matchmaking/search. Blocks until a room is found,
// created, or the search window expires.
func (h *RoomHandler) FindMatch(w http.ResponseWriter, r *http.Request) {
	var input struct {
		GameID string          `json:"game_id"`
		Mode   models.RoomMode `json:"mode"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.GameID == "" {
		errorResponse(w, r, http.StatusBadRequest, "game_id is required")
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	room, err := h.matchmaking.FindMatch(r.Context(), userID, input.GameID, input.Mode)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"room": room}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// CreateRoom handles POST /rooms.
func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var input struct {
		GameID  string          `json:"game_id"`
		Mode    models.RoomMode `json:"mode"`
		Private bool            `json:"private"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.GameID == "" {
		errorResponse(w, r, http.StatusBadRequest, "game_id is required")
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	room, err := h.matchmaking.CreateRoom(r.Context(), userID, input.GameID, input.Mode, input.Private)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"room": room}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ListRooms handles GET /rooms?game_id=&mode=&limit=.
func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("game_id")
	if gameID == "" {
		errorResponse(w, r, http.StatusBadRequest, "game_id query parameter is required")
		return
	}

	var mode *models.RoomMode
	if raw := r.URL.Query().Get("mode"); raw != "" {
		m := models.RoomMode(raw)
		mode = &m
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

	rooms, err := h.matchmaking.GetActiveRooms(r.Context(), gameID, mode, limit)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"rooms": rooms}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetRoom handles GET /rooms/{roomID}.
func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := getIDFromURL(r, "roomID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	room, players, err := h.matchmaking.GetRoomWithPlayers(r.Context(), roomID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"room": room, "players": players}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// JoinRoom handles POST /rooms/{roomID}/join.
func (h *RoomHandler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := getIDFromURL(r, "roomID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input struct {
		PlayerNumber *int `json:"player_number"`
	}
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &input); err != nil {
			badRequestResponse(w, r, err)
			return
		}
	}

	userID := middleware.UserIDFromContext(r.Context())
	player, err := h.matchmaking.JoinRoom(r.Context(), roomID, userID, input.PlayerNumber)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"player": player}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// JoinByCode handles POST /rooms/join-by-code.
func (h *RoomHandler) JoinByCode(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Code string `json:"code"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	room, player, err := h.matchmaking.JoinByCode(r.Context(), userID, input.Code)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"room": room, "player": player}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// SetReady handles POST /rooms/{roomID}/ready.
func (h *RoomHandler) SetReady(w http.ResponseWriter, r *http.Request) {
	roomID, err := getIDFromURL(r, "roomID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input struct {
		Ready bool `json:"ready"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	room, err := h.lifecycle.SetReady(r.Context(), roomID, userID, input.Ready)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"room": room}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// UpdateGameState handles PUT /rooms/{roomID}/state.
func (h *RoomHandler) UpdateGameState(w http.ResponseWriter, r *http.Request) {
	roomID, err := getIDFromURL(r, "roomID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input struct {
		State json.RawMessage `json:"state"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if len(input.State) == 0 {
		errorResponse(w, r, http.StatusBadRequest, "state is required")
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	action, err := h.lifecycle.UpdateGameState(r.Context(), roomID, userID, input.State)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"action": action}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// FinishRoom handles POST /rooms/{roomID}/finish.
func (h *RoomHandler) FinishRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := getIDFromURL(r, "roomID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input struct {
		WinnerID *int `json:"winner_id"`
		IsDraw   bool `json:"is_draw"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	room, err := h.lifecycle.FinishRoom(r.Context(), roomID, userID, input.WinnerID, input.IsDraw)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"room": room}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// LeaveRoom handles POST /rooms/{roomID}/leave.
func (h *RoomHandler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := getIDFromURL(r, "roomID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	if err := h.lifecycle.LeaveRoom(r.Context(), roomID, userID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"message": "left room"}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetActions handles GET /rooms/{roomID}/actions: the ordered action log for
// replay and reconnection catch-up.
func (h *RoomHandler) GetActions(w http.ResponseWriter, r *http.Request) {
	roomID, err := getIDFromURL(r, "roomID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	actions, err := h.lifecycle.GetActions(r.Context(), roomID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"actions": actions}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
