package models

import (
	"encoding/json"
	"time"
)

type RoomMode string

const (
	ModeRanked        RoomMode = "ranked_1v1"
	ModeCasual        RoomMode = "casual_1v1"
	ModeCollaborative RoomMode = "collaborative"
)

func (m RoomMode) Valid() bool {
	switch m {
	case ModeRanked, ModeCasual, ModeCollaborative:
		return true
	}
	return false
}

// Ranked results feed the rating engine; everything else only touches win/loss counters.
func (m RoomMode) Ranked() bool {
	return m == ModeRanked
}

type RoomStatus string

const (
	RoomStatusWaiting   RoomStatus = "waiting"
	RoomStatusPlaying   RoomStatus = "playing"
	RoomStatusFinished  RoomStatus = "finished"
	RoomStatusCancelled RoomStatus = "cancelled"
)

// Room is a single match session. It is born waiting, ends finished or
// cancelled, and is never reused.
type Room struct {
	ID             int             `json:"id"`
	GameID         string          `json:"game_id"`
	Mode           RoomMode        `json:"mode"`
	Status         RoomStatus      `json:"status"`
	MaxPlayers     int             `json:"max_players"`
	CurrentPlayers int             `json:"current_players"`
	RoomCode       *string         `json:"room_code,omitempty"`
	CreatedBy      int             `json:"created_by"`
	WinnerID       *int            `json:"winner_id,omitempty"`
	GameState      json.RawMessage `json:"game_state,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

func (r *Room) Full() bool {
	return r.CurrentPlayers >= r.MaxPlayers
}
