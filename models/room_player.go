package models

import "time"

// RoomPlayer binds a user to a room slot. Rows are never hard-deleted; leaving
// only flips the disconnected flag so match history stays intact.
type RoomPlayer struct {
	ID             int        `json:"id"`
	RoomID         int        `json:"room_id"`
	UserID         int        `json:"user_id"`
	PlayerNumber   int        `json:"player_number"`
	Ready          bool       `json:"ready"`
	Disconnected   bool       `json:"disconnected"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	JoinedAt       time.Time  `json:"joined_at"`
}
