package models

import (
	"encoding/json"
	"time"
)

// Action is one accepted game-state write, appended to the per-room log in
// submission order. The log is immutable and is the only ordering guarantee
// the engine makes; websocket delivery is fire-and-forget.
type Action struct {
	ID        int             `json:"id"`
	RoomID    int             `json:"room_id"`
	UserID    int             `json:"user_id"`
	Sequence  int             `json:"sequence"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
