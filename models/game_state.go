package models

import "encoding/json"

// GameStateEnvelope is the boundary shape between the engine and game-specific
// wrappers. The engine stores and broadcasts Data without interpreting it; the
// generic fields are the only part game wrappers outside this core may rely on.
// The union is discriminated by the room's GameID.
type GameStateEnvelope struct {
	GameID      string          `json:"game_id"`
	CurrentTurn *int            `json:"current_turn,omitempty"`
	WinnerID    *int            `json:"winner_id,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// DecodeGameState parses only the generic fields and leaves Data opaque.
func DecodeGameState(raw json.RawMessage) (*GameStateEnvelope, error) {
	var env GameStateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
