package models

import "time"

type TournamentMatchStatus string

const (
	MatchStatusPending   TournamentMatchStatus = "pending"
	MatchStatusBye       TournamentMatchStatus = "bye"
	MatchStatusPlaying   TournamentMatchStatus = "playing"
	MatchStatusCompleted TournamentMatchStatus = "completed"
)

// TournamentMatch is one node of a single-elimination bracket. The full set is
// generated in bulk when the tournament starts and advanced in place; rows are
// never re-created.
type TournamentMatch struct {
	ID           int                   `json:"id"`
	TournamentID int                   `json:"tournament_id"`
	Round        int                   `json:"round"`
	MatchNumber  int                   `json:"match_number"`
	Player1ID    *int                  `json:"player1_id,omitempty"`
	Player2ID    *int                  `json:"player2_id,omitempty"`
	WinnerID     *int                  `json:"winner_id,omitempty"`
	RoomID       *int                  `json:"room_id,omitempty"`
	Status       TournamentMatchStatus `json:"status"`
	CreatedAt    time.Time             `json:"created_at"`
}
