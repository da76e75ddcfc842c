package models

import "time"

const (
	DefaultElo = 1000
	MinElo     = 100
	MaxElo     = 3000
)

// MultiplayerStats is keyed by (user, game, mode) and created lazily with the
// default rating on first lookup. Rows only grow; eloRating is mutated by the
// rating engine alone.
type MultiplayerStats struct {
	ID              int       `json:"id"`
	UserID          int       `json:"user_id"`
	GameID          string    `json:"game_id"`
	Mode            RoomMode  `json:"mode"`
	Wins            int       `json:"wins"`
	Losses          int       `json:"losses"`
	Draws           int       `json:"draws"`
	TotalGames      int       `json:"total_games"`
	EloRating       int       `json:"elo_rating"`
	HighestElo      int       `json:"highest_elo"`
	LowestElo       int       `json:"lowest_elo"`
	WinStreak       int       `json:"win_streak"`
	BestWinStreak   int       `json:"best_win_streak"`
	LossStreak      int       `json:"loss_streak"`
	WorstLossStreak int       `json:"worst_loss_streak"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EloTier is a fixed rung on the rating ladder.
type EloTier struct {
	Name   string `json:"name"`
	Color  string `json:"color"`
	Icon   string `json:"icon"`
	MinElo int    `json:"min_elo"`
}

// LeaderboardEntry is a stats row joined with its computed rank.
type LeaderboardEntry struct {
	Rank      int `json:"rank"`
	UserID    int `json:"user_id"`
	EloRating int `json:"elo_rating"`
	Wins      int `json:"wins"`
	Losses    int `json:"losses"`
	Draws     int `json:"draws"`
}
