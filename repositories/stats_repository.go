package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/playhive/session-engine/models"
)

var ErrStatsNotFound = errors.New("multiplayer stats not found")

const statsColumns = `id, user_id, game_id, mode, wins, losses, draws, total_games,
	elo_rating, highest_elo, lowest_elo, win_streak, best_win_streak, loss_streak, worst_loss_streak, updated_at`

type StatsRepository interface {
	// GetOrCreate lazily inserts the default row on first lookup. The insert
	// tolerates a concurrent creator; the follow-up select returns whichever
	// row won.
	GetOrCreate(ctx context.Context, userID int, gameID string, mode models.RoomMode) (*models.MultiplayerStats, error)
	Get(ctx context.Context, userID int, gameID string, mode models.RoomMode) (*models.MultiplayerStats, error)
	Update(ctx context.Context, exec SQLExecutor, stats *models.MultiplayerStats) error
	// CountHigherRated backs the rank query: rank = count of strictly greater
	// ratings + 1, so equal ratings share a rank number.
	CountHigherRated(ctx context.Context, gameID string, mode models.RoomMode, rating int) (int, error)
	Leaderboard(ctx context.Context, gameID string, mode models.RoomMode, limit int) ([]*models.MultiplayerStats, error)
}

type postgresStatsRepository struct {
	db *sql.DB
}

func NewPostgresStatsRepository(db *sql.DB) StatsRepository {
	return &postgresStatsRepository{db: db}
}

func (r *postgresStatsRepository) GetOrCreate(ctx context.Context, userID int, gameID string, mode models.RoomMode) (*models.MultiplayerStats, error) {
	insert := `
		INSERT INTO multiplayer_stats (user_id, game_id, mode, elo_rating, highest_elo, lowest_elo)
		VALUES ($1, $2, $3, $4, $4, $4)
		ON CONFLICT (user_id, game_id, mode) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, insert, userID, gameID, mode, models.DefaultElo); err != nil {
		return nil, fmt.Errorf("failed to ensure stats row (user %d, game %s, mode %s): %w", userID, gameID, mode, err)
	}
	return r.Get(ctx, userID, gameID, mode)
}

func (r *postgresStatsRepository) Get(ctx context.Context, userID int, gameID string, mode models.RoomMode) (*models.MultiplayerStats, error) {
	query := `SELECT ` + statsColumns + `
		FROM multiplayer_stats
		WHERE user_id = $1 AND game_id = $2 AND mode = $3`

	stats := &models.MultiplayerStats{}
	err := r.db.QueryRowContext(ctx, query, userID, gameID, mode).Scan(
		&stats.ID,
		&stats.UserID,
		&stats.GameID,
		&stats.Mode,
		&stats.Wins,
		&stats.Losses,
		&stats.Draws,
		&stats.TotalGames,
		&stats.EloRating,
		&stats.HighestElo,
		&stats.LowestElo,
		&stats.WinStreak,
		&stats.BestWinStreak,
		&stats.LossStreak,
		&stats.WorstLossStreak,
		&stats.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStatsNotFound
		}
		return nil, fmt.Errorf("failed to scan stats (user %d, game %s, mode %s): %w", userID, gameID, mode, err)
	}
	return stats, nil
}

func (r *postgresStatsRepository) Update(ctx context.Context, exec SQLExecutor, stats *models.MultiplayerStats) error {
	query := `
		UPDATE multiplayer_stats
		SET wins = $2, losses = $3, draws = $4, total_games = $5,
		    elo_rating = $6, highest_elo = $7, lowest_elo = $8,
		    win_streak = $9, best_win_streak = $10, loss_streak = $11, worst_loss_streak = $12,
		    updated_at = NOW()
		WHERE id = $1`

	result, err := exec.ExecContext(ctx, query,
		stats.ID,
		stats.Wins,
		stats.Losses,
		stats.Draws,
		stats.TotalGames,
		stats.EloRating,
		stats.HighestElo,
		stats.LowestElo,
		stats.WinStreak,
		stats.BestWinStreak,
		stats.LossStreak,
		stats.WorstLossStreak,
	)
	if err != nil {
		return fmt.Errorf("failed to update stats %d: %w", stats.ID, err)
	}
	return checkAffectedRows(result, ErrStatsNotFound)
}

func (r *postgresStatsRepository) CountHigherRated(ctx context.Context, gameID string, mode models.RoomMode, rating int) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM multiplayer_stats WHERE game_id = $1 AND mode = $2 AND elo_rating > $3`
	if err := r.db.QueryRowContext(ctx, query, gameID, mode, rating).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count higher rated players (game %s, mode %s): %w", gameID, mode, err)
	}
	return count, nil
}

func (r *postgresStatsRepository) Leaderboard(ctx context.Context, gameID string, mode models.RoomMode, limit int) ([]*models.MultiplayerStats, error) {
	query := `SELECT ` + statsColumns + `
		FROM multiplayer_stats
		WHERE game_id = $1 AND mode = $2
		ORDER BY elo_rating DESC, total_games DESC, user_id ASC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, gameID, mode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard (game %s, mode %s): %w", gameID, mode, err)
	}
	defer rows.Close()

	entries := make([]*models.MultiplayerStats, 0)
	for rows.Next() {
		var stats models.MultiplayerStats
		if scanErr := rows.Scan(
			&stats.ID,
			&stats.UserID,
			&stats.GameID,
			&stats.Mode,
			&stats.Wins,
			&stats.Losses,
			&stats.Draws,
			&stats.TotalGames,
			&stats.EloRating,
			&stats.HighestElo,
			&stats.LowestElo,
			&stats.WinStreak,
			&stats.BestWinStreak,
			&stats.LossStreak,
			&stats.WorstLossStreak,
			&stats.UpdatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", scanErr)
		}
		entries = append(entries, &stats)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during leaderboard rows iteration: %w", err)
	}
	return entries, nil
}
