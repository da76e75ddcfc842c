package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/playhive/session-engine/models"
	"github.com/playhive/session-engine/repositories"
)

// K-factor tapers as a player accumulates games: big swings while provisional,
// smaller ones once established.
const (
	kFactorProvisional = 40 // fewer than 30 games
	kFactorEstablished = 32 // 30-99 games
	kFactorExpert      = 24 // 100 games and up
)

// MatchResult is a completed match outcome as reported by the room lifecycle.
// The engine trusts it; move validation is out of scope.
type MatchResult struct {
	GameID   string
	Mode     models.RoomMode
	WinnerID int
	LoserID  int
	IsDraw   bool
}

// ExpectedScore is the logistic win probability of a against b.
func ExpectedScore(a, b int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(b-a)/400.0))
}

func KFactor(totalGames int) int {
	switch {
	case totalGames < 30:
		return kFactorProvisional
	case totalGames < 100:
		return kFactorEstablished
	default:
		return kFactorExpert
	}
}

// CalculateEloChange returns the winner's gain and the loser's loss, each
// scaled by that player's own K-factor. Both values are non-negative.
func CalculateEloChange(winnerElo, loserElo, winnerGames, loserGames int) (winnerGain, loserLoss int) {
	expected := ExpectedScore(winnerElo, loserElo)
	winnerGain = int(math.Round(float64(KFactor(winnerGames)) * (1 - expected)))
	loserLoss = int(math.Round(float64(KFactor(loserGames)) * expected))
	return winnerGain, loserLoss
}

// CalculateDrawEloChange scores both players 0.5. Equal ratings yield (0, 0).
func CalculateDrawEloChange(aElo, bElo, aGames, bGames int) (aChange, bChange int) {
	aChange = int(math.Round(float64(KFactor(aGames)) * (0.5 - ExpectedScore(aElo, bElo))))
	bChange = int(math.Round(float64(KFactor(bGames)) * (0.5 - ExpectedScore(bElo, aElo))))
	return aChange, bChange
}

func clampElo(rating int) int {
	if rating < models.MinElo {
		return models.MinElo
	}
	if rating > models.MaxElo {
		return models.MaxElo
	}
	return rating
}

var eloTiers = []models.EloTier{
	{Name: "Grandmaster", Color: "#ff4d4f", Icon: "crown", MinElo: 2400},
	{Name: "Master", Color: "#b37feb", Icon: "diamond", MinElo: 2200},
	{Name: "Expert", Color: "#36cfc9", Icon: "trophy", MinElo: 2000},
	{Name: "Advanced", Color: "#4096ff", Icon: "medal-gold", MinElo: 1800},
	{Name: "Intermediate", Color: "#73d13d", Icon: "medal-silver", MinElo: 1600},
	{Name: "Amateur", Color: "#faad14", Icon: "medal-bronze", MinElo: 1400},
	{Name: "Beginner", Color: "#d46b08", Icon: "target", MinElo: 1200},
	{Name: "Novice", Color: "#8c8c8c", Icon: "seedling", MinElo: 0},
}

// GetEloTier maps a rating onto the fixed ladder. Anything below 1200 is
// Novice, including out-of-range input.
func GetEloTier(rating int) models.EloTier {
	for _, tier := range eloTiers {
		if rating >= tier.MinElo {
			return tier
		}
	}
	return eloTiers[len(eloTiers)-1]
}

type RatingService interface {
	GetOrCreateStats(ctx context.Context, userID int, gameID string, mode models.RoomMode) (*models.MultiplayerStats, error)
	// UpdateStatsAfterMatch applies a ranked outcome to both players inside
	// one transaction. Non-ranked results are declined with (nil, nil, nil);
	// casual counters go through RecordCasualResult instead.
	UpdateStatsAfterMatch(ctx context.Context, result MatchResult) (*models.MultiplayerStats, *models.MultiplayerStats, error)
	// RecordCasualResult bumps win/loss/draw counters and streaks for
	// non-ranked matches without ever touching elo fields.
	RecordCasualResult(ctx context.Context, result MatchResult) error
	GetPlayerRank(ctx context.Context, userID int, gameID string, mode models.RoomMode) (*int, error)
	Leaderboard(ctx context.Context, gameID string, mode models.RoomMode, limit int) ([]*models.LeaderboardEntry, error)
}

type ratingService struct {
	db        *sql.DB
	statsRepo repositories.StatsRepository
	logger    *slog.Logger
}

func NewRatingService(db *sql.DB, statsRepo repositories.StatsRepository, logger *slog.Logger) RatingService {
	return &ratingService{
		db:        db,
		statsRepo: statsRepo,
		logger:    logger,
	}
}

func (s *ratingService) GetOrCreateStats(ctx context.Context, userID int, gameID string, mode models.RoomMode) (*models.MultiplayerStats, error) {
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}
	stats, err := s.statsRepo.GetOrCreate(ctx, userID, gameID, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats for user %d: %w", userID, err)
	}
	return stats, nil
}

func (s *ratingService) UpdateStatsAfterMatch(ctx context.Context, result MatchResult) (*models.MultiplayerStats, *models.MultiplayerStats, error) {
	if !result.Mode.Ranked() {
		return nil, nil, nil
	}

	winner, err := s.GetOrCreateStats(ctx, result.WinnerID, result.GameID, result.Mode)
	if err != nil {
		return nil, nil, err
	}
	loser, err := s.GetOrCreateStats(ctx, result.LoserID, result.GameID, result.Mode)
	if err != nil {
		return nil, nil, err
	}

	if result.IsDraw {
		winnerChange, loserChange := CalculateDrawEloChange(winner.EloRating, loser.EloRating, winner.TotalGames, loser.TotalGames)
		applyDraw(winner, winnerChange)
		applyDraw(loser, loserChange)
	} else {
		gain, loss := CalculateEloChange(winner.EloRating, loser.EloRating, winner.TotalGames, loser.TotalGames)
		applyWin(winner, gain)
		applyLoss(loser, loss)
	}

	if err := s.persistPair(ctx, winner, loser); err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "ratings updated",
		slog.String("game_id", result.GameID),
		slog.Int("winner_id", result.WinnerID),
		slog.Int("winner_elo", winner.EloRating),
		slog.Int("loser_id", result.LoserID),
		slog.Int("loser_elo", loser.EloRating),
		slog.Bool("draw", result.IsDraw),
	)
	return winner, loser, nil
}

func (s *ratingService) RecordCasualResult(ctx context.Context, result MatchResult) error {
	if result.Mode.Ranked() {
		return ErrNotRankedMatch
	}

	winner, err := s.GetOrCreateStats(ctx, result.WinnerID, result.GameID, result.Mode)
	if err != nil {
		return err
	}
	loser, err := s.GetOrCreateStats(ctx, result.LoserID, result.GameID, result.Mode)
	if err != nil {
		return err
	}

	if result.IsDraw {
		applyDraw(winner, 0)
		applyDraw(loser, 0)
	} else {
		applyWin(winner, 0)
		applyLoss(loser, 0)
	}
	return s.persistPair(ctx, winner, loser)
}

// persistPair writes both stats rows in one transaction so a crash between
// the two updates cannot leave only half the match applied.
func (s *ratingService) persistPair(ctx context.Context, a, b *models.MultiplayerStats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin stats transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.statsRepo.Update(ctx, tx, a); err != nil {
		return err
	}
	if err := s.statsRepo.Update(ctx, tx, b); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stats transaction: %w", err)
	}
	return nil
}

func (s *ratingService) GetPlayerRank(ctx context.Context, userID int, gameID string, mode models.RoomMode) (*int, error) {
	stats, err := s.statsRepo.Get(ctx, userID, gameID, mode)
	if err != nil {
		if errors.Is(err, repositories.ErrStatsNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load stats for rank query: %w", err)
	}

	higher, err := s.statsRepo.CountHigherRated(ctx, gameID, mode, stats.EloRating)
	if err != nil {
		return nil, fmt.Errorf("failed to compute rank for user %d: %w", userID, err)
	}
	// Equal ratings share a rank number; this is deliberately not dense
	// ranking.
	rank := higher + 1
	return &rank, nil
}

func (s *ratingService) Leaderboard(ctx context.Context, gameID string, mode models.RoomMode, limit int) ([]*models.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	rows, err := s.statsRepo.Leaderboard(ctx, gameID, mode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}

	entries := make([]*models.LeaderboardEntry, 0, len(rows))
	rank := 0
	prevRating := 0
	for i, row := range rows {
		if i == 0 || row.EloRating != prevRating {
			rank = i + 1
		}
		prevRating = row.EloRating
		entries = append(entries, &models.LeaderboardEntry{
			Rank:      rank,
			UserID:    row.UserID,
			EloRating: row.EloRating,
			Wins:      row.Wins,
			Losses:    row.Losses,
			Draws:     row.Draws,
		})
	}
	return entries, nil
}

func applyWin(stats *models.MultiplayerStats, eloGain int) {
	stats.Wins++
	stats.TotalGames++
	stats.WinStreak++
	stats.LossStreak = 0
	if stats.WinStreak > stats.BestWinStreak {
		stats.BestWinStreak = stats.WinStreak
	}
	applyEloDelta(stats, eloGain)
}

func applyLoss(stats *models.MultiplayerStats, eloLoss int) {
	stats.Losses++
	stats.TotalGames++
	stats.LossStreak++
	stats.WinStreak = 0
	if stats.LossStreak > stats.WorstLossStreak {
		stats.WorstLossStreak = stats.LossStreak
	}
	applyEloDelta(stats, -eloLoss)
}

func applyDraw(stats *models.MultiplayerStats, eloChange int) {
	stats.Draws++
	stats.TotalGames++
	stats.WinStreak = 0
	stats.LossStreak = 0
	applyEloDelta(stats, eloChange)
}

func applyEloDelta(stats *models.MultiplayerStats, delta int) {
	if delta == 0 {
		return
	}
	stats.EloRating = clampElo(stats.EloRating + delta)
	if stats.EloRating > stats.HighestElo {
		stats.HighestElo = stats.EloRating
	}
	if stats.EloRating < stats.LowestElo {
		stats.LowestElo = stats.EloRating
	}
}
