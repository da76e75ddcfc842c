package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/playhive/session-engine/brackets"
	"github.com/playhive/session-engine/models"
	"github.com/playhive/session-engine/realtime"
	"github.com/playhive/session-engine/repositories"
)

type BracketService interface {
	// GenerateBracket builds and persists the full single-elimination match
	// set for a tournament in one transaction. Participants are user IDs in
	// seed order.
	GenerateBracket(ctx context.Context, tournamentID int, participants []int, maxPlayers int) ([]*models.TournamentMatch, error)
	GetBracket(ctx context.Context, tournamentID int) ([]*models.TournamentMatch, error)
	// AdvanceWinner completes a played match and pushes the winner into its
	// next-round slot. It is the external trigger the room lifecycle calls
	// when a tournament room finishes.
	AdvanceWinner(ctx context.Context, matchID, winnerID int) (*models.TournamentMatch, error)
	// BindRoom attaches the room a match is actually being played in.
	BindRoom(ctx context.Context, matchID, roomID int) error
}

type bracketService struct {
	db        *sql.DB
	matchRepo repositories.TournamentMatchRepository
	generator brackets.BracketGenerator
	hub       Broadcaster
	logger    *slog.Logger
}

func NewBracketService(
	db *sql.DB,
	matchRepo repositories.TournamentMatchRepository,
	generator brackets.BracketGenerator,
	hub Broadcaster,
	logger *slog.Logger,
) BracketService {
	return &bracketService{
		db:        db,
		matchRepo: matchRepo,
		generator: generator,
		hub:       hub,
		logger:    logger,
	}
}

func (s *bracketService) GenerateBracket(ctx context.Context, tournamentID int, participants []int, maxPlayers int) ([]*models.TournamentMatch, error) {
	matches, err := s.generator.GenerateBracket(ctx, brackets.GenerateBracketParams{
		TournamentID: tournamentID,
		Participants: participants,
		MaxPlayers:   maxPlayers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate bracket for tournament %d: %w", tournamentID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin bracket transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.matchRepo.CreateBatch(ctx, tx, matches); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bracket transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "bracket generated",
		slog.Int("tournament_id", tournamentID),
		slog.Int("participants", len(participants)),
		slog.Int("matches", len(matches)),
	)
	s.broadcast(tournamentID, matches)
	return matches, nil
}

func (s *bracketService) GetBracket(ctx context.Context, tournamentID int) ([]*models.TournamentMatch, error) {
	return s.matchRepo.ListByTournament(ctx, tournamentID, nil)
}

func (s *bracketService) AdvanceWinner(ctx context.Context, matchID, winnerID int) (*models.TournamentMatch, error) {
	match, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentMatchNotFound) {
			return nil, ErrTournamentMatchNotFound
		}
		return nil, err
	}
	if match.WinnerID != nil {
		return nil, ErrMatchDecided
	}
	if !matchHasPlayer(match, winnerID) {
		return nil, ErrWinnerNotInRoom
	}

	// Resolve the destination before the write; the final has none.
	slot := brackets.NextMatchSlot(match.Round, match.MatchNumber)
	next, err := s.matchRepo.GetByPosition(ctx, match.TournamentID, slot.Round, slot.MatchNumber)
	if err != nil && !errors.Is(err, repositories.ErrTournamentMatchNotFound) {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin advance transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.matchRepo.Complete(ctx, tx, matchID, winnerID); err != nil {
		if errors.Is(err, repositories.ErrTournamentMatchDecided) {
			return nil, ErrMatchDecided
		}
		return nil, err
	}
	if next != nil {
		if err := s.matchRepo.SetPlayerSlot(ctx, tx, next.ID, slot.Position, winnerID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit advance transaction: %w", err)
	}

	updated, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "tournament match advanced",
		slog.Int("tournament_id", match.TournamentID),
		slog.Int("match_id", matchID),
		slog.Int("winner_id", winnerID),
	)
	if bracket, listErr := s.matchRepo.ListByTournament(ctx, match.TournamentID, nil); listErr == nil {
		s.broadcast(match.TournamentID, bracket)
	}
	return updated, nil
}

func (s *bracketService) BindRoom(ctx context.Context, matchID, roomID int) error {
	err := s.matchRepo.BindRoom(ctx, matchID, roomID)
	if errors.Is(err, repositories.ErrTournamentMatchNotFound) {
		return ErrTournamentMatchNotFound
	}
	return err
}

func (s *bracketService) broadcast(tournamentID int, matches []*models.TournamentMatch) {
	s.hub.BroadcastToChannel(realtime.TournamentChannel(tournamentID), realtime.Message{
		Type:    realtime.EventBracketUpdated,
		Channel: realtime.TournamentChannel(tournamentID),
		Payload: matches,
	})
}

func matchHasPlayer(match *models.TournamentMatch, userID int) bool {
	return (match.Player1ID != nil && *match.Player1ID == userID) ||
		(match.Player2ID != nil && *match.Player2ID == userID)
}
