package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/playhive/session-engine/models"
)

var (
	ErrTournamentMatchNotFound = errors.New("tournament match not found")
	// ErrTournamentMatchDecided means a compare-and-swap completion matched no
	// row because the match already has a winner.
	ErrTournamentMatchDecided = errors.New("tournament match already decided")
)

const tournamentMatchColumns = `id, tournament_id, round, match_number, player1_id, player2_id,
	winner_id, room_id, status, created_at`

type TournamentMatchRepository interface {
	CreateBatch(ctx context.Context, exec SQLExecutor, matches []*models.TournamentMatch) error
	GetByID(ctx context.Context, id int) (*models.TournamentMatch, error)
	GetByPosition(ctx context.Context, tournamentID, round, matchNumber int) (*models.TournamentMatch, error)
	ListByTournament(ctx context.Context, tournamentID int, round *int) ([]*models.TournamentMatch, error)
	// SetPlayerSlot fills player1 or player2 of a pending match in place.
	SetPlayerSlot(ctx context.Context, exec SQLExecutor, matchID, slot, playerID int) error
	// Complete is conditional on the match not having a winner yet.
	Complete(ctx context.Context, exec SQLExecutor, matchID, winnerID int) error
	BindRoom(ctx context.Context, matchID, roomID int) error
}

type postgresTournamentMatchRepository struct {
	db *sql.DB
}

func NewPostgresTournamentMatchRepository(db *sql.DB) TournamentMatchRepository {
	return &postgresTournamentMatchRepository{db: db}
}

func (r *postgresTournamentMatchRepository) CreateBatch(ctx context.Context, exec SQLExecutor, matches []*models.TournamentMatch) error {
	query := `
		INSERT INTO tournament_matches
			(tournament_id, round, match_number, player1_id, player2_id, winner_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	for _, match := range matches {
		err := exec.QueryRowContext(ctx, query,
			match.TournamentID,
			match.Round,
			match.MatchNumber,
			match.Player1ID,
			match.Player2ID,
			match.WinnerID,
			match.Status,
		).Scan(&match.ID, &match.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert tournament match R%dM%d: %w", match.Round, match.MatchNumber, err)
		}
	}
	return nil
}

func (r *postgresTournamentMatchRepository) GetByID(ctx context.Context, id int) (*models.TournamentMatch, error) {
	query := `SELECT ` + tournamentMatchColumns + ` FROM tournament_matches WHERE id = $1`
	return r.scanMatch(r.db.QueryRowContext(ctx, query, id))
}

func (r *postgresTournamentMatchRepository) GetByPosition(ctx context.Context, tournamentID, round, matchNumber int) (*models.TournamentMatch, error) {
	query := `SELECT ` + tournamentMatchColumns + `
		FROM tournament_matches
		WHERE tournament_id = $1 AND round = $2 AND match_number = $3`
	return r.scanMatch(r.db.QueryRowContext(ctx, query, tournamentID, round, matchNumber))
}

func (r *postgresTournamentMatchRepository) ListByTournament(ctx context.Context, tournamentID int, round *int) ([]*models.TournamentMatch, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`SELECT ` + tournamentMatchColumns + `
		FROM tournament_matches
		WHERE tournament_id = $1`)

	args := []interface{}{tournamentID}
	if round != nil {
		queryBuilder.WriteString(" AND round = $")
		queryBuilder.WriteString(strconv.Itoa(len(args) + 1))
		args = append(args, *round)
	}
	queryBuilder.WriteString(" ORDER BY round ASC, match_number ASC")

	rows, err := r.db.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	matches := make([]*models.TournamentMatch, 0)
	for rows.Next() {
		var match models.TournamentMatch
		if scanErr := rows.Scan(
			&match.ID,
			&match.TournamentID,
			&match.Round,
			&match.MatchNumber,
			&match.Player1ID,
			&match.Player2ID,
			&match.WinnerID,
			&match.RoomID,
			&match.Status,
			&match.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan tournament match row: %w", scanErr)
		}
		matches = append(matches, &match)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during tournament match rows iteration: %w", err)
	}
	return matches, nil
}

func (r *postgresTournamentMatchRepository) SetPlayerSlot(ctx context.Context, exec SQLExecutor, matchID, slot, playerID int) error {
	column := "player1_id"
	if slot == 2 {
		column = "player2_id"
	}
	query := fmt.Sprintf(`UPDATE tournament_matches SET %s = $2 WHERE id = $1 AND winner_id IS NULL`, column)

	result, err := exec.ExecContext(ctx, query, matchID, playerID)
	if err != nil {
		return fmt.Errorf("failed to set player slot %d on match %d: %w", slot, matchID, err)
	}
	return checkAffectedRows(result, ErrTournamentMatchNotFound)
}

func (r *postgresTournamentMatchRepository) Complete(ctx context.Context, exec SQLExecutor, matchID, winnerID int) error {
	query := `
		UPDATE tournament_matches
		SET winner_id = $2, status = 'completed'
		WHERE id = $1 AND winner_id IS NULL`

	result, err := exec.ExecContext(ctx, query, matchID, winnerID)
	if err != nil {
		return fmt.Errorf("failed to complete tournament match %d: %w", matchID, err)
	}
	return checkAffectedRows(result, ErrTournamentMatchDecided)
}

func (r *postgresTournamentMatchRepository) BindRoom(ctx context.Context, matchID, roomID int) error {
	query := `UPDATE tournament_matches SET room_id = $2, status = 'playing' WHERE id = $1 AND winner_id IS NULL`
	result, err := r.db.ExecContext(ctx, query, matchID, roomID)
	if err != nil {
		return fmt.Errorf("failed to bind room %d to match %d: %w", roomID, matchID, err)
	}
	return checkAffectedRows(result, ErrTournamentMatchNotFound)
}

func (r *postgresTournamentMatchRepository) scanMatch(row *sql.Row) (*models.TournamentMatch, error) {
	match := &models.TournamentMatch{}
	err := row.Scan(
		&match.ID,
		&match.TournamentID,
		&match.Round,
		&match.MatchNumber,
		&match.Player1ID,
		&match.Player2ID,
		&match.WinnerID,
		&match.RoomID,
		&match.Status,
		&match.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan tournament match: %w", err)
	}
	return match, nil
}
