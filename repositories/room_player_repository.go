package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/playhive/session-engine/models"
)

var (
	ErrRoomPlayerNotFound = errors.New("room player not found")
	// ErrPlayerSlotTaken surfaces the unique (room_id, player_number)
	// constraint: two racing joins cannot both claim the same slot.
	ErrPlayerSlotTaken     = errors.New("player slot already taken")
	ErrPlayerAlreadyInRoom = errors.New("user already joined this room")
)

const roomPlayerColumns = `id, room_id, user_id, player_number, ready, disconnected, disconnected_at, joined_at`

type RoomPlayerRepository interface {
	Create(ctx context.Context, exec SQLExecutor, player *models.RoomPlayer) error
	Get(ctx context.Context, roomID, userID int) (*models.RoomPlayer, error)
	ListByRoom(ctx context.Context, roomID int) ([]*models.RoomPlayer, error)
	SetReady(ctx context.Context, roomID, userID int, ready bool) error
	SetDisconnected(ctx context.Context, roomID, userID int, at time.Time) error
}

type postgresRoomPlayerRepository struct {
	db *sql.DB
}

func NewPostgresRoomPlayerRepository(db *sql.DB) RoomPlayerRepository {
	return &postgresRoomPlayerRepository{db: db}
}

func (r *postgresRoomPlayerRepository) Create(ctx context.Context, exec SQLExecutor, player *models.RoomPlayer) error {
	query := `
		INSERT INTO room_players (room_id, user_id, player_number)
		VALUES ($1, $2, $3)
		RETURNING id, ready, disconnected, joined_at`

	err := exec.QueryRowContext(ctx, query,
		player.RoomID,
		player.UserID,
		player.PlayerNumber,
	).Scan(&player.ID, &player.Ready, &player.Disconnected, &player.JoinedAt)

	return r.handleRoomPlayerError(err)
}

func (r *postgresRoomPlayerRepository) Get(ctx context.Context, roomID, userID int) (*models.RoomPlayer, error) {
	query := `SELECT ` + roomPlayerColumns + ` FROM room_players WHERE room_id = $1 AND user_id = $2`

	player := &models.RoomPlayer{}
	err := r.db.QueryRowContext(ctx, query, roomID, userID).Scan(
		&player.ID,
		&player.RoomID,
		&player.UserID,
		&player.PlayerNumber,
		&player.Ready,
		&player.Disconnected,
		&player.DisconnectedAt,
		&player.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomPlayerNotFound
		}
		return nil, fmt.Errorf("failed to scan room player (room %d, user %d): %w", roomID, userID, err)
	}
	return player, nil
}

func (r *postgresRoomPlayerRepository) ListByRoom(ctx context.Context, roomID int) ([]*models.RoomPlayer, error) {
	query := `SELECT ` + roomPlayerColumns + ` FROM room_players WHERE room_id = $1 ORDER BY player_number ASC`

	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query players for room %d: %w", roomID, err)
	}
	defer rows.Close()

	players := make([]*models.RoomPlayer, 0)
	for rows.Next() {
		var player models.RoomPlayer
		if scanErr := rows.Scan(
			&player.ID,
			&player.RoomID,
			&player.UserID,
			&player.PlayerNumber,
			&player.Ready,
			&player.Disconnected,
			&player.DisconnectedAt,
			&player.JoinedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan room player row: %w", scanErr)
		}
		players = append(players, &player)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during room player rows iteration: %w", err)
	}
	return players, nil
}

func (r *postgresRoomPlayerRepository) SetReady(ctx context.Context, roomID, userID int, ready bool) error {
	query := `UPDATE room_players SET ready = $3 WHERE room_id = $1 AND user_id = $2 AND disconnected = FALSE`
	result, err := r.db.ExecContext(ctx, query, roomID, userID, ready)
	if err != nil {
		return fmt.Errorf("failed to set ready for user %d in room %d: %w", userID, roomID, err)
	}
	return checkAffectedRows(result, ErrRoomPlayerNotFound)
}

func (r *postgresRoomPlayerRepository) SetDisconnected(ctx context.Context, roomID, userID int, at time.Time) error {
	query := `
		UPDATE room_players
		SET disconnected = TRUE, disconnected_at = $3
		WHERE room_id = $1 AND user_id = $2 AND disconnected = FALSE`
	result, err := r.db.ExecContext(ctx, query, roomID, userID, at)
	if err != nil {
		return fmt.Errorf("failed to mark user %d disconnected in room %d: %w", userID, roomID, err)
	}
	return checkAffectedRows(result, ErrRoomPlayerNotFound)
}

func (r *postgresRoomPlayerRepository) handleRoomPlayerError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case "room_players_room_id_player_number_key":
			return ErrPlayerSlotTaken
		case "room_players_room_id_user_id_key":
			return ErrPlayerAlreadyInRoom
		}
	}
	return fmt.Errorf("failed to insert room player: %w", err)
}
