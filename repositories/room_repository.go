package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/playhive/session-engine/models"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomCodeConflict = errors.New("room code already in use")
	// ErrRoomSlotUnavailable means the conditional occupancy update matched no
	// row: the room is gone, full, or no longer waiting. The caller re-reads
	// the room to tell those apart.
	ErrRoomSlotUnavailable = errors.New("room slot unavailable")
)

const roomColumns = `id, game_id, mode, status, max_players, current_players, room_code,
	created_by, winner_id, game_state, created_at, started_at, finished_at`

type RoomRepository interface {
	Create(ctx context.Context, exec SQLExecutor, room *models.Room) error
	GetByID(ctx context.Context, id int) (*models.Room, error)
	// GetByCode resolves a code against rooms that have not finished yet;
	// codes of finished or cancelled rooms are free for reuse.
	GetByCode(ctx context.Context, code string) (*models.Room, error)
	CodeInUse(ctx context.Context, code string) (bool, error)
	FindRankedCandidate(ctx context.Context, gameID string, mode models.RoomMode, excludeUserID, minElo, maxElo int) (*models.Room, error)
	FindCasualCandidate(ctx context.Context, gameID string, mode models.RoomMode, excludeUserID int) (*models.Room, error)
	ListActive(ctx context.Context, gameID string, mode *models.RoomMode, limit int) ([]*models.Room, error)
	// ClaimSlot atomically increments current_players while the room is still
	// waiting and below capacity, returning the occupancy after the claim.
	// Two racing joins cannot both succeed past capacity because the guard
	// and the increment are one statement.
	ClaimSlot(ctx context.Context, exec SQLExecutor, roomID int) (int, error)
	Start(ctx context.Context, roomID int, startedAt time.Time) (bool, error)
	Finish(ctx context.Context, exec SQLExecutor, roomID int, winnerID *int, finishedAt time.Time) (bool, error)
	Cancel(ctx context.Context, roomID int) (bool, error)
	UpdateGameState(ctx context.Context, exec SQLExecutor, roomID int, state json.RawMessage) error
	CancelStaleWaiting(ctx context.Context, cutoff time.Time) (int64, error)
}

type postgresRoomRepository struct {
	db *sql.DB
}

func NewPostgresRoomRepository(db *sql.DB) RoomRepository {
	return &postgresRoomRepository{db: db}
}

func (r *postgresRoomRepository) Create(ctx context.Context, exec SQLExecutor, room *models.Room) error {
	query := `
		INSERT INTO rooms
			(game_id, mode, status, max_players, current_players, room_code, created_by, game_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := exec.QueryRowContext(ctx, query,
		room.GameID,
		room.Mode,
		room.Status,
		room.MaxPlayers,
		room.CurrentPlayers,
		room.RoomCode,
		room.CreatedBy,
		room.GameState,
	).Scan(&room.ID, &room.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && strings.Contains(pqErr.Constraint, "room_code") {
			return ErrRoomCodeConflict
		}
		return fmt.Errorf("failed to insert room: %w", err)
	}
	return nil
}

func (r *postgresRoomRepository) GetByID(ctx context.Context, id int) (*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`
	return r.scanRoom(r.db.QueryRowContext(ctx, query, id))
}

func (r *postgresRoomRepository) GetByCode(ctx context.Context, code string) (*models.Room, error) {
	query := `SELECT ` + roomColumns + `
		FROM rooms
		WHERE room_code = $1 AND status NOT IN ('finished', 'cancelled')
		ORDER BY created_at DESC
		LIMIT 1`
	return r.scanRoom(r.db.QueryRowContext(ctx, query, code))
}

func (r *postgresRoomRepository) CodeInUse(ctx context.Context, code string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (
		SELECT 1 FROM rooms WHERE room_code = $1 AND status NOT IN ('finished', 'cancelled'))`
	if err := r.db.QueryRowContext(ctx, query, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check room code: %w", err)
	}
	return exists, nil
}

// FindRankedCandidate returns the oldest waiting public room for the game/mode
// whose current occupant's rating falls inside [minElo, maxElo], skipping
// rooms created by the searching user.
func (r *postgresRoomRepository) FindRankedCandidate(ctx context.Context, gameID string, mode models.RoomMode, excludeUserID, minElo, maxElo int) (*models.Room, error) {
	query := `
		SELECT ` + prefixColumns("r", roomColumns) + `
		FROM rooms r
		JOIN room_players rp ON rp.room_id = r.id AND rp.disconnected = FALSE
		JOIN multiplayer_stats s
			ON s.user_id = rp.user_id AND s.game_id = r.game_id AND s.mode = r.mode
		WHERE r.game_id = $1
		  AND r.mode = $2
		  AND r.status = 'waiting'
		  AND r.room_code IS NULL
		  AND r.current_players < r.max_players
		  AND r.created_by <> $3
		  AND s.elo_rating BETWEEN $4 AND $5
		ORDER BY r.created_at ASC
		LIMIT 1`
	return r.scanRoom(r.db.QueryRowContext(ctx, query, gameID, mode, excludeUserID, minElo, maxElo))
}

// FindCasualCandidate is plain FIFO: the oldest waiting public room with a
// free slot wins.
func (r *postgresRoomRepository) FindCasualCandidate(ctx context.Context, gameID string, mode models.RoomMode, excludeUserID int) (*models.Room, error) {
	query := `
		SELECT ` + roomColumns + `
		FROM rooms
		WHERE game_id = $1
		  AND mode = $2
		  AND status = 'waiting'
		  AND room_code IS NULL
		  AND current_players < max_players
		  AND created_by <> $3
		ORDER BY created_at ASC
		LIMIT 1`
	return r.scanRoom(r.db.QueryRowContext(ctx, query, gameID, mode, excludeUserID))
}

func (r *postgresRoomRepository) ListActive(ctx context.Context, gameID string, mode *models.RoomMode, limit int) ([]*models.Room, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`SELECT ` + roomColumns + `
		FROM rooms
		WHERE game_id = $1 AND status IN ('waiting', 'playing')`)

	args := []interface{}{gameID}
	if mode != nil {
		queryBuilder.WriteString(" AND mode = $2")
		args = append(args, *mode)
	}
	queryBuilder.WriteString(" ORDER BY created_at DESC LIMIT $")
	queryBuilder.WriteString(strconv.Itoa(len(args) + 1))
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rooms for game %s: %w", gameID, err)
	}
	defer rows.Close()

	rooms := make([]*models.Room, 0)
	for rows.Next() {
		room, scanErr := r.scanRoomFromRows(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rooms = append(rooms, room)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during room rows iteration: %w", err)
	}
	return rooms, nil
}

func (r *postgresRoomRepository) ClaimSlot(ctx context.Context, exec SQLExecutor, roomID int) (int, error) {
	query := `
		UPDATE rooms
		SET current_players = current_players + 1
		WHERE id = $1 AND status = 'waiting' AND current_players < max_players
		RETURNING current_players`

	var occupancy int
	err := exec.QueryRowContext(ctx, query, roomID).Scan(&occupancy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrRoomSlotUnavailable
		}
		return 0, fmt.Errorf("failed to claim slot in room %d: %w", roomID, err)
	}
	return occupancy, nil
}

func (r *postgresRoomRepository) Start(ctx context.Context, roomID int, startedAt time.Time) (bool, error) {
	query := `
		UPDATE rooms
		SET status = 'playing', started_at = $2
		WHERE id = $1 AND status = 'waiting'`

	result, err := r.db.ExecContext(ctx, query, roomID, startedAt)
	if err != nil {
		return false, fmt.Errorf("failed to start room %d: %w", roomID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return affected == 1, nil
}

// Finish reports whether the transition was applied. Zero rows affected means
// another caller finished (or cancelled) the room first; finishing twice must
// stay a no-op so rating changes are applied exactly once.
func (r *postgresRoomRepository) Finish(ctx context.Context, exec SQLExecutor, roomID int, winnerID *int, finishedAt time.Time) (bool, error) {
	query := `
		UPDATE rooms
		SET status = 'finished', winner_id = $2, finished_at = $3
		WHERE id = $1 AND status = 'playing'`

	result, err := exec.ExecContext(ctx, query, roomID, winnerID, finishedAt)
	if err != nil {
		return false, fmt.Errorf("failed to finish room %d: %w", roomID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return affected == 1, nil
}

func (r *postgresRoomRepository) Cancel(ctx context.Context, roomID int) (bool, error) {
	query := `
		UPDATE rooms
		SET status = 'cancelled', finished_at = NOW()
		WHERE id = $1 AND status = 'waiting'`

	result, err := r.db.ExecContext(ctx, query, roomID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel room %d: %w", roomID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return affected == 1, nil
}

func (r *postgresRoomRepository) UpdateGameState(ctx context.Context, exec SQLExecutor, roomID int, state json.RawMessage) error {
	query := `UPDATE rooms SET game_state = $2 WHERE id = $1 AND status = 'playing'`
	result, err := exec.ExecContext(ctx, query, roomID, state)
	if err != nil {
		return fmt.Errorf("failed to update game state for room %d: %w", roomID, err)
	}
	return checkAffectedRows(result, ErrRoomNotFound)
}

func (r *postgresRoomRepository) CancelStaleWaiting(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE rooms
		SET status = 'cancelled', finished_at = NOW()
		WHERE status = 'waiting' AND created_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel stale waiting rooms: %w", err)
	}
	return result.RowsAffected()
}

func (r *postgresRoomRepository) scanRoom(row *sql.Row) (*models.Room, error) {
	room := &models.Room{}
	err := row.Scan(
		&room.ID,
		&room.GameID,
		&room.Mode,
		&room.Status,
		&room.MaxPlayers,
		&room.CurrentPlayers,
		&room.RoomCode,
		&room.CreatedBy,
		&room.WinnerID,
		&room.GameState,
		&room.CreatedAt,
		&room.StartedAt,
		&room.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to scan room: %w", err)
	}
	return room, nil
}

func (r *postgresRoomRepository) scanRoomFromRows(rows *sql.Rows) (*models.Room, error) {
	room := &models.Room{}
	err := rows.Scan(
		&room.ID,
		&room.GameID,
		&room.Mode,
		&room.Status,
		&room.MaxPlayers,
		&room.CurrentPlayers,
		&room.RoomCode,
		&room.CreatedBy,
		&room.WinnerID,
		&room.GameState,
		&room.CreatedAt,
		&room.StartedAt,
		&room.FinishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan room row: %w", err)
	}
	return room, nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
