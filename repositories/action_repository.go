package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/playhive/session-engine/models"
)

type ActionRepository interface {
	// Append assigns the next per-room sequence number inside the insert so
	// the log preserves submission order even under concurrent writers.
	Append(ctx context.Context, exec SQLExecutor, action *models.Action) error
	ListByRoom(ctx context.Context, roomID int) ([]*models.Action, error)
}

type postgresActionRepository struct {
	db *sql.DB
}

func NewPostgresActionRepository(db *sql.DB) ActionRepository {
	return &postgresActionRepository{db: db}
}

func (r *postgresActionRepository) Append(ctx context.Context, exec SQLExecutor, action *models.Action) error {
	query := `
		INSERT INTO room_actions (room_id, user_id, sequence, payload)
		SELECT $1, $2, COALESCE(MAX(sequence), 0) + 1, $3
		FROM room_actions WHERE room_id = $1
		RETURNING id, sequence, created_at`

	err := exec.QueryRowContext(ctx, query,
		action.RoomID,
		action.UserID,
		action.Payload,
	).Scan(&action.ID, &action.Sequence, &action.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append action for room %d: %w", action.RoomID, err)
	}
	return nil
}

func (r *postgresActionRepository) ListByRoom(ctx context.Context, roomID int) ([]*models.Action, error) {
	query := `
		SELECT id, room_id, user_id, sequence, payload, created_at
		FROM room_actions
		WHERE room_id = $1
		ORDER BY sequence ASC`

	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions for room %d: %w", roomID, err)
	}
	defer rows.Close()

	actions := make([]*models.Action, 0)
	for rows.Next() {
		var action models.Action
		if scanErr := rows.Scan(
			&action.ID,
			&action.RoomID,
			&action.UserID,
			&action.Sequence,
			&action.Payload,
			&action.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", scanErr)
		}
		actions = append(actions, &action)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during action rows iteration: %w", err)
	}
	return actions, nil
}
