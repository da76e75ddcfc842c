package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playhive/session-engine/models"
	"github.com/playhive/session-engine/realtime"
	"github.com/playhive/session-engine/repositories"
	"github.com/playhive/session-engine/storage"
)

// RoomLifecycleService owns the room state machine:
// waiting -> playing -> finished | cancelled.
type RoomLifecycleService interface {
	// SetReady flips the caller's ready flag; when the room is full and every
	// occupant is ready it transitions waiting -> playing.
	SetReady(ctx context.Context, roomID, userID int, ready bool) (*models.Room, error)
	// UpdateGameState is last-write-wins: the blob is persisted as the
	// room's current state, appended to the immutable action log, and
	// broadcast at most once.
	UpdateGameState(ctx context.Context, roomID, userID int, state json.RawMessage) (*models.Action, error)
	// FinishRoom applies a terminal outcome. Finishing an already-finished
	// room is a no-op; rating changes are applied exactly once.
	FinishRoom(ctx context.Context, roomID, reporterID int, winnerID *int, isDraw bool) (*models.Room, error)
	// LeaveRoom marks the player disconnected (history is preserved). A
	// leave before the room fills cancels it; a leave mid-game is a
	// surrender in favor of the remaining player.
	LeaveRoom(ctx context.Context, roomID, userID int) error
	GetActions(ctx context.Context, roomID int) ([]*models.Action, error)
	// CancelStaleRooms is the operator sweep for waiting rooms nobody ever
	// filled.
	CancelStaleRooms(ctx context.Context, olderThan time.Duration) (int64, error)
}

type roomLifecycleService struct {
	db         *sql.DB
	roomRepo   repositories.RoomRepository
	playerRepo repositories.RoomPlayerRepository
	actionRepo repositories.ActionRepository
	rating     RatingService
	hub        Broadcaster
	archiver   storage.FileUploader // nil disables replay archiving
	logger     *slog.Logger
}

func NewRoomLifecycleService(
	db *sql.DB,
	roomRepo repositories.RoomRepository,
	playerRepo repositories.RoomPlayerRepository,
	actionRepo repositories.ActionRepository,
	rating RatingService,
	hub Broadcaster,
	archiver storage.FileUploader,
	logger *slog.Logger,
) RoomLifecycleService {
	return &roomLifecycleService{
		db:         db,
		roomRepo:   roomRepo,
		playerRepo: playerRepo,
		actionRepo: actionRepo,
		rating:     rating,
		hub:        hub,
		archiver:   archiver,
		logger:     logger,
	}
}

func (s *roomLifecycleService) SetReady(ctx context.Context, roomID, userID int, ready bool) (*models.Room, error) {
	room, err := s.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomStatusWaiting {
		return nil, ErrRoomNotWaiting
	}

	if err := s.playerRepo.SetReady(ctx, roomID, userID, ready); err != nil {
		if errors.Is(err, repositories.ErrRoomPlayerNotFound) {
			return nil, ErrPlayerNotInRoom
		}
		return nil, err
	}

	if ready && room.Full() {
		players, err := s.playerRepo.ListByRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if allReady(players) {
			started, err := s.roomRepo.Start(ctx, roomID, time.Now().UTC())
			if err != nil {
				return nil, err
			}
			if started {
				s.logger.InfoContext(ctx, "room started", slog.Int("room_id", roomID))
				s.broadcast(roomID, realtime.EventRoomStarted, map[string]int{"room_id": roomID})
			}
		}
	}

	room, err = s.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.broadcast(roomID, realtime.EventRoomUpdated, room)
	return room, nil
}

func allReady(players []*models.RoomPlayer) bool {
	for _, p := range players {
		if p.Disconnected {
			continue
		}
		if !p.Ready {
			return false
		}
	}
	return len(players) > 0
}

func (s *roomLifecycleService) UpdateGameState(ctx context.Context, roomID, userID int, state json.RawMessage) (*models.Action, error) {
	room, err := s.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomStatusPlaying {
		return nil, ErrRoomNotPlaying
	}
	if err := s.requireParticipant(ctx, roomID, userID); err != nil {
		return nil, err
	}
	// The payload stays opaque beyond the envelope, but a blob the clients
	// cannot re-parse has no business in the log.
	if _, err := models.DecodeGameState(state); err != nil {
		return nil, ErrInvalidGameState
	}

	action := &models.Action{RoomID: roomID, UserID: userID, Payload: state}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin game state transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.roomRepo.UpdateGameState(ctx, tx, roomID, state); err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			return nil, ErrRoomNotPlaying
		}
		return nil, err
	}
	if err := s.actionRepo.Append(ctx, tx, action); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit game state transaction: %w", err)
	}

	s.broadcast(roomID, realtime.EventGameState, action)
	return action, nil
}

func (s *roomLifecycleService) FinishRoom(ctx context.Context, roomID, reporterID int, winnerID *int, isDraw bool) (*models.Room, error) {
	room, err := s.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	// Outcome content is trusted, reporter identity is not: only a seated
	// player may finish the room.
	if err := s.requireParticipant(ctx, roomID, reporterID); err != nil {
		return nil, err
	}
	if room.Status == models.RoomStatusFinished {
		return room, nil
	}
	if room.Status != models.RoomStatusPlaying {
		return nil, ErrRoomNotPlaying
	}
	// A competitive room cannot end with neither a winner nor a draw; letting
	// that through would finish with a NULL winner while the stats path still
	// scores somebody a win.
	if room.Mode != models.ModeCollaborative && !isDraw && winnerID == nil {
		return nil, ErrWinnerRequired
	}

	players, err := s.playerRepo.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !isDraw && winnerID != nil && findPlayer(players, *winnerID) == nil {
		return nil, ErrWinnerNotInRoom
	}

	return s.finish(ctx, room, players, winnerID, isDraw)
}

// finish performs the conditional playing -> finished transition and, when it
// wins the transition, applies exactly one round of stats updates.
func (s *roomLifecycleService) finish(ctx context.Context, room *models.Room, players []*models.RoomPlayer, winnerID *int, isDraw bool) (*models.Room, error) {
	applied, err := s.roomRepo.Finish(ctx, s.db, room.ID, winnerID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !applied {
		// Someone else finished (or cancelled) the room first; report what
		// stands without reapplying anything.
		fresh, err := s.getRoom(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		if fresh.Status == models.RoomStatusFinished {
			return fresh, nil
		}
		return nil, ErrRoomNotPlaying
	}

	if err := s.applyStats(ctx, room, players, winnerID, isDraw); err != nil {
		// The room is finished; a failed stats write leaves them out of sync
		// with match history and has to reach the caller.
		return nil, fmt.Errorf("room %d finished but stats update failed: %w", room.ID, err)
	}

	fresh, err := s.getRoom(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "room finished",
		slog.Int("room_id", room.ID),
		slog.Any("winner_id", winnerID),
		slog.Bool("draw", isDraw),
	)
	s.broadcast(room.ID, realtime.EventRoomFinished, fresh)
	s.archiveReplay(ctx, fresh)
	return fresh, nil
}

func (s *roomLifecycleService) applyStats(ctx context.Context, room *models.Room, players []*models.RoomPlayer, winnerID *int, isDraw bool) error {
	// Collaborative rooms are non-competitive; nothing to count.
	if room.Mode == models.ModeCollaborative {
		return nil
	}

	first, second, ok := outcomePair(players, winnerID, isDraw)
	if !ok {
		return nil
	}

	result := MatchResult{
		GameID:   room.GameID,
		Mode:     room.Mode,
		WinnerID: first,
		LoserID:  second,
		IsDraw:   isDraw,
	}
	if room.Mode.Ranked() {
		_, _, err := s.rating.UpdateStatsAfterMatch(ctx, result)
		return err
	}
	return s.rating.RecordCasualResult(ctx, result)
}

// outcomePair orders the two 1v1 participants as (winner, loser); for draws
// the order is irrelevant.
func outcomePair(players []*models.RoomPlayer, winnerID *int, isDraw bool) (int, int, bool) {
	ids := make([]int, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.UserID)
	}
	if len(ids) != 2 {
		return 0, 0, false
	}
	if isDraw || winnerID == nil {
		return ids[0], ids[1], true
	}
	if *winnerID == ids[0] {
		return ids[0], ids[1], true
	}
	return ids[1], ids[0], true
}

func (s *roomLifecycleService) LeaveRoom(ctx context.Context, roomID, userID int) error {
	room, err := s.getRoom(ctx, roomID)
	if err != nil {
		return err
	}
	player, err := s.playerRepo.Get(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomPlayerNotFound) {
			return ErrPlayerNotInRoom
		}
		return err
	}
	if player.Disconnected {
		return nil
	}

	if err := s.playerRepo.SetDisconnected(ctx, roomID, userID, time.Now().UTC()); err != nil && !errors.Is(err, repositories.ErrRoomPlayerNotFound) {
		return err
	}

	switch room.Status {
	case models.RoomStatusWaiting:
		cancelled, err := s.roomRepo.Cancel(ctx, roomID)
		if err != nil {
			return err
		}
		if cancelled {
			s.logger.InfoContext(ctx, "room cancelled", slog.Int("room_id", roomID), slog.Int("user_id", userID))
			s.broadcast(roomID, realtime.EventRoomCancelled, map[string]int{"room_id": roomID})
		}
		return nil

	case models.RoomStatusPlaying:
		// Surrender: the remaining player takes the win.
		players, err := s.playerRepo.ListByRoom(ctx, roomID)
		if err != nil {
			return err
		}
		var winnerID *int
		for _, p := range players {
			if p.UserID != userID && !p.Disconnected {
				id := p.UserID
				winnerID = &id
				break
			}
		}
		_, err = s.finish(ctx, room, players, winnerID, winnerID == nil)
		return err
	}
	return nil
}

func (s *roomLifecycleService) GetActions(ctx context.Context, roomID int) ([]*models.Action, error) {
	if _, err := s.getRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return s.actionRepo.ListByRoom(ctx, roomID)
}

func (s *roomLifecycleService) CancelStaleRooms(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	cancelled, err := s.roomRepo.CancelStaleWaiting(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if cancelled > 0 {
		s.logger.InfoContext(ctx, "stale waiting rooms cancelled", slog.Int64("count", cancelled))
	}
	return cancelled, nil
}

// archiveReplay uploads the finished room's action log for later replay.
// Best effort: the log already lives in the database.
func (s *roomLifecycleService) archiveReplay(ctx context.Context, room *models.Room) {
	if s.archiver == nil {
		return
	}
	actions, err := s.actionRepo.ListByRoom(ctx, room.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "replay archive skipped", slog.Int("room_id", room.ID), slog.Any("error", err))
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"room":    room,
		"actions": actions,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "replay archive skipped", slog.Int("room_id", room.ID), slog.Any("error", err))
		return
	}

	key := fmt.Sprintf("replays/%s/room_%d.json", room.GameID, room.ID)
	if _, err := s.archiver.Upload(ctx, key, "application/json", bytes.NewReader(payload)); err != nil {
		s.logger.WarnContext(ctx, "replay archive failed", slog.Int("room_id", room.ID), slog.Any("error", err))
		return
	}
	s.logger.InfoContext(ctx, "replay archived", slog.Int("room_id", room.ID), slog.String("key", key))
}

func (s *roomLifecycleService) getRoom(ctx context.Context, roomID int) (*models.Room, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

func (s *roomLifecycleService) requireParticipant(ctx context.Context, roomID, userID int) error {
	player, err := s.playerRepo.Get(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomPlayerNotFound) {
			return ErrPlayerNotInRoom
		}
		return err
	}
	if player.Disconnected {
		return ErrPlayerNotInRoom
	}
	return nil
}

func (s *roomLifecycleService) broadcast(roomID int, event string, payload interface{}) {
	s.hub.BroadcastToChannel(realtime.RoomChannel(roomID), realtime.Message{
		Type:    event,
		Channel: realtime.RoomChannel(roomID),
		Payload: payload,
	})
}

func findPlayer(players []*models.RoomPlayer, userID int) *models.RoomPlayer {
	for _, p := range players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}
