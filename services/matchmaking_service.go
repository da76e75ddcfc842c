package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/playhive/session-engine/models"
	"github.com/playhive/session-engine/realtime"
	"github.com/playhive/session-engine/repositories"
)

// No I, O, 0 or 1: codes get read aloud and typed on phones.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	roomCodeLength      = 6
	roomCodeMaxAttempts = 10

	eloToleranceStart = 100
	eloToleranceStep  = 50
	eloToleranceMax   = 500

	DefaultSearchTimeout = 30 * time.Second
)

// Broadcaster is the narrow slice of the realtime hub the services need.
// Delivery is at-most-once; nothing here is allowed to be the source of truth.
type Broadcaster interface {
	BroadcastToChannel(channel string, message interface{})
}

// GenerateRoomCode returns a 6-character code from the unambiguous alphabet.
// Uniqueness is enforced by the caller against currently-open rooms.
func GenerateRoomCode() string {
	b := make([]byte, roomCodeLength)
	for i := range b {
		b[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))]
	}
	return string(b)
}

type MatchmakingService interface {
	// FindMatch attaches the caller to an existing waiting room or creates a
	// fresh one. Ranked search widens its rating tolerance step by step;
	// casual search is FIFO. The whole search is bounded by the configured
	// timeout.
	FindMatch(ctx context.Context, userID int, gameID string, mode models.RoomMode) (*models.Room, error)
	CreateRoom(ctx context.Context, userID int, gameID string, mode models.RoomMode, private bool) (*models.Room, error)
	JoinRoom(ctx context.Context, roomID, userID int, playerNumber *int) (*models.RoomPlayer, error)
	JoinByCode(ctx context.Context, userID int, code string) (*models.Room, *models.RoomPlayer, error)
	GetActiveRooms(ctx context.Context, gameID string, mode *models.RoomMode, limit int) ([]*models.Room, error)
	GetRoomWithPlayers(ctx context.Context, roomID int) (*models.Room, []*models.RoomPlayer, error)
}

type matchmakingService struct {
	db            *sql.DB
	roomRepo      repositories.RoomRepository
	playerRepo    repositories.RoomPlayerRepository
	statsRepo     repositories.StatsRepository
	hub           Broadcaster
	logger        *slog.Logger
	searchTimeout time.Duration
}

func NewMatchmakingService(
	db *sql.DB,
	roomRepo repositories.RoomRepository,
	playerRepo repositories.RoomPlayerRepository,
	statsRepo repositories.StatsRepository,
	hub Broadcaster,
	logger *slog.Logger,
	searchTimeout time.Duration,
) MatchmakingService {
	if searchTimeout <= 0 {
		searchTimeout = DefaultSearchTimeout
	}
	return &matchmakingService{
		db:            db,
		roomRepo:      roomRepo,
		playerRepo:    playerRepo,
		statsRepo:     statsRepo,
		hub:           hub,
		logger:        logger,
		searchTimeout: searchTimeout,
	}
}

func (s *matchmakingService) FindMatch(ctx context.Context, userID int, gameID string, mode models.RoomMode) (*models.Room, error) {
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}

	ctx, cancel := context.WithTimeout(ctx, s.searchTimeout)
	defer cancel()

	var (
		room *models.Room
		err  error
	)
	if mode.Ranked() {
		room, err = s.findRankedMatch(ctx, userID, gameID, mode)
	} else {
		room, err = s.findCasualMatch(ctx, userID, gameID, mode)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrSearchTimeout
		}
		return nil, err
	}
	if room != nil {
		return room, nil
	}

	// Nothing joinable; the caller becomes the sole occupant of a new
	// waiting room.
	return s.CreateRoom(ctx, userID, gameID, mode, false)
}

// findRankedMatch widens the rating window from ±100 to ±500 in steps of 50.
// The first candidate inside the current band wins; the engine does not
// minimize rating distance across candidates within a band.
func (s *matchmakingService) findRankedMatch(ctx context.Context, userID int, gameID string, mode models.RoomMode) (*models.Room, error) {
	stats, err := s.statsRepo.GetOrCreate(ctx, userID, gameID, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rating for matchmaking: %w", err)
	}

	for tolerance := eloToleranceStart; tolerance <= eloToleranceMax; tolerance += eloToleranceStep {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidate, err := s.roomRepo.FindRankedCandidate(ctx, gameID, mode, userID,
			stats.EloRating-tolerance, stats.EloRating+tolerance)
		if errors.Is(err, repositories.ErrRoomNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ranked matchmaking search failed: %w", err)
		}

		if _, joinErr := s.join(ctx, candidate, userID, nil); joinErr != nil {
			// Lost the slot race or the room changed state underneath us;
			// widen and keep looking.
			s.logger.DebugContext(ctx, "ranked candidate rejected",
				slog.Int("room_id", candidate.ID), slog.Any("error", joinErr))
			continue
		}
		return s.roomRepo.GetByID(ctx, candidate.ID)
	}
	return nil, nil
}

func (s *matchmakingService) findCasualMatch(ctx context.Context, userID int, gameID string, mode models.RoomMode) (*models.Room, error) {
	candidate, err := s.roomRepo.FindCasualCandidate(ctx, gameID, mode, userID)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("casual matchmaking search failed: %w", err)
	}

	if _, joinErr := s.join(ctx, candidate, userID, nil); joinErr != nil {
		return nil, nil
	}
	return s.roomRepo.GetByID(ctx, candidate.ID)
}

func (s *matchmakingService) CreateRoom(ctx context.Context, userID int, gameID string, mode models.RoomMode, private bool) (*models.Room, error) {
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}

	maxPlayers := 2
	if mode == models.ModeCollaborative {
		maxPlayers = 4
	}

	room := &models.Room{
		GameID:         gameID,
		Mode:           mode,
		Status:         models.RoomStatusWaiting,
		MaxPlayers:     maxPlayers,
		CurrentPlayers: 1,
		CreatedBy:      userID,
	}

	attempts := 1
	if private {
		attempts = roomCodeMaxAttempts
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if private {
			code := GenerateRoomCode()
			inUse, err := s.roomRepo.CodeInUse(ctx, code)
			if err != nil {
				return nil, fmt.Errorf("failed to check room code: %w", err)
			}
			if inUse {
				continue
			}
			room.RoomCode = &code
		}

		err := s.createRoomWithCreator(ctx, room, userID)
		if errors.Is(err, repositories.ErrRoomCodeConflict) {
			// Re-roll: someone grabbed the code between the check and the
			// insert.
			room.RoomCode = nil
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.InfoContext(ctx, "room created",
			slog.Int("room_id", room.ID),
			slog.String("game_id", gameID),
			slog.String("mode", string(mode)),
			slog.Bool("private", private),
		)
		return room, nil
	}
	return nil, ErrRoomCodeExhausted
}

func (s *matchmakingService) createRoomWithCreator(ctx context.Context, room *models.Room, userID int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin room transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.roomRepo.Create(ctx, tx, room); err != nil {
		return err
	}
	player := &models.RoomPlayer{RoomID: room.ID, UserID: userID, PlayerNumber: 1}
	if err := s.playerRepo.Create(ctx, tx, player); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit room transaction: %w", err)
	}
	return nil
}

func (s *matchmakingService) JoinRoom(ctx context.Context, roomID, userID int, playerNumber *int) (*models.RoomPlayer, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return s.join(ctx, room, userID, playerNumber)
}

func (s *matchmakingService) JoinByCode(ctx context.Context, userID int, code string) (*models.Room, *models.RoomPlayer, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if len(normalized) != roomCodeLength {
		return nil, nil, ErrRoomCodeNotFound
	}

	room, err := s.roomRepo.GetByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			return nil, nil, ErrRoomCodeNotFound
		}
		return nil, nil, err
	}

	player, err := s.join(ctx, room, userID, nil)
	if err != nil {
		return nil, nil, err
	}

	room, err = s.roomRepo.GetByID(ctx, room.ID)
	if err != nil {
		return nil, nil, err
	}
	return room, player, nil
}

// join claims an occupancy slot and inserts the player row in one
// transaction. The CAS increment carries the capacity/status guard; the
// unique slot constraint catches two callers aiming at the same number.
func (s *matchmakingService) join(ctx context.Context, room *models.Room, userID int, playerNumber *int) (*models.RoomPlayer, error) {
	if room.Status != models.RoomStatusWaiting {
		return nil, ErrRoomNotWaiting
	}
	if room.Full() {
		return nil, ErrRoomFull
	}

	if existing, err := s.playerRepo.Get(ctx, room.ID, userID); err == nil && existing != nil && !existing.Disconnected {
		return nil, ErrAlreadyInRoom
	} else if err != nil && !errors.Is(err, repositories.ErrRoomPlayerNotFound) {
		return nil, err
	}

	if playerNumber != nil && (*playerNumber < 1 || *playerNumber > room.MaxPlayers) {
		return nil, ErrInvalidPlayerNumber
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin join transaction: %w", err)
	}
	defer tx.Rollback()

	occupancy, err := s.roomRepo.ClaimSlot(ctx, tx, room.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomSlotUnavailable) {
			return nil, s.classifySlotFailure(ctx, room.ID)
		}
		return nil, err
	}

	number := occupancy
	if playerNumber != nil {
		number = *playerNumber
	}

	player := &models.RoomPlayer{RoomID: room.ID, UserID: userID, PlayerNumber: number}
	if err := s.playerRepo.Create(ctx, tx, player); err != nil {
		switch {
		case errors.Is(err, repositories.ErrPlayerSlotTaken):
			return nil, ErrPlayerSlotTaken
		case errors.Is(err, repositories.ErrPlayerAlreadyInRoom):
			return nil, ErrAlreadyInRoom
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit join transaction: %w", err)
	}

	s.hub.BroadcastToChannel(realtime.RoomChannel(room.ID), realtime.Message{
		Type:    realtime.EventRoomUpdated,
		Channel: realtime.RoomChannel(room.ID),
		Payload: player,
	})
	return player, nil
}

// classifySlotFailure re-reads the room to turn a failed conditional update
// into the right caller-visible error.
func (s *matchmakingService) classifySlotFailure(ctx context.Context, roomID int) error {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		return err
	}
	if room.Status != models.RoomStatusWaiting {
		return ErrRoomNotWaiting
	}
	return ErrRoomFull
}

func (s *matchmakingService) GetActiveRooms(ctx context.Context, gameID string, mode *models.RoomMode, limit int) ([]*models.Room, error) {
	if mode != nil && !mode.Valid() {
		return nil, ErrInvalidMode
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.roomRepo.ListActive(ctx, gameID, mode, limit)
}

func (s *matchmakingService) GetRoomWithPlayers(ctx context.Context, roomID int) (*models.Room, []*models.RoomPlayer, error) {
	var (
		room    *models.Room
		players []*models.RoomPlayer
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.roomRepo.GetByID(gCtx, roomID)
		if err != nil {
			if errors.Is(err, repositories.ErrRoomNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		room = r
		return nil
	})
	g.Go(func() error {
		p, err := s.playerRepo.ListByRoom(gCtx, roomID)
		if err != nil {
			return err
		}
		players = p
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return room, players, nil
}
