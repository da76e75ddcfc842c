package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/playhive/session-engine/models"
	"github.com/playhive/session-engine/realtime"
	"github.com/playhive/session-engine/repositories"
	"github.com/playhive/session-engine/storage"
)

// The services only use *sql.DB to bracket repository calls in transactions,
// and the fakes below ignore the executor entirely. This driver hands out
// connections whose transactions commit and roll back as no-ops so the
// transactional code paths run unchanged under test.
type noopDriver struct{}

func (noopDriver) Open(string) (driver.Conn, error) { return noopConn{}, nil }

type noopConn struct{}

func (noopConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("noop driver: prepare not supported") }
func (noopConn) Close() error                        { return nil }
func (noopConn) Begin() (driver.Tx, error)           { return noopTx{}, nil }

type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

var registerNoopDriver sync.Once

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	registerNoopDriver.Do(func() { sql.Register("nooptx", noopDriver{}) })
	db, err := sql.Open("nooptx", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeRoomRepo struct {
	mu         sync.Mutex
	nextID     int
	rooms      map[int]*models.Room
	creatorElo map[int]int // room ID -> creator's rating, for ranked candidate search
}

func newFakeRoomRepo() *fakeRoomRepo {
	return &fakeRoomRepo{
		rooms:      make(map[int]*models.Room),
		creatorElo: make(map[int]int),
	}
}

func (f *fakeRoomRepo) add(room *models.Room) *models.Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	room.ID = f.nextID
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	f.rooms[room.ID] = room
	return room
}

func (f *fakeRoomRepo) Create(ctx context.Context, exec repositories.SQLExecutor, room *models.Room) error {
	if room.RoomCode != nil {
		f.mu.Lock()
		for _, existing := range f.rooms {
			if existing.RoomCode != nil && *existing.RoomCode == *room.RoomCode &&
				existing.Status != models.RoomStatusFinished && existing.Status != models.RoomStatusCancelled {
				f.mu.Unlock()
				return repositories.ErrRoomCodeConflict
			}
		}
		f.mu.Unlock()
	}
	f.add(room)
	return nil
}

func (f *fakeRoomRepo) GetByID(ctx context.Context, id int) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return nil, repositories.ErrRoomNotFound
	}
	copied := *room
	return &copied, nil
}

func (f *fakeRoomRepo) GetByCode(ctx context.Context, code string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, room := range f.rooms {
		if room.RoomCode != nil && *room.RoomCode == code &&
			room.Status != models.RoomStatusFinished && room.Status != models.RoomStatusCancelled {
			copied := *room
			return &copied, nil
		}
	}
	return nil, repositories.ErrRoomNotFound
}

func (f *fakeRoomRepo) CodeInUse(ctx context.Context, code string) (bool, error) {
	_, err := f.GetByCode(ctx, code)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *fakeRoomRepo) waitingCandidates(gameID string, mode models.RoomMode, excludeUserID int) []*models.Room {
	var out []*models.Room
	for _, room := range f.rooms {
		if room.Status == models.RoomStatusWaiting && room.GameID == gameID && room.Mode == mode &&
			room.CreatedBy != excludeUserID && room.RoomCode == nil && room.CurrentPlayers < room.MaxPlayers {
			out = append(out, room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeRoomRepo) FindRankedCandidate(ctx context.Context, gameID string, mode models.RoomMode, excludeUserID, minElo, maxElo int) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, room := range f.waitingCandidates(gameID, mode, excludeUserID) {
		elo := f.creatorElo[room.ID]
		if elo >= minElo && elo <= maxElo {
			copied := *room
			return &copied, nil
		}
	}
	return nil, repositories.ErrRoomNotFound
}

func (f *fakeRoomRepo) FindCasualCandidate(ctx context.Context, gameID string, mode models.RoomMode, excludeUserID int) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	candidates := f.waitingCandidates(gameID, mode, excludeUserID)
	if len(candidates) == 0 {
		return nil, repositories.ErrRoomNotFound
	}
	copied := *candidates[0]
	return &copied, nil
}

func (f *fakeRoomRepo) ListActive(ctx context.Context, gameID string, mode *models.RoomMode, limit int) ([]*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Room
	for _, room := range f.rooms {
		if room.GameID != gameID {
			continue
		}
		if room.Status != models.RoomStatusWaiting && room.Status != models.RoomStatusPlaying {
			continue
		}
		if mode != nil && room.Mode != *mode {
			continue
		}
		copied := *room
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRoomRepo) ClaimSlot(ctx context.Context, exec repositories.SQLExecutor, roomID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok || room.Status != models.RoomStatusWaiting || room.CurrentPlayers >= room.MaxPlayers {
		return 0, repositories.ErrRoomSlotUnavailable
	}
	room.CurrentPlayers++
	return room.CurrentPlayers, nil
}

func (f *fakeRoomRepo) Start(ctx context.Context, roomID int, startedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok || room.Status != models.RoomStatusWaiting {
		return false, nil
	}
	room.Status = models.RoomStatusPlaying
	room.StartedAt = &startedAt
	return true, nil
}

func (f *fakeRoomRepo) Finish(ctx context.Context, exec repositories.SQLExecutor, roomID int, winnerID *int, finishedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok || room.Status != models.RoomStatusPlaying {
		return false, nil
	}
	room.Status = models.RoomStatusFinished
	room.WinnerID = winnerID
	room.FinishedAt = &finishedAt
	return true, nil
}

func (f *fakeRoomRepo) Cancel(ctx context.Context, roomID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok || room.Status != models.RoomStatusWaiting {
		return false, nil
	}
	room.Status = models.RoomStatusCancelled
	return true, nil
}

func (f *fakeRoomRepo) UpdateGameState(ctx context.Context, exec repositories.SQLExecutor, roomID int, state json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok || room.Status != models.RoomStatusPlaying {
		return repositories.ErrRoomNotFound
	}
	room.GameState = state
	return nil
}

func (f *fakeRoomRepo) CancelStaleWaiting(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, room := range f.rooms {
		if room.Status == models.RoomStatusWaiting && room.CreatedAt.Before(cutoff) {
			room.Status = models.RoomStatusCancelled
			count++
		}
	}
	return count, nil
}

type fakePlayerRepo struct {
	mu      sync.Mutex
	nextID  int
	players map[int][]*models.RoomPlayer
}

func newFakePlayerRepo() *fakePlayerRepo {
	return &fakePlayerRepo{players: make(map[int][]*models.RoomPlayer)}
}

func (f *fakePlayerRepo) Create(ctx context.Context, exec repositories.SQLExecutor, player *models.RoomPlayer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.players[player.RoomID] {
		if p.UserID == player.UserID {
			return repositories.ErrPlayerAlreadyInRoom
		}
		if p.PlayerNumber == player.PlayerNumber {
			return repositories.ErrPlayerSlotTaken
		}
	}
	f.nextID++
	player.ID = f.nextID
	player.JoinedAt = time.Now().UTC()
	f.players[player.RoomID] = append(f.players[player.RoomID], player)
	return nil
}

func (f *fakePlayerRepo) Get(ctx context.Context, roomID, userID int) (*models.RoomPlayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.players[roomID] {
		if p.UserID == userID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, repositories.ErrRoomPlayerNotFound
}

func (f *fakePlayerRepo) ListByRoom(ctx context.Context, roomID int) ([]*models.RoomPlayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.RoomPlayer, 0, len(f.players[roomID]))
	for _, p := range f.players[roomID] {
		copied := *p
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakePlayerRepo) SetReady(ctx context.Context, roomID, userID int, ready bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.players[roomID] {
		if p.UserID == userID {
			p.Ready = ready
			return nil
		}
	}
	return repositories.ErrRoomPlayerNotFound
}

func (f *fakePlayerRepo) SetDisconnected(ctx context.Context, roomID, userID int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.players[roomID] {
		if p.UserID == userID {
			p.Disconnected = true
			p.DisconnectedAt = &at
			return nil
		}
	}
	return repositories.ErrRoomPlayerNotFound
}

type fakeActionRepo struct {
	mu      sync.Mutex
	nextID  int
	actions map[int][]*models.Action
}

func newFakeActionRepo() *fakeActionRepo {
	return &fakeActionRepo{actions: make(map[int][]*models.Action)}
}

func (f *fakeActionRepo) Append(ctx context.Context, exec repositories.SQLExecutor, action *models.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	action.ID = f.nextID
	action.Sequence = len(f.actions[action.RoomID]) + 1
	action.CreatedAt = time.Now().UTC()
	f.actions[action.RoomID] = append(f.actions[action.RoomID], action)
	return nil
}

func (f *fakeActionRepo) ListByRoom(ctx context.Context, roomID int) ([]*models.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Action(nil), f.actions[roomID]...), nil
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []realtime.Message
}

func (f *fakeBroadcaster) BroadcastToChannel(channel string, message interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := message.(realtime.Message); ok {
		f.messages = append(f.messages, m)
	}
}

func (f *fakeBroadcaster) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m.Type)
	}
	return out
}

type ratingCall struct {
	result MatchResult
	ranked bool
}

type fakeRatingService struct {
	mu    sync.Mutex
	calls []ratingCall
}

func (f *fakeRatingService) GetOrCreateStats(ctx context.Context, userID int, gameID string, mode models.RoomMode) (*models.MultiplayerStats, error) {
	return &models.MultiplayerStats{UserID: userID, GameID: gameID, Mode: mode, EloRating: models.DefaultElo}, nil
}

func (f *fakeRatingService) UpdateStatsAfterMatch(ctx context.Context, result MatchResult) (*models.MultiplayerStats, *models.MultiplayerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ratingCall{result: result, ranked: true})
	return &models.MultiplayerStats{}, &models.MultiplayerStats{}, nil
}

func (f *fakeRatingService) RecordCasualResult(ctx context.Context, result MatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ratingCall{result: result, ranked: false})
	return nil
}

func (f *fakeRatingService) GetPlayerRank(ctx context.Context, userID int, gameID string, mode models.RoomMode) (*int, error) {
	return nil, nil
}

func (f *fakeRatingService) Leaderboard(ctx context.Context, gameID string, mode models.RoomMode, limit int) ([]*models.LeaderboardEntry, error) {
	return nil, nil
}

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeUploader) Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*storage.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return &storage.UploadResult{Key: key}, nil
}

func (f *fakeUploader) GetPublicURL(key string) string { return "https://replays.test/" + key }
