package services

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playhive/session-engine/brackets"
	"github.com/playhive/session-engine/models"
	"github.com/playhive/session-engine/realtime"
	"github.com/playhive/session-engine/repositories"
)

type fakeMatchRepo struct {
	mu      sync.Mutex
	nextID  int
	matches map[int]*models.TournamentMatch
}

func newFakeMatchRepo() *fakeMatchRepo {
	return &fakeMatchRepo{matches: make(map[int]*models.TournamentMatch)}
}

func (f *fakeMatchRepo) CreateBatch(ctx context.Context, exec repositories.SQLExecutor, matches []*models.TournamentMatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range matches {
		f.nextID++
		m.ID = f.nextID
		f.matches[m.ID] = m
	}
	return nil
}

func (f *fakeMatchRepo) GetByID(ctx context.Context, id int) (*models.TournamentMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[id]
	if !ok {
		return nil, repositories.ErrTournamentMatchNotFound
	}
	copied := *m
	return &copied, nil
}

func (f *fakeMatchRepo) GetByPosition(ctx context.Context, tournamentID, round, matchNumber int) (*models.TournamentMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.matches {
		if m.TournamentID == tournamentID && m.Round == round && m.MatchNumber == matchNumber {
			copied := *m
			return &copied, nil
		}
	}
	return nil, repositories.ErrTournamentMatchNotFound
}

func (f *fakeMatchRepo) ListByTournament(ctx context.Context, tournamentID int, round *int) ([]*models.TournamentMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.TournamentMatch
	for _, m := range f.matches {
		if m.TournamentID != tournamentID {
			continue
		}
		if round != nil && m.Round != *round {
			continue
		}
		copied := *m
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].MatchNumber < out[j].MatchNumber
	})
	return out, nil
}

func (f *fakeMatchRepo) SetPlayerSlot(ctx context.Context, exec repositories.SQLExecutor, matchID, slot, playerID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[matchID]
	if !ok {
		return repositories.ErrTournamentMatchNotFound
	}
	id := playerID
	if slot == 1 {
		m.Player1ID = &id
	} else {
		m.Player2ID = &id
	}
	return nil
}

func (f *fakeMatchRepo) Complete(ctx context.Context, exec repositories.SQLExecutor, matchID, winnerID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[matchID]
	if !ok {
		return repositories.ErrTournamentMatchNotFound
	}
	if m.WinnerID != nil {
		return repositories.ErrTournamentMatchDecided
	}
	id := winnerID
	m.WinnerID = &id
	m.Status = models.MatchStatusCompleted
	return nil
}

func (f *fakeMatchRepo) BindRoom(ctx context.Context, matchID, roomID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[matchID]
	if !ok {
		return repositories.ErrTournamentMatchNotFound
	}
	id := roomID
	m.RoomID = &id
	return nil
}

type bracketFixture struct {
	svc       BracketService
	matchRepo *fakeMatchRepo
	hub       *fakeBroadcaster
}

func newBracketFixture(t *testing.T) *bracketFixture {
	t.Helper()
	f := &bracketFixture{
		matchRepo: newFakeMatchRepo(),
		hub:       &fakeBroadcaster{},
	}
	f.svc = NewBracketService(newTestDB(t), f.matchRepo, brackets.NewSingleEliminationGenerator(), f.hub, testLogger())
	return f
}

func TestGenerateBracketPersistsAndBroadcasts(t *testing.T) {
	f := newBracketFixture(t)

	matches, err := f.svc.GenerateBracket(context.Background(), 1, []int{101, 102, 103}, 4)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for _, m := range matches {
		assert.NotZero(t, m.ID)
	}

	stored, err := f.svc.GetBracket(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	assert.Contains(t, f.hub.eventTypes(), realtime.EventBracketUpdated)
}

func TestGenerateBracketRejectsInvalidField(t *testing.T) {
	f := newBracketFixture(t)

	_, err := f.svc.GenerateBracket(context.Background(), 1, []int{101}, 4)
	assert.ErrorIs(t, err, brackets.ErrNotEnoughParticipants)

	_, err = f.svc.GenerateBracket(context.Background(), 1, []int{101, 102, 103}, 6)
	assert.ErrorIs(t, err, brackets.ErrBracketSizeInvalid)
}

func TestAdvanceWinnerFillsNextRound(t *testing.T) {
	f := newBracketFixture(t)
	matches, err := f.svc.GenerateBracket(context.Background(), 1, []int{101, 102, 103, 104}, 4)
	require.NoError(t, err)

	// Round one, match one: seed 101 vs seed 104.
	first := matches[0]
	advanced, err := f.svc.AdvanceWinner(context.Background(), first.ID, 104)
	require.NoError(t, err)
	require.NotNil(t, advanced.WinnerID)
	assert.Equal(t, 104, *advanced.WinnerID)
	assert.Equal(t, models.MatchStatusCompleted, advanced.Status)

	final, err := f.matchRepo.GetByPosition(context.Background(), 1, 2, 1)
	require.NoError(t, err)
	require.NotNil(t, final.Player1ID)
	assert.Equal(t, 104, *final.Player1ID)
	assert.Nil(t, final.Player2ID)
}

func TestAdvanceWinnerFinalHasNoDestination(t *testing.T) {
	f := newBracketFixture(t)
	matches, err := f.svc.GenerateBracket(context.Background(), 1, []int{101, 102, 103, 104}, 4)
	require.NoError(t, err)

	_, err = f.svc.AdvanceWinner(context.Background(), matches[0].ID, 101)
	require.NoError(t, err)
	_, err = f.svc.AdvanceWinner(context.Background(), matches[1].ID, 102)
	require.NoError(t, err)

	final, err := f.matchRepo.GetByPosition(context.Background(), 1, 2, 1)
	require.NoError(t, err)

	decided, err := f.svc.AdvanceWinner(context.Background(), final.ID, 102)
	require.NoError(t, err)
	require.NotNil(t, decided.WinnerID)
	assert.Equal(t, 102, *decided.WinnerID)
}

func TestAdvanceWinnerGuards(t *testing.T) {
	f := newBracketFixture(t)
	matches, err := f.svc.GenerateBracket(context.Background(), 1, []int{101, 102, 103, 104}, 4)
	require.NoError(t, err)

	_, err = f.svc.AdvanceWinner(context.Background(), 999, 101)
	assert.ErrorIs(t, err, ErrTournamentMatchNotFound)

	// Winner has to be one of the match's two players.
	_, err = f.svc.AdvanceWinner(context.Background(), matches[0].ID, 103)
	assert.ErrorIs(t, err, ErrWinnerNotInRoom)

	_, err = f.svc.AdvanceWinner(context.Background(), matches[0].ID, 101)
	require.NoError(t, err)
	_, err = f.svc.AdvanceWinner(context.Background(), matches[0].ID, 104)
	assert.ErrorIs(t, err, ErrMatchDecided)
}

func TestBindRoom(t *testing.T) {
	f := newBracketFixture(t)
	matches, err := f.svc.GenerateBracket(context.Background(), 1, []int{101, 102, 103, 104}, 4)
	require.NoError(t, err)

	require.NoError(t, f.svc.BindRoom(context.Background(), matches[0].ID, 55))

	bound, err := f.matchRepo.GetByID(context.Background(), matches[0].ID)
	require.NoError(t, err)
	require.NotNil(t, bound.RoomID)
	assert.Equal(t, 55, *bound.RoomID)

	err = f.svc.BindRoom(context.Background(), 999, 55)
	assert.ErrorIs(t, err, ErrTournamentMatchNotFound)
}
