package brackets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playhive/session-engine/models"
)

func generate(t *testing.T, participants []int, maxPlayers int) []*models.TournamentMatch {
	t.Helper()
	g := NewSingleEliminationGenerator()
	matches, err := g.GenerateBracket(context.Background(), GenerateBracketParams{
		TournamentID: 1,
		Participants: participants,
		MaxPlayers:   maxPlayers,
	})
	require.NoError(t, err)
	return matches
}

func findMatch(t *testing.T, matches []*models.TournamentMatch, round, number int) *models.TournamentMatch {
	t.Helper()
	for _, m := range matches {
		if m.Round == round && m.MatchNumber == number {
			return m
		}
	}
	t.Fatalf("match round=%d number=%d not found", round, number)
	return nil
}

func TestGenerateBracketValidation(t *testing.T) {
	g := NewSingleEliminationGenerator()

	tests := []struct {
		name         string
		participants []int
		maxPlayers   int
		wantErr      error
	}{
		{"too few participants", []int{10}, 2, ErrNotEnoughParticipants},
		{"size not power of two", []int{10, 20, 30}, 6, ErrBracketSizeInvalid},
		{"size below two", []int{10, 20}, 1, ErrBracketSizeInvalid},
		{"below half capacity", []int{10, 20, 30}, 8, ErrBracketTooSparse},
		{"three of sixteen", []int{10, 20, 30}, 16, ErrBracketTooSparse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.GenerateBracket(context.Background(), GenerateBracketParams{
				TournamentID: 1,
				Participants: tt.participants,
				MaxPlayers:   tt.maxPlayers,
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("participants exceed size", func(t *testing.T) {
		_, err := g.GenerateBracket(context.Background(), GenerateBracketParams{
			TournamentID: 1,
			Participants: []int{1, 2, 3},
			MaxPlayers:   2,
		})
		assert.Error(t, err)
	})
}

func TestGenerateBracketSeeding(t *testing.T) {
	// Eight-slot bracket, five entrants: seeds 1-3 get byes, seeds 4 and 5
	// play the only live first-round match.
	participants := []int{101, 102, 103, 104, 105}
	matches := generate(t, participants, 8)

	require.Len(t, matches, 7) // 4 + 2 + 1

	m1 := findMatch(t, matches, 1, 1)
	assert.Equal(t, models.MatchStatusBye, m1.Status)
	require.NotNil(t, m1.Player1ID)
	assert.Equal(t, 101, *m1.Player1ID)
	assert.Nil(t, m1.Player2ID)
	require.NotNil(t, m1.WinnerID)
	assert.Equal(t, 101, *m1.WinnerID)

	m4 := findMatch(t, matches, 1, 4)
	assert.Equal(t, models.MatchStatusPending, m4.Status)
	require.NotNil(t, m4.Player1ID)
	require.NotNil(t, m4.Player2ID)
	assert.Equal(t, 104, *m4.Player1ID)
	assert.Equal(t, 105, *m4.Player2ID)
	assert.Nil(t, m4.WinnerID)
}

func TestGenerateBracketPropagatesByes(t *testing.T) {
	matches := generate(t, []int{101, 102, 103, 104, 105}, 8)

	// Byes in matches 1-3 push seeds 1-3 straight into round two.
	semi1 := findMatch(t, matches, 2, 1)
	require.NotNil(t, semi1.Player1ID)
	assert.Equal(t, 101, *semi1.Player1ID)
	require.NotNil(t, semi1.Player2ID)
	assert.Equal(t, 102, *semi1.Player2ID)

	semi2 := findMatch(t, matches, 2, 2)
	require.NotNil(t, semi2.Player1ID)
	assert.Equal(t, 103, *semi2.Player1ID)
	// The winner of the live 104 vs 105 match fills the remaining slot.
	assert.Nil(t, semi2.Player2ID)

	final := findMatch(t, matches, 3, 1)
	assert.Nil(t, final.Player1ID)
	assert.Nil(t, final.Player2ID)
	assert.Equal(t, models.MatchStatusPending, final.Status)
}

func TestGenerateBracketHalfFieldIsAllByes(t *testing.T) {
	// Exactly half capacity is the smallest legal field: every first-round
	// match is a one-player bye and the second round starts fully seeded.
	matches := generate(t, []int{10, 20}, 4)

	require.Len(t, matches, 3)
	for _, m := range matches {
		if m.Round != 1 {
			continue
		}
		assert.Equal(t, models.MatchStatusBye, m.Status)
		require.NotNil(t, m.Player1ID)
		assert.Nil(t, m.Player2ID)
		assert.NotNil(t, m.WinnerID)
	}

	final := findMatch(t, matches, 2, 1)
	require.NotNil(t, final.Player1ID)
	require.NotNil(t, final.Player2ID)
	assert.Equal(t, 10, *final.Player1ID)
	assert.Equal(t, 20, *final.Player2ID)
	assert.Equal(t, models.MatchStatusPending, final.Status)
}

func TestGenerateBracketFullField(t *testing.T) {
	participants := []int{1, 2, 3, 4}
	matches := generate(t, participants, 4)

	require.Len(t, matches, 3)
	for _, m := range matches {
		if m.Round == 1 {
			assert.Equal(t, models.MatchStatusPending, m.Status)
			assert.NotNil(t, m.Player1ID)
			assert.NotNil(t, m.Player2ID)
		}
	}

	// Seed 1 meets seed 4, seed 2 meets seed 3.
	m1 := findMatch(t, matches, 1, 1)
	assert.Equal(t, 1, *m1.Player1ID)
	assert.Equal(t, 4, *m1.Player2ID)
	m2 := findMatch(t, matches, 1, 2)
	assert.Equal(t, 2, *m2.Player1ID)
	assert.Equal(t, 3, *m2.Player2ID)
}

func TestRoundCount(t *testing.T) {
	assert.Equal(t, 1, RoundCount(2))
	assert.Equal(t, 2, RoundCount(4))
	assert.Equal(t, 3, RoundCount(8))
	assert.Equal(t, 4, RoundCount(16))
	assert.Equal(t, 0, RoundCount(1))
}

func TestRoundLabel(t *testing.T) {
	assert.Equal(t, "Finals", RoundLabel(3, 3))
	assert.Equal(t, "Semi-Finals", RoundLabel(2, 3))
	assert.Equal(t, "Quarter-Finals", RoundLabel(1, 3))
	assert.Equal(t, "Round 1", RoundLabel(1, 4))
	assert.Equal(t, "Finals", RoundLabel(1, 1))
}

func TestNextMatchSlot(t *testing.T) {
	tests := []struct {
		round, matchNumber int
		want               Slot
	}{
		{1, 1, Slot{Round: 2, MatchNumber: 1, Position: 1}},
		{1, 2, Slot{Round: 2, MatchNumber: 1, Position: 2}},
		{1, 3, Slot{Round: 2, MatchNumber: 2, Position: 1}},
		{1, 4, Slot{Round: 2, MatchNumber: 2, Position: 2}},
		{2, 1, Slot{Round: 3, MatchNumber: 1, Position: 1}},
		{2, 2, Slot{Round: 3, MatchNumber: 1, Position: 2}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextMatchSlot(tt.round, tt.matchNumber))
	}
}
