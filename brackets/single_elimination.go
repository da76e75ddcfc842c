package brackets

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/playhive/session-engine/models"
)

var (
	ErrNotEnoughParticipants = errors.New("not enough participants to generate a single elimination bracket (minimum 2)")
	ErrBracketSizeInvalid    = errors.New("bracket size must be a power of two of at least 2")
	// ErrBracketTooSparse guards the invariant that every first-round match
	// has at least one seeded player. With contiguous seeds starting at 1
	// that holds exactly when participants >= maxPlayers/2; at exactly half
	// the first round is all byes and resolves itself at generation.
	ErrBracketTooSparse = errors.New("participant count too small for bracket size")
)

// Slot addresses one side of a bracket match.
type Slot struct {
	Round       int `json:"round"`
	MatchNumber int `json:"match_number"`
	Position    int `json:"position"` // 1 or 2
}

// RoundCount returns how many rounds a bracket of the given size plays.
func RoundCount(maxPlayers int) int {
	if maxPlayers < 2 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(maxPlayers))))
}

// RoundLabel names rounds counting backward from the final.
func RoundLabel(round, totalRounds int) string {
	switch totalRounds - round {
	case 0:
		return "Finals"
	case 1:
		return "Semi-Finals"
	case 2:
		return "Quarter-Finals"
	default:
		return fmt.Sprintf("Round %d", round)
	}
}

// NextMatchSlot computes where the winner of a match goes: one round up,
// matches pair off two by two, odd match numbers feed slot 1.
func NextMatchSlot(round, matchNumber int) Slot {
	position := 2
	if matchNumber%2 == 1 {
		position = 1
	}
	return Slot{
		Round:       round + 1,
		MatchNumber: (matchNumber + 1) / 2,
		Position:    position,
	}
}

type SingleEliminationGenerator struct{}

func NewSingleEliminationGenerator() BracketGenerator {
	return &SingleEliminationGenerator{}
}

func (g *SingleEliminationGenerator) GetName() string {
	return "SingleElimination"
}

// GenerateBracket builds the full match set for a tournament: a seeded first
// round, empty pending matches for every later round, and byes resolved and
// propagated. The result is ordered by round, then match number.
func (g *SingleEliminationGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) ([]*models.TournamentMatch, error) {
	n := len(params.Participants)
	maxPlayers := params.MaxPlayers

	if n < 2 {
		return nil, ErrNotEnoughParticipants
	}
	if maxPlayers < 2 || maxPlayers&(maxPlayers-1) != 0 {
		return nil, ErrBracketSizeInvalid
	}
	if n > maxPlayers {
		return nil, fmt.Errorf("%d participants exceed bracket size %d", n, maxPlayers)
	}
	if maxPlayers > 2 && n < maxPlayers/2 {
		return nil, ErrBracketTooSparse
	}

	totalRounds := RoundCount(maxPlayers)
	matches := make([]*models.TournamentMatch, 0, maxPlayers-1)

	// First round: seed i meets seed maxPlayers+1-i. Seeds past the
	// participant count leave a null slot, which makes the match a bye.
	for i := 1; i <= maxPlayers/2; i++ {
		match := &models.TournamentMatch{
			TournamentID: params.TournamentID,
			Round:        1,
			MatchNumber:  i,
			Status:       models.MatchStatusPending,
		}
		if i <= n {
			seed := params.Participants[i-1]
			match.Player1ID = &seed
		}
		if opposite := maxPlayers + 1 - i; opposite <= n {
			seed := params.Participants[opposite-1]
			match.Player2ID = &seed
		}

		if match.Player1ID == nil && match.Player2ID == nil {
			return nil, fmt.Errorf("first round match %d has no players: %w", i, ErrBracketTooSparse)
		}
		if match.Player1ID == nil || match.Player2ID == nil {
			match.Status = models.MatchStatusBye
			if match.Player1ID != nil {
				match.WinnerID = match.Player1ID
			} else {
				match.WinnerID = match.Player2ID
			}
		}
		matches = append(matches, match)
	}

	// Later rounds start empty and get filled as winners advance.
	for round := 2; round <= totalRounds; round++ {
		matchesInRound := maxPlayers >> uint(round)
		for i := 1; i <= matchesInRound; i++ {
			matches = append(matches, &models.TournamentMatch{
				TournamentID: params.TournamentID,
				Round:        round,
				MatchNumber:  i,
				Status:       models.MatchStatusPending,
			})
		}
	}

	return PropagateByes(matches, totalRounds), nil
}

// PropagateByes pushes every resolved bye winner into its destination slot of
// the following round. It walks rounds in order so chained byes settle in a
// single pass.
func PropagateByes(matches []*models.TournamentMatch, totalRounds int) []*models.TournamentMatch {
	index := make(map[[2]int]*models.TournamentMatch, len(matches))
	for _, m := range matches {
		index[[2]int{m.Round, m.MatchNumber}] = m
	}

	for round := 1; round < totalRounds; round++ {
		for _, m := range matches {
			if m.Round != round || m.Status != models.MatchStatusBye || m.WinnerID == nil {
				continue
			}
			slot := NextMatchSlot(m.Round, m.MatchNumber)
			next, ok := index[[2]int{slot.Round, slot.MatchNumber}]
			if !ok {
				continue
			}
			winner := *m.WinnerID
			if slot.Position == 1 {
				next.Player1ID = &winner
			} else {
				next.Player2ID = &winner
			}
		}
	}
	return matches
}
