package brackets

import (
	"context"

	"github.com/playhive/session-engine/models"
)

type GenerateBracketParams struct {
	TournamentID int
	// Participants are user IDs in seed order: index 0 is seed 1.
	Participants []int
	MaxPlayers   int
}

type BracketGenerator interface {
	GenerateBracket(ctx context.Context, params GenerateBracketParams) ([]*models.TournamentMatch, error)

	GetName() string
}
