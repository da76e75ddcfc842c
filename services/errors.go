package services

import "errors"

// Shared errors used across services and the HTTP mapping. NotFound, conflict
// and invalid-state errors are caller-visible and must not be retried;
// anything else that bubbles up wrapped is treated as transient.
var (
	// Not found
	ErrRoomNotFound            = errors.New("room not found")
	ErrRoomCodeNotFound        = errors.New("no open room with that code")
	ErrPlayerNotInRoom         = errors.New("user is not a participant of this room")
	ErrTournamentMatchNotFound = errors.New("tournament match not found")

	// Conflicts
	ErrRoomFull          = errors.New("room is full")
	ErrAlreadyInRoom     = errors.New("user already joined this room")
	ErrPlayerSlotTaken   = errors.New("player slot already taken")
	ErrRoomCodeExhausted = errors.New("could not allocate a unique room code")
	ErrMatchDecided      = errors.New("tournament match already has a winner")

	// Invalid state / business rules
	ErrRoomNotWaiting      = errors.New("room is not accepting players")
	ErrRoomNotPlaying      = errors.New("room is not in progress")
	ErrInvalidMode         = errors.New("invalid room mode")
	ErrInvalidPlayerNumber = errors.New("invalid player number")
	ErrInvalidGameState    = errors.New("game state payload is not valid JSON")
	ErrNotRankedMatch      = errors.New("match outcome does not affect ratings")
	ErrWinnerNotInRoom     = errors.New("reported winner is not a participant of this room")
	ErrWinnerRequired      = errors.New("a competitive finish needs a winner or a draw")

	// Matchmaking
	ErrSearchTimeout = errors.New("matchmaking search timed out")
)
