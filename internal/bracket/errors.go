package bracket

import (
	"errors"
	"fmt"
)

var (
	// Rejected synchronously, never partially applied
	ErrValidation = errors.New("validation failed")

	ErrRosterIncomplete    = fmt.Errorf("%w: roster is incomplete", ErrValidation)
	ErrInvalidSeedOrder    = fmt.Errorf("%w: seed order must be a permutation of the registered players", ErrValidation)
	ErrTieScore            = fmt.Errorf("%w: tie scores are not accepted", ErrValidation)
	ErrInvalidScore        = fmt.Errorf("%w: scores must not be negative", ErrValidation)
	ErrPlayersUndecided    = fmt.Errorf("%w: both players must be decided", ErrValidation)
	ErrInvalidWinner       = fmt.Errorf("%w: winner is not a registered player", ErrValidation)
	ErrAlreadyRegistered   = fmt.Errorf("%w: player is already registered", ErrValidation)
	ErrRegistrationClosed  = fmt.Errorf("%w: registration is closed", ErrValidation)
	ErrTournamentFull      = fmt.Errorf("%w: tournament is full", ErrValidation)
	ErrInvalidMaxPlayers   = fmt.Errorf("%w: max players must be a power of two and at least 2", ErrValidation)
	ErrInvalidSeedingMode  = fmt.Errorf("%w: unknown seeding mode", ErrValidation)
	ErrInvalidMatchID      = fmt.Errorf("%w: malformed match id", ErrValidation)
	ErrTournamentNotActive = fmt.Errorf("%w: tournament is not accepting results", ErrValidation)

	// Idempotent repeats, callers treat these as success
	ErrAlreadyDone           = errors.New("already done")
	ErrAlreadySeeded         = fmt.Errorf("%w: bracket is already seeded", ErrAlreadyDone)
	ErrRoundAlreadyGenerated = fmt.Errorf("%w: round is already generated", ErrAlreadyDone)

	ErrNotFound          = errors.New("requested resource not found")
	ErrMatchLocked       = errors.New("match result is locked")
	ErrConcurrentUpdate  = errors.New("concurrent update detected")
	ErrInvalidTransition = errors.New("invalid match state transition")
)

// TransitionError reports a match state change the state machine does not allow.
type TransitionError struct {
	From MatchState
	To   MatchState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move match from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
