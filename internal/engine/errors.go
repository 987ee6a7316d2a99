package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnrecognizedCard is returned for card names, codes or ordinals
	// that are not in the registry. No state is mutated when it occurs.
	ErrUnrecognizedCard = errors.New("unrecognized card")

	// ErrInvalidPlayer is returned for player indices outside the game.
	ErrInvalidPlayer = errors.New("invalid player")

	// ErrInvalidSuggestion is returned for malformed suggestions, such as a
	// shown card that was not part of the suggestion.
	ErrInvalidSuggestion = errors.New("invalid suggestion")

	// ErrMalformedSession is matched by every codec parse failure.
	ErrMalformedSession = errors.New("malformed session")

	// ErrInconsistentState is matched by InconsistentStateError.
	ErrInconsistentState = errors.New("inconsistent state")
)

// MalformedSessionError reports where session parsing stopped.
type MalformedSessionError struct {
	Pos       int
	Remaining string
	Reason    string
}

func (e *MalformedSessionError) Error() string {
	return fmt.Sprintf("malformed session at position %d (%q): %s", e.Pos, e.Remaining, e.Reason)
}

func (e *MalformedSessionError) Is(target error) bool {
	return target == ErrMalformedSession
}

// Conflict is a card that a player is recorded as both holding and not
// holding.
type Conflict struct {
	Player int
	Card   Card
}

// InconsistentStateError lists every owns/rejects conflict in a game.
type InconsistentStateError struct {
	Conflicts []Conflict
	names     []string
}

func (e *InconsistentStateError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = fmt.Sprintf("player %d/%s", c.Player, e.names[i])
	}
	return fmt.Sprintf("inconsistent state: %s", strings.Join(parts, ", "))
}

func (e *InconsistentStateError) Is(target error) bool {
	return target == ErrInconsistentState
}
