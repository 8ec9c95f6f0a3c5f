package bracket

import (
	"fmt"
	"strconv"
	"strings"
)

type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Position addresses a match by round and 1-based slot index.
type Position struct {
	Round int
	Slot  int
}

func MatchID(round, slot int) string {
	return fmt.Sprintf("%d-%d", round, slot)
}

func (p Position) ID() string {
	return MatchID(p.Round, p.Slot)
}

func ParseMatchID(id string) (Position, error) {
	roundStr, slotStr, ok := strings.Cut(id, "-")
	if !ok {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidMatchID, id)
	}
	round, err := strconv.Atoi(roundStr)
	if err != nil || round < 1 {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidMatchID, id)
	}
	slot, err := strconv.Atoi(slotStr)
	if err != nil || slot < 1 {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidMatchID, id)
	}
	return Position{Round: round, Slot: slot}, nil
}

// Next maps a match to the match and side its winner moves into.
// Odd slots feed side A, even slots feed side B.
func (p Position) Next() (Position, Side) {
	next := Position{Round: p.Round + 1, Slot: (p.Slot + 1) / 2}
	if p.Slot%2 != 0 {
		return next, SideA
	}
	return next, SideB
}

// Feeders returns the two previous-round matches whose winners meet here.
func (p Position) Feeders() (Position, Position) {
	return Position{Round: p.Round - 1, Slot: 2*p.Slot - 1}, Position{Round: p.Round - 1, Slot: 2 * p.Slot}
}

// InBracket reports whether the position exists in a bracket of totalRounds rounds.
func (p Position) InBracket(totalRounds int) bool {
	return p.Round >= 1 && p.Round <= totalRounds && p.Slot >= 1 && p.Slot <= MatchesInRound(totalRounds, p.Round)
}

func MatchesInRound(totalRounds, round int) int {
	if round < 1 || round > totalRounds {
		return 0
	}
	return 1 << (totalRounds - round)
}

// NextMatchID is nil for the final.
func NextMatchID(p Position, totalRounds int) *string {
	if p.Round >= totalRounds {
		return nil
	}
	next, _ := p.Next()
	id := next.ID()
	return &id
}
