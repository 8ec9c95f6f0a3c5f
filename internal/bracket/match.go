package bracket

import (
	"time"

	"github.com/google/uuid"
)

type MatchState string

const (
	MatchPending   MatchState = "pending"
	MatchLive      MatchState = "live"
	MatchCompleted MatchState = "completed"
)

// Start moves a pending match to live.
func (s MatchState) Start() (MatchState, error) {
	if s != MatchPending {
		return s, &TransitionError{From: s, To: MatchLive}
	}
	return MatchLive, nil
}

// Complete accepts a result for a pending or live match.
func (s MatchState) Complete() (MatchState, error) {
	if s != MatchPending && s != MatchLive {
		return s, &TransitionError{From: s, To: MatchCompleted}
	}
	return MatchCompleted, nil
}

// Reset is only reachable through the admin path and is valid from any state.
func (s MatchState) Reset() MatchState {
	return MatchPending
}

type Match struct {
	TournamentID uuid.UUID `db:"tournament_id" json:"tournamentId"`
	ID           string    `db:"id" json:"id"`
	Round        int       `db:"round" json:"round"`
	Slot         int       `db:"slot" json:"slot"`

	// nil means TBD
	PlayerA *string `db:"player_a" json:"playerA"`
	PlayerB *string `db:"player_b" json:"playerB"`

	ScoreA *int       `db:"score_a" json:"scoreA"`
	ScoreB *int       `db:"score_b" json:"scoreB"`
	Winner *string    `db:"winner" json:"winner"`
	Status MatchState `db:"status" json:"status"`
	Locked bool       `db:"locked" json:"locked"`

	SubmittedAt     *time.Time `db:"submitted_at" json:"submittedAt"`
	ReportedBy      *string    `db:"reported_by" json:"reportedBy"`
	VerifiedByAdmin bool       `db:"verified_by_admin" json:"verifiedByAdmin"`

	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`

	// Computed from the position, never stored
	NextMatchID *string `db:"-" json:"nextMatchId"`
}

func NewMatch(tournamentID uuid.UUID, pos Position, playerA, playerB *string, now time.Time) Match {
	return Match{
		TournamentID: tournamentID,
		ID:           pos.ID(),
		Round:        pos.Round,
		Slot:         pos.Slot,
		PlayerA:      playerA,
		PlayerB:      playerB,
		Status:       MatchPending,
		CreatedAt:    now,
	}
}

func (m *Match) Position() Position {
	return Position{Round: m.Round, Slot: m.Slot}
}

func (m *Match) IsComplete() bool {
	return m.Winner != nil && m.Status == MatchCompleted
}

func (m *Match) PlayersDecided() bool {
	return m.PlayerA != nil && m.PlayerB != nil
}

func (m *Match) HasPlayer(playerID string) bool {
	return (m.PlayerA != nil && *m.PlayerA == playerID) || (m.PlayerB != nil && *m.PlayerB == playerID)
}

func (m *Match) Player(side Side) *string {
	if side == SideA {
		return m.PlayerA
	}
	return m.PlayerB
}

func (m *Match) SetPlayer(side Side, playerID *string) {
	if side == SideA {
		m.PlayerA = playerID
	} else {
		m.PlayerB = playerID
	}
}

// Start marks the match live.
func (m *Match) Start() error {
	if !m.PlayersDecided() {
		return ErrPlayersUndecided
	}
	next, err := m.Status.Start()
	if err != nil {
		return err
	}
	m.Status = next
	return nil
}

// Submit records a player-reported result. The winner is the strictly higher score.
func (m *Match) Submit(scoreA, scoreB int, reportedBy string, at time.Time) error {
	if m.Locked {
		return ErrMatchLocked
	}
	if !m.PlayersDecided() {
		return ErrPlayersUndecided
	}
	if scoreA < 0 || scoreB < 0 {
		return ErrInvalidScore
	}
	if scoreA == scoreB {
		return ErrTieScore
	}
	next, err := m.Status.Complete()
	if err != nil {
		return err
	}

	winner := *m.PlayerA
	if scoreB > scoreA {
		winner = *m.PlayerB
	}

	m.ScoreA = &scoreA
	m.ScoreB = &scoreB
	m.Winner = &winner
	m.Status = next
	m.Locked = true
	m.SubmittedAt = &at
	m.ReportedBy = &reportedBy
	return nil
}

// Override sets the result directly, regardless of lock or state.
func (m *Match) Override(winner string, scoreA, scoreB *int, admin string, at time.Time) error {
	if scoreA != nil && *scoreA < 0 || scoreB != nil && *scoreB < 0 {
		return ErrInvalidScore
	}
	m.ScoreA = scoreA
	m.ScoreB = scoreB
	m.Winner = &winner
	m.Status = MatchCompleted
	m.Locked = true
	m.SubmittedAt = &at
	m.ReportedBy = &admin
	m.VerifiedByAdmin = true
	return nil
}

// Reset clears the result and reporting metadata. Players stay in place.
func (m *Match) Reset() {
	m.ScoreA = nil
	m.ScoreB = nil
	m.Winner = nil
	m.Status = m.Status.Reset()
	m.Locked = false
	m.SubmittedAt = nil
	m.ReportedBy = nil
	m.VerifiedByAdmin = false
}

// Link fills the computed forward pointer for every match.
func Link(matches []Match, totalRounds int) {
	for i := range matches {
		matches[i].NextMatchID = NextMatchID(matches[i].Position(), totalRounds)
	}
}
