package bracket

import (
	"testing"
	"time"

	"github.com/AdamBeresnev/op-bracket/internal/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMatch() Match {
	return NewMatch(uuid.New(), Position{Round: 1, Slot: 1}, utils.Ptr("alice"), utils.Ptr("bob"), time.Now().UTC())
}

func TestMatchStateTransitions(t *testing.T) {
	next, err := MatchPending.Start()
	require.NoError(t, err)
	assert.Equal(t, MatchLive, next)

	_, err = MatchLive.Start()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	for _, from := range []MatchState{MatchPending, MatchLive} {
		next, err := from.Complete()
		require.NoError(t, err)
		assert.Equal(t, MatchCompleted, next)
	}

	_, err = MatchCompleted.Complete()
	var transitionErr *TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, MatchCompleted, transitionErr.From)
	assert.Equal(t, MatchCompleted, transitionErr.To)

	assert.Equal(t, MatchPending, MatchCompleted.Reset())
}

func TestMatchSubmit(t *testing.T) {
	m := newTestMatch()
	now := time.Now().UTC()

	require.NoError(t, m.Submit(7, 10, "bob", now))
	assert.True(t, m.IsComplete())
	assert.True(t, m.Locked)
	assert.Equal(t, "bob", *m.Winner)
	assert.Equal(t, 7, *m.ScoreA)
	assert.Equal(t, 10, *m.ScoreB)
	assert.Equal(t, "bob", *m.ReportedBy)
	assert.False(t, m.VerifiedByAdmin)

	err := m.Submit(10, 7, "alice", now)
	assert.ErrorIs(t, err, ErrMatchLocked)
	assert.Equal(t, "bob", *m.Winner)
}

func TestMatchSubmitValidation(t *testing.T) {
	testCases := []struct {
		name   string
		match  func() Match
		scoreA int
		scoreB int
		err    error
	}{
		{"tie", newTestMatch, 3, 3, ErrTieScore},
		{"negative", newTestMatch, -1, 3, ErrInvalidScore},
		{"tbd player", func() Match {
			m := newTestMatch()
			m.PlayerB = nil
			return m
		}, 3, 1, ErrPlayersUndecided},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := tc.match()
			err := m.Submit(tc.scoreA, tc.scoreB, "alice", time.Now())
			assert.ErrorIs(t, err, tc.err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Nil(t, m.Winner)
			assert.False(t, m.Locked)
			assert.Equal(t, MatchPending, m.Status)
		})
	}
}

func TestMatchOverrideAndReset(t *testing.T) {
	m := newTestMatch()
	require.NoError(t, m.Submit(10, 7, "alice", time.Now()))

	require.NoError(t, m.Override("bob", utils.Ptr(1), utils.Ptr(2), "admin", time.Now()))
	assert.Equal(t, "bob", *m.Winner)
	assert.True(t, m.VerifiedByAdmin)
	assert.True(t, m.Locked)
	assert.Equal(t, "admin", *m.ReportedBy)

	m.Reset()
	assert.Equal(t, MatchPending, m.Status)
	assert.Nil(t, m.Winner)
	assert.Nil(t, m.ScoreA)
	assert.Nil(t, m.ScoreB)
	assert.Nil(t, m.SubmittedAt)
	assert.Nil(t, m.ReportedBy)
	assert.False(t, m.Locked)
	assert.False(t, m.VerifiedByAdmin)
	assert.Equal(t, "alice", *m.PlayerA)
	assert.Equal(t, "bob", *m.PlayerB)
}

func TestMatchStart(t *testing.T) {
	m := newTestMatch()
	require.NoError(t, m.Start())
	assert.Equal(t, MatchLive, m.Status)
	assert.ErrorIs(t, m.Start(), ErrInvalidTransition)

	tbd := newTestMatch()
	tbd.PlayerA = nil
	assert.ErrorIs(t, tbd.Start(), ErrPlayersUndecided)
}

func TestLink(t *testing.T) {
	tid := uuid.New()
	matches := []Match{
		NewMatch(tid, Position{1, 1}, nil, nil, time.Now()),
		NewMatch(tid, Position{1, 2}, nil, nil, time.Now()),
		NewMatch(tid, Position{2, 1}, nil, nil, time.Now()),
	}
	Link(matches, 2)
	require.NotNil(t, matches[0].NextMatchID)
	assert.Equal(t, "2-1", *matches[0].NextMatchID)
	assert.Equal(t, "2-1", *matches[1].NextMatchID)
	assert.Nil(t, matches[2].NextMatchID)
}
