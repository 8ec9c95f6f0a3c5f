package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AdamBeresnev/op-bracket/internal/bracket"
	"github.com/AdamBeresnev/op-bracket/internal/db"
	"github.com/AdamBeresnev/op-bracket/internal/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database and applies migrations
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := db.OpenMemory(uuid.NewString())
	require.NoError(t, err, "Failed to connect to in-memory DB")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.RunMigrations(database.DB), "Failed to apply migrations")
	return database
}

func newTestTournament(t *testing.T, s *TournamentStore, maxPlayers int) *bracket.Tournament {
	t.Helper()

	rounds, err := bracket.TotalRoundsFor(maxPlayers)
	require.NoError(t, err)

	tournament := &bracket.Tournament{
		ID:          uuid.New(),
		Name:        "Test Tournament",
		Game:        "Tekken",
		Status:      bracket.TournamentSetup,
		MaxPlayers:  maxPlayers,
		TotalRounds: rounds,
		SeedingMode: bracket.SeedingRandom,
		AutoArchive: true,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.CreateTournament(context.Background(), s.db, tournament))
	return tournament
}

func TestCreateTournament(t *testing.T) {
	database := setupTestDB(t)
	s := NewTournamentStore(database)
	ctx := context.Background()

	tournament := newTestTournament(t, s, 8)

	fetched, err := s.GetTournament(ctx, database, tournament.ID)
	require.NoError(t, err)

	assert.Equal(t, tournament.ID, fetched.ID)
	assert.Equal(t, tournament.Name, fetched.Name)
	assert.Equal(t, bracket.TournamentSetup, fetched.Status)
	assert.Equal(t, 8, fetched.MaxPlayers)
	assert.Equal(t, 3, fetched.TotalRounds)
	assert.True(t, fetched.AutoArchive)
	assert.False(t, fetched.Archived)
	assert.Nil(t, fetched.SeedOrder)
	assert.Nil(t, fetched.Champion)
	assert.WithinDuration(t, tournament.CreatedAt, fetched.CreatedAt, time.Second)

	_, err = s.GetTournament(ctx, database, uuid.New())
	assert.ErrorIs(t, err, bracket.ErrNotFound)
}

func TestUpdateTournamentCompareAndSwap(t *testing.T) {
	database := setupTestDB(t)
	s := NewTournamentStore(database)
	ctx := context.Background()

	tournament := newTestTournament(t, s, 4)

	first, err := s.GetTournament(ctx, database, tournament.ID)
	require.NoError(t, err)
	second, err := s.GetTournament(ctx, database, tournament.ID)
	require.NoError(t, err)

	first.Status = bracket.TournamentUpcoming
	first.CurrentRound = 1
	first.SeedOrder = bracket.PlayerList{"a", "b", "c", "d"}
	require.NoError(t, s.UpdateTournament(ctx, database, first))
	assert.Equal(t, 1, first.Version)

	// Stale copy loses
	second.CurrentRound = 1
	err = s.UpdateTournament(ctx, database, second)
	assert.ErrorIs(t, err, bracket.ErrConcurrentUpdate)
	assert.Equal(t, 0, second.Version)

	fetched, err := s.GetTournament(ctx, database, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.TournamentUpcoming, fetched.Status)
	assert.Equal(t, bracket.PlayerList{"a", "b", "c", "d"}, fetched.SeedOrder)
	assert.Equal(t, 1, fetched.Version)
}

func TestRegistrations(t *testing.T) {
	database := setupTestDB(t)
	s := NewTournamentStore(database)
	ctx := context.Background()

	tournament := newTestTournament(t, s, 4)
	base := time.Now().UTC()

	for i, player := range []string{"carol", "alice", "bob"} {
		err := s.CreateRegistration(ctx, database, &bracket.Registration{
			TournamentID: tournament.ID,
			PlayerID:     player,
			RegisteredAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	err := s.CreateRegistration(ctx, database, &bracket.Registration{TournamentID: tournament.ID, PlayerID: "bob", RegisteredAt: base})
	assert.ErrorIs(t, err, bracket.ErrAlreadyRegistered)

	count, err := s.CountRegistrations(ctx, database, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	registrations, err := s.GetRegistrations(ctx, database, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "alice", "bob"}, bracket.PlayerIDs(registrations))
}

func TestCreateMatches(t *testing.T) {
	database := setupTestDB(t)
	s := NewTournamentStore(database)
	ctx := context.Background()

	tournament := newTestTournament(t, s, 4)
	now := time.Now().UTC()

	matches := []bracket.Match{
		bracket.NewMatch(tournament.ID, bracket.Position{Round: 1, Slot: 1}, utils.Ptr("a"), utils.Ptr("b"), now),
		bracket.NewMatch(tournament.ID, bracket.Position{Round: 1, Slot: 2}, utils.Ptr("c"), utils.Ptr("d"), now),
	}

	err := s.InTx(ctx, func(tx *sqlx.Tx) error {
		return s.CreateMatches(ctx, tx, matches)
	})
	require.NoError(t, err)

	fetched, err := s.GetMatches(ctx, database, tournament.ID)
	require.NoError(t, err)
	require.Len(t, fetched, 2)
	assert.Equal(t, "1-1", fetched[0].ID)
	assert.Equal(t, "a", *fetched[0].PlayerA)
	assert.Equal(t, "b", *fetched[0].PlayerB)
	assert.Equal(t, bracket.MatchPending, fetched[0].Status)
	assert.Nil(t, fetched[0].Winner)
	assert.Nil(t, fetched[0].ScoreA)
	assert.False(t, fetched[0].Locked)
	assert.Equal(t, "1-2", fetched[1].ID)

	// Same ids again: the second writer is told it lost
	err = s.InTx(ctx, func(tx *sqlx.Tx) error {
		return s.CreateMatches(ctx, tx, matches)
	})
	assert.ErrorIs(t, err, bracket.ErrConcurrentUpdate)

	count, err := s.CountRoundMatches(ctx, database, tournament.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	round2, err := s.GetRoundMatches(ctx, database, tournament.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, round2)

	_, err = s.GetMatch(ctx, database, tournament.ID, "2-1")
	assert.ErrorIs(t, err, bracket.ErrNotFound)
}

func TestUpdateMatchCompareAndSwap(t *testing.T) {
	database := setupTestDB(t)
	s := NewTournamentStore(database)
	ctx := context.Background()

	tournament := newTestTournament(t, s, 2)
	match := bracket.NewMatch(tournament.ID, bracket.Position{Round: 1, Slot: 1}, utils.Ptr("a"), utils.Ptr("b"), time.Now().UTC())
	require.NoError(t, s.CreateMatches(ctx, database, []bracket.Match{match}))

	first, err := s.GetMatch(ctx, database, tournament.ID, "1-1")
	require.NoError(t, err)
	second, err := s.GetMatch(ctx, database, tournament.ID, "1-1")
	require.NoError(t, err)

	require.NoError(t, first.Submit(3, 1, "a", time.Now().UTC()))
	require.NoError(t, s.UpdateMatch(ctx, database, first))

	require.NoError(t, second.Submit(0, 3, "b", time.Now().UTC()))
	err = s.UpdateMatch(ctx, database, second)
	assert.ErrorIs(t, err, bracket.ErrConcurrentUpdate)

	fetched, err := s.GetMatch(ctx, database, tournament.ID, "1-1")
	require.NoError(t, err)
	assert.Equal(t, "a", *fetched.Winner)
	assert.True(t, fetched.Locked)
	assert.Equal(t, bracket.MatchCompleted, fetched.Status)
	assert.Equal(t, "a", *fetched.ReportedBy)
	require.NotNil(t, fetched.SubmittedAt)
	assert.Equal(t, 1, fetched.Version)
}

func TestTimelineOrdering(t *testing.T) {
	database := setupTestDB(t)
	s := NewTournamentStore(database)
	ctx := context.Background()

	tournament := newTestTournament(t, s, 2)
	at := time.Now().UTC()

	for _, action := range []string{"Bracket seeded", "Round 1 generated", "Match 1-1 completed"} {
		require.NoError(t, s.AppendTimeline(ctx, database, &bracket.TimelineEntry{
			ID:           uuid.New(),
			TournamentID: tournament.ID,
			Action:       action,
			Actor:        "system",
			CreatedAt:    at,
		}))
	}

	entries, err := s.GetTimeline(ctx, database, tournament.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "Bracket seeded", entries[0].Action)
	assert.Equal(t, "Match 1-1 completed", entries[2].Action)
	assert.Less(t, entries[0].Seq, entries[1].Seq)
}

func TestArchiveQueriesAndPrune(t *testing.T) {
	database := setupTestDB(t)
	s := NewTournamentStore(database)
	ctx := context.Background()
	now := time.Now().UTC()

	done := newTestTournament(t, s, 2)
	done.Status = bracket.TournamentCompleted
	done.CompletedAt = utils.Ptr(now.Add(-2 * time.Hour))
	require.NoError(t, s.UpdateTournament(ctx, database, done))

	manual := newTestTournament(t, s, 2)
	manual.Status = bracket.TournamentCompleted
	manual.AutoArchive = false
	manual.CompletedAt = utils.Ptr(now.Add(-2 * time.Hour))
	require.NoError(t, s.UpdateTournament(ctx, database, manual))

	newTestTournament(t, s, 2)

	archivable, err := s.ListArchivable(ctx, database, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, archivable, 1)
	assert.Equal(t, done.ID, archivable[0].ID)

	active, err := s.ListTournamentsByStatus(ctx, database, bracket.TournamentSetup, bracket.TournamentLive)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	done.Status = bracket.TournamentArchived
	done.Archived = true
	done.ArchivedAt = utils.Ptr(now)
	done.PruneAt = utils.Ptr(now.Add(time.Minute))
	require.NoError(t, s.UpdateTournament(ctx, database, done))
	require.NoError(t, s.AppendTimeline(ctx, database, &bracket.TimelineEntry{
		ID: uuid.New(), TournamentID: done.ID, Action: "Tournament archived", Actor: "system", CreatedAt: now,
	}))

	prunable, err := s.ListPrunable(ctx, database, now)
	require.NoError(t, err)
	assert.Empty(t, prunable)
	assert.ErrorIs(t, s.DeleteArchived(ctx, database, done.ID, now), bracket.ErrNotFound)

	later := now.Add(2 * time.Minute)
	prunable, err = s.ListPrunable(ctx, database, later)
	require.NoError(t, err)
	require.Len(t, prunable, 1)
	require.NoError(t, s.DeleteArchived(ctx, database, done.ID, later))

	_, err = s.GetTournament(ctx, database, done.ID)
	assert.ErrorIs(t, err, bracket.ErrNotFound)

	entries, err := s.GetTimeline(ctx, database, done.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInTxRollsBackOnError(t *testing.T) {
	database := setupTestDB(t)
	s := NewTournamentStore(database)
	ctx := context.Background()
	tournament := newTestTournament(t, s, 2)

	failed := errors.New("boom")
	err := s.InTx(ctx, func(tx *sqlx.Tx) error {
		require.NoError(t, s.CreateRegistration(ctx, tx, &bracket.Registration{
			TournamentID: tournament.ID,
			PlayerID:     "alice",
			RegisteredAt: time.Now().UTC(),
		}))
		return failed
	})
	assert.ErrorIs(t, err, failed)

	count, err := s.CountRegistrations(ctx, database, tournament.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, s.InTx(ctx, func(tx *sqlx.Tx) error {
		return s.CreateRegistration(ctx, tx, &bracket.Registration{
			TournamentID: tournament.ID,
			PlayerID:     "alice",
			RegisteredAt: time.Now().UTC(),
		})
	}))
	count, err = s.CountRegistrations(ctx, database, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
