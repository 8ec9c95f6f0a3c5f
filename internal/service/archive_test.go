package service

import (
	"context"
	"testing"
	"time"

	"github.com/AdamBeresnev/op-bracket/internal/bracket"
	"github.com/AdamBeresnev/op-bracket/internal/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeTwoPlayer(t *testing.T, env *testEnv, autoArchive bool) uuid.UUID {
	t.Helper()
	tournament := env.createTournament(t, TournamentInput{MaxPlayers: 2, AutoArchive: utils.Ptr(autoArchive)})
	env.register(t, tournament.ID, "A", "B")
	env.submit(t, tournament.ID, "1-1", 2, 1, "A")
	require.Equal(t, bracket.TournamentCompleted, env.tournament(t, tournament.ID).Status)
	return tournament.ID
}

func TestArchiveDueAndPrune(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx := context.Background()
	tid := completeTwoPlayer(t, env, true)
	// Settle the event handlers before moving the clock
	env.bus.Close()

	completedAt := *env.tournament(t, tid).CompletedAt

	env.archiver.now = func() time.Time { return completedAt.Add(30 * time.Minute) }
	n, err := env.archiver.ArchiveDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, env.tournament(t, tid).Archived)

	archivedAt := completedAt.Add(2 * time.Hour)
	env.archiver.now = func() time.Time { return archivedAt }
	n, err = env.archiver.ArchiveDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tournament := env.tournament(t, tid)
	assert.True(t, tournament.Archived)
	assert.Equal(t, bracket.TournamentArchived, tournament.Status)
	require.NotNil(t, tournament.ArchivedAt)
	require.NotNil(t, tournament.PruneAt)
	assert.WithinDuration(t, archivedAt.Add(24*time.Hour), *tournament.PruneAt, time.Millisecond)

	// Idempotent
	n, err = env.archiver.ArchiveDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	again, err := env.archiver.ArchiveTournament(ctx, tid, "admin")
	require.NoError(t, err)
	assert.Equal(t, tournament.Version, again.Version)

	n, err = env.archiver.PruneDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.archiver.now = func() time.Time { return archivedAt.Add(25 * time.Hour) }
	n, err = env.archiver.PruneDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = env.store.GetTournament(ctx, env.db, tid)
	assert.ErrorIs(t, err, bracket.ErrNotFound)

	matches, err := env.store.GetMatches(ctx, env.db, tid)
	require.NoError(t, err)
	assert.Empty(t, matches)
	entries, err := env.store.GetTimeline(ctx, env.db, tid)
	require.NoError(t, err)
	assert.Empty(t, entries)

	n, err = env.archiver.PruneDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchiveRespectsAutoArchive(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx := context.Background()
	tid := completeTwoPlayer(t, env, false)
	env.bus.Close()

	env.archiver.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	n, err := env.archiver.ArchiveDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, env.archiver.archiveScheduled(ctx, tid))
	assert.False(t, env.tournament(t, tid).Archived)

	// An admin can still archive by hand
	tournament, err := env.archiver.ArchiveTournament(ctx, tid, "admin")
	require.NoError(t, err)
	assert.True(t, tournament.Archived)
}

func TestArchiveRequiresCompletedTournament(t *testing.T) {
	env := newTestEnv(t, true, nil)
	tid := seedFourPlayers(t, env)

	_, err := env.archiver.ArchiveTournament(context.Background(), tid, "admin")
	assert.ErrorIs(t, err, bracket.ErrValidation)
	assert.False(t, env.tournament(t, tid).Archived)

	// Results are no longer accepted once archived
	env.submit(t, tid, "1-1", 1, 0, "A")
	env.submit(t, tid, "1-2", 1, 0, "C")
	env.submit(t, tid, "2-1", 1, 0, "A")
	_, err = env.archiver.ArchiveTournament(context.Background(), tid, "admin")
	require.NoError(t, err)

	_, err = env.matches.AdminOverride(context.Background(), tid, "2-1", "C", nil, nil, "admin")
	assert.ErrorIs(t, err, bracket.ErrTournamentNotActive)
}

func TestScheduledArchive(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx := context.Background()

	env.archiver.cfg.Delay = 50 * time.Millisecond
	require.NoError(t, env.archiver.Start(ctx))

	tid := completeTwoPlayer(t, env, true)

	assert.Eventually(t, func() bool {
		tournament, err := env.store.GetTournament(ctx, env.db, tid)
		return err == nil && tournament.Archived
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, env.archiver.Shutdown())
	assert.Contains(t, env.timelineActions(t, tid), "Tournament archived")
}

func TestSweepReconcilesActiveTournaments(t *testing.T) {
	env := newTestEnv(t, true, nil)
	tid := seedFourPlayers(t, env)

	env.completeQuietly(t, tid, "1-1", 3, 1)
	env.completeQuietly(t, tid, "1-2", 3, 1)

	env.archiver.Sweep(context.Background())

	final := env.match(t, tid, "2-1")
	assert.Equal(t, "A", *final.PlayerA)
	assert.Equal(t, "C", *final.PlayerB)
}
