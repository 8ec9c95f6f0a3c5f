package main

import (
	"context"
	"testing"
	"time"

	"github.com/AdamBeresnev/op-bracket/internal/config"
	"github.com/AdamBeresnev/op-bracket/internal/db"
	"github.com/AdamBeresnev/op-bracket/internal/events"
	"github.com/AdamBeresnev/op-bracket/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopDeliversEventsQueuedAtShutdown(t *testing.T) {
	database, err := db.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.RunMigrations(database.DB))

	cfg, err := config.LoadFrom(map[string]string{"JWT_SECRET": testSecret})
	require.NoError(t, err)
	app, err := newApplication(database, cfg)
	require.NoError(t, err)

	tournament, err := app.tournaments.CreateTournament(context.Background(), service.TournamentInput{Name: "Cup", MaxPlayers: 4})
	require.NoError(t, err)

	// The signal context is already gone when stop drains the bus
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, app.start(ctx))
	cancel()

	app.bus.Publish(events.Event{
		Kind:         events.RoundGenerated,
		TournamentID: tournament.ID,
		Round:        2,
		Actor:        service.SystemActor,
		At:           time.Now().UTC(),
	})
	app.stop()

	entries, err := app.timeline.List(context.Background(), tournament.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Round 2 generated", entries[0].Action)
}
