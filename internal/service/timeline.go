package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdamBeresnev/op-bracket/internal/bracket"
	"github.com/AdamBeresnev/op-bracket/internal/events"
	"github.com/AdamBeresnev/op-bracket/internal/metrics"
	"github.com/AdamBeresnev/op-bracket/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TimelineLogger is the audit log consumer. Appends never fail the caller.
type TimelineLogger struct {
	db    *sqlx.DB
	store *store.TournamentStore
	now   func() time.Time
}

func NewTimelineLogger(db *sqlx.DB, store *store.TournamentStore) *TimelineLogger {
	return &TimelineLogger{db: db, store: store, now: utcNow}
}

// Append writes one entry stamped with the server time. Errors are logged and counted.
func (l *TimelineLogger) Append(ctx context.Context, tournamentID uuid.UUID, action, actor string) {
	if actor == "" {
		actor = SystemActor
	}
	entry := &bracket.TimelineEntry{
		ID:           uuid.New(),
		TournamentID: tournamentID,
		Action:       action,
		Actor:        actor,
		CreatedAt:    l.now(),
	}
	if err := l.store.AppendTimeline(ctx, l.db, entry); err != nil {
		metrics.TimelineFailures.Inc()
		slog.Error("failed to append timeline entry", "tournament_id", tournamentID, "action", action, "error", err)
	}
}

func (l *TimelineLogger) List(ctx context.Context, tournamentID uuid.UUID) ([]bracket.TimelineEntry, error) {
	if _, err := l.store.GetTournament(ctx, l.db, tournamentID); err != nil {
		return nil, err
	}
	return l.store.GetTimeline(ctx, l.db, tournamentID)
}

// Handle is the event bus subscriber.
func (l *TimelineLogger) Handle(ctx context.Context, e events.Event) error {
	action, ok := timelineAction(e)
	if !ok {
		return nil
	}
	l.Append(ctx, e.TournamentID, action, e.Actor)
	return nil
}

func timelineAction(e events.Event) (string, bool) {
	switch e.Kind {
	case events.TournamentSeeded:
		return fmt.Sprintf("Bracket seeded (%s)", e.Detail), true
	case events.MatchStarted:
		return fmt.Sprintf("Match %s started", e.MatchID), true
	case events.MatchCompleted:
		return fmt.Sprintf("Match %s completed: %s def. %s %s", e.MatchID, e.Winner, e.Loser, e.Score), true
	case events.MatchOverridden:
		return fmt.Sprintf("Match %s overridden: winner %s", e.MatchID, e.Winner), true
	case events.MatchReset:
		if e.Winner != "" {
			return fmt.Sprintf("Match %s reset (was won by %s)", e.MatchID, e.Winner), true
		}
		return fmt.Sprintf("Match %s reset", e.MatchID), true
	case events.WinnerAdvanced:
		return fmt.Sprintf("%s advanced to match %s", e.Winner, e.MatchID), true
	case events.RoundGenerated:
		return fmt.Sprintf("Round %d generated", e.Round), true
	case events.TournamentCompleted:
		if e.Detail == "corrected" {
			return fmt.Sprintf("Champion corrected: %s", e.Winner), true
		}
		return fmt.Sprintf("Tournament completed: champion %s", e.Winner), true
	case events.TournamentArchived:
		return "Tournament archived", true
	case events.ReportExported:
		return "Report exported", true
	}
	// Pruned tournaments have no timeline left; anomalies go to logs and metrics
	return "", false
}
