package store

import (
	"context"

	"github.com/AdamBeresnev/op-bracket/internal/bracket"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AppendTimeline is insert-only; entries are never updated.
func (s *TournamentStore) AppendTimeline(ctx context.Context, q sqlx.ExtContext, entry *bracket.TimelineEntry) error {
	_, err := sqlx.NamedExecContext(ctx, q, `INSERT INTO timeline (id, tournament_id, action, actor, created_at)
		VALUES (:id, :tournament_id, :action, :actor, :created_at)`, entry)
	return mapError(err)
}

func (s *TournamentStore) GetTimeline(ctx context.Context, q sqlx.QueryerContext, tournamentID uuid.UUID) ([]bracket.TimelineEntry, error) {
	var entries []bracket.TimelineEntry
	err := sqlx.SelectContext(ctx, q, &entries, `SELECT seq, id, tournament_id, action, actor, created_at FROM timeline
		WHERE tournament_id = ? ORDER BY created_at ASC, seq ASC`, tournamentID)
	return entries, err
}
