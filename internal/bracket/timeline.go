package bracket

import (
	"time"

	"github.com/google/uuid"
)

type TimelineEntry struct {
	Seq          int64     `db:"seq" json:"-"`
	ID           uuid.UUID `db:"id" json:"id"`
	TournamentID uuid.UUID `db:"tournament_id" json:"tournamentId"`
	Action       string    `db:"action" json:"action"`
	Actor        string    `db:"actor" json:"actor"`
	CreatedAt    time.Time `db:"created_at" json:"timestamp"`
}
