package bracket

import (
	"time"

	"github.com/google/uuid"
)

// Registration is immutable once the bracket is seeded.
type Registration struct {
	TournamentID uuid.UUID `db:"tournament_id" json:"tournamentId"`
	PlayerID     string    `db:"player_id" json:"playerId"`
	RegisteredAt time.Time `db:"registered_at" json:"registeredAt"`
}

func PlayerIDs(registrations []Registration) []string {
	ids := make([]string, 0, len(registrations))
	for _, r := range registrations {
		ids = append(ids, r.PlayerID)
	}
	return ids
}
