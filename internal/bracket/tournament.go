package bracket

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/bits"
	"time"

	"github.com/google/uuid"
)

type TournamentStatus string

const (
	TournamentSetup     TournamentStatus = "setup"
	TournamentUpcoming  TournamentStatus = "upcoming"
	TournamentLive      TournamentStatus = "live"
	TournamentCompleted TournamentStatus = "completed"
	TournamentArchived  TournamentStatus = "archived"
)

type SeedingMode string

const (
	SeedingRandom SeedingMode = "random"
	SeedingAdmin  SeedingMode = "admin"
)

func (m SeedingMode) Valid() bool {
	return m == SeedingRandom || m == SeedingAdmin
}

// PlayerList is stored as a JSON array in a single text column.
type PlayerList []string

func (l PlayerList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *PlayerList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into PlayerList", src)
	}
	var players []string
	if err := json.Unmarshal(raw, &players); err != nil {
		return err
	}
	*l = players
	return nil
}

type Tournament struct {
	ID           uuid.UUID        `db:"id" json:"id"`
	Name         string           `db:"name" json:"name"`
	Game         string           `db:"game" json:"game"`
	Status       TournamentStatus `db:"status" json:"status"`
	MaxPlayers   int              `db:"max_players" json:"maxPlayers"`
	CurrentRound int              `db:"current_round" json:"currentRound"`
	TotalRounds  int              `db:"total_rounds" json:"totalRounds"`
	SeedingMode  SeedingMode      `db:"seeding_mode" json:"seedingMode"`
	SeedOrder    PlayerList       `db:"seed_order" json:"seedOrder,omitempty"`
	Champion     *string          `db:"champion" json:"champion"`
	AutoArchive  bool             `db:"auto_archive" json:"autoArchive"`
	Archived     bool             `db:"archived" json:"archived"`
	CompletedAt  *time.Time       `db:"completed_at" json:"completedAt,omitempty"`
	ArchivedAt   *time.Time       `db:"archived_at" json:"archivedAt,omitempty"`
	PruneAt      *time.Time       `db:"prune_at" json:"pruneAt,omitempty"`

	// Incremented on every write, used for compare-and-swap updates
	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// TotalRoundsFor returns log2(maxPlayers) for a power-of-two bracket size.
func TotalRoundsFor(maxPlayers int) (int, error) {
	if maxPlayers < 2 || maxPlayers&(maxPlayers-1) != 0 {
		return 0, ErrInvalidMaxPlayers
	}
	return bits.TrailingZeros(uint(maxPlayers)), nil
}

func (t *Tournament) IsFinalRound(round int) bool {
	return round == t.TotalRounds
}

func (t *Tournament) IsSeeded() bool {
	return t.CurrentRound > 0
}

// AcceptsResults reports whether players may still report scores.
func (t *Tournament) AcceptsResults() bool {
	return t.Status == TournamentUpcoming || t.Status == TournamentLive
}

func (t *Tournament) IsFinished() bool {
	return t.Status == TournamentCompleted || t.Status == TournamentArchived
}
