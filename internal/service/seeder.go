package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/AdamBeresnev/op-bracket/internal/bracket"
	"github.com/AdamBeresnev/op-bracket/internal/events"
	"github.com/AdamBeresnev/op-bracket/internal/store"
	"github.com/AdamBeresnev/op-bracket/internal/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Seeder turns a full roster into round 1.
type Seeder struct {
	db        *sqlx.DB
	store     *store.TournamentStore
	publisher Publisher
	now       func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeeder uses rng for random seeding. A nil rng gets a randomly seeded one.
func NewSeeder(db *sqlx.DB, store *store.TournamentStore, publisher Publisher, rng *rand.Rand) *Seeder {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Seeder{db: db, store: store, publisher: publisher, rng: rng, now: utcNow}
}

type SeedResult struct {
	Matches       []bracket.Match `json:"matches"`
	AlreadySeeded bool            `json:"alreadySeeded"`
}

// Seed creates the round 1 pairings and moves the tournament to upcoming in one transaction.
// Seeding an already seeded tournament is a successful no-op.
func (s *Seeder) Seed(ctx context.Context, tournamentID uuid.UUID, actor string) (*SeedResult, error) {
	var (
		tournament *bracket.Tournament
		matches    []bracket.Match
	)
	now := s.now()

	err := s.store.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		tournament, err = s.store.GetTournament(ctx, tx, tournamentID)
		if err != nil {
			return err
		}

		existing, err := s.store.CountRoundMatches(ctx, tx, tournamentID, 1)
		if err != nil {
			return fmt.Errorf("failed to check existing round 1: %w", err)
		}
		if tournament.IsSeeded() || existing > 0 {
			return bracket.ErrAlreadySeeded
		}
		if tournament.Status != bracket.TournamentSetup && tournament.Status != bracket.TournamentUpcoming {
			return fmt.Errorf("%w: tournament is %s", bracket.ErrRegistrationClosed, tournament.Status)
		}

		registrations, err := s.store.GetRegistrations(ctx, tx, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to get registrations: %w", err)
		}
		if len(registrations) != tournament.MaxPlayers {
			return fmt.Errorf("%w: %d of %d players registered", bracket.ErrRosterIncomplete, len(registrations), tournament.MaxPlayers)
		}

		players := bracket.PlayerIDs(registrations)
		switch tournament.SeedingMode {
		case bracket.SeedingAdmin:
			if err := validateSeedOrder(tournament.SeedOrder, players); err != nil {
				return err
			}
			players = slices.Clone(tournament.SeedOrder)
		default:
			players = s.shuffle(players)
		}
		matches = pairRound1(tournamentID, players, now)

		tournament.Status = bracket.TournamentUpcoming
		tournament.CurrentRound = 1
		if err := s.store.UpdateTournament(ctx, tx, tournament); err != nil {
			if errors.Is(err, bracket.ErrConcurrentUpdate) {
				// Another seeder committed first
				return bracket.ErrAlreadySeeded
			}
			return err
		}
		if err := s.store.CreateMatches(ctx, tx, matches); err != nil {
			return fmt.Errorf("failed to create round 1: %w", err)
		}
		return nil
	})
	if errors.Is(err, bracket.ErrAlreadySeeded) {
		return s.alreadySeeded(ctx, tournamentID)
	}
	if err != nil {
		return nil, err
	}

	bracket.Link(matches, tournament.TotalRounds)
	s.publisher.Publish(events.Event{
		Kind:         events.TournamentSeeded,
		TournamentID: tournamentID,
		Round:        1,
		Actor:        actor,
		Detail:       string(tournament.SeedingMode),
		At:           now,
	})
	slog.Info("bracket seeded", "tournament_id", tournamentID, "mode", tournament.SeedingMode, "matches", len(matches))

	return &SeedResult{Matches: matches}, nil
}

func (s *Seeder) alreadySeeded(ctx context.Context, tournamentID uuid.UUID) (*SeedResult, error) {
	matches, err := s.store.GetRoundMatches(ctx, s.db, tournamentID, 1)
	if err != nil {
		return nil, err
	}
	slog.Info("seed skipped", "tournament_id", tournamentID, "reason", bracket.ErrAlreadySeeded)
	return &SeedResult{Matches: matches, AlreadySeeded: true}, nil
}

// shuffle is a Fisher-Yates shuffle over a copy of players.
func (s *Seeder) shuffle(players []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := slices.Clone(players)
	for i := len(out) - 1; i > 0; i-- {
		j := s.rng.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// pairRound1 pairs consecutive players: (p1, p2) in slot 1, (p3, p4) in slot 2 and so on.
func pairRound1(tournamentID uuid.UUID, players []string, now time.Time) []bracket.Match {
	matches := make([]bracket.Match, 0, len(players)/2)
	for i := 0; i+1 < len(players); i += 2 {
		pos := bracket.Position{Round: 1, Slot: i/2 + 1}
		matches = append(matches, bracket.NewMatch(tournamentID, pos, utils.Ptr(players[i]), utils.Ptr(players[i+1]), now))
	}
	return matches
}

// validateSeedOrder requires order to hold exactly the registered players, once each.
func validateSeedOrder(order []string, registered []string) error {
	if len(order) != len(registered) {
		return fmt.Errorf("%w: got %d players, want %d", bracket.ErrInvalidSeedOrder, len(order), len(registered))
	}

	remaining := make(map[string]bool, len(registered))
	for _, id := range registered {
		remaining[id] = true
	}
	for _, id := range order {
		if !remaining[id] {
			return fmt.Errorf("%w: %q is unknown or listed twice", bracket.ErrInvalidSeedOrder, id)
		}
		delete(remaining, id)
	}
	return nil
}
