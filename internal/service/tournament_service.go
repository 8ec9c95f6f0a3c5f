package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/AdamBeresnev/op-bracket/internal/bracket"
	"github.com/AdamBeresnev/op-bracket/internal/events"
	"github.com/AdamBeresnev/op-bracket/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"
)

const SystemActor = "system"

// Publisher receives domain events after the state change they describe has committed.
type Publisher interface {
	Publish(e events.Event)
}

func utcNow() time.Time {
	return time.Now().UTC()
}

type TournamentService struct {
	db       *sqlx.DB
	store    *store.TournamentStore
	seeder   *Seeder
	autoSeed bool
	now      func() time.Time
}

func NewTournamentService(db *sqlx.DB, store *store.TournamentStore, seeder *Seeder, autoSeed bool) *TournamentService {
	return &TournamentService{db: db, store: store, seeder: seeder, autoSeed: autoSeed, now: utcNow}
}

type TournamentInput struct {
	Name        string              `json:"name"`
	Game        string              `json:"game"`
	MaxPlayers  int                 `json:"maxPlayers"`
	SeedingMode bracket.SeedingMode `json:"seedingMode"`
	SeedOrder   []string            `json:"seedOrder"`
	AutoArchive *bool               `json:"autoArchive"`
}

type TournamentData struct {
	Tournament    *bracket.Tournament     `json:"tournament"`
	Registrations []bracket.Registration  `json:"registrations"`
	Matches       []bracket.Match         `json:"matches"`
	Timeline      []bracket.TimelineEntry `json:"timeline"`
}

func (s *TournamentService) CreateTournament(ctx context.Context, input TournamentInput) (*bracket.Tournament, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", bracket.ErrValidation)
	}

	totalRounds, err := bracket.TotalRoundsFor(input.MaxPlayers)
	if err != nil {
		return nil, err
	}

	mode := input.SeedingMode
	if mode == "" {
		mode = bracket.SeedingRandom
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", bracket.ErrInvalidSeedingMode, mode)
	}
	if len(input.SeedOrder) > 0 && len(input.SeedOrder) != input.MaxPlayers {
		return nil, fmt.Errorf("%w: got %d players, want %d", bracket.ErrInvalidSeedOrder, len(input.SeedOrder), input.MaxPlayers)
	}

	autoArchive := true
	if input.AutoArchive != nil {
		autoArchive = *input.AutoArchive
	}

	tournament := &bracket.Tournament{
		ID:          uuid.New(),
		Name:        name,
		Game:        strings.TrimSpace(input.Game),
		Status:      bracket.TournamentSetup,
		MaxPlayers:  input.MaxPlayers,
		TotalRounds: totalRounds,
		SeedingMode: mode,
		AutoArchive: autoArchive,
		CreatedAt:   s.now(),
	}
	if len(input.SeedOrder) > 0 {
		tournament.SeedOrder = slices.Clone(input.SeedOrder)
	}

	if err := s.store.CreateTournament(ctx, s.db, tournament); err != nil {
		return nil, err
	}

	slog.Info("tournament created", "tournament_id", tournament.ID, "max_players", tournament.MaxPlayers, "mode", mode)
	return tournament, nil
}

// SetSeedOrder replaces the admin seed order while the tournament is still in setup.
func (s *TournamentService) SetSeedOrder(ctx context.Context, tournamentID uuid.UUID, order []string) (*bracket.Tournament, error) {
	tournament, err := s.store.GetTournament(ctx, s.db, tournamentID)
	if err != nil {
		return nil, err
	}
	if tournament.Status != bracket.TournamentSetup {
		return nil, fmt.Errorf("%w: tournament is %s", bracket.ErrRegistrationClosed, tournament.Status)
	}
	if len(order) != tournament.MaxPlayers {
		return nil, fmt.Errorf("%w: got %d players, want %d", bracket.ErrInvalidSeedOrder, len(order), tournament.MaxPlayers)
	}

	tournament.SeedOrder = slices.Clone(order)
	if err := s.store.UpdateTournament(ctx, s.db, tournament); err != nil {
		return nil, err
	}
	return tournament, nil
}

// Register adds a player while the tournament is in setup. The registration that fills
// the roster triggers seeding when auto seed is on.
func (s *TournamentService) Register(ctx context.Context, tournamentID uuid.UUID, playerID string) (*bracket.Registration, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, fmt.Errorf("%w: player id is required", bracket.ErrValidation)
	}

	var (
		registration *bracket.Registration
		filled       bool
	)
	err := s.store.InTx(ctx, func(tx *sqlx.Tx) error {
		tournament, err := s.store.GetTournament(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if tournament.Status != bracket.TournamentSetup {
			return bracket.ErrRegistrationClosed
		}

		count, err := s.store.CountRegistrations(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if count >= tournament.MaxPlayers {
			return bracket.ErrTournamentFull
		}

		registration = &bracket.Registration{
			TournamentID: tournamentID,
			PlayerID:     playerID,
			RegisteredAt: s.now(),
		}
		if err := s.store.CreateRegistration(ctx, tx, registration); err != nil {
			return err
		}
		filled = count+1 == tournament.MaxPlayers
		return nil
	})
	if err != nil {
		return nil, err
	}

	if filled && s.autoSeed {
		if _, err := s.seeder.Seed(ctx, tournamentID, SystemActor); err != nil {
			// The registration stands, an admin can seed manually
			slog.Error("auto seed failed", "tournament_id", tournamentID, "error", err)
		}
	}

	return registration, nil
}

func (s *TournamentService) GetTournament(ctx context.Context, tournamentID uuid.UUID) (*bracket.Tournament, error) {
	return s.store.GetTournament(ctx, s.db, tournamentID)
}

func (s *TournamentService) GetTournamentData(ctx context.Context, tournamentID uuid.UUID) (*TournamentData, error) {
	data := &TournamentData{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tournament, err := s.store.GetTournament(gctx, s.db, tournamentID)
		data.Tournament = tournament
		return err
	})
	g.Go(func() error {
		registrations, err := s.store.GetRegistrations(gctx, s.db, tournamentID)
		data.Registrations = registrations
		return err
	})
	g.Go(func() error {
		matches, err := s.store.GetMatches(gctx, s.db, tournamentID)
		data.Matches = matches
		return err
	})
	g.Go(func() error {
		timeline, err := s.store.GetTimeline(gctx, s.db, tournamentID)
		data.Timeline = timeline
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, bracket.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load tournament %s: %w", tournamentID, err)
	}

	bracket.Link(data.Matches, data.Tournament.TotalRounds)
	return data, nil
}
