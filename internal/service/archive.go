package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AdamBeresnev/op-bracket/internal/bracket"
	"github.com/AdamBeresnev/op-bracket/internal/events"
	"github.com/AdamBeresnev/op-bracket/internal/metrics"
	"github.com/AdamBeresnev/op-bracket/internal/store"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type ArchiveConfig struct {
	// Time between completion and archiving
	Delay time.Duration
	// Time between archiving and deletion
	PruneAfter    time.Duration
	SweepInterval time.Duration
}

// Archiver retires completed tournaments. A one-time job is scheduled per completion and a
// periodic sweep catches anything the jobs missed (restarts, failures), prunes archived
// tournaments and reconciles tournaments in play.
type Archiver struct {
	db          *sqlx.DB
	store       *store.TournamentStore
	progression *Progression
	publisher   Publisher
	scheduler   gocron.Scheduler
	cfg         ArchiveConfig
	now         func() time.Time

	// Context for scheduled jobs, set by Start
	ctx context.Context

	shutdownOnce sync.Once
	shutdownErr  error
}

func NewArchiver(db *sqlx.DB, store *store.TournamentStore, progression *Progression, publisher Publisher, cfg ArchiveConfig) (*Archiver, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Archiver{
		db:          db,
		store:       store,
		progression: progression,
		publisher:   publisher,
		scheduler:   scheduler,
		cfg:         cfg,
		now:         utcNow,
		ctx:         context.Background(),
	}, nil
}

// Start registers the sweep job and starts the scheduler.
func (a *Archiver) Start(ctx context.Context) error {
	a.ctx = ctx
	_, err := a.scheduler.NewJob(
		gocron.DurationJob(a.cfg.SweepInterval),
		gocron.NewTask(func() {
			a.Sweep(a.ctx)
		}),
		gocron.WithName("archive-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	a.scheduler.Start()
	slog.Info("archive scheduler started", "sweep_interval", a.cfg.SweepInterval, "archive_delay", a.cfg.Delay, "prune_after", a.cfg.PruneAfter)
	return nil
}

// Shutdown stops the scheduler and waits for running jobs. Safe to call more than once.
func (a *Archiver) Shutdown() error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.scheduler.Shutdown()
	})
	return a.shutdownErr
}

// Handle is the event bus subscriber. A completed tournament gets its archive job.
func (a *Archiver) Handle(ctx context.Context, e events.Event) error {
	if e.Kind != events.TournamentCompleted {
		return nil
	}
	tournament, err := a.store.GetTournament(ctx, a.db, e.TournamentID)
	if err != nil {
		return err
	}
	if !tournament.AutoArchive || tournament.CompletedAt == nil {
		return nil
	}
	return a.schedule(tournament.ID, tournament.CompletedAt.Add(a.cfg.Delay))
}

func (a *Archiver) schedule(tournamentID uuid.UUID, at time.Time) error {
	tag := tournamentID.String()
	// A corrected champion completes the tournament again; keep a single job
	a.scheduler.RemoveByTags(tag)

	start := gocron.OneTimeJobStartDateTime(at)
	if !at.After(a.now()) {
		start = gocron.OneTimeJobStartImmediately()
	}

	_, err := a.scheduler.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(func() {
			if err := a.archiveScheduled(a.ctx, tournamentID); err != nil {
				slog.Error("scheduled archive failed", "tournament_id", tournamentID, "error", err)
			}
		}),
		gocron.WithName("archive-"+tag),
		gocron.WithTags(tag),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule archive for %s: %w", tournamentID, err)
	}
	slog.Info("archive scheduled", "tournament_id", tournamentID, "at", at)
	return nil
}

// archiveScheduled re-checks the tournament before acting, auto archive may have been
// turned off or the tournament already archived.
func (a *Archiver) archiveScheduled(ctx context.Context, tournamentID uuid.UUID) error {
	tournament, err := a.store.GetTournament(ctx, a.db, tournamentID)
	if errors.Is(err, bracket.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !tournament.AutoArchive || tournament.Status != bracket.TournamentCompleted {
		return nil
	}
	_, err = a.ArchiveTournament(ctx, tournamentID, SystemActor)
	return err
}

// ArchiveTournament archives a completed tournament and sets its prune time. Archiving an
// archived tournament returns it unchanged.
func (a *Archiver) ArchiveTournament(ctx context.Context, tournamentID uuid.UUID, actor string) (*bracket.Tournament, error) {
	tournament, err := a.store.GetTournament(ctx, a.db, tournamentID)
	if err != nil {
		return nil, err
	}
	if tournament.Archived {
		return tournament, nil
	}
	if tournament.Status != bracket.TournamentCompleted {
		return nil, fmt.Errorf("%w: only completed tournaments can be archived, tournament is %s", bracket.ErrValidation, tournament.Status)
	}

	now := a.now()
	pruneAt := now.Add(a.cfg.PruneAfter)
	tournament.Status = bracket.TournamentArchived
	tournament.Archived = true
	tournament.ArchivedAt = &now
	tournament.PruneAt = &pruneAt
	if err := a.store.UpdateTournament(ctx, a.db, tournament); err != nil {
		if errors.Is(err, bracket.ErrConcurrentUpdate) {
			// Whoever won may have archived it already
			current, getErr := a.store.GetTournament(ctx, a.db, tournamentID)
			if getErr == nil && current.Archived {
				return current, nil
			}
		}
		return nil, fmt.Errorf("failed to archive tournament %s: %w", tournamentID, err)
	}

	metrics.TournamentsArchived.Inc()
	a.publisher.Publish(events.Event{
		Kind:         events.TournamentArchived,
		TournamentID: tournamentID,
		Actor:        actor,
		At:           now,
	})
	slog.Info("tournament archived", "tournament_id", tournamentID, "prune_at", pruneAt)
	return tournament, nil
}

// ArchiveDue archives every auto archive tournament whose delay has passed.
func (a *Archiver) ArchiveDue(ctx context.Context) (int, error) {
	due, err := a.store.ListArchivable(ctx, a.db, a.now().Add(-a.cfg.Delay))
	if err != nil {
		return 0, err
	}

	archived := 0
	var errs []error
	for _, t := range due {
		if _, err := a.ArchiveTournament(ctx, t.ID, SystemActor); err != nil {
			errs = append(errs, err)
			continue
		}
		archived++
	}
	return archived, errors.Join(errs...)
}

// PruneDue deletes archived tournaments whose prune time has passed.
func (a *Archiver) PruneDue(ctx context.Context) (int, error) {
	now := a.now()
	due, err := a.store.ListPrunable(ctx, a.db, now)
	if err != nil {
		return 0, err
	}

	pruned := 0
	var errs []error
	for _, t := range due {
		err := a.store.DeleteArchived(ctx, a.db, t.ID, now)
		if errors.Is(err, bracket.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		pruned++
		metrics.TournamentsPruned.Inc()
		a.publisher.Publish(events.Event{
			Kind:         events.TournamentPruned,
			TournamentID: t.ID,
			Actor:        SystemActor,
			At:           now,
		})
		slog.Info("tournament pruned", "tournament_id", t.ID)
	}
	return pruned, errors.Join(errs...)
}

// Sweep runs one pass of archive, prune and reconcile.
func (a *Archiver) Sweep(ctx context.Context) {
	if n, err := a.ArchiveDue(ctx); err != nil {
		slog.Error("archive sweep failed", "archived", n, "error", err)
	}
	if n, err := a.PruneDue(ctx); err != nil {
		slog.Error("prune sweep failed", "pruned", n, "error", err)
	}

	active, err := a.store.ListTournamentsByStatus(ctx, a.db, bracket.TournamentUpcoming, bracket.TournamentLive)
	if err != nil {
		slog.Error("failed to list active tournaments", "error", err)
		return
	}
	for _, t := range active {
		if err := a.progression.Reconcile(ctx, t.ID); err != nil {
			slog.Error("reconcile failed", "tournament_id", t.ID, "error", err)
		}
	}
}
