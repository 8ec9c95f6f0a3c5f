package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdamBeresnev/op-bracket/internal/config"
	"github.com/AdamBeresnev/op-bracket/internal/db"
	"github.com/AdamBeresnev/op-bracket/internal/events"
	"github.com/AdamBeresnev/op-bracket/internal/realtime"
	"github.com/AdamBeresnev/op-bracket/internal/service"
	"github.com/AdamBeresnev/op-bracket/internal/store"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"
)

type application struct {
	db          *sqlx.DB
	secret      []byte
	corsOrigins []string

	bus         *events.Bus
	hub         *realtime.Hub
	seeder      *service.Seeder
	tournaments *service.TournamentService
	matches     *service.MatchService
	timeline    *service.TimelineLogger
	reports     *service.ReportService
	archiver    *service.Archiver
}

func newApplication(database *sqlx.DB, cfg *config.Config) (*application, error) {
	tournamentStore := store.NewTournamentStore(database)
	bus := events.NewBus(cfg.EventBuffer)

	seeder := service.NewSeeder(database, tournamentStore, bus, nil)
	progression := service.NewProgression(database, tournamentStore, bus)
	tournaments := service.NewTournamentService(database, tournamentStore, seeder, cfg.AutoSeed)

	archiver, err := service.NewArchiver(database, tournamentStore, progression, bus, service.ArchiveConfig{
		Delay:         cfg.ArchiveDelay,
		PruneAfter:    cfg.PruneAfter,
		SweepInterval: cfg.SweepInterval,
	})
	if err != nil {
		return nil, err
	}

	app := &application{
		db:          database,
		secret:      []byte(cfg.JWTSecret),
		corsOrigins: cfg.CORSAllowedOrigins,
		bus:         bus,
		hub:         realtime.NewHub(nil),
		seeder:      seeder,
		tournaments: tournaments,
		matches:     service.NewMatchService(database, tournamentStore, progression, bus),
		timeline:    service.NewTimelineLogger(database, tournamentStore),
		reports:     service.NewReportService(tournaments, bus),
		archiver:    archiver,
	}

	bus.Subscribe("timeline", app.timeline.Handle)
	bus.Subscribe("websocket", app.hub.HandleEvent)
	bus.Subscribe("archiver", app.archiver.Handle)
	return app, nil
}

func (app *application) start(ctx context.Context) error {
	if err := app.archiver.Start(ctx); err != nil {
		return err
	}
	app.bus.Start(ctx)
	return nil
}

// stop drains queued events before the scheduler and the websocket clients go away.
func (app *application) stop() {
	app.bus.Close()
	if err := app.archiver.Shutdown(); err != nil {
		slog.Error("archive scheduler shutdown failed", "error", err)
	}
	app.hub.Close()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg))

	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RunMigrations(database.DB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	app, err := newApplication(database, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.start(ctx); err != nil {
		return err
	}
	defer app.stop()

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
