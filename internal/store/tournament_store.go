package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AdamBeresnev/op-bracket/internal/bracket"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// TournamentStore is the bracket store. Every method takes the executor to run on, so
// services decide whether a call is part of a transaction.
type TournamentStore struct {
	db *sqlx.DB
}

func NewTournamentStore(db *sqlx.DB) *TournamentStore {
	return &TournamentStore{db: db}
}

// InTx runs fn inside a transaction and commits if it returns nil.
func (s *TournamentStore) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

const (
	tournamentColumns = `id, name, game, status, max_players, current_round, total_rounds, seeding_mode,
		seed_order, champion, auto_archive, archived, completed_at, archived_at, prune_at, version, created_at`

	createTournamentQuery = `INSERT INTO tournaments (` + tournamentColumns + `)
		VALUES (:id, :name, :game, :status, :max_players, :current_round, :total_rounds, :seeding_mode,
		:seed_order, :champion, :auto_archive, :archived, :completed_at, :archived_at, :prune_at, :version, :created_at)`

	// total_rounds, max_players and seeding_mode are fixed at creation
	updateTournamentQuery = `UPDATE tournaments SET
		status = :status,
		current_round = :current_round,
		seed_order = :seed_order,
		champion = :champion,
		auto_archive = :auto_archive,
		archived = :archived,
		completed_at = :completed_at,
		archived_at = :archived_at,
		prune_at = :prune_at,
		version = version + 1
		WHERE id = :id AND version = :version`
)

func (s *TournamentStore) CreateTournament(ctx context.Context, q sqlx.ExtContext, tournament *bracket.Tournament) error {
	_, err := sqlx.NamedExecContext(ctx, q, createTournamentQuery, tournament)
	return mapError(err)
}

func (s *TournamentStore) GetTournament(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*bracket.Tournament, error) {
	var tournament bracket.Tournament
	err := sqlx.GetContext(ctx, q, &tournament, "SELECT "+tournamentColumns+" FROM tournaments WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("tournament %s: %w", id, mapError(err))
	}
	return &tournament, nil
}

// UpdateTournament writes the mutable fields if nobody else wrote since the caller read
// the row. On success the in-memory version is bumped to match.
func (s *TournamentStore) UpdateTournament(ctx context.Context, q sqlx.ExtContext, tournament *bracket.Tournament) error {
	res, err := sqlx.NamedExecContext(ctx, q, updateTournamentQuery, tournament)
	if err != nil {
		return mapError(err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("tournament %s at version %d: %w", tournament.ID, tournament.Version, err)
	}
	tournament.Version++
	return nil
}

func (s *TournamentStore) ListTournamentsByStatus(ctx context.Context, q sqlx.QueryerContext, statuses ...bracket.TournamentStatus) ([]bracket.Tournament, error) {
	query, args, err := sqlx.In("SELECT "+tournamentColumns+" FROM tournaments WHERE status IN (?) ORDER BY created_at ASC", statuses)
	if err != nil {
		return nil, err
	}
	var tournaments []bracket.Tournament
	err = sqlx.SelectContext(ctx, q, &tournaments, query, args...)
	return tournaments, err
}

// ListArchivable returns completed tournaments with auto archive on that completed at or before cutoff.
func (s *TournamentStore) ListArchivable(ctx context.Context, q sqlx.QueryerContext, cutoff time.Time) ([]bracket.Tournament, error) {
	var tournaments []bracket.Tournament
	err := sqlx.SelectContext(ctx, q, &tournaments, `SELECT `+tournamentColumns+` FROM tournaments
		WHERE status = ? AND auto_archive = 1 AND archived = 0 AND completed_at IS NOT NULL AND completed_at <= ?
		ORDER BY completed_at ASC`, bracket.TournamentCompleted, cutoff.UTC())
	return tournaments, err
}

func (s *TournamentStore) ListPrunable(ctx context.Context, q sqlx.QueryerContext, now time.Time) ([]bracket.Tournament, error) {
	var tournaments []bracket.Tournament
	err := sqlx.SelectContext(ctx, q, &tournaments, `SELECT `+tournamentColumns+` FROM tournaments
		WHERE archived = 1 AND prune_at IS NOT NULL AND prune_at <= ?
		ORDER BY prune_at ASC`, now.UTC())
	return tournaments, err
}

// DeleteArchived removes an archived tournament whose prune time has passed. Registrations,
// matches and timeline go with it. Returns ErrNotFound if the row no longer qualifies.
func (s *TournamentStore) DeleteArchived(ctx context.Context, q sqlx.ExecerContext, id uuid.UUID, now time.Time) error {
	res, err := q.ExecContext(ctx, `DELETE FROM tournaments
		WHERE id = ? AND archived = 1 AND prune_at IS NOT NULL AND prune_at <= ?`, id, now.UTC())
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("prunable tournament %s: %w", id, bracket.ErrNotFound)
	}
	return nil
}

func (s *TournamentStore) CreateRegistration(ctx context.Context, q sqlx.ExtContext, registration *bracket.Registration) error {
	_, err := sqlx.NamedExecContext(ctx, q, `INSERT INTO registrations (tournament_id, player_id, registered_at)
		VALUES (:tournament_id, :player_id, :registered_at)`, registration)
	if errors.Is(mapError(err), bracket.ErrConcurrentUpdate) {
		return bracket.ErrAlreadyRegistered
	}
	return mapError(err)
}

func (s *TournamentStore) GetRegistrations(ctx context.Context, q sqlx.QueryerContext, tournamentID uuid.UUID) ([]bracket.Registration, error) {
	var registrations []bracket.Registration
	err := sqlx.SelectContext(ctx, q, &registrations, `SELECT tournament_id, player_id, registered_at FROM registrations
		WHERE tournament_id = ? ORDER BY registered_at ASC, player_id ASC`, tournamentID)
	return registrations, err
}

func (s *TournamentStore) CountRegistrations(ctx context.Context, q sqlx.QueryerContext, tournamentID uuid.UUID) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q, &count, "SELECT COUNT(*) FROM registrations WHERE tournament_id = ?", tournamentID)
	return count, err
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return bracket.ErrConcurrentUpdate
	}
	return nil
}

// mapError translates driver errors into the bracket error taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return bracket.ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %v", bracket.ErrConcurrentUpdate, err)
		}
	}
	return err
}
