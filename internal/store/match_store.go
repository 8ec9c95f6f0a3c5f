package store

import (
	"context"
	"fmt"

	"github.com/AdamBeresnev/op-bracket/internal/bracket"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	matchColumns = `tournament_id, id, round, slot, player_a, player_b, score_a, score_b, winner, status,
		locked, submitted_at, reported_by, verified_by_admin, version, created_at`

	createMatchesQuery = `INSERT INTO matches (` + matchColumns + `)
		VALUES (:tournament_id, :id, :round, :slot, :player_a, :player_b, :score_a, :score_b, :winner, :status,
		:locked, :submitted_at, :reported_by, :verified_by_admin, :version, :created_at)`

	updateMatchQuery = `UPDATE matches SET
		player_a = :player_a,
		player_b = :player_b,
		score_a = :score_a,
		score_b = :score_b,
		winner = :winner,
		status = :status,
		locked = :locked,
		submitted_at = :submitted_at,
		reported_by = :reported_by,
		verified_by_admin = :verified_by_admin,
		version = version + 1
		WHERE tournament_id = :tournament_id AND id = :id AND version = :version`
)

// CreateMatches inserts a batch. A primary key collision means another writer created
// the same matches first and is reported as ErrConcurrentUpdate.
func (s *TournamentStore) CreateMatches(ctx context.Context, q sqlx.ExtContext, matches []bracket.Match) error {
	if len(matches) == 0 {
		return nil
	}
	_, err := sqlx.NamedExecContext(ctx, q, createMatchesQuery, matches)
	return mapError(err)
}

func (s *TournamentStore) GetMatch(ctx context.Context, q sqlx.QueryerContext, tournamentID uuid.UUID, matchID string) (*bracket.Match, error) {
	var match bracket.Match
	err := sqlx.GetContext(ctx, q, &match, "SELECT "+matchColumns+" FROM matches WHERE tournament_id = ? AND id = ?", tournamentID, matchID)
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", matchID, mapError(err))
	}
	return &match, nil
}

func (s *TournamentStore) GetMatches(ctx context.Context, q sqlx.QueryerContext, tournamentID uuid.UUID) ([]bracket.Match, error) {
	var matches []bracket.Match
	err := sqlx.SelectContext(ctx, q, &matches, "SELECT "+matchColumns+" FROM matches WHERE tournament_id = ? ORDER BY round ASC, slot ASC", tournamentID)
	return matches, err
}

func (s *TournamentStore) GetRoundMatches(ctx context.Context, q sqlx.QueryerContext, tournamentID uuid.UUID, round int) ([]bracket.Match, error) {
	var matches []bracket.Match
	err := sqlx.SelectContext(ctx, q, &matches, "SELECT "+matchColumns+" FROM matches WHERE tournament_id = ? AND round = ? ORDER BY slot ASC", tournamentID, round)
	return matches, err
}

func (s *TournamentStore) CountRoundMatches(ctx context.Context, q sqlx.QueryerContext, tournamentID uuid.UUID, round int) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q, &count, "SELECT COUNT(*) FROM matches WHERE tournament_id = ? AND round = ?", tournamentID, round)
	return count, err
}

// UpdateMatch is a single-document compare-and-swap on the match version.
func (s *TournamentStore) UpdateMatch(ctx context.Context, q sqlx.ExtContext, match *bracket.Match) error {
	res, err := sqlx.NamedExecContext(ctx, q, updateMatchQuery, match)
	if err != nil {
		return mapError(err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("match %s at version %d: %w", match.ID, match.Version, err)
	}
	match.Version++
	return nil
}
