package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/AdamBeresnev/op-bracket/internal/bracket"
	"github.com/AdamBeresnev/op-bracket/internal/events"
	"github.com/AdamBeresnev/op-bracket/internal/metrics"
	"github.com/AdamBeresnev/op-bracket/internal/store"
	"github.com/AdamBeresnev/op-bracket/internal/utils"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// MatchService is the write path for a single match. It trusts the actor it is handed;
// authorization happens before it is called.
type MatchService struct {
	db          *sqlx.DB
	store       *store.TournamentStore
	progression *Progression
	publisher   Publisher
	now         func() time.Time
}

func NewMatchService(db *sqlx.DB, store *store.TournamentStore, progression *Progression, publisher Publisher) *MatchService {
	return &MatchService{db: db, store: store, progression: progression, publisher: publisher, now: utcNow}
}

func (s *MatchService) GetMatch(ctx context.Context, tournamentID uuid.UUID, matchID string) (*bracket.Match, error) {
	tournament, err := s.store.GetTournament(ctx, s.db, tournamentID)
	if err != nil {
		return nil, err
	}
	match, err := s.store.GetMatch(ctx, s.db, tournamentID, matchID)
	if err != nil {
		return nil, err
	}
	match.NextMatchID = bracket.NextMatchID(match.Position(), tournament.TotalRounds)
	return match, nil
}

// StartMatch marks a fully paired pending match live.
func (s *MatchService) StartMatch(ctx context.Context, tournamentID uuid.UUID, matchID, actor string) (*bracket.Match, error) {
	tournament, err := s.store.GetTournament(ctx, s.db, tournamentID)
	if err != nil {
		return nil, err
	}
	if !tournament.AcceptsResults() {
		return nil, fmt.Errorf("%w: tournament is %s", bracket.ErrTournamentNotActive, tournament.Status)
	}

	match, err := s.store.GetMatch(ctx, s.db, tournamentID, matchID)
	if err != nil {
		return nil, err
	}
	if err := match.Start(); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMatch(ctx, s.db, match); err != nil {
		return nil, fmt.Errorf("failed to start match %s: %w", matchID, err)
	}

	s.promote(ctx, tournamentID)

	s.publisher.Publish(events.Event{
		Kind:         events.MatchStarted,
		TournamentID: tournamentID,
		MatchID:      match.ID,
		Round:        match.Round,
		Actor:        actor,
		At:           s.now(),
	})
	match.NextMatchID = bracket.NextMatchID(match.Position(), tournament.TotalRounds)
	return match, nil
}

// SubmitResult records a player-reported score. The result write is atomic on its own;
// advancement and round generation follow it and are retried by reconciliation if they fail.
func (s *MatchService) SubmitResult(ctx context.Context, tournamentID uuid.UUID, matchID string, scoreA, scoreB int, reportedBy string) (*bracket.Match, error) {
	tournament, err := s.store.GetTournament(ctx, s.db, tournamentID)
	if err != nil {
		return nil, err
	}
	if !tournament.AcceptsResults() {
		return nil, fmt.Errorf("%w: tournament is %s", bracket.ErrTournamentNotActive, tournament.Status)
	}

	match, err := s.store.GetMatch(ctx, s.db, tournamentID, matchID)
	if err != nil {
		return nil, err
	}
	if err := match.Submit(scoreA, scoreB, reportedBy, s.now()); err != nil {
		return nil, err
	}

	if err := s.store.UpdateMatch(ctx, s.db, match); err != nil {
		if !errors.Is(err, bracket.ErrConcurrentUpdate) {
			return nil, fmt.Errorf("failed to save result for %s: %w", matchID, err)
		}
		// Someone wrote between our read and write. If that write locked the match,
		// this submission lost the race.
		current, getErr := s.store.GetMatch(ctx, s.db, tournamentID, matchID)
		if getErr == nil && current.Locked {
			metrics.ConcurrencyAnomalies.WithLabelValues("submit_result").Inc()
			slog.Warn("result submission lost race", "tournament_id", tournamentID, "match_id", matchID, "reported_by", reportedBy)
			return nil, bracket.ErrMatchLocked
		}
		return nil, err
	}

	s.promote(ctx, tournamentID)
	metrics.MatchesCompleted.WithLabelValues("player").Inc()
	s.publishCompleted(events.MatchCompleted, match, reportedBy)

	s.followOn(ctx, match, reportedBy)
	match.NextMatchID = bracket.NextMatchID(match.Position(), tournament.TotalRounds)
	return match, nil
}

// AdminOverride sets the result directly, regardless of the lock. The winner may be any
// registered player.
func (s *MatchService) AdminOverride(ctx context.Context, tournamentID uuid.UUID, matchID, winner string, scoreA, scoreB *int, admin string) (*bracket.Match, error) {
	tournament, err := s.store.GetTournament(ctx, s.db, tournamentID)
	if err != nil {
		return nil, err
	}
	if tournament.Status == bracket.TournamentArchived || !tournament.IsSeeded() {
		return nil, fmt.Errorf("%w: tournament is %s", bracket.ErrTournamentNotActive, tournament.Status)
	}

	registrations, err := s.store.GetRegistrations(ctx, s.db, tournamentID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(bracket.PlayerIDs(registrations), winner) {
		return nil, fmt.Errorf("%w: %q", bracket.ErrInvalidWinner, winner)
	}

	var match *bracket.Match
	operation := func() (struct{}, error) {
		m, err := s.store.GetMatch(ctx, s.db, tournamentID, matchID)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if err := m.Override(winner, scoreA, scoreB, admin, s.now()); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if err := s.store.UpdateMatch(ctx, s.db, m); err != nil {
			if errors.Is(err, bracket.ErrConcurrentUpdate) {
				metrics.ConcurrencyAnomalies.WithLabelValues("admin_override").Inc()
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		match = m
		return struct{}{}, nil
	}
	_, err = backoff.Retry(ctx, operation, backoff.WithBackOff(s.progression.newBackOff()), backoff.WithMaxTries(s.progression.maxTries))
	if err != nil {
		// Prior state is untouched
		return nil, fmt.Errorf("override of %s failed: %w", matchID, err)
	}

	s.promote(ctx, tournamentID)
	metrics.MatchesCompleted.WithLabelValues("admin").Inc()
	s.publishCompleted(events.MatchOverridden, match, admin)

	s.followOn(ctx, match, admin)
	match.NextMatchID = bracket.NextMatchID(match.Position(), tournament.TotalRounds)
	return match, nil
}

// AdminReset clears the result of a match and unlocks it. A winner that already advanced
// stays in the next match; correcting it is left to the admin.
func (s *MatchService) AdminReset(ctx context.Context, tournamentID uuid.UUID, matchID, admin string) (*bracket.Match, error) {
	tournament, err := s.store.GetTournament(ctx, s.db, tournamentID)
	if err != nil {
		return nil, err
	}
	if tournament.Status == bracket.TournamentArchived {
		return nil, fmt.Errorf("%w: tournament is %s", bracket.ErrTournamentNotActive, tournament.Status)
	}

	match, err := s.store.GetMatch(ctx, s.db, tournamentID, matchID)
	if err != nil {
		return nil, err
	}
	previousWinner := match.Winner
	match.Reset()
	if err := s.store.UpdateMatch(ctx, s.db, match); err != nil {
		return nil, fmt.Errorf("failed to reset match %s: %w", matchID, err)
	}

	s.publisher.Publish(events.Event{
		Kind:         events.MatchReset,
		TournamentID: tournamentID,
		MatchID:      match.ID,
		Round:        match.Round,
		Actor:        admin,
		Winner:       utils.OrZero(previousWinner),
		At:           s.now(),
	})
	slog.Info("match reset", "tournament_id", tournamentID, "match_id", matchID, "admin", admin)

	if previousWinner != nil && !tournament.IsFinalRound(match.Round) {
		s.warnStaleAdvancement(ctx, tournamentID, match, *previousWinner)
	}

	match.NextMatchID = bracket.NextMatchID(match.Position(), tournament.TotalRounds)
	return match, nil
}

func (s *MatchService) warnStaleAdvancement(ctx context.Context, tournamentID uuid.UUID, match *bracket.Match, previousWinner string) {
	next, side := match.Position().Next()
	downstream, err := s.store.GetMatch(ctx, s.db, tournamentID, next.ID())
	if err != nil {
		return
	}
	if current := downstream.Player(side); current != nil && *current == previousWinner {
		slog.Warn("reset match winner is still advanced downstream",
			"tournament_id", tournamentID,
			"match_id", match.ID,
			"next_match_id", downstream.ID,
			"player", previousWinner,
		)
	}
}

// promote moves an upcoming tournament to live on its first match activity.
func (s *MatchService) promote(ctx context.Context, tournamentID uuid.UUID) {
	operation := func() (struct{}, error) {
		tournament, err := s.store.GetTournament(ctx, s.db, tournamentID)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if tournament.Status != bracket.TournamentUpcoming {
			return struct{}{}, nil
		}
		tournament.Status = bracket.TournamentLive
		err = s.store.UpdateTournament(ctx, s.db, tournament)
		if err != nil && !errors.Is(err, bracket.ErrConcurrentUpdate) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(s.progression.newBackOff()), backoff.WithMaxTries(s.progression.maxTries))
	if err != nil {
		slog.Error("failed to mark tournament live", "tournament_id", tournamentID, "error", err)
	}
}

func (s *MatchService) publishCompleted(kind events.Kind, match *bracket.Match, actor string) {
	winner := *match.Winner
	loser := ""
	if match.PlayerA != nil && *match.PlayerA != winner {
		loser = *match.PlayerA
	} else if match.PlayerB != nil && *match.PlayerB != winner {
		loser = *match.PlayerB
	}

	score := ""
	if match.ScoreA != nil && match.ScoreB != nil {
		score = fmt.Sprintf("%d-%d", *match.ScoreA, *match.ScoreB)
	}

	s.publisher.Publish(events.Event{
		Kind:         kind,
		TournamentID: match.TournamentID,
		MatchID:      match.ID,
		Round:        match.Round,
		Actor:        actor,
		Winner:       winner,
		Loser:        loser,
		Score:        score,
		At:           utils.OrZero(match.SubmittedAt),
	})
}

// followOn runs advancement and the round trigger. Failures are logged and left for the
// reconcile sweep; the accepted result is not rolled back.
func (s *MatchService) followOn(ctx context.Context, match *bracket.Match, actor string) {
	if err := s.progression.HandleResult(ctx, match, actor); err != nil {
		slog.Error("progression after result failed",
			"tournament_id", match.TournamentID,
			"match_id", match.ID,
			"error", err,
		)
	}
}
