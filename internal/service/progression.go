package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdamBeresnev/op-bracket/internal/bracket"
	"github.com/AdamBeresnev/op-bracket/internal/events"
	"github.com/AdamBeresnev/op-bracket/internal/metrics"
	"github.com/AdamBeresnev/op-bracket/internal/store"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	errAdvanceDeferred = errors.New("next round not generated yet")
	errRoundIncomplete = errors.New("previous round is not complete")
)

// Progression moves winners forward and generates rounds. Every entry point is idempotent
// so it can be re-run after a partial failure.
type Progression struct {
	db        *sqlx.DB
	store     *store.TournamentStore
	publisher Publisher
	now       func() time.Time

	maxTries     uint
	retryInitial time.Duration
}

func NewProgression(db *sqlx.DB, store *store.TournamentStore, publisher Publisher) *Progression {
	return &Progression{
		db:           db,
		store:        store,
		publisher:    publisher,
		now:          utcNow,
		maxTries:     5,
		retryInitial: 10 * time.Millisecond,
	}
}

func (p *Progression) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInitial
	b.MaxInterval = 20 * p.retryInitial
	return b
}

// HandleResult runs the follow-on effects of an accepted result: advancement inside the
// bracket, then the round completion check.
func (p *Progression) HandleResult(ctx context.Context, match *bracket.Match, actor string) error {
	if !match.IsComplete() {
		return nil
	}

	var errs []error
	if err := p.Advance(ctx, match.TournamentID, match.ID, *match.Winner, actor); err != nil {
		errs = append(errs, err)
	}
	if err := p.OnMatchCompleted(ctx, match.TournamentID, match.Round, actor); err != nil && !errors.Is(err, bracket.ErrAlreadyDone) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Advance writes winner into the slot of the next match fed by completedMatchID.
// The final crowns the champion instead. When the next round does not exist yet the write
// is deferred: round generation copies the winner from the completed match.
func (p *Progression) Advance(ctx context.Context, tournamentID uuid.UUID, completedMatchID, winner, actor string) error {
	pos, err := bracket.ParseMatchID(completedMatchID)
	if err != nil {
		return err
	}

	tournament, err := p.store.GetTournament(ctx, p.db, tournamentID)
	if err != nil {
		return err
	}
	if !pos.InBracket(tournament.TotalRounds) {
		return fmt.Errorf("%w: %s is outside a %d round bracket", bracket.ErrInvalidMatchID, completedMatchID, tournament.TotalRounds)
	}

	if tournament.IsFinalRound(pos.Round) {
		err := p.crownChampion(ctx, tournamentID, winner, actor)
		if errors.Is(err, bracket.ErrAlreadyDone) {
			return nil
		}
		return err
	}

	next, side := pos.Next()
	written := false
	operation := func() (struct{}, error) {
		target, err := p.store.GetMatch(ctx, p.db, tournamentID, next.ID())
		if errors.Is(err, bracket.ErrNotFound) {
			return struct{}{}, backoff.Permanent(errAdvanceDeferred)
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		if current := target.Player(side); current != nil && *current == winner {
			return struct{}{}, nil
		}
		if target.Locked {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: next match %s already has a result", bracket.ErrMatchLocked, target.ID))
		}

		target.SetPlayer(side, &winner)
		if err := p.store.UpdateMatch(ctx, p.db, target); err != nil {
			if errors.Is(err, bracket.ErrConcurrentUpdate) {
				metrics.ConcurrencyAnomalies.WithLabelValues("advance").Inc()
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		written = true
		return struct{}{}, nil
	}

	_, err = backoff.Retry(ctx, operation, backoff.WithBackOff(p.newBackOff()), backoff.WithMaxTries(p.maxTries))
	if errors.Is(err, errAdvanceDeferred) {
		slog.Info("advancement deferred to round generation", "tournament_id", tournamentID, "match_id", completedMatchID, "next_match_id", next.ID())
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to advance %s from %s into %s: %w", winner, completedMatchID, next.ID(), err)
	}

	if written {
		p.publisher.Publish(events.Event{
			Kind:         events.WinnerAdvanced,
			TournamentID: tournamentID,
			MatchID:      next.ID(),
			Round:        next.Round,
			Actor:        actor,
			Winner:       winner,
			Detail:       string(side),
			At:           p.now(),
		})
	}
	return nil
}

// OnMatchCompleted is the round completion trigger. It does nothing until every match in
// round is completed, then crowns the champion (final) or generates the next round.
func (p *Progression) OnMatchCompleted(ctx context.Context, tournamentID uuid.UUID, round int, actor string) error {
	tournament, err := p.store.GetTournament(ctx, p.db, tournamentID)
	if err != nil {
		return err
	}

	matches, err := p.store.GetRoundMatches(ctx, p.db, tournamentID, round)
	if err != nil {
		return err
	}
	if !roundComplete(matches, bracket.MatchesInRound(tournament.TotalRounds, round)) {
		return nil
	}

	if tournament.IsFinalRound(round) {
		return p.crownChampion(ctx, tournamentID, *matches[0].Winner, actor)
	}

	operation := func() (struct{}, error) {
		err := p.generateRound(ctx, tournamentID, round+1, actor)
		if err != nil && !errors.Is(err, bracket.ErrConcurrentUpdate) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err = backoff.Retry(ctx, operation, backoff.WithBackOff(p.newBackOff()), backoff.WithMaxTries(p.maxTries))
	return err
}

func roundComplete(matches []bracket.Match, expected int) bool {
	if expected == 0 || len(matches) != expected {
		return false
	}
	for i := range matches {
		if !matches[i].IsComplete() {
			return false
		}
	}
	return true
}

// generateRound creates round next from the winners of the previous round. The tournament
// current round is compare-and-swapped in the same transaction, so of two racing triggers
// only one inserts matches and logs the round.
func (p *Progression) generateRound(ctx context.Context, tournamentID uuid.UUID, next int, actor string) error {
	now := p.now()
	var matches []bracket.Match

	err := p.store.InTx(ctx, func(tx *sqlx.Tx) error {
		tournament, err := p.store.GetTournament(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if tournament.CurrentRound >= next {
			return bracket.ErrRoundAlreadyGenerated
		}
		existing, err := p.store.CountRoundMatches(ctx, tx, tournamentID, next)
		if err != nil {
			return err
		}
		if existing > 0 {
			return bracket.ErrRoundAlreadyGenerated
		}

		previous, err := p.store.GetRoundMatches(ctx, tx, tournamentID, next-1)
		if err != nil {
			return err
		}
		if !roundComplete(previous, bracket.MatchesInRound(tournament.TotalRounds, next-1)) {
			// A reset landed between the check and this transaction
			return errRoundIncomplete
		}

		winners := make(map[int]*string, len(previous))
		for i := range previous {
			winners[previous[i].Slot] = previous[i].Winner
		}

		size := bracket.MatchesInRound(tournament.TotalRounds, next)
		matches = make([]bracket.Match, 0, size)
		for slot := 1; slot <= size; slot++ {
			pos := bracket.Position{Round: next, Slot: slot}
			feederA, feederB := pos.Feeders()
			// A missing winner stays TBD
			matches = append(matches, bracket.NewMatch(tournamentID, pos, winners[feederA.Slot], winners[feederB.Slot], now))
		}

		tournament.CurrentRound = next
		if tournament.Status == bracket.TournamentUpcoming {
			tournament.Status = bracket.TournamentLive
		}
		if err := p.store.UpdateTournament(ctx, tx, tournament); err != nil {
			if errors.Is(err, bracket.ErrConcurrentUpdate) {
				p.reportAnomaly(tournamentID, "generate_round", next, err)
			}
			return err
		}
		if err := p.store.CreateMatches(ctx, tx, matches); err != nil {
			if errors.Is(err, bracket.ErrConcurrentUpdate) {
				p.reportAnomaly(tournamentID, "generate_round", next, err)
				return fmt.Errorf("%w: %w", bracket.ErrRoundAlreadyGenerated, err)
			}
			return err
		}
		return nil
	})
	if errors.Is(err, errRoundIncomplete) {
		return nil
	}
	if err != nil {
		return err
	}

	metrics.RoundsGenerated.Inc()
	p.publisher.Publish(events.Event{
		Kind:         events.RoundGenerated,
		TournamentID: tournamentID,
		Round:        next,
		Actor:        actor,
		At:           now,
	})
	slog.Info("round generated", "tournament_id", tournamentID, "round", next, "matches", len(matches))
	return nil
}

// crownChampion completes the tournament. Repeating it with the same champion returns
// ErrAlreadyDone. A different champion on a completed tournament (admin override of the
// final) replaces the recorded one.
func (p *Progression) crownChampion(ctx context.Context, tournamentID uuid.UUID, champion, actor string) error {
	var (
		tournament *bracket.Tournament
		corrected  bool
	)
	err := p.store.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		tournament, err = p.store.GetTournament(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if tournament.Status == bracket.TournamentArchived {
			return bracket.ErrAlreadyDone
		}
		if tournament.Status == bracket.TournamentCompleted {
			if tournament.Champion != nil && *tournament.Champion == champion {
				return bracket.ErrAlreadyDone
			}
			corrected = true
		}

		now := p.now()
		tournament.Status = bracket.TournamentCompleted
		tournament.Champion = &champion
		if tournament.CompletedAt == nil {
			tournament.CompletedAt = &now
		}
		err = p.store.UpdateTournament(ctx, tx, tournament)
		if errors.Is(err, bracket.ErrConcurrentUpdate) {
			p.reportAnomaly(tournamentID, "crown_champion", tournament.TotalRounds, err)
		}
		return err
	})
	if err != nil {
		return err
	}

	detail := ""
	if corrected {
		detail = "corrected"
	}
	p.publisher.Publish(events.Event{
		Kind:         events.TournamentCompleted,
		TournamentID: tournamentID,
		Round:        tournament.TotalRounds,
		Actor:        actor,
		Winner:       champion,
		Detail:       detail,
		At:           *tournament.CompletedAt,
	})
	slog.Info("tournament completed", "tournament_id", tournamentID, "champion", champion, "corrected", corrected)
	return nil
}

func (p *Progression) reportAnomaly(tournamentID uuid.UUID, operation string, round int, err error) {
	metrics.ConcurrencyAnomalies.WithLabelValues(operation).Inc()
	slog.Warn("concurrent write detected", "tournament_id", tournamentID, "operation", operation, "round", round, "error", err)
	p.publisher.Publish(events.Event{
		Kind:         events.ConcurrencyAnomaly,
		TournamentID: tournamentID,
		Round:        round,
		Detail:       operation,
		At:           p.now(),
	})
}

// Reconcile re-runs the progression for a tournament in play: advancement of every
// completed match that feeds an existing round, then the trigger for the current round.
// Reset matches are not complete and are left alone.
func (p *Progression) Reconcile(ctx context.Context, tournamentID uuid.UUID) error {
	tournament, err := p.store.GetTournament(ctx, p.db, tournamentID)
	if err != nil {
		return err
	}
	if !tournament.AcceptsResults() || !tournament.IsSeeded() {
		return nil
	}

	matches, err := p.store.GetMatches(ctx, p.db, tournamentID)
	if err != nil {
		return err
	}

	var errs []error
	for i := range matches {
		m := &matches[i]
		if m.Round >= tournament.CurrentRound || !m.IsComplete() {
			continue
		}
		if err := p.Advance(ctx, tournamentID, m.ID, *m.Winner, SystemActor); err != nil && !errors.Is(err, bracket.ErrMatchLocked) {
			errs = append(errs, err)
		}
	}

	err = p.OnMatchCompleted(ctx, tournamentID, tournament.CurrentRound, SystemActor)
	if err != nil && !errors.Is(err, bracket.ErrAlreadyDone) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
