package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AdamBeresnev/op-bracket/internal/metrics"
	"github.com/google/uuid"
)

type Kind string

const (
	TournamentSeeded    Kind = "TOURNAMENT_SEEDED"
	TournamentCompleted Kind = "TOURNAMENT_COMPLETED"
	TournamentArchived  Kind = "TOURNAMENT_ARCHIVED"
	TournamentPruned    Kind = "TOURNAMENT_PRUNED"
	MatchStarted        Kind = "MATCH_STARTED"
	MatchCompleted      Kind = "MATCH_COMPLETED"
	MatchOverridden     Kind = "MATCH_OVERRIDDEN"
	MatchReset          Kind = "MATCH_RESET"
	WinnerAdvanced      Kind = "WINNER_ADVANCED"
	RoundGenerated      Kind = "ROUND_GENERATED"
	ReportExported      Kind = "REPORT_EXPORTED"
	ConcurrencyAnomaly  Kind = "CONCURRENCY_ANOMALY"
)

// Event is a domain event published after the state change it describes has committed.
type Event struct {
	Kind         Kind      `json:"type"`
	TournamentID uuid.UUID `json:"tournamentId"`
	MatchID      string    `json:"matchId,omitempty"`
	Round        int       `json:"round,omitempty"`
	Actor        string    `json:"actor,omitempty"`
	Winner       string    `json:"winner,omitempty"`
	Loser        string    `json:"loser,omitempty"`
	Score        string    `json:"score,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	At           time.Time `json:"at"`
}

type Handler func(ctx context.Context, e Event) error

type subscriber struct {
	name    string
	handler Handler
}

// Bus is an in-process publish/subscribe queue. Publish never blocks the caller: when the
// buffer is full or the bus is closed the event is dropped and counted.
type Bus struct {
	queue       chan Event
	mu          sync.RWMutex
	subscribers []subscriber
	started     bool
	closed      bool
	done        chan struct{}
	once        sync.Once
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	return &Bus{
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
}

// Subscribe must be called before Start.
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, subscriber{name: name, handler: handler})
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		slog.Warn("event dropped, bus closed", "kind", e.Kind, "tournament_id", e.TournamentID)
		metrics.EventsDropped.WithLabelValues(string(e.Kind)).Inc()
		return
	}

	select {
	case b.queue <- e:
	default:
		slog.Warn("event dropped, bus full", "kind", e.Kind, "tournament_id", e.TournamentID)
		metrics.EventsDropped.WithLabelValues(string(e.Kind)).Inc()
	}
}

// Start delivers events to subscribers in publish order on a single goroutine.
// Handlers get ctx without its cancellation: events queued when shutdown begins are
// still delivered by Close.
func (b *Bus) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true

	go func() {
		defer close(b.done)
		for e := range b.queue {
			b.dispatch(ctx, e)
		}
	}()
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	b.mu.RLock()
	subscribers := b.subscribers
	b.mu.RUnlock()

	for _, s := range subscribers {
		if err := s.handler(ctx, e); err != nil {
			slog.Warn("event handler failed", "subscriber", s.name, "kind", e.Kind, "tournament_id", e.TournamentID, "error", err)
		}
	}
}

// Close stops accepting events and waits until everything queued has been delivered.
func (b *Bus) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		if !b.started {
			close(b.done)
		}
		b.mu.Unlock()
	})
	<-b.done
}
