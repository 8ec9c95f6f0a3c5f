package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdamBeresnev/op-bracket/internal/bracket"
	"github.com/AdamBeresnev/op-bracket/internal/events"
	"github.com/AdamBeresnev/op-bracket/internal/utils"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet  = "Summary"
	timelineSheet = "Timeline"
)

// ReportService exports a tournament as an xlsx workbook.
type ReportService struct {
	tournaments *TournamentService
	publisher   Publisher
	now         func() time.Time
}

func NewReportService(tournaments *TournamentService, publisher Publisher) *ReportService {
	return &ReportService{tournaments: tournaments, publisher: publisher, now: utcNow}
}

// Export builds a workbook with a summary sheet, one sheet per generated round and the timeline.
func (s *ReportService) Export(ctx context.Context, tournamentID uuid.UUID, actor string) ([]byte, error) {
	data, err := s.tournaments.GetTournamentData(ctx, tournamentID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if err := writeSummary(f, data); err != nil {
		return nil, fmt.Errorf("failed to write summary: %w", err)
	}

	rounds := make(map[int][]bracket.Match)
	for _, m := range data.Matches {
		rounds[m.Round] = append(rounds[m.Round], m)
	}
	for round := 1; round <= data.Tournament.TotalRounds; round++ {
		matches, ok := rounds[round]
		if !ok {
			continue
		}
		if err := writeRound(f, round, matches); err != nil {
			return nil, fmt.Errorf("failed to write round %d: %w", round, err)
		}
	}

	if err := writeTimeline(f, data.Timeline); err != nil {
		return nil, fmt.Errorf("failed to write timeline: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(events.Event{
		Kind:         events.ReportExported,
		TournamentID: data.Tournament.ID,
		Actor:        actor,
		At:           s.now(),
	})
	slog.Info("report exported", "tournament_id", data.Tournament.ID, "actor", actor, "bytes", buf.Len())
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, data *TournamentData) error {
	t := data.Tournament
	rows := [][]any{
		{"Name", t.Name},
		{"Game", t.Game},
		{"Status", string(t.Status)},
		{"Players", t.MaxPlayers},
		{"Rounds", t.TotalRounds},
		{"Current round", t.CurrentRound},
		{"Seeding", string(t.SeedingMode)},
		{"Champion", utils.OrZero(t.Champion)},
		{"Registered players", len(data.Registrations)},
	}
	return writeRows(f, summarySheet, rows)
}

func writeRound(f *excelize.File, round int, matches []bracket.Match) error {
	sheet := fmt.Sprintf("Round %d", round)
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	rows := [][]any{{"Match", "Player A", "Player B", "Score A", "Score B", "Winner", "Status", "Reported by", "Admin verified", "Next match"}}
	for _, m := range matches {
		rows = append(rows, []any{
			m.ID,
			playerOrTBD(m.PlayerA),
			playerOrTBD(m.PlayerB),
			scoreCell(m.ScoreA),
			scoreCell(m.ScoreB),
			utils.OrZero(m.Winner),
			string(m.Status),
			utils.OrZero(m.ReportedBy),
			m.VerifiedByAdmin,
			utils.OrZero(m.NextMatchID),
		})
	}
	return writeRows(f, sheet, rows)
}

func writeTimeline(f *excelize.File, entries []bracket.TimelineEntry) error {
	if _, err := f.NewSheet(timelineSheet); err != nil {
		return err
	}
	rows := [][]any{{"Timestamp", "Action", "Actor"}}
	for _, e := range entries {
		rows = append(rows, []any{e.CreatedAt.Format(time.RFC3339), e.Action, e.Actor})
	}
	return writeRows(f, timelineSheet, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func playerOrTBD(p *string) string {
	if p == nil {
		return "TBD"
	}
	return *p
}

func scoreCell(score *int) any {
	if score == nil {
		return ""
	}
	return *score
}
