package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"culturesync/internal/models"
)

func scrapedEvent(title, rawDate string) models.Event {
	return models.Event{
		SourceName: "Test Venue",
		SourceType: models.SourceTypeScraper,
		Title:      title,
		RawDate:    rawDate,
	}
}

func staticScrape(events []models.Event) func(ctx context.Context) []models.Event {
	return func(ctx context.Context) []models.Event {
		return events
	}
}

func TestScrapePipelineSkipAccounting(t *testing.T) {
	// 10 candidates, 3 with unparseable dates: 7 rows persist, 3 are
	// counted as skipped, none is written with a null date.
	var candidates []models.Event
	for i := 1; i <= 7; i++ {
		candidates = append(candidates, scrapedEvent(fmt.Sprintf("Show %d", i), fmt.Sprintf("di %d feb 2026, 20:00", i)))
	}
	candidates = append(candidates,
		scrapedEvent("Vague 1", "Vandaag, 20.00"),
		scrapedEvent("Vague 2", "Binnenkort"),
		scrapedEvent("Vague 3", ""),
	)

	table := &fakeTable{}
	p := NewScrapePipeline(testLogger(), staticScrape(candidates), table, false)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(table.upserted) != 7 {
		t.Fatalf("expected 7 persisted rows, got %d", len(table.upserted))
	}
	for _, row := range table.upserted {
		if row.Date == "" {
			t.Fatalf("row with empty date reached the sink: %+v", row)
		}
	}
	if len(table.finished) != 1 {
		t.Fatalf("expected one manifest update, got %d", len(table.finished))
	}
	outcome := table.finished[0]
	if outcome.Failed {
		t.Fatalf("run should have completed, got failed outcome: %+v", outcome)
	}
	if outcome.SkippedDates != 3 {
		t.Fatalf("skipped_unparseable_dates = %d, want 3", outcome.SkippedDates)
	}
	if outcome.ParsedRows != 7 {
		t.Fatalf("parsed_rows = %d, want 7", outcome.ParsedRows)
	}
}

func TestScrapePipelineIdentityDedup(t *testing.T) {
	candidates := []models.Event{
		scrapedEvent("Foo", "di 10 feb 2026"),
		scrapedEvent("foo ", "di 10 feb 2026"),
	}
	table := &fakeTable{}
	p := NewScrapePipeline(testLogger(), staticScrape(candidates), table, false)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(table.upserted) != 1 {
		t.Fatalf("expected exactly one row for equal identity keys, got %d", len(table.upserted))
	}
}

func TestScrapePipelineNewEventEstimate(t *testing.T) {
	candidates := []models.Event{
		scrapedEvent("Known Show", "di 10 feb 2026"),
		scrapedEvent("Fresh Show", "wo 11 feb 2026"),
	}
	table := &fakeTable{existing: map[string]bool{
		models.Key("Known Show", "2026-02-10"): true,
	}}
	p := NewScrapePipeline(testLogger(), staticScrape(candidates), table, false)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(table.finished) != 1 {
		t.Fatalf("expected one manifest update, got %d", len(table.finished))
	}
	if got := table.finished[0].NewEstimated; got != 1 {
		t.Fatalf("new_events_estimated = %d, want 1", got)
	}
}

func TestScrapePipelineEmptyBatchStillRecordsManifest(t *testing.T) {
	table := &fakeTable{}
	p := NewScrapePipeline(testLogger(), staticScrape(nil), table, false)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if table.runs != 1 || len(table.finished) != 1 {
		t.Fatalf("expected a manifest row even for an empty batch, runs=%d finished=%d", table.runs, len(table.finished))
	}
	if got := table.finished[0].NewEstimated; got != 0 {
		t.Fatalf("new_events_estimated = %d, want 0", got)
	}
}

func TestScrapePipelineUpsertFailureRecordsFailedRun(t *testing.T) {
	candidates := []models.Event{scrapedEvent("Show", "di 10 feb 2026")}
	table := &fakeTable{upsertErr: errors.New("relation does not exist")}
	p := NewScrapePipeline(testLogger(), staticScrape(candidates), table, false)

	if err := p.Run(context.Background()); err == nil {
		t.Fatal("upsert failure must fail the run")
	}
	if len(table.finished) != 1 {
		t.Fatalf("failed run must still update the manifest, got %d updates", len(table.finished))
	}
	outcome := table.finished[0]
	if !outcome.Failed {
		t.Fatal("manifest must record failed status")
	}
	if outcome.ErrorMessage == "" {
		t.Fatal("manifest must record the error message")
	}
}

func TestScrapePipelineDryRunWritesNothing(t *testing.T) {
	candidates := []models.Event{scrapedEvent("Show", "di 10 feb 2026")}
	table := &fakeTable{}
	p := NewScrapePipeline(testLogger(), staticScrape(candidates), table, true)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if table.runs != 0 || table.upsertCalls != 0 {
		t.Fatal("dry run must not touch the table sink")
	}
}

func TestScrapePipelineDropsInvalidCandidates(t *testing.T) {
	candidates := []models.Event{
		{SourceType: models.SourceTypeScraper, Title: "No Source", RawDate: "di 10 feb 2026"},
		scrapedEvent("Valid", "di 10 feb 2026"),
	}
	table := &fakeTable{}
	p := NewScrapePipeline(testLogger(), staticScrape(candidates), table, false)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(table.upserted) != 1 || table.upserted[0].Title != "Valid" {
		t.Fatalf("invalid candidate must be dropped at the boundary, got %+v", table.upserted)
	}
}
