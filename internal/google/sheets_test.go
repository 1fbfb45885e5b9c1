package google

import (
	"testing"

	"culturesync/internal/models"
)

func TestBuildSheetRowsSkipsExistingTitles(t *testing.T) {
	events := []models.Event{
		{SourceName: "Paradiso", SourceType: models.SourceTypeNewsletter, Title: "Old Show", Dates: []string{"2026-02-10"}},
		{SourceName: "Paradiso", SourceType: models.SourceTypeNewsletter, Title: "New Show", Dates: []string{"2026-02-11", "2026-02-12"}},
	}
	seen := map[string]bool{"Old Show": true}

	rows := BuildSheetRows(events, seen)

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows (one per date of the new title), got %d", len(rows))
	}
	for _, row := range rows {
		if row[2] != "New Show" {
			t.Fatalf("existing title leaked into batch: %v", row)
		}
	}
}

func TestBuildSheetRowsIntraBatchDedup(t *testing.T) {
	// The same title arriving twice in one batch must only be written
	// once, even though the sheet has no unique constraint.
	events := []models.Event{
		{SourceName: "De Balie", SourceType: models.SourceTypeNewsletter, Title: "Debate Night", Dates: []string{"2026-03-01"}},
		{SourceName: "De Balie", SourceType: models.SourceTypeNewsletter, Title: "Debate Night", Dates: []string{"2026-03-02"}},
	}
	seen := map[string]bool{}

	rows := BuildSheetRows(events, seen)

	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0][4] != "2026-03-01" {
		t.Fatalf("expected the first occurrence to win, got %v", rows[0][4])
	}
	if !seen["Debate Night"] {
		t.Fatal("title must be added to the seen-set")
	}
}

func TestBuildSheetRowsColumnLayout(t *testing.T) {
	events := []models.Event{{
		SourceName:  "Paradiso",
		SourceType:  models.SourceTypeNewsletter,
		Title:       "Candlelight",
		Type:        "concert",
		Dates:       []string{"2026-01-19"},
		Description: "Chamber music by candlelight.",
		URL:         "https://paradiso.nl/candlelight",
	}}

	rows := BuildSheetRows(events, map[string]bool{})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	want := []any{"Paradiso", "newsletter", "Candlelight", "concert", "2026-01-19", "Chamber music by candlelight.", "https://paradiso.nl/candlelight"}
	row := rows[0]
	if len(row) != len(headerRow) {
		t.Fatalf("row width %d does not match header width %d", len(row), len(headerRow))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Fatalf("column %d = %v, want %v", i, row[i], want[i])
		}
	}
}
