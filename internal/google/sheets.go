package google

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"culturesync/internal/models"
)

// headerRow is the fixed column layout of the spreadsheet sink.
var headerRow = []string{"source_name", "source_type", "event_title", "event_type", "event_date", "description", "url"}

// titleColumn is the zero-based index of event_title in headerRow.
const titleColumn = 2

// SheetsSink appends event rows to a Google Sheet. The sheet has no
// native unique constraint, so the sink reads all existing rows once
// and skips titles it has already seen. It only ever appends; existing
// rows are never updated or deleted.
type SheetsSink struct {
	service       *sheets.Service
	logger        *slog.Logger
	spreadsheetID string
}

// NewSheetsSink creates an authenticated spreadsheet sink using the
// token saved by the auth command.
func NewSheetsSink(ctx context.Context, logger *slog.Logger, clientID, clientSecret, spreadsheetID string) (*SheetsSink, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("GOOGLE_SHEET_ID environment variable not set")
	}
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}
	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token: %w. Please run the 'auth' command first", err)
	}
	client := config.Client(ctx, token)
	service, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &SheetsSink{service: service, logger: logger, spreadsheetID: spreadsheetID}, nil
}

// Append writes new event rows to the sheet, creating the header row if
// the sheet is empty. Rows whose title already exists in the sheet are
// skipped; a title is added to the seen-set before its further dates
// are processed, so a multi-date event cannot duplicate itself within
// one batch either.
func (s *SheetsSink) Append(ctx context.Context, events []models.Event) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, "A:G").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read existing sheet rows: %w", err)
	}

	var toAppend [][]any
	existingTitles := make(map[string]bool)
	if len(resp.Values) == 0 {
		header := make([]any, len(headerRow))
		for i, h := range headerRow {
			header[i] = h
		}
		toAppend = append(toAppend, header)
	} else {
		for _, row := range resp.Values[1:] {
			if len(row) > titleColumn {
				if title, ok := row[titleColumn].(string); ok {
					existingTitles[title] = true
				}
			}
		}
	}

	rows := BuildSheetRows(events, existingTitles)
	toAppend = append(toAppend, rows...)

	if len(rows) == 0 {
		s.logger.Info("No new rows to write to spreadsheet.")
		if len(toAppend) == 0 {
			return nil
		}
	}

	_, err = s.service.Spreadsheets.Values.Append(s.spreadsheetID, "A:G", &sheets.ValueRange{
		Values: toAppend,
	}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append rows to sheet: %w", err)
	}

	s.logger.Info("Wrote rows to spreadsheet.", "rows", len(rows))
	return nil
}

// BuildSheetRows expands events into sheet rows, one per date, skipping
// events whose title is already in seen. Each new title is added to
// seen before its remaining dates are expanded. Descriptions are
// truncated for display.
func BuildSheetRows(events []models.Event, seen map[string]bool) [][]any {
	var rows [][]any
	for _, ev := range events {
		if seen[ev.Title] {
			continue
		}
		for _, date := range ev.Dates {
			rows = append(rows, []any{
				ev.SourceName,
				ev.SourceType,
				ev.Title,
				ev.Type,
				date,
				models.TruncateDescription(ev.Description),
				ev.URL,
			})
		}
		seen[ev.Title] = true
	}
	return rows
}
