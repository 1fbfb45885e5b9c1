package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"culturesync/internal/dutchdate"
	"culturesync/internal/models"
	"culturesync/internal/pgstore"
)

// ScrapePipeline runs the venue-site ingestion: scraping, date
// normalization, batch dedup and the manifest-tracked table write.
type ScrapePipeline struct {
	logger *slog.Logger
	scrape func(ctx context.Context) []models.Event
	table  TableSink
	dryRun bool
}

// NewScrapePipeline wires the scraper pipeline. scrape runs all venue
// adapters and returns the combined raw candidates.
func NewScrapePipeline(logger *slog.Logger, scrape func(ctx context.Context) []models.Event, table TableSink, dryRun bool) *ScrapePipeline {
	return &ScrapePipeline{logger: logger, scrape: scrape, table: table, dryRun: dryRun}
}

// Run executes one scrape-and-sync cycle. Every attempt gets a run
// manifest row (best-effort); candidates with unparseable dates are
// counted as skipped and never written. The new-event estimate compares
// the batch against existing rows in the batch's date window — it is
// advisory telemetry and racy under concurrent runs, never a
// correctness gate.
func (p *ScrapePipeline) Run(ctx context.Context) error {
	rc := newRunContext(p.logger)

	rc.transition(StateExtracting)
	candidates := p.scrape(ctx)
	p.logger.Info("Scraping finished.", "candidates", len(candidates))

	rc.transition(StateNormalizing)
	rows, skipped := normalizeCandidates(p.logger, candidates)
	rows, removed := models.DedupeRows(rows)
	if removed > 0 {
		p.logger.Info("Removed duplicate rows from batch.", "removed", removed)
	}
	p.logger.Info("Normalized scraped candidates.", "rows", len(rows), "skipped_unparseable_dates", skipped)

	if p.dryRun {
		p.logger.Info("[DRY RUN] Would upsert rows.", "rows", len(rows))
		rc.transition(StateDone)
		return nil
	}

	rc.transition(StateWriting)
	runID := p.table.StartRun(ctx, len(candidates))
	estimate := p.estimateNew(ctx, rows)

	if err := p.table.UpsertEvents(ctx, rows); err != nil {
		p.table.FinishRun(ctx, runID, pgstore.RunOutcome{
			Failed:       true,
			ParsedRows:   len(rows),
			SkippedDates: skipped,
			NewEstimated: estimate,
			ErrorMessage: err.Error(),
		})
		rc.transition(StateFailed)
		return fmt.Errorf("failed to upsert scraped events: %w", err)
	}

	p.table.FinishRun(ctx, runID, pgstore.RunOutcome{
		ParsedRows:   len(rows),
		SkippedDates: skipped,
		NewEstimated: estimate,
	})

	p.logger.Info("Scrape sync finished.", "rows", len(rows), "skipped_unparseable_dates", skipped, "new_events_estimated", estimate)
	rc.transition(StateDone)
	return nil
}

// normalizeCandidates resolves raw date strings into ISO dates and
// expands events into rows. A candidate whose date cannot be resolved
// is counted as skipped, never written with a null date.
func normalizeCandidates(logger *slog.Logger, candidates []models.Event) ([]models.Row, int) {
	var rows []models.Row
	skipped := 0
	for _, ev := range candidates {
		if err := ev.Validate(); err != nil {
			logger.Warn("Dropping invalid scraped candidate.", "error", err)
			continue
		}
		if len(ev.Dates) == 0 && ev.RawDate != "" {
			if iso, ok := dutchdate.NormalizeISO(ev.RawDate); ok {
				ev.Dates = []string{iso}
			}
		}
		if len(ev.Dates) == 0 {
			logger.Debug("Skipping candidate with unparseable date.", "title", ev.Title, "raw_date", ev.RawDate)
			skipped++
			continue
		}
		rows = append(rows, ev.Rows()...)
	}
	return rows, skipped
}

// estimateNew counts batch rows whose identity key is not yet stored
// within the batch's date window. A failed lookup degrades to zero with
// a log line; the estimate feeds the manifest only.
func (p *ScrapePipeline) estimateNew(ctx context.Context, rows []models.Row) int {
	if len(rows) == 0 {
		return 0
	}
	from, to := rows[0].Date, rows[0].Date
	for _, r := range rows[1:] {
		if r.Date < from {
			from = r.Date
		}
		if r.Date > to {
			to = r.Date
		}
	}
	existing, err := p.table.ExistingKeys(ctx, models.SourceTypeScraper, from, to)
	if err != nil {
		p.logger.Warn("Could not fetch existing event keys for new-event estimate.", "error", err)
		return 0
	}
	estimate := 0
	for _, r := range rows {
		if !existing[r.Key()] {
			estimate++
		}
	}
	return estimate
}
