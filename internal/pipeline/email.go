package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"culturesync/internal/extractor"
	"culturesync/internal/models"
)

// EmailPipeline runs the newsletter ingestion: mailbox search, LLM
// extraction, sink writes and ledger bookkeeping.
type EmailPipeline struct {
	logger    *slog.Logger
	mailbox   Mailbox
	extractor Extractor
	ledger    ItemLedger
	sheets    SheetSink
	table     TableSink
	days      int
	dryRun    bool
}

// NewEmailPipeline wires the newsletter pipeline. sheets and table may
// each be nil when that sink is not configured.
func NewEmailPipeline(logger *slog.Logger, mailbox Mailbox, ex Extractor, ledger ItemLedger, sheets SheetSink, table TableSink, days int, dryRun bool) *EmailPipeline {
	return &EmailPipeline{
		logger:    logger,
		mailbox:   mailbox,
		extractor: ex,
		ledger:    ledger,
		sheets:    sheets,
		table:     table,
		days:      days,
		dryRun:    dryRun,
	}
}

// visited is one email that was successfully routed through extraction
// and may be marked processed once the sinks have been written.
type visited struct {
	id      string
	subject string
	sender  string
}

// Run executes one newsletter ingestion cycle. Per-item extraction
// failures are skipped and logged; a sink failure fails the run after
// the other sink's completed write is left standing, and no item is
// marked processed. Marking strictly follows successful writes, so a
// crash mid-run can only cause reprocessing, never a lost item.
func (p *EmailPipeline) Run(ctx context.Context) error {
	rc := newRunContext(p.logger)

	rc.transition(StateLoadingLedger)
	if err := p.ledger.Load(ctx); err != nil {
		rc.transition(StateFailed)
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	rc.transition(StateExtracting)
	messages, err := p.mailbox.FetchMessages(ctx, p.days)
	if err != nil {
		rc.transition(StateFailed)
		return fmt.Errorf("failed to fetch mailbox messages: %w", err)
	}
	if len(messages) == 0 {
		p.logger.Info("No messages in lookback window.")
		rc.transition(StateDone)
		return nil
	}

	var events []models.Event
	var done []visited
	for _, msg := range messages {
		if p.ledger.Processed(msg.ID) {
			p.logger.Debug("Skipping already-processed message.", "id", msg.ID)
			continue
		}
		p.logger.Info("Processing message.", "subject", msg.Subject, "from", msg.Sender)

		if strings.TrimSpace(msg.Text) == "" {
			p.logger.Info("No text extracted from message, marking processed.", "id", msg.ID)
			done = append(done, visited{msg.ID, msg.Subject, msg.Sender})
			continue
		}

		result, err := p.extractor.Extract(ctx, msg.Subject, msg.Text)
		if err != nil {
			// Bad contract JSON and transport errors are reported as
			// distinct kinds; either way the item stays unmarked and
			// will be retried next run.
			if errors.Is(err, extractor.ErrBadJSON) {
				p.logger.Warn("Extraction returned malformed JSON, skipping message.", "subject", msg.Subject, "error", err)
			} else {
				p.logger.Error("Extraction failed, skipping message.", "subject", msg.Subject, "error", err)
			}
			continue
		}

		for _, ev := range result.Events {
			event := models.Event{
				SourceName:  result.SourceName,
				SourceType:  result.SourceType,
				Title:       ev.Title,
				Type:        ev.Type,
				Dates:       ev.DatesISO,
				Description: ev.Description,
				URL:         ev.URL,
			}
			if err := event.Validate(); err != nil {
				p.logger.Warn("Dropping invalid extracted event.", "error", err)
				continue
			}
			events = append(events, event)
		}
		p.logger.Info("Extracted events from message.", "source", result.SourceName, "events", len(result.Events))
		done = append(done, visited{msg.ID, msg.Subject, msg.Sender})
	}

	if p.dryRun {
		p.logger.Info("[DRY RUN] Would write events and mark messages processed.", "events", len(events), "messages", len(done))
		rc.transition(StateDone)
		return nil
	}

	if len(events) > 0 {
		rc.transition(StateWriting)
		if err := p.writeSinks(ctx, events); err != nil {
			rc.transition(StateFailed)
			return err
		}
	} else {
		p.logger.Info("No new events extracted.")
	}

	// Items with zero events still get marked so they are not routed
	// through extraction again next run.
	rc.transition(StateMarking)
	for _, v := range done {
		p.ledger.MarkProcessed(ctx, v.id, v.subject, v.sender)
	}
	if err := p.ledger.Save(); err != nil {
		rc.transition(StateFailed)
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	p.logger.Info("Marked messages processed.", "count", len(done))

	rc.transition(StateDone)
	return nil
}

// writeSinks writes both sinks. The spreadsheet write happens first;
// if the table write then fails the spreadsheet rows stand (both sinks
// are idempotent by identity key, so a rerun cannot duplicate them).
func (p *EmailPipeline) writeSinks(ctx context.Context, events []models.Event) error {
	var firstErr error

	if p.sheets != nil {
		if err := p.sheets.Append(ctx, events); err != nil {
			p.logger.Error("Spreadsheet write failed.", "error", err)
			firstErr = fmt.Errorf("spreadsheet write failed: %w", err)
		}
	}

	var rows []models.Row
	for _, ev := range events {
		rows = append(rows, ev.Rows()...)
	}
	rows, removed := models.DedupeRows(rows)
	if removed > 0 {
		p.logger.Info("Removed duplicate rows from batch.", "removed", removed)
	}
	if p.table != nil && len(rows) > 0 {
		if err := p.table.UpsertEvents(ctx, rows); err != nil {
			p.logger.Error("Relational write failed.", "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("relational write failed: %w", err)
			}
		}
	}
	return firstErr
}
