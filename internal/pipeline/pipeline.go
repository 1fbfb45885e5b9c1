// Package pipeline orchestrates the ingestion runs: newsletter emails
// through the LLM extractor, and venue sites through the scrapers, both
// converging on the same sinks.
package pipeline

import (
	"context"
	"log/slog"

	"culturesync/internal/extractor"
	"culturesync/internal/google"
	"culturesync/internal/models"
	"culturesync/internal/pgstore"
)

// State names one phase of a run. Transitions are logged so a run's
// progress can be followed from the output alone.
type State string

const (
	StateIdle          State = "idle"
	StateLoadingLedger State = "loading_ledger"
	StateExtracting    State = "extracting"
	StateNormalizing   State = "normalizing"
	StateWriting       State = "writing"
	StateMarking       State = "marking_processed"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// runContext carries the per-run state explicitly instead of through
// process-wide globals.
type runContext struct {
	logger *slog.Logger
	state  State
}

func newRunContext(logger *slog.Logger) *runContext {
	return &runContext{logger: logger, state: StateIdle}
}

func (rc *runContext) transition(s State) {
	rc.logger.Debug("Run state changed.", "from", string(rc.state), "to", string(s))
	rc.state = s
}

// Mailbox supplies newsletter messages for a lookback window.
type Mailbox interface {
	FetchMessages(ctx context.Context, days int) ([]google.Message, error)
}

// Extractor is the structured-extraction oracle for email text.
type Extractor interface {
	Extract(ctx context.Context, subject, body string) (*extractor.Result, error)
}

// SheetSink is the append-only spreadsheet sink.
type SheetSink interface {
	Append(ctx context.Context, events []models.Event) error
}

// TableSink is the relational sink: idempotent event upsert plus the
// run manifest and the remote half of the ledger.
type TableSink interface {
	Enabled() bool
	UpsertEvents(ctx context.Context, rows []models.Row) error
	ExistingKeys(ctx context.Context, sourceType, from, to string) (map[string]bool, error)
	StartRun(ctx context.Context, totalScraped int) string
	FinishRun(ctx context.Context, id string, outcome pgstore.RunOutcome)
}

// ItemLedger tracks which input items have already been processed.
type ItemLedger interface {
	Load(ctx context.Context) error
	Processed(id string) bool
	MarkProcessed(ctx context.Context, id, subject, sender string)
	Save() error
}
